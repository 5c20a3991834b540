package chain

import (
	"errors"
	"net/http"
)

// Error kinds. Every module error wraps exactly one of these so transports
// can map failures without knowing each module's sentinels.
var (
	ErrInvalid      = errors.New("invalid argument")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrState        = errors.New("invalid state")
	ErrFunds        = errors.New("insufficient funds")
	ErrCommit       = errors.New("commit failed")
	ErrPanic        = errors.New("operation panicked")
)

// Classify maps an error to an HTTP status and a stable machine-readable code.
func Classify(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, ErrFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
