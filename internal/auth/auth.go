// Package auth models who may invoke a ledger operation.
//
// Every operation receives an Origin: either a signed account (the caller
// identity, already authenticated upstream) or the privileged system
// authority. The root origin can only be obtained from an Authority value,
// so holding the Authority is the capability to perform privileged
// operations such as slashing or batch settlement.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/chain"
)

var (
	ErrBadOrigin    = fmt.Errorf("%w: operation requires a signed account", chain.ErrUnauthorized)
	ErrNotAuthority = fmt.Errorf("%w: operation requires the system authority", chain.ErrUnauthorized)
	ErrModuleOrigin = fmt.Errorf("%w: module accounts cannot sign operations", chain.ErrUnauthorized)
	ErrEmptySecret  = errors.New("authority secret must not be empty")
)

type originKind uint8

const (
	originNone originKind = iota
	originSigned
	originRoot
)

// Origin identifies the issuer of an operation.
type Origin struct {
	kind    originKind
	account common.Address
}

// Signed returns the origin for an authenticated account.
func Signed(addr common.Address) Origin {
	return Origin{kind: originSigned, account: addr}
}

// None is the origin of an unauthenticated request.
func None() Origin { return Origin{} }

// IsRoot reports whether the origin is the system authority.
func (o Origin) IsRoot() bool { return o.kind == originRoot }

// Account returns the signing account, if any.
func (o Origin) Account() (common.Address, bool) {
	return o.account, o.kind == originSigned
}

func (o Origin) String() string {
	switch o.kind {
	case originSigned:
		return o.account.Hex()
	case originRoot:
		return "root"
	default:
		return "none"
	}
}

// EnsureSigned returns the caller account. It fails with ErrBadOrigin for
// non-signed origins and ErrModuleOrigin when the account is a module account.
func EnsureSigned(o Origin) (common.Address, error) {
	if o.kind != originSigned || o.account == (common.Address{}) {
		return common.Address{}, ErrBadOrigin
	}
	if chain.IsModuleAccount(o.account) {
		return common.Address{}, ErrModuleOrigin
	}
	return o.account, nil
}

// EnsureRoot returns ErrNotAuthority unless o is the system authority.
func EnsureRoot(o Origin) error {
	if o.kind != originRoot {
		return ErrNotAuthority
	}
	return nil
}

// Authority is the capability to act as the system authority.
type Authority struct {
	digest [sha256.Size]byte
}

// NewAuthority creates the authority capability. Transports present secret
// as a bearer token to obtain the root origin.
func NewAuthority(secret string) (*Authority, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Authority{digest: sha256.Sum256([]byte(secret))}, nil
}

// Origin returns the root origin.
func (a *Authority) Origin() Origin {
	return Origin{kind: originRoot}
}

// Verify reports whether token matches the authority secret, in constant time.
func (a *Authority) Verify(token string) bool {
	if a == nil || token == "" {
		return false
	}
	d := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(d[:], a.digest[:]) == 1
}
