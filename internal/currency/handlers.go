package currency

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/validation"
)

// Operations is the committed currency surface the HTTP layer drives.
type Operations interface {
	Transfer(ctx context.Context, origin auth.Origin, to common.Address, amt amount.Amount) error
	Deposit(ctx context.Context, origin auth.Origin, who common.Address, amt amount.Amount) error
	Balance(ctx context.Context, who common.Address) (*Balance, error)
	Accounts(ctx context.Context, limit int) ([]*Balance, error)
	TotalIssuance(ctx context.Context) (amount.Amount, error)
}

// Handler provides HTTP endpoints for balances.
type Handler struct {
	ops Operations
}

// NewHandler creates a new currency handler.
func NewHandler(ops Operations) *Handler {
	return &Handler{ops: ops}
}

// RegisterRoutes sets up public (read-only) balance routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts", h.ListAccounts)
	r.GET("/accounts/:address", h.GetBalance)
	r.GET("/supply", h.GetSupply)
}

// RegisterProtectedRoutes sets up routes that need a caller account.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/accounts/transfer", h.Transfer)
}

// RegisterAuthorityRoutes sets up routes reserved for the system authority.
func (h *Handler) RegisterAuthorityRoutes(r *gin.RouterGroup) {
	r.POST("/deposit", h.Deposit)
}

func parseTransfer(c *gin.Context, rawAddr, rawAmount string) (common.Address, amount.Amount, bool) {
	if !validation.IsValidEthAddress(rawAddr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": "address must be 0x + 40 hex chars"})
		return common.Address{}, amount.Zero(), false
	}
	amt, ok := amount.Parse(rawAmount)
	if !ok || amt.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "amount must be a positive decimal with at most 6 places"})
		return common.Address{}, amount.Zero(), false
	}
	return common.HexToAddress(rawAddr), amt, true
}

// Transfer handles POST /v1/accounts/transfer
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if !validation.BindJSON(c, &req) {
		return
	}
	to, amt, ok := parseTransfer(c, req.To, req.Amount)
	if !ok {
		return
	}

	if err := h.ops.Transfer(c.Request.Context(), auth.OriginFrom(c), to, amt); err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"to": to, "amount": amt})
}

// Deposit handles POST /v1/admin/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if !validation.BindJSON(c, &req) {
		return
	}
	who, amt, ok := parseTransfer(c, req.Account, req.Amount)
	if !ok {
		return
	}

	if err := h.ops.Deposit(c.Request.Context(), auth.OriginFrom(c), who, amt); err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": who, "amount": amt})
}

// GetBalance handles GET /v1/accounts/:address
func (h *Handler) GetBalance(c *gin.Context) {
	addr, ok := validation.ParamAddress(c, "address")
	if !ok {
		return
	}

	b, err := h.ops.Balance(c.Request.Context(), addr)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": b})
}

// ListAccounts handles GET /v1/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	list, err := h.ops.Accounts(c.Request.Context(), validation.Limit(c, 50, 500))
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": list, "count": len(list)})
}

// GetSupply handles GET /v1/supply
func (h *Handler) GetSupply(c *gin.Context) {
	total, err := h.ops.TotalIssuance(c.Request.Context())
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"totalIssuance": total})
}
