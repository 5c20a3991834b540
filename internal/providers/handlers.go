package providers

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/validation"
)

// Operations is the committed stake ledger surface the HTTP layer drives.
type Operations interface {
	RegisterProvider(ctx context.Context, origin auth.Origin, req RegisterRequest) (*Provider, error)
	UpdateHardware(ctx context.Context, origin auth.Origin, hw Hardware) (*Provider, error)
	StartUnbonding(ctx context.Context, origin auth.Origin) (*Provider, error)
	WithdrawStake(ctx context.Context, origin auth.Origin) (amount.Amount, error)
	SlashProvider(ctx context.Context, origin auth.Origin, provider common.Address, reason SlashReason) (*SlashRecord, error)
	UpdateReputation(ctx context.Context, origin auth.Origin, provider common.Address, score uint32) (*Provider, error)
	UpdateProviderStatus(ctx context.Context, origin auth.Origin, provider common.Address, status Status) (*Provider, error)
	GetProvider(ctx context.Context, addr common.Address) (*Provider, error)
	ListProviders(ctx context.Context, limit int) ([]*Provider, error)
	SlashHistory(ctx context.Context, addr common.Address, limit int) ([]*SlashRecord, error)
}

// Handler provides HTTP endpoints for the stake ledger.
type Handler struct {
	ops Operations
}

// NewHandler creates a new providers handler.
func NewHandler(ops Operations) *Handler {
	return &Handler{ops: ops}
}

// RegisterRoutes sets up public (read-only) provider routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/providers", h.ListProviders)
	r.GET("/providers/:address", h.GetProvider)
	r.GET("/providers/:address/slashes", h.ListSlashes)
}

// RegisterProtectedRoutes sets up routes acting on the caller's own provider entry.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/providers", h.Register)
	r.PUT("/providers/me/hardware", h.UpdateHardware)
	r.POST("/providers/me/unbond", h.StartUnbonding)
	r.POST("/providers/me/withdraw", h.Withdraw)
}

// RegisterAuthorityRoutes sets up routes reserved for the system authority.
func (h *Handler) RegisterAuthorityRoutes(r *gin.RouterGroup) {
	r.POST("/providers/:address/slash", h.Slash)
	r.POST("/providers/:address/reputation", h.UpdateReputation)
	r.POST("/providers/:address/status", h.UpdateStatus)
}

// Register handles POST /v1/providers
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if !validation.BindJSON(c, &req) {
		return
	}

	p, err := h.ops.RegisterProvider(c.Request.Context(), auth.OriginFrom(c), req)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"provider": p})
}

// UpdateHardware handles PUT /v1/providers/me/hardware
func (h *Handler) UpdateHardware(c *gin.Context) {
	var hw Hardware
	if !validation.BindJSON(c, &hw) {
		return
	}

	p, err := h.ops.UpdateHardware(c.Request.Context(), auth.OriginFrom(c), hw)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": p})
}

// StartUnbonding handles POST /v1/providers/me/unbond
func (h *Handler) StartUnbonding(c *gin.Context) {
	p, err := h.ops.StartUnbonding(c.Request.Context(), auth.OriginFrom(c))
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": p, "unbondingAt": p.UnbondingAt})
}

// Withdraw handles POST /v1/providers/me/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	returned, err := h.ops.WithdrawStake(c.Request.Context(), auth.OriginFrom(c))
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"returned": returned})
}

// Slash handles POST /v1/admin/providers/:address/slash
func (h *Handler) Slash(c *gin.Context) {
	addr, ok := validation.ParamAddress(c, "address")
	if !ok {
		return
	}
	var req SlashRequest
	if !validation.BindJSON(c, &req) {
		return
	}

	rec, err := h.ops.SlashProvider(c.Request.Context(), auth.OriginFrom(c), addr, req.Reason)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"slash": rec})
}

// UpdateReputation handles POST /v1/admin/providers/:address/reputation
func (h *Handler) UpdateReputation(c *gin.Context) {
	addr, ok := validation.ParamAddress(c, "address")
	if !ok {
		return
	}
	var req ReputationRequest
	if !validation.BindJSON(c, &req) {
		return
	}

	p, err := h.ops.UpdateReputation(c.Request.Context(), auth.OriginFrom(c), addr, req.Score)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": p})
}

// UpdateStatus handles POST /v1/admin/providers/:address/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	addr, ok := validation.ParamAddress(c, "address")
	if !ok {
		return
	}
	var req StatusRequest
	if !validation.BindJSON(c, &req) {
		return
	}

	p, err := h.ops.UpdateProviderStatus(c.Request.Context(), auth.OriginFrom(c), addr, req.Status)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": p})
}

// GetProvider handles GET /v1/providers/:address
func (h *Handler) GetProvider(c *gin.Context) {
	addr, ok := validation.ParamAddress(c, "address")
	if !ok {
		return
	}

	p, err := h.ops.GetProvider(c.Request.Context(), addr)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": p})
}

// ListProviders handles GET /v1/providers
func (h *Handler) ListProviders(c *gin.Context) {
	list, err := h.ops.ListProviders(c.Request.Context(), validation.Limit(c, 50, 500))
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"providers": list, "count": len(list)})
}

// ListSlashes handles GET /v1/providers/:address/slashes
func (h *Handler) ListSlashes(c *gin.Context) {
	addr, ok := validation.ParamAddress(c, "address")
	if !ok {
		return
	}

	history, err := h.ops.SlashHistory(c.Request.Context(), addr, validation.Limit(c, 50, 500))
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"slashes": history, "count": len(history)})
}
