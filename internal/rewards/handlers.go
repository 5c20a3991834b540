package rewards

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/validation"
)

// Operations is the committed reward ledger surface the HTTP layer drives.
type Operations interface {
	CreateBatch(ctx context.Context, origin auth.Origin, req CreateBatchRequest) (*Batch, error)
	SubmitRewards(ctx context.Context, origin auth.Origin, batchID common.Hash, rewards []RewardInput) (*Batch, error)
	SettleBatch(ctx context.Context, origin auth.Origin, batchID common.Hash) (*Settlement, error)
	ClaimRewards(ctx context.Context, origin auth.Origin) (amount.Amount, error)
	PeriodicSettlement(ctx context.Context, origin auth.Origin) (*SweepResult, error)
	GetBatch(ctx context.Context, id common.Hash) (*Batch, error)
	ListBatches(ctx context.Context, limit int) ([]*Batch, error)
	BatchRewards(ctx context.Context, id common.Hash) ([]*ProviderReward, error)
	PendingReward(ctx context.Context, provider common.Address) (amount.Amount, error)
	RewardStats(ctx context.Context) (*Stats, error)
}

// Handler provides HTTP endpoints for the reward ledger.
type Handler struct {
	ops Operations
}

// NewHandler creates a new rewards handler.
func NewHandler(ops Operations) *Handler {
	return &Handler{ops: ops}
}

// RegisterRoutes sets up public (read-only) reward routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/batches", h.ListBatches)
	r.GET("/batches/:id", h.GetBatch)
	r.GET("/batches/:id/rewards", h.ListRewards)
	r.GET("/accounts/:address/rewards", h.GetPending)
	r.GET("/rewards/stats", h.GetStats)
	r.GET("/rewards/calculate", h.Calculate)
}

// RegisterProtectedRoutes sets up routes that need a caller account.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/batches", h.CreateBatch)
	r.POST("/batches/:id/rewards", h.SubmitRewards)
	r.POST("/rewards/claim", h.Claim)
	r.POST("/rewards/settle", h.Sweep)
}

// RegisterAuthorityRoutes sets up routes reserved for the system authority.
func (h *Handler) RegisterAuthorityRoutes(r *gin.RouterGroup) {
	r.POST("/batches/:id/settle", h.Settle)
}

// CreateBatch handles POST /v1/batches
func (h *Handler) CreateBatch(c *gin.Context) {
	var req CreateBatchRequest
	if !validation.BindJSON(c, &req) {
		return
	}

	b, err := h.ops.CreateBatch(c.Request.Context(), auth.OriginFrom(c), req)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"batch": b})
}

// SubmitRewards handles POST /v1/batches/:id/rewards
func (h *Handler) SubmitRewards(c *gin.Context) {
	id, ok := validation.ParamHash(c, "id")
	if !ok {
		return
	}
	var req SubmitRewardsRequest
	if !validation.BindJSON(c, &req) {
		return
	}

	b, err := h.ops.SubmitRewards(c.Request.Context(), auth.OriginFrom(c), id, req.Rewards)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch": b})
}

// Settle handles POST /v1/admin/batches/:id/settle
func (h *Handler) Settle(c *gin.Context) {
	id, ok := validation.ParamHash(c, "id")
	if !ok {
		return
	}

	res, err := h.ops.SettleBatch(c.Request.Context(), auth.OriginFrom(c), id)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"settlement": res})
}

// Claim handles POST /v1/rewards/claim
func (h *Handler) Claim(c *gin.Context) {
	paid, err := h.ops.ClaimRewards(c.Request.Context(), auth.OriginFrom(c))
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"claimed": paid})
}

// Sweep handles POST /v1/rewards/settle
func (h *Handler) Sweep(c *gin.Context) {
	res, err := h.ops.PeriodicSettlement(c.Request.Context(), auth.OriginFrom(c))
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sweep": res})
}

// GetBatch handles GET /v1/batches/:id
func (h *Handler) GetBatch(c *gin.Context) {
	id, ok := validation.ParamHash(c, "id")
	if !ok {
		return
	}

	b, err := h.ops.GetBatch(c.Request.Context(), id)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch": b})
}

// ListBatches handles GET /v1/batches
func (h *Handler) ListBatches(c *gin.Context) {
	list, err := h.ops.ListBatches(c.Request.Context(), validation.Limit(c, 50, 200))
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"batches": list, "count": len(list)})
}

// ListRewards handles GET /v1/batches/:id/rewards
func (h *Handler) ListRewards(c *gin.Context) {
	id, ok := validation.ParamHash(c, "id")
	if !ok {
		return
	}

	entries, err := h.ops.BatchRewards(c.Request.Context(), id)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rewards": entries, "count": len(entries)})
}

// GetPending handles GET /v1/accounts/:address/rewards
func (h *Handler) GetPending(c *gin.Context) {
	addr, ok := validation.ParamAddress(c, "address")
	if !ok {
		return
	}

	pending, err := h.ops.PendingReward(c.Request.Context(), addr)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"provider": addr, "pending": pending})
}

// GetStats handles GET /v1/rewards/stats
func (h *Handler) GetStats(c *gin.Context) {
	st, err := h.ops.RewardStats(c.Request.Context())
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": st})
}

// CalculateQuery holds the query parameters of GET /v1/rewards/calculate.
type CalculateQuery struct {
	Bounty             string `form:"bounty" binding:"required"`
	Contribution       uint64 `form:"contribution"`
	TotalContribution  uint64 `form:"totalContribution"`
	QualityScore       uint32 `form:"quality"`
	HardwareMultiplier uint32 `form:"hardwareMultiplier"`
}

// Calculate handles GET /v1/rewards/calculate
func (h *Handler) Calculate(c *gin.Context) {
	q := CalculateQuery{HardwareMultiplier: HardwareMultiplierBase, QualityScore: MaxQualityScore}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	bounty, ok := amount.Parse(q.Bounty)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "bounty must be a decimal amount"})
		return
	}

	r := CalculateReward(bounty, q.Contribution, q.TotalContribution, q.QualityScore, q.HardwareMultiplier)
	c.JSON(http.StatusOK, gin.H{"reward": r})
}
