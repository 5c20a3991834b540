package tasks

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/validation"
)

// Operations is the committed task surface the HTTP layer drives. Each call
// is one ledger operation.
type Operations interface {
	CreateTask(ctx context.Context, origin auth.Origin, req CreateTaskRequest) (*Task, error)
	StartRecruiting(ctx context.Context, origin auth.Origin, id common.Hash) (*Task, error)
	JoinTask(ctx context.Context, origin auth.Origin, id common.Hash) (*Task, error)
	CancelTask(ctx context.Context, origin auth.Origin, id common.Hash) (*Task, error)
	BeginValidation(ctx context.Context, origin auth.Origin, id common.Hash) (*Task, error)
	CompleteTask(ctx context.Context, origin auth.Origin, id common.Hash) (*Task, error)
	FailTask(ctx context.Context, origin auth.Origin, id common.Hash) (*Task, error)
	GetTask(ctx context.Context, id common.Hash) (*Task, error)
	ListTasks(ctx context.Context, limit int) ([]*Task, error)
	ListTasksByCreator(ctx context.Context, creator common.Address, limit int) ([]*Task, error)
	TaskMembers(ctx context.Context, id common.Hash) ([]common.Address, error)
}

// Handler provides HTTP endpoints for the task ledger.
type Handler struct {
	ops Operations
}

// NewHandler creates a new tasks handler.
func NewHandler(ops Operations) *Handler {
	return &Handler{ops: ops}
}

// RegisterRoutes sets up public (read-only) task routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tasks", h.ListTasks)
	r.GET("/tasks/:id", h.GetTask)
	r.GET("/tasks/:id/members", h.ListMembers)
	r.GET("/accounts/:address/tasks", h.ListByCreator)
}

// RegisterProtectedRoutes sets up routes that need a caller account.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/tasks", h.CreateTask)
	r.POST("/tasks/:id/recruit", h.transition(Operations.StartRecruiting))
	r.POST("/tasks/:id/join", h.transition(Operations.JoinTask))
	r.POST("/tasks/:id/cancel", h.transition(Operations.CancelTask))
	r.POST("/tasks/:id/complete", h.transition(Operations.CompleteTask))
}

// RegisterAuthorityRoutes sets up routes reserved for the system authority.
func (h *Handler) RegisterAuthorityRoutes(r *gin.RouterGroup) {
	r.POST("/tasks/:id/validate", h.transition(Operations.BeginValidation))
	r.POST("/tasks/:id/fail", h.transition(Operations.FailTask))
}

// CreateTask handles POST /v1/tasks
func (h *Handler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if !validation.BindJSON(c, &req) {
		return
	}

	task, err := h.ops.CreateTask(c.Request.Context(), auth.OriginFrom(c), req)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"task": task})
}

type transitionFunc func(Operations, context.Context, auth.Origin, common.Hash) (*Task, error)

// transition builds a handler for POST /v1/tasks/:id/<action>.
func (h *Handler) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := validation.ParamHash(c, "id")
		if !ok {
			return
		}

		task, err := fn(h.ops, c.Request.Context(), auth.OriginFrom(c), id)
		if err != nil {
			validation.WriteError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"task": task})
	}
}

// GetTask handles GET /v1/tasks/:id
func (h *Handler) GetTask(c *gin.Context) {
	id, ok := validation.ParamHash(c, "id")
	if !ok {
		return
	}

	task, err := h.ops.GetTask(c.Request.Context(), id)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": task})
}

// ListTasks handles GET /v1/tasks
func (h *Handler) ListTasks(c *gin.Context) {
	limit := validation.Limit(c, 50, 200)

	list, err := h.ops.ListTasks(c.Request.Context(), limit)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": list, "count": len(list)})
}

// ListByCreator handles GET /v1/accounts/:address/tasks
func (h *Handler) ListByCreator(c *gin.Context) {
	creator, ok := validation.ParamAddress(c, "address")
	if !ok {
		return
	}

	list, err := h.ops.ListTasksByCreator(c.Request.Context(), creator, validation.Limit(c, 50, 200))
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tasks": list, "count": len(list)})
}

// ListMembers handles GET /v1/tasks/:id/members
func (h *Handler) ListMembers(c *gin.Context) {
	id, ok := validation.ParamHash(c, "id")
	if !ok {
		return
	}

	members, err := h.ops.TaskMembers(c.Request.Context(), id)
	if err != nil {
		validation.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members, "count": len(members)})
}
