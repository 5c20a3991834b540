package tasks

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/currency"
	"github.com/mbd888/computeledger/internal/events"
)

// Service implements the task ledger.
type Service struct {
	cfg      Config
	currency currency.Ledger
}

// NewService creates a task ledger over the currency service.
func NewService(cfg Config, ledger currency.Ledger) *Service {
	return &Service{cfg: cfg, currency: ledger}
}

// Config returns the deployment constants in use.
func (s *Service) Config() Config { return s.cfg }

// EscrowAccount is where completed bounties are moved.
func (s *Service) EscrowAccount() common.Address { return s.cfg.EscrowAccount }

// TaskID derives the identity of the creator's task created when the global
// task count was n.
func TaskID(creator common.Address, n uint64) common.Hash {
	return chain.Hash(creator.Bytes(), chain.Uint64Bytes(n))
}

// CreateTask reserves the bounty from the caller and records a pending task.
func (s *Service) CreateTask(c *chain.Context, origin auth.Origin, req CreateTaskRequest) (*Task, error) {
	creator, err := auth.EnsureSigned(origin)
	if err != nil {
		return nil, err
	}

	if req.Bounty.Lt(s.cfg.MinimumBounty) {
		return nil, fmt.Errorf("%w: minimum is %s", ErrBountyTooLow, s.cfg.MinimumBounty)
	}
	if req.MaxProviders > s.cfg.MaxProvidersPerTask {
		return nil, fmt.Errorf("%w: cap is %d", ErrTooManyProviders, s.cfg.MaxProvidersPerTask)
	}
	if req.MinProviders == 0 || req.MinProviders > req.MaxProviders {
		return nil, ErrInvalidProviderRange
	}
	if len(req.Name) > MaxNameLength {
		return nil, ErrNameTooLong
	}
	if len(req.DatasetRef) > MaxDatasetRefLength {
		return nil, ErrDatasetRefTooLong
	}
	modelType := req.ModelType
	if modelType == "" {
		modelType = ModelCustom
	}
	if !modelType.Valid() {
		return nil, ErrInvalidModelType
	}

	if err := s.currency.Reserve(c, creator, req.Bounty); err != nil {
		return nil, err
	}

	count, err := getCount(c)
	if err != nil {
		return nil, err
	}
	id := TaskID(creator, count)
	if exists, err := c.Store().Has(taskKey(id)); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrTaskExists
	}

	t := &Task{
		ID:           id,
		Creator:      creator,
		Name:         req.Name,
		ModelType:    modelType,
		Bounty:       req.Bounty,
		MinProviders: req.MinProviders,
		MaxProviders: req.MaxProviders,
		Status:       StatusPending,
		CreatedAt:    c.Height(),
		DatasetRef:   req.DatasetRef,
		Requirements: req.Requirements,
	}
	if err := putTask(c, t); err != nil {
		return nil, err
	}
	if err := c.Store().Put(creatorKey(creator, id), true); err != nil {
		return nil, err
	}
	if err := c.Store().Put(countKey, count+1); err != nil {
		return nil, err
	}

	c.Emit(ModuleName, EventTypeTaskCreated,
		events.Attr(events.AttributeKeyTaskID, id.Hex()),
		events.Attr(events.AttributeKeyCreator, creator.Hex()),
		events.Attr(events.AttributeKeyAmount, req.Bounty.String()),
	)
	return t, nil
}

// StartRecruiting opens a pending task for providers.
func (s *Service) StartRecruiting(c *chain.Context, origin auth.Origin, id common.Hash) (*Task, error) {
	t, err := s.creatorTask(c, origin, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidStatus, t.Status)
	}
	return s.transition(c, t, StatusRecruiting, EventTypeTaskRecruiting)
}

// JoinTask enrolls the caller. The join that brings the count to
// MinProviders moves the task to running.
func (s *Service) JoinTask(c *chain.Context, origin auth.Origin, id common.Hash) (*Task, error) {
	provider, err := auth.EnsureSigned(origin)
	if err != nil {
		return nil, err
	}
	t, err := getTask(c, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusRecruiting {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidStatus, t.Status)
	}
	joined, err := isMember(c, id, provider)
	if err != nil {
		return nil, err
	}
	if joined {
		return nil, ErrAlreadyJoined
	}
	if t.JoinedCount >= t.MaxProviders {
		return nil, ErrTaskFull
	}

	if err := c.Store().Put(memberKey(id, provider), true); err != nil {
		return nil, err
	}
	t.JoinedCount++
	c.Emit(ModuleName, EventTypeProviderJoined,
		events.Attr(events.AttributeKeyTaskID, id.Hex()),
		events.Attr(events.AttributeKeyProvider, provider.Hex()),
	)

	if t.JoinedCount == t.MinProviders {
		return s.transition(c, t, StatusRunning, EventTypeTaskRunning)
	}
	if err := putTask(c, t); err != nil {
		return nil, err
	}
	return t, nil
}

// CancelTask returns the bounty of a pending or recruiting task to its creator.
func (s *Service) CancelTask(c *chain.Context, origin auth.Origin, id common.Hash) (*Task, error) {
	t, err := s.creatorTask(c, origin, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending && t.Status != StatusRecruiting {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidStatus, t.Status)
	}
	if _, err := s.currency.Unreserve(c, t.Creator, t.Bounty); err != nil {
		return nil, err
	}
	return s.transition(c, t, StatusCancelled, EventTypeTaskCancelled)
}

// BeginValidation records that a running task's output is under validation.
// The validation process reports through the authority.
func (s *Service) BeginValidation(c *chain.Context, origin auth.Origin, id common.Hash) (*Task, error) {
	if err := auth.EnsureRoot(origin); err != nil {
		return nil, err
	}
	t, err := getTask(c, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusRunning {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidStatus, t.Status)
	}
	return s.transition(c, t, StatusValidating, EventTypeTaskValidating)
}

// CompleteTask moves a validated task's bounty into escrow.
func (s *Service) CompleteTask(c *chain.Context, origin auth.Origin, id common.Hash) (*Task, error) {
	t, err := s.creatorTask(c, origin, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusValidating {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidStatus, t.Status)
	}

	released, err := s.currency.Unreserve(c, t.Creator, t.Bounty)
	if err != nil {
		return nil, err
	}
	if released.Lt(t.Bounty) {
		return nil, fmt.Errorf("%w: only %s of bounty %s was reserved", chain.ErrFunds, released, t.Bounty)
	}
	if err := s.currency.Transfer(c, t.Creator, s.cfg.EscrowAccount, t.Bounty); err != nil {
		return nil, err
	}

	now := c.Height()
	t.CompletedAt = &now
	t.Status = StatusCompleted
	if err := putTask(c, t); err != nil {
		return nil, err
	}
	c.Emit(ModuleName, EventTypeTaskCompleted,
		events.Attr(events.AttributeKeyTaskID, id.Hex()),
		events.Attr(events.AttributeKeyAmount, t.Bounty.String()),
		events.Attr(events.AttributeKeyTo, s.cfg.EscrowAccount.Hex()),
	)
	return t, nil
}

// FailTask ends a running or validating task and returns the bounty to its
// creator. Used for external fault reporting.
func (s *Service) FailTask(c *chain.Context, origin auth.Origin, id common.Hash) (*Task, error) {
	if err := auth.EnsureRoot(origin); err != nil {
		return nil, err
	}
	t, err := getTask(c, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusRunning && t.Status != StatusValidating {
		return nil, fmt.Errorf("%w: task is %s", ErrInvalidStatus, t.Status)
	}
	if _, err := s.currency.Unreserve(c, t.Creator, t.Bounty); err != nil {
		return nil, err
	}
	return s.transition(c, t, StatusFailed, EventTypeTaskFailed)
}

// GetTask returns a task.
func (s *Service) GetTask(c *chain.Context, id common.Hash) (*Task, error) {
	return getTask(c, id)
}

// ListTasks returns tasks in id order.
func (s *Service) ListTasks(c *chain.Context, limit int) ([]*Task, error) {
	return listTasks(c, limit)
}

// ListByCreator returns the tasks created by an account.
func (s *Service) ListByCreator(c *chain.Context, creator common.Address, limit int) ([]*Task, error) {
	return listByCreator(c, creator, limit)
}

// Members returns the providers that joined a task.
func (s *Service) Members(c *chain.Context, id common.Hash) ([]common.Address, error) {
	if _, err := getTask(c, id); err != nil {
		return nil, err
	}
	return listMembers(c, id)
}

// IsMember reports whether provider joined the task.
func (s *Service) IsMember(c *chain.Context, id common.Hash, provider common.Address) (bool, error) {
	return isMember(c, id, provider)
}

// Count returns the number of tasks ever created.
func (s *Service) Count(c *chain.Context) (uint64, error) {
	return getCount(c)
}

func (s *Service) creatorTask(c *chain.Context, origin auth.Origin, id common.Hash) (*Task, error) {
	caller, err := auth.EnsureSigned(origin)
	if err != nil {
		return nil, err
	}
	t, err := getTask(c, id)
	if err != nil {
		return nil, err
	}
	if t.Creator != caller {
		return nil, ErrNotCreator
	}
	return t, nil
}

func (s *Service) transition(c *chain.Context, t *Task, to Status, eventType string) (*Task, error) {
	t.Status = to
	if err := putTask(c, t); err != nil {
		return nil, err
	}
	c.Emit(ModuleName, eventType,
		events.Attr(events.AttributeKeyTaskID, t.ID.Hex()),
		events.Attr(events.AttributeKeyStatus, string(to)),
	)
	return t, nil
}
