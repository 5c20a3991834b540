package tasks

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/currency"
	"github.com/mbd888/computeledger/internal/events"
	"github.com/mbd888/computeledger/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	creator = common.HexToAddress("0x00000000000000000000000000000000c0ffee01")
	escrow  = chain.ModuleAccount("py/rewrd")
)

func providerAddr(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0xbeef00 + i)))
}

type harness struct {
	t        *testing.T
	exec     *chain.Executor
	currency *currency.Service
	svc      *Service
	root     auth.Origin
	rec      *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EscrowAccount = escrow
	rec := events.NewRecorder()
	cur := currency.NewService(chain.ModuleAccount("py/trsry"))
	authority, err := auth.NewAuthority("test-secret")
	require.NoError(t, err)
	h := &harness{
		t:        t,
		exec:     chain.NewExecutor(state.NewMemoryBackend(), chain.WithSinks(rec)),
		currency: cur,
		svc:      NewService(cfg, cur),
		root:     authority.Origin(),
		rec:      rec,
	}
	require.NoError(t, h.do(func(c *chain.Context) error {
		return cur.Deposit(c, creator, amount.Tokens(1000))
	}))
	return h
}

func (h *harness) do(fn func(c *chain.Context) error) error {
	return h.exec.Execute(context.Background(), "test", fn)
}

func (h *harness) create(req CreateTaskRequest) (*Task, error) {
	var t *Task
	err := h.do(func(c *chain.Context) error {
		var err error
		t, err = h.svc.CreateTask(c, auth.Signed(creator), req)
		return err
	})
	return t, err
}

func (h *harness) mustCreate(minP, maxP uint32) *Task {
	h.t.Helper()
	t, err := h.create(CreateTaskRequest{
		Name:         "resnet-50 sweep",
		ModelType:    ModelResNet,
		Bounty:       amount.Tokens(100),
		MinProviders: minP,
		MaxProviders: maxP,
	})
	require.NoError(h.t, err)
	return t
}

type op func(c *chain.Context, origin auth.Origin, id common.Hash) (*Task, error)

func (h *harness) apply(fn op, origin auth.Origin, id common.Hash) (*Task, error) {
	var t *Task
	err := h.do(func(c *chain.Context) error {
		var err error
		t, err = fn(c, origin, id)
		return err
	})
	return t, err
}

func (h *harness) task(id common.Hash) *Task {
	h.t.Helper()
	var t *Task
	require.NoError(h.t, h.exec.View(context.Background(), func(c *chain.Context) error {
		var err error
		t, err = h.svc.GetTask(c, id)
		return err
	}))
	return t
}

func (h *harness) balance(who common.Address) *currency.Balance {
	h.t.Helper()
	var b *currency.Balance
	require.NoError(h.t, h.exec.View(context.Background(), func(c *chain.Context) error {
		var err error
		b, err = h.currency.Balance(c, who)
		return err
	}))
	return b
}

// running drives a fresh task to running with min providers joined.
func (h *harness) running(minP, maxP uint32) *Task {
	h.t.Helper()
	t := h.mustCreate(minP, maxP)
	_, err := h.apply(h.svc.StartRecruiting, auth.Signed(creator), t.ID)
	require.NoError(h.t, err)
	for i := 0; i < int(minP); i++ {
		_, err := h.apply(h.svc.JoinTask, auth.Signed(providerAddr(i)), t.ID)
		require.NoError(h.t, err)
	}
	return h.task(t.ID)
}

func TestCreateTask_ReservesBounty(t *testing.T) {
	h := newHarness(t)
	task := h.mustCreate(2, 4)

	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, creator, task.Creator)
	assert.Equal(t, TaskID(creator, 0), task.ID)

	b := h.balance(creator)
	assert.Equal(t, "900.000000", b.Free.String())
	assert.Equal(t, "100.000000", b.Reserved.String())
	assert.Len(t, h.rec.OfType(EventTypeTaskCreated), 1)

	second := h.mustCreate(1, 1)
	assert.NotEqual(t, task.ID, second.ID)
}

func TestCreateTask_DefaultsModelType(t *testing.T) {
	h := newHarness(t)
	task, err := h.create(CreateTaskRequest{Name: "x", Bounty: amount.Tokens(10), MinProviders: 1, MaxProviders: 1})
	require.NoError(t, err)
	assert.Equal(t, ModelCustom, task.ModelType)
}

func TestCreateTask_Validation(t *testing.T) {
	valid := func() CreateTaskRequest {
		return CreateTaskRequest{Name: "ok", ModelType: ModelBERT, Bounty: amount.Tokens(10), MinProviders: 1, MaxProviders: 2}
	}
	tests := []struct {
		name   string
		mutate func(*CreateTaskRequest)
		want   error
	}{
		{"bounty below minimum", func(r *CreateTaskRequest) { r.Bounty = amount.MustParse("9.999999") }, ErrBountyTooLow},
		{"max above cap", func(r *CreateTaskRequest) { r.MaxProviders = 101 }, ErrTooManyProviders},
		{"zero min", func(r *CreateTaskRequest) { r.MinProviders = 0 }, ErrInvalidProviderRange},
		{"min above max", func(r *CreateTaskRequest) { r.MinProviders = 3 }, ErrInvalidProviderRange},
		{"long name", func(r *CreateTaskRequest) { r.Name = strings.Repeat("n", MaxNameLength+1) }, ErrNameTooLong},
		{"long dataset ref", func(r *CreateTaskRequest) { r.DatasetRef = strings.Repeat("Q", MaxDatasetRefLength+1) }, ErrDatasetRefTooLong},
		{"unknown model", func(r *CreateTaskRequest) { r.ModelType = "diffusion" }, ErrInvalidModelType},
		{"insufficient funds", func(r *CreateTaskRequest) { r.Bounty = amount.Tokens(1001) }, currency.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := valid()
			tt.mutate(&req)
			_, err := h.create(req)
			assert.ErrorIs(t, err, tt.want)

			b := h.balance(creator)
			assert.True(t, b.Reserved.IsZero())
		})
	}
}

func TestCreateTask_BoundaryValues(t *testing.T) {
	h := newHarness(t)
	_, err := h.create(CreateTaskRequest{
		Name:         strings.Repeat("n", MaxNameLength),
		DatasetRef:   strings.Repeat("Q", MaxDatasetRefLength),
		Bounty:       amount.Tokens(10),
		MinProviders: 100,
		MaxProviders: 100,
	})
	assert.NoError(t, err)
}

func TestCreateTask_RequiresSignedOrigin(t *testing.T) {
	h := newHarness(t)
	err := h.do(func(c *chain.Context) error {
		_, err := h.svc.CreateTask(c, auth.None(), CreateTaskRequest{})
		return err
	})
	assert.ErrorIs(t, err, auth.ErrBadOrigin)
}

func TestStartRecruiting(t *testing.T) {
	h := newHarness(t)
	task := h.mustCreate(1, 2)

	_, err := h.apply(h.svc.StartRecruiting, auth.Signed(providerAddr(0)), task.ID)
	assert.ErrorIs(t, err, ErrNotCreator)

	got, err := h.apply(h.svc.StartRecruiting, auth.Signed(creator), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRecruiting, got.Status)

	_, err = h.apply(h.svc.StartRecruiting, auth.Signed(creator), task.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = h.apply(h.svc.StartRecruiting, auth.Signed(creator), common.Hash{1})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestJoinTask_RunsAtMinimumOnce(t *testing.T) {
	h := newHarness(t)
	task := h.mustCreate(2, 3)

	_, err := h.apply(h.svc.JoinTask, auth.Signed(providerAddr(0)), task.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus, "pending tasks are not joinable")

	_, err = h.apply(h.svc.StartRecruiting, auth.Signed(creator), task.ID)
	require.NoError(t, err)

	got, err := h.apply(h.svc.JoinTask, auth.Signed(providerAddr(0)), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRecruiting, got.Status)
	assert.Equal(t, uint32(1), got.JoinedCount)

	_, err = h.apply(h.svc.JoinTask, auth.Signed(providerAddr(0)), task.ID)
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	got, err = h.apply(h.svc.JoinTask, auth.Signed(providerAddr(1)), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Len(t, h.rec.OfType(EventTypeTaskRunning), 1)

	// Running tasks take no further joins.
	_, err = h.apply(h.svc.JoinTask, auth.Signed(providerAddr(2)), task.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Len(t, h.rec.OfType(EventTypeTaskRunning), 1)

	var members []common.Address
	require.NoError(t, h.exec.View(context.Background(), func(c *chain.Context) error {
		var err error
		members, err = h.svc.Members(c, task.ID)
		return err
	}))
	assert.ElementsMatch(t, []common.Address{providerAddr(0), providerAddr(1)}, members)
}

func TestCancelTask_RefundsBounty(t *testing.T) {
	h := newHarness(t)
	task := h.mustCreate(2, 2)
	_, err := h.apply(h.svc.StartRecruiting, auth.Signed(creator), task.ID)
	require.NoError(t, err)

	_, err = h.apply(h.svc.CancelTask, auth.Signed(providerAddr(0)), task.ID)
	assert.ErrorIs(t, err, ErrNotCreator)

	got, err := h.apply(h.svc.CancelTask, auth.Signed(creator), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	b := h.balance(creator)
	assert.Equal(t, "1000.000000", b.Free.String())
	assert.True(t, b.Reserved.IsZero())

	_, err = h.apply(h.svc.CancelTask, auth.Signed(creator), task.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCancelTask_NotOnceRunning(t *testing.T) {
	h := newHarness(t)
	task := h.running(1, 1)
	_, err := h.apply(h.svc.CancelTask, auth.Signed(creator), task.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCompleteTask_MovesBountyToEscrow(t *testing.T) {
	h := newHarness(t)
	task := h.running(1, 2)

	_, err := h.apply(h.svc.CompleteTask, auth.Signed(creator), task.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus, "running tasks must be validated first")

	_, err = h.apply(h.svc.BeginValidation, auth.Signed(creator), task.ID)
	assert.ErrorIs(t, err, auth.ErrNotAuthority)

	got, err := h.apply(h.svc.BeginValidation, h.root, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusValidating, got.Status)

	_, err = h.exec.Advance(context.Background(), 5)
	require.NoError(t, err)
	got, err = h.apply(h.svc.CompleteTask, auth.Signed(creator), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, uint64(5), *got.CompletedAt)

	b := h.balance(creator)
	assert.Equal(t, "900.000000", b.Free.String())
	assert.True(t, b.Reserved.IsZero())
	assert.Equal(t, "100.000000", h.balance(escrow).Free.String())

	_, err = h.apply(h.svc.CompleteTask, auth.Signed(creator), task.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestFailTask(t *testing.T) {
	h := newHarness(t)
	task := h.running(1, 1)

	_, err := h.apply(h.svc.FailTask, auth.Signed(creator), task.ID)
	assert.ErrorIs(t, err, auth.ErrNotAuthority)

	got, err := h.apply(h.svc.FailTask, h.root, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "1000.000000", h.balance(creator).Free.String())

	_, err = h.apply(h.svc.FailTask, h.root, task.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestListByCreator(t *testing.T) {
	h := newHarness(t)
	a := h.mustCreate(1, 1)
	b := h.mustCreate(1, 1)

	require.NoError(t, h.exec.View(context.Background(), func(c *chain.Context) error {
		mine, err := h.svc.ListByCreator(c, creator, 0)
		require.NoError(t, err)
		ids := []common.Hash{mine[0].ID, mine[1].ID}
		assert.ElementsMatch(t, []common.Hash{a.ID, b.ID}, ids)

		none, err := h.svc.ListByCreator(c, providerAddr(0), 0)
		require.NoError(t, err)
		assert.Empty(t, none)

		n, err := h.svc.Count(c)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)
		return nil
	}))
}
