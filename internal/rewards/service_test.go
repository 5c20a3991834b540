package rewards

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/currency"
	"github.com/mbd888/computeledger/internal/events"
	"github.com/mbd888/computeledger/internal/state"
	"github.com/mbd888/computeledger/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	coordinator = common.HexToAddress("0x00000000000000000000000000000000c0ffee01")
	outsider    = common.HexToAddress("0x00000000000000000000000000000000bad00001")
	treasury    = chain.ModuleAccount("py/trsry")
)

func provider(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0xbeef00 + i)))
}

// fakeTasks serves fixed tasks.
type fakeTasks map[common.Hash]*tasks.Task

func (f fakeTasks) GetTask(_ *chain.Context, id common.Hash) (*tasks.Task, error) {
	t, ok := f[id]
	if !ok {
		return nil, tasks.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

type recorded struct {
	provider common.Address
	paid     amount.Amount
	units    uint64
	entries  uint32
}

type fakeRecorder struct{ calls []recorded }

func (f *fakeRecorder) RecordReward(_ *chain.Context, p common.Address, paid amount.Amount, units uint64, entries uint32) error {
	f.calls = append(f.calls, recorded{p, paid, units, entries})
	return nil
}

// testingT is satisfied by *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

type harness struct {
	t        testingT
	exec     *chain.Executor
	currency *currency.Service
	svc      *Service
	tasks    fakeTasks
	recorder *fakeRecorder
	root     auth.Origin
	rec      *events.Recorder
	cfg      Config
}

func newHarness(t testingT, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.FeeAccount = treasury
	for _, m := range mutate {
		m(&cfg)
	}
	rec := events.NewRecorder()
	cur := currency.NewService(treasury)
	authority, err := auth.NewAuthority("test-secret")
	require.NoError(t, err)
	ft := fakeTasks{}
	fr := &fakeRecorder{}
	return &harness{
		t:        t,
		exec:     chain.NewExecutor(state.NewMemoryBackend(), chain.WithSinks(rec)),
		currency: cur,
		svc:      NewService(cfg, cur, ft, fr),
		tasks:    ft,
		recorder: fr,
		root:     authority.Origin(),
		rec:      rec,
		cfg:      cfg,
	}
}

func (h *harness) do(fn func(c *chain.Context) error) error {
	return h.exec.Execute(context.Background(), "test", fn)
}

func (h *harness) view(fn func(c *chain.Context) error) {
	h.t.Helper()
	require.NoError(h.t, h.exec.View(context.Background(), fn))
}

func (h *harness) advance(n uint64) {
	h.t.Helper()
	_, err := h.exec.Advance(context.Background(), n)
	require.NoError(h.t, err)
}

// completedTask registers a completed task and funds escrow with its bounty,
// as CompleteTask would.
func (h *harness) completedTask(n byte, bounty uint64) common.Hash {
	h.t.Helper()
	id := common.Hash{n}
	h.tasks[id] = &tasks.Task{ID: id, Creator: coordinator, Bounty: amount.Tokens(bounty), Status: tasks.StatusCompleted}
	require.NoError(h.t, h.do(func(c *chain.Context) error {
		return h.currency.Deposit(c, h.cfg.EscrowAccount, amount.Tokens(bounty))
	}))
	return id
}

func (h *harness) createBatch(task common.Hash, total amount.Amount) (*Batch, error) {
	var b *Batch
	err := h.do(func(c *chain.Context) error {
		var err error
		b, err = h.svc.CreateBatch(c, auth.Signed(coordinator), CreateBatchRequest{
			TaskID:      task,
			TotalBounty: total,
			MerkleRoot:  common.HexToHash("0xfeed"),
		})
		return err
	})
	return b, err
}

func (h *harness) mustBatch(task common.Hash, tokens uint64) *Batch {
	h.t.Helper()
	b, err := h.createBatch(task, amount.Tokens(tokens))
	require.NoError(h.t, err)
	return b
}

func (h *harness) submit(batch common.Hash, rewards ...RewardInput) error {
	return h.do(func(c *chain.Context) error {
		_, err := h.svc.SubmitRewards(c, auth.Signed(coordinator), batch, rewards)
		return err
	})
}

func (h *harness) settle(batch common.Hash) (*Settlement, error) {
	var s *Settlement
	err := h.do(func(c *chain.Context) error {
		var err error
		s, err = h.svc.SettleBatch(c, h.root, batch)
		return err
	})
	return s, err
}

func (h *harness) claim(who common.Address) (amount.Amount, error) {
	var got amount.Amount
	err := h.do(func(c *chain.Context) error {
		var err error
		got, err = h.svc.ClaimRewards(c, auth.Signed(who))
		return err
	})
	return got, err
}

func (h *harness) sweep() (*SweepResult, error) {
	var res *SweepResult
	err := h.do(func(c *chain.Context) error {
		var err error
		res, err = h.svc.PeriodicSettlement(c, auth.Signed(outsider))
		return err
	})
	return res, err
}

func (h *harness) free(who common.Address) string {
	h.t.Helper()
	var b *currency.Balance
	h.view(func(c *chain.Context) error {
		var err error
		b, err = h.currency.Balance(c, who)
		return err
	})
	return b.Free.String()
}

func (h *harness) pending(who common.Address) amount.Amount {
	h.t.Helper()
	var a amount.Amount
	h.view(func(c *chain.Context) error {
		var err error
		a, err = h.svc.PendingReward(c, who)
		return err
	})
	return a
}

func (h *harness) batch(id common.Hash) *Batch {
	h.t.Helper()
	var b *Batch
	h.view(func(c *chain.Context) error {
		var err error
		b, err = h.svc.GetBatch(c, id)
		return err
	})
	return b
}

func (h *harness) stats() *Stats {
	h.t.Helper()
	var s *Stats
	h.view(func(c *chain.Context) error {
		var err error
		s, err = h.svc.Stats(c)
		return err
	})
	return s
}

func reward(i int, tokens uint64) RewardInput {
	return RewardInput{
		Provider:           provider(i),
		Amount:             amount.Tokens(tokens),
		ContributionUnits:  tokens * 10,
		QualityScore:       900,
		HardwareMultiplier: 100,
	}
}

func TestCreateBatch(t *testing.T) {
	h := newHarness(t)
	task := h.completedTask(1, 100)

	b := h.mustBatch(task, 100)
	assert.Equal(t, BatchID(task, coordinator, 0), b.ID)
	assert.False(t, b.Settled)
	assert.Equal(t, uint64(0), b.CreatedAt)
	assert.Len(t, h.rec.OfType(EventTypeBatchCreated), 1)
	assert.Equal(t, uint64(1), h.stats().BatchCount)
}

func TestCreateBatch_Guards(t *testing.T) {
	h := newHarness(t)
	task := h.completedTask(1, 100)
	h.tasks[common.Hash{2}] = &tasks.Task{ID: common.Hash{2}, Creator: coordinator, Bounty: amount.Tokens(50), Status: tasks.StatusRunning}

	_, err := h.createBatch(common.Hash{9}, amount.Tokens(1))
	assert.ErrorIs(t, err, tasks.ErrTaskNotFound)

	_, err = h.createBatch(common.Hash{2}, amount.Tokens(1))
	assert.ErrorIs(t, err, ErrTaskNotCompleted)

	_, err = h.createBatch(task, amount.Zero())
	assert.ErrorIs(t, err, ErrInvalidBounty)

	err = h.do(func(c *chain.Context) error {
		_, err := h.svc.CreateBatch(c, auth.Signed(outsider), CreateBatchRequest{TaskID: task, TotalBounty: amount.Tokens(1)})
		return err
	})
	assert.ErrorIs(t, err, ErrNotCoordinator)

	_, err = h.createBatch(task, amount.Tokens(101))
	assert.ErrorIs(t, err, ErrBountyExceeded)
}

func TestCreateBatch_SplitsTaskBounty(t *testing.T) {
	h := newHarness(t)
	task := h.completedTask(1, 100)

	h.mustBatch(task, 60)
	_, err := h.createBatch(task, amount.Tokens(10))
	assert.ErrorIs(t, err, ErrBatchExists, "same task, coordinator and height")

	h.advance(1)
	h.mustBatch(task, 40)

	h.advance(1)
	_, err = h.createBatch(task, amount.FromUnits(1))
	assert.ErrorIs(t, err, ErrBountyExceeded)

	h.view(func(c *chain.Context) error {
		committed, err := h.svc.Committed(c, task)
		require.NoError(t, err)
		assert.Equal(t, "100.000000", committed.String())
		return nil
	})
}

func TestSubmitRewards_AddsPending(t *testing.T) {
	h := newHarness(t)
	b := h.mustBatch(h.completedTask(1, 100), 100)

	require.NoError(t, h.submit(b.ID, reward(0, 60), reward(1, 40)))

	assert.Equal(t, "60.000000", h.pending(provider(0)).String())
	assert.Equal(t, "40.000000", h.pending(provider(1)).String())
	assert.Len(t, h.rec.OfType(EventTypeRewardAllocated), 2)

	h.view(func(c *chain.Context) error {
		got, err := h.svc.GetBatch(c, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "100.000000", got.Allocated.String())
		assert.Equal(t, uint32(2), got.EntryCount)

		entries, err := h.svc.BatchRewards(c, b.ID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.Equal(t, EntryAllocated, e.Status)
		}
		return nil
	})
}

func TestSubmitRewards_CapFailsWholeCall(t *testing.T) {
	h := newHarness(t)
	b := h.mustBatch(h.completedTask(1, 100), 100)

	err := h.submit(b.ID, reward(0, 60), reward(1, 41))
	assert.ErrorIs(t, err, ErrRewardsExceedBounty)

	assert.True(t, h.pending(provider(0)).IsZero())
	assert.True(t, h.pending(provider(1)).IsZero())
	h.view(func(c *chain.Context) error {
		entries, err := h.svc.BatchRewards(c, b.ID)
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
}

func TestSubmitRewards_AccumulatesAcrossCalls(t *testing.T) {
	h := newHarness(t)
	b := h.mustBatch(h.completedTask(1, 100), 100)

	require.NoError(t, h.submit(b.ID, reward(0, 70)))
	assert.ErrorIs(t, h.submit(b.ID, reward(1, 31)), ErrRewardsExceedBounty)
	assert.ErrorIs(t, h.submit(b.ID, reward(0, 10)), ErrDuplicateProvider)
	require.NoError(t, h.submit(b.ID, reward(1, 30)))
}

func TestSubmitRewards_Validation(t *testing.T) {
	tests := []struct {
		name    string
		rewards []RewardInput
		want    error
	}{
		{"empty", nil, ErrNoRewards},
		{"below minimum", []RewardInput{{Provider: provider(0), Amount: amount.FromUnits(9_999)}}, ErrRewardTooLow},
		{"quality above scale", []RewardInput{{Provider: provider(0), Amount: amount.Tokens(1), QualityScore: 1001}}, ErrInvalidQuality},
		{"duplicate provider", []RewardInput{reward(0, 1), reward(0, 2)}, ErrDuplicateProvider},
		{"too many entries", []RewardInput{reward(0, 1), reward(1, 1), reward(2, 1)}, ErrTooManyRewards},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config) { c.MaxProvidersPerBatch = 2 })
			b := h.mustBatch(h.completedTask(1, 100), 100)
			assert.ErrorIs(t, h.submit(b.ID, tt.rewards...), tt.want)
		})
	}
}

func TestSubmitRewards_MinimumAndQualityBoundaries(t *testing.T) {
	h := newHarness(t)
	b := h.mustBatch(h.completedTask(1, 100), 100)
	err := h.submit(b.ID, RewardInput{Provider: provider(0), Amount: amount.MustParse("0.01"), QualityScore: MaxQualityScore})
	assert.NoError(t, err)
}

func TestSubmitRewards_Authorization(t *testing.T) {
	h := newHarness(t)
	b := h.mustBatch(h.completedTask(1, 100), 100)

	err := h.do(func(c *chain.Context) error {
		_, err := h.svc.SubmitRewards(c, auth.Signed(outsider), b.ID, []RewardInput{reward(0, 1)})
		return err
	})
	assert.ErrorIs(t, err, ErrNotCoordinator)

	assert.ErrorIs(t, h.submit(common.Hash{0xee}, reward(0, 1)), ErrBatchNotFound)
}

// Rewards of 60 and 40 with a 2% fee pay 58.8 and 39.2. The fees are 1.2
// and 0.8.
func TestSettleBatch_PaysNetOfFee(t *testing.T) {
	h := newHarness(t)
	b := h.mustBatch(h.completedTask(1, 100), 100)
	require.NoError(t, h.submit(b.ID, reward(0, 60), reward(1, 40)))

	h.advance(h.cfg.SettlementPeriod - 1)
	_, err := h.settle(b.ID)
	assert.ErrorIs(t, err, ErrSettlementTooEarly)

	h.advance(1)
	res, err := h.settle(b.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), res.Paid)
	assert.Equal(t, "98.000000", res.Net.String())
	assert.Equal(t, "2.000000", res.Fees.String())

	assert.Equal(t, "58.800000", h.free(provider(0)))
	assert.Equal(t, "39.200000", h.free(provider(1)))
	assert.Equal(t, "2.000000", h.free(treasury))
	assert.Equal(t, "0.000000", h.free(h.cfg.EscrowAccount))
	assert.True(t, h.pending(provider(0)).IsZero())
	assert.True(t, h.pending(provider(1)).IsZero())

	st := h.stats()
	assert.Equal(t, "2.000000", st.PlatformFeesCollected.String())
	assert.Equal(t, "98.000000", st.TotalDistributed.String())
	assert.Equal(t, h.cfg.SettlementPeriod, st.LastSettlement)
	assert.Equal(t, uint64(1), st.SettledBatches)

	require.Len(t, h.recorder.calls, 2)
	assert.Len(t, h.rec.OfType(EventTypeRewardPaid), 2)
	assert.Len(t, h.rec.OfType(EventTypePlatformFee), 1)

	h.rec.Reset()
	_, err = h.settle(b.ID)
	assert.ErrorIs(t, err, ErrBatchSettled)
	assert.Empty(t, h.rec.Events())
	assert.Equal(t, "58.800000", h.free(provider(0)))

	assert.ErrorIs(t, h.submit(b.ID, reward(2, 1)), ErrBatchSettled)
}

func TestSettleBatch_FeeOnSplitRewards(t *testing.T) {
	h := newHarness(t)
	b := h.mustBatch(h.completedTask(1, 100), 100)
	require.NoError(t, h.submit(b.ID, reward(0, 60)))
	require.NoError(t, h.submit(b.ID, reward(1, 40)))
	h.advance(h.cfg.SettlementPeriod)

	_, err := h.settle(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "58.800000", h.free(provider(0)))
	assert.Equal(t, "39.200000", h.free(provider(1)))
}

func TestSettleBatch_RequiresAuthority(t *testing.T) {
	h := newHarness(t)
	b := h.mustBatch(h.completedTask(1, 100), 100)
	h.advance(h.cfg.SettlementPeriod)

	err := h.do(func(c *chain.Context) error {
		_, err := h.svc.SettleBatch(c, auth.Signed(coordinator), b.ID)
		return err
	})
	assert.ErrorIs(t, err, auth.ErrNotAuthority)
}

func TestClaimRewards_BeforeSettlement(t *testing.T) {
	h := newHarness(t)
	b := h.mustBatch(h.completedTask(1, 100), 100)
	require.NoError(t, h.submit(b.ID, reward(0, 60), reward(1, 40)))

	got, err := h.claim(provider(0))
	require.NoError(t, err)
	assert.Equal(t, "60.000000", got.String())
	assert.Equal(t, "60.000000", h.free(provider(0)))
	assert.True(t, h.pending(provider(0)).IsZero())

	_, err = h.claim(provider(0))
	assert.ErrorIs(t, err, ErrNoRewardsToClaim)

	h.advance(h.cfg.SettlementPeriod)
	res, err := h.settle(b.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), res.Paid)
	assert.Equal(t, uint32(1), res.Skipped)

	assert.Equal(t, "60.000000", h.free(provider(0)), "claimed entry is not paid again")
	assert.Equal(t, "39.200000", h.free(provider(1)))
	assert.Equal(t, "0.000000", h.free(h.cfg.EscrowAccount))
	assert.Equal(t, "0.800000", h.free(treasury))

	h.view(func(c *chain.Context) error {
		entries, err := h.svc.BatchRewards(c, b.ID)
		require.NoError(t, err)
		byProvider := map[common.Address]EntryStatus{}
		for _, e := range entries {
			byProvider[e.Provider] = e.Status
		}
		assert.Equal(t, EntryClaimed, byProvider[provider(0)])
		assert.Equal(t, EntrySettled, byProvider[provider(1)])
		return nil
	})

	require.Len(t, h.recorder.calls, 2)
	assert.Equal(t, recorded{provider(0), amount.Tokens(60), 600, 1}, h.recorder.calls[0])
}

func TestClaimRewards_AcrossBatches(t *testing.T) {
	h := newHarness(t)
	first := h.mustBatch(h.completedTask(1, 10), 10)
	second := h.mustBatch(h.completedTask(2, 10), 10)
	require.NoError(t, h.submit(first.ID, reward(0, 5)))
	require.NoError(t, h.submit(second.ID, reward(0, 7)))

	got, err := h.claim(provider(0))
	require.NoError(t, err)
	assert.Equal(t, "12.000000", got.String())
	assert.Equal(t, uint32(2), h.recorder.calls[0].entries)
	assert.Equal(t, "12.000000", h.stats().TotalDistributed.String())
}

func TestPeriodicSettlement(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxBatchesPerSettlement = 2 })
	var batches []*Batch
	for i := 0; i < 3; i++ {
		b := h.mustBatch(h.completedTask(byte(i+1), 10), 10)
		require.NoError(t, h.submit(b.ID, reward(i, 10)))
		batches = append(batches, b)
		h.advance(1)
	}

	_, err := h.sweep()
	assert.ErrorIs(t, err, ErrSettlementTooEarly)

	// Height 101: the batches created at 0 and 1 are due, the one at 2 is not.
	h.advance(h.cfg.SettlementPeriod - 2)
	res, err := h.sweep()
	require.NoError(t, err)
	require.Len(t, res.Batches, 2)
	assert.Equal(t, batches[0].ID, res.Batches[0].BatchID)
	assert.Equal(t, batches[1].ID, res.Batches[1].BatchID)
	assert.False(t, res.More)
	assert.Equal(t, "9.800000", h.free(provider(0)))
	assert.Equal(t, "0.000000", h.free(provider(2)))

	_, err = h.sweep()
	assert.ErrorIs(t, err, ErrSettlementTooEarly, "one sweep per period")

	h.advance(h.cfg.SettlementPeriod)
	res, err = h.sweep()
	require.NoError(t, err)
	require.Len(t, res.Batches, 1)
	assert.Equal(t, "9.800000", h.free(provider(2)))
	assert.Len(t, h.rec.OfType(EventTypeSettlementExecuted), 2)
}

func TestPeriodicSettlement_Bounded(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxBatchesPerSettlement = 1 })
	var batches []*Batch
	for i := 0; i < 3; i++ {
		batches = append(batches, h.mustBatch(h.completedTask(byte(i+1), 10), 10))
	}
	h.advance(h.cfg.SettlementPeriod)

	// The backlog drains over consecutive calls in the same block.
	for i, b := range batches {
		res, err := h.sweep()
		require.NoError(t, err, "sweep %d", i)
		require.Len(t, res.Batches, 1)
		assert.Equal(t, b.ID, res.Batches[0].BatchID)
		assert.Equal(t, i < len(batches)-1, res.More)
	}

	_, err := h.sweep()
	assert.ErrorIs(t, err, ErrSettlementTooEarly, "a complete sweep closes the period")
	for _, b := range batches {
		assert.True(t, h.batch(b.ID).Settled)
	}
}

func TestPeriodicSettlement_SkipsManuallySettled(t *testing.T) {
	h := newHarness(t)
	b := h.mustBatch(h.completedTask(1, 10), 10)
	h.advance(h.cfg.SettlementPeriod)
	_, err := h.settle(b.ID)
	require.NoError(t, err)

	h.advance(h.cfg.SettlementPeriod)
	res, err := h.sweep()
	require.NoError(t, err)
	assert.Empty(t, res.Batches)
}

func TestCalculateReward(t *testing.T) {
	tests := []struct {
		name         string
		bounty       amount.Amount
		contribution uint64
		total        uint64
		quality      uint32
		hw           uint32
		want         string
	}{
		{"full share", amount.Tokens(100), 10, 10, 1000, 100, "100.000000"},
		{"half share at 90% quality", amount.Tokens(100), 5, 10, 900, 100, "45.000000"},
		{"hardware bonus", amount.Tokens(100), 1, 4, 1000, 150, "37.500000"},
		{"zero total", amount.Tokens(100), 5, 0, 1000, 100, "0.000000"},
		{"zero quality", amount.Tokens(100), 5, 10, 0, 100, "0.000000"},
		{"clamped share", amount.Tokens(100), 20, 10, 1000, 100, "100.000000"},
		{"saturates", amount.Max(), 1, 1, 1000, 200, amount.Max().String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateReward(tt.bounty, tt.contribution, tt.total, tt.quality, tt.hw)
			assert.Equal(t, tt.want, got.String())
		})
	}
}
