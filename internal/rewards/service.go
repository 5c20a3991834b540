package rewards

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/currency"
	"github.com/mbd888/computeledger/internal/events"
	"github.com/mbd888/computeledger/internal/state"
	"github.com/mbd888/computeledger/internal/tasks"
)

// TaskSource resolves the task a batch pays out.
type TaskSource interface {
	GetTask(c *chain.Context, id common.Hash) (*tasks.Task, error)
}

// ContributionRecorder is told when reward entries are paid out.
type ContributionRecorder interface {
	RecordReward(c *chain.Context, provider common.Address, paid amount.Amount, units uint64, entries uint32) error
}

// Settlement summarizes the payout of one batch.
type Settlement struct {
	BatchID common.Hash   `json:"batchId"`
	Paid    uint32        `json:"paid"`
	Skipped uint32        `json:"skipped"`
	Net     amount.Amount `json:"net"`
	Fees    amount.Amount `json:"fees"`
}

// SweepResult summarizes a periodic settlement.
type SweepResult struct {
	Batches []*Settlement `json:"batches"`
	Net     amount.Amount `json:"net"`
	Fees    amount.Amount `json:"fees"`
	// More is set when due batches were left for a later sweep.
	More bool `json:"more"`
}

// Service implements the reward ledger.
type Service struct {
	cfg      Config
	currency currency.Ledger
	tasks    TaskSource
	recorder ContributionRecorder
}

// NewService creates a reward ledger. recorder may be nil.
func NewService(cfg Config, ledger currency.Ledger, taskSource TaskSource, recorder ContributionRecorder) *Service {
	return &Service{cfg: cfg, currency: ledger, tasks: taskSource, recorder: recorder}
}

// Config returns the deployment constants in use.
func (s *Service) Config() Config { return s.cfg }

// EscrowAccount returns the account that holds completed bounties.
func (s *Service) EscrowAccount() common.Address { return s.cfg.EscrowAccount }

// BatchID derives a batch identity.
func BatchID(task common.Hash, coordinator common.Address, height uint64) common.Hash {
	return chain.Hash(task.Bytes(), coordinator.Bytes(), chain.Uint64Bytes(height))
}

// CreateBatch opens a reward batch for one of the caller's completed tasks.
func (s *Service) CreateBatch(c *chain.Context, origin auth.Origin, req CreateBatchRequest) (*Batch, error) {
	coordinator, err := auth.EnsureSigned(origin)
	if err != nil {
		return nil, err
	}
	if req.TotalBounty.IsZero() {
		return nil, ErrInvalidBounty
	}

	task, err := s.tasks.GetTask(c, req.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status != tasks.StatusCompleted {
		return nil, ErrTaskNotCompleted
	}
	if task.Creator != coordinator {
		return nil, ErrNotCoordinator
	}
	committed, err := getAmount(c, committedKey(task.ID))
	if err != nil {
		return nil, err
	}
	committed = committed.Add(req.TotalBounty)
	if committed.Gt(task.Bounty) {
		return nil, fmt.Errorf("%w: task bounty is %s", ErrBountyExceeded, task.Bounty)
	}

	id := BatchID(task.ID, coordinator, c.Height())
	if exists, err := c.Store().Has(batchKey(id)); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrBatchExists
	}

	b := &Batch{
		ID:          id,
		TaskID:      task.ID,
		TotalBounty: req.TotalBounty,
		Coordinator: coordinator,
		CreatedAt:   c.Height(),
		MerkleRoot:  req.MerkleRoot,
	}
	if err := putBatch(c, b); err != nil {
		return nil, err
	}
	if err := c.Store().Put(unsettledKey(b), true); err != nil {
		return nil, err
	}
	if err := putAmount(c, committedKey(task.ID), committed); err != nil {
		return nil, err
	}
	st, err := getStats(c)
	if err != nil {
		return nil, err
	}
	st.BatchCount++
	if err := putStats(c, st); err != nil {
		return nil, err
	}

	c.Emit(ModuleName, EventTypeBatchCreated,
		events.Attr(events.AttributeKeyBatchID, id.Hex()),
		events.Attr(events.AttributeKeyTaskID, task.ID.Hex()),
		events.Attr(events.AttributeKeyAmount, req.TotalBounty.String()),
		events.Attr(AttributeKeyMerkleRoot, req.MerkleRoot.Hex()),
	)
	return b, nil
}

// SubmitRewards allocates entries of a batch. Every entry is checked before
// anything is written, and the batch total across all submissions never
// exceeds its bounty.
func (s *Service) SubmitRewards(c *chain.Context, origin auth.Origin, batchID common.Hash, rewards []RewardInput) (*Batch, error) {
	caller, err := auth.EnsureSigned(origin)
	if err != nil {
		return nil, err
	}
	b, err := getBatch(c, batchID)
	if err != nil {
		return nil, err
	}
	if b.Settled {
		return nil, ErrBatchSettled
	}
	if b.Coordinator != caller {
		return nil, ErrNotCoordinator
	}
	if len(rewards) == 0 {
		return nil, ErrNoRewards
	}
	if uint64(b.EntryCount)+uint64(len(rewards)) > uint64(s.cfg.MaxProvidersPerBatch) {
		return nil, fmt.Errorf("%w: cap is %d", ErrTooManyRewards, s.cfg.MaxProvidersPerBatch)
	}

	seen := make(map[common.Address]struct{}, len(rewards))
	sum := amount.Zero()
	for _, r := range rewards {
		if r.Amount.Lt(s.cfg.MinimumReward) {
			return nil, fmt.Errorf("%w: %s for %s", ErrRewardTooLow, r.Amount, r.Provider.Hex())
		}
		if r.QualityScore > MaxQualityScore {
			return nil, ErrInvalidQuality
		}
		if _, dup := seen[r.Provider]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, r.Provider.Hex())
		}
		seen[r.Provider] = struct{}{}
		if _, exists, err := getEntry(c, batchID, r.Provider); err != nil {
			return nil, err
		} else if exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, r.Provider.Hex())
		}
		sum = sum.Add(r.Amount)
	}
	allocated := b.Allocated.Add(sum)
	if allocated.Gt(b.TotalBounty) {
		return nil, fmt.Errorf("%w: %s of %s", ErrRewardsExceedBounty, allocated, b.TotalBounty)
	}

	for _, r := range rewards {
		e := &ProviderReward{
			BatchID:            batchID,
			Provider:           r.Provider,
			Amount:             r.Amount,
			ContributionUnits:  r.ContributionUnits,
			QualityScore:       r.QualityScore,
			HardwareMultiplier: r.HardwareMultiplier,
			Status:             EntryAllocated,
		}
		if err := putEntry(c, e); err != nil {
			return nil, err
		}
		if err := c.Store().Put(openKey(r.Provider, batchID), true); err != nil {
			return nil, err
		}
		pending, err := getAmount(c, pendingKey(r.Provider))
		if err != nil {
			return nil, err
		}
		if err := putAmount(c, pendingKey(r.Provider), pending.Add(r.Amount)); err != nil {
			return nil, err
		}
		c.Emit(ModuleName, EventTypeRewardAllocated,
			events.Attr(events.AttributeKeyBatchID, batchID.Hex()),
			events.Attr(events.AttributeKeyProvider, r.Provider.Hex()),
			events.Attr(events.AttributeKeyAmount, r.Amount.String()),
		)
	}

	b.Allocated = allocated
	b.EntryCount += uint32(len(rewards))
	if err := putBatch(c, b); err != nil {
		return nil, err
	}
	c.Emit(ModuleName, EventTypeRewardsSubmitted,
		events.Attr(events.AttributeKeyBatchID, batchID.Hex()),
		events.Attr(AttributeKeyEntries, strconv.Itoa(len(rewards))),
		events.Attr(events.AttributeKeyAmount, sum.String()),
	)
	return b, nil
}

// SettleBatch pays out a due batch.
func (s *Service) SettleBatch(c *chain.Context, origin auth.Origin, batchID common.Hash) (*Settlement, error) {
	if err := auth.EnsureRoot(origin); err != nil {
		return nil, err
	}
	b, err := getBatch(c, batchID)
	if err != nil {
		return nil, err
	}
	if b.Settled {
		return nil, ErrBatchSettled
	}
	if due := b.DueAt(s.cfg.SettlementPeriod); c.Height() < due {
		return nil, fmt.Errorf("%w: due at %d", ErrSettlementTooEarly, due)
	}

	st, err := getStats(c)
	if err != nil {
		return nil, err
	}
	res, err := s.settle(c, b, st)
	if err != nil {
		return nil, err
	}
	st.LastSettlement = c.Height()
	if err := putStats(c, st); err != nil {
		return nil, err
	}
	return res, nil
}

// ClaimRewards pays the caller's whole pending balance in one transfer.
// No platform fee is withheld on claims.
func (s *Service) ClaimRewards(c *chain.Context, origin auth.Origin) (amount.Amount, error) {
	provider, err := auth.EnsureSigned(origin)
	if err != nil {
		return amount.Zero(), err
	}
	pending, err := getAmount(c, pendingKey(provider))
	if err != nil {
		return amount.Zero(), err
	}
	if pending.IsZero() {
		return amount.Zero(), ErrNoRewardsToClaim
	}

	if err := s.currency.Transfer(c, s.cfg.EscrowAccount, provider, pending); err != nil {
		return amount.Zero(), err
	}
	c.Store().Delete(pendingKey(provider))

	open, err := listOpen(c, provider)
	if err != nil {
		return amount.Zero(), err
	}
	var units uint64
	var claimed uint32
	for _, batchID := range open {
		c.Store().Delete(openKey(provider, batchID))
		e, ok, err := getEntry(c, batchID, provider)
		if err != nil {
			return amount.Zero(), err
		}
		if !ok || e.Status != EntryAllocated {
			continue
		}
		e.Status = EntryClaimed
		e.NetPaid = e.Amount
		if err := putEntry(c, e); err != nil {
			return amount.Zero(), err
		}
		units = satAdd(units, e.ContributionUnits)
		claimed++
	}

	st, err := getStats(c)
	if err != nil {
		return amount.Zero(), err
	}
	st.TotalDistributed = st.TotalDistributed.Add(pending)
	if err := putStats(c, st); err != nil {
		return amount.Zero(), err
	}
	if s.recorder != nil {
		if err := s.recorder.RecordReward(c, provider, pending, units, claimed); err != nil {
			return amount.Zero(), err
		}
	}

	c.Emit(ModuleName, EventTypeRewardsClaimed,
		events.Attr(events.AttributeKeyProvider, provider.Hex()),
		events.Attr(events.AttributeKeyAmount, pending.String()),
		events.Attr(AttributeKeyEntries, strconv.FormatUint(uint64(claimed), 10)),
	)
	return pending, nil
}

// PeriodicSettlement settles due batches in creation order, at most
// MaxBatchesPerSettlement per call. Any signed account may trigger it once
// per SettlementPeriod; while a sweep reports More, the next call may follow
// immediately.
func (s *Service) PeriodicSettlement(c *chain.Context, origin auth.Origin) (*SweepResult, error) {
	if _, err := auth.EnsureSigned(origin); err != nil {
		return nil, err
	}
	st, err := getStats(c)
	if err != nil {
		return nil, err
	}
	now := c.Height()
	next := st.LastSettlement + s.cfg.SettlementPeriod
	if next < st.LastSettlement {
		next = ^uint64(0)
	}
	if now < next {
		return nil, fmt.Errorf("%w: next sweep at %d", ErrSettlementTooEarly, next)
	}

	res := &SweepResult{Net: amount.Zero(), Fees: amount.Zero()}
	if now >= s.cfg.SettlementPeriod {
		limit := s.cfg.MaxBatchesPerSettlement
		probe := limit
		if probe > 0 {
			probe++
		}
		ids, err := listUnsettled(c, now-s.cfg.SettlementPeriod, probe)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(ids) > limit {
			ids = ids[:limit]
			res.More = true
		}
		for _, id := range ids {
			b, err := getBatch(c, id)
			if err != nil {
				return nil, err
			}
			one, err := s.settle(c, b, st)
			if err != nil {
				return nil, err
			}
			res.Batches = append(res.Batches, one)
			res.Net = res.Net.Add(one.Net)
			res.Fees = res.Fees.Add(one.Fees)
		}
	}

	// A capped sweep leaves the period open so the backlog drains over
	// consecutive calls.
	if !res.More {
		st.LastSettlement = now
	}
	if err := putStats(c, st); err != nil {
		return nil, err
	}
	c.Emit(ModuleName, EventTypeSettlementExecuted,
		events.Attr(events.AttributeKeyHeight, strconv.FormatUint(now, 10)),
		events.Attr(AttributeKeyBatches, strconv.Itoa(len(res.Batches))),
	)
	return res, nil
}

// settle marks b settled and pays each entry that was not claimed. Counters
// are accumulated into st; the caller stores it.
func (s *Service) settle(c *chain.Context, b *Batch, st *Stats) (*Settlement, error) {
	now := c.Height()
	b.Settled = true
	b.SettledAt = &now
	if err := putBatch(c, b); err != nil {
		return nil, err
	}
	c.Store().Delete(unsettledKey(b))

	entries, err := listEntries(c, b.ID)
	if err != nil {
		return nil, err
	}
	res := &Settlement{BatchID: b.ID, Net: amount.Zero(), Fees: amount.Zero()}
	for _, e := range entries {
		if e.Status != EntryAllocated {
			res.Skipped++
			continue
		}
		fee := e.Amount.BPS(s.cfg.PlatformFeeBPS)
		net := e.Amount.Sub(fee)

		if err := s.currency.Transfer(c, s.cfg.EscrowAccount, e.Provider, net); err != nil {
			return nil, err
		}
		if s.cfg.FeeAccount != (common.Address{}) {
			if err := s.currency.Transfer(c, s.cfg.EscrowAccount, s.cfg.FeeAccount, fee); err != nil {
				return nil, err
			}
		}

		pending, err := getAmount(c, pendingKey(e.Provider))
		if err != nil {
			return nil, err
		}
		if err := putAmount(c, pendingKey(e.Provider), pending.Sub(e.Amount)); err != nil {
			return nil, err
		}
		c.Store().Delete(openKey(e.Provider, b.ID))

		e.Status = EntrySettled
		e.Fee = fee
		e.NetPaid = net
		if err := putEntry(c, e); err != nil {
			return nil, err
		}
		if s.recorder != nil {
			if err := s.recorder.RecordReward(c, e.Provider, net, e.ContributionUnits, 1); err != nil {
				return nil, err
			}
		}

		res.Paid++
		res.Net = res.Net.Add(net)
		res.Fees = res.Fees.Add(fee)
		c.Emit(ModuleName, EventTypeRewardPaid,
			events.Attr(events.AttributeKeyBatchID, b.ID.Hex()),
			events.Attr(events.AttributeKeyProvider, e.Provider.Hex()),
			events.Attr(events.AttributeKeyAmount, net.String()),
			events.Attr(events.AttributeKeyFee, fee.String()),
		)
	}

	st.TotalDistributed = st.TotalDistributed.Add(res.Net)
	st.PlatformFeesCollected = st.PlatformFeesCollected.Add(res.Fees)
	st.SettledBatches++

	c.Emit(ModuleName, EventTypeBatchSettled,
		events.Attr(events.AttributeKeyBatchID, b.ID.Hex()),
		events.Attr(AttributeKeyEntries, strconv.FormatUint(uint64(res.Paid), 10)),
		events.Attr(events.AttributeKeyAmount, res.Net.String()),
	)
	if !res.Fees.IsZero() {
		c.Emit(ModuleName, EventTypePlatformFee,
			events.Attr(events.AttributeKeyBatchID, b.ID.Hex()),
			events.Attr(events.AttributeKeyAmount, res.Fees.String()),
		)
	}
	return res, nil
}

// GetBatch returns a batch.
func (s *Service) GetBatch(c *chain.Context, id common.Hash) (*Batch, error) {
	return getBatch(c, id)
}

// ListBatches returns batches in id order.
func (s *Service) ListBatches(c *chain.Context, limit int) ([]*Batch, error) {
	return state.ScanInto[Batch](c.Store(), batchPrefix, limit)
}

// BatchRewards returns the entries of a batch.
func (s *Service) BatchRewards(c *chain.Context, id common.Hash) ([]*ProviderReward, error) {
	if _, err := getBatch(c, id); err != nil {
		return nil, err
	}
	return listEntries(c, id)
}

// PendingReward returns what provider could claim now.
func (s *Service) PendingReward(c *chain.Context, provider common.Address) (amount.Amount, error) {
	return getAmount(c, pendingKey(provider))
}

// TotalPending returns the claimable amount summed over every provider.
func (s *Service) TotalPending(c *chain.Context) (amount.Amount, error) {
	return sumPending(c)
}

// Committed returns the sum of batch bounties opened against a task.
func (s *Service) Committed(c *chain.Context, task common.Hash) (amount.Amount, error) {
	return getAmount(c, committedKey(task))
}

// Stats returns the ledger-wide counters.
func (s *Service) Stats(c *chain.Context) (*Stats, error) {
	return getStats(c)
}

func satAdd(a, b uint64) uint64 {
	if a+b < a {
		return ^uint64(0)
	}
	return a + b
}
