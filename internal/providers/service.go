package providers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/currency"
	"github.com/mbd888/computeledger/internal/events"
)

// Service implements the stake ledger.
type Service struct {
	cfg      Config
	currency currency.Ledger
}

// NewService creates a stake ledger over the currency service.
func NewService(cfg Config, ledger currency.Ledger) *Service {
	return &Service{cfg: cfg, currency: ledger}
}

// Config returns the deployment constants in use.
func (s *Service) Config() Config { return s.cfg }

// Register reserves the caller's stake and creates its provider entry.
func (s *Service) Register(c *chain.Context, origin auth.Origin, req RegisterRequest) (*Provider, error) {
	caller, err := auth.EnsureSigned(origin)
	if err != nil {
		return nil, err
	}

	if _, err := getProvider(c, caller); err == nil {
		return nil, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrProviderNotFound) {
		return nil, err
	}

	if req.Stake.Lt(s.cfg.MinimumStake) {
		return nil, fmt.Errorf("%w: minimum is %s", ErrStakeBelowMinimum, s.cfg.MinimumStake)
	}

	count, err := getCount(c)
	if err != nil {
		return nil, err
	}
	if count >= s.cfg.MaxProviders {
		return nil, ErrTooManyProviders
	}

	if err := req.Hardware.Validate(); err != nil {
		return nil, err
	}

	if err := s.currency.Reserve(c, caller, req.Stake); err != nil {
		return nil, err
	}

	h := c.Height()
	p := &Provider{
		Address:         caller,
		Stake:           req.Stake,
		Status:          StatusActive,
		Hardware:        req.Hardware,
		ReputationScore: InitialReputation,
		TokensEarned:    amount.Zero(),
		RegisteredAt:    h,
		LastActive:      h,
	}
	if err := putProvider(c, p); err != nil {
		return nil, err
	}
	if err := putCount(c, count+1); err != nil {
		return nil, err
	}

	c.Emit(ModuleName, EventTypeProviderRegistered,
		events.Attr(events.AttributeKeyProvider, caller.Hex()),
		events.Attr(events.AttributeKeyAmount, req.Stake.String()),
	)
	return p, nil
}

// UpdateHardware replaces the caller's hardware descriptor.
func (s *Service) UpdateHardware(c *chain.Context, origin auth.Origin, hw Hardware) (*Provider, error) {
	caller, err := auth.EnsureSigned(origin)
	if err != nil {
		return nil, err
	}
	p, err := getProvider(c, caller)
	if err != nil {
		return nil, err
	}
	if err := hw.Validate(); err != nil {
		return nil, err
	}

	p.Hardware = hw
	if err := putProvider(c, p); err != nil {
		return nil, err
	}
	c.Emit(ModuleName, EventTypeHardwareUpdated,
		events.Attr(events.AttributeKeyProvider, caller.Hex()),
	)
	return p, nil
}

// StartUnbonding begins the caller's exit; withdrawal opens UnstakingPeriod blocks later.
func (s *Service) StartUnbonding(c *chain.Context, origin auth.Origin) (*Provider, error) {
	caller, err := auth.EnsureSigned(origin)
	if err != nil {
		return nil, err
	}
	p, err := getProvider(c, caller)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusUnbonding {
		return nil, ErrAlreadyUnbonding
	}

	at := satAdd64(c.Height(), s.cfg.UnstakingPeriod)
	p.Status = StatusUnbonding
	p.UnbondingAt = &at
	if err := putProvider(c, p); err != nil {
		return nil, err
	}
	c.Emit(ModuleName, EventTypeUnbondingStarted,
		events.Attr(events.AttributeKeyProvider, caller.Hex()),
		events.Attr(AttributeKeyUnbondingAt, strconv.FormatUint(at, 10)),
	)
	return p, nil
}

// WithdrawStake returns the caller's full stake and removes its entry.
func (s *Service) WithdrawStake(c *chain.Context, origin auth.Origin) (amount.Amount, error) {
	caller, err := auth.EnsureSigned(origin)
	if err != nil {
		return amount.Zero(), err
	}
	p, err := getProvider(c, caller)
	if err != nil {
		return amount.Zero(), err
	}
	if p.Status != StatusUnbonding || p.UnbondingAt == nil {
		return amount.Zero(), ErrNotUnbonding
	}
	if c.Height() < *p.UnbondingAt {
		return amount.Zero(), fmt.Errorf("%w: withdrawable at height %d", ErrStillUnbonding, *p.UnbondingAt)
	}

	returned, err := s.currency.Unreserve(c, caller, p.Stake)
	if err != nil {
		return amount.Zero(), err
	}

	c.Store().Delete(providerKey(caller))
	count, err := getCount(c)
	if err != nil {
		return amount.Zero(), err
	}
	if count > 0 {
		count--
	}
	if err := putCount(c, count); err != nil {
		return amount.Zero(), err
	}

	c.Emit(ModuleName, EventTypeStakeWithdrawn,
		events.Attr(events.AttributeKeyProvider, caller.Hex()),
		events.Attr(events.AttributeKeyAmount, returned.String()),
	)
	return returned, nil
}

// Slash deducts SlashBPS of the provider's stake. Only the amount actually
// removed from the reserved balance is deducted and recorded.
func (s *Service) Slash(c *chain.Context, origin auth.Origin, provider common.Address, reason SlashReason) (*SlashRecord, error) {
	if err := auth.EnsureRoot(origin); err != nil {
		return nil, err
	}
	if !reason.Valid() {
		return nil, ErrInvalidSlashReason
	}
	p, err := getProvider(c, provider)
	if err != nil {
		return nil, err
	}

	nominal := p.Stake.BPS(s.cfg.SlashBPS)
	actual, err := s.currency.SlashReserved(c, provider, nominal)
	if err != nil {
		return nil, err
	}

	prevStatus := p.Status
	p.Stake = p.Stake.Sub(actual)
	p.ReputationScore = satSub(p.ReputationScore, SlashPenalty)
	if p.ReputationScore < SuspensionThreshold || p.Stake.Lt(s.cfg.MinimumActiveStake) {
		p.Status = StatusSuspended
	}
	if err := putProvider(c, p); err != nil {
		return nil, err
	}

	h := c.Height()
	seq, err := nextSlashSeq(c, provider, h)
	if err != nil {
		return nil, err
	}
	rec := &SlashRecord{
		Provider: provider,
		Height:   h,
		Seq:      seq,
		Reason:   reason,
		Amount:   actual,
	}
	if err := appendSlash(c, rec); err != nil {
		return nil, err
	}

	c.Emit(ModuleName, EventTypeProviderSlashed,
		events.Attr(events.AttributeKeyProvider, provider.Hex()),
		events.Attr(events.AttributeKeyAmount, actual.String()),
		events.Attr(events.AttributeKeyReason, string(reason)),
	)
	if p.Status != prevStatus {
		s.emitStatus(c, p)
	}
	return rec, nil
}

// UpdateReputation sets the provider's score directly, suspending below the threshold.
func (s *Service) UpdateReputation(c *chain.Context, origin auth.Origin, provider common.Address, score uint32) (*Provider, error) {
	if err := auth.EnsureRoot(origin); err != nil {
		return nil, err
	}
	if score > MaxReputation {
		return nil, ErrInvalidReputation
	}
	p, err := getProvider(c, provider)
	if err != nil {
		return nil, err
	}

	prevStatus := p.Status
	p.ReputationScore = score
	if score < SuspensionThreshold {
		p.Status = StatusSuspended
	}
	if err := putProvider(c, p); err != nil {
		return nil, err
	}

	c.Emit(ModuleName, EventTypeReputationUpdated,
		events.Attr(events.AttributeKeyProvider, provider.Hex()),
		events.Attr(AttributeKeyReputation, strconv.FormatUint(uint64(score), 10)),
	)
	if p.Status != prevStatus {
		s.emitStatus(c, p)
	}
	return p, nil
}

// UpdateStatus overrides the provider's status. Moving a provider into
// unbonding through this path schedules its withdrawal like StartUnbonding;
// moving it out clears the schedule.
func (s *Service) UpdateStatus(c *chain.Context, origin auth.Origin, provider common.Address, status Status) (*Provider, error) {
	if err := auth.EnsureRoot(origin); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	p, err := getProvider(c, provider)
	if err != nil {
		return nil, err
	}

	h := c.Height()
	switch {
	case status == StatusUnbonding && p.UnbondingAt == nil:
		at := satAdd64(h, s.cfg.UnstakingPeriod)
		p.UnbondingAt = &at
	case status != StatusUnbonding:
		p.UnbondingAt = nil
	}
	p.Status = status
	p.LastActive = h
	if err := putProvider(c, p); err != nil {
		return nil, err
	}
	s.emitStatus(c, p)
	return p, nil
}

// RecordReward adds a paid reward to the provider's cumulative counters.
// Accounts that are not registered providers are ignored.
func (s *Service) RecordReward(c *chain.Context, provider common.Address, paid amount.Amount, units uint64, entries uint32) error {
	p, err := getProvider(c, provider)
	if errors.Is(err, ErrProviderNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	p.TasksCompleted = satAdd32(p.TasksCompleted, entries)
	p.ContributionUnits = satAdd64(p.ContributionUnits, units)
	p.TokensEarned = p.TokensEarned.Add(paid)
	p.LastActive = c.Height()
	return putProvider(c, p)
}

// Get returns a provider.
func (s *Service) Get(c *chain.Context, addr common.Address) (*Provider, error) {
	return getProvider(c, addr)
}

// IsActive reports whether addr is registered with status active.
func (s *Service) IsActive(c *chain.Context, addr common.Address) (bool, error) {
	p, err := getProvider(c, addr)
	if errors.Is(err, ErrProviderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Status == StatusActive, nil
}

// List returns providers in address order.
func (s *Service) List(c *chain.Context, limit int) ([]*Provider, error) {
	return listProviders(c, limit)
}

// SlashHistory returns a provider's slash records, oldest first.
func (s *Service) SlashHistory(c *chain.Context, addr common.Address, limit int) ([]*SlashRecord, error) {
	return listSlashes(c, addr, limit)
}

// Count returns the number of registered providers.
func (s *Service) Count(c *chain.Context) (uint32, error) {
	return getCount(c)
}

func (s *Service) emitStatus(c *chain.Context, p *Provider) {
	c.Emit(ModuleName, EventTypeStatusChanged,
		events.Attr(events.AttributeKeyProvider, p.Address.Hex()),
		events.Attr(events.AttributeKeyStatus, string(p.Status)),
	)
}

func satSub(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}

func satAdd32(a, b uint32) uint32 {
	if a+b < a {
		return ^uint32(0)
	}
	return a + b
}

func satAdd64(a, b uint64) uint64 {
	if a+b < a {
		return ^uint64(0)
	}
	return a + b
}
