package providers

import (
	"context"
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
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	treasury = chain.ModuleAccount("py/trsry")
)

type harness struct {
	t        *testing.T
	exec     *chain.Executor
	currency *currency.Service
	svc      *Service
	root     auth.Origin
	rec      *events.Recorder
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	rec := events.NewRecorder()
	cur := currency.NewService(treasury)
	authority, err := auth.NewAuthority("test-secret")
	require.NoError(t, err)
	return &harness{
		t:        t,
		exec:     chain.NewExecutor(state.NewMemoryBackend(), chain.WithSinks(rec)),
		currency: cur,
		svc:      NewService(cfg, cur),
		root:     authority.Origin(),
		rec:      rec,
	}
}

func (h *harness) do(fn func(c *chain.Context) error) error {
	return h.exec.Execute(context.Background(), "test", fn)
}

func (h *harness) fund(who common.Address, tokens uint64) {
	h.t.Helper()
	require.NoError(h.t, h.do(func(c *chain.Context) error {
		return h.currency.Deposit(c, who, amount.Tokens(tokens))
	}))
}

func (h *harness) register(who common.Address, stake amount.Amount) (*Provider, error) {
	var p *Provider
	err := h.do(func(c *chain.Context) error {
		var err error
		p, err = h.svc.Register(c, auth.Signed(who), RegisterRequest{Stake: stake, Hardware: gpu()})
		return err
	})
	return p, err
}

func (h *harness) provider(who common.Address) *Provider {
	h.t.Helper()
	var p *Provider
	require.NoError(h.t, h.exec.View(context.Background(), func(c *chain.Context) error {
		var err error
		p, err = h.svc.Get(c, who)
		return err
	}))
	return p
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

func (h *harness) slash(who common.Address) (*SlashRecord, error) {
	var rec *SlashRecord
	err := h.do(func(c *chain.Context) error {
		var err error
		rec, err = h.svc.Slash(c, h.root, who, SlashDowntime)
		return err
	})
	return rec, err
}

func (h *harness) advance(n uint64) {
	h.t.Helper()
	_, err := h.exec.Advance(context.Background(), n)
	require.NoError(h.t, err)
}

func gpu() Hardware {
	return Hardware{
		GPUModel:          "RTX 4090",
		GPUTier:           GPUTierProsumer,
		VRAMGB:            24,
		ComputeCapability: 89,
		BandwidthMbps:     1000,
		CPUCores:          16,
		RAMGB:             64,
	}
}

func TestRegister(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 5000)

	p, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)
	assert.Equal(t, StatusActive, p.Status)
	assert.Equal(t, uint32(InitialReputation), p.ReputationScore)
	assert.Equal(t, amount.Tokens(1000), p.Stake)

	bal := h.balance(alice)
	assert.Equal(t, amount.Tokens(4000), bal.Free)
	assert.Equal(t, amount.Tokens(1000), bal.Reserved)

	require.NoError(t, h.exec.View(context.Background(), func(c *chain.Context) error {
		n, err := h.svc.Count(c)
		assert.Equal(t, uint32(1), n)
		return err
	}))

	regs := h.rec.OfType(EventTypeProviderRegistered)
	require.Len(t, regs, 1)
	assert.Equal(t, alice.Hex(), regs[0].Attr(events.AttributeKeyProvider))
	assert.Equal(t, "1000.000000", regs[0].Attr(events.AttributeKeyAmount))
}

func TestRegister_Failures(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxProviders = 1 })
	h.fund(alice, 5000)
	h.fund(bob, 500)

	_, err := h.register(alice, amount.Tokens(999))
	assert.ErrorIs(t, err, ErrStakeBelowMinimum)
	assert.ErrorIs(t, err, chain.ErrInvalid)

	_, err = h.register(bob, amount.Tokens(1000))
	assert.ErrorIs(t, err, currency.ErrInsufficientBalance)
	assert.True(t, h.balance(bob).Reserved.IsZero(), "failed registration must not reserve")

	_, err = h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)

	_, err = h.register(alice, amount.Tokens(1000))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	h.fund(bob, 1000)
	_, err = h.register(bob, amount.Tokens(1000))
	assert.ErrorIs(t, err, ErrTooManyProviders)

	_, err = h.register(common.Address{}, amount.Tokens(1000))
	assert.ErrorIs(t, err, auth.ErrBadOrigin)

	assert.Len(t, h.rec.OfType(EventTypeProviderRegistered), 1)
}

func TestHardwareValidation(t *testing.T) {
	hw := gpu()
	hw.VRAMGB = 0
	assert.ErrorIs(t, hw.Validate(), ErrInvalidHardware)

	hw = gpu()
	hw.GPUModel = strings.Repeat("x", MaxGPUModelLength+1)
	assert.ErrorIs(t, hw.Validate(), ErrGPUModelTooLong)

	hw = gpu()
	hw.GPUTier = "datacenter"
	assert.ErrorIs(t, hw.Validate(), ErrInvalidHardware)

	assert.NoError(t, gpu().Validate())
}

func TestUpdateHardware(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)

	hw := gpu()
	hw.GPUModel = "H100"
	hw.GPUTier = GPUTierProfessional
	hw.VRAMGB = 80
	require.NoError(t, h.do(func(c *chain.Context) error {
		_, err := h.svc.UpdateHardware(c, auth.Signed(alice), hw)
		return err
	}))
	p := h.provider(alice)
	assert.Equal(t, "H100", p.Hardware.GPUModel)
	assert.Equal(t, StatusActive, p.Status)

	err = h.do(func(c *chain.Context) error {
		_, err := h.svc.UpdateHardware(c, auth.Signed(bob), hw)
		return err
	})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestSlash_TenPercent(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)

	rec, err := h.slash(alice)
	require.NoError(t, err)
	assert.Equal(t, amount.Tokens(100), rec.Amount)
	assert.Equal(t, SlashDowntime, rec.Reason)

	p := h.provider(alice)
	assert.Equal(t, amount.Tokens(900), p.Stake)
	assert.Equal(t, uint32(400), p.ReputationScore)
	assert.Equal(t, StatusActive, p.Status)

	assert.Equal(t, amount.Tokens(900), h.balance(alice).Reserved)
	assert.Equal(t, amount.Tokens(100), h.balance(treasury).Free)

	slashed := h.rec.OfType(EventTypeProviderSlashed)
	require.Len(t, slashed, 1)
	assert.Equal(t, "100.000000", slashed[0].Attr(events.AttributeKeyAmount))
	assert.Empty(t, h.rec.OfType(EventTypeStatusChanged))
}

func TestSlash_SuspendsBelowReputationThreshold(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := h.slash(alice)
		require.NoError(t, err)
		h.advance(1)
	}
	p := h.provider(alice)
	assert.Equal(t, uint32(200), p.ReputationScore)
	assert.Equal(t, StatusActive, p.Status, "threshold is strictly below 200")
	assert.Equal(t, amount.MustParse("729"), p.Stake)

	_, err = h.slash(alice)
	require.NoError(t, err)
	p = h.provider(alice)
	assert.Equal(t, uint32(100), p.ReputationScore)
	assert.Equal(t, StatusSuspended, p.Status)
	assert.Len(t, h.rec.OfType(EventTypeStatusChanged), 1)
}

func TestSlash_SuspendsBelowActiveStake(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MinimumActiveStake = amount.Tokens(950) })
	h.fund(alice, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)

	_, err = h.slash(alice)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, h.provider(alice).Status)
}

func TestSlash_RecordsActualAmountWhenReserveShort(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)

	// Drain the reservation out from under the ledger so the slash comes up short.
	require.NoError(t, h.do(func(c *chain.Context) error {
		_, err := h.currency.Unreserve(c, alice, amount.Tokens(960))
		return err
	}))

	rec, err := h.slash(alice)
	require.NoError(t, err)
	assert.Equal(t, amount.Tokens(40), rec.Amount)
	assert.Equal(t, amount.Tokens(960), h.provider(alice).Stake)
	assert.True(t, h.balance(alice).Reserved.IsZero())
}

func TestSlash_HistoryIsAppendOnly(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)

	// Two slashes in the same block must both be kept.
	_, err = h.slash(alice)
	require.NoError(t, err)
	_, err = h.slash(alice)
	require.NoError(t, err)
	h.advance(3)
	_, err = h.slash(alice)
	require.NoError(t, err)

	var history []*SlashRecord
	require.NoError(t, h.exec.View(context.Background(), func(c *chain.Context) error {
		var err error
		history, err = h.svc.SlashHistory(c, alice, 0)
		return err
	}))
	require.Len(t, history, 3)
	assert.Equal(t, uint32(0), history[0].Seq)
	assert.Equal(t, uint32(1), history[1].Seq)
	assert.Equal(t, uint64(3), history[2].Height)
	assert.Equal(t, amount.Tokens(100), history[0].Amount)
	assert.Equal(t, amount.Tokens(90), history[1].Amount)
}

func TestSlash_RequiresAuthority(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)

	err = h.do(func(c *chain.Context) error {
		_, err := h.svc.Slash(c, auth.Signed(bob), alice, SlashDowntime)
		return err
	})
	assert.ErrorIs(t, err, auth.ErrNotAuthority)

	err = h.do(func(c *chain.Context) error {
		_, err := h.svc.Slash(c, h.root, alice, "bored")
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidSlashReason)

	_, err = h.slash(bob)
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.Equal(t, amount.Tokens(1000), h.provider(alice).Stake)
}

func TestUnbondingGate(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.UnstakingPeriod = 10 })
	h.fund(alice, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)

	withdraw := func() (amount.Amount, error) {
		var out amount.Amount
		err := h.do(func(c *chain.Context) error {
			var err error
			out, err = h.svc.WithdrawStake(c, auth.Signed(alice))
			return err
		})
		return out, err
	}
	unbond := func() error {
		return h.do(func(c *chain.Context) error {
			_, err := h.svc.StartUnbonding(c, auth.Signed(alice))
			return err
		})
	}

	_, err = withdraw()
	assert.ErrorIs(t, err, ErrNotUnbonding)

	h.advance(5)
	require.NoError(t, unbond())
	assert.ErrorIs(t, unbond(), ErrAlreadyUnbonding)

	p := h.provider(alice)
	require.NotNil(t, p.UnbondingAt)
	assert.Equal(t, uint64(15), *p.UnbondingAt)

	h.advance(9)
	_, err = withdraw()
	assert.ErrorIs(t, err, ErrStillUnbonding)

	h.advance(1)
	returned, err := withdraw()
	require.NoError(t, err)
	assert.Equal(t, amount.Tokens(1000), returned)

	bal := h.balance(alice)
	assert.Equal(t, amount.Tokens(1000), bal.Free)
	assert.True(t, bal.Reserved.IsZero())

	require.NoError(t, h.exec.View(context.Background(), func(c *chain.Context) error {
		_, err := h.svc.Get(c, alice)
		assert.ErrorIs(t, err, ErrProviderNotFound)
		n, err := h.svc.Count(c)
		assert.Zero(t, n)
		return err
	}))

	// Re-registration is allowed after withdrawal.
	_, err = h.register(alice, amount.Tokens(1000))
	assert.NoError(t, err)
}

func TestUnbondingDeadlineSaturates(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.UnstakingPeriod = ^uint64(0) })
	h.fund(alice, 1000)
	h.fund(bob, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)
	_, err = h.register(bob, amount.Tokens(1000))
	require.NoError(t, err)
	h.advance(5)

	require.NoError(t, h.do(func(c *chain.Context) error {
		_, err := h.svc.StartUnbonding(c, auth.Signed(alice))
		return err
	}))
	require.NoError(t, h.do(func(c *chain.Context) error {
		_, err := h.svc.UpdateStatus(c, h.root, bob, StatusUnbonding)
		return err
	}))

	for _, who := range []common.Address{alice, bob} {
		p := h.provider(who)
		require.NotNil(t, p.UnbondingAt)
		assert.Equal(t, ^uint64(0), *p.UnbondingAt)

		err := h.do(func(c *chain.Context) error {
			_, err := h.svc.WithdrawStake(c, auth.Signed(who))
			return err
		})
		assert.ErrorIs(t, err, ErrStillUnbonding)
		assert.Equal(t, amount.Tokens(1000), h.balance(who).Reserved)
	}
}

func TestUpdateReputation(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)

	update := func(o auth.Origin, score uint32) error {
		return h.do(func(c *chain.Context) error {
			_, err := h.svc.UpdateReputation(c, o, alice, score)
			return err
		})
	}

	assert.ErrorIs(t, update(h.root, 1001), ErrInvalidReputation)
	assert.ErrorIs(t, update(auth.Signed(alice), 900), auth.ErrNotAuthority)

	require.NoError(t, update(h.root, 900))
	assert.Equal(t, uint32(900), h.provider(alice).ReputationScore)
	assert.Equal(t, StatusActive, h.provider(alice).Status)

	require.NoError(t, update(h.root, 199))
	assert.Equal(t, StatusSuspended, h.provider(alice).Status)
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.UnstakingPeriod = 100 })
	h.fund(alice, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)
	h.advance(7)

	set := func(s Status) error {
		return h.do(func(c *chain.Context) error {
			_, err := h.svc.UpdateStatus(c, h.root, alice, s)
			return err
		})
	}

	require.NoError(t, set(StatusBusy))
	p := h.provider(alice)
	assert.Equal(t, StatusBusy, p.Status)
	assert.Equal(t, uint64(7), p.LastActive)

	require.NoError(t, set(StatusUnbonding))
	p = h.provider(alice)
	require.NotNil(t, p.UnbondingAt, "unbonding status always carries a withdrawal height")
	assert.Equal(t, uint64(107), *p.UnbondingAt)

	require.NoError(t, set(StatusActive))
	assert.Nil(t, h.provider(alice).UnbondingAt)

	assert.ErrorIs(t, set("sleeping"), ErrInvalidStatus)
}

func TestRecordRewardAndIsActive(t *testing.T) {
	h := newHarness(t)
	h.fund(alice, 1000)
	_, err := h.register(alice, amount.Tokens(1000))
	require.NoError(t, err)

	require.NoError(t, h.do(func(c *chain.Context) error {
		if err := h.svc.RecordReward(c, alice, amount.MustParse("58.8"), 600, 1); err != nil {
			return err
		}
		// unknown accounts are ignored
		return h.svc.RecordReward(c, bob, amount.Tokens(1), 1, 1)
	}))

	p := h.provider(alice)
	assert.Equal(t, uint32(1), p.TasksCompleted)
	assert.Equal(t, uint64(600), p.ContributionUnits)
	assert.Equal(t, amount.MustParse("58.8"), p.TokensEarned)

	require.NoError(t, h.exec.View(context.Background(), func(c *chain.Context) error {
		ok, err := h.svc.IsActive(c, alice)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = h.svc.IsActive(c, bob)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}
