package currency

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/chain"
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

func setup(t *testing.T) (*chain.Executor, *Service, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder()
	exec := chain.NewExecutor(state.NewMemoryBackend(), chain.WithSinks(rec))
	svc := NewService(treasury)
	require.NoError(t, exec.Execute(context.Background(), "deposit", func(c *chain.Context) error {
		return svc.Deposit(c, alice, amount.Tokens(100))
	}))
	return exec, svc, rec
}

func balanceOf(t *testing.T, exec *chain.Executor, svc *Service, who common.Address) *Balance {
	t.Helper()
	var b *Balance
	require.NoError(t, exec.View(context.Background(), func(c *chain.Context) error {
		var err error
		b, err = svc.Balance(c, who)
		return err
	}))
	return b
}

func run(exec *chain.Executor, fn func(c *chain.Context) error) error {
	return exec.Execute(context.Background(), "test", fn)
}

func TestDeposit(t *testing.T) {
	exec, svc, rec := setup(t)

	b := balanceOf(t, exec, svc, alice)
	assert.Equal(t, "100.000000", b.Free.String())
	assert.True(t, b.Reserved.IsZero())
	assert.Len(t, rec.OfType(EventTypeDeposit), 1)

	err := run(exec, func(c *chain.Context) error {
		return svc.Deposit(c, alice, amount.Zero())
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	require.NoError(t, exec.View(context.Background(), func(c *chain.Context) error {
		issued, err := svc.TotalIssuance(c)
		require.NoError(t, err)
		assert.Equal(t, "100.000000", issued.String())
		return nil
	}))
}

func TestReserveUnreserve(t *testing.T) {
	exec, svc, _ := setup(t)

	require.NoError(t, run(exec, func(c *chain.Context) error {
		return svc.Reserve(c, alice, amount.Tokens(60))
	}))
	b := balanceOf(t, exec, svc, alice)
	assert.Equal(t, "40.000000", b.Free.String())
	assert.Equal(t, "60.000000", b.Reserved.String())

	err := run(exec, func(c *chain.Context) error {
		return svc.Reserve(c, alice, amount.Tokens(41))
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.ErrorIs(t, err, chain.ErrFunds)

	var moved amount.Amount
	require.NoError(t, run(exec, func(c *chain.Context) error {
		var err error
		moved, err = svc.Unreserve(c, alice, amount.Tokens(80))
		return err
	}))
	assert.Equal(t, "60.000000", moved.String(), "unreserve is best effort")
	b = balanceOf(t, exec, svc, alice)
	assert.Equal(t, "100.000000", b.Free.String())
	assert.True(t, b.Reserved.IsZero())
}

func TestTransfer(t *testing.T) {
	exec, svc, rec := setup(t)

	require.NoError(t, run(exec, func(c *chain.Context) error {
		return svc.TransferFree(c, alice, bob, amount.Tokens(30))
	}))
	assert.Equal(t, "70.000000", balanceOf(t, exec, svc, alice).Free.String())
	assert.Equal(t, "30.000000", balanceOf(t, exec, svc, bob).Free.String())
	assert.Len(t, rec.OfType(EventTypeTransfer), 1)

	tests := []struct {
		name string
		to   common.Address
		amt  amount.Amount
		want error
	}{
		{"zero", bob, amount.Zero(), ErrInvalidAmount},
		{"self", alice, amount.Tokens(1), ErrSelfTransfer},
		{"overdraw", bob, amount.Tokens(71), ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(exec, func(c *chain.Context) error {
				return svc.TransferFree(c, alice, tt.to, tt.amt)
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, "70.000000", balanceOf(t, exec, svc, alice).Free.String())
}

func TestTransfer_ReservedIsNotSpendable(t *testing.T) {
	exec, svc, _ := setup(t)
	require.NoError(t, run(exec, func(c *chain.Context) error {
		return svc.Reserve(c, alice, amount.Tokens(90))
	}))
	err := run(exec, func(c *chain.Context) error {
		return svc.Transfer(c, alice, bob, amount.Tokens(11))
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestSlashReserved_CreditsTreasury(t *testing.T) {
	exec, svc, rec := setup(t)
	require.NoError(t, run(exec, func(c *chain.Context) error {
		return svc.Reserve(c, alice, amount.Tokens(10))
	}))

	var slashed amount.Amount
	require.NoError(t, run(exec, func(c *chain.Context) error {
		var err error
		slashed, err = svc.SlashReserved(c, alice, amount.Tokens(25))
		return err
	}))
	assert.Equal(t, "10.000000", slashed.String())

	b := balanceOf(t, exec, svc, alice)
	assert.Equal(t, "90.000000", b.Free.String())
	assert.True(t, b.Reserved.IsZero())
	assert.Equal(t, "10.000000", balanceOf(t, exec, svc, treasury).Free.String())
	assert.Len(t, rec.OfType(EventTypeSlashed), 1)
}

func TestAccounts_OmitsEmptyBalances(t *testing.T) {
	exec, svc, _ := setup(t)
	require.NoError(t, run(exec, func(c *chain.Context) error {
		return svc.TransferFree(c, alice, bob, amount.Tokens(100))
	}))

	require.NoError(t, exec.View(context.Background(), func(c *chain.Context) error {
		list, err := svc.Accounts(c, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, bob, list[0].Account)
		return nil
	}))
}
