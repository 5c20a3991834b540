package currency

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/events"
)

// Service implements balance bookkeeping over chain state.
type Service struct {
	treasury common.Address
}

// NewService creates a currency service. Slashed funds are credited to treasury.
func NewService(treasury common.Address) *Service {
	return &Service{treasury: treasury}
}

// Treasury returns the account receiving slashed funds.
func (s *Service) Treasury() common.Address { return s.treasury }

// Balance returns the account's current balance; unknown accounts are zero.
func (s *Service) Balance(c *chain.Context, who common.Address) (*Balance, error) {
	return getBalance(c, who)
}

// Reserve locks amt of who's free balance.
func (s *Service) Reserve(c *chain.Context, who common.Address, amt amount.Amount) error {
	if amt.IsZero() {
		return nil
	}
	b, err := getBalance(c, who)
	if err != nil {
		return err
	}
	free, ok := b.Free.CheckedSub(amt)
	if !ok {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, amt, b.Free)
	}
	b.Free = free
	b.Reserved = b.Reserved.Add(amt)
	if err := putBalance(c, b); err != nil {
		return err
	}
	c.Emit(ModuleName, EventTypeReserved,
		events.Attr(events.AttributeKeyAccount, who.Hex()),
		events.Attr(events.AttributeKeyAmount, amt.String()),
	)
	return nil
}

// Unreserve releases up to amt of who's reserved balance and returns the
// amount actually released.
func (s *Service) Unreserve(c *chain.Context, who common.Address, amt amount.Amount) (amount.Amount, error) {
	b, err := getBalance(c, who)
	if err != nil {
		return amount.Zero(), err
	}
	moved := amount.Min(amt, b.Reserved)
	if moved.IsZero() {
		return moved, nil
	}
	b.Reserved = b.Reserved.Sub(moved)
	b.Free = b.Free.Add(moved)
	if err := putBalance(c, b); err != nil {
		return amount.Zero(), err
	}
	c.Emit(ModuleName, EventTypeUnreserved,
		events.Attr(events.AttributeKeyAccount, who.Hex()),
		events.Attr(events.AttributeKeyAmount, moved.String()),
	)
	return moved, nil
}

// Transfer moves amt of free balance from one account to another.
func (s *Service) Transfer(c *chain.Context, from, to common.Address, amt amount.Amount) error {
	if amt.IsZero() || from == to {
		return nil
	}
	src, err := getBalance(c, from)
	if err != nil {
		return err
	}
	free, ok := src.Free.CheckedSub(amt)
	if !ok {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, amt, src.Free)
	}
	src.Free = free
	if err := putBalance(c, src); err != nil {
		return err
	}

	dst, err := getBalance(c, to)
	if err != nil {
		return err
	}
	dst.Free = dst.Free.Add(amt)
	if err := putBalance(c, dst); err != nil {
		return err
	}

	c.Emit(ModuleName, EventTypeTransfer,
		events.Attr(events.AttributeKeyFrom, from.Hex()),
		events.Attr(events.AttributeKeyTo, to.Hex()),
		events.Attr(events.AttributeKeyAmount, amt.String()),
	)
	return nil
}

// SlashReserved removes up to amt from who's reserved balance, credits it to
// the treasury, and returns the amount actually slashed.
func (s *Service) SlashReserved(c *chain.Context, who common.Address, amt amount.Amount) (amount.Amount, error) {
	b, err := getBalance(c, who)
	if err != nil {
		return amount.Zero(), err
	}
	slashed := amount.Min(amt, b.Reserved)
	if slashed.IsZero() {
		return slashed, nil
	}
	b.Reserved = b.Reserved.Sub(slashed)
	if err := putBalance(c, b); err != nil {
		return amount.Zero(), err
	}

	t, err := getBalance(c, s.treasury)
	if err != nil {
		return amount.Zero(), err
	}
	t.Free = t.Free.Add(slashed)
	if err := putBalance(c, t); err != nil {
		return amount.Zero(), err
	}

	c.Emit(ModuleName, EventTypeSlashed,
		events.Attr(events.AttributeKeyAccount, who.Hex()),
		events.Attr(events.AttributeKeyTo, s.treasury.Hex()),
		events.Attr(events.AttributeKeyAmount, slashed.String()),
	)
	return slashed, nil
}

// Deposit mints amt into who's free balance.
func (s *Service) Deposit(c *chain.Context, who common.Address, amt amount.Amount) error {
	if amt.IsZero() {
		return ErrInvalidAmount
	}
	b, err := getBalance(c, who)
	if err != nil {
		return err
	}
	b.Free = b.Free.Add(amt)
	if err := putBalance(c, b); err != nil {
		return err
	}
	issued, err := getIssuance(c)
	if err != nil {
		return err
	}
	if err := c.Store().Put(issuanceKey, issued.Add(amt)); err != nil {
		return err
	}
	c.Emit(ModuleName, EventTypeDeposit,
		events.Attr(events.AttributeKeyAccount, who.Hex()),
		events.Attr(events.AttributeKeyAmount, amt.String()),
	)
	return nil
}

// TransferFree is the signed-account transfer operation.
func (s *Service) TransferFree(c *chain.Context, from, to common.Address, amt amount.Amount) error {
	if amt.IsZero() {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	return s.Transfer(c, from, to, amt)
}

// TotalIssuance returns the total amount ever minted by Deposit.
func (s *Service) TotalIssuance(c *chain.Context) (amount.Amount, error) {
	return getIssuance(c)
}

// Accounts lists non-empty balances in address order.
func (s *Service) Accounts(c *chain.Context, limit int) ([]*Balance, error) {
	return listBalances(c, limit)
}
