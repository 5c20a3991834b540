// Package currency tracks account balances for the ledger modules.
//
// Each account has a free balance, which it may spend, and a reserved
// balance, which is locked on behalf of a module (provider stake, task
// bounty). Modules move funds only through the primitives here:
//
//  1. Reserve moves free → reserved (fails if free is short)
//  2. Unreserve moves reserved → free (best effort, returns what moved)
//  3. Transfer moves free → free between accounts (fails if free is short)
//  4. SlashReserved removes reserved funds into the treasury (best effort)
//  5. Deposit mints new free balance (genesis and development faucet)
package currency

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/chain"
)

const ModuleName = "currency"

var (
	ErrInsufficientBalance = fmt.Errorf("%w: free balance too low", chain.ErrFunds)
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be positive", chain.ErrInvalid)
	ErrSelfTransfer        = fmt.Errorf("%w: cannot transfer to self", chain.ErrInvalid)
)

// Event types
const (
	EventTypeTransfer   = "transfer"
	EventTypeReserved   = "reserved"
	EventTypeUnreserved = "unreserved"
	EventTypeSlashed    = "reserve_slashed"
	EventTypeDeposit    = "deposit"
)

// Balance is an account's free and reserved funds.
type Balance struct {
	Account  common.Address `json:"account"`
	Free     amount.Amount  `json:"free"`
	Reserved amount.Amount  `json:"reserved"`
}

// Total returns free + reserved.
func (b *Balance) Total() amount.Amount {
	return b.Free.Add(b.Reserved)
}

// Ledger is the narrow currency interface the other modules depend on.
type Ledger interface {
	Reserve(c *chain.Context, who common.Address, amt amount.Amount) error
	Unreserve(c *chain.Context, who common.Address, amt amount.Amount) (amount.Amount, error)
	Transfer(c *chain.Context, from, to common.Address, amt amount.Amount) error
	SlashReserved(c *chain.Context, who common.Address, amt amount.Amount) (amount.Amount, error)
	Balance(c *chain.Context, who common.Address) (*Balance, error)
}

// TransferRequest is the request body for POST /v1/accounts/transfer.
type TransferRequest struct {
	To     string `json:"to" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// DepositRequest is the request body for POST /v1/admin/deposit.
type DepositRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}
