package currency

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/state"
)

const (
	balancePrefix = "currency/balance/"
	issuanceKey   = "currency/issuance"
)

func balanceKey(addr common.Address) string {
	return balancePrefix + addr.Hex()
}

func getBalance(c *chain.Context, addr common.Address) (*Balance, error) {
	b := &Balance{Account: addr}
	if _, err := c.Store().Get(balanceKey(addr), b); err != nil {
		return nil, err
	}
	b.Account = addr
	return b, nil
}

func putBalance(c *chain.Context, b *Balance) error {
	if b.Free.IsZero() && b.Reserved.IsZero() {
		c.Store().Delete(balanceKey(b.Account))
		return nil
	}
	return c.Store().Put(balanceKey(b.Account), b)
}

func getIssuance(c *chain.Context) (amount.Amount, error) {
	var a amount.Amount
	_, err := c.Store().Get(issuanceKey, &a)
	return a, err
}

func listBalances(c *chain.Context, limit int) ([]*Balance, error) {
	return state.ScanInto[Balance](c.Store(), balancePrefix, limit)
}
