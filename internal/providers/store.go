package providers

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/state"
)

const (
	providerPrefix = "providers/entry/"
	slashPrefix    = "providers/slash/"
	countKey       = "providers/count"
)

func providerKey(addr common.Address) string {
	return providerPrefix + addr.Hex()
}

func slashHistoryPrefix(addr common.Address) string {
	return slashPrefix + addr.Hex() + "/"
}

func slashKey(addr common.Address, height uint64, seq uint32) string {
	return fmt.Sprintf("%s%s/%010d", slashHistoryPrefix(addr), chain.HeightKey(height), seq)
}

func getProvider(c *chain.Context, addr common.Address) (*Provider, error) {
	p := &Provider{}
	ok, err := c.Store().Get(providerKey(addr), p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p, nil
}

func putProvider(c *chain.Context, p *Provider) error {
	return c.Store().Put(providerKey(p.Address), p)
}

func getCount(c *chain.Context) (uint32, error) {
	var n uint32
	_, err := c.Store().Get(countKey, &n)
	return n, err
}

func putCount(c *chain.Context, n uint32) error {
	return c.Store().Put(countKey, n)
}

// nextSlashSeq returns the number of slashes already recorded for addr at height.
func nextSlashSeq(c *chain.Context, addr common.Address, height uint64) (uint32, error) {
	var n uint32
	prefix := slashHistoryPrefix(addr) + chain.HeightKey(height) + "/"
	err := c.Store().Scan(prefix, func(string, []byte) error {
		n++
		return nil
	})
	return n, err
}

func appendSlash(c *chain.Context, r *SlashRecord) error {
	key := slashKey(r.Provider, r.Height, r.Seq)
	exists, err := c.Store().Has(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("slash record %s already written", key)
	}
	return c.Store().Put(key, r)
}

func listProviders(c *chain.Context, limit int) ([]*Provider, error) {
	return state.ScanInto[Provider](c.Store(), providerPrefix, limit)
}

func listSlashes(c *chain.Context, addr common.Address, limit int) ([]*SlashRecord, error) {
	return state.ScanInto[SlashRecord](c.Store(), slashHistoryPrefix(addr), limit)
}
