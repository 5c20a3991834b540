package rewards

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/state"
)

const (
	batchPrefix     = "rewards/batch/"
	entryPrefix     = "rewards/entry/"
	pendingPrefix   = "rewards/pending/"
	openPrefix      = "rewards/open/"
	unsettledPrefix = "rewards/unsettled/"
	committedPrefix = "rewards/committed/"
	statsKey        = "rewards/stats"
)

func batchKey(id common.Hash) string {
	return batchPrefix + id.Hex()
}

func entriesPrefix(batch common.Hash) string {
	return entryPrefix + batch.Hex() + "/"
}

func entryKey(batch common.Hash, provider common.Address) string {
	return entriesPrefix(batch) + provider.Hex()
}

func pendingKey(provider common.Address) string {
	return pendingPrefix + provider.Hex()
}

// openKey indexes entries still allocated to a provider, so a claim can
// mark them without scanning every batch.
func openEntriesPrefix(provider common.Address) string {
	return openPrefix + provider.Hex() + "/"
}

func openKey(provider common.Address, batch common.Hash) string {
	return openEntriesPrefix(provider) + batch.Hex()
}

// unsettledKey orders unsettled batches by creation height.
func unsettledKey(b *Batch) string {
	return unsettledPrefix + chain.HeightKey(b.CreatedAt) + "/" + b.ID.Hex()
}

func committedKey(task common.Hash) string {
	return committedPrefix + task.Hex()
}

func getBatch(c *chain.Context, id common.Hash) (*Batch, error) {
	b := &Batch{}
	ok, err := c.Store().Get(batchKey(id), b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBatchNotFound
	}
	return b, nil
}

func putBatch(c *chain.Context, b *Batch) error {
	return c.Store().Put(batchKey(b.ID), b)
}

func getEntry(c *chain.Context, batch common.Hash, provider common.Address) (*ProviderReward, bool, error) {
	e := &ProviderReward{}
	ok, err := c.Store().Get(entryKey(batch, provider), e)
	if err != nil || !ok {
		return nil, false, err
	}
	return e, true, nil
}

func putEntry(c *chain.Context, e *ProviderReward) error {
	return c.Store().Put(entryKey(e.BatchID, e.Provider), e)
}

func listEntries(c *chain.Context, batch common.Hash) ([]*ProviderReward, error) {
	return state.ScanInto[ProviderReward](c.Store(), entriesPrefix(batch), 0)
}

func getAmount(c *chain.Context, key string) (amount.Amount, error) {
	var a amount.Amount
	_, err := c.Store().Get(key, &a)
	return a, err
}

// putAmount stores a, deleting the key when a is zero.
func putAmount(c *chain.Context, key string, a amount.Amount) error {
	if a.IsZero() {
		c.Store().Delete(key)
		return nil
	}
	return c.Store().Put(key, a)
}

func sumPending(c *chain.Context) (amount.Amount, error) {
	total := amount.Zero()
	err := c.Store().Scan(pendingPrefix, func(_ string, value []byte) error {
		var a amount.Amount
		if err := json.Unmarshal(value, &a); err != nil {
			return err
		}
		total = total.Add(a)
		return nil
	})
	return total, err
}

func getStats(c *chain.Context) (*Stats, error) {
	s := &Stats{}
	_, err := c.Store().Get(statsKey, s)
	return s, err
}

func putStats(c *chain.Context, s *Stats) error {
	return c.Store().Put(statsKey, s)
}

// listOpen returns the batches holding allocated entries for provider.
func listOpen(c *chain.Context, provider common.Address) ([]common.Hash, error) {
	var out []common.Hash
	prefix := openEntriesPrefix(provider)
	err := c.Store().Scan(prefix, func(key string, _ []byte) error {
		out = append(out, common.HexToHash(key[len(prefix):]))
		return nil
	})
	return out, err
}

// listUnsettled returns unsettled batch ids in creation order, stopping at
// the first batch created after maxCreatedAt.
func listUnsettled(c *chain.Context, maxCreatedAt uint64, limit int) ([]common.Hash, error) {
	var out []common.Hash
	bound := chain.HeightKey(maxCreatedAt)
	err := c.Store().Scan(unsettledPrefix, func(key string, _ []byte) error {
		rest := key[len(unsettledPrefix):]
		if rest[:len(bound)] > bound {
			return state.ErrStopScan
		}
		out = append(out, common.HexToHash(rest[len(bound)+1:]))
		if limit > 0 && len(out) >= limit {
			return state.ErrStopScan
		}
		return nil
	})
	return out, err
}
