package tasks

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/state"
)

const (
	taskPrefix    = "tasks/entry/"
	memberPrefix  = "tasks/member/"
	creatorPrefix = "tasks/creator/"
	countKey      = "tasks/count"
)

func taskKey(id common.Hash) string {
	return taskPrefix + id.Hex()
}

func membersPrefix(id common.Hash) string {
	return memberPrefix + id.Hex() + "/"
}

func memberKey(id common.Hash, provider common.Address) string {
	return membersPrefix(id) + provider.Hex()
}

func creatorKey(creator common.Address, id common.Hash) string {
	return creatorPrefix + creator.Hex() + "/" + id.Hex()
}

func getTask(c *chain.Context, id common.Hash) (*Task, error) {
	t := &Task{}
	ok, err := c.Store().Get(taskKey(id), t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

func putTask(c *chain.Context, t *Task) error {
	return c.Store().Put(taskKey(t.ID), t)
}

func getCount(c *chain.Context) (uint64, error) {
	var n uint64
	_, err := c.Store().Get(countKey, &n)
	return n, err
}

func isMember(c *chain.Context, id common.Hash, provider common.Address) (bool, error) {
	var joined bool
	ok, err := c.Store().Get(memberKey(id, provider), &joined)
	return ok && joined, err
}

func listMembers(c *chain.Context, id common.Hash) ([]common.Address, error) {
	var out []common.Address
	prefix := membersPrefix(id)
	err := c.Store().Scan(prefix, func(key string, _ []byte) error {
		out = append(out, common.HexToAddress(key[len(prefix):]))
		return nil
	})
	return out, err
}

func listTasks(c *chain.Context, limit int) ([]*Task, error) {
	return state.ScanInto[Task](c.Store(), taskPrefix, limit)
}

func listByCreator(c *chain.Context, creator common.Address, limit int) ([]*Task, error) {
	var out []*Task
	prefix := creatorPrefix + creator.Hex() + "/"
	err := c.Store().Scan(prefix, func(key string, _ []byte) error {
		t, err := getTask(c, common.HexToHash(key[len(prefix):]))
		if err != nil {
			return err
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			return state.ErrStopScan
		}
		return nil
	})
	return out, err
}
