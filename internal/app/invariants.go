package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/chain"
)

var ErrInvariant = errors.New("ledger invariant violated")

// CheckInvariants audits committed state across all ledgers and returns
// every violation found, joined. A nil result means:
//
//   - balances sum to total issuance
//   - each account's reserved balance equals its provider stake plus the
//     bounties of its open tasks
//   - the escrow account holds at least every claimable reward
//   - task membership counts match the stored members and the task cap
//   - batch allocations and task commitments stay within their bounties
func (n *Node) CheckInvariants(ctx context.Context) error {
	return n.exec.View(ctx, func(c *chain.Context) error {
		var violations []error
		fail := func(format string, args ...any) {
			violations = append(violations, fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...))
		}

		balances, err := n.currency.Accounts(c, 0)
		if err != nil {
			return err
		}
		held := amount.Zero()
		reserved := make(map[common.Address]amount.Amount, len(balances))
		for _, b := range balances {
			held = held.Add(b.Total())
			reserved[b.Account] = b.Reserved
		}
		issued, err := n.currency.TotalIssuance(c)
		if err != nil {
			return err
		}
		if !held.Eq(issued) {
			fail("balances sum to %s, issuance is %s", held, issued)
		}

		expected := make(map[common.Address]amount.Amount)
		provs, err := n.providers.List(c, 0)
		if err != nil {
			return err
		}
		for _, p := range provs {
			expected[p.Address] = expected[p.Address].Add(p.Stake)
		}

		all, err := n.tasks.ListTasks(c, 0)
		if err != nil {
			return err
		}
		for _, t := range all {
			if t.Status.Open() {
				expected[t.Creator] = expected[t.Creator].Add(t.Bounty)
			}
			members, err := n.tasks.Members(c, t.ID)
			if err != nil {
				return err
			}
			if uint32(len(members)) != t.JoinedCount {
				fail("task %s has %d members, joined count %d", t.ID.Hex(), len(members), t.JoinedCount)
			}
			if t.JoinedCount > t.MaxProviders {
				fail("task %s joined count %d above max %d", t.ID.Hex(), t.JoinedCount, t.MaxProviders)
			}
			committed, err := n.rewards.Committed(c, t.ID)
			if err != nil {
				return err
			}
			if committed.Gt(t.Bounty) {
				fail("task %s has %s committed to batches, bounty %s", t.ID.Hex(), committed, t.Bounty)
			}
		}

		accounts := make([]common.Address, 0, len(expected)+len(reserved))
		for a := range expected {
			accounts = append(accounts, a)
		}
		for a := range reserved {
			if _, ok := expected[a]; !ok {
				accounts = append(accounts, a)
			}
		}
		sort.Slice(accounts, func(i, j int) bool { return accounts[i].Cmp(accounts[j]) < 0 })
		for _, a := range accounts {
			if !reserved[a].Eq(expected[a]) {
				fail("account %s reserves %s, stake and open bounties total %s", a.Hex(), reserved[a], expected[a])
			}
		}

		pending, err := n.rewards.TotalPending(c)
		if err != nil {
			return err
		}
		escrow, err := n.currency.Balance(c, n.rewards.EscrowAccount())
		if err != nil {
			return err
		}
		if escrow.Free.Lt(pending) {
			fail("escrow holds %s, claimable rewards total %s", escrow.Free, pending)
		}

		batches, err := n.rewards.ListBatches(c, 0)
		if err != nil {
			return err
		}
		for _, b := range batches {
			if b.Allocated.Gt(b.TotalBounty) {
				fail("batch %s allocated %s above bounty %s", b.ID.Hex(), b.Allocated, b.TotalBounty)
			}
		}
		return errors.Join(violations...)
	})
}
