package rewards

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/chain"
	"pgregory.net/rapid"
)

// Funds that enter escrow for a task leave it only once, either to a
// provider or as a fee, whatever order claims and settlements happen in.
func TestEscrowConservation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := newHarness(rt, func(c *Config) { c.MaxBatchesPerSettlement = 3 })
		const providers = 4

		var batches []common.Hash
		allocated := map[common.Address]amount.Amount{}
		deposited := amount.Zero()

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 4).Draw(rt, "action") {
			case 0:
				bounty := rapid.Uint64Range(1, 500).Draw(rt, "bounty")
				task := h.completedTask(byte(len(batches)+1), bounty)
				deposited = deposited.Add(amount.Tokens(bounty))
				b, err := h.createBatch(task, amount.Tokens(bounty))
				if err != nil {
					rt.Fatalf("create batch: %v", err)
				}
				batches = append(batches, b.ID)
			case 1:
				if len(batches) == 0 {
					continue
				}
				id := batches[rapid.IntRange(0, len(batches)-1).Draw(rt, "batch")]
				p := provider(rapid.IntRange(0, providers-1).Draw(rt, "provider"))
				amt := amount.FromUnits(rapid.Uint64Range(10_000, 300_000_000).Draw(rt, "amount"))
				if err := h.submit(id, RewardInput{Provider: p, Amount: amt, QualityScore: 1000, HardwareMultiplier: 100}); err == nil {
					allocated[p] = allocated[p].Add(amt)
				}
			case 2:
				_, _ = h.claim(provider(rapid.IntRange(0, providers-1).Draw(rt, "claimer")))
			case 3:
				if len(batches) == 0 {
					continue
				}
				_, _ = h.settle(batches[rapid.IntRange(0, len(batches)-1).Draw(rt, "settle")])
			case 4:
				h.advance(rapid.Uint64Range(1, 150).Draw(rt, "blocks"))
				_, _ = h.sweep()
			}

			total := amount.Zero()
			pendingSum := amount.Zero()
			h.view(func(c *chain.Context) error {
				for j := 0; j < providers; j++ {
					p := provider(j)
					b, err := h.currency.Balance(c, p)
					if err != nil {
						return err
					}
					if b.Free.Gt(allocated[p]) {
						rt.Fatalf("provider %d received %s of %s allocated", j, b.Free, allocated[p])
					}
					total = total.Add(b.Free)
					pending, err := h.svc.PendingReward(c, p)
					if err != nil {
						return err
					}
					pendingSum = pendingSum.Add(pending)
				}
				for _, who := range []common.Address{h.cfg.EscrowAccount, treasury} {
					b, err := h.currency.Balance(c, who)
					if err != nil {
						return err
					}
					total = total.Add(b.Free)
				}
				escrow, err := h.currency.Balance(c, h.cfg.EscrowAccount)
				if err != nil {
					return err
				}
				if escrow.Free.Lt(pendingSum) {
					rt.Fatalf("escrow %s cannot cover pending %s", escrow.Free, pendingSum)
				}
				return nil
			})
			if !total.Eq(deposited) {
				rt.Fatalf("value not conserved: %s held of %s deposited", total, deposited)
			}
		}
	})
}
