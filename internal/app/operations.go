package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/currency"
	"github.com/mbd888/computeledger/internal/providers"
	"github.com/mbd888/computeledger/internal/rewards"
	"github.com/mbd888/computeledger/internal/tasks"
	"github.com/mbd888/computeledger/internal/traces"
)

var (
	_ currency.Operations  = (*Node)(nil)
	_ providers.Operations = (*Node)(nil)
	_ tasks.Operations     = (*Node)(nil)
	_ rewards.Operations   = (*Node)(nil)
)

// Currency

func (n *Node) Transfer(ctx context.Context, origin auth.Origin, to common.Address, amt amount.Amount) error {
	return n.exec.Execute(ctx, "currency.transfer", func(c *chain.Context) error {
		from, err := auth.EnsureSigned(origin)
		if err != nil {
			return err
		}
		traces.Annotate(c.Context(), traces.Account(from.Hex()), traces.Amount(amt.String()))
		return n.currency.TransferFree(c, from, to, amt)
	})
}

// Deposit mints funds. Only the authority may call it.
func (n *Node) Deposit(ctx context.Context, origin auth.Origin, who common.Address, amt amount.Amount) error {
	return n.exec.Execute(ctx, "currency.deposit", func(c *chain.Context) error {
		if err := auth.EnsureRoot(origin); err != nil {
			return err
		}
		traces.Annotate(c.Context(), traces.Account(who.Hex()), traces.Amount(amt.String()))
		return n.currency.Deposit(c, who, amt)
	})
}

func (n *Node) Balance(ctx context.Context, who common.Address) (*currency.Balance, error) {
	return view(ctx, n, func(c *chain.Context) (*currency.Balance, error) {
		return n.currency.Balance(c, who)
	})
}

func (n *Node) Accounts(ctx context.Context, limit int) ([]*currency.Balance, error) {
	return view(ctx, n, func(c *chain.Context) ([]*currency.Balance, error) {
		return n.currency.Accounts(c, limit)
	})
}

func (n *Node) TotalIssuance(ctx context.Context) (amount.Amount, error) {
	return view(ctx, n, n.currency.TotalIssuance)
}

// Stake ledger

func (n *Node) RegisterProvider(ctx context.Context, origin auth.Origin, req providers.RegisterRequest) (*providers.Provider, error) {
	return execute(ctx, n, "providers.register", func(c *chain.Context) (*providers.Provider, error) {
		return n.providers.Register(c, origin, req)
	})
}

func (n *Node) UpdateHardware(ctx context.Context, origin auth.Origin, hw providers.Hardware) (*providers.Provider, error) {
	return execute(ctx, n, "providers.update_hardware", func(c *chain.Context) (*providers.Provider, error) {
		return n.providers.UpdateHardware(c, origin, hw)
	})
}

func (n *Node) StartUnbonding(ctx context.Context, origin auth.Origin) (*providers.Provider, error) {
	return execute(ctx, n, "providers.start_unbonding", func(c *chain.Context) (*providers.Provider, error) {
		return n.providers.StartUnbonding(c, origin)
	})
}

func (n *Node) WithdrawStake(ctx context.Context, origin auth.Origin) (amount.Amount, error) {
	return execute(ctx, n, "providers.withdraw_stake", func(c *chain.Context) (amount.Amount, error) {
		return n.providers.WithdrawStake(c, origin)
	})
}

func (n *Node) SlashProvider(ctx context.Context, origin auth.Origin, provider common.Address, reason providers.SlashReason) (*providers.SlashRecord, error) {
	return execute(ctx, n, "providers.slash", func(c *chain.Context) (*providers.SlashRecord, error) {
		traces.Annotate(c.Context(), traces.Account(provider.Hex()))
		return n.providers.Slash(c, origin, provider, reason)
	})
}

func (n *Node) UpdateReputation(ctx context.Context, origin auth.Origin, provider common.Address, score uint32) (*providers.Provider, error) {
	return execute(ctx, n, "providers.update_reputation", func(c *chain.Context) (*providers.Provider, error) {
		return n.providers.UpdateReputation(c, origin, provider, score)
	})
}

func (n *Node) UpdateProviderStatus(ctx context.Context, origin auth.Origin, provider common.Address, status providers.Status) (*providers.Provider, error) {
	return execute(ctx, n, "providers.update_status", func(c *chain.Context) (*providers.Provider, error) {
		return n.providers.UpdateStatus(c, origin, provider, status)
	})
}

func (n *Node) GetProvider(ctx context.Context, addr common.Address) (*providers.Provider, error) {
	return view(ctx, n, func(c *chain.Context) (*providers.Provider, error) {
		return n.providers.Get(c, addr)
	})
}

func (n *Node) ListProviders(ctx context.Context, limit int) ([]*providers.Provider, error) {
	return view(ctx, n, func(c *chain.Context) ([]*providers.Provider, error) {
		return n.providers.List(c, limit)
	})
}

func (n *Node) SlashHistory(ctx context.Context, addr common.Address, limit int) ([]*providers.SlashRecord, error) {
	return view(ctx, n, func(c *chain.Context) ([]*providers.SlashRecord, error) {
		return n.providers.SlashHistory(c, addr, limit)
	})
}

// Task ledger

func (n *Node) CreateTask(ctx context.Context, origin auth.Origin, req tasks.CreateTaskRequest) (*tasks.Task, error) {
	return execute(ctx, n, "tasks.create", func(c *chain.Context) (*tasks.Task, error) {
		return n.tasks.CreateTask(c, origin, req)
	})
}

func (n *Node) StartRecruiting(ctx context.Context, origin auth.Origin, id common.Hash) (*tasks.Task, error) {
	return execute(ctx, n, "tasks.start_recruiting", func(c *chain.Context) (*tasks.Task, error) {
		traces.Annotate(c.Context(), traces.TaskID(id.Hex()))
		return n.tasks.StartRecruiting(c, origin, id)
	})
}

// JoinTask enrolls the caller. With RequireActiveProvider set, the caller
// must be an active provider in the stake ledger.
func (n *Node) JoinTask(ctx context.Context, origin auth.Origin, id common.Hash) (*tasks.Task, error) {
	return execute(ctx, n, "tasks.join", func(c *chain.Context) (*tasks.Task, error) {
		traces.Annotate(c.Context(), traces.TaskID(id.Hex()))
		if who, ok := origin.Account(); ok && n.params.RequireActiveProvider {
			active, err := n.providers.IsActive(c, who)
			if err != nil {
				return nil, err
			}
			if !active {
				return nil, tasks.ErrProviderNotEligible
			}
		}
		return n.tasks.JoinTask(c, origin, id)
	})
}

func (n *Node) CancelTask(ctx context.Context, origin auth.Origin, id common.Hash) (*tasks.Task, error) {
	return execute(ctx, n, "tasks.cancel", func(c *chain.Context) (*tasks.Task, error) {
		traces.Annotate(c.Context(), traces.TaskID(id.Hex()))
		return n.tasks.CancelTask(c, origin, id)
	})
}

func (n *Node) BeginValidation(ctx context.Context, origin auth.Origin, id common.Hash) (*tasks.Task, error) {
	return execute(ctx, n, "tasks.begin_validation", func(c *chain.Context) (*tasks.Task, error) {
		traces.Annotate(c.Context(), traces.TaskID(id.Hex()))
		return n.tasks.BeginValidation(c, origin, id)
	})
}

func (n *Node) CompleteTask(ctx context.Context, origin auth.Origin, id common.Hash) (*tasks.Task, error) {
	return execute(ctx, n, "tasks.complete", func(c *chain.Context) (*tasks.Task, error) {
		traces.Annotate(c.Context(), traces.TaskID(id.Hex()))
		return n.tasks.CompleteTask(c, origin, id)
	})
}

func (n *Node) FailTask(ctx context.Context, origin auth.Origin, id common.Hash) (*tasks.Task, error) {
	return execute(ctx, n, "tasks.fail", func(c *chain.Context) (*tasks.Task, error) {
		traces.Annotate(c.Context(), traces.TaskID(id.Hex()))
		return n.tasks.FailTask(c, origin, id)
	})
}

func (n *Node) GetTask(ctx context.Context, id common.Hash) (*tasks.Task, error) {
	return view(ctx, n, func(c *chain.Context) (*tasks.Task, error) {
		return n.tasks.GetTask(c, id)
	})
}

func (n *Node) ListTasks(ctx context.Context, limit int) ([]*tasks.Task, error) {
	return view(ctx, n, func(c *chain.Context) ([]*tasks.Task, error) {
		return n.tasks.ListTasks(c, limit)
	})
}

func (n *Node) ListTasksByCreator(ctx context.Context, creator common.Address, limit int) ([]*tasks.Task, error) {
	return view(ctx, n, func(c *chain.Context) ([]*tasks.Task, error) {
		return n.tasks.ListByCreator(c, creator, limit)
	})
}

func (n *Node) TaskMembers(ctx context.Context, id common.Hash) ([]common.Address, error) {
	return view(ctx, n, func(c *chain.Context) ([]common.Address, error) {
		if _, err := n.tasks.GetTask(c, id); err != nil {
			return nil, err
		}
		return n.tasks.Members(c, id)
	})
}

// Reward ledger

func (n *Node) CreateBatch(ctx context.Context, origin auth.Origin, req rewards.CreateBatchRequest) (*rewards.Batch, error) {
	return execute(ctx, n, "rewards.create_batch", func(c *chain.Context) (*rewards.Batch, error) {
		traces.Annotate(c.Context(), traces.TaskID(req.TaskID.Hex()))
		b, err := n.rewards.CreateBatch(c, origin, req)
		if err == nil {
			traces.Annotate(c.Context(), traces.BatchID(b.ID.Hex()))
		}
		return b, err
	})
}

func (n *Node) SubmitRewards(ctx context.Context, origin auth.Origin, batchID common.Hash, list []rewards.RewardInput) (*rewards.Batch, error) {
	return execute(ctx, n, "rewards.submit", func(c *chain.Context) (*rewards.Batch, error) {
		traces.Annotate(c.Context(), traces.BatchID(batchID.Hex()))
		return n.rewards.SubmitRewards(c, origin, batchID, list)
	})
}

func (n *Node) SettleBatch(ctx context.Context, origin auth.Origin, batchID common.Hash) (*rewards.Settlement, error) {
	return execute(ctx, n, "rewards.settle_batch", func(c *chain.Context) (*rewards.Settlement, error) {
		traces.Annotate(c.Context(), traces.BatchID(batchID.Hex()))
		return n.rewards.SettleBatch(c, origin, batchID)
	})
}

func (n *Node) ClaimRewards(ctx context.Context, origin auth.Origin) (amount.Amount, error) {
	return execute(ctx, n, "rewards.claim", func(c *chain.Context) (amount.Amount, error) {
		return n.rewards.ClaimRewards(c, origin)
	})
}

func (n *Node) PeriodicSettlement(ctx context.Context, origin auth.Origin) (*rewards.SweepResult, error) {
	return execute(ctx, n, "rewards.periodic_settlement", func(c *chain.Context) (*rewards.SweepResult, error) {
		return n.rewards.PeriodicSettlement(c, origin)
	})
}

// Sweeper returns the keeper's sweep function, signed by account.
func (n *Node) Sweeper(account common.Address) rewards.Sweeper {
	origin := auth.Signed(account)
	return func(ctx context.Context) (*rewards.SweepResult, error) {
		return n.PeriodicSettlement(ctx, origin)
	}
}

func (n *Node) GetBatch(ctx context.Context, id common.Hash) (*rewards.Batch, error) {
	return view(ctx, n, func(c *chain.Context) (*rewards.Batch, error) {
		return n.rewards.GetBatch(c, id)
	})
}

func (n *Node) ListBatches(ctx context.Context, limit int) ([]*rewards.Batch, error) {
	return view(ctx, n, func(c *chain.Context) ([]*rewards.Batch, error) {
		return n.rewards.ListBatches(c, limit)
	})
}

func (n *Node) BatchRewards(ctx context.Context, id common.Hash) ([]*rewards.ProviderReward, error) {
	return view(ctx, n, func(c *chain.Context) ([]*rewards.ProviderReward, error) {
		return n.rewards.BatchRewards(c, id)
	})
}

func (n *Node) PendingReward(ctx context.Context, provider common.Address) (amount.Amount, error) {
	return view(ctx, n, func(c *chain.Context) (amount.Amount, error) {
		return n.rewards.PendingReward(c, provider)
	})
}

func (n *Node) RewardStats(ctx context.Context) (*rewards.Stats, error) {
	return view(ctx, n, n.rewards.Stats)
}
