// Package app composes the currency, stake, task and reward ledgers into a
// single node behind one executor.
//
// The node is the only place where the ledgers meet: the task ledger pays
// bounties into the reward ledger's escrow, the reward ledger reads tasks
// and records paid contributions against providers, and the optional
// active-provider gate on joins is applied here.
package app

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/auth"
	"github.com/mbd888/computeledger/internal/chain"
	"github.com/mbd888/computeledger/internal/config"
	"github.com/mbd888/computeledger/internal/currency"
	"github.com/mbd888/computeledger/internal/metrics"
	"github.com/mbd888/computeledger/internal/providers"
	"github.com/mbd888/computeledger/internal/rewards"
	"github.com/mbd888/computeledger/internal/state"
	"github.com/mbd888/computeledger/internal/tasks"
)

// TreasurySeed derives the account that receives slashed stake and
// platform fees.
const TreasurySeed = "py/trsry"

var ErrNilAuthority = errors.New("app: authority is required")

// Params are the deployment constants of every ledger.
type Params struct {
	Providers providers.Config
	Tasks     tasks.Config
	Rewards   rewards.Config
	// RequireActiveProvider rejects task joins from accounts that are not
	// registered providers with status active.
	RequireActiveProvider bool
}

// DefaultParams returns the reference constants with module accounts filled in.
func DefaultParams() Params {
	rc := rewards.DefaultConfig()
	rc.FeeAccount = TreasuryAccount()
	tc := tasks.DefaultConfig()
	tc.EscrowAccount = rc.EscrowAccount
	return Params{
		Providers: providers.DefaultConfig(),
		Tasks:     tc,
		Rewards:   rc,
	}
}

// TreasuryAccount returns the treasury module account.
func TreasuryAccount() common.Address {
	return chain.ModuleAccount(TreasurySeed)
}

// Node is a ledger node: one executor over one state backend.
type Node struct {
	exec      *chain.Executor
	authority *auth.Authority
	params    Params

	currency  *currency.Service
	providers *providers.Service
	tasks     *tasks.Service
	rewards   *rewards.Service
}

// New wires the ledgers over backend. The task ledger always pays into the
// reward ledger's escrow account, whatever params.Tasks says.
func New(backend state.Backend, authority *auth.Authority, params Params, opts ...chain.Option) (*Node, error) {
	if authority == nil {
		return nil, ErrNilAuthority
	}
	if params.Rewards.EscrowAccount == (common.Address{}) {
		params.Rewards.EscrowAccount = chain.ModuleAccount(rewards.EscrowSeed)
	}
	params.Tasks.EscrowAccount = params.Rewards.EscrowAccount
	chain.ReserveModuleAccount(params.Rewards.EscrowAccount)
	chain.ReserveModuleAccount(params.Rewards.FeeAccount)

	n := &Node{
		exec:      chain.NewExecutor(backend, opts...),
		authority: authority,
		params:    params,
	}
	n.currency = currency.NewService(TreasuryAccount())
	n.providers = providers.NewService(params.Providers, n.currency)
	n.tasks = tasks.NewService(params.Tasks, n.currency)
	n.rewards = rewards.NewService(params.Rewards, n.currency, n.tasks, n.providers)
	n.exec.AddSink(metricsSink{})
	return n, nil
}

// Executor exposes the underlying executor for the block clock and the
// event feed.
func (n *Node) Executor() *chain.Executor { return n.exec }

// Authority returns the capability issuing root origins.
func (n *Node) Authority() *auth.Authority { return n.authority }

// Params returns the effective constants.
func (n *Node) Params() Params { return n.params }

// Treasury returns the account receiving slashes and fees.
func (n *Node) Treasury() common.Address { return n.currency.Treasury() }

// Escrow returns the reward ledger's escrow account.
func (n *Node) Escrow() common.Address { return n.rewards.EscrowAccount() }

// Height returns the committed block height.
func (n *Node) Height(ctx context.Context) (uint64, error) {
	return n.exec.Height(ctx)
}

// Advance moves the block height forward by blocks.
func (n *Node) Advance(ctx context.Context, blocks uint64) (uint64, error) {
	return n.exec.Advance(ctx, blocks)
}

// SyncGauges sets state-derived gauges from committed state. Call once at
// startup; afterwards the metrics sink keeps them current.
func (n *Node) SyncGauges(ctx context.Context) error {
	return n.exec.View(ctx, func(c *chain.Context) error {
		count, err := n.providers.Count(c)
		if err != nil {
			return err
		}
		metrics.RegisteredProviders.Set(float64(count))
		metrics.BlockHeight.Set(float64(c.Height()))
		return nil
	})
}

func execute[T any](ctx context.Context, n *Node, name string, fn func(c *chain.Context) (T, error)) (T, error) {
	var out T
	err := n.exec.Execute(ctx, name, func(c *chain.Context) error {
		v, err := fn(c)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func view[T any](ctx context.Context, n *Node, fn func(c *chain.Context) (T, error)) (T, error) {
	var out T
	err := n.exec.View(ctx, func(c *chain.Context) error {
		v, err := fn(c)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// ParamsFromConfig builds ledger constants from node configuration.
func ParamsFromConfig(cfg *config.Config) Params {
	p := DefaultParams()

	p.Providers.MinimumStake = cfg.MinimumStake
	p.Providers.MinimumActiveStake = cfg.MinimumActiveStake
	p.Providers.MaxProviders = cfg.MaxProviders
	p.Providers.SlashBPS = cfg.SlashBPS
	p.Providers.UnstakingPeriod = cfg.UnstakingPeriod

	p.Tasks.MinimumBounty = cfg.MinimumBounty
	p.Tasks.MaxProvidersPerTask = cfg.MaxProvidersPerTask

	p.Rewards.MaxProvidersPerBatch = cfg.MaxProvidersPerBatch
	p.Rewards.MinimumReward = cfg.MinimumReward
	p.Rewards.SettlementPeriod = cfg.SettlementPeriod
	p.Rewards.PlatformFeeBPS = cfg.PlatformFeeBPS
	p.Rewards.MaxBatchesPerSettlement = cfg.MaxBatchesPerSettlement

	p.RequireActiveProvider = cfg.RequireActiveProvider
	return p
}
