// Package rewards is the reward ledger: batches of per-provider payouts for
// completed tasks, paid out of the escrow account the task ledger funds.
//
// Flow:
//  1. The task creator opens a batch against a completed task
//  2. The creator submits reward entries; each amount becomes pending for
//     its provider
//  3. After SettlementPeriod blocks the batch is settled: per entry a
//     platform fee is withheld and the net is transferred to the provider
//
// A provider can instead pull its whole pending balance with ClaimRewards.
// Claimed entries are marked so settlement skips them, and settled entries
// are removed from pending, so no amount is ever paid twice.
package rewards

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/chain"
)

const ModuleName = "rewards"

var (
	ErrBatchNotFound       = fmt.Errorf("%w: batch not found", chain.ErrNotFound)
	ErrBatchExists         = fmt.Errorf("%w: batch already exists", chain.ErrState)
	ErrBatchSettled        = fmt.Errorf("%w: batch already settled", chain.ErrState)
	ErrNotCoordinator      = fmt.Errorf("%w: caller is not the batch coordinator", chain.ErrUnauthorized)
	ErrTooManyRewards      = fmt.Errorf("%w: too many providers in batch", chain.ErrInvalid)
	ErrNoRewards           = fmt.Errorf("%w: reward list is empty", chain.ErrInvalid)
	ErrRewardTooLow        = fmt.Errorf("%w: reward below minimum", chain.ErrInvalid)
	ErrInvalidQuality      = fmt.Errorf("%w: quality score above 1000", chain.ErrInvalid)
	ErrDuplicateProvider   = fmt.Errorf("%w: provider already rewarded in batch", chain.ErrInvalid)
	ErrRewardsExceedBounty = fmt.Errorf("%w: rewards exceed batch bounty", chain.ErrInvalid)
	ErrInvalidBounty       = fmt.Errorf("%w: batch bounty must be positive", chain.ErrInvalid)
	ErrBountyExceeded      = fmt.Errorf("%w: batches exceed task bounty", chain.ErrInvalid)
	ErrTaskNotCompleted    = fmt.Errorf("%w: task is not completed", chain.ErrState)
	ErrSettlementTooEarly  = fmt.Errorf("%w: settlement period has not elapsed", chain.ErrState)
	ErrNoRewardsToClaim    = fmt.Errorf("%w: no rewards to claim", chain.ErrState)
)

// MaxQualityScore is the top of the quality scale.
const MaxQualityScore = 1000

// HardwareMultiplierBase is a multiplier of 1.0x.
const HardwareMultiplierBase = 100

// Event types
const (
	EventTypeBatchCreated       = "batch_created"
	EventTypeRewardAllocated    = "reward_allocated"
	EventTypeRewardsSubmitted   = "rewards_submitted"
	EventTypeRewardPaid         = "reward_paid"
	EventTypeBatchSettled       = "batch_settled"
	EventTypePlatformFee        = "platform_fee_collected"
	EventTypeRewardsClaimed     = "rewards_claimed"
	EventTypeSettlementExecuted = "settlement_executed"
)

const (
	AttributeKeyMerkleRoot = "merkle_root"
	AttributeKeyEntries    = "entries"
	AttributeKeyBatches    = "batches"
)

// Batch is a set of payouts for one completed task.
type Batch struct {
	ID          common.Hash    `json:"id"`
	TaskID      common.Hash    `json:"taskId"`
	TotalBounty amount.Amount  `json:"totalBounty"`
	Allocated   amount.Amount  `json:"allocated"`
	Coordinator common.Address `json:"coordinator"`
	CreatedAt   uint64         `json:"createdAt"`
	Settled     bool           `json:"settled"`
	SettledAt   *uint64        `json:"settledAt,omitempty"`
	// MerkleRoot summarizes the off-ledger computation. It is stored, not verified.
	MerkleRoot common.Hash `json:"merkleRoot"`
	EntryCount uint32      `json:"entryCount"`
}

// DueAt is the first height at which the batch may be settled.
func (b *Batch) DueAt(period uint64) uint64 {
	due := b.CreatedAt + period
	if due < b.CreatedAt {
		return ^uint64(0)
	}
	return due
}

// EntryStatus tracks how a reward entry was paid.
type EntryStatus string

const (
	EntryAllocated EntryStatus = "allocated"
	EntryClaimed   EntryStatus = "claimed"
	EntrySettled   EntryStatus = "settled"
)

// RewardInput is one entry of a submit_rewards call.
type RewardInput struct {
	Provider           common.Address `json:"provider"`
	Amount             amount.Amount  `json:"amount"`
	ContributionUnits  uint64         `json:"contributionUnits"`
	QualityScore       uint32         `json:"qualityScore"`
	HardwareMultiplier uint32         `json:"hardwareMultiplier"`
}

// ProviderReward is a stored entry of a batch.
type ProviderReward struct {
	BatchID            common.Hash    `json:"batchId"`
	Provider           common.Address `json:"provider"`
	Amount             amount.Amount  `json:"amount"`
	ContributionUnits  uint64         `json:"contributionUnits"`
	QualityScore       uint32         `json:"qualityScore"`
	HardwareMultiplier uint32         `json:"hardwareMultiplier"`
	Status             EntryStatus    `json:"status"`
	Fee                amount.Amount  `json:"fee"`
	NetPaid            amount.Amount  `json:"netPaid"`
}

// Stats are the ledger-wide reward counters.
type Stats struct {
	TotalDistributed      amount.Amount `json:"totalDistributed"`
	PlatformFeesCollected amount.Amount `json:"platformFeesCollected"`
	LastSettlement        uint64        `json:"lastSettlement"`
	BatchCount            uint64        `json:"batchCount"`
	SettledBatches        uint64        `json:"settledBatches"`
}

// Config holds the reward ledger's deployment constants.
type Config struct {
	MaxProvidersPerBatch    uint32
	MinimumReward           amount.Amount
	SettlementPeriod        uint64
	PlatformFeeBPS          uint64
	MaxBatchesPerSettlement int
	// EscrowAccount holds completed bounties until they are paid out.
	EscrowAccount common.Address
	// FeeAccount receives the withheld platform fees.
	FeeAccount common.Address
}

// EscrowSeed derives the escrow module account.
const EscrowSeed = "py/rewrd"

// DefaultConfig returns the reference constants. FeeAccount must be set by the caller.
func DefaultConfig() Config {
	return Config{
		MaxProvidersPerBatch:    1000,
		MinimumReward:           amount.FromUnits(10_000),
		SettlementPeriod:        100,
		PlatformFeeBPS:          200,
		MaxBatchesPerSettlement: 50,
		EscrowAccount:           chain.ModuleAccount(EscrowSeed),
	}
}

// CreateBatchRequest is the request body for POST /v1/batches.
type CreateBatchRequest struct {
	TaskID      common.Hash   `json:"taskId"`
	TotalBounty amount.Amount `json:"totalBounty"`
	MerkleRoot  common.Hash   `json:"merkleRoot"`
}

// SubmitRewardsRequest is the request body for POST /v1/batches/:id/rewards.
type SubmitRewardsRequest struct {
	Rewards []RewardInput `json:"rewards"`
}

// CalculateReward returns
//
//	bounty × contribution/totalContribution × quality/1000 × hwMultiplier/100
//
// rounded down at each step and clamped instead of overflowing. It is zero
// when totalContribution is zero.
func CalculateReward(bounty amount.Amount, contribution, totalContribution uint64, quality, hwMultiplier uint32) amount.Amount {
	if totalContribution == 0 {
		return amount.Zero()
	}
	if contribution > totalContribution {
		contribution = totalContribution
	}
	if quality > MaxQualityScore {
		quality = MaxQualityScore
	}
	r := bounty.MulDiv(contribution, totalContribution)
	r = r.MulDiv(uint64(quality), MaxQualityScore)
	return r.MulDiv(uint64(hwMultiplier), HardwareMultiplierBase)
}
