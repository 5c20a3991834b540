// Package providers is the stake ledger: compute provider registration,
// collateral, reputation, unbonding, and slashing.
//
// Flow:
//  1. Provider registers → stake reserved from its free balance, status active
//  2. Authority slashes on misbehavior → reserved stake moved to treasury,
//     reputation drops, provider suspended below the thresholds
//  3. Provider starts unbonding → withdrawal allowed after UnstakingPeriod
//  4. Provider withdraws → full stake unreserved, entry removed
package providers

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/chain"
)

const ModuleName = "providers"

// Errors
var (
	ErrProviderNotFound   = fmt.Errorf("%w: provider not registered", chain.ErrNotFound)
	ErrAlreadyRegistered  = fmt.Errorf("%w: provider already registered", chain.ErrState)
	ErrStakeBelowMinimum  = fmt.Errorf("%w: stake below minimum", chain.ErrInvalid)
	ErrTooManyProviders   = fmt.Errorf("%w: provider limit reached", chain.ErrState)
	ErrInvalidHardware    = fmt.Errorf("%w: invalid hardware specification", chain.ErrInvalid)
	ErrGPUModelTooLong    = fmt.Errorf("%w: gpu model name too long", chain.ErrInvalid)
	ErrAlreadyUnbonding   = fmt.Errorf("%w: provider is already unbonding", chain.ErrState)
	ErrNotUnbonding       = fmt.Errorf("%w: provider is not unbonding", chain.ErrState)
	ErrStillUnbonding     = fmt.Errorf("%w: unbonding period has not elapsed", chain.ErrState)
	ErrInvalidReputation  = fmt.Errorf("%w: reputation must be between 0 and 1000", chain.ErrInvalid)
	ErrInvalidStatus      = fmt.Errorf("%w: unknown provider status", chain.ErrInvalid)
	ErrInvalidSlashReason = fmt.Errorf("%w: unknown slash reason", chain.ErrInvalid)
)

const (
	MaxGPUModelLength = 100

	MaxReputation     = 1000
	InitialReputation = 500
	SlashPenalty      = 100
	// SuspensionThreshold: reputations strictly below this force suspension.
	SuspensionThreshold = 200
)

// Event types
const (
	EventTypeProviderRegistered = "provider_registered"
	EventTypeHardwareUpdated    = "provider_hardware_updated"
	EventTypeProviderSlashed    = "provider_slashed"
	EventTypeUnbondingStarted   = "provider_unbonding_started"
	EventTypeStakeWithdrawn     = "provider_stake_withdrawn"
	EventTypeReputationUpdated  = "provider_reputation_updated"
	EventTypeStatusChanged      = "provider_status_changed"

	AttributeKeyUnbondingAt = "unbonding_at"
	AttributeKeyReputation  = "reputation"
)

// Status is the provider's advisory availability state.
type Status string

const (
	StatusActive    Status = "active"
	StatusIdle      Status = "idle"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
	StatusSuspended Status = "suspended"
	StatusUnbonding Status = "unbonding"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusIdle, StatusBusy, StatusOffline, StatusSuspended, StatusUnbonding:
		return true
	}
	return false
}

// GPUTier classifies provider hardware.
type GPUTier string

const (
	GPUTierConsumer     GPUTier = "consumer"     // RTX 3070, 3080
	GPUTierProsumer     GPUTier = "prosumer"     // RTX 4080, 4090
	GPUTierProfessional GPUTier = "professional" // A100, H100
)

func (t GPUTier) Valid() bool {
	switch t {
	case GPUTierConsumer, GPUTierProsumer, GPUTierProfessional:
		return true
	}
	return false
}

// SlashReason explains a slash.
type SlashReason string

const (
	SlashMaliciousGradient  SlashReason = "malicious_gradient"
	SlashFalseHardwareClaim SlashReason = "false_hardware_claim"
	SlashDowntime           SlashReason = "downtime"
	SlashValidationFailure  SlashReason = "validation_failure"
)

func (r SlashReason) Valid() bool {
	switch r {
	case SlashMaliciousGradient, SlashFalseHardwareClaim, SlashDowntime, SlashValidationFailure:
		return true
	}
	return false
}

// Hardware is the provider's self-reported hardware descriptor.
type Hardware struct {
	GPUModel string  `json:"gpuModel"`
	GPUTier  GPUTier `json:"gpuTier"`
	VRAMGB   uint32  `json:"vramGb"`
	// ComputeCapability is stored ×10 (8.6 → 86).
	ComputeCapability uint32 `json:"computeCapability"`
	BandwidthMbps     uint32 `json:"bandwidthMbps"`
	CPUCores          uint32 `json:"cpuCores"`
	RAMGB             uint32 `json:"ramGb"`
}

// Validate checks the minimal sanity rules on a descriptor.
func (h Hardware) Validate() error {
	if h.VRAMGB == 0 {
		return fmt.Errorf("%w: vramGb must be positive", ErrInvalidHardware)
	}
	if len(h.GPUModel) > MaxGPUModelLength {
		return ErrGPUModelTooLong
	}
	if h.GPUTier != "" && !h.GPUTier.Valid() {
		return fmt.Errorf("%w: unknown gpu tier %q", ErrInvalidHardware, h.GPUTier)
	}
	return nil
}

// Provider is a registered compute provider.
type Provider struct {
	Address           common.Address `json:"address"`
	Stake             amount.Amount  `json:"stake"`
	Status            Status         `json:"status"`
	Hardware          Hardware       `json:"hardware"`
	ReputationScore   uint32         `json:"reputationScore"`
	TasksCompleted    uint32         `json:"tasksCompleted"`
	ContributionUnits uint64         `json:"contributionUnits"`
	TokensEarned      amount.Amount  `json:"tokensEarned"`
	RegisteredAt      uint64         `json:"registeredAt"`
	LastActive        uint64         `json:"lastActive"`
	UnbondingAt       *uint64        `json:"unbondingAt,omitempty"`
}

// SlashRecord is an immutable audit entry for one slash.
type SlashRecord struct {
	Provider common.Address `json:"provider"`
	Height   uint64         `json:"height"`
	Seq      uint32         `json:"seq"`
	Reason   SlashReason    `json:"reason"`
	// Amount is what was actually removed, which may be below the nominal
	// percentage when the reserved balance was short.
	Amount amount.Amount `json:"amount"`
}

// Config holds the stake ledger's deployment constants.
type Config struct {
	MinimumStake amount.Amount
	// MinimumActiveStake is the stake floor below which a slash suspends the provider.
	MinimumActiveStake amount.Amount
	MaxProviders       uint32
	SlashBPS           uint64
	UnstakingPeriod    uint64
}

// DefaultConfig mirrors the reference runtime: 1000 token minimum, 10%
// slash, 7 days of 6-second blocks.
func DefaultConfig() Config {
	return Config{
		MinimumStake:       amount.Tokens(1000),
		MinimumActiveStake: amount.Tokens(500),
		MaxProviders:       10_000,
		SlashBPS:           1000,
		UnstakingPeriod:    7 * 24 * 600,
	}
}

// Request types for handlers and the node API.

// RegisterRequest is the request body for POST /v1/providers.
type RegisterRequest struct {
	Stake    amount.Amount `json:"stake"`
	Hardware Hardware      `json:"hardware"`
}

// SlashRequest is the request body for POST /v1/admin/providers/:address/slash.
type SlashRequest struct {
	Reason SlashReason `json:"reason" binding:"required"`
}

// ReputationRequest is the request body for POST /v1/admin/providers/:address/reputation.
type ReputationRequest struct {
	Score uint32 `json:"score"`
}

// StatusRequest is the request body for POST /v1/admin/providers/:address/status.
type StatusRequest struct {
	Status Status `json:"status" binding:"required"`
}
