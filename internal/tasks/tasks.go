// Package tasks is the task ledger: compute tasks, their bounty, and
// provider enrollment.
//
// Flow:
//  1. Creator creates a task → bounty reserved, status pending
//  2. Creator opens recruiting → providers join until max_providers
//  3. The join that reaches min_providers moves the task to running
//  4. The validation process (through the authority) moves it to validating
//  5. Creator completes → bounty moved from reservation into the reward
//     ledger's escrow account, status completed
//
// Pending and recruiting tasks can be cancelled by their creator; running
// and validating tasks can be failed by the authority. Both return the
// bounty to the creator.
package tasks

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mbd888/computeledger/internal/amount"
	"github.com/mbd888/computeledger/internal/chain"
)

const ModuleName = "tasks"

// Errors
var (
	ErrTaskNotFound         = fmt.Errorf("%w: task not found", chain.ErrNotFound)
	ErrTaskExists           = fmt.Errorf("%w: task already exists", chain.ErrState)
	ErrBountyTooLow         = fmt.Errorf("%w: bounty below minimum", chain.ErrInvalid)
	ErrTooManyProviders     = fmt.Errorf("%w: max providers above per-task cap", chain.ErrInvalid)
	ErrInvalidProviderRange = fmt.Errorf("%w: need 0 < min providers <= max providers", chain.ErrInvalid)
	ErrNameTooLong          = fmt.Errorf("%w: task name too long", chain.ErrInvalid)
	ErrDatasetRefTooLong    = fmt.Errorf("%w: dataset reference too long", chain.ErrInvalid)
	ErrInvalidModelType     = fmt.Errorf("%w: unknown model type", chain.ErrInvalid)
	ErrNotCreator           = fmt.Errorf("%w: caller is not the task creator", chain.ErrUnauthorized)
	ErrInvalidStatus        = fmt.Errorf("%w: task is not in the required status", chain.ErrState)
	ErrAlreadyJoined        = fmt.Errorf("%w: provider already joined", chain.ErrState)
	ErrTaskFull             = fmt.Errorf("%w: task has reached max providers", chain.ErrState)
	ErrProviderNotEligible  = fmt.Errorf("%w: provider is not active", chain.ErrState)
)

const (
	MaxNameLength       = 255
	MaxDatasetRefLength = 64
)

// Event types
const (
	EventTypeTaskCreated    = "task_created"
	EventTypeTaskRecruiting = "task_recruiting"
	EventTypeProviderJoined = "task_provider_joined"
	EventTypeTaskRunning    = "task_running"
	EventTypeTaskValidating = "task_validating"
	EventTypeTaskCompleted  = "task_completed"
	EventTypeTaskCancelled  = "task_cancelled"
	EventTypeTaskFailed     = "task_failed"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRecruiting Status = "recruiting"
	StatusRunning    Status = "running"
	StatusValidating Status = "validating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Open reports whether the bounty is still reserved against the creator.
func (s Status) Open() bool {
	switch s {
	case StatusPending, StatusRecruiting, StatusRunning, StatusValidating:
		return true
	}
	return false
}

// ModelType names the workload family.
type ModelType string

const (
	ModelResNet       ModelType = "resnet"
	ModelBERT         ModelType = "bert"
	ModelGPT          ModelType = "gpt"
	ModelCustom       ModelType = "custom"
	ModelLoRAFineTune ModelType = "lora_finetune"
)

func (m ModelType) Valid() bool {
	switch m {
	case ModelResNet, ModelBERT, ModelGPT, ModelCustom, ModelLoRAFineTune:
		return true
	}
	return false
}

// Requirements is the minimum hardware a provider should bring.
type Requirements struct {
	MinVRAMGB uint32 `json:"minVramGb"`
	// MinComputeCapability is stored ×10.
	MinComputeCapability uint32 `json:"minComputeCapability"`
	MinBandwidthMbps     uint32 `json:"minBandwidthMbps"`
}

// Task is a funded unit of compute work.
type Task struct {
	ID           common.Hash    `json:"id"`
	Creator      common.Address `json:"creator"`
	Name         string         `json:"name"`
	ModelType    ModelType      `json:"modelType"`
	Bounty       amount.Amount  `json:"bounty"`
	MinProviders uint32         `json:"minProviders"`
	MaxProviders uint32         `json:"maxProviders"`
	JoinedCount  uint32         `json:"joinedCount"`
	Status       Status         `json:"status"`
	CreatedAt    uint64         `json:"createdAt"`
	CompletedAt  *uint64        `json:"completedAt,omitempty"`
	// DatasetRef is a content address (e.g. an IPFS CID) for the model or dataset.
	DatasetRef   string       `json:"datasetRef"`
	Requirements Requirements `json:"requirements"`
}

// Config holds the task ledger's deployment constants.
type Config struct {
	MinimumBounty       amount.Amount
	MaxProvidersPerTask uint32
	// EscrowAccount receives bounties on completion. It is the reward ledger's account.
	EscrowAccount common.Address
}

// DefaultConfig returns the reference constants. EscrowAccount must be set by the caller.
func DefaultConfig() Config {
	return Config{
		MinimumBounty:       amount.Tokens(10),
		MaxProvidersPerTask: 100,
	}
}

// CreateTaskRequest is the request body for POST /v1/tasks.
type CreateTaskRequest struct {
	Name         string        `json:"name" binding:"required"`
	ModelType    ModelType     `json:"modelType"`
	Bounty       amount.Amount `json:"bounty"`
	MinProviders uint32        `json:"minProviders"`
	MaxProviders uint32        `json:"maxProviders"`
	DatasetRef   string        `json:"datasetRef"`
	Requirements Requirements  `json:"requirements"`
}
