package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *LedgerClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *LedgerClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckBalance returns an account's free and reserved balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetBalance(ctx, req.GetString("account", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	text, err := formatBalance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetProvider returns a provider record.
func (h *Handlers) HandleGetProvider(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	raw, err := h.client.GetProvider(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get provider: %v", err)), nil
	}

	text, err := formatProvider(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse provider: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListProviders lists registered providers.
func (h *Handlers) HandleListProviders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListProviders(ctx, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list providers: %v", err)), nil
	}

	text, err := formatList(raw, "providers", "provider", func(i int, p map[string]any) string {
		return fmt.Sprintf("%d. %s | %s | stake %s | reputation %s\n",
			i+1, getString(p, "address"), getString(p, "status"), getString(p, "stake"), getString(p, "reputationScore"))
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse providers: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetTask returns a task.
func (h *Handlers) HandleGetTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	raw, err := h.client.GetTask(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get task: %v", err)), nil
	}

	text, err := formatTask(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse task: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListTasks lists tasks.
func (h *Handlers) HandleListTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListTasks(ctx, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
	}

	text, err := formatList(raw, "tasks", "task", func(i int, t map[string]any) string {
		return fmt.Sprintf("%d. %s (%s)\n   Status: %s | Bounty: %s | Providers: %s/%s\n",
			i+1, getString(t, "name"), getString(t, "id"), getString(t, "status"), getString(t, "bounty"),
			getString(t, "joinedCount"), getString(t, "maxProviders"))
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse tasks: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetBatch returns a reward batch.
func (h *Handlers) HandleGetBatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	batchID := req.GetString("batch_id", "")
	if batchID == "" {
		return mcp.NewToolResultError("batch_id is required"), nil
	}

	raw, err := h.client.GetBatch(ctx, batchID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get batch: %v", err)), nil
	}

	text, err := formatBatch(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse batch: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandlePendingRewards returns a provider's unpaid reward total.
func (h *Handlers) HandlePendingRewards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetPendingRewards(ctx, req.GetString("account", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get pending rewards: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse pending rewards: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Pending rewards for %s: %s tokens",
		getString(resp, "provider"), getString(resp, "pending"))), nil
}

// HandleCalculateReward previews a reward.
func (h *Handlers) HandleCalculateReward(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bounty := req.GetString("bounty", "")
	if bounty == "" {
		return mcp.NewToolResultError("bounty is required"), nil
	}
	contribution := req.GetInt("contribution", -1)
	total := req.GetInt("total_contribution", -1)
	if contribution < 0 || total < 0 {
		return mcp.NewToolResultError("contribution and total_contribution must be non-negative"), nil
	}

	raw, err := h.client.CalculateReward(ctx, bounty, uint64(contribution), uint64(total),
		req.GetInt("quality", 0), req.GetInt("hardware_multiplier", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to calculate reward: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reward: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Reward: %s tokens (%d of %d units from a %s bounty)",
		getString(resp, "reward"), contribution, total, bounty)), nil
}

// HandleGetLedgerParams returns ledger constants.
func (h *Handlers) HandleGetLedgerParams(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetParams(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get ledger params: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleRecentEvents pages through committed events.
func (h *Handlers) HandleRecentEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	after := req.GetInt("after", 0)
	if after < 0 {
		return mcp.NewToolResultError("after must be non-negative"), nil
	}

	raw, err := h.client.GetEvents(ctx, uint64(after), req.GetInt("limit", 50))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get events: %v", err)), nil
	}

	text, err := formatEvents(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse events: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleJoinTask joins a task as the configured caller.
func (h *Handlers) HandleJoinTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	raw, err := h.client.JoinTask(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Join failed: %v", err)), nil
	}

	text, err := formatTask(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse task: %v", err)), nil
	}

	return mcp.NewToolResultText("Joined task.\n\n" + text), nil
}

// HandleClaimRewards claims the configured caller's pending rewards.
func (h *Handlers) HandleClaimRewards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ClaimRewards(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Claim failed: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse claim: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Claimed %s tokens. They are now in your free balance.",
		getString(resp, "claimed"))), nil
}

// --- Formatting helpers ---

// unwrap returns m[key] as an object when present, otherwise m itself.
func unwrap(raw json.RawMessage, key string) (map[string]any, error) {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if inner, ok := resp[key].(map[string]any); ok {
		return inner, nil
	}
	return resp, nil
}

func formatBalance(raw json.RawMessage) (string, error) {
	bal, err := unwrap(raw, "balance")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Balance of %s:\n", getString(bal, "account"))
	fmt.Fprintf(&sb, "  Free:     %s\n", getString(bal, "free"))
	if v := getString(bal, "reserved"); v != "" && v != "0.000000" {
		fmt.Fprintf(&sb, "  Reserved: %s\n", v)
	}
	return sb.String(), nil
}

func formatProvider(raw json.RawMessage) (string, error) {
	p, err := unwrap(raw, "provider")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Provider:\n")
	fmt.Fprintf(&sb, "  Address: %s\n", getString(p, "address"))
	fmt.Fprintf(&sb, "  Status: %s\n", getString(p, "status"))
	fmt.Fprintf(&sb, "  Stake: %s\n", getString(p, "stake"))
	if v, ok := getFloat(p, "reputationScore"); ok {
		fmt.Fprintf(&sb, "  Reputation: %.0f/1000\n", v)
	}
	if v, ok := getFloat(p, "tasksCompleted"); ok {
		fmt.Fprintf(&sb, "  Tasks completed: %.0f\n", v)
	}
	if v := getString(p, "tokensEarned"); v != "" {
		fmt.Fprintf(&sb, "  Earned: %s\n", v)
	}
	if hw, ok := p["hardware"].(map[string]any); ok {
		if model := getString(hw, "gpuModel"); model != "" {
			fmt.Fprintf(&sb, "  GPU: %s (%s GB)\n", model, getString(hw, "vramGb"))
		}
	}
	if v := getString(p, "unbondingAt"); v != "" {
		fmt.Fprintf(&sb, "  Unbonding since block %s\n", v)
	}
	return sb.String(), nil
}

func formatTask(raw json.RawMessage) (string, error) {
	t, err := unwrap(raw, "task")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %s\n", getString(t, "name"))
	fmt.Fprintf(&sb, "  ID: %s\n", getString(t, "id"))
	fmt.Fprintf(&sb, "  Creator: %s\n", getString(t, "creator"))
	fmt.Fprintf(&sb, "  Model: %s\n", getString(t, "modelType"))
	fmt.Fprintf(&sb, "  Status: %s\n", getString(t, "status"))
	fmt.Fprintf(&sb, "  Bounty: %s\n", getString(t, "bounty"))
	fmt.Fprintf(&sb, "  Providers: %s joined (min %s, max %s)\n",
		getString(t, "joinedCount"), getString(t, "minProviders"), getString(t, "maxProviders"))
	return sb.String(), nil
}

func formatBatch(raw json.RawMessage) (string, error) {
	b, err := unwrap(raw, "batch")
	if err != nil {
		return "", err
	}

	settled := "no"
	if s, ok := b["settled"].(bool); ok && s {
		settled = "yes, at block " + getString(b, "settledAt")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Batch %s\n", getString(b, "id"))
	fmt.Fprintf(&sb, "  Task: %s\n", getString(b, "taskId"))
	fmt.Fprintf(&sb, "  Allocated: %s of %s\n", getString(b, "allocated"), getString(b, "totalBounty"))
	fmt.Fprintf(&sb, "  Entries: %s\n", getString(b, "entryCount"))
	fmt.Fprintf(&sb, "  Settled: %s\n", settled)
	return sb.String(), nil
}

// formatList renders {"<key>": [...]} or a bare array with one line function per item.
func formatList(raw json.RawMessage, key, noun string, line func(int, map[string]any) string) (string, error) {
	var wrapper map[string]json.RawMessage
	var items []map[string]any
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper[key] != nil {
		if err := json.Unmarshal(wrapper[key], &items); err != nil {
			return "", err
		}
	} else if err := json.Unmarshal(raw, &items); err != nil {
		return "", fmt.Errorf("unexpected %s response format", noun)
	}

	if len(items) == 0 {
		return fmt.Sprintf("No %ss found.", noun), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d %s(s):\n\n", len(items), noun)
	for i, item := range items {
		sb.WriteString(line(i, item))
	}
	return sb.String(), nil
}

func formatEvents(raw json.RawMessage) (string, error) {
	var resp struct {
		Events []struct {
			Seq        uint64 `json:"seq"`
			Height     uint64 `json:"height"`
			Module     string `json:"module"`
			Type       string `json:"type"`
			Attributes map[string]string `json:"attributes"`
		} `json:"events"`
		Next uint64 `json:"next"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Events) == 0 {
		return "No new events.", nil
	}

	var sb strings.Builder
	for _, ev := range resp.Events {
		fmt.Fprintf(&sb, "#%d @%d %s/%s", ev.Seq, ev.Height, ev.Module, ev.Type)
		keys := make([]string, 0, len(ev.Attributes))
		for k := range ev.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%s", k, ev.Attributes[k])
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\nnext: %d", resp.Next)
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
