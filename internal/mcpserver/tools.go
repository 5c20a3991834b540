package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the ledger MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check an account's token balance on the compute ledger. "+
			"Free balance is spendable; reserved balance backs provider stake and open task bounties."),
	mcp.WithString("account",
		mcp.Description("Account address (e.g. '0x1234...'). Defaults to the configured caller account.")),
)

var ToolGetProvider = mcp.NewTool("get_provider",
	mcp.WithDescription(
		"Get a compute provider's stake ledger record: stake, status, hardware, "+
			"reputation score (0-1000), completed tasks and lifetime earnings."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The provider's address (e.g. '0x1234...')")),
)

var ToolListProviders = mcp.NewTool("list_providers",
	mcp.WithDescription("Browse registered compute providers with their stake and status."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of providers to return (default 20)")),
)

var ToolGetTask = mcp.NewTool("get_task",
	mcp.WithDescription(
		"Get a training task: bounty, status (pending, recruiting, running, validating, completed, failed, cancelled), "+
			"provider range and how many providers have joined."),
	mcp.WithString("task_id",
		mcp.Required(),
		mcp.Description("The task id, a 0x-prefixed 32-byte hash")),
)

var ToolListTasks = mcp.NewTool("list_tasks",
	mcp.WithDescription("Browse training tasks on the ledger. Use this to find tasks that are recruiting providers."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of tasks to return (default 20)")),
)

var ToolGetBatch = mcp.NewTool("get_batch",
	mcp.WithDescription(
		"Get a reward batch: its task, total bounty, amount allocated to providers so far, "+
			"and whether it has been settled."),
	mcp.WithString("batch_id",
		mcp.Required(),
		mcp.Description("The batch id, a 0x-prefixed 32-byte hash")),
)

var ToolPendingRewards = mcp.NewTool("pending_rewards",
	mcp.WithDescription("Get the total of rewards allocated to a provider but not yet paid out."),
	mcp.WithString("account",
		mcp.Description("Provider address. Defaults to the configured caller account.")),
)

var ToolCalculateReward = mcp.NewTool("calculate_reward",
	mcp.WithDescription(
		"Preview a provider's reward for a contribution without changing any state. "+
			"reward = bounty x (contribution / total) x (quality / 1000) x (multiplier / 100)."),
	mcp.WithString("bounty",
		mcp.Required(),
		mcp.Description("Batch bounty in tokens (e.g. '100')")),
	mcp.WithNumber("contribution",
		mcp.Required(),
		mcp.Description("The provider's contribution units")),
	mcp.WithNumber("total_contribution",
		mcp.Required(),
		mcp.Description("Total contribution units across all providers")),
	mcp.WithNumber("quality",
		mcp.Description("Quality score 0-1000 (default 1000)")),
	mcp.WithNumber("hardware_multiplier",
		mcp.Description("Hardware multiplier where 100 is 1.0x (default 100)")),
)

var ToolGetLedgerParams = mcp.NewTool("get_ledger_params",
	mcp.WithDescription(
		"Get the node's current block height and ledger constants: minimum stake, "+
			"slash rate, unbonding period, settlement period and platform fee."),
)

var ToolRecentEvents = mcp.NewTool("recent_events",
	mcp.WithDescription(
		"Page through committed ledger events (deposits, stake changes, task transitions, reward payouts). "+
			"Pass the returned 'next' value as 'after' to continue."),
	mcp.WithNumber("after",
		mcp.Description("Return events with a sequence number greater than this (default 0)")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of events to return (default 50)")),
)

var ToolJoinTask = mcp.NewTool("join_task",
	mcp.WithDescription(
		"Join a recruiting training task as the configured caller account. "+
			"The account should be a registered, active provider."),
	mcp.WithString("task_id",
		mcp.Required(),
		mcp.Description("The task id, a 0x-prefixed 32-byte hash")),
)

var ToolClaimRewards = mcp.NewTool("claim_rewards",
	mcp.WithDescription(
		"Pay out the configured caller's pending rewards now instead of waiting for batch settlement."),
)
