package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all ledger tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("computeledger", "1.0.0")
	h := NewHandlers(NewLedgerClient(cfg))

	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolGetProvider, h.HandleGetProvider)
	s.AddTool(ToolListProviders, h.HandleListProviders)
	s.AddTool(ToolGetTask, h.HandleGetTask)
	s.AddTool(ToolListTasks, h.HandleListTasks)
	s.AddTool(ToolGetBatch, h.HandleGetBatch)
	s.AddTool(ToolPendingRewards, h.HandlePendingRewards)
	s.AddTool(ToolCalculateReward, h.HandleCalculateReward)
	s.AddTool(ToolGetLedgerParams, h.HandleGetLedgerParams)
	s.AddTool(ToolRecentEvents, h.HandleRecentEvents)

	// Write tools act as the configured caller and need one.
	if cfg.Account != "" {
		s.AddTool(ToolJoinTask, h.HandleJoinTask)
		s.AddTool(ToolClaimRewards, h.HandleClaimRewards)
	}

	return s
}
