// Ledger MCP Server - Exposes compute ledger queries and provider actions as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/computeledger/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:  envOrDefault("LEDGER_API_URL", "http://localhost:8080"),
		Account: os.Getenv("LEDGER_ACCOUNT"),
	}

	if cfg.Account == "" {
		fmt.Fprintln(os.Stderr, "LEDGER_ACCOUNT not set, join_task and claim_rewards are disabled")
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
