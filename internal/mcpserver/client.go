package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to a ledger node.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	Account string // Caller account sent as X-Caller, e.g. "0x..."
}

// LedgerClient is a pure HTTP client for the ledger node API.
type LedgerClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewLedgerClient creates a new client for a ledger node.
func NewLedgerClient(cfg Config) *LedgerClient {
	return &LedgerClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the node.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the node and returns the response body.
func (c *LedgerClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.Account != "" {
		req.Header.Set("X-Caller", c.cfg.Account)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

func limitQuery(limit int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// account resolves an explicit address or falls back to the configured caller.
func (c *LedgerClient) account(address string) (string, error) {
	if address != "" {
		return address, nil
	}
	if c.cfg.Account == "" {
		return "", fmt.Errorf("no account given and no caller account configured")
	}
	return c.cfg.Account, nil
}

// GetBalance returns free and reserved balance for an account.
func (c *LedgerClient) GetBalance(ctx context.Context, address string) (json.RawMessage, error) {
	addr, err := c.account(address)
	if err != nil {
		return nil, err
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+addr, nil, nil)
}

// GetProvider returns a provider's stake ledger record.
func (c *LedgerClient) GetProvider(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/providers/"+address, nil, nil)
}

// ListProviders lists registered providers.
func (c *LedgerClient) ListProviders(ctx context.Context, limit int) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/providers", limitQuery(limit), nil)
}

// GetTask returns a task by id.
func (c *LedgerClient) GetTask(ctx context.Context, taskID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/tasks/"+taskID, nil, nil)
}

// ListTasks lists tasks.
func (c *LedgerClient) ListTasks(ctx context.Context, limit int) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/tasks", limitQuery(limit), nil)
}

// GetBatch returns a reward batch by id.
func (c *LedgerClient) GetBatch(ctx context.Context, batchID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/batches/"+batchID, nil, nil)
}

// GetPendingRewards returns the unpaid reward total for an account.
func (c *LedgerClient) GetPendingRewards(ctx context.Context, address string) (json.RawMessage, error) {
	addr, err := c.account(address)
	if err != nil {
		return nil, err
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+addr+"/rewards", nil, nil)
}

// CalculateReward previews a reward without touching state.
func (c *LedgerClient) CalculateReward(ctx context.Context, bounty string, contribution, total uint64, quality, multiplier int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("bounty", bounty)
	q.Set("contribution", strconv.FormatUint(contribution, 10))
	q.Set("totalContribution", strconv.FormatUint(total, 10))
	if quality > 0 {
		q.Set("quality", strconv.Itoa(quality))
	}
	if multiplier > 0 {
		q.Set("hardwareMultiplier", strconv.Itoa(multiplier))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/rewards/calculate", q, nil)
}

// GetParams returns the node's ledger constants and current height.
func (c *LedgerClient) GetParams(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/params", nil, nil)
}

// GetEvents pages through committed events after a sequence number.
func (c *LedgerClient) GetEvents(ctx context.Context, after uint64, limit int) (json.RawMessage, error) {
	q := limitQuery(limit)
	if after > 0 {
		q.Set("after", strconv.FormatUint(after, 10))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/events", q, nil)
}

// JoinTask joins a recruiting task as the configured caller.
func (c *LedgerClient) JoinTask(ctx context.Context, taskID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/tasks/"+taskID+"/join", nil, nil)
}

// ClaimRewards pays the configured caller's pending rewards immediately.
func (c *LedgerClient) ClaimRewards(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/rewards/claim", nil, nil)
}
