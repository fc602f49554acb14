// Package task talks to the swarm API that executes agent tasks and prices
// them in USD.
package task

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/httpx"
)

// Request describes one task submission.
type Request struct {
	Task         string `json:"task"`
	GithubURL    string `json:"github_url,omitempty"`
	Requirements string `json:"requirements,omitempty"`
}

// Payment is the price the swarm attached to an outcome.
type Payment struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Outcome is the swarm's verdict on a submitted task.
type Outcome struct {
	Success         bool    `json:"success"`
	Decision        string  `json:"decision"`
	Payment         Payment `json:"payment"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	TokensUsed      int64   `json:"tokens_used"`
	Error           string  `json:"error,omitempty"`
}

// HistoryEntry is one past task as the swarm reports it.
type HistoryEntry struct {
	Task        string  `json:"task"`
	Decision    string  `json:"decision"`
	AmountUSD   float64 `json:"amount_usd"`
	CompletedAt string  `json:"completed_at"`
}

type Client struct {
	http    *httpx.Client
	single  *httpx.Client
	baseURL string
}

// NewClient builds a swarm API client. Submissions are not idempotent, so
// they go through a zero-retry client; health and history reads retry.
func NewClient(httpClient *httpx.Client, baseURL string) *Client {
	return &Client{
		http:    httpClient,
		single:  httpClient.WithRetries(0),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Healthy probes the API before a submission so a down backend reads as a
// provider problem rather than a hung task.
func (c *Client) Healthy(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/api/health", nil, &resp); err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, "task API is unreachable", err)
	}
	if resp.Status != "" && !strings.EqualFold(resp.Status, "ok") && !strings.EqualFold(resp.Status, "healthy") {
		return apperr.New(apperr.CodeUnavailable, "task API reports status "+resp.Status)
	}
	return nil
}

// Process submits a task and waits for the outcome.
func (c *Client) Process(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.Task) == "" {
		return Outcome{}, apperr.New(apperr.CodeUsage, "task description is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, apperr.Wrap(apperr.CodeInternal, "encode task request", err)
	}
	var out Outcome
	if _, err := c.single.PostJSON(ctx, c.baseURL+"/api/process", body, nil, &out); err != nil {
		return Outcome{}, err
	}
	if out.Error != "" {
		return out, apperr.New(apperr.CodeProtocol, out.Error)
	}
	return out, nil
}

// History lists past tasks.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	var resp struct {
		History []HistoryEntry `json:"history"`
	}
	if _, err := c.http.GetJSON(ctx, c.baseURL+"/api/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

// AmountDecimal renders the USD payment as an exact decimal string. The
// settlement token is dollar-pegged, so 1 USD settles as 1 token.
func (p Payment) AmountDecimal() (string, error) {
	if p.Amount < 0 {
		return "", apperr.New(apperr.CodeUsage, "payment amount is negative")
	}
	if p.Currency != "" && !strings.EqualFold(p.Currency, "USD") {
		return "", apperr.New(apperr.CodeUnsupported, "unsupported payment currency "+p.Currency)
	}
	// Prices are quoted in cents; going through decimal avoids float
	// artifacts like 1.2500000000000002.
	return decimal.NewFromFloat(p.Amount).Round(2).String(), nil
}
