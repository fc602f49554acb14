// Package explorer ingests transaction history from the chain indexer,
// categorizes it, and serves it through the cache.
package explorer

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/httpx"
	"github.com/codecollab/agentpay/internal/model"
	"github.com/codecollab/agentpay/internal/registry"
)

// Client talks to an Etherscan-compatible account indexer.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	cat     Categorizer
}

func NewClient(httpClient *httpx.Client, baseURL, apiKey string, cat Categorizer) *Client {
	if baseURL == "" {
		baseURL = registry.IndexerBaseURL
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, cat: cat}
}

type indexerResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Result  []indexedTx `json:"result"`
}

type indexedTx struct {
	Hash         string `json:"hash"`
	From         string `json:"from"`
	To           string `json:"to"`
	Value        string `json:"value"`
	TimeStamp    string `json:"timeStamp"`
	BlockNumber  string `json:"blockNumber"`
	IsError      string `json:"isError"`
	TokenSymbol  string `json:"tokenSymbol"`
	TokenName    string `json:"tokenName"`
	TokenDecimal string `json:"tokenDecimal"`
}

// Fetch pulls the native and token transfer lists for address concurrently
// and merges them, newest first, deduplicated by hash.
func (c *Client) Fetch(ctx context.Context, address string) ([]model.TransactionRecord, error) {
	if strings.TrimSpace(address) == "" {
		return nil, apperr.New(apperr.CodeUsage, "history requires an address")
	}

	var native, token []model.TransactionRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		native, err = c.list(gctx, address, "txlist", model.TxKindNative)
		return err
	})
	g.Go(func() error {
		var err error
		token, err = c.list(gctx, address, "tokentx", model.TxKindToken)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(native, token), nil
}

func (c *Client) list(ctx context.Context, address, action string, kind model.TxKind) ([]model.TransactionRecord, error) {
	vals := url.Values{}
	vals.Set("module", "account")
	vals.Set("action", action)
	vals.Set("address", address)
	vals.Set("page", "1")
	vals.Set("offset", "100")
	vals.Set("sort", "desc")
	if c.apiKey != "" {
		vals.Set("apikey", c.apiKey)
	}

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+vals.Encode(), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "build indexer request", err)
	}
	var resp indexerResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return nil, err
	}
	// Status "0" with "No transactions found" is an empty page, not an
	// error.
	if resp.Status != "1" && !strings.Contains(strings.ToLower(resp.Message), "no transactions") {
		return nil, apperr.New(apperr.CodeUnavailable, "indexer error: "+resp.Message)
	}

	out := make([]model.TransactionRecord, 0, len(resp.Result))
	for _, tx := range resp.Result {
		out = append(out, c.toRecord(tx, kind))
	}
	return out, nil
}

func (c *Client) toRecord(tx indexedTx, kind model.TxKind) model.TransactionRecord {
	timestamp, _ := strconv.ParseInt(tx.TimeStamp, 10, 64)
	block, _ := strconv.ParseInt(tx.BlockNumber, 10, 64)
	decimals, _ := strconv.Atoi(tx.TokenDecimal)

	status := model.TxStatusSuccess
	if tx.IsError == "1" {
		status = model.TxStatusFailed
	}
	rec := model.TransactionRecord{
		Hash:          tx.Hash,
		From:          tx.From,
		To:            tx.To,
		Value:         tx.Value,
		TokenSymbol:   tx.TokenSymbol,
		TokenName:     tx.TokenName,
		TokenDecimals: decimals,
		Timestamp:     timestamp,
		BlockNumber:   block,
		Kind:          kind,
		Status:        status,
	}
	rec.Category = c.cat.Categorize(rec)
	return rec
}
