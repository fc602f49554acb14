// Package quote fetches swap routes from the aggregator and debounces
// interactive quote requests.
package quote

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codecollab/agentpay/internal/amount"
	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/httpx"
	"github.com/codecollab/agentpay/internal/model"
	"github.com/codecollab/agentpay/internal/registry"
)

// Request is one quote lookup. FromAmount is a decimal string in the source
// token's display units.
type Request struct {
	FromToken   model.TokenDescriptor
	ToToken     model.TokenDescriptor
	FromAmount  string
	FromAddress string
	SlippageBps int64
}

type Client struct {
	http    *httpx.Client
	baseURL string
	now     func() time.Time
}

func NewClient(httpClient *httpx.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = registry.QuoteBaseURL
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// SetClock overrides the FetchedAt clock. Test hook.
func (c *Client) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

type quoteResponse struct {
	ID       string `json:"id"`
	Tool     string `json:"tool"`
	Estimate struct {
		ToAmount        string `json:"toAmount"`
		ToAmountMin     string `json:"toAmountMin"`
		ApprovalAddress string `json:"approvalAddress"`
		FeeCosts        []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"feeCosts"`
		GasCosts []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"gasCosts"`
		ExecutionDuration int64 `json:"executionDuration"`
	} `json:"estimate"`
	ToolDetails struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"toolDetails"`
	IncludedSteps []struct {
		Tool   string `json:"tool"`
		Action struct {
			FromChainID int64 `json:"fromChainId"`
			ToChainID   int64 `json:"toChainId"`
		} `json:"action"`
		Estimate struct {
			ToAmount string `json:"toAmount"`
		} `json:"estimate"`
	} `json:"includedSteps"`
	TransactionRequest struct {
		To       string `json:"to"`
		Data     string `json:"data"`
		Value    string `json:"value"`
		ChainID  int64  `json:"chainId"`
		GasLimit string `json:"gasLimit"`
	} `json:"transactionRequest"`
}

// Quote fetches one route. A provider response without a route surfaces as a
// diagnostic naming the chain pair, not a transport failure.
func (c *Client) Quote(ctx context.Context, req Request) (*model.Quote, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	baseUnits, err := amount.ToFixedPoint(req.FromAmount, req.FromToken.Decimals)
	if err != nil {
		return nil, err
	}
	slippageBps := req.SlippageBps
	if slippageBps <= 0 {
		slippageBps = 50
	}

	vals := url.Values{}
	vals.Set("fromChain", strconv.FormatInt(req.FromToken.ChainID, 10))
	vals.Set("toChain", strconv.FormatInt(req.ToToken.ChainID, 10))
	vals.Set("fromToken", strings.ToLower(req.FromToken.Address))
	vals.Set("toToken", strings.ToLower(req.ToToken.Address))
	vals.Set("fromAmount", baseUnits)
	vals.Set("fromAddress", req.FromAddress)
	vals.Set("slippage", formatSlippage(slippageBps))

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+vals.Encode(), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "build quote request", err)
	}
	var resp quoteResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return nil, err
	}
	if resp.Estimate.ToAmount == "" {
		return nil, apperr.New(apperr.CodeUnavailable,
			fmt.Sprintf("no route from chain %d to chain %d for this pair", req.FromToken.ChainID, req.ToToken.ChainID))
	}

	out := &model.Quote{
		FromToken: req.FromToken,
		ToToken:   req.ToToken,
		FromAmount: model.AmountInfo{
			AmountBaseUnits: baseUnits,
			AmountDecimal:   req.FromAmount,
			Decimals:        req.FromToken.Decimals,
		},
		EstimatedOut:    amountInfo(resp.Estimate.ToAmount, req.ToToken.Decimals),
		MinimumOut:      amountInfo(firstNonEmpty(resp.Estimate.ToAmountMin, resp.Estimate.ToAmount), req.ToToken.Decimals),
		Tool:            firstNonEmpty(resp.ToolDetails.Name, resp.Tool),
		ApprovalAddress: resp.Estimate.ApprovalAddress,
		EstimatedTimeS:  resp.Estimate.ExecutionDuration,
		EstimatedFeeUSD: sumUSD(resp),
		FetchedAt:       c.now().UTC().Format(time.RFC3339),
	}
	for _, step := range resp.IncludedSteps {
		out.Steps = append(out.Steps, model.RouteStep{
			Tool:        step.Tool,
			FromChainID: step.Action.FromChainID,
			ToChainID:   step.Action.ToChainID,
			ToAmount:    step.Estimate.ToAmount,
		})
	}
	if strings.TrimSpace(resp.TransactionRequest.To) != "" && strings.TrimSpace(resp.TransactionRequest.Data) != "" {
		if resp.TransactionRequest.ChainID != 0 && resp.TransactionRequest.ChainID != req.FromToken.ChainID {
			return nil, apperr.New(apperr.CodeProtocol, "quote transaction chain does not match source chain")
		}
		value, err := hexToDecimal(resp.TransactionRequest.Value)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeProtocol, "parse quote transaction value", err)
		}
		out.Transaction = &model.TransactionPayload{
			To:       resp.TransactionRequest.To,
			Data:     ensureHexPrefix(resp.TransactionRequest.Data),
			Value:    value,
			ChainID:  req.FromToken.ChainID,
			GasLimit: resp.TransactionRequest.GasLimit,
		}
	}
	// Bridge tool key feeds the status poller for cross-chain routes.
	if out.CrossChain() && out.Tool == "" {
		out.Tool = resp.ToolDetails.Key
	}
	return out, nil
}

// NeedsApproval reports whether the source token requires an ERC20 allowance
// before execution. Native assets never do.
func NeedsApproval(q *model.Quote) bool {
	if q == nil || q.ApprovalAddress == "" {
		return false
	}
	return !registry.IsNativeAsset(q.FromToken.Address)
}

func validate(req Request) error {
	if req.FromToken.Address == "" || req.ToToken.Address == "" {
		return apperr.New(apperr.CodeUsage, "quote requires from and to token addresses")
	}
	if req.FromToken.ChainID <= 0 || req.ToToken.ChainID <= 0 {
		return apperr.New(apperr.CodeUsage, "quote requires from and to chain ids")
	}
	if strings.TrimSpace(req.FromAddress) == "" {
		return apperr.New(apperr.CodeUsage, "quote requires a from address")
	}
	if strings.TrimSpace(req.FromAmount) == "" {
		return apperr.New(apperr.CodeUsage, "quote requires a positive amount")
	}
	return nil
}

func amountInfo(baseUnits string, decimals int) model.AmountInfo {
	dec, err := amount.FromFixedPoint(baseUnits, decimals)
	if err != nil {
		dec = ""
	}
	return model.AmountInfo{AmountBaseUnits: baseUnits, AmountDecimal: dec, Decimals: decimals}
}

func sumUSD(resp quoteResponse) float64 {
	total := 0.0
	for _, item := range resp.Estimate.FeeCosts {
		v, _ := strconv.ParseFloat(item.AmountUSD, 64)
		total += v
	}
	for _, item := range resp.Estimate.GasCosts {
		v, _ := strconv.ParseFloat(item.AmountUSD, 64)
		total += v
	}
	return total
}

func formatSlippage(bps int64) string {
	return strconv.FormatFloat(float64(bps)/10000, 'f', 6, 64)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func ensureHexPrefix(v string) string {
	clean := strings.TrimSpace(v)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		return clean
	}
	return "0x" + clean
}

func hexToDecimal(v string) (string, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return "0", nil
	}
	clean = strings.TrimPrefix(clean, "0x")
	clean = strings.TrimPrefix(clean, "0X")
	n := new(big.Int)
	if _, ok := n.SetString(clean, 16); !ok {
		return "", fmt.Errorf("invalid hex value %q", v)
	}
	return n.String(), nil
}
