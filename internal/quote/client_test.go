package quote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/httpx"
	"github.com/codecollab/agentpay/internal/model"
)

func testRequest() Request {
	return Request{
		FromToken: model.TokenDescriptor{
			ChainID:  8453,
			Address:  "0xfdcC3dd6671eaB0709A4C0f3F53De9a333d80798",
			Symbol:   "SBC",
			Decimals: 6,
		},
		ToToken: model.TokenDescriptor{
			ChainID:  10,
			Address:  "0x4200000000000000000000000000000000000006",
			Symbol:   "WETH",
			Decimals: 18,
		},
		FromAmount:  "100.5",
		FromAddress: "0x1111111111111111111111111111111111111111",
	}
}

const quoteBody = `{
	"id": "q-1",
	"tool": "across",
	"toolDetails": {"key": "across", "name": "Across"},
	"estimate": {
		"toAmount": "42000000000000000",
		"toAmountMin": "41500000000000000",
		"approvalAddress": "0x5555555555555555555555555555555555555555",
		"executionDuration": 30,
		"feeCosts": [{"amountUSD": "0.15"}],
		"gasCosts": [{"amountUSD": "0.05"}]
	},
	"includedSteps": [
		{"tool": "across", "action": {"fromChainId": 8453, "toChainId": 10}, "estimate": {"toAmount": "42000000000000000"}}
	],
	"transactionRequest": {
		"to": "0x6666666666666666666666666666666666666666",
		"data": "a9059cbb",
		"value": "0x0",
		"chainId": 8453,
		"gasLimit": "210000"
	}
}`

func TestQuoteParsesRoute(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Write([]byte(quoteBody))
	}))
	defer srv.Close()

	c := NewClient(httpx.New(2*time.Second, 0), srv.URL)
	c.SetClock(func() time.Time { return time.Unix(1700000000, 0) })

	q, err := c.Quote(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery["fromChain"] != "8453" || gotQuery["toChain"] != "10" {
		t.Fatalf("chain params = %v", gotQuery)
	}
	if gotQuery["fromAmount"] != "100500000" {
		t.Fatalf("fromAmount = %q, want base units 100500000", gotQuery["fromAmount"])
	}
	if gotQuery["slippage"] != "0.005000" {
		t.Fatalf("slippage = %q", gotQuery["slippage"])
	}
	if q.Tool != "Across" {
		t.Fatalf("tool = %q", q.Tool)
	}
	if !q.CrossChain() {
		t.Fatal("quote should be cross-chain")
	}
	if q.EstimatedOut.AmountBaseUnits != "42000000000000000" || q.EstimatedOut.AmountDecimal != "0.042" {
		t.Fatalf("estimated out = %+v", q.EstimatedOut)
	}
	if q.MinimumOut.AmountBaseUnits != "41500000000000000" {
		t.Fatalf("minimum out = %+v", q.MinimumOut)
	}
	if q.EstimatedFeeUSD != 0.2 {
		t.Fatalf("fee usd = %v", q.EstimatedFeeUSD)
	}
	if q.Transaction == nil || q.Transaction.Data != "0xa9059cbb" || q.Transaction.Value != "0" {
		t.Fatalf("transaction = %+v", q.Transaction)
	}
	if q.ApprovalAddress != "0x5555555555555555555555555555555555555555" {
		t.Fatalf("approval address = %q", q.ApprovalAddress)
	}
	if len(q.Steps) != 1 || q.Steps[0].Tool != "across" {
		t.Fatalf("steps = %+v", q.Steps)
	}
}

func TestQuoteNoRouteNamesChainPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"estimate": {}}`))
	}))
	defer srv.Close()

	c := NewClient(httpx.New(2*time.Second, 0), srv.URL)
	_, err := c.Quote(context.Background(), testRequest())
	if !apperr.HasCode(err, apperr.CodeUnavailable) {
		t.Fatalf("err = %v, want unavailable", err)
	}
	if !strings.Contains(err.Error(), "8453") || !strings.Contains(err.Error(), "10") {
		t.Fatalf("diagnostic %q does not name the chain pair", err.Error())
	}
}

func TestQuoteRejectsMismatchedTransactionChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Replace(quoteBody, `"chainId": 8453`, `"chainId": 1`, 1)))
	}))
	defer srv.Close()

	c := NewClient(httpx.New(2*time.Second, 0), srv.URL)
	_, err := c.Quote(context.Background(), testRequest())
	if !apperr.HasCode(err, apperr.CodeProtocol) {
		t.Fatalf("err = %v, want protocol error", err)
	}
}

func TestQuoteValidation(t *testing.T) {
	c := NewClient(httpx.New(time.Second, 0), "http://127.0.0.1:0")
	req := testRequest()
	req.FromAmount = ""
	if _, err := c.Quote(context.Background(), req); !apperr.HasCode(err, apperr.CodeUsage) {
		t.Fatalf("empty amount err = %v, want usage", err)
	}
	req = testRequest()
	req.FromAddress = ""
	if _, err := c.Quote(context.Background(), req); !apperr.HasCode(err, apperr.CodeUsage) {
		t.Fatalf("empty address err = %v, want usage", err)
	}
}

func TestNeedsApproval(t *testing.T) {
	q := &model.Quote{ApprovalAddress: "0x5555555555555555555555555555555555555555"}
	q.FromToken.Address = "0xfdcC3dd6671eaB0709A4C0f3F53De9a333d80798"
	if !NeedsApproval(q) {
		t.Fatal("ERC20 source with approval address must need approval")
	}

	for _, native := range []string{
		"0x0000000000000000000000000000000000000000",
		"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
		"native",
		"",
	} {
		q.FromToken.Address = native
		if NeedsApproval(q) {
			t.Fatalf("native sentinel %q must not need approval", native)
		}
	}

	if NeedsApproval(nil) {
		t.Fatal("nil quote must not need approval")
	}
	if NeedsApproval(&model.Quote{}) {
		t.Fatal("quote without approval address must not need approval")
	}
}
