package task

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/httpx"
)

func newTestClient(serverURL string) *Client {
	return NewClient(httpx.New(2*time.Second, 2), serverURL)
}

func TestProcessReturnsOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/process" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Task != "summarize repo" {
			t.Errorf("task = %q", req.Task)
		}
		json.NewEncoder(w).Encode(Outcome{
			Success:         true,
			Decision:        "completed",
			Payment:         Payment{Amount: 1.25, Currency: "USD"},
			ExecutionTimeMs: 840,
			TokensUsed:      512,
		})
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Process(context.Background(), Request{Task: "summarize repo"})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Decision != "completed" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Payment.Amount != 1.25 {
		t.Fatalf("payment = %v", out.Payment.Amount)
	}
}

func TestProcessDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Process(context.Background(), Request{Task: "x"})
	if !apperr.HasCode(err, apperr.CodeUnavailable) {
		t.Fatalf("err = %v, want unavailable", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("task submitted %d times, want exactly 1", got)
	}
}

func TestProcessRejectsEmptyTask(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:0").Process(context.Background(), Request{Task: "   "})
	if !apperr.HasCode(err, apperr.CodeUsage) {
		t.Fatalf("err = %v, want usage error", err)
	}
}

func TestHealthyReportsDownBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded"})
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Healthy(context.Background())
	if !apperr.HasCode(err, apperr.CodeUnavailable) {
		t.Fatalf("err = %v, want unavailable", err)
	}
}

func TestHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/history" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"history": []HistoryEntry{
				{Task: "a", Decision: "completed", AmountUSD: 0.5},
				{Task: "b", Decision: "rejected", AmountUSD: 0},
			},
		})
	}))
	defer srv.Close()

	entries, err := newTestClient(srv.URL).History(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Task != "a" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestPaymentAmountDecimal(t *testing.T) {
	cases := []struct {
		amount float64
		want   string
	}{
		{1.25, "1.25"},
		{0.1, "0.1"},
		{2, "2"},
		{0.30000000000000004, "0.3"},
	}
	for _, tc := range cases {
		got, err := Payment{Amount: tc.amount, Currency: "USD"}.AmountDecimal()
		if err != nil {
			t.Fatalf("%v: %v", tc.amount, err)
		}
		if got != tc.want {
			t.Fatalf("AmountDecimal(%v) = %q, want %q", tc.amount, got, tc.want)
		}
	}

	if _, err := (Payment{Amount: 1, Currency: "EUR"}).AmountDecimal(); !apperr.HasCode(err, apperr.CodeUnsupported) {
		t.Fatalf("currency err = %v, want unsupported", err)
	}
	if _, err := (Payment{Amount: -1}).AmountDecimal(); !apperr.HasCode(err, apperr.CodeUsage) {
		t.Fatalf("negative err = %v, want usage", err)
	}
}
