package settle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	apperr "github.com/codecollab/agentpay/internal/errors"
)

type countingSubmitter struct {
	mu    sync.Mutex
	calls int
	hash  string
	err   error
}

func (c *countingSubmitter) Submit(ctx context.Context, outcome Outcome) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.hash, c.err
}

func (c *countingSubmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func instantTimer(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func newTestTrigger(sub Submitter) *Trigger {
	recipient := common.HexToAddress("0x7Cf4be31f546c04787886358b9486ca3d62B9acf")
	tr := NewTrigger(recipient, sub, 1500*time.Millisecond, nil)
	tr.SetTimer(instantTimer)
	return tr
}

func TestTriggerSettlesOncePerOutcome(t *testing.T) {
	sub := &countingSubmitter{hash: "0xop"}
	tr := newTestTrigger(sub)
	outcome := Outcome{Description: "summarize repo", AmountDecimal: "1.25"}

	hash, err := tr.Observe(context.Background(), outcome, true)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if hash != "0xop" {
		t.Fatalf("hash = %q, want 0xop", hash)
	}
	if got := tr.State(); got != StateSettled {
		t.Fatalf("state = %s, want settled", got)
	}

	// Redeliver the identical outcome several times.
	for i := 0; i < 5; i++ {
		hash, err := tr.Observe(context.Background(), outcome, true)
		if err != nil {
			t.Fatalf("redelivery %d: %v", i, err)
		}
		if hash != "" {
			t.Fatalf("redelivery %d produced hash %q", i, hash)
		}
	}
	if sub.count() != 1 {
		t.Fatalf("submitter called %d times, want 1", sub.count())
	}
}

func TestTriggerDistinctOutcomesEachSettle(t *testing.T) {
	sub := &countingSubmitter{hash: "0xop"}
	tr := newTestTrigger(sub)

	first := Outcome{Description: "task a", AmountDecimal: "1.00"}
	second := Outcome{Description: "task a", AmountDecimal: "2.00"}
	if _, err := tr.Observe(context.Background(), first, true); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Observe(context.Background(), second, true); err != nil {
		t.Fatal(err)
	}
	if sub.count() != 2 {
		t.Fatalf("submitter called %d times, want 2", sub.count())
	}
}

func TestTriggerRequiresRecipient(t *testing.T) {
	sub := &countingSubmitter{}
	tr := NewTrigger(common.Address{}, sub, time.Millisecond, nil)
	tr.SetTimer(instantTimer)

	_, err := tr.Observe(context.Background(), Outcome{Description: "x", AmountDecimal: "1"}, true)
	if !apperr.HasCode(err, apperr.CodeUsage) {
		t.Fatalf("err = %v, want usage error", err)
	}
	if got := tr.State(); got != StateIdle {
		t.Fatalf("state = %s, want idle", got)
	}
	if sub.count() != 0 {
		t.Fatalf("submitter called %d times, want 0", sub.count())
	}
}

func TestTriggerSkipsNonPositiveAndUnreadyWallet(t *testing.T) {
	sub := &countingSubmitter{}
	tr := newTestTrigger(sub)

	cases := []struct {
		name    string
		outcome Outcome
		ready   bool
	}{
		{"zero amount", Outcome{Description: "x", AmountDecimal: "0"}, true},
		{"zero with fraction", Outcome{Description: "x", AmountDecimal: "0.00"}, true},
		{"empty amount", Outcome{Description: "x", AmountDecimal: ""}, true},
		{"malformed amount", Outcome{Description: "x", AmountDecimal: "1.2.3"}, true},
		{"wallet not ready", Outcome{Description: "x", AmountDecimal: "1"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hash, err := tr.Observe(context.Background(), tc.outcome, tc.ready)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if hash != "" {
				t.Fatalf("unexpected hash %q", hash)
			}
		})
	}
	if sub.count() != 0 {
		t.Fatalf("submitter called %d times, want 0", sub.count())
	}
}

func TestTriggerFailureIsSticky(t *testing.T) {
	sub := &countingSubmitter{err: apperr.New(apperr.CodeUnavailable, "relay down")}
	tr := newTestTrigger(sub)
	outcome := Outcome{Description: "y", AmountDecimal: "3.50"}

	_, err := tr.Observe(context.Background(), outcome, true)
	if !apperr.HasCode(err, apperr.CodeUnavailable) {
		t.Fatalf("err = %v, want unavailable", err)
	}
	if got := tr.State(); got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}

	// Same outcome redelivered: still only one attempt.
	if _, err := tr.Observe(context.Background(), outcome, true); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if sub.count() != 1 {
		t.Fatalf("submitter called %d times, want 1", sub.count())
	}

	// An explicit retry clears the fingerprint.
	tr.Forget(outcome)
	if _, err := tr.Observe(context.Background(), outcome, true); !apperr.HasCode(err, apperr.CodeUnavailable) {
		t.Fatalf("retry err = %v, want unavailable", err)
	}
	if sub.count() != 2 {
		t.Fatalf("submitter called %d times after retry, want 2", sub.count())
	}
}

func TestTriggerCancelDuringArmDelay(t *testing.T) {
	sub := &countingSubmitter{hash: "0xop"}
	recipient := common.HexToAddress("0x7Cf4be31f546c04787886358b9486ca3d62B9acf")
	tr := NewTrigger(recipient, sub, time.Hour, nil)
	tr.SetTimer(func(time.Duration) <-chan time.Time {
		return make(chan time.Time) // never fires
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Observe(ctx, Outcome{Description: "z", AmountDecimal: "1"}, true)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if sub.count() != 0 {
		t.Fatalf("submitter called %d times, want 0", sub.count())
	}
	if got := tr.State(); got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
}

func TestOutcomeFingerprintStable(t *testing.T) {
	a := Outcome{Description: "task", AmountDecimal: "1.25"}
	b := Outcome{Description: "task", AmountDecimal: "1.25"}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical outcomes must share a fingerprint")
	}
	c := Outcome{Description: "task", AmountDecimal: "1.250"}
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("different amount strings must not collide")
	}
}
