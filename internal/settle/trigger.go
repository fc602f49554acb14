package settle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	apperr "github.com/codecollab/agentpay/internal/errors"
)

type State string

const (
	StateIdle       State = "idle"
	StateArmed      State = "armed"
	StateSubmitting State = "submitting"
	StateSettled    State = "settled"
	StateFailed     State = "failed"
)

// Outcome is a task result carrying the payment due, already converted to a
// decimal amount of the settlement token.
type Outcome struct {
	Description   string
	AmountDecimal string
}

// Fingerprint identifies an outcome for idempotency: the same task result
// delivered twice settles at most once.
func (o Outcome) Fingerprint() string {
	sum := sha256.Sum256([]byte(o.Description + "\n" + o.AmountDecimal))
	return hex.EncodeToString(sum[:])
}

// Submitter performs the effectful settlement: sign the permit, build the
// bundle, relay it. Returns the operation hash.
type Submitter interface {
	Submit(ctx context.Context, outcome Outcome) (string, error)
}

// Decision is the pure outcome of evaluating whether to settle.
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionArm
)

// Trigger ensures exactly one settlement bundle per distinct outcome.
type Trigger struct {
	mu        sync.Mutex
	state     State
	seen      map[string]struct{}
	recipient common.Address
	submitter Submitter
	armDelay  time.Duration
	log       *slog.Logger

	// after is the arm-delay timer source. Test hook.
	after func(time.Duration) <-chan time.Time
}

func NewTrigger(recipient common.Address, submitter Submitter, armDelay time.Duration, log *slog.Logger) *Trigger {
	if log == nil {
		log = slog.Default()
	}
	return &Trigger{
		state:     StateIdle,
		seen:      map[string]struct{}{},
		recipient: recipient,
		submitter: submitter,
		armDelay:  armDelay,
		log:       log,
		after:     time.After,
	}
}

// SetTimer overrides the arm-delay timer source. Test hook.
func (t *Trigger) SetTimer(after func(time.Duration) <-chan time.Time) {
	if after != nil {
		t.after = after
	}
}

func (t *Trigger) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Decide is the pure arming decision: positive amount, ready wallet,
// configured recipient, unseen fingerprint.
func (t *Trigger) Decide(outcome Outcome, walletReady bool) (Decision, error) {
	if t.recipient == (common.Address{}) {
		return DecisionSkip, apperr.New(apperr.CodeUsage, "settlement recipient is not configured")
	}
	if !walletReady {
		return DecisionSkip, nil
	}
	if !positiveDecimal(outcome.AmountDecimal) {
		return DecisionSkip, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle && t.state != StateSettled && t.state != StateFailed {
		return DecisionSkip, nil
	}
	if _, dup := t.seen[outcome.Fingerprint()]; dup {
		return DecisionSkip, nil
	}
	return DecisionArm, nil
}

// Observe runs the full arm -> submit sequence for one outcome. Duplicate
// deliveries return immediately with no submission.
func (t *Trigger) Observe(ctx context.Context, outcome Outcome, walletReady bool) (string, error) {
	decision, err := t.Decide(outcome, walletReady)
	if err != nil {
		return "", err
	}
	if decision != DecisionArm {
		return "", nil
	}

	fingerprint := outcome.Fingerprint()
	t.mu.Lock()
	if _, dup := t.seen[fingerprint]; dup {
		t.mu.Unlock()
		return "", nil
	}
	// Fingerprint recorded at arming time: redeliveries from here on are
	// ignored regardless of how the submission ends.
	t.seen[fingerprint] = struct{}{}
	t.state = StateArmed
	t.mu.Unlock()

	t.log.Debug("payment armed", "fingerprint", fingerprint[:8], "amount", outcome.AmountDecimal)

	// Short delay so the pending amount is visible before the wallet
	// prompt appears.
	select {
	case <-ctx.Done():
		t.setState(StateFailed)
		return "", apperr.Wrap(apperr.CodeInternal, "settlement cancelled", ctx.Err())
	case <-t.after(t.armDelay):
	}

	t.setState(StateSubmitting)
	hash, err := t.submitter.Submit(ctx, outcome)
	if err != nil {
		t.setState(StateFailed)
		t.log.Warn("settlement failed", "fingerprint", fingerprint[:8], "err", err)
		return "", err
	}
	t.setState(StateSettled)
	t.log.Info("settlement submitted", "fingerprint", fingerprint[:8], "hash", hash)
	return hash, nil
}

// Forget clears an outcome's fingerprint so an explicit user retry can
// settle it again after a failure.
func (t *Trigger) Forget(outcome Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, outcome.Fingerprint())
}

func (t *Trigger) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func positiveDecimal(v string) bool {
	nonZero := false
	dots := 0
	if v == "" {
		return false
	}
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			if r != '0' {
				nonZero = true
			}
		case r == '.':
			dots++
			if dots > 1 {
				return false
			}
		default:
			return false
		}
	}
	return nonZero
}
