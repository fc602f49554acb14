package quote

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/codecollab/agentpay/internal/model"
)

const defaultDebounce = 800 * time.Millisecond

// Update is one engine emission: a fresh quote, a diagnostic, or a clear
// (both nil) when the input amount became empty.
type Update struct {
	Quote *model.Quote
	Err   error
}

// Engine debounces interactive quote input. Rapid parameter changes coalesce
// into one fetch of the latest values after a quiet period; while a fetch is
// in flight, newer requests are dropped rather than queued.
type Engine struct {
	client   *Client
	delay    time.Duration
	log      *slog.Logger
	requests chan Request
	updates  chan Update
	cancel   context.CancelFunc
	done     chan struct{}

	// after supplies the debounce timer. Test hook.
	after func(time.Duration) <-chan time.Time
}

func NewEngine(client *Client, delay time.Duration, log *slog.Logger) *Engine {
	if delay <= 0 {
		delay = defaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		client:   client,
		delay:    delay,
		log:      log,
		requests: make(chan Request, 16),
		updates:  make(chan Update, 16),
		done:     make(chan struct{}),
		after:    time.After,
	}
}

// SetTimer overrides the debounce timer source. Call before Start. Test hook.
func (e *Engine) SetTimer(after func(time.Duration) <-chan time.Time) {
	if after != nil {
		e.after = after
	}
}

// Updates delivers engine emissions in request order.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// Start runs the engine loop until Close.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go e.loop(ctx)
}

// Close tears the engine down. A pending debounce or in-flight fetch is
// cancelled; no update is emitted for it.
func (e *Engine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	<-e.done
}

// Request submits new quote input. An empty or non-positive amount clears
// the current quote immediately with no network call.
func (e *Engine) Request(req Request) {
	select {
	case e.requests <- req:
	case <-e.done:
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	var (
		pending  *Request
		timerC   <-chan time.Time
		inFlight bool
		dropNext bool
		results  = make(chan Update, 1)
	)

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-e.requests:
			if clearsQuote(req.FromAmount) {
				pending = nil
				timerC = nil
				// A result still in flight is stale once the
				// field is cleared.
				dropNext = inFlight
				e.emit(ctx, Update{})
				continue
			}
			if inFlight {
				// Dropped, not queued. The caller re-requests
				// after the current fetch lands.
				e.log.Debug("quote request dropped, fetch in flight")
				continue
			}
			r := req
			pending = &r
			timerC = e.after(e.delay)

		case <-timerC:
			timerC = nil
			if pending == nil {
				continue
			}
			req := *pending
			pending = nil
			inFlight = true
			go func() {
				q, err := e.client.Quote(ctx, req)
				select {
				case results <- Update{Quote: q, Err: err}:
				case <-ctx.Done():
				}
			}()

		case res := <-results:
			inFlight = false
			if dropNext {
				dropNext = false
				continue
			}
			if res.Err != nil {
				// Diagnostic replaces the quote; the previous
				// quote is stale the moment inputs changed.
				e.emit(ctx, Update{Err: res.Err})
				continue
			}
			e.emit(ctx, res)
		}
	}
}

func (e *Engine) emit(ctx context.Context, u Update) {
	select {
	case e.updates <- u:
	case <-ctx.Done():
	}
}

func clearsQuote(amountDecimal string) bool {
	clean := strings.TrimSpace(amountDecimal)
	if clean == "" {
		return true
	}
	for _, r := range clean {
		if r >= '1' && r <= '9' {
			return false
		}
		if r != '0' && r != '.' {
			// Malformed input falls through to the client, which
			// rejects it with a usage error.
			return false
		}
	}
	return true
}
