// Package status polls the aggregator's transfer-status endpoint for
// cross-chain settlement.
package status

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/httpx"
	"github.com/codecollab/agentpay/internal/model"
	"github.com/codecollab/agentpay/internal/registry"
)

// TrackRequest identifies one cross-chain transfer.
type TrackRequest struct {
	TxHash      string
	Bridge      string
	FromChainID int64
	ToChainID   int64
}

type Poller struct {
	http     *httpx.Client
	baseURL  string
	interval time.Duration
	budget   int
	log      *slog.Logger

	// after supplies the inter-poll timer. Test hook.
	after func(time.Duration) <-chan time.Time
}

func NewPoller(httpClient *httpx.Client, baseURL string, interval time.Duration, budget int, log *slog.Logger) *Poller {
	if baseURL == "" {
		baseURL = registry.StatusBaseURL
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if budget <= 0 {
		budget = 60
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		interval: interval,
		budget:   budget,
		log:      log,
		after:    time.After,
	}
}

// SetTimer overrides the poll timer source. Test hook.
func (p *Poller) SetTimer(after func(time.Duration) <-chan time.Time) {
	if after != nil {
		p.after = after
	}
}

type statusResponse struct {
	Status    string `json:"status"`
	Substatus string `json:"substatus"`
	Sending   *struct {
		TxHash  string `json:"txHash"`
		Amount  string `json:"amount"`
		ChainID int64  `json:"chainId"`
		Token   struct {
			Symbol string `json:"symbol"`
		} `json:"token"`
	} `json:"sending"`
	Receiving *struct {
		TxHash  string `json:"txHash"`
		Amount  string `json:"amount"`
		ChainID int64  `json:"chainId"`
		Token   struct {
			Symbol string `json:"symbol"`
		} `json:"token"`
	} `json:"receiving"`
}

// Status performs one status lookup.
func (p *Poller) Status(ctx context.Context, req TrackRequest) (model.TransferStatus, error) {
	if strings.TrimSpace(req.TxHash) == "" {
		return model.TransferStatus{}, apperr.New(apperr.CodeUsage, "status lookup requires a transaction hash")
	}
	vals := url.Values{}
	vals.Set("txHash", req.TxHash)
	if req.Bridge != "" {
		vals.Set("bridge", req.Bridge)
	}
	if req.FromChainID > 0 {
		vals.Set("fromChain", strconv.FormatInt(req.FromChainID, 10))
	}
	if req.ToChainID > 0 {
		vals.Set("toChain", strconv.FormatInt(req.ToChainID, 10))
	}

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+vals.Encode(), nil)
	if err != nil {
		return model.TransferStatus{}, apperr.Wrap(apperr.CodeInternal, "build status request", err)
	}
	var resp statusResponse
	if _, err := p.http.DoJSON(ctx, hReq, &resp); err != nil {
		return model.TransferStatus{}, err
	}
	return toStatus(resp), nil
}

func toStatus(resp statusResponse) model.TransferStatus {
	out := model.TransferStatus{
		State:     parseState(resp.Status),
		Substatus: resp.Substatus,
	}
	if resp.Sending != nil {
		out.Sending = &model.TransferLeg{
			TxHash:  resp.Sending.TxHash,
			Amount:  resp.Sending.Amount,
			Token:   resp.Sending.Token.Symbol,
			ChainID: resp.Sending.ChainID,
		}
	}
	if resp.Receiving != nil {
		out.Receiving = &model.TransferLeg{
			TxHash:  resp.Receiving.TxHash,
			Amount:  resp.Receiving.Amount,
			Token:   resp.Receiving.Token.Symbol,
			ChainID: resp.Receiving.ChainID,
		}
	}
	return out
}

func parseState(raw string) model.TransferState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DONE":
		return model.TransferDone
	case "FAILED":
		return model.TransferFailed
	case "NOT_FOUND":
		return model.TransferNotFound
	case "INVALID":
		return model.TransferInvalid
	default:
		// Unknown provider states read as still pending.
		return model.TransferPending
	}
}

// Track polls until the transfer reaches a terminal state or the attempt
// budget runs out. Every observation is delivered on the returned channel;
// the final one is DONE, FAILED, or TIMEOUT. Transport errors consume an
// attempt without a verdict. Cancel via ctx.
func (p *Poller) Track(ctx context.Context, req TrackRequest) <-chan model.TransferStatus {
	updates := make(chan model.TransferStatus, 1)
	go func() {
		defer close(updates)
		for attempt := 1; attempt <= p.budget; attempt++ {
			st, err := p.Status(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.log.Debug("status poll failed", "attempt", attempt, "err", err)
				st = model.TransferStatus{State: model.TransferPending}
			}
			st.Attempt = attempt
			select {
			case updates <- st:
			case <-ctx.Done():
				return
			}
			if st.State.Terminal() {
				return
			}
			if attempt == p.budget {
				// Budget exhausted while still pending. The
				// transfer may yet complete; timeout is a local
				// verdict, not a failure.
				timeout := st
				timeout.State = model.TransferTimeout
				select {
				case updates <- timeout:
				case <-ctx.Done():
				}
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-p.after(p.interval):
			}
		}
	}()
	return updates
}
