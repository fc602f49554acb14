package settle

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/httpx"
)

// Relay submits a bundle through an account-abstraction relay that sponsors
// gas. Returns the user operation hash.
type Relay interface {
	SubmitBundle(ctx context.Context, bundle Bundle) (string, error)
}

type HTTPRelay struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func NewHTTPRelay(httpClient *httpx.Client, baseURL, apiKey string) *HTTPRelay {
	// Bundle submission moves funds; it never auto-retries.
	return &HTTPRelay{http: httpClient.WithRetries(0), baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

type relayCall struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

type relayRequest struct {
	ChainID int64       `json:"chainId"`
	Calls   []relayCall `json:"calls"`
	Atomic  bool        `json:"atomic"`
}

type relayResponse struct {
	UserOpHash string `json:"userOpHash"`
	TxHash     string `json:"txHash"`
	Error      string `json:"error"`
	Revert     string `json:"revertReason"`
}

func (r *HTTPRelay) SubmitBundle(ctx context.Context, bundle Bundle) (string, error) {
	payload := relayRequest{ChainID: bundle.ChainID, Atomic: true}
	for _, call := range bundle.Calls {
		payload.Calls = append(payload.Calls, relayCall{
			To:    call.Target.Hex(),
			Data:  "0x" + common.Bytes2Hex(call.Data),
			Value: call.Value.String(),
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeInternal, "encode relay request", err)
	}

	headers := map[string]string{}
	if r.apiKey != "" {
		headers["Authorization"] = "Bearer " + r.apiKey
	}
	var resp relayResponse
	if _, err := r.http.PostJSON(ctx, r.baseURL+"/v1/bundles", body, headers, &resp); err != nil {
		return "", err
	}
	if resp.Revert != "" {
		// Revert reasons surface verbatim (permit deadline expired,
		// nonce mismatch).
		return "", apperr.New(apperr.CodeProtocol, resp.Revert)
	}
	if resp.Error != "" {
		if strings.Contains(strings.ToLower(resp.Error), "insufficient") {
			return "", apperr.New(apperr.CodeInsufficientFunds, resp.Error)
		}
		return "", apperr.New(apperr.CodeUnavailable, resp.Error)
	}
	hash := resp.UserOpHash
	if hash == "" {
		hash = resp.TxHash
	}
	if hash == "" {
		return "", apperr.New(apperr.CodeUnavailable, "relay returned no operation hash")
	}
	return hash, nil
}
