package settle

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/codecollab/agentpay/internal/amount"
	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/permit"
	"github.com/codecollab/agentpay/internal/registry"
	"github.com/codecollab/agentpay/internal/wallet"
)

// BundleSubmitter turns a task outcome into a signed permit bundle and hands
// it to the relay.
type BundleSubmitter struct {
	signer    *permit.Signer
	relay     Relay
	wallet    wallet.Wallet
	token     common.Address
	spender   common.Address
	recipient common.Address
	chainID   int64
	deadline  time.Duration
	now       func() time.Time
}

func NewBundleSubmitter(signer *permit.Signer, relay Relay, w wallet.Wallet, recipient common.Address, chainID int64, deadline time.Duration) *BundleSubmitter {
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	return &BundleSubmitter{
		signer:    signer,
		relay:     relay,
		wallet:    w,
		token:     common.HexToAddress(registry.SettlementTokenAddress),
		spender:   common.HexToAddress(registry.PlatformSettlementAddress),
		recipient: recipient,
		chainID:   chainID,
		deadline:  deadline,
		now:       time.Now,
	}
}

// SetClock overrides the deadline clock. Test hook.
func (s *BundleSubmitter) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *BundleSubmitter) Submit(ctx context.Context, outcome Outcome) (string, error) {
	raw, err := amount.ToFixedPoint(outcome.AmountDecimal, registry.SettlementTokenDecimals)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeUsage, "convert settlement amount", err)
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() <= 0 {
		return "", apperr.New(apperr.CodeUsage, "settlement amount rounds to zero")
	}

	owner := s.wallet.Address()
	sig, err := s.signer.Sign(ctx, permit.Request{
		Owner:    owner,
		Spender:  s.spender,
		Token:    s.token,
		Value:    raw,
		Deadline: s.now().Add(s.deadline).Unix(),
		ChainID:  s.chainID,
	})
	if err != nil {
		return "", err
	}

	bundle, err := BuildBundle(s.token, owner, s.spender, s.recipient, value, sig, s.chainID)
	if err != nil {
		return "", err
	}
	return s.relay.SubmitBundle(ctx, bundle)
}
