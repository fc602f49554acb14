package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/permit"
	"github.com/codecollab/agentpay/internal/registry"
	"github.com/codecollab/agentpay/internal/settle"
	"github.com/codecollab/agentpay/internal/wallet"
)

// newTrigger assembles the one-shot settlement pipeline: wallet, permit
// signer over the settlement chain RPC, relay, trigger.
func (s *runtimeState) newTrigger(ctx context.Context) (*settle.Trigger, wallet.Wallet, func(), error) {
	recipient := s.settings.SettlementRecipient
	if recipient != "" && !common.IsHexAddress(recipient) {
		return nil, nil, nil, apperr.New(apperr.CodeUsage, "settlement recipient is not a valid address")
	}

	w, err := s.runner.loadWallet()
	if err != nil {
		return nil, nil, nil, err
	}

	rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, registry.SettlementChainID)
	if err != nil {
		return nil, nil, nil, apperr.Wrap(apperr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, nil, apperr.Wrap(apperr.CodeUnavailable, "connect settlement chain rpc", err)
	}
	cleanup := func() { client.Close() }

	reader, err := permit.NewRPCTokenReader(client)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	signer := permit.NewSigner(reader, w, s.settings.PermitDeadlineCap)
	relay := settle.NewHTTPRelay(s.http, s.settings.RelayBaseURL, s.settings.RelayAPIKey)
	submitter := settle.NewBundleSubmitter(signer, relay, w,
		common.HexToAddress(recipient), registry.SettlementChainID, s.settings.PermitDeadline)
	trigger := settle.NewTrigger(common.HexToAddress(recipient), submitter, s.settings.ArmDelay, s.log)
	return trigger, w, cleanup, nil
}
