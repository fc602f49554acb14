package app

import (
	"context"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/model"
	"github.com/codecollab/agentpay/internal/out"
	"github.com/codecollab/agentpay/internal/quote"
	"github.com/codecollab/agentpay/internal/registry"
	"github.com/codecollab/agentpay/internal/status"
	"github.com/codecollab/agentpay/internal/swap"
)

type swapRouteFlags struct {
	fromChain    int64
	toChain      int64
	fromToken    string
	toToken      string
	fromDecimals int
	toDecimals   int
	amount       string
	slippageBps  int64
}

func (f *swapRouteFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.fromChain, "from-chain", registry.BaseChainID, "Source chain id")
	cmd.Flags().Int64Var(&f.toChain, "to-chain", registry.BaseChainID, "Destination chain id")
	cmd.Flags().StringVar(&f.fromToken, "from-token", "", "Source token address")
	cmd.Flags().StringVar(&f.toToken, "to-token", "", "Destination token address")
	cmd.Flags().IntVar(&f.fromDecimals, "from-decimals", 18, "Source token decimals")
	cmd.Flags().IntVar(&f.toDecimals, "to-decimals", 18, "Destination token decimals")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Input amount in source token units")
	cmd.Flags().Int64Var(&f.slippageBps, "slippage-bps", 0, "Slippage tolerance in basis points")
	_ = cmd.MarkFlagRequired("from-token")
	_ = cmd.MarkFlagRequired("to-token")
	_ = cmd.MarkFlagRequired("amount")
}

func (f *swapRouteFlags) request(fromAddress string, defaultSlippage int64) quote.Request {
	slippage := f.slippageBps
	if slippage <= 0 {
		slippage = defaultSlippage
	}
	return quote.Request{
		FromToken: model.TokenDescriptor{
			ChainID:  f.fromChain,
			Address:  f.fromToken,
			Decimals: f.fromDecimals,
		},
		ToToken: model.TokenDescriptor{
			ChainID:  f.toChain,
			Address:  f.toToken,
			Decimals: f.toDecimals,
		},
		FromAmount:  f.amount,
		FromAddress: fromAddress,
		SlippageBps: slippage,
	}
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	root := &cobra.Command{Use: "swap", Short: "Quote and execute token swaps"}
	root.AddCommand(s.newSwapQuoteCommand())
	root.AddCommand(s.newSwapExecuteCommand())
	root.AddCommand(s.newSwapStatusCommand())
	return root
}

func (s *runtimeState) newSwapQuoteCommand() *cobra.Command {
	var flags swapRouteFlags
	var fromAddress string

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Fetch a swap route quote",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			sender := fromAddress
			if sender == "" {
				w, err := s.runner.loadWallet()
				if err != nil {
					return apperr.Wrap(apperr.CodeUsage, "no --from-address and no local wallet", err)
				}
				sender = w.Address().Hex()
			}

			client := quote.NewClient(s.http, s.settings.QuoteBaseURL)
			q, err := client.Quote(cmd.Context(), flags.request(sender, s.settings.DefaultSlippageBps))
			if err != nil {
				return err
			}

			var warnings []string
			if quote.NeedsApproval(q) {
				warnings = append(warnings, "execution will require an ERC20 approval to "+q.ApprovalAddress)
			}
			return s.emitSuccess(path, q, warnings, cacheMetaBypass())
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&fromAddress, "from-address", "", "Sender address (defaults to the local wallet)")
	return cmd
}

func (s *runtimeState) newSwapExecuteCommand() *cobra.Command {
	var flags swapRouteFlags
	var watch bool

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a swap: approval if needed, then the route transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			w, err := s.runner.loadWallet()
			if err != nil {
				return err
			}

			client := quote.NewClient(s.http, s.settings.QuoteBaseURL)
			q, err := client.Quote(cmd.Context(), flags.request(w.Address().Hex(), s.settings.DefaultSlippageBps))
			if err != nil {
				return err
			}
			if q.Transaction == nil {
				return apperr.New(apperr.CodeUnavailable, "route has no executable transaction payload")
			}

			rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, flags.fromChain)
			if err != nil {
				return apperr.Wrap(apperr.CodeUsage, "resolve rpc url", err)
			}
			backend, err := ethclient.DialContext(cmd.Context(), rpcURL)
			if err != nil {
				return apperr.Wrap(apperr.CodeUnavailable, "connect source chain rpc", err)
			}
			defer backend.Close()

			executor := swap.NewExecutor(backend, w, swap.DefaultOptions(), s.log)
			handle, err := executor.Execute(cmd.Context(), q)
			if err != nil {
				return err
			}

			if !handle.CrossChain {
				return s.emitSuccess(path, handle, nil, cacheMetaBypass())
			}
			req := status.TrackRequest{
				TxHash:      handle.TxHash,
				Bridge:      handle.Bridge,
				FromChainID: handle.FromChainID,
				ToChainID:   handle.ToChainID,
			}
			if !watch {
				return s.emitSuccess(path, handle, []string{
					"cross-chain transfer pending; poll with: agentpay swap status --tx " + handle.TxHash,
				}, cacheMetaBypass())
			}
			final, err := s.watchTransfer(cmd.Context(), req)
			if err != nil {
				return err
			}
			return s.emitSuccess(path, map[string]any{"handle": handle, "status": final}, nil, cacheMetaBypass())
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&watch, "watch", false, "Poll the cross-chain transfer until settlement")
	return cmd
}

func (s *runtimeState) newSwapStatusCommand() *cobra.Command {
	var txHash string
	var bridge string
	var fromChain int64
	var toChain int64
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check a cross-chain transfer's settlement status",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			req := status.TrackRequest{
				TxHash:      txHash,
				Bridge:      bridge,
				FromChainID: fromChain,
				ToChainID:   toChain,
			}
			if watch {
				final, err := s.watchTransfer(cmd.Context(), req)
				if err != nil {
					return err
				}
				return s.emitSuccess(path, final, nil, cacheMetaBypass())
			}

			poller := status.NewPoller(s.http, s.settings.StatusBaseURL, s.settings.PollInterval, s.settings.PollAttempts, s.log)
			st, err := poller.Status(cmd.Context(), req)
			if err != nil {
				return err
			}
			return s.emitSuccess(path, st, nil, cacheMetaBypass())
		},
	}

	cmd.Flags().StringVar(&txHash, "tx", "", "Source chain transaction hash")
	cmd.Flags().StringVar(&bridge, "bridge", "", "Bridge tool key from the quote")
	cmd.Flags().Int64Var(&fromChain, "from-chain", 0, "Source chain id")
	cmd.Flags().Int64Var(&toChain, "to-chain", 0, "Destination chain id")
	cmd.Flags().BoolVar(&watch, "watch", false, "Poll until the transfer settles")
	_ = cmd.MarkFlagRequired("tx")
	return cmd
}

// watchTransfer polls to completion, driving the spinner display in plain
// mode. Returns the final observation.
func (s *runtimeState) watchTransfer(ctx context.Context, req status.TrackRequest) (model.TransferStatus, error) {
	poller := status.NewPoller(s.http, s.settings.StatusBaseURL, s.settings.PollInterval, s.settings.PollAttempts, s.log)

	var watcher *out.Watcher
	if s.settings.OutputMode == "plain" {
		watcher = out.NewWatcher(s.runner.stderr)
		watcher.Start(req.TxHash)
	}

	var final model.TransferStatus
	for st := range poller.Track(ctx, req) {
		final = st
		if watcher != nil {
			watcher.Observe(st)
		}
	}
	if watcher != nil {
		watcher.Finish(final)
	}
	if ctx.Err() != nil {
		return final, apperr.Wrap(apperr.CodeInternal, "status watch cancelled", ctx.Err())
	}
	return final, nil
}
