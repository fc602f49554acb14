// Package swap executes aggregator quotes: ERC20 approval when needed, then
// the quote's embedded transaction, submitted unmodified.
package swap

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/model"
	"github.com/codecollab/agentpay/internal/quote"
	"github.com/codecollab/agentpay/internal/registry"
	"github.com/codecollab/agentpay/internal/wallet"
)

// Backend is the slice of the RPC client the executor needs. Satisfied by
// *ethclient.Client.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Handle tracks a submitted swap. Cross-chain swaps hand it to the status
// poller; same-chain swaps are final once the receipt lands.
type Handle struct {
	TxHash      string `json:"tx_hash"`
	Bridge      string `json:"bridge,omitempty"`
	FromChainID int64  `json:"from_chain_id"`
	ToChainID   int64  `json:"to_chain_id"`
	CrossChain  bool   `json:"cross_chain"`
}

type Options struct {
	PollInterval  time.Duration
	ReceiptWait   time.Duration
	SettlingDelay time.Duration
	GasMultiplier float64
}

func DefaultOptions() Options {
	return Options{
		PollInterval:  2 * time.Second,
		ReceiptWait:   2 * time.Minute,
		SettlingDelay: 30 * time.Second,
		GasMultiplier: 1.2,
	}
}

type Executor struct {
	backend Backend
	wallet  wallet.Wallet
	opts    Options
	log     *slog.Logger
}

func NewExecutor(backend Backend, w wallet.Wallet, opts Options, log *slog.Logger) *Executor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ReceiptWait <= 0 {
		opts.ReceiptWait = 2 * time.Minute
	}
	if opts.SettlingDelay <= 0 {
		opts.SettlingDelay = 30 * time.Second
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{backend: backend, wallet: w, opts: opts, log: log}
}

var erc20ABI = mustABI(registry.ERC20MinimalABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Execute runs the full flow for one quote: allowance check, approval if
// short, then the swap transaction itself.
func (e *Executor) Execute(ctx context.Context, q *model.Quote) (Handle, error) {
	if q == nil || q.Transaction == nil {
		return Handle{}, apperr.New(apperr.CodeUsage, "quote has no executable transaction")
	}
	chainID, err := e.backend.ChainID(ctx)
	if err != nil {
		return Handle{}, apperr.Wrap(apperr.CodeUnavailable, "read chain id", err)
	}
	if chainID.Int64() != q.FromToken.ChainID {
		return Handle{}, apperr.New(apperr.CodeUsage,
			fmt.Sprintf("rpc chain %d does not match quote source chain %d", chainID.Int64(), q.FromToken.ChainID))
	}

	if quote.NeedsApproval(q) {
		required, ok := new(big.Int).SetString(q.FromAmount.AmountBaseUnits, 10)
		if !ok {
			return Handle{}, apperr.New(apperr.CodeUsage, "invalid quote input amount")
		}
		token := common.HexToAddress(q.FromToken.Address)
		spender := common.HexToAddress(q.ApprovalAddress)
		if err := e.ensureAllowance(ctx, chainID, token, spender, required); err != nil {
			return Handle{}, err
		}
	}

	hash, err := e.submit(ctx, chainID, q.Transaction)
	if err != nil {
		return Handle{}, err
	}

	handle := Handle{
		TxHash:      hash.Hex(),
		Bridge:      q.Tool,
		FromChainID: q.FromToken.ChainID,
		ToChainID:   q.ToToken.ChainID,
		CrossChain:  q.CrossChain(),
	}
	if handle.CrossChain {
		// The source receipt only proves departure. Settlement on the
		// destination chain is the status poller's job.
		e.log.Info("cross-chain swap submitted", "tx", handle.TxHash, "bridge", handle.Bridge)
		return handle, nil
	}

	if err := e.awaitReceipt(ctx, hash); err != nil {
		return handle, err
	}
	return handle, nil
}

// ensureAllowance reads the current allowance and, when it falls short,
// approves the unlimited amount and waits for the RPC node to observe it.
func (e *Executor) ensureAllowance(ctx context.Context, chainID *big.Int, token, spender common.Address, required *big.Int) error {
	owner := e.wallet.Address()
	current, err := e.readAllowance(ctx, token, owner, spender)
	if err != nil {
		return err
	}
	if current.Cmp(required) >= 0 {
		return nil
	}

	e.log.Debug("allowance short, approving", "token", token.Hex(), "spender", spender.Hex())
	approveData, err := erc20ABI.Pack("approve", spender, ethmath.MaxBig256)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "pack approve calldata", err)
	}
	hash, err := e.submit(ctx, chainID, &model.TransactionPayload{
		To:    token.Hex(),
		Data:  "0x" + common.Bytes2Hex(approveData),
		Value: "0",
	})
	if err != nil {
		return err
	}
	if err := e.awaitReceipt(ctx, hash); err != nil {
		return err
	}

	// Some RPC nodes lag the state read behind the receipt. Poll until the
	// new allowance is visible or the settling delay runs out, then
	// proceed regardless.
	deadline := time.Now().Add(e.opts.SettlingDelay)
	for time.Now().Before(deadline) {
		observed, err := e.readAllowance(ctx, token, owner, spender)
		if err == nil && observed.Cmp(required) >= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.CodeInternal, "approval wait cancelled", ctx.Err())
		case <-time.After(e.opts.PollInterval):
		}
	}
	return nil
}

func (e *Executor) readAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "pack allowance call", err)
	}
	raw, err := e.backend.CallContract(ctx, ethereum.CallMsg{From: owner, To: &token, Data: data}, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "read allowance", err)
	}
	out, err := erc20ABI.Unpack("allowance", raw)
	if err != nil || len(out) == 0 {
		return nil, apperr.Wrap(apperr.CodeUnavailable, "decode allowance", err)
	}
	current, ok := out[0].(*big.Int)
	if !ok {
		return nil, apperr.New(apperr.CodeUnavailable, "invalid allowance response type")
	}
	return current, nil
}

// submit signs and broadcasts one payload with EIP-1559 fees. The payload's
// to/data/value pass through untouched.
func (e *Executor) submit(ctx context.Context, chainID *big.Int, payload *model.TransactionPayload) (common.Hash, error) {
	target := common.HexToAddress(payload.To)
	data, err := decodeHex(payload.Data)
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.CodeUsage, "decode transaction calldata", err)
	}
	value, err := parseValue(payload.Value)
	if err != nil {
		return common.Hash{}, err
	}
	from := e.wallet.Address()
	msg := ethereum.CallMsg{From: from, To: &target, Value: value, Data: data}

	gasLimit, err := resolveGasLimit(ctx, e.backend, msg, payload.GasLimit, e.opts.GasMultiplier)
	if err != nil {
		return common.Hash{}, err
	}
	tipCap, feeCap, err := resolveFees(ctx, e.backend)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := e.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := e.wallet.SignTx(chainID, tx)
	if err != nil {
		if typedErr, ok := apperr.As(err); ok {
			return common.Hash{}, typedErr
		}
		return common.Hash{}, apperr.Wrap(apperr.CodeWalletRejected, "wallet declined transaction", err)
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, classifySendError(err)
	}
	return signed.Hash(), nil
}

func (e *Executor) awaitReceipt(ctx context.Context, hash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.ReceiptWait)
	defer cancel()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := e.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return apperr.New(apperr.CodeProtocol, "transaction reverted on-chain")
		}
		select {
		case <-waitCtx.Done():
			return apperr.Wrap(apperr.CodePollTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// classifySendError sorts a broadcast failure into the terminal error
// taxonomy: user rejection, insufficient funds, or provider trouble.
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient balance"):
		return apperr.Wrap(apperr.CodeInsufficientFunds, "account cannot cover value plus gas", err)
	case strings.Contains(msg, "user denied"), strings.Contains(msg, "rejected"):
		return apperr.Wrap(apperr.CodeWalletRejected, "transaction rejected", err)
	case strings.Contains(msg, "execution reverted"):
		return apperr.Wrap(apperr.CodeProtocol, "transaction would revert", err)
	default:
		return apperr.Wrap(apperr.CodeUnavailable, "broadcast transaction", err)
	}
}

func resolveGasLimit(ctx context.Context, backend Backend, msg ethereum.CallMsg, quoted string, multiplier float64) (uint64, error) {
	if clean := strings.TrimSpace(quoted); clean != "" {
		limit, err := strconv.ParseUint(strings.TrimPrefix(clean, "0x"), gasLimitBase(clean), 64)
		if err == nil && limit > 0 {
			return limit, nil
		}
	}
	estimated, err := backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeUnavailable, "estimate gas", err)
	}
	return uint64(float64(estimated) * multiplier), nil
}

func gasLimitBase(v string) int {
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		return 16
	}
	return 10
}

func resolveFees(ctx context.Context, backend Backend) (tipCap, feeCap *big.Int, err error) {
	tipCap, err = backend.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap = new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return tipCap, feeCap, nil
}

func parseValue(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(clean, 10)
	if !ok || value.Sign() < 0 {
		return nil, apperr.New(apperr.CodeUsage, "invalid transaction value")
	}
	return value, nil
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(clean, "0x")
	clean = strings.TrimPrefix(clean, "0X")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}
