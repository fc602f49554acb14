// Package permit builds and signs EIP-2612 permit messages for gasless
// settlement. Nonce and token name are always read fresh from chain state: a
// stale nonce invalidates the signature.
package permit

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/registry"
	"github.com/codecollab/agentpay/internal/wallet"
)

// Request describes one permit to sign. Value is a base-unit integer string
// at the token's precision; Deadline is unix seconds and must be strictly in
// the future, at most DeadlineCap from now.
type Request struct {
	Owner    common.Address
	Spender  common.Address
	Token    common.Address
	Value    string
	Deadline int64
	ChainID  int64
}

// Signature is the split permit signature plus its compact hex form.
type Signature struct {
	R        [32]byte
	S        [32]byte
	V        uint8
	Deadline int64
	Nonce    *big.Int
	Compact  string
}

// TokenReader reads the EIP-2612 state needed to build a permit message.
type TokenReader interface {
	PermitNonce(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenName(ctx context.Context, token common.Address) (string, error)
}

type Signer struct {
	reader      TokenReader
	wallet      wallet.Wallet
	deadlineCap time.Duration
	now         func() time.Time
}

func NewSigner(reader TokenReader, w wallet.Wallet, deadlineCap time.Duration) *Signer {
	if deadlineCap <= 0 {
		deadlineCap = 30 * time.Minute
	}
	return &Signer{reader: reader, wallet: w, deadlineCap: deadlineCap, now: time.Now}
}

// SetClock overrides the deadline-policy clock. Test hook.
func (s *Signer) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Signer) Sign(ctx context.Context, req Request) (Signature, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(req.Value), 10)
	if !ok || value.Sign() <= 0 {
		return Signature{}, apperr.New(apperr.CodeUsage, "permit value must be a positive base-unit integer")
	}
	now := s.now().Unix()
	if req.Deadline <= now {
		return Signature{}, apperr.New(apperr.CodeUsage, "permit deadline must be strictly in the future")
	}
	if req.Deadline > now+int64(s.deadlineCap.Seconds()) {
		return Signature{}, apperr.New(apperr.CodeUsage, fmt.Sprintf("permit deadline exceeds %s policy cap", s.deadlineCap))
	}

	nonce, err := s.reader.PermitNonce(ctx, req.Token, req.Owner)
	if err != nil {
		return Signature{}, apperr.Wrap(apperr.CodeUnavailable, "read permit nonce", err)
	}
	name, err := s.reader.TokenName(ctx, req.Token)
	if err != nil {
		return Signature{}, apperr.Wrap(apperr.CodeUnavailable, "read token name", err)
	}

	typed := TypedData(name, req, nonce, value)
	sig, err := s.wallet.SignTypedData(typed)
	if err != nil {
		if typedErr, ok := apperr.As(err); ok {
			return Signature{}, typedErr
		}
		return Signature{}, apperr.Wrap(apperr.CodeWalletRejected, "wallet declined permit signature", err)
	}
	if len(sig) != 65 {
		return Signature{}, apperr.New(apperr.CodeInternal, "unexpected signature length")
	}

	out := Signature{V: sig[64], Deadline: req.Deadline, Nonce: nonce, Compact: "0x" + common.Bytes2Hex(sig)}
	copy(out.R[:], sig[:32])
	copy(out.S[:], sig[32:64])
	if out.V < 27 {
		out.V += 27
	}
	return out, nil
}

// TypedData assembles the EIP-712 payload: domain {name, "1", chainId,
// verifying contract = token}, message {owner, spender, value, nonce,
// deadline}.
func TypedData(tokenName string, req Request, nonce, value *big.Int) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": {
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(req.ChainID),
			VerifyingContract: req.Token.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    req.Owner.Hex(),
			"spender":  req.Spender.Hex(),
			"value":    value,
			"nonce":    nonce,
			"deadline": big.NewInt(req.Deadline),
		},
	}
}

// RPCTokenReader reads permit state over an EVM RPC endpoint.
type RPCTokenReader struct {
	client *ethclient.Client
	abi    abi.ABI
}

func NewRPCTokenReader(client *ethclient.Client) (*RPCTokenReader, error) {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20PermitABI))
	if err != nil {
		return nil, fmt.Errorf("parse permit abi: %w", err)
	}
	return &RPCTokenReader{client: client, abi: parsed}, nil
}

func (r *RPCTokenReader) PermitNonce(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	contract := bind.NewBoundContract(token, r.abi, r.client, r.client, r.client)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "nonces", owner); err != nil {
		return nil, fmt.Errorf("call nonces: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty nonces response")
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("invalid nonces response type")
	}
	return nonce, nil
}

func (r *RPCTokenReader) TokenName(ctx context.Context, token common.Address) (string, error) {
	contract := bind.NewBoundContract(token, r.abi, r.client, r.client, r.client)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "name"); err != nil {
		return "", fmt.Errorf("call name: %w", err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("empty name response")
	}
	name, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("invalid name response type")
	}
	return name, nil
}
