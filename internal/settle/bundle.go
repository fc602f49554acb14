// Package settle submits gasless settlement bundles: an EIP-2612 permit and
// the matching transferFrom, relayed as one atomic user operation.
package settle

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/permit"
	"github.com/codecollab/agentpay/internal/registry"
)

// Call is one contract call inside a bundle.
type Call struct {
	Target common.Address `json:"to"`
	Data   []byte         `json:"data"`
	Value  *big.Int       `json:"value"`
}

// Bundle is the ordered pair permit -> transferFrom. The relay executes both
// in a single user operation; either both take effect or neither does.
type Bundle struct {
	ChainID int64
	Calls   [2]Call
}

var settleABI = mustABI(registry.ERC20PermitABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// BuildBundle packs permit(owner, spender, value, deadline, v, r, s) and
// transferFrom(owner, recipient, value) against the settlement token.
func BuildBundle(token, owner, spender, recipient common.Address, value *big.Int, sig permit.Signature, chainID int64) (Bundle, error) {
	if recipient == (common.Address{}) {
		return Bundle{}, apperr.New(apperr.CodeUsage, "settlement recipient is not configured")
	}
	if value == nil || value.Sign() <= 0 {
		return Bundle{}, apperr.New(apperr.CodeUsage, "settlement value must be positive")
	}

	permitData, err := settleABI.Pack("permit", owner, spender, value, big.NewInt(sig.Deadline), sig.V, sig.R, sig.S)
	if err != nil {
		return Bundle{}, apperr.Wrap(apperr.CodeInternal, "pack permit calldata", err)
	}
	transferData, err := settleABI.Pack("transferFrom", owner, recipient, value)
	if err != nil {
		return Bundle{}, apperr.Wrap(apperr.CodeInternal, "pack transferFrom calldata", err)
	}

	return Bundle{
		ChainID: chainID,
		Calls: [2]Call{
			{Target: token, Data: permitData, Value: big.NewInt(0)},
			{Target: token, Data: transferData, Value: big.NewInt(0)},
		},
	}, nil
}

func (b Bundle) String() string {
	return fmt.Sprintf("settlement bundle on chain %d (%d calls to %s)", b.ChainID, len(b.Calls), b.Calls[0].Target.Hex())
}
