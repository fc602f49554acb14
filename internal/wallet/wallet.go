// Package wallet abstracts the connected signing wallet. The CLI binds a
// local key; tests bind throwaway keys.
package wallet

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Wallet signs on behalf of the connected account. SignTypedData suspends on
// human approval for interactive wallets; implementations return a
// wallet-rejected error when the user declines.
type Wallet interface {
	Address() common.Address
	SignTypedData(typed apitypes.TypedData) ([]byte, error)
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}
