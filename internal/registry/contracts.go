package registry

import (
	"fmt"
	"strings"
)

const (
	// Platform settlement token (SBC) on Base; 6 decimals, EIP-2612.
	SettlementTokenAddress  = "0xfdcC3dd6671eaB0709A4C0f3F53De9a333d80798"
	SettlementTokenSymbol   = "SBC"
	SettlementTokenDecimals = 6
	BaseChainID             = 8453
	SettlementChainID       = BaseChainID

	// Platform address that receives agent payments.
	PlatformSettlementAddress = "0x7Cf4be31f546c04787886358b9486ca3d62B9acf"

	// Known DEX router used for swap categorization.
	SwapRouterAddress = "0x6ff5693b99212da76ad316178a184ab56d299b43"

	ZeroAddress = "0x0000000000000000000000000000000000000000"

	// Conventional aggregator sentinel for native gas assets.
	NativeAssetSentinel = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"
)

// IsNativeAsset reports whether a token address denotes the chain's gas
// asset. Native assets never require a spending approval.
func IsNativeAsset(addr string) bool {
	clean := strings.TrimSpace(addr)
	if clean == "" {
		return true
	}
	return strings.EqualFold(clean, ZeroAddress) ||
		strings.EqualFold(clean, NativeAssetSentinel) ||
		strings.EqualFold(clean, "native")
}

// Canonical default EVM RPC endpoints by chain ID, used whenever no
// --rpc-url override is given.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	10:    "https://mainnet.optimism.io",
	56:    "https://bsc-dataseed.binance.org",
	137:   "https://polygon-rpc.com",
	8453:  "https://mainnet.base.org",
	42161: "https://arb1.arbitrum.io/rpc",
	43114: "https://api.avax.network/ext/bc/C/rpc",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; provide --rpc-url", chainID)
}
