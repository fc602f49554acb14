package explorer

import (
	"sort"
	"strings"

	"github.com/codecollab/agentpay/internal/model"
	"github.com/codecollab/agentpay/internal/registry"
)

// Categorizer sorts transactions into the closed category set against the
// deployment's well-known addresses. Pure and case-insensitive on addresses;
// the same record always lands in the same category.
type Categorizer struct {
	platform string
	router   string
	symbol   string
}

// NewCategorizer builds a categorizer for the configured platform settlement
// and swap-router addresses. Empty values fall back to the registry defaults.
func NewCategorizer(platform, router string) Categorizer {
	if strings.TrimSpace(platform) == "" {
		platform = registry.PlatformSettlementAddress
	}
	if strings.TrimSpace(router) == "" {
		router = registry.SwapRouterAddress
	}
	return Categorizer{
		platform: strings.ToLower(strings.TrimSpace(platform)),
		router:   strings.ToLower(strings.TrimSpace(router)),
		symbol:   registry.SettlementTokenSymbol,
	}
}

func (c Categorizer) Categorize(tx model.TransactionRecord) model.Category {
	to := strings.ToLower(strings.TrimSpace(tx.To))

	if to == c.platform && strings.EqualFold(tx.TokenSymbol, c.symbol) {
		return model.CategoryAgentPayment
	}
	if to == c.router {
		return model.CategoryDexSwap
	}
	if tx.TokenSymbol != "" || nonZero(tx.Value) {
		return model.CategoryTransfer
	}
	return model.CategoryOther
}

// Merge combines transaction lists from overlapping queries: dedup by hash,
// newest first. Token rows win over native rows for the same hash since they
// carry the transfer detail.
func Merge(lists ...[]model.TransactionRecord) []model.TransactionRecord {
	byHash := map[string]model.TransactionRecord{}
	for _, list := range lists {
		for _, tx := range list {
			key := strings.ToLower(tx.Hash)
			existing, ok := byHash[key]
			if !ok || (existing.TokenSymbol == "" && tx.TokenSymbol != "") {
				byHash[key] = tx
			}
		}
	}
	out := make([]model.TransactionRecord, 0, len(byHash))
	for _, tx := range byHash {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

func nonZero(value string) bool {
	for _, r := range strings.TrimSpace(value) {
		if r >= '1' && r <= '9' {
			return true
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return false
}
