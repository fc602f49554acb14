package explorer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/codecollab/agentpay/internal/cache"
	"github.com/codecollab/agentpay/internal/model"
)

// Service serves categorized transaction history through the cache. Fresh
// hits skip the indexer entirely; force bypasses the cache for the read but
// still refreshes it.
type Service struct {
	client    *Client
	store     *cache.Store
	freshness time.Duration
	log       *slog.Logger
}

// Page is one history response plus its cache provenance.
type Page struct {
	Transactions []model.TransactionRecord `json:"transactions"`
	Cache        model.CacheStatus         `json:"cache"`
}

func NewService(client *Client, store *cache.Store, freshness time.Duration, log *slog.Logger) *Service {
	if freshness <= 0 {
		freshness = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{client: client, store: store, freshness: freshness, log: log}
}

// Transactions returns the history for address. key scopes the cache row so
// different views of the same address do not collide.
func (s *Service) Transactions(ctx context.Context, address, key string, force bool) (Page, error) {
	if !force && s.store != nil {
		res, err := s.store.Get(key, s.freshness)
		if err != nil {
			// A broken cache never blocks the fetch path.
			s.log.Warn("cache read failed", "key", key, "err", err)
		} else if res.Hit && !res.Stale {
			var txs []model.TransactionRecord
			if jsonErr := json.Unmarshal(res.Value, &txs); jsonErr == nil {
				return Page{
					Transactions: txs,
					Cache: model.CacheStatus{
						Status: "hit",
						AgeMS:  res.Age.Milliseconds(),
					},
				}, nil
			}
			// Corrupt rows read as misses.
			s.log.Warn("cache entry corrupt, refetching", "key", key)
		}
	}

	txs, err := s.client.Fetch(ctx, address)
	if err != nil {
		return Page{}, err
	}
	if s.store != nil {
		if buf, jsonErr := json.Marshal(txs); jsonErr == nil {
			if setErr := s.store.Set(key, buf); setErr != nil {
				s.log.Warn("cache write failed", "key", key, "err", setErr)
			}
		}
	}
	status := "miss"
	if force {
		status = "bypass"
	}
	return Page{Transactions: txs, Cache: model.CacheStatus{Status: status}}, nil
}

// Stats are display totals over a set of transactions.
type Stats struct {
	Total         int    `json:"total"`
	AgentPayments int    `json:"agent_payments"`
	DexSwaps      int    `json:"dex_swaps"`
	Transfers     int    `json:"transfers"`
	Other         int    `json:"other"`
	Failed        int    `json:"failed"`
	PaymentVolume string `json:"payment_volume"`
}

// Summarize computes category counts and the settlement-token payment
// volume. Callers pass deduplicated records; overlapping address views must
// Merge first.
func Summarize(txs []model.TransactionRecord) Stats {
	stats := Stats{Total: len(txs)}
	volume := decimal.Zero
	for _, tx := range txs {
		switch tx.Category {
		case model.CategoryAgentPayment:
			stats.AgentPayments++
			if amt, err := paymentAmount(tx); err == nil {
				volume = volume.Add(amt)
			}
		case model.CategoryDexSwap:
			stats.DexSwaps++
		case model.CategoryTransfer:
			stats.Transfers++
		default:
			stats.Other++
		}
		if tx.Status == model.TxStatusFailed {
			stats.Failed++
		}
	}
	stats.PaymentVolume = volume.String()
	return stats
}

func paymentAmount(tx model.TransactionRecord) (decimal.Decimal, error) {
	raw, err := decimal.NewFromString(tx.Value)
	if err != nil {
		return decimal.Zero, err
	}
	decimals := tx.TokenDecimals
	if decimals <= 0 {
		decimals = 18
	}
	return raw.Shift(int32(-decimals)), nil
}
