package app

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/explorer"
)

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	var refresh bool
	var stats bool
	var watch bool

	cmd := &cobra.Command{
		Use:   "history <address>",
		Short: "List and categorize an address's on-chain activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			address := strings.TrimSpace(args[0])
			if !common.IsHexAddress(address) {
				return apperr.New(apperr.CodeUsage, "invalid address: "+address)
			}
			address = common.HexToAddress(address).Hex()

			cat := explorer.NewCategorizer(s.settings.PlatformAddress, s.settings.RouterAddress)
			client := explorer.NewClient(s.http, s.settings.IndexerBaseURL, s.settings.IndexerAPIKey, cat)
			service := explorer.NewService(client, s.cache, s.settings.CacheFreshness, s.log)

			emit := func(force bool) error {
				page, err := service.Transactions(cmd.Context(), address, historyCacheKey(address), force)
				if err != nil {
					return err
				}
				if stats {
					return s.emitSuccess(path, explorer.Summarize(page.Transactions), nil, page.Cache)
				}
				return s.emitSuccess(path, page.Transactions, nil, page.Cache)
			}

			force := refresh || s.flags.NoCache
			if err := emit(force); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			// Refresh on a fixed cadence; the cache freshness window decides
			// whether a cycle actually hits the indexer.
			ticker := time.NewTicker(s.settings.AutoRefresh)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
					if err := emit(force); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the cache and refetch from the indexer")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print category totals instead of the transaction list")
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-render on the auto-refresh interval until interrupted")
	return cmd
}

func historyCacheKey(address string) string {
	return "history:" + strings.ToLower(address)
}
