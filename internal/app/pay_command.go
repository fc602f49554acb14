package app

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/settle"
)

func (s *runtimeState) newPayCommand() *cobra.Command {
	var taskDesc string
	var amountArg string

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Settle a task outcome directly",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			description := strings.TrimSpace(taskDesc)
			if description == "" {
				return apperr.New(apperr.CodeUsage, "--task is required")
			}
			amount, err := decimal.NewFromString(strings.TrimSpace(amountArg))
			if err != nil {
				return apperr.Wrap(apperr.CodeUsage, "parse --amount", err)
			}
			if !amount.IsPositive() {
				return apperr.New(apperr.CodeUsage, "--amount must be positive")
			}

			trigger, w, cleanup, err := s.newTrigger(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			outcome := settle.Outcome{Description: description, AmountDecimal: amount.String()}
			hash, err := trigger.Observe(cmd.Context(), outcome, true)
			if err != nil {
				return err
			}

			result := map[string]any{
				"task":             description,
				"amount":           amount.String(),
				"payer":            w.Address().Hex(),
				"settlement_state": string(trigger.State()),
			}
			if hash != "" {
				result["settlement_hash"] = hash
			}
			return s.emitSuccess(path, result, nil, cacheMetaBypass())
		},
	}

	cmd.Flags().StringVar(&taskDesc, "task", "", "Task description the payment settles")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Payment amount in USD")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
