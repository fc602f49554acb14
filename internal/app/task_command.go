package app

import (
	"strings"

	"github.com/spf13/cobra"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/settle"
	"github.com/codecollab/agentpay/internal/task"
)

func (s *runtimeState) newTaskCommand() *cobra.Command {
	var githubURL string
	var requirements string
	var noPay bool
	var history bool

	cmd := &cobra.Command{
		Use:   "task [description]",
		Short: "Submit a task to the swarm and settle the payment",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			client := task.NewClient(s.http, s.settings.TaskBaseURL)

			if history {
				entries, err := client.History(cmd.Context())
				if err != nil {
					return err
				}
				return s.emitSuccess(path, entries, nil, cacheMetaBypass())
			}

			description := strings.TrimSpace(strings.Join(args, " "))
			if description == "" {
				return apperr.New(apperr.CodeUsage, "task description is required")
			}

			if err := client.Healthy(cmd.Context()); err != nil {
				return err
			}
			outcome, err := client.Process(cmd.Context(), task.Request{
				Task:         description,
				GithubURL:    githubURL,
				Requirements: requirements,
			})
			if err != nil {
				return err
			}

			result := map[string]any{
				"task":              description,
				"success":           outcome.Success,
				"decision":          outcome.Decision,
				"payment_amount":    outcome.Payment.Amount,
				"payment_currency":  outcome.Payment.Currency,
				"execution_time_ms": outcome.ExecutionTimeMs,
				"tokens_used":       outcome.TokensUsed,
			}

			var warnings []string
			if noPay || !outcome.Success {
				return s.emitSuccess(path, result, warnings, cacheMetaBypass())
			}

			amountDecimal, err := outcome.Payment.AmountDecimal()
			if err != nil {
				return err
			}
			trigger, _, cleanup, err := s.newTrigger(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			hash, err := trigger.Observe(cmd.Context(), settle.Outcome{
				Description:   description,
				AmountDecimal: amountDecimal,
			}, true)
			if err != nil {
				return err
			}
			if hash == "" {
				warnings = append(warnings, "payment skipped: outcome already settled or amount not positive")
			} else {
				result["settlement_hash"] = hash
			}
			result["settlement_state"] = string(trigger.State())
			return s.emitSuccess(path, result, warnings, cacheMetaBypass())
		},
	}

	cmd.Flags().StringVar(&githubURL, "github-url", "", "Repository the task applies to")
	cmd.Flags().StringVar(&requirements, "requirements", "", "Extra task requirements")
	cmd.Flags().BoolVar(&noPay, "no-pay", false, "Skip settlement after the task completes")
	cmd.Flags().BoolVar(&history, "history", false, "List past tasks instead of submitting")
	return cmd
}
