// Package app wires the CLI: command surface, configuration, output
// envelopes, and exit codes.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codecollab/agentpay/internal/cache"
	"github.com/codecollab/agentpay/internal/config"
	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/httpx"
	"github.com/codecollab/agentpay/internal/logx"
	"github.com/codecollab/agentpay/internal/model"
	"github.com/codecollab/agentpay/internal/out"
	"github.com/codecollab/agentpay/internal/version"
	"github.com/codecollab/agentpay/internal/wallet"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	// loadWallet is swapped in runner tests to avoid touching real keys.
	loadWallet func() (wallet.Wallet, error)
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
		loadWallet: func() (wallet.Wallet, error) {
			return wallet.NewLocalWalletFromEnv()
		},
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	http        *httpx.Client
	cache       *cache.Store
	log         *slog.Logger
	lastCommand string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	err = normalizeRunError(err)
	if state.cache != nil {
		_ = state.cache.Close()
	}
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return apperr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Gasless agent payments and cross-chain swaps",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return apperr.Wrap(apperr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())

			level := slog.LevelWarn
			if settings.Verbose {
				level = slog.LevelDebug
			}
			logx.Init(&logx.Options{Level: level, Writer: s.runner.stderr})
			s.log = logx.L()

			s.http = httpx.New(settings.Timeout, settings.Retries)

			if settings.CacheEnabled && s.cache == nil && commandUsesCache(s.lastCommand) {
				store, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return apperr.Wrap(apperr.CodeInternal, "open cache", err)
				}
				s.cache = store
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return apperr.Wrap(apperr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().BoolVarP(&s.flags.Verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Provider request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per idempotent provider request")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "EVM RPC endpoint override")
	cmd.PersistentFlags().StringVar(&s.flags.Recipient, "recipient", "", "Settlement recipient address override")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newTaskCommand())
	cmd.AddCommand(s.newPayCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newHistoryCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Cache:     cacheStatus,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings.OutputMode)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := apperr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := apperr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = errorType(cErr.Code)
	}

	mode := s.settings.OutputMode
	if mode == "" {
		mode = "json"
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Cache:     cacheMetaBypass(),
		},
	}
	_ = out.Render(s.runner.stderr, env, mode)
}

func errorType(code apperr.Code) string {
	switch code {
	case apperr.CodeUsage:
		return "usage_error"
	case apperr.CodeAuth:
		return "auth_error"
	case apperr.CodeRateLimited:
		return "rate_limited"
	case apperr.CodeUnavailable:
		return "provider_unavailable"
	case apperr.CodeUnsupported:
		return "unsupported"
	case apperr.CodeWalletRejected:
		return "wallet_rejected"
	case apperr.CodeInsufficientFunds:
		return "insufficient_funds"
	case apperr.CodeProtocol:
		return "protocol_error"
	case apperr.CodePollTimeout:
		return "poll_timeout"
	default:
		return "internal_error"
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func commandUsesCache(commandPath string) bool {
	return strings.HasPrefix(commandPath, "history")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return apperr.Wrap(apperr.CodeUsage, "invalid command input", err)
	}
	return apperr.Wrap(apperr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"invalid argument",
		"requires at least",
		"accepts at most",
		"required flag",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
