package app

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	apperr "github.com/codecollab/agentpay/internal/errors"
	"github.com/codecollab/agentpay/internal/version"
)

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("agentpay swap quote"); got != "swap quote" {
		t.Fatalf("unexpected trim result: %s", got)
	}
	if got := trimRootPath("agentpay"); got != "agentpay" {
		t.Fatalf("root path should pass through, got %s", got)
	}
}

func TestRunnerVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"version"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), version.CLIVersion) {
		t.Fatalf("expected version output, got %s", stdout.String())
	}
}

func TestRunnerUnknownCommandIsUsageError(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"stake", "everything"})
	if code != int(apperr.CodeUsage) {
		t.Fatalf("expected exit %d, got %d", apperr.CodeUsage, code)
	}
	var env map[string]any
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, stderr.String())
	}
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
	body := env["error"].(map[string]any)
	if body["type"] != "usage_error" {
		t.Fatalf("expected usage_error, got %v", body["type"])
	}
}

func TestRunnerPayRequiresFlags(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"pay"})
	if code != int(apperr.CodeUsage) {
		t.Fatalf("expected exit %d, got %d stderr=%s", apperr.CodeUsage, code, stderr.String())
	}
}

func TestErrorTypeMapping(t *testing.T) {
	cases := map[apperr.Code]string{
		apperr.CodeUsage:             "usage_error",
		apperr.CodeAuth:              "auth_error",
		apperr.CodeRateLimited:       "rate_limited",
		apperr.CodeUnavailable:       "provider_unavailable",
		apperr.CodeWalletRejected:    "wallet_rejected",
		apperr.CodeInsufficientFunds: "insufficient_funds",
		apperr.CodeProtocol:          "protocol_error",
		apperr.CodePollTimeout:       "poll_timeout",
		apperr.CodeInternal:          "internal_error",
	}
	for code, want := range cases {
		if got := errorType(code); got != want {
			t.Fatalf("errorType(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestIsLikelyUsageError(t *testing.T) {
	if !isLikelyUsageError(errString(`unknown flag: --frobnicate`)) {
		t.Fatal("unknown flag should read as usage error")
	}
	if isLikelyUsageError(errString("connection refused")) {
		t.Fatal("transport error is not a usage error")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
