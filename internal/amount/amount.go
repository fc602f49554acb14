// Package amount converts between human decimal amounts and fixed-point
// integer token units at a token's declared precision.
package amount

import (
	"math/big"
	"regexp"
	"strings"

	apperr "github.com/codecollab/agentpay/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ToFixedPoint converts a decimal string like "100.5" into an integer
// base-unit string at the given precision. The fractional part is padded
// with zeros or truncated to exactly precision digits.
func ToFixedPoint(decimal string, precision int) (string, error) {
	clean := strings.TrimSpace(decimal)
	if precision < 0 {
		return "", apperr.New(apperr.CodeUsage, "precision must be >= 0")
	}
	if !decimalPattern.MatchString(clean) {
		return "", apperr.New(apperr.CodeUsage, "malformed amount: expected decimal form like 1.23")
	}

	parts := strings.SplitN(clean, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if len(fracPart) > precision {
		fracPart = fracPart[:precision]
	} else {
		fracPart = fracPart + strings.Repeat("0", precision-len(fracPart))
	}

	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return "0", nil
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", apperr.New(apperr.CodeUsage, "malformed amount")
	}
	return combined, nil
}

// FromFixedPoint renders an integer base-unit string as a decimal string,
// trimming trailing fractional zeros. The inverse of ToFixedPoint for all
// non-negative inputs.
func FromFixedPoint(baseUnits string, precision int) (string, error) {
	clean := strings.TrimSpace(baseUnits)
	if precision < 0 {
		return "", apperr.New(apperr.CodeUsage, "precision must be >= 0")
	}
	n, ok := new(big.Int).SetString(clean, 10)
	if !ok || n.Sign() < 0 {
		return "", apperr.New(apperr.CodeUsage, "base units must be a non-negative integer string")
	}
	return format(n, precision), nil
}

func format(n *big.Int, precision int) string {
	s := n.String()
	if precision == 0 {
		return s
	}
	if len(s) <= precision {
		s = strings.Repeat("0", precision-len(s)+1) + s
	}
	intPart := s[:len(s)-precision]
	fracPart := strings.TrimRight(s[len(s)-precision:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// MustFromFixedPoint is FromFixedPoint for inputs already validated as
// base-unit integers (e.g. provider responses); malformed input renders "0".
func MustFromFixedPoint(baseUnits string, precision int) string {
	out, err := FromFixedPoint(baseUnits, precision)
	if err != nil {
		return "0"
	}
	return out
}
