package protocol

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

var (
	decimalPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)
	digitsPattern  = regexp.MustCompile(`^\d+$`)
)

// ParseUnits converts a human decimal amount into fixed-point units with the
// given number of decimals. Negative values, exponents and more fractional
// digits than decimals are rejected.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if !decimalPattern.MatchString(s) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, amount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidAmount, amount, err)
	}
	if frac := strings.IndexByte(s, '.'); frac >= 0 && int32(len(s)-frac-1) > decimals {
		return nil, fmt.Errorf("%w: %q has more than %d decimal places", domain.ErrInvalidAmount, amount, decimals)
	}
	return d.Shift(decimals).BigInt(), nil
}

// ParsePositiveUnits is ParseUnits that also rejects zero.
func ParsePositiveUnits(amount string, decimals int32) (*big.Int, error) {
	v, err := ParseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q must be positive", domain.ErrInvalidAmount, amount)
	}
	return v, nil
}

// FormatUnits renders fixed-point v as a human decimal string.
func FormatUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// ParsePositiveInt parses a base-10 integer greater than zero.
func ParsePositiveInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if !digitsPattern.MatchString(s) {
		return nil, fmt.Errorf("%w: %q is not a positive integer", domain.ErrInvalidAmount, s)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q is not a positive integer", domain.ErrInvalidAmount, s)
	}
	return n, nil
}

// ParseNonNegativeInt parses a base-10 integer greater than or equal to zero.
func ParseNonNegativeInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if !digitsPattern.MatchString(s) {
		return nil, fmt.Errorf("%w: %q is not a non-negative integer", domain.ErrInvalidAmount, s)
	}
	n, _ := new(big.Int).SetString(s, 10)
	return n, nil
}
