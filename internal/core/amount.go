package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseAmount coerces the amount form field to a number.
//
// Both dot and comma decimal separators are accepted. Input that does not
// coerce to a finite number is rejected with ErrInvalidAmount instead of
// being forwarded as NaN, which the JSON wire format cannot carry.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v, nil
}

// ParsePct coerces the pct form field to an integer, truncating any
// fractional part. Empty or non-numeric input yields DefaultPct.
func ParsePct(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPct
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultPct
	}
	return int(f)
}
