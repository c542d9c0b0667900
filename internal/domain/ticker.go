package domain

import (
	"regexp"
	"strings"
)

// MaxTickerLength bounds ticker symbols
const MaxTickerLength = 15

// Letters and digits, optionally led by ^ (indices), with . - = inside (share classes, FX, futures)
var tickerPattern = regexp.MustCompile(`^\^?[A-Z0-9][A-Z0-9.=\-]*$`)

// NormalizeTicker trims and upper-cases a ticker symbol
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// ValidTicker reports whether a normalized ticker is well formed
func ValidTicker(ticker string) bool {
	return len(ticker) > 0 && len(ticker) <= MaxTickerLength && tickerPattern.MatchString(ticker)
}
