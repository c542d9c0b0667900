// Package analysis generates technical outlook reports from daily price history.
package analysis

import (
	"github.com/aristath/autopublish/pkg/formulas"
)

// MinHistory is the fewest daily closes a report is built from
const MinHistory = 30

// Snapshot is the indicator state of a ticker at its last close.
// Indicators that need more history than available are nil.
type Snapshot struct {
	Bollinger  *formulas.BollingerBands
	SMA20      *float64
	SMA50      *float64
	EMA12      *float64
	EMA26      *float64
	RSI14      *float64
	Change1D   *float64
	Change5D   *float64
	Change20D  *float64
	Ticker     string
	AsOf       string
	LastClose  float64
	Volatility float64
	Bars       int
}

// Analyze computes a snapshot from closes ordered oldest first
func Analyze(ticker, asOf string, closes []float64) Snapshot {
	s := Snapshot{
		Ticker:    ticker,
		AsOf:      asOf,
		Bars:      len(closes),
		SMA20:     formulas.SMA(closes, 20),
		SMA50:     formulas.SMA(closes, 50),
		EMA12:     formulas.EMA(closes, 12),
		EMA26:     formulas.EMA(closes, 26),
		RSI14:     formulas.RSI(closes, 14),
		Bollinger: formulas.Bollinger(closes, 20, 2),
		Change1D:  formulas.PercentChange(closes, 1),
		Change5D:  formulas.PercentChange(closes, 5),
		Change20D: formulas.PercentChange(closes, 20),
	}
	if len(closes) > 0 {
		s.LastClose = closes[len(closes)-1]
	}
	s.Volatility = formulas.AnnualizedVolatility(formulas.LogReturns(closes))
	return s
}

// Trend classifies price against its moving averages
func (s Snapshot) Trend() string {
	if s.SMA20 == nil {
		return "undetermined"
	}
	above20 := s.LastClose > *s.SMA20
	if s.SMA50 == nil {
		if above20 {
			return "short-term uptrend"
		}
		return "short-term downtrend"
	}
	switch {
	case above20 && *s.SMA20 > *s.SMA50:
		return "uptrend"
	case !above20 && *s.SMA20 < *s.SMA50:
		return "downtrend"
	}
	return "sideways"
}

// Momentum classifies RSI(14)
func (s Snapshot) Momentum() string {
	if s.RSI14 == nil {
		return "undetermined"
	}
	switch r := *s.RSI14; {
	case r >= 70:
		return "overbought"
	case r <= 30:
		return "oversold"
	case r >= 55:
		return "positive"
	case r <= 45:
		return "negative"
	}
	return "neutral"
}

// Crossover reports the EMA(12)/EMA(26) relationship
func (s Snapshot) Crossover() string {
	if s.EMA12 == nil || s.EMA26 == nil {
		return "undetermined"
	}
	if *s.EMA12 >= *s.EMA26 {
		return "bullish"
	}
	return "bearish"
}

// VolatilityRegime buckets annualized volatility
func (s Snapshot) VolatilityRegime() string {
	switch v := s.Volatility; {
	case v == 0:
		return "undetermined"
	case v < 0.2:
		return "low"
	case v < 0.45:
		return "moderate"
	}
	return "high"
}
