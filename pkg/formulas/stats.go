package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is used to annualize daily statistics
const TradingDaysPerYear = 252

// Mean calculates the arithmetic mean
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// LogReturns converts a price series into daily log returns.
// Non-positive prices break the chain and are skipped.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	return returns
}

// AnnualizedVolatility is the standard deviation of daily returns scaled by sqrt(252)
func AnnualizedVolatility(dailyReturns []float64) float64 {
	return StdDev(dailyReturns) * math.Sqrt(TradingDaysPerYear)
}

// PercentChange returns the change between the close `lookback` bars ago and the last close.
// Returns nil when the series is too short or the base price is zero.
func PercentChange(closes []float64, lookback int) *float64 {
	if lookback <= 0 || len(closes) <= lookback {
		return nil
	}

	base := closes[len(closes)-1-lookback]
	if base == 0 {
		return nil
	}

	change := (closes[len(closes)-1] - base) / base
	return &change
}
