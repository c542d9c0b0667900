// Package formulas provides the technical indicators and return statistics
// used to build ticker analysis reports.
package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// BollingerBands holds the last value of each band
type BollingerBands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Position returns where price sits between the bands, 0.0 at the lower band and
// 1.0 at the upper band. Values outside [0,1] mean price broke out of the bands.
func (b BollingerBands) Position(price float64) float64 {
	width := b.Upper - b.Lower
	if width == 0 {
		return 0.5
	}
	return (price - b.Lower) / width
}

// RSI returns the current Relative Strength Index or nil if there is not enough data.
func RSI(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	return last(talib.Rsi(closes, period))
}

// SMA returns the current simple moving average or nil if there is not enough data.
func SMA(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}
	return last(talib.Sma(closes, period))
}

// EMA returns the current exponential moving average or nil if there is not enough data.
func EMA(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}
	return last(talib.Ema(closes, period))
}

// Bollinger returns the current Bollinger Bands (SMA based) or nil if there is not enough data.
func Bollinger(closes []float64, period int, deviations float64) *BollingerBands {
	if len(closes) < period {
		return nil
	}

	upper, middle, lower := talib.BBands(closes, period, deviations, deviations, 0)
	u, m, l := last(upper), last(middle), last(lower)
	if u == nil || m == nil || l == nil {
		return nil
	}

	return &BollingerBands{Upper: *u, Middle: *m, Lower: *l}
}

// last returns the final non-NaN value of a talib output series
func last(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
