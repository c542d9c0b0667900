package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"github.com/aristath/autopublish/internal/clients/yahoo"
	"github.com/aristath/autopublish/internal/domain"
	"github.com/rs/zerolog"
)

// ErrInsufficientHistory means too few closes were available
var ErrInsufficientHistory = errors.New("insufficient price history")

// PriceSource provides daily bars
type PriceSource interface {
	GetHistoricalPrices(ctx context.Context, symbol, period string) ([]yahoo.HistoricalPrice, error)
}

// Generator implements domain.ReportGenerator.
// Output is a pure function of (ticker, bars, day), so unchanged data yields identical content.
type Generator struct {
	prices PriceSource
	now    func() time.Time
	log    zerolog.Logger
	period string
}

// NewGenerator creates a report generator reading period of history (e.g. "6mo")
func NewGenerator(prices PriceSource, period string, log zerolog.Logger) *Generator {
	return &Generator{
		prices: prices,
		period: period,
		now:    time.Now,
		log:    log.With().Str("component", "report_generator").Logger(),
	}
}

// Generate builds the outlook report of ticker
func (g *Generator) Generate(ctx context.Context, ticker string) (*domain.Report, error) {
	bars, err := g.prices.GetHistoricalPrices(ctx, ticker, g.period)
	if err != nil {
		return nil, &domain.GeneratorFailure{Ticker: ticker, Err: err}
	}
	if len(bars) < MinHistory {
		return nil, &domain.GeneratorFailure{
			Ticker: ticker,
			Err:    fmt.Errorf("%w: %d closes, need %d", ErrInsufficientHistory, len(bars), MinHistory),
		}
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	day := domain.DayOf(g.now())
	snap := Analyze(ticker, domain.DayOf(bars[len(bars)-1].Date), closes)

	content, err := Render(snap)
	if err != nil {
		return nil, &domain.GeneratorFailure{Ticker: ticker, Err: err}
	}

	g.log.Debug().
		Str("ticker", ticker).
		Int("bars", len(bars)).
		Str("trend", snap.Trend()).
		Msg("Report generated")

	return &domain.Report{
		Ticker:      ticker,
		Title:       fmt.Sprintf("%s technical outlook for %s", ticker, day),
		Content:     content,
		GeneratedAt: g.now().UTC(),
		Metadata: map[string]string{
			"as_of":      snap.AsOf,
			"trend":      snap.Trend(),
			"momentum":   snap.Momentum(),
			"crossover":  snap.Crossover(),
			"volatility": snap.VolatilityRegime(),
			"last_close": strconv.FormatFloat(snap.LastClose, 'f', 2, 64),
		},
	}, nil
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"num": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return strconv.FormatFloat(*v, 'f', 2, 64)
	},
	"pct": func(v *float64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%+.2f%%", *v*100)
	},
	"price": func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
	"vol":   func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
	"band": func(s Snapshot) string {
		if s.Bollinger == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.0f%%", s.Bollinger.Position(s.LastClose)*100)
	},
}).Parse(`<p><strong>{{.Ticker}}</strong> closed at {{price .LastClose}} on {{.AsOf}}. The chart shows a {{.Trend}} with {{.Momentum}} momentum and a {{.Crossover}} EMA crossover.</p>
<h3>Price action</h3>
<ul>
<li>1 day: {{pct .Change1D}}</li>
<li>5 days: {{pct .Change5D}}</li>
<li>20 days: {{pct .Change20D}}</li>
</ul>
<h3>Indicators</h3>
<table>
<tr><td>SMA 20</td><td>{{num .SMA20}}</td></tr>
<tr><td>SMA 50</td><td>{{num .SMA50}}</td></tr>
<tr><td>EMA 12</td><td>{{num .EMA12}}</td></tr>
<tr><td>EMA 26</td><td>{{num .EMA26}}</td></tr>
<tr><td>RSI 14</td><td>{{num .RSI14}}</td></tr>
<tr><td>Bollinger position</td><td>{{band .}}</td></tr>
<tr><td>Annualized volatility</td><td>{{vol .Volatility}} ({{.VolatilityRegime}})</td></tr>
</table>
<p><em>Based on {{.Bars}} daily closes. This is an automated technical summary, not investment advice.</em></p>
`))

// Render produces the HTML body of a snapshot
func Render(s Snapshot) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}
