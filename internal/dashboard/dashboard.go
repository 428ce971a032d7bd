package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"

	"spot-ladder-bot/internal/binance"
	"spot-ladder-bot/internal/database"
	"spot-ladder-bot/internal/logging"
)

// ErrNoData is returned when a symbol has no candles to chart
var ErrNoData = errors.New("no chart data")

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorPrice         = "#eceff4"
	colorEMA           = "#fbbf24"
	colorRSI           = "#22d3ee"
	colorThreshold     = "#fb7185"

	chartWidthPx  = 1200
	mainHeightPx  = 460
	panelHeightPx = 260
)

// Source is the read side of the store the dashboard needs
type Source interface {
	ListEquitySamples(ctx context.Context, limit int) ([]database.EquitySample, error)
	ListPositions(ctx context.Context) ([]*database.Position, error)
}

// Config controls chart windows and overlays
type Config struct {
	HistoryLimit  int
	KlineInterval string
	KlineLimit    int
	RSIPeriod     int
	EMAPeriod     int
	BuyRSI        float64 // drawn as a guide on the RSI panel
	ScalpRSI      float64
	QuoteAsset    string
}

// DefaultConfig returns chart defaults matching the scanner
func DefaultConfig() Config {
	return Config{
		HistoryLimit:  500,
		KlineInterval: "1h",
		KlineLimit:    150,
		RSIPeriod:     14,
		EMAPeriod:     100,
		BuyRSI:        23,
		ScalpRSI:      30,
		QuoteAsset:    "USDT",
	}
}

// Renderer builds the HTML dashboard pages
type Renderer struct {
	source Source
	market binance.MarketData
	config Config
	logger *logging.Logger
}

// NewRenderer creates a dashboard renderer
func NewRenderer(source Source, market binance.MarketData, config Config, logger *logging.Logger) *Renderer {
	if logger == nil {
		logger = logging.Default()
	}
	d := DefaultConfig()
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = d.HistoryLimit
	}
	if config.KlineInterval == "" {
		config.KlineInterval = d.KlineInterval
	}
	if config.KlineLimit <= 0 {
		config.KlineLimit = d.KlineLimit
	}
	if config.RSIPeriod <= 0 {
		config.RSIPeriod = d.RSIPeriod
	}
	if config.EMAPeriod <= 0 {
		config.EMAPeriod = d.EMAPeriod
	}
	if config.QuoteAsset == "" {
		config.QuoteAsset = d.QuoteAsset
	}
	return &Renderer{source: source, market: market, config: config, logger: logger.WithComponent("dashboard")}
}

func initOpts(title string, heightPx int) opts.Initialization {
	return opts.Initialization{
		PageTitle:       title,
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", heightPx),
		BackgroundColor: colorBackground,
	}
}

func titleOpts(title, subtitle string) opts.Title {
	return opts.Title{
		Title:         title,
		Subtitle:      subtitle,
		Left:          "left",
		TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
	}
}

// Overview renders the equity curve and the open positions' PnL
func (r *Renderer) Overview(ctx context.Context, w io.Writer) error {
	samples, err := r.source.ListEquitySamples(ctx, r.config.HistoryLimit)
	if err != nil {
		return fmt.Errorf("equity history: %w", err)
	}
	positions, err := r.source.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = "Spot Ladder Bot"
	page.AddCharts(r.equityChart(samples), r.positionsChart(ctx, positions))
	return page.Render(w)
}

func (r *Renderer) equityChart(samples []database.EquitySample) *charts.Line {
	subtitle := "no samples yet"
	if n := len(samples); n > 0 {
		last := samples[n-1]
		change := 0.0
		if first := samples[0].Equity; first > 0 {
			change = (last.Equity - first) / first * 100
		}
		subtitle = fmt.Sprintf("Equity %.2f %s | Free %.2f | Positions %d | Window %+.2f%%",
			last.Equity, r.config.QuoteAsset, last.FreeBalance, last.PositionsCount, change)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts("Equity", mainHeightPx)),
		charts.WithTitleOpts(titleOpts("Equity", subtitle)),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)

	x := make([]string, len(samples))
	data := make([]opts.LineData, len(samples))
	for i, s := range samples {
		x[i] = s.Timestamp.UTC().Format("01-02 15:04")
		data[i] = opts.LineData{Value: round(s.Equity, 2)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", data, charts.WithLineStyleOpts(opts.LineStyle{Color: colorBull, Width: 2}))
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func (r *Renderer) positionsChart(ctx context.Context, positions []*database.Position) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts("Positions", panelHeightPx)),
		charts.WithTitleOpts(titleOpts("Open positions PnL %", fmt.Sprintf("%d open", len(positions)))),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)

	x := make([]string, len(positions))
	data := make([]opts.BarData, len(positions))
	for i, p := range positions {
		price := p.EntryPrice
		if live, err := r.market.GetPrice(ctx, p.Symbol); err == nil && live > 0 {
			price = live
		}
		pnl := p.PnLPercent(price)
		color := colorBear
		if pnl >= 0 {
			color = colorBull
		}
		x[i] = fmt.Sprintf("%s (%s)", p.Symbol, p.StatusLabel)
		data[i] = opts.BarData{Value: round(pnl, 2), ItemStyle: &opts.ItemStyle{Color: color}}
	}
	bar.SetXAxis(x)
	bar.AddSeries("PnL %", data)
	return bar
}

// Symbol renders price with its EMA and the RSI panel for one symbol
func (r *Renderer) Symbol(ctx context.Context, w io.Writer, symbol string) error {
	symbol = strings.ToUpper(symbol)
	candles, err := r.market.GetRecentCandles(ctx, symbol, r.config.KlineInterval, r.config.KlineLimit)
	if err != nil {
		return fmt.Errorf("candles %s: %w", symbol, err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	closes := binance.Closes(candles)
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = c.OpenTime.UTC().Format("01-02 15:04")
	}

	// talib leaves the warm-up bars at zero
	var ema, rsi []float64
	if len(closes) >= r.config.EMAPeriod {
		ema = talib.Ema(closes, r.config.EMAPeriod)
	}
	if len(closes) > r.config.RSIPeriod {
		rsi = talib.Rsi(closes, r.config.RSIPeriod)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = symbol
	page.AddCharts(
		r.priceChart(symbol, x, closes, ema),
		r.rsiChart(x, rsi),
	)
	r.logger.Debug("Symbol chart rendered", "symbol", symbol, "bars", len(candles))
	return page.Render(w)
}

func (r *Renderer) priceChart(symbol string, x []string, closes, ema []float64) *charts.Line {
	subtitle := fmt.Sprintf("%s | last %.6g", r.config.KlineInterval, closes[len(closes)-1])
	if n := len(ema); n > 0 {
		subtitle += fmt.Sprintf(" | EMA%d %.6g", r.config.EMAPeriod, ema[n-1])
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(symbol, mainHeightPx)),
		charts.WithTitleOpts(titleOpts(symbol, subtitle)),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true), AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)
	line.SetXAxis(x)
	line.AddSeries("Close", toLineData(closes, 0), charts.WithLineStyleOpts(opts.LineStyle{Color: colorPrice, Width: 2}))
	if len(ema) > 0 {
		line.AddSeries(fmt.Sprintf("EMA %d", r.config.EMAPeriod), toLineData(ema, r.config.EMAPeriod-1),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorEMA, Width: 2}))
	}
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func (r *Renderer) rsiChart(x []string, rsi []float64) *charts.Line {
	subtitle := "insufficient history"
	if n := len(rsi); n > 0 {
		subtitle = fmt.Sprintf("RSI %.1f", rsi[n-1])
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts("RSI", panelHeightPx)),
		charts.WithTitleOpts(titleOpts(fmt.Sprintf("RSI %d", r.config.RSIPeriod), subtitle)),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 100, AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)
	line.SetXAxis(x)
	line.AddSeries("RSI", toLineData(rsi, r.config.RSIPeriod), charts.WithLineStyleOpts(opts.LineStyle{Color: colorRSI, Width: 2}))
	if r.config.BuyRSI > 0 {
		line.AddSeries("Buy", constantLine(len(x), r.config.BuyRSI), charts.WithLineStyleOpts(opts.LineStyle{Color: colorThreshold, Type: "dashed"}))
	}
	if r.config.ScalpRSI > 0 {
		line.AddSeries("Scalp", constantLine(len(x), r.config.ScalpRSI), charts.WithLineStyleOpts(opts.LineStyle{Color: colorEMA, Type: "dashed"}))
	}
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

// toLineData blanks the first warmup points and any NaN
func toLineData(series []float64, warmup int) []opts.LineData {
	out := make([]opts.LineData, len(series))
	for i, v := range series {
		if i < warmup || math.IsNaN(v) {
			out[i] = opts.LineData{Value: nil}
			continue
		}
		out[i] = opts.LineData{Value: round(v, 6)}
	}
	return out
}

func constantLine(n int, v float64) []opts.LineData {
	out := make([]opts.LineData, n)
	for i := range out {
		out[i] = opts.LineData{Value: v}
	}
	return out
}

func round(val float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
