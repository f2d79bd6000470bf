package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"dyzen-trader/internal/storage"
)

// Export renders realized pnl history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, -1, 0)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	positions, err := store.ListClosedPositionsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		a.Logger.Info().Msg("no closed positions found for export window")
		return nil
	}

	downsampled := downsamplePositions(positions, opts.MaxPoints)
	a.Logger.Info().Int("total", len(positions)).Int("exported", len(downsampled)).Msg("exporting closed positions")

	if opts.CSVPath != "" {
		if err := writePositionsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePnLPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePositions(positions []storage.Position, max int) []storage.Position {
	if max <= 0 || len(positions) <= max {
		return positions
	}

	result := make([]storage.Position, 0, max)
	step := float64(len(positions)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(positions) {
			idx = len(positions) - 1
		}
		result = append(result, positions[idx])
	}
	return result
}

func writePositionsCSV(path string, positions []storage.Position) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"closed_at", "symbol", "side", "size", "entry_price", "pnl"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, pos := range positions {
		closedAt := ""
		if pos.ClosedAt != nil {
			closedAt = pos.ClosedAt.UTC().Format(time.RFC3339)
		}
		pnl := ""
		if pos.PnL != nil {
			pnl = pos.PnL.String()
		}
		record := []string{
			closedAt,
			pos.Symbol,
			pos.Side,
			pos.Size.String(),
			pos.EntryPrice.String(),
			pnl,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePnLPNG(path string, positions []storage.Position) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(positions))
	perTrade := make([]float64, 0, len(positions))
	cumulative := make([]float64, 0, len(positions))

	running := decimal.Zero
	for _, pos := range positions {
		if pos.ClosedAt == nil || pos.PnL == nil {
			continue
		}
		running = running.Add(*pos.PnL)
		x = append(x, *pos.ClosedAt)
		perTrade = append(perTrade, pos.PnL.InexactFloat64())
		cumulative = append(cumulative, running.InexactFloat64())
	}
	if len(x) == 0 {
		return errors.New("no closed positions carry pnl")
	}

	pnlFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "PnL (quote)",
			ValueFormatter: pnlFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Per trade",
				XValues: x,
				YValues: perTrade,
			},
			chart.TimeSeries{
				Name:    "Cumulative",
				XValues: x,
				YValues: cumulative,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
