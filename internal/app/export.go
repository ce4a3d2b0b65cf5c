package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/Tomyleexrp/xrplmeta/internal/exchanges"
	"github.com/Tomyleexrp/xrplmeta/internal/ledger"
)

// Export renders a token's trade history against the native asset as CSV
// and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Currency == "" || opts.Issuer == "" {
		return errors.New("--currency and --issuer are required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	base := ledger.Token{Currency: opts.Currency, Issuer: opts.Issuer}
	records, err := store.PairHistory(ctx, base, a.NativeToken(), opts.MaxPoints)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Str("token", base.Key()).Msg("no trades found for export")
		return nil
	}

	// PairHistory returns newest first; the chart runs oldest to newest.
	points := make([]exchanges.Aligned, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		aligned, alignErr := exchanges.Align(base, records[i])
		if alignErr != nil {
			a.Logger.Warn().Err(alignErr).Str("tx", records[i].TxHash).Msg("skipping unalignable trade")
			continue
		}
		points = append(points, aligned)
	}
	points = downsamplePoints(points, opts.MaxPoints)

	a.Logger.Info().Int("total", len(records)).Int("exported", len(points)).Msg("exporting trades")

	if opts.CSVPath != "" {
		if err := writeTradesCSV(opts.CSVPath, points); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeTradesPNG(opts.PNGPath, base, points); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePoints(points []exchanges.Aligned, max int) []exchanges.Aligned {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]exchanges.Aligned, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeTradesCSV(path string, points []exchanges.Aligned) error {
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

	header := []string{"ledger_sequence", "tx_hash", "price", "volume"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, point := range points {
		record := []string{
			strconv.FormatInt(point.LedgerSequence, 10),
			point.TxHash,
			point.Price.String(),
			point.Volume.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeTradesPNG(path string, base ledger.Token, points []exchanges.Aligned) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]float64, len(points))
	price := make([]float64, len(points))
	volume := make([]float64, len(points))

	for i, point := range points {
		x[i] = float64(point.LedgerSequence)
		price[i] = point.Price.InexactFloat64()
		volume[i] = point.Volume.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.6f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("%s price history", base.Key()),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name: "Ledger sequence",
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Volume",
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Price",
				XValues: x,
				YValues: price,
			},
			chart.ContinuousSeries{
				Name:    "Volume",
				XValues: x,
				YValues: volume,
				YAxis:   chart.YAxisSecondary,
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

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
