package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"card-price-sync/internal/fetcher"
	"card-price-sync/internal/storage"
)

// ExportOptions hold parameters for exporting a card's price history.
type ExportOptions struct {
	CardID    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// Export renders a card's observation history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CardID == "" {
		return errors.New("card id is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	var from time.Time
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	history, err := repo.ListObservations(ctx, opts.CardID, from)
	if err != nil {
		return err
	}
	history = before(history, to)
	if len(history) == 0 {
		a.Logger.Info().Str("card_id", opts.CardID).Msg("no observations found for export window")
		return nil
	}

	downsampled := downsample(history, opts.MaxPoints)
	a.Logger.Info().
		Str("card_id", opts.CardID).
		Int("total", len(history)).
		Int("exported", len(downsampled)).
		Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writeObservationsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeObservationsPNG(opts.PNGPath, opts.CardID, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func before(history []storage.PriceObservation, to time.Time) []storage.PriceObservation {
	out := history[:0:0]
	for _, obs := range history {
		if obs.ObservedAt.Before(to) {
			out = append(out, obs)
		}
	}
	return out
}

func downsample(history []storage.PriceObservation, max int) []storage.PriceObservation {
	if max <= 1 || len(history) <= max {
		return history
	}

	result := make([]storage.PriceObservation, 0, max)
	step := float64(len(history)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(history) {
			idx = len(history) - 1
		}
		result = append(result, history[idx])
	}
	return result
}

func writeObservationsCSV(path string, history []storage.PriceObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"observed_at", "card_id", "price_normal", "price_foil", "price_etched"}); err != nil {
		return err
	}
	for _, obs := range history {
		record := []string{
			obs.ObservedAt.UTC().Format(time.RFC3339),
			obs.CardID,
			csvPrice(obs.BaseMinor),
			csvPrice(obs.FoilMinor),
			csvPrice(obs.EtchedMinor),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func csvPrice(v *int64) string {
	if v == nil {
		return ""
	}
	return fetcher.FormatMinorUnits(v)
}

func writeObservationsPNG(path, cardID string, history []storage.PriceObservation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var series []chart.Series
	for _, finish := range storage.Finishes {
		var x []time.Time
		var y []float64
		for _, obs := range history {
			if p := obs.Price(finish); p != nil {
				x = append(x, obs.ObservedAt)
				y = append(y, float64(*p)/100)
			}
		}
		// go-chart needs at least two points to draw a line
		if len(x) < 2 {
			continue
		}
		series = append(series, chart.TimeSeries{Name: string(finish), XValues: x, YValues: y})
	}
	if len(series) == 0 {
		return errors.New("not enough priced observations to chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  cardID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: series,
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
