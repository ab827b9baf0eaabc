package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// Sink persists downloaded bars.
type Sink interface {
	// WriteBars persists one instrument's bars. All bars share a symbol.
	WriteBars(ctx context.Context, bars []Bar) error
}

// CSVSink writes one CSV file per symbol under a directory, replacing the
// file on every write so reruns stay idempotent.
type CSVSink struct {
	dir string
	mu  sync.Mutex
}

var csvHeader = []string{"day", "open", "high", "low", "close", "volume"}

// NewCSVSink creates a sink writing under dir, creating it if needed.
func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("feed: create sink directory: %w", err)
	}
	return &CSVSink{dir: dir}, nil
}

// WriteBars writes the bars, oldest first, to {dir}/{symbol}.csv.
func (s *CSVSink) WriteBars(ctx context.Context, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	symbol := bars[0].Symbol

	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Day.Before(sorted[j].Day) })

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write to a temp file and rename, so readers never see a torn file.
	path := filepath.Join(s.dir, symbol+".csv")
	tmp, err := os.CreateTemp(s.dir, symbol+".csv.tmp")
	if err != nil {
		return fmt.Errorf("feed: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("feed: write csv header: %w", err)
	}
	for _, bar := range sorted {
		record := []string{
			bar.Day.UTC().Format("2006-01-02"),
			strconv.FormatFloat(bar.Open, 'f', -1, 64),
			strconv.FormatFloat(bar.High, 'f', -1, 64),
			strconv.FormatFloat(bar.Low, 'f', -1, 64),
			strconv.FormatFloat(bar.Close, 'f', -1, 64),
			strconv.FormatInt(bar.Volume, 10),
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return fmt.Errorf("feed: write csv record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("feed: flush csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("feed: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("feed: replace %s: %w", path, err)
	}
	return nil
}
