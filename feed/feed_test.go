package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedgate/feedgate/admission"
	"github.com/feedgate/feedgate/cache"
	"github.com/feedgate/feedgate/quota"
	"github.com/feedgate/feedgate/recovery"
)

// fakeProvider serves canned bars and counts calls.
type fakeProvider struct {
	name     string
	err      error
	calls    atomic.Int64
	inflight atomic.Int64
	peak     atomic.Int64
	mu       sync.Mutex
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) DailyBars(_ context.Context, symbol string, start, _ time.Time) ([]Bar, error) {
	p.calls.Add(1)

	cur := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	if p.err != nil {
		return nil, p.err
	}
	return []Bar{{
		Symbol: symbol,
		Day:    start.UTC().Truncate(24 * time.Hour),
		Open:   100, High: 101, Low: 99, Close: 100.5,
		Volume: 1000,
	}}, nil
}

func testController(t *testing.T) *admission.Controller {
	t.Helper()
	qm, err := quota.NewManager(quota.NewMemoryStore(), quota.ManagerConfig{
		Allocation: quota.Allocation{
			TotalDailyLimit: 1000,
			Environments: map[string]quota.EnvAllocation{
				"prod": {Allocated: 1000, Priority: 1},
			},
		},
	})
	require.NoError(t, err)
	c, err := admission.NewController(admission.Config{Quota: qm})
	require.NoError(t, err)
	return c
}

func instruments(symbols ...string) []Instrument {
	out := make([]Instrument, len(symbols))
	for i, s := range symbols {
		out[i] = Instrument{Symbol: s}
	}
	return out
}

func TestDownloader_BatchInOrder(t *testing.T) {
	provider := &fakeProvider{name: "barchart"}
	d, err := NewDownloader(DownloaderConfig{
		Controller:  testController(t),
		Providers:   map[string]Provider{"barchart": provider},
		Primary:     "barchart",
		Environment: "prod",
	})
	require.NoError(t, err)

	results, err := d.Run(context.Background(), DownloadRequest{
		Instruments: instruments("ESZ6", "NQZ6", "CLF7"),
		Start:       time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, symbol := range []string{"ESZ6", "NQZ6", "CLF7"} {
		assert.Equal(t, symbol, results[i].Symbol)
		require.NoError(t, results[i].Err)
		require.Len(t, results[i].Bars, 1)
		assert.Equal(t, symbol, results[i].Bars[0].Symbol)
	}
	assert.Equal(t, int64(3), provider.calls.Load())
}

func TestDownloader_BoundsConcurrency(t *testing.T) {
	provider := &fakeProvider{name: "barchart"}
	d, err := NewDownloader(DownloaderConfig{
		Controller:  testController(t),
		Providers:   map[string]Provider{"barchart": provider},
		Primary:     "barchart",
		Environment: "prod",
		Concurrency: 2,
	})
	require.NoError(t, err)

	symbols := make([]string, 20)
	for i := range symbols {
		symbols[i] = "SYM" + string(rune('A'+i))
	}
	_, err = d.Run(context.Background(), DownloadRequest{
		Instruments: instruments(symbols...),
		Start:       time.Now(), End: time.Now(),
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, provider.peak.Load(), int64(2))
}

func TestDownloader_PerInstrumentFailureDoesNotAbortBatch(t *testing.T) {
	provider := &fakeProvider{name: "barchart"}
	d, err := NewDownloader(DownloaderConfig{
		Controller:  testController(t),
		Providers:   map[string]Provider{"barchart": provider},
		Primary:     "barchart",
		Environment: "prod",
	})
	require.NoError(t, err)

	provider.err = Transient("barchart", errors.New("connection reset"))
	results, err := d.Run(context.Background(), DownloadRequest{
		Instruments: instruments("ESZ6", "NQZ6"),
		Start:       time.Now(), End: time.Now(),
	})
	require.NoError(t, err, "batch must not abort on per-instrument failure")
	for _, res := range results {
		assert.ErrorIs(t, res.Err, ErrTransient)
	}
}

func TestDownloader_CacheShortCircuitsAdmission(t *testing.T) {
	provider := &fakeProvider{name: "barchart"}
	barCache := cache.NewMemoryCache(cache.Policy{FreshTTL: time.Hour})
	d, err := NewDownloader(DownloaderConfig{
		Controller:  testController(t),
		Providers:   map[string]Provider{"barchart": provider},
		Primary:     "barchart",
		Environment: "prod",
		Cache:       barCache,
	})
	require.NoError(t, err)

	req := DownloadRequest{
		Instruments: instruments("ESZ6"),
		Start:       time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC),
	}
	for i := 0; i < 3; i++ {
		results, err := d.Run(context.Background(), req)
		require.NoError(t, err)
		require.NoError(t, results[0].Err)
	}
	assert.Equal(t, int64(1), provider.calls.Load(), "fresh repeats must not hit the provider")
}

func TestDownloader_DegradedRecoveryServesStaleBars(t *testing.T) {
	provider := &fakeProvider{name: "barchart"}
	barCache := cache.NewMemoryCache(cache.Policy{FreshTTL: 0, MaxAge: 0})

	qm, err := quota.NewManager(quota.NewMemoryStore(), quota.ManagerConfig{
		Allocation: quota.Allocation{
			TotalDailyLimit: 1000,
			Environments: map[string]quota.EnvAllocation{
				"prod": {Allocated: 1000, Priority: 1},
			},
		},
	})
	require.NoError(t, err)
	controller, err := admission.NewController(admission.Config{
		Quota:    qm,
		Recovery: recovery.NewManager(nil, recovery.NewGracefulDegradation(nil, barCache)),
	})
	require.NoError(t, err)

	d, err := NewDownloader(DownloaderConfig{
		Controller:  controller,
		Providers:   map[string]Provider{"barchart": provider},
		Primary:     "barchart",
		Environment: "prod",
		Cache:       barCache,
	})
	require.NoError(t, err)

	req := DownloadRequest{
		Instruments: instruments("ESZ6"),
		Start:       time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC),
	}

	// First run populates the last-known-good store (FreshTTL=0 makes
	// every entry immediately stale so the next run cannot fresh-hit).
	results, err := d.Run(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	// Provider goes down; the stale bars come back via degradation.
	provider.err = Transient("barchart", errors.New("503"))
	results, err = d.Run(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	require.Len(t, results[0].Bars, 1)
	assert.Equal(t, "ESZ6", results[0].Bars[0].Symbol)
}

func TestCSVSink_WritesSortedBars(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewCSVSink(dir)
	require.NoError(t, err)

	day := func(d int) time.Time { return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC) }
	bars := []Bar{
		{Symbol: "ESZ6", Day: day(21), Open: 2, High: 3, Low: 1, Close: 2.5, Volume: 20},
		{Symbol: "ESZ6", Day: day(20), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
	}
	require.NoError(t, sink.WriteBars(context.Background(), bars))

	f, err := os.Open(filepath.Join(dir, "ESZ6.csv"))
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "2026-08-20", records[1][0], "bars must be written oldest first")
	assert.Equal(t, "2026-08-21", records[2][0])
	assert.Equal(t, "10", records[1][5])
}

func TestProviderErrors_Taxonomy(t *testing.T) {
	transient := Transient("barchart", errors.New("timeout"))
	assert.ErrorIs(t, transient, ErrTransient)
	assert.NotErrorIs(t, transient, ErrFatal)

	fatal := Fatal("barchart", "authentication failed", nil)
	assert.ErrorIs(t, fatal, ErrFatal)
	assert.NotErrorIs(t, fatal, ErrTransient)

	var te *TransientError
	require.ErrorAs(t, transient, &te)
	assert.Equal(t, "barchart", te.Provider)
}
