package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feedgate/feedgate/admission"
	"github.com/feedgate/feedgate/cache"
	"github.com/feedgate/feedgate/observe"
)

// DefaultConcurrency bounds the downloader's worker pool.
const DefaultConcurrency = 4

// DownloadRequest is one batch of instruments to retrieve.
type DownloadRequest struct {
	Instruments []Instrument
	Start, End  time.Time
}

// DownloadResult is the outcome for one instrument. Failures are reported
// per instrument; one bad symbol never aborts the batch.
type DownloadResult struct {
	Symbol string
	Bars   []Bar
	Err    error
}

// DownloaderConfig wires a Downloader.
type DownloaderConfig struct {
	// Controller admits every provider call. Required.
	Controller *admission.Controller

	// Providers maps provider name to implementation; it must contain
	// Primary plus any fallback providers recovery may swap in. Required.
	Providers map[string]Provider

	// Primary is the provider tried first. Required.
	Primary string

	// Environment is the requesting deployment environment. Required.
	Environment string

	// Concurrency bounds in-flight downloads. Defaults to
	// DefaultConcurrency.
	Concurrency int

	// Cache short-circuits fresh repeats and retains last known good bars
	// for degraded recovery. Optional.
	Cache cache.Cache

	// CacheTTL is the freshness TTL for downloaded bars. Zero falls back
	// to the cache policy default.
	CacheTTL time.Duration

	// Sink persists successfully downloaded bars. Optional.
	Sink Sink

	Logger observe.Logger
}

// Downloader retrieves bars for batches of instruments on a bounded worker
// pool, each download passing through the admission chain.
type Downloader struct {
	controller  *admission.Controller
	providers   map[string]Provider
	primary     string
	environment string
	concurrency int
	cache       *cache.ReadThrough
	cacheTTL    time.Duration
	sink        Sink
	logger      observe.Logger
}

// NewDownloader creates a Downloader.
func NewDownloader(cfg DownloaderConfig) (*Downloader, error) {
	if cfg.Controller == nil {
		return nil, errors.New("feed: admission controller is required")
	}
	if cfg.Primary == "" {
		return nil, errors.New("feed: primary provider is required")
	}
	if _, ok := cfg.Providers[cfg.Primary]; !ok {
		return nil, fmt.Errorf("feed: primary provider %q not registered", cfg.Primary)
	}
	if cfg.Environment == "" {
		return nil, errors.New("feed: environment is required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observe.NewNop()
	}
	var readThrough *cache.ReadThrough
	if cfg.Cache != nil {
		readThrough = cache.NewReadThrough(cfg.Cache, cache.Policy{FreshTTL: cfg.CacheTTL})
	}
	return &Downloader{
		controller:  cfg.Controller,
		providers:   cfg.Providers,
		primary:     cfg.Primary,
		environment: cfg.Environment,
		concurrency: concurrency,
		cache:       readThrough,
		cacheTTL:    cfg.CacheTTL,
		sink:        cfg.Sink,
		logger:      logger,
	}, nil
}

// Run downloads the batch. Results come back in instrument order, one per
// instrument, with per-instrument errors. The returned error is non-nil
// only when the whole batch was aborted by context cancellation.
func (d *Downloader) Run(ctx context.Context, req DownloadRequest) ([]DownloadResult, error) {
	results := make([]DownloadResult, len(req.Instruments))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, inst := range req.Instruments {
		g.Go(func() error {
			bars, err := d.fetch(ctx, inst, req.Start, req.End)
			results[i] = DownloadResult{Symbol: inst.Symbol, Bars: bars, Err: err}
			if errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	if d.sink != nil {
		for _, res := range results {
			if res.Err != nil || len(res.Bars) == 0 {
				continue
			}
			if err := d.sink.WriteBars(ctx, res.Bars); err != nil {
				d.logger.Error(ctx, "persisting bars failed",
					observe.F("symbol", res.Symbol),
					observe.F("error", err.Error()),
				)
			}
		}
	}
	return results, nil
}

// fetch resolves one instrument, fresh cache hits first so repeats spend no
// quota, then the admitted provider call.
func (d *Downloader) fetch(ctx context.Context, inst Instrument, start, end time.Time) ([]Bar, error) {
	key := cache.Key("daily_bars", inst.Symbol, dayString(start), dayString(end))

	if d.cache == nil {
		return d.download(ctx, key, inst, start, end)
	}

	value, err := d.cache.Fetch(ctx, key, d.cacheTTL, func(ctx context.Context) (any, error) {
		return d.download(ctx, key, inst, start, end)
	})
	if err != nil {
		return nil, err
	}
	bars, ok := value.([]Bar)
	if !ok {
		return nil, fmt.Errorf("feed: cached value is %T, want []Bar", value)
	}
	return bars, nil
}

func (d *Downloader) download(ctx context.Context, key string, inst Instrument, start, end time.Time) ([]Bar, error) {
	value, err := d.controller.Execute(ctx, admission.Request{
		Provider:    d.primary,
		Environment: d.environment,
		Operation:   "download.daily_bars",
		CacheKey:    key,
		Do: func(ctx context.Context, provider string) (any, error) {
			p, ok := d.providers[provider]
			if !ok {
				return nil, Fatal(provider, "not registered", nil)
			}
			return p.DailyBars(ctx, inst.Symbol, start, end)
		},
	})
	if err != nil {
		return nil, err
	}
	bars, ok := value.([]Bar)
	if !ok {
		return nil, fmt.Errorf("feed: provider returned %T, want []Bar", value)
	}
	return bars, nil
}

func dayString(t time.Time) string {
	return t.UTC().Format("20060102")
}
