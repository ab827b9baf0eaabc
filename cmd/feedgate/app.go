package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feedgate/feedgate/admission"
	"github.com/feedgate/feedgate/cache"
	"github.com/feedgate/feedgate/config"
	"github.com/feedgate/feedgate/feed"
	"github.com/feedgate/feedgate/health"
	"github.com/feedgate/feedgate/observe"
	"github.com/feedgate/feedgate/quota"
	"github.com/feedgate/feedgate/quota/redisstore"
	"github.com/feedgate/feedgate/ratelimit"
	"github.com/feedgate/feedgate/recovery"
	"github.com/feedgate/feedgate/resilience"
)

// app wires every component from the loaded configuration. Built once per
// invocation and passed explicitly; there are no package-level singletons.
type app struct {
	cfg      config.Config
	observer observe.Observer
	logger   observe.Logger

	store      quota.CounterStore
	quota      *quota.Manager
	breakers   *resilience.Registry
	recovery   *recovery.Manager
	controller *admission.Controller
	downloader *feed.Downloader
	barCache   *cache.MemoryCache
	health     *health.Aggregator

	shutdown func(context.Context) error
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	observer, err := observe.New(ctx, cfg.Observe())
	if err != nil {
		return nil, err
	}
	logger := observer.Logger()

	var store quota.CounterStore
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err = redisstore.New(redisClient, redisstore.Config{
			Subscription: cfg.Service.Subscription,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn(ctx, "no redis address configured, using the in-process counter store; "+
			"the shared daily ceiling holds only within this process")
		store = quota.NewMemoryStore()
	}

	quotaManager, err := quota.NewManager(store, quota.ManagerConfig{
		Allocation: cfg.Quota,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	metrics, err := observe.NewMetrics(observer.Meter())
	if err != nil {
		return nil, err
	}

	onStateChange := func(name string, from, to resilience.State) {
		logger.Warn(context.Background(), "circuit state changed",
			observe.F("circuit", name),
			observe.F("from", from.String()),
			observe.F("to", to.String()),
		)
		metrics.RecordTransition(context.Background(), name, from.String(), to.String())
	}
	breakers := resilience.NewRegistry(resilience.BreakerConfig{OnStateChange: onStateChange})

	limiters := make(map[string]*ratelimit.Limiter, len(cfg.Providers))
	retryPolicies := make(map[string]resilience.Policy, len(cfg.Providers))
	providers := make(map[string]feed.Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		limiters[name] = ratelimit.New(pc.RateLimit)

		policy, err := pc.Retry.Policy()
		if err != nil {
			return nil, err
		}
		// Fatal provider errors and open circuits are never retried.
		policy.NonRetryable = append(policy.NonRetryable, feed.ErrFatal, resilience.ErrCircuitOpen)
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			metrics.RecordRetry(context.Background(), name)
			logger.Debug(context.Background(), "retrying provider call",
				observe.F("provider", name),
				observe.F("attempt", attempt),
				observe.F("delay", delay.String()),
				observe.F("error", err.Error()),
			)
		}
		retryPolicies[name] = policy

		bc := pc.Circuit.BreakerConfig()
		bc.OnStateChange = onStateChange
		breakers.Configure(name, bc)

		provider, err := feed.NewHTTPProvider(feed.HTTPProviderConfig{
			Name:    name,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
		})
		if err != nil {
			return nil, err
		}
		providers[name] = provider
	}

	barCache := cache.NewMemoryCache(cache.DefaultPolicy())
	recoveryManager := recovery.NewManager(logger,
		recovery.NewProviderFallback(logger, cfg.Fallbacks...),
		recovery.NewGracefulDegradation(logger, barCache),
		recovery.NewManualIntervention(logger),
	)

	var bulkhead *resilience.Bulkhead
	if cfg.Download.MaxInFlight > 0 {
		bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: cfg.Download.MaxInFlight,
			MaxWait:       30 * time.Second,
		})
	}

	controller, err := admission.NewController(admission.Config{
		Quota:       quotaManager,
		Limiters:    limiters,
		Breakers:    breakers,
		Retries:     resilience.NewRetryManager(resilience.Policy{NonRetryable: []error{feed.ErrFatal, resilience.ErrCircuitOpen}}, retryPolicies),
		Recovery:    recoveryManager,
		Bulkhead:    bulkhead,
		CallTimeout: cfg.Download.CallTimeout,
		Metrics:     metrics,
		Logger:      logger,
		Tracer:      observer.Tracer(),
	})
	if err != nil {
		return nil, err
	}

	sink, err := feed.NewCSVSink(cfg.Service.DataDir)
	if err != nil {
		return nil, err
	}
	downloader, err := feed.NewDownloader(feed.DownloaderConfig{
		Controller:  controller,
		Providers:   providers,
		Primary:     cfg.Primary,
		Environment: cfg.Service.Environment,
		Concurrency: cfg.Download.Concurrency,
		Cache:       barCache,
		CacheTTL:    cfg.Download.CacheTTL,
		Sink:        sink,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	aggregator := health.NewAggregator(0)
	aggregator.Register(health.NewBreakerChecker(breakers))
	aggregator.Register(health.NewQuotaChecker(quotaManager, 0.8))
	aggregator.Register(health.NewStoreChecker(store))

	return &app{
		cfg:        cfg,
		observer:   observer,
		logger:     logger,
		store:      store,
		quota:      quotaManager,
		breakers:   breakers,
		recovery:   recoveryManager,
		controller: controller,
		downloader: downloader,
		barCache:   barCache,
		health:     aggregator,
		shutdown: func(ctx context.Context) error {
			err := observer.Shutdown(ctx)
			if redisClient != nil {
				if cerr := redisClient.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}
			return err
		},
	}, nil
}

// serveHealth runs the health/metrics endpoint until the context ends.
func (a *app) serveHealth(ctx context.Context) error {
	if a.cfg.Service.Listen == "" {
		return fmt.Errorf("feedgate: service.listen is not configured")
	}

	mux := http.NewServeMux()
	health.RegisterHandlers(mux, a.health)

	srv := &http.Server{
		Addr:              a.cfg.Service.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	a.logger.Info(ctx, "health endpoint listening", observe.F("addr", a.cfg.Service.Listen))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
