package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feedgate/feedgate/observe"
	"github.com/feedgate/feedgate/quota"
	"github.com/feedgate/feedgate/ratelimit"
	"github.com/feedgate/feedgate/recovery"
	"github.com/feedgate/feedgate/resilience"
)

var errTransient = errors.New("connection reset")

func testQuota(t *testing.T, totalLimit int64) *quota.Manager {
	t.Helper()
	m, err := quota.NewManager(quota.NewMemoryStore(), quota.ManagerConfig{
		Allocation: quota.Allocation{
			TotalDailyLimit: totalLimit,
			Environments: map[string]quota.EnvAllocation{
				"prod": {Allocated: totalLimit, Priority: 1},
			},
		},
	})
	if err != nil {
		t.Fatalf("quota.NewManager() = %v", err)
	}
	return m
}

func testController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	if cfg.Quota == nil {
		cfg.Quota = testQuota(t, 100)
	}
	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController() = %v", err)
	}
	return c
}

func succeedWith(value any) recovery.Operation {
	return func(context.Context, string) (any, error) { return value, nil }
}

func TestController_SuccessPath(t *testing.T) {
	c := testController(t, Config{})

	value, err := c.Execute(context.Background(), Request{
		Provider:    "barchart",
		Environment: "prod",
		Operation:   "download.daily_bars",
		Do:          succeedWith("bars"),
	})
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if value != "bars" {
		t.Errorf("value = %v", value)
	}
}

func TestController_QuotaDenialShortCircuits(t *testing.T) {
	invoked := false
	c := testController(t, Config{Quota: testQuota(t, 1)})

	op := func(context.Context, string) (any, error) {
		invoked = true
		return "bars", nil
	}

	if _, err := c.Execute(context.Background(), Request{
		Provider: "barchart", Environment: "prod", Do: op,
	}); err != nil {
		t.Fatalf("first Execute() = %v", err)
	}

	_, err := c.Execute(context.Background(), Request{
		Provider: "barchart", Environment: "prod", Do: func(context.Context, string) (any, error) {
			t.Error("operation invoked after quota denial")
			return nil, nil
		},
	})
	if !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Fatalf("Execute() = %v, want quota exceeded", err)
	}

	var admErr *Error
	if !errors.As(err, &admErr) {
		t.Fatal("error is not *admission.Error")
	}
	if admErr.CorrelationID == "" {
		t.Error("CorrelationID empty on surfaced error")
	}
	if !invoked {
		t.Error("first call never ran")
	}
}

func TestController_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	op := func(context.Context, string) (any, error) {
		calls++
		if calls < 3 {
			return nil, errTransient
		}
		return "bars", nil
	}

	c := testController(t, Config{
		Retries: resilience.NewRetryManager(resilience.Policy{
			MaxAttempts: 3,
			Strategy:    resilience.FixedDelay,
			BaseDelay:   time.Millisecond,
		}, nil),
	})

	value, err := c.Execute(context.Background(), Request{
		Provider: "barchart", Environment: "prod", Do: op,
	})
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if value != "bars" || calls != 3 {
		t.Errorf("value = %v, calls = %d", value, calls)
	}
}

func TestController_OpenBreakerFailsFast(t *testing.T) {
	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold:  2,
		SlidingWindowSize: 2,
		RecoveryTimeout:   time.Hour,
	})
	c := testController(t, Config{Breakers: breakers})

	fail := func(context.Context, string) (any, error) { return nil, errTransient }
	for i := 0; i < 2; i++ {
		if _, err := c.Execute(context.Background(), Request{
			Provider: "barchart", Environment: "prod", Do: fail,
		}); err == nil {
			t.Fatal("Execute() = nil, want failure")
		}
	}

	invoked := false
	_, err := c.Execute(context.Background(), Request{
		Provider: "barchart", Environment: "prod",
		Do: func(context.Context, string) (any, error) {
			invoked = true
			return "bars", nil
		},
	})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("Execute() = %v, want circuit open", err)
	}
	if invoked {
		t.Error("operation invoked while the breaker was open")
	}
}

func TestController_RateLimiterWaits(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		BurstLimit:  1,
		BurstWindow: 30 * time.Millisecond,
	})
	c := testController(t, Config{
		Limiters: map[string]*ratelimit.Limiter{"barchart": limiter},
	})

	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := c.Execute(context.Background(), Request{
			Provider: "barchart", Environment: "prod", Do: succeedWith("bars"),
		}); err != nil {
			t.Fatalf("Execute() #%d = %v", i+1, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("second request admitted after %v, want a burst-window wait", elapsed)
	}
}

func TestController_RecoversViaFallbackProvider(t *testing.T) {
	op := func(_ context.Context, provider string) (any, error) {
		if provider == "yahoo" {
			return "bars-from-yahoo", nil
		}
		return nil, errTransient
	}

	c := testController(t, Config{
		Retries: resilience.NewRetryManager(resilience.Policy{
			MaxAttempts: 2,
			Strategy:    resilience.FixedDelay,
			BaseDelay:   time.Millisecond,
		}, nil),
		Recovery: recovery.NewManager(nil, recovery.NewProviderFallback(nil, "yahoo")),
	})

	value, err := c.Execute(context.Background(), Request{
		Provider: "barchart", Environment: "prod", Do: op,
	})
	if err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if value != "bars-from-yahoo" {
		t.Errorf("value = %v", value)
	}
}

func TestController_ExhaustionSurfacesEnrichedError(t *testing.T) {
	c := testController(t, Config{
		Retries: resilience.NewRetryManager(resilience.Policy{
			MaxAttempts: 2,
			Strategy:    resilience.FixedDelay,
			BaseDelay:   time.Millisecond,
		}, nil),
		Recovery: recovery.NewManager(nil,
			recovery.NewProviderFallback(nil, "yahoo"),
			recovery.NewManualIntervention(nil),
		),
	})

	_, err := c.Execute(context.Background(), Request{
		Provider: "barchart", Environment: "prod",
		Do: func(context.Context, string) (any, error) { return nil, errTransient },
	})
	if err == nil {
		t.Fatal("Execute() = nil, want failure")
	}

	var admErr *Error
	if !errors.As(err, &admErr) {
		t.Fatalf("error is %T, want *admission.Error", err)
	}
	if admErr.CorrelationID == "" {
		t.Error("CorrelationID empty")
	}
	if len(admErr.Attempted) != 2 {
		t.Errorf("Attempted = %v, want both strategies", admErr.Attempted)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("err = %v, want wrapped original", err)
	}
}

func TestController_FatalErrorSkipsRetries(t *testing.T) {
	fatal := errors.New("authentication failed")
	calls := 0

	c := testController(t, Config{
		Retries: resilience.NewRetryManager(resilience.Policy{
			MaxAttempts:  5,
			Strategy:     resilience.FixedDelay,
			BaseDelay:    time.Millisecond,
			NonRetryable: []error{fatal},
		}, nil),
	})

	_, err := c.Execute(context.Background(), Request{
		Provider: "barchart", Environment: "prod",
		Do: func(context.Context, string) (any, error) {
			calls++
			return nil, fatal
		},
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("Execute() = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries on fatal errors)", calls)
	}
}

func TestController_CallTimeoutFailsSlowAttempt(t *testing.T) {
	c := testController(t, Config{CallTimeout: 20 * time.Millisecond})

	_, err := c.Execute(context.Background(), Request{
		Provider: "barchart", Environment: "prod",
		Do: func(ctx context.Context, _ string) (any, error) {
			select {
			case <-time.After(time.Second):
				return "bars", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	if !errors.Is(err, resilience.ErrTimeout) {
		t.Fatalf("Execute() = %v, want attempt timeout", err)
	}
}

func TestController_BulkheadRejectsWhenSaturated(t *testing.T) {
	c := testController(t, Config{
		Bulkhead: resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 1}),
	})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		c.Execute(context.Background(), Request{
			Provider: "barchart", Environment: "prod",
			Do: func(context.Context, string) (any, error) {
				close(started)
				<-release
				return "bars", nil
			},
		})
	}()
	<-started
	defer close(release)

	_, err := c.Execute(context.Background(), Request{
		Provider: "barchart", Environment: "prod", Do: succeedWith("bars"),
	})
	if !errors.Is(err, resilience.ErrBulkheadFull) {
		t.Fatalf("Execute() = %v, want bulkhead full", err)
	}
}

func TestController_MetricsObserveOutcomes(t *testing.T) {
	// Smoke check: custom metrics wiring must not panic on any path.
	c := testController(t, Config{
		Metrics: observe.NewNopMetrics(),
		Logger:  observe.NewNop(),
	})
	if _, err := c.Execute(context.Background(), Request{
		Provider: "barchart", Environment: "prod", Do: succeedWith(1),
	}); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
}
