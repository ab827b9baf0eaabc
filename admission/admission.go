// Package admission composes the full gatekeeping chain around a provider
// request: quota, rate limiting, circuit breaking, retries with backoff, and
// recovery once retries are exhausted.
//
// Checks run before the network call and short-circuit it entirely on
// denial; no provider capacity is spent on a request that cannot succeed. A
// correlation context is attached for the whole chain, so every log line,
// span and surfaced error can be tied back to one top-level operation.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/feedgate/feedgate/correlation"
	"github.com/feedgate/feedgate/observe"
	"github.com/feedgate/feedgate/quota"
	"github.com/feedgate/feedgate/ratelimit"
	"github.com/feedgate/feedgate/recovery"
	"github.com/feedgate/feedgate/resilience"
)

// Error is the enriched failure surfaced to callers once admission,
// retries and recovery are all exhausted.
type Error struct {
	CorrelationID string
	Provider      string
	Environment   string

	// Attempted lists the recovery strategies tried, if any.
	Attempted []recovery.Strategy

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "admission: request for provider %q in %q failed", e.Provider, e.Environment)
	if len(e.Attempted) > 0 {
		names := make([]string, len(e.Attempted))
		for i, s := range e.Attempted {
			names[i] = string(s)
		}
		fmt.Fprintf(&b, " (recovery attempted: %s)", strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, " [correlation %s]: %v", e.CorrelationID, e.Err)
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Request is one provider operation to admit and execute.
type Request struct {
	// Provider is the upstream identity, e.g. "barchart". Required.
	Provider string

	// Environment is the requesting deployment environment. Required.
	Environment string

	// Operation is the logical operation name, e.g. "download.daily_bars".
	Operation string

	// Amount is the quota units consumed. Defaults to 1.
	Amount int64

	// CacheKey identifies the requested data for degraded recovery lookups.
	CacheKey string

	// Do performs the actual call. It receives the provider identity so the
	// recovery fallback can re-invoke it against an alternate provider.
	Do recovery.Operation
}

// Config wires a Controller. Quota is required; everything else degrades
// to a pass-through when absent.
type Config struct {
	Quota    *quota.Manager
	Limiters map[string]*ratelimit.Limiter
	Breakers *resilience.Registry
	Retries  *resilience.RetryManager
	Recovery *recovery.Manager

	// Bulkhead bounds in-flight provider calls across the process.
	Bulkhead *resilience.Bulkhead

	// CallTimeout is the deadline for one attempt. Zero means no deadline
	// beyond the caller's context.
	CallTimeout time.Duration

	Metrics *observe.Metrics
	Logger  observe.Logger
	Tracer  trace.Tracer
}

// Controller runs provider requests through the admission chain.
type Controller struct {
	quota       *quota.Manager
	limiters    map[string]*ratelimit.Limiter
	breakers    *resilience.Registry
	retries     *resilience.RetryManager
	recovery    *recovery.Manager
	bulkhead    *resilience.Bulkhead
	callTimeout time.Duration

	metrics *observe.Metrics
	logger  observe.Logger
	tracer  trace.Tracer
}

// NewController creates a Controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Quota == nil {
		return nil, errors.New("admission: quota manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observe.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.NewNopMetrics()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("admission")
	}
	return &Controller{
		quota:       cfg.Quota,
		limiters:    cfg.Limiters,
		breakers:    cfg.Breakers,
		retries:     cfg.Retries,
		recovery:    cfg.Recovery,
		bulkhead:    cfg.Bulkhead,
		callTimeout: cfg.CallTimeout,
		metrics:     metrics,
		logger:      logger,
		tracer:      tracer,
	}, nil
}

// Execute admits and runs one request: quota, then rate limit (waiting if
// needed), then the call behind the provider's circuit breaker with retries
// on transient failures, then recovery once attempts are exhausted.
func (c *Controller) Execute(ctx context.Context, req Request) (any, error) {
	if req.Provider == "" || req.Environment == "" || req.Do == nil {
		return nil, errors.New("admission: provider, environment and operation are required")
	}
	if req.Amount <= 0 {
		req.Amount = 1
	}
	if req.Operation == "" {
		req.Operation = "request"
	}

	ctx, corr := correlation.Begin(ctx, req.Operation)
	corr.Set("provider", req.Provider)
	corr.Set("environment", req.Environment)

	ctx, span := observe.StartSpan(ctx, c.tracer, observe.OpMeta{
		Provider:    req.Provider,
		Environment: req.Environment,
		Operation:   req.Operation,
	})

	value, err := c.execute(ctx, req, corr)
	observe.EndSpan(span, err)
	return value, err
}

func (c *Controller) execute(ctx context.Context, req Request, corr *correlation.Context) (any, error) {
	start := time.Now()

	if err := c.quota.RequestQuota(ctx, req.Environment, req.Amount); err != nil {
		c.metrics.RecordAdmission(ctx, req.Provider, req.Environment, observe.OutcomeDeniedQuota)
		return nil, c.enrich(corr, req, nil, err)
	}

	if limiter := c.limiters[req.Provider]; limiter != nil {
		waitStart := time.Now()
		if err := limiter.Acquire(ctx); err != nil {
			c.metrics.RecordAdmission(ctx, req.Provider, req.Environment, observe.OutcomeDeniedRate)
			return nil, c.enrich(corr, req, nil, err)
		}
		if wait := time.Since(waitStart); wait > 0 {
			c.metrics.RecordWait(ctx, req.Provider, wait)
		}
	}

	value, err := c.call(ctx, req)
	if err == nil {
		c.metrics.RecordAdmission(ctx, req.Provider, req.Environment, observe.OutcomeApproved)
		c.metrics.RecordDownload(ctx, req.Provider, time.Since(start), nil)
		return value, nil
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.metrics.RecordAdmission(ctx, req.Provider, req.Environment, observe.OutcomeDeniedCircuit)
	} else {
		c.metrics.RecordAdmission(ctx, req.Provider, req.Environment, observe.OutcomeFailed)
	}
	c.metrics.RecordDownload(ctx, req.Provider, time.Since(start), err)

	if c.recovery == nil {
		return nil, c.enrich(corr, req, nil, err)
	}

	res := c.recovery.AttemptRecovery(ctx, recovery.Request{
		Provider:    req.Provider,
		Environment: req.Environment,
		Key:         req.CacheKey,
		Operation:   req.Do,
		Err:         err,
	})
	if res.Success {
		c.metrics.RecordAdmission(ctx, req.Provider, req.Environment, observe.OutcomeRecovered)
		c.logger.Info(ctx, "request recovered",
			observe.F("provider", req.Provider),
			observe.F("strategy", string(res.Strategy)),
		)
		return res.Value, nil
	}
	return nil, c.enrich(corr, req, res.Attempted, res.Err)
}

// call runs the operation behind the provider's breaker, retried per the
// provider's policy. The breaker sees every attempt, including attempt
// timeouts, so a provider failing its way through a retry loop also walks
// the breaker toward OPEN. The bulkhead slot is held for the whole retry
// loop; a retrying request keeps its slot instead of re-queueing.
func (c *Controller) call(ctx context.Context, req Request) (any, error) {
	var value any
	attempt := func(ctx context.Context) error {
		v, err := req.Do(ctx, req.Provider)
		if err != nil {
			return err
		}
		value = v
		return nil
	}

	wrapped := attempt
	if c.callTimeout > 0 {
		inner := wrapped
		wrapped = func(ctx context.Context) error {
			return resilience.WithTimeout(ctx, c.callTimeout, inner)
		}
	}
	if c.breakers != nil {
		breaker := c.breakers.Get(req.Provider)
		inner := wrapped
		wrapped = func(ctx context.Context) error {
			return breaker.Execute(ctx, inner)
		}
	}

	retried := func(ctx context.Context) error {
		if c.retries != nil {
			return c.retries.Execute(ctx, req.Provider, wrapped)
		}
		return wrapped(ctx)
	}

	var err error
	if c.bulkhead != nil {
		err = c.bulkhead.Execute(ctx, retried)
	} else {
		err = retried(ctx)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (c *Controller) enrich(corr *correlation.Context, req Request, attempted []recovery.Strategy, err error) error {
	return &Error{
		CorrelationID: corr.ID,
		Provider:      req.Provider,
		Environment:   req.Environment,
		Attempted:     attempted,
		Err:           err,
	}
}
