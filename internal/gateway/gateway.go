// Package gateway implements the rate-limited request gateway. Every
// outbound explorer and AI call is persisted as an APIRequest, claimed by the
// driver loop under per-provider rolling rate limits, dispatched with a
// bounded transport retry, and retried at the queue level with exponential
// backoff before the waiting caller is woken.
package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/txMaestro/web3safetykit/internal/config"
	pkgerrors "github.com/txMaestro/web3safetykit/internal/errors"
	"github.com/txMaestro/web3safetykit/internal/logging"
	"github.com/txMaestro/web3safetykit/internal/types"
)

// RequestStore is the persistence surface the gateway needs. Implemented by
// storage.APIRequestRepository; faked in tests.
type RequestStore interface {
	Create(ctx context.Context, provider types.Provider, requestData map[string]any) (string, error)
	ClaimNext(ctx context.Context, provider types.Provider, processingID string) (*types.APIRequest, error)
	CompletedSince(ctx context.Context, provider types.Provider, window time.Duration) (int, error)
	Requeue(ctx context.Context, id string, retryAt time.Time, errText string) error
	Finalize(ctx context.Context, id string, status types.RequestStatus, result, errText *string) error
	ReapStale(ctx context.Context, lease time.Duration, maxAttempts int) (int, error)
}

// Provider dispatches a claimed request to its upstream endpoint. The
// returned error must be classified via the errors package so the driver can
// tell retryable failures from terminal ones.
type Provider interface {
	Name() types.Provider
	Do(ctx context.Context, requestData map[string]any) (string, error)
}

// Gateway owns the outbound API budget for the whole process
type Gateway struct {
	store        RequestStore
	providers    []Provider
	limits       map[types.Provider]config.RateWindows
	maxAttempts  int
	timeout      time.Duration
	tickInterval time.Duration
	reaperLease  time.Duration

	processingID string
	waiters      *waiterRegistry
	metrics      *Metrics
	log          *logrus.Entry

	// ticking guards against overlapping driver iterations
	ticking atomic.Bool
}

// New creates a gateway. Providers are polled in the order given; each gets
// at most one dispatch per tick.
func New(store RequestStore, providers []Provider, cfg *config.GatewayConfig, metrics *Metrics) *Gateway {
	return &Gateway{
		store:        store,
		providers:    providers,
		limits:       cfg.Limits,
		maxAttempts:  cfg.MaxAttempts,
		timeout:      cfg.RequestTimeout,
		tickInterval: cfg.TickInterval,
		reaperLease:  cfg.ReaperLease,
		processingID: uuid.NewString(),
		waiters:      newWaiterRegistry(),
		metrics:      metrics,
		log:          logging.Component("gateway"),
	}
}

// Submit persists a request for the provider and blocks until the driver
// completes it, the configured timeout fires, or the context is cancelled.
// On timeout the persisted record is left to complete on its own and is
// eventually reaped.
func (g *Gateway) Submit(ctx context.Context, provider types.Provider, requestData map[string]any) (string, error) {
	id, err := g.store.Create(ctx, provider, requestData)
	if err != nil {
		return "", fmt.Errorf("failed to persist request: %w", err)
	}

	ch := g.waiters.register(id)

	select {
	case res := <-ch:
		return res.value, res.err
	case <-time.After(g.timeout):
		g.waiters.remove(id)
		g.metrics.Timeouts.WithLabelValues(string(provider)).Inc()
		return "", pkgerrors.Timeout(fmt.Sprintf("request %s timed out after %s", id, g.timeout))
	case <-ctx.Done():
		g.waiters.remove(id)
		return "", ctx.Err()
	}
}

// Run drives the gateway until the context is cancelled: the claim/dispatch
// tick plus a slower reaper for stale processing claims left by crashed
// instances.
func (g *Gateway) Run(ctx context.Context) {
	g.log.WithField("processingId", g.processingID).Info("gateway driver starting")

	ticker := time.NewTicker(g.tickInterval)
	defer ticker.Stop()
	reaper := time.NewTicker(time.Minute)
	defer reaper.Stop()

	for {
		select {
		case <-ctx.Done():
			g.log.Info("gateway driver stopping")
			return
		case <-reaper.C:
			if n, err := g.store.ReapStale(ctx, g.reaperLease, g.maxAttempts); err != nil {
				g.log.WithError(err).Warn("reaper pass failed")
			} else if n > 0 {
				g.log.WithField("reaped", n).Warn("recovered stale processing requests")
			}
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

// tick runs one driver iteration. The atomic guard makes ticks that overlap
// a slow iteration no-ops instead of double-dispatchers.
func (g *Gateway) tick(ctx context.Context) {
	if !g.ticking.CompareAndSwap(false, true) {
		return
	}
	defer g.ticking.Store(false)

	for _, provider := range g.providers {
		g.dispatchOne(ctx, provider)
	}
}

// dispatchOne claims and processes at most one request for a provider
func (g *Gateway) dispatchOne(ctx context.Context, provider Provider) {
	name := provider.Name()

	if !g.withinLimits(ctx, name) {
		return
	}

	req, err := g.store.ClaimNext(ctx, name, g.processingID)
	if err != nil {
		g.log.WithError(err).WithField("provider", name).Error("claim failed")
		return
	}
	if req == nil {
		return
	}

	g.metrics.Dispatched.WithLabelValues(string(name)).Inc()

	result, callErr := provider.Do(ctx, req.RequestData)
	if callErr == nil {
		g.finalize(ctx, req, types.RequestCompleted, &result, nil)
		return
	}

	errText := callErr.Error()
	if pkgerrors.IsRetryable(callErr) && req.Attempts < g.maxAttempts {
		retryAt := time.Now().Add(backoff(req.Attempts))
		if err := g.store.Requeue(ctx, req.ID, retryAt, errText); err != nil {
			g.log.WithError(err).WithField("requestId", req.ID).Error("requeue failed")
		}
		g.metrics.Retried.WithLabelValues(string(name)).Inc()
		g.log.WithFields(logrus.Fields{
			"provider":  name,
			"requestId": req.ID,
			"attempt":   req.Attempts,
			"retryAt":   retryAt,
		}).Warn("request failed, scheduled for retry")
		return
	}

	g.finalize(ctx, req, types.RequestFailed, nil, &errText)
}

// finalize terminates the record and wakes exactly the caller that
// submitted it.
func (g *Gateway) finalize(ctx context.Context, req *types.APIRequest, status types.RequestStatus, result, errText *string) {
	if err := g.store.Finalize(ctx, req.ID, status, result, errText); err != nil {
		g.log.WithError(err).WithField("requestId", req.ID).Error("finalize failed")
		return
	}

	if status == types.RequestCompleted {
		g.metrics.Completed.WithLabelValues(string(req.Provider)).Inc()
		g.waiters.signal(req.ID, waiterResult{value: deref(result)})
	} else {
		g.metrics.Failed.WithLabelValues(string(req.Provider)).Inc()
		g.waiters.signal(req.ID, waiterResult{err: pkgerrors.Permanent(deref(errText), nil)})
	}
}

// withinLimits checks the three rolling windows, largest first. Any
// saturated window skips the provider for this tick.
func (g *Gateway) withinLimits(ctx context.Context, provider types.Provider) bool {
	limits, ok := g.limits[provider]
	if !ok {
		return true
	}

	windows := []struct {
		span  time.Duration
		limit int
	}{
		{24 * time.Hour, limits.PerDay},
		{time.Minute, limits.PerMinute},
		{time.Second, limits.PerSecond},
	}

	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		count, err := g.store.CompletedSince(ctx, provider, w.span)
		if err != nil {
			g.log.WithError(err).WithField("provider", provider).Error("window count failed")
			return false
		}
		if count >= w.limit {
			g.metrics.Throttled.WithLabelValues(string(provider)).Inc()
			return false
		}
	}
	return true
}

// backoff returns the queue-level retry delay for the given attempt count
func backoff(attempts int) time.Duration {
	return time.Duration(1<<uint(attempts)) * time.Second
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
