package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/funnel-metrics/internal/circuitbreaker"
	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/logging"
	"github.com/funnel-metrics/internal/monitoring"
	"github.com/funnel-metrics/internal/types"
)

// FetchResult is the settled outcome of one platform fetch in a bulk refresh
type FetchResult struct {
	Platform types.Platform
	Metrics  types.Metrics
	Err      error
}

// Aggregator runs connectors, either all connected platforms at once or one
// platform on its own
type Aggregator struct {
	registry *Registry
	breakers *circuitbreaker.Manager
	monitor  monitoring.Provider
	now      func() time.Time
}

// NewAggregator creates an aggregator. A nil breaker manager disables circuit
// breaking; a nil monitor records nothing.
func NewAggregator(registry *Registry, breakers *circuitbreaker.Manager, monitor monitoring.Provider) *Aggregator {
	if monitor == nil {
		monitor = monitoring.NewProvider(false)
	}
	return &Aggregator{
		registry: registry,
		breakers: breakers,
		monitor:  monitor,
		now:      time.Now,
	}
}

// FetchAll refreshes every connected platform concurrently. Failures are
// logged and leave the platform out of the result; they never fail the call.
// The result is stamped with one last_synced_at once every fetch has settled.
func (a *Aggregator) FetchAll(ctx context.Context, creds *types.StoredCredentials) *types.StoredMetrics {
	results := a.FetchEach(ctx, creds)

	logger := logging.FromContext(ctx)
	out := &types.StoredMetrics{}
	for _, res := range results {
		if res.Err != nil {
			logger.WithField("platform", res.Platform).WithError(res.Err).Warn("Platform refresh failed, leaving it out")
			continue
		}
		out.Set(res.Metrics)
	}

	synced := a.now().UTC()
	out.LastSyncedAt = &synced
	return out
}

// FetchEach fetches every connected platform concurrently and returns one
// settled result per platform, in display order
func (a *Aggregator) FetchEach(ctx context.Context, creds *types.StoredCredentials) []FetchResult {
	if creds == nil {
		return nil
	}
	platforms := creds.Platforms()
	results := make([]FetchResult, len(platforms))

	var wg sync.WaitGroup
	for i, platform := range platforms {
		wg.Add(1)
		go func(i int, platform types.Platform) {
			defer wg.Done()
			m, err := a.fetchGuarded(ctx, platform, creds.Get(platform))
			results[i] = FetchResult{Platform: platform, Metrics: m, Err: err}
		}(i, platform)
	}
	wg.Wait()
	return results
}

// ConnectAndTest runs one platform's connector synchronously and returns its
// error as is, so whoever supplied the credential sees the vendor's reason.
// Success closes the platform's breaker.
func (a *Aggregator) ConnectAndTest(ctx context.Context, cred types.Credential) (types.Metrics, error) {
	if cred == nil {
		return nil, fmt.Errorf("credential is required")
	}
	entry, ok := a.registry.Lookup(cred.Platform())
	if !ok {
		return nil, fmt.Errorf("no connector registered for %s", cred.Platform())
	}

	m, err := a.fetch(ctx, entry, cred)
	if err != nil {
		return nil, err
	}
	if a.breakers != nil {
		a.breakers.Reset(entry.Platform)
	}
	return m, nil
}

// fetchGuarded runs a bulk fetch behind the platform's circuit breaker
func (a *Aggregator) fetchGuarded(ctx context.Context, platform types.Platform, cred types.Credential) (types.Metrics, error) {
	entry, ok := a.registry.Lookup(platform)
	if !ok {
		return nil, fmt.Errorf("no connector registered for %s", platform)
	}
	if a.breakers == nil {
		return a.fetch(ctx, entry, cred)
	}

	var m types.Metrics
	err := a.breakers.For(platform).Execute(ctx, func(ctx context.Context) error {
		var err error
		m, err = a.fetch(ctx, entry, cred)
		return err
	})
	if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) {
		a.monitor.ObserveFetch(platform, monitoring.OutcomeCircuitOpen, 0)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (a *Aggregator) fetch(ctx context.Context, entry PlatformEntry, cred types.Credential) (types.Metrics, error) {
	start := time.Now()
	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).WithField("platform", entry.Platform))

	m, err := entry.Connector.Fetch(ctx, cred)
	outcome := monitoring.OutcomeSuccess
	switch {
	case errors.IsKind(err, errors.KindAuth):
		// A rejected credential needs a reconnect, not a retry
		outcome = monitoring.OutcomeAuthError
	case err != nil:
		outcome = monitoring.OutcomeError
	}
	a.monitor.ObserveFetch(entry.Platform, outcome, time.Since(start))
	return m, err
}
