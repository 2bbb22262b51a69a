package service

import (
	"context"
	"time"

	"github.com/funnel-metrics/internal/errors"
	"github.com/funnel-metrics/internal/logging"
	"github.com/funnel-metrics/internal/types"
)

// CredentialStore persists the platform-credentials document
type CredentialStore interface {
	Load(ctx context.Context) (*types.StoredCredentials, error)
	Save(ctx context.Context, creds *types.StoredCredentials) error
}

// MetricsStore persists the platform-metrics document
type MetricsStore interface {
	Load(ctx context.Context) (*types.StoredMetrics, error)
	Save(ctx context.Context, metrics *types.StoredMetrics) error
}

// DashboardService implements the platform connection operations used by the
// dashboard and the report generator.
//
// Every write reads the whole document, changes one platform slot and writes
// the document back. Two concurrent writers can lose one of the updates; the
// stores are last-writer-wins and no lock is taken.
type DashboardService struct {
	registry    *Registry
	aggregator  *Aggregator
	credentials CredentialStore
	metrics     MetricsStore
	now         func() time.Time
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(
	registry *Registry,
	aggregator *Aggregator,
	credentials CredentialStore,
	metrics MetricsStore,
) *DashboardService {
	return &DashboardService{
		registry:    registry,
		aggregator:  aggregator,
		credentials: credentials,
		metrics:     metrics,
		now:         time.Now,
	}
}

// ListStatuses returns the status of every platform
func (s *DashboardService) ListStatuses(ctx context.Context) (types.AllPlatformStatuses, error) {
	creds, err := s.credentials.Load(ctx)
	if err != nil {
		return nil, errors.NewStorageError("load credentials", err)
	}
	metrics, err := s.metrics.Load(ctx)
	if err != nil {
		return nil, errors.NewStorageError("load metrics", err)
	}
	return s.registry.BuildStatuses(creds, metrics), nil
}

// Connect tests the credential with a live fetch and stores it together with
// the fetched metrics. A failed test writes nothing.
func (s *DashboardService) Connect(ctx context.Context, platform types.Platform, cred types.Credential) (types.AllPlatformStatuses, error) {
	if _, ok := s.registry.Lookup(platform); !ok {
		return nil, errors.NewInvalidParameterError("platform", "unknown platform")
	}
	if cred == nil || cred.Platform() != platform {
		return nil, errors.NewInvalidParameterError("credential", "credential does not belong to "+string(platform))
	}
	if err := types.ValidateCredential(cred); err != nil {
		return nil, errors.NewInvalidParameterError("credential", err.Error())
	}

	logger := logging.FromContext(ctx).WithField("platform", platform)
	m, err := s.aggregator.ConnectAndTest(ctx, cred)
	if err != nil {
		logger.WithError(err).Warn("Connection test failed")
		return nil, errors.NewPlatformOperationError(platform, "connect", err)
	}

	creds, err := s.credentials.Load(ctx)
	if err != nil {
		return nil, errors.NewStorageError("load credentials", err)
	}
	creds.Set(cred)
	if err := s.credentials.Save(ctx, creds); err != nil {
		return nil, errors.NewStorageError("save credentials", err)
	}

	if err := s.mergeMetrics(ctx, m); err != nil {
		return nil, err
	}
	logger.Info("Platform connected")
	return s.ListStatuses(ctx)
}

// Sync refreshes one connected platform. On failure the previously cached
// metrics stay in place.
func (s *DashboardService) Sync(ctx context.Context, platform types.Platform) (types.AllPlatformStatuses, error) {
	if _, ok := s.registry.Lookup(platform); !ok {
		return nil, errors.NewInvalidParameterError("platform", "unknown platform")
	}
	creds, err := s.credentials.Load(ctx)
	if err != nil {
		return nil, errors.NewStorageError("load credentials", err)
	}
	cred := creds.Get(platform)
	if cred == nil {
		return nil, errors.NewNotConnectedError(platform)
	}

	m, err := s.aggregator.ConnectAndTest(ctx, cred)
	if err != nil {
		logging.FromContext(ctx).WithField("platform", platform).WithError(err).Warn("Platform sync failed, keeping cached metrics")
		return nil, errors.NewPlatformOperationError(platform, "sync", err)
	}
	if err := s.mergeMetrics(ctx, m); err != nil {
		return nil, err
	}
	return s.ListStatuses(ctx)
}

// SyncAll refreshes every connected platform. Platforms that fail keep their
// previously cached metrics; no per-platform error is returned.
func (s *DashboardService) SyncAll(ctx context.Context) (types.AllPlatformStatuses, error) {
	creds, err := s.credentials.Load(ctx)
	if err != nil {
		return nil, errors.NewStorageError("load credentials", err)
	}

	fresh := s.aggregator.FetchAll(ctx, creds)

	cached, err := s.metrics.Load(ctx)
	if err != nil {
		return nil, errors.NewStorageError("load metrics", err)
	}
	for _, p := range fresh.Platforms() {
		cached.Set(fresh.Get(p))
	}
	cached.LastSyncedAt = fresh.LastSyncedAt
	if err := s.metrics.Save(ctx, cached); err != nil {
		return nil, errors.NewStorageError("save metrics", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"connected": len(creds.Platforms()),
		"refreshed": len(fresh.Platforms()),
	}).Info("Bulk sync finished")
	return s.registry.BuildStatuses(creds, cached), nil
}

// Disconnect removes the platform from both documents
func (s *DashboardService) Disconnect(ctx context.Context, platform types.Platform) (types.AllPlatformStatuses, error) {
	if _, ok := s.registry.Lookup(platform); !ok {
		return nil, errors.NewInvalidParameterError("platform", "unknown platform")
	}

	creds, err := s.credentials.Load(ctx)
	if err != nil {
		return nil, errors.NewStorageError("load credentials", err)
	}
	creds.Delete(platform)
	if err := s.credentials.Save(ctx, creds); err != nil {
		return nil, errors.NewStorageError("save credentials", err)
	}

	metrics, err := s.metrics.Load(ctx)
	if err != nil {
		return nil, errors.NewStorageError("load metrics", err)
	}
	metrics.Delete(platform)
	if err := s.metrics.Save(ctx, metrics); err != nil {
		return nil, errors.NewStorageError("save metrics", err)
	}

	logging.FromContext(ctx).WithField("platform", platform).Info("Platform disconnected")
	return s.registry.BuildStatuses(creds, metrics), nil
}

// GetPromptContext renders the cached metrics for a prompt. It returns ""
// when no platform has cached metrics.
func (s *DashboardService) GetPromptContext(ctx context.Context) (string, error) {
	metrics, err := s.metrics.Load(ctx)
	if err != nil {
		return "", errors.NewStorageError("load metrics", err)
	}
	return s.registry.Summarize(metrics), nil
}

func (s *DashboardService) mergeMetrics(ctx context.Context, m types.Metrics) error {
	metrics, err := s.metrics.Load(ctx)
	if err != nil {
		return errors.NewStorageError("load metrics", err)
	}
	metrics.Set(m)
	synced := s.now().UTC()
	metrics.LastSyncedAt = &synced
	if err := s.metrics.Save(ctx, metrics); err != nil {
		return errors.NewStorageError("save metrics", err)
	}
	return nil
}
