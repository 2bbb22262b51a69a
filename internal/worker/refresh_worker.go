// Package worker runs the periodic bulk refresh of connected platforms.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/funnel-metrics/internal/logging"
	"github.com/funnel-metrics/internal/types"
)

// BulkSyncer refreshes every connected platform
type BulkSyncer interface {
	SyncAll(ctx context.Context) (types.AllPlatformStatuses, error)
}

// RefreshWorker calls SyncAll on a fixed interval so cached metrics stay
// fresh without anyone pressing sync
type RefreshWorker struct {
	syncer      BulkSyncer
	interval    time.Duration
	runOnStart  bool
	running     bool
	mu          sync.RWMutex
	stopCh      chan struct{}
	doneCh      chan struct{}
	lastRunTime time.Time
	lastErr     error
	runs        int
	connected   int
}

// RefreshWorkerConfig holds configuration for a refresh worker
type RefreshWorkerConfig struct {
	Syncer     BulkSyncer
	Interval   time.Duration
	RunOnStart bool // refresh once immediately instead of waiting a full interval
}

// RefreshWorkerStatus is a snapshot of the worker's progress
type RefreshWorkerStatus struct {
	Running            bool      `json:"running"`
	LastRunTime        time.Time `json:"lastRunTime"`
	LastError          string    `json:"lastError,omitempty"`
	Runs               int       `json:"runs"`
	ConnectedPlatforms int       `json:"connectedPlatforms"`
	IntervalSeconds    int       `json:"intervalSeconds"`
}

// NewRefreshWorker creates a new refresh worker
func NewRefreshWorker(cfg *RefreshWorkerConfig) (*RefreshWorker, error) {
	if cfg.Syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %v", cfg.Interval)
	}

	return &RefreshWorker{
		syncer:     cfg.Syncer,
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins the refresh loop
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("refresh worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	logging.FromContext(ctx).WithField("interval", w.interval.String()).Info("Starting refresh worker")

	go w.loop(ctx)

	return nil
}

// Stop gracefully stops the refresh worker. A refresh in flight is allowed to
// finish unless ctx expires first.
func (w *RefreshWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("refresh worker is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
		logging.FromContext(ctx).Info("Refresh worker stopped gracefully")
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	return nil
}

func (w *RefreshWorker) loop(ctx context.Context) {
	defer close(w.doneCh)

	if w.runOnStart {
		w.RunOnce(ctx)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one bulk refresh and records its outcome. Per-platform
// failures are absorbed by SyncAll; only store failures surface here.
func (w *RefreshWorker) RunOnce(ctx context.Context) error {
	start := time.Now()
	statuses, err := w.syncer.SyncAll(ctx)

	connected := 0
	for _, s := range statuses {
		if s.Connected {
			connected++
		}
	}

	w.mu.Lock()
	w.lastRunTime = start
	w.lastErr = err
	w.runs++
	if err == nil {
		w.connected = connected
	}
	w.mu.Unlock()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"connected":   connected,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		logger.WithError(err).Error("Scheduled refresh failed")
		return err
	}
	logger.Info("Scheduled refresh finished")
	return nil
}

// GetStatus returns current worker status
func (w *RefreshWorker) GetStatus() *RefreshWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := &RefreshWorkerStatus{
		Running:            w.running,
		LastRunTime:        w.lastRunTime,
		Runs:               w.runs,
		ConnectedPlatforms: w.connected,
		IntervalSeconds:    int(w.interval.Seconds()),
	}
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	return status
}
