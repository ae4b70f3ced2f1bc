package service

import (
	"context"
	"sync"
	"time"

	"ppmt-amp-api/internal/ratelimit"

	"go.uber.org/zap"
)

// StaleCounterStore is a rate-limit store that needs explicit pruning.
type StaleCounterStore interface {
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// JanitorConfig holds configuration for the counter janitor.
type JanitorConfig struct {
	// IdleThreshold is how long a device may stay silent before its record is
	// removed. Default: two rate-limit windows
	IdleThreshold time.Duration

	// Interval is how often the janitor runs.
	// Default: 10 minutes
	Interval time.Duration

	// InitialDelay postpones the first run after Start.
	InitialDelay time.Duration
}

// Janitor periodically deletes stale rate-limit records.
type Janitor struct {
	store     StaleCounterStore
	config    JanitorConfig
	logger    *zap.Logger
	clock     func() time.Time
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewJanitor creates a new janitor.
func NewJanitor(store StaleCounterStore, config JanitorConfig, logger *zap.Logger) *Janitor {
	if config.IdleThreshold < 2*ratelimit.Window {
		config.IdleThreshold = 2 * ratelimit.Window
	}
	if config.Interval <= 0 {
		config.Interval = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Janitor{
		store:  store,
		config: config,
		logger: logger.Named("janitor"),
		clock:  time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start begins the janitor loop.
func (j *Janitor) Start() {
	j.mu.Lock()
	if j.isRunning {
		j.mu.Unlock()
		return
	}
	j.isRunning = true
	j.ticker = time.NewTicker(j.config.Interval)
	j.mu.Unlock()

	j.logger.Info("janitor started",
		zap.Duration("interval", j.config.Interval),
		zap.Duration("idle_threshold", j.config.IdleThreshold))

	go func() {
		select {
		case <-time.After(j.config.InitialDelay):
			j.runOnce()
		case <-j.stopCh:
		}
	}()

	go j.run()
}

func (j *Janitor) run() {
	for {
		select {
		case <-j.ticker.C:
			j.runOnce()
		case <-j.stopCh:
			j.logger.Info("janitor stopped")
			return
		}
	}
}

func (j *Janitor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := j.RunNow(ctx)
	if err != nil {
		j.logger.Warn("stale counter cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		j.logger.Info("removed stale rate limit records", zap.Int64("deleted", deleted))
	}
}

// RunNow deletes stale records immediately.
func (j *Janitor) RunNow(ctx context.Context) (int64, error) {
	return j.store.DeleteStale(ctx, j.clock().Add(-j.config.IdleThreshold))
}

// Stop stops the janitor.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		j.mu.Lock()
		defer j.mu.Unlock()

		if j.ticker != nil {
			j.ticker.Stop()
		}
		close(j.stopCh)
		j.isRunning = false
	})
}
