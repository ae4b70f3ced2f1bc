// Package ratelimit enforces the per-device request quota.
//
// Check and Update are separate calls. Check gates the request before any
// business logic runs; Update is called once, after every other gate passed.
// The pair is not atomic across store round trips, so concurrent requests from
// one device can overshoot the quota by a small margin. Callers must not rely
// on exact accounting.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"ppmt-amp-api/internal/model"

	"go.uber.org/zap"
)

// Policy constants. They are not configurable per device.
const (
	Window      = 300 * time.Second
	MaxRequests = 20
)

// ErrConditionFailed is returned by Store.Reset when the record was refreshed
// by someone else between the read and the write.
var ErrConditionFailed = errors.New("rate limit record changed concurrently")

// Store persists per-device counters.
type Store interface {
	// Get returns the device's record, or nil when none exists.
	Get(ctx context.Context, deviceID string) (*model.RateLimitRecord, error)

	// Reset writes a fresh window (count 1) for the device. It only overwrites an
	// existing record whose window started at or before staleBefore; otherwise it
	// returns ErrConditionFailed.
	Reset(ctx context.Context, deviceID string, now, staleBefore time.Time) error

	// Increment atomically adds one request and refreshes the last-request instant.
	Increment(ctx context.Context, deviceID string, now time.Time) error
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed   bool
	Remaining int
}

// Limiter applies the fixed window policy against a Store.
type Limiter struct {
	store  Store
	logger *zap.Logger
	clock  func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) { l.clock = clock }
}

// New creates a limiter over store.
func New(store Store, logger *zap.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{
		store:  store,
		logger: logger.Named("ratelimit"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check reports whether the device may make another request. It never writes.
// Store errors fail open.
func (l *Limiter) Check(ctx context.Context, deviceID string) Decision {
	rec, err := l.store.Get(ctx, deviceID)
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing request",
			zap.String("device_id", deviceID), zap.Error(err))
		return Decision{Allowed: true, Remaining: MaxRequests}
	}
	if rec == nil || rec.WindowExpired(l.clock(), Window) {
		return Decision{Allowed: true, Remaining: MaxRequests}
	}
	if rec.RequestCount >= MaxRequests {
		return Decision{Allowed: false, Remaining: 0}
	}
	return Decision{Allowed: true, Remaining: MaxRequests - rec.RequestCount}
}

// Update spends one unit of the device's quota. It is best effort: store
// errors are logged and swallowed.
func (l *Limiter) Update(ctx context.Context, deviceID string) {
	if err := l.update(ctx, deviceID); err != nil {
		l.logger.Warn("rate limit update failed",
			zap.String("device_id", deviceID), zap.Error(err))
	}
}

func (l *Limiter) update(ctx context.Context, deviceID string) error {
	now := l.clock()

	rec, err := l.store.Get(ctx, deviceID)
	if err != nil {
		return err
	}

	if rec != nil && !rec.WindowExpired(now, Window) {
		return l.store.Increment(ctx, deviceID, now)
	}

	err = l.store.Reset(ctx, deviceID, now, now.Add(-Window))
	if errors.Is(err, ErrConditionFailed) {
		// Another request opened the new window first; count against it.
		return l.store.Increment(ctx, deviceID, now)
	}
	return err
}

// ResetAt is the quota reset hint returned to clients.
func (l *Limiter) ResetAt() time.Time {
	return l.clock().Add(Window).UTC()
}
