package cache

import (
	"context"
	"sync"
	"time"

	"ppmt-amp-api/internal/model"
	"ppmt-amp-api/internal/ratelimit"
)

// idleTTL is how long a device record survives without requests. Past two
// windows a record is indistinguishable from no record.
const idleTTL = 2 * ratelimit.Window

// MemoryRateLimitStore is an in-memory implementation of ratelimit.Store.
// Use this for development/testing or single-instance deployments.
type MemoryRateLimitStore struct {
	mu      sync.RWMutex
	entries map[string]*model.RateLimitRecord

	clock           func() time.Time
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewMemoryRateLimitStore creates a new in-memory store with automatic cleanup.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	s := &MemoryRateLimitStore{
		entries:         make(map[string]*model.RateLimitRecord),
		clock:           time.Now,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go s.cleanup()

	return s
}

// Get returns a copy of the device's record, or nil.
func (s *MemoryRateLimitStore) Get(ctx context.Context, deviceID string) (*model.RateLimitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.entries[deviceID]
	if !exists {
		return nil, nil
	}

	out := *rec
	return &out, nil
}

// Reset opens a new window unless an active one was opened concurrently.
func (s *MemoryRateLimitStore) Reset(ctx context.Context, deviceID string, now, staleBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, exists := s.entries[deviceID]; exists && rec.WindowStart.After(staleBefore) {
		return ratelimit.ErrConditionFailed
	}

	s.entries[deviceID] = &model.RateLimitRecord{
		DeviceID:     deviceID,
		RequestCount: 1,
		WindowStart:  now,
		LastRequest:  now,
	}
	return nil
}

// Increment adds one request to the device's record.
func (s *MemoryRateLimitStore) Increment(ctx context.Context, deviceID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.entries[deviceID]
	if !exists {
		rec = &model.RateLimitRecord{DeviceID: deviceID, WindowStart: now}
		s.entries[deviceID] = rec
	}
	rec.RequestCount++
	rec.LastRequest = now
	return nil
}

// Len returns the number of tracked devices.
func (s *MemoryRateLimitStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the background cleanup goroutine.
func (s *MemoryRateLimitStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

// cleanup periodically removes idle records.
func (s *MemoryRateLimitStore) cleanup() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeIdle()
		case <-s.stopCleanup:
			return
		}
	}
}

// removeIdle removes records with no request in idleTTL.
func (s *MemoryRateLimitStore) removeIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().Add(-idleTTL)
	for key, rec := range s.entries {
		if rec.LastRequest.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

var _ ratelimit.Store = (*MemoryRateLimitStore)(nil)
