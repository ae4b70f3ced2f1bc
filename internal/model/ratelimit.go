package model

import "time"

// RateLimitRecord is the per-device request counter for the current window.
type RateLimitRecord struct {
	DeviceID     string
	RequestCount int
	WindowStart  time.Time
	LastRequest  time.Time
}

// WindowExpired reports whether more than window has passed since the window opened.
func (r *RateLimitRecord) WindowExpired(now time.Time, window time.Duration) bool {
	return now.Sub(r.WindowStart) > window
}
