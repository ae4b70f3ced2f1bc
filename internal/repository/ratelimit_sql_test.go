package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ppmt-amp-api/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLRateLimitStore {
	t.Helper()
	store, err := NewSQLiteRateLimitStore(filepath.Join(t.TempDir(), "ratelimit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLRateLimitStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	start := time.Unix(1_700_000_000, 0).UTC()

	rec, err := store.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.Reset(ctx, "dev-1", start, start.Add(-ratelimit.Window)))
	require.NoError(t, store.Increment(ctx, "dev-1", start.Add(time.Second)))
	require.NoError(t, store.Increment(ctx, "dev-1", start.Add(2*time.Second)))

	rec, err = store.Get(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.RequestCount)
	assert.Equal(t, start, rec.WindowStart)
	assert.Equal(t, start.Add(2*time.Second), rec.LastRequest)
}

func TestSQLRateLimitStore_ResetConditional(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	start := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, store.Reset(ctx, "dev-1", start, start.Add(-ratelimit.Window)))

	// Window still active: refused.
	later := start.Add(time.Minute)
	err := store.Reset(ctx, "dev-1", later, later.Add(-ratelimit.Window))
	assert.ErrorIs(t, err, ErrConditionFailed)

	// Window stale: overwritten.
	later = start.Add(ratelimit.Window + time.Second)
	require.NoError(t, store.Reset(ctx, "dev-1", later, later.Add(-ratelimit.Window)))

	rec, err := store.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RequestCount)
	assert.Equal(t, later, rec.WindowStart)
}

func TestSQLRateLimitStore_IncrementWithoutRecord(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, store.Increment(ctx, "dev-1", now))

	rec, err := store.Get(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.RequestCount)
	assert.Equal(t, now, rec.WindowStart)
}

func TestSQLRateLimitStore_DeleteStale(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	old := time.Unix(1_700_000_000, 0).UTC()
	fresh := old.Add(time.Hour)

	require.NoError(t, store.Reset(ctx, "old", old, old))
	require.NoError(t, store.Reset(ctx, "fresh", fresh, fresh))

	deleted, err := store.DeleteStale(ctx, old.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	rec, err := store.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestSQLRateLimitStore_WithLimiter(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	now := time.Unix(1_700_000_000, 0)
	limiter := ratelimit.New(store, nil, ratelimit.WithClock(func() time.Time { return now }))

	for i := 0; i < ratelimit.MaxRequests; i++ {
		require.True(t, limiter.Check(ctx, "dev-1").Allowed)
		limiter.Update(ctx, "dev-1")
	}
	dec := limiter.Check(ctx, "dev-1")
	assert.False(t, dec.Allowed)
	assert.Equal(t, 0, dec.Remaining)

	now = now.Add(ratelimit.Window + time.Second)
	dec = limiter.Check(ctx, "dev-1")
	assert.True(t, dec.Allowed)
	assert.Equal(t, ratelimit.MaxRequests, dec.Remaining)
}

func TestSQLRateLimitStore_Ping(t *testing.T) {
	assert.NoError(t, newSQLiteStore(t).Ping(context.Background()))
}

func TestSQLRateLimitStore_Rebind(t *testing.T) {
	pg := &SQLRateLimitStore{dialect: DialectPostgres}
	assert.Equal(t,
		"UPDATE rate_limits SET last_request = $1 WHERE device_id = $2",
		pg.rebind("UPDATE rate_limits SET last_request = ? WHERE device_id = ?"))

	lite := &SQLRateLimitStore{dialect: DialectSQLite}
	assert.Equal(t, "DELETE FROM rate_limits WHERE last_request < ?", lite.rebind("DELETE FROM rate_limits WHERE last_request < ?"))
}
