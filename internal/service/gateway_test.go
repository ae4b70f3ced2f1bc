package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"ppmt-amp-api/internal/cache"
	"ppmt-amp-api/internal/model"
	"ppmt-amp-api/internal/query"
	"ppmt-amp-api/internal/ratelimit"
	"ppmt-amp-api/internal/signature"
	"ppmt-amp-api/pkg/apierror"
	"ppmt-amp-api/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("your-secret-key-change-this-in-production")

const testApp = "ppmt-amp-ios-v1"

type fakeCatalog struct {
	items  []model.Item
	series []model.Series
	plans  []*query.Plan
	err    error
}

func (f *fakeCatalog) FindItems(_ context.Context, plan *query.Plan) ([]model.Item, error) {
	f.plans = append(f.plans, plan)
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Item
	for _, it := range f.items {
		if plan.Access == query.AccessGet && (it.SeriesID != plan.Keys[0].Value || it.ProductID != plan.Keys[1].Value) {
			continue
		}
		if len(out) == int(plan.Limit) {
			break
		}
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeCatalog) FindSeries(_ context.Context, plan *query.Plan) ([]model.Series, error) {
	f.plans = append(f.plans, plan)
	return f.series, f.err
}

// countingStore records every storage access.
type countingStore struct {
	ratelimit.Store
	calls  atomic.Int32
	getErr error
}

func (c *countingStore) Get(ctx context.Context, deviceID string) (*model.RateLimitRecord, error) {
	c.calls.Add(1)
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.Store.Get(ctx, deviceID)
}

func (c *countingStore) Reset(ctx context.Context, deviceID string, now, staleBefore time.Time) error {
	c.calls.Add(1)
	return c.Store.Reset(ctx, deviceID, now, staleBefore)
}

func (c *countingStore) Increment(ctx context.Context, deviceID string, now time.Time) error {
	c.calls.Add(1)
	return c.Store.Increment(ctx, deviceID, now)
}

type harness struct {
	gw      *Gateway
	store   *countingStore
	catalog *fakeCatalog
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mem := cache.NewMemoryRateLimitStore()
	t.Cleanup(func() { mem.Close() })

	h := &harness{
		store:   &countingStore{Store: mem},
		catalog: &fakeCatalog{},
		now:     time.Now().Truncate(time.Second),
	}
	clock := func() time.Time { return h.now }

	rules, err := query.DefaultRules()
	require.NoError(t, err)

	h.gw = NewGateway(
		GatewayConfig{Secret: testSecret, ValidAppIDs: []string{testApp}, StoreTimeout: time.Second},
		ratelimit.New(h.store, nil, ratelimit.WithClock(clock)),
		query.NewCatalog(query.NewRouter(rules), h.catalog, nil),
		nil,
		WithClock(clock),
	)
	return h
}

// signed builds a valid request for path at the harness clock.
func (h *harness) signed(path, deviceID string, filters map[string]string) Request {
	ts := strconv.FormatInt(h.now.Unix(), 10)
	params := map[string]string{
		"appId":     testApp,
		"deviceId":  deviceID,
		"timestamp": ts,
		"signature": signature.Sign(testSecret, testApp, deviceID, ts, signature.Payload(http.MethodGet, path)),
	}
	for k, v := range filters {
		params[k] = v
	}
	return Request{Method: http.MethodGet, Path: path, Params: params}
}

func bodyJSON(t *testing.T, res Result) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(res.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestGateway_UnknownApp(t *testing.T) {
	h := newHarness(t)
	req := h.signed("/prices", "dev-1", nil)
	req.Params["appId"] = "some-other-app"

	res := h.gw.Handle(context.Background(), req)

	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, map[string]interface{}{"success": false, "message": "Invalid app identifier"}, bodyJSON(t, res))
	assert.Zero(t, h.store.calls.Load())
}

func TestGateway_MissingApp(t *testing.T) {
	h := newHarness(t)
	req := h.signed("/prices", "dev-1", nil)
	delete(req.Params, "appId")

	res := h.gw.Handle(context.Background(), req)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, MsgInvalidApp, bodyJSON(t, res)["message"])
}

func TestGateway_MalformedTimestamp(t *testing.T) {
	h := newHarness(t)
	for _, ts := range []string{"", "soon", "1700000000.5"} {
		req := h.signed("/prices", "dev-1", nil)
		req.Params["timestamp"] = ts

		res := h.gw.Handle(context.Background(), req)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, ts)
		assert.Equal(t, MsgInvalidTimestamp, bodyJSON(t, res)["message"], ts)
	}
	assert.Zero(t, h.store.calls.Load())
}

func TestGateway_ReplayWindow(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		status int
	}{
		{"600s in the past", -600 * time.Second, http.StatusForbidden},
		{"301s in the past", -301 * time.Second, http.StatusForbidden},
		{"301s in the future", 301 * time.Second, http.StatusForbidden},
		{"300s in the past", -300 * time.Second, http.StatusOK},
		{"300s in the future", 300 * time.Second, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			serverNow := h.now
			h.now = serverNow.Add(tt.offset)
			req := h.signed("/prices", "dev-1", nil) // validly signed at the skewed time
			h.now = serverNow

			res := h.gw.Handle(context.Background(), req)
			assert.Equal(t, tt.status, res.StatusCode)
			if tt.status == http.StatusForbidden {
				assert.Equal(t, MsgExpired, bodyJSON(t, res)["message"])
				assert.Zero(t, h.store.calls.Load())
			}
		})
	}
}

func TestGateway_ReplayWindowExtremeTimestamps(t *testing.T) {
	h := newHarness(t)
	now := h.now.Unix()

	for _, ts := range []int64{
		now + math.MinInt64,
		math.MinInt64,
		math.MaxInt64,
		now - math.MaxInt64,
	} {
		raw := strconv.FormatInt(ts, 10)
		req := h.signed("/prices", "dev-1", nil)
		req.Params["timestamp"] = raw
		req.Params["signature"] = signature.Sign(testSecret, testApp, "dev-1", raw, signature.Payload(http.MethodGet, "/prices"))

		res := h.gw.Handle(context.Background(), req)
		assert.Equal(t, http.StatusForbidden, res.StatusCode, raw)
		assert.Equal(t, MsgExpired, bodyJSON(t, res)["message"], raw)
	}
	assert.Zero(t, h.store.calls.Load())
}

func TestGateway_BadSignature(t *testing.T) {
	h := newHarness(t)

	tampered := h.signed("/prices", "dev-1", nil)
	tampered.Params["deviceId"] = "dev-2"

	wrongPath := h.signed("/series", "dev-1", nil)
	wrongPath.Path = "/prices"

	wrongMethod := h.signed("/prices", "dev-1", nil)
	wrongMethod.Method = http.MethodPost

	missingDevice := h.signed("/prices", "", nil)

	for name, req := range map[string]Request{
		"tampered device": tampered,
		"wrong path":      wrongPath,
		"wrong method":    wrongMethod,
		"missing device":  missingDevice,
	} {
		res := h.gw.Handle(context.Background(), req)
		assert.Equal(t, http.StatusForbidden, res.StatusCode, name)
		assert.Equal(t, MsgInvalidSignature, bodyJSON(t, res)["message"], name)
	}
	assert.Zero(t, h.store.calls.Load())
}

func TestGateway_QueryParamsNotSigned(t *testing.T) {
	h := newHarness(t)
	req := h.signed("/prices", "dev-1", map[string]string{"category": "Figure"})
	req.Params["category"] = "Plush"

	res := h.gw.Handle(context.Background(), req)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestGateway_RateLimitSequence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < ratelimit.MaxRequests; i++ {
		res := h.gw.Handle(ctx, h.signed("/prices", "dev-1", nil))
		require.Equal(t, http.StatusOK, res.StatusCode, "request %d", i+1)

		env, ok := res.Body.(response.Envelope)
		require.True(t, ok)
		assert.Equal(t, ratelimit.MaxRequests-1-i, *env.RateLimitRemaining)
		assert.Equal(t, h.now.Add(ratelimit.Window).UTC(), *env.RateLimitReset)
		h.now = h.now.Add(5 * time.Second)
	}

	res := h.gw.Handle(ctx, h.signed("/prices", "dev-1", nil))
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	body := bodyJSON(t, res)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, MsgRateLimited, body["message"])
	assert.Equal(t, float64(0), body["rateLimitRemaining"])
	assert.NotEmpty(t, body["rateLimitReset"])

	// Other devices are unaffected.
	res = h.gw.Handle(ctx, h.signed("/prices", "dev-2", nil))
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// The window rolls over.
	h.now = h.now.Add(ratelimit.Window)
	res = h.gw.Handle(ctx, h.signed("/prices", "dev-1", nil))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, ratelimit.MaxRequests-1, *res.Body.(response.Envelope).RateLimitRemaining)
}

func TestGateway_RejectedRequestsSpendNoQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := h.signed("/prices", "dev-1", nil)
	bad.Params["signature"] = "AAAA"
	for i := 0; i < 30; i++ {
		h.gw.Handle(ctx, bad)
	}

	res := h.gw.Handle(ctx, h.signed("/prices", "dev-1", nil))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, ratelimit.MaxRequests-1, *res.Body.(response.Envelope).RateLimitRemaining)
}

func TestGateway_ExactKeyLookup(t *testing.T) {
	h := newHarness(t)
	h.catalog.items = []model.Item{
		{SeriesID: "SERIES-X", ProductID: "PROD-1"},
		{SeriesID: "SERIES-X", ProductID: "PROD-2"},
		{SeriesID: "SERIES-Y", ProductID: "PROD-1"},
	}

	res := h.gw.Handle(context.Background(), h.signed("/prices", "dev-1", map[string]string{
		"seriesId":  "SERIES-X",
		"productId": "PROD-1",
		"category":  "Figure",
	}))
	require.Equal(t, http.StatusOK, res.StatusCode)

	items := res.Body.(response.Envelope).Data.([]model.Item)
	require.LessOrEqual(t, len(items), 1)
	require.Len(t, items, 1)
	assert.Equal(t, "SERIES-X", items[0].SeriesID)
	assert.Equal(t, "PROD-1", items[0].ProductID)

	require.Len(t, h.catalog.plans, 1)
	assert.Equal(t, query.AccessGet, h.catalog.plans[0].Access)
}

func TestGateway_QueryFailureReturnsEmptyData(t *testing.T) {
	h := newHarness(t)
	h.catalog.err = errors.New("dynamodb unavailable")

	res := h.gw.Handle(context.Background(), h.signed("/prices", "dev-1", nil))
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := bodyJSON(t, res)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, MsgSuccess, body["message"])
	assert.Equal(t, []interface{}{}, body["data"])
	assert.Equal(t, float64(19), body["rateLimitRemaining"])
}

func TestGateway_SeriesPath(t *testing.T) {
	h := newHarness(t)
	h.catalog.series = []model.Series{{SeriesID: "SERIES-1"}}

	res := h.gw.Handle(context.Background(), h.signed("/series", "dev-1", map[string]string{"ipCharacter": "Labubu"}))
	require.Equal(t, http.StatusOK, res.StatusCode)

	series := res.Body.(response.Envelope).Data.([]model.Series)
	assert.Len(t, series, 1)
	require.Len(t, h.catalog.plans, 1)
	assert.Equal(t, query.EntitySeries, h.catalog.plans[0].Entity)
}

func TestGateway_RateLimitStoreFailsOpen(t *testing.T) {
	h := newHarness(t)
	h.store.getErr = errors.New("throttled")

	for i := 0; i < ratelimit.MaxRequests+5; i++ {
		res := h.gw.Handle(context.Background(), h.signed("/prices", "dev-1", nil))
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, ratelimit.MaxRequests-1, *res.Body.(response.Envelope).RateLimitRemaining)
	}
}

func TestGateway_Warm(t *testing.T) {
	h := newHarness(t)
	res := h.gw.Warm()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, response.Warm{Status: "warm", Message: "Container ready"}, res.Body)
	assert.Zero(t, h.store.calls.Load())
}

func TestGateway_RejectionBodyIsAPIError(t *testing.T) {
	h := newHarness(t)
	req := h.signed("/prices", "dev-1", nil)
	req.Params["appId"] = ""

	res := h.gw.Handle(context.Background(), req)
	apiErr, ok := res.Body.(*apierror.Error)
	require.True(t, ok)
	assert.Equal(t, "INVALID_APP", apiErr.Code)
}
