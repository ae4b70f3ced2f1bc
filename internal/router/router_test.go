package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"ppmt-amp-api/internal/cache"
	"ppmt-amp-api/internal/handler"
	"ppmt-amp-api/internal/model"
	"ppmt-amp-api/internal/query"
	"ppmt-amp-api/internal/ratelimit"
	"ppmt-amp-api/internal/service"
	"ppmt-amp-api/internal/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emptyCatalog struct{}

func (emptyCatalog) FindItems(context.Context, *query.Plan) ([]model.Item, error) { return nil, nil }

func (emptyCatalog) FindSeries(context.Context, *query.Plan) ([]model.Series, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := cache.NewMemoryRateLimitStore()
	t.Cleanup(func() { store.Close() })

	rules, err := query.DefaultRules()
	require.NoError(t, err)

	gw := service.NewGateway(
		service.GatewayConfig{Secret: []byte("router-secret"), ValidAppIDs: []string{"app"}, StoreTimeout: time.Second},
		ratelimit.New(store, nil),
		query.NewCatalog(query.NewRouter(rules), emptyCatalog{}, nil),
		nil,
	)
	return New(Config{
		Handler:        handler.New("ppmt-amp-api", "test", nil, nil),
		CatalogHandler: handler.NewCatalogHandler(gw),
	})
}

func TestRouter_Routes(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{"/health", "/ready", "/status", "/warm"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), path)
	}
}

func TestRouter_SignedPrices(t *testing.T) {
	r := newTestRouter(t)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	q := url.Values{}
	q.Set("appId", "app")
	q.Set("deviceId", "dev-1")
	q.Set("timestamp", ts)
	q.Set("signature", signature.Sign([]byte("router-secret"), "app", "dev-1", ts, "GET:/prices"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prices?"+q.Encode(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []interface{}{}, body["data"])
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/prices", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_CORS(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
