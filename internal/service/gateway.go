package service

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ppmt-amp-api/internal/model"
	"ppmt-amp-api/internal/query"
	"ppmt-amp-api/internal/ratelimit"
	"ppmt-amp-api/internal/signature"
	"ppmt-amp-api/pkg/apierror"
	"ppmt-amp-api/pkg/response"

	"go.uber.org/zap"
)

// ReplayWindow bounds how far a request timestamp may drift from server time.
const ReplayWindow = 300 * time.Second

// Client-visible messages.
const (
	MsgInvalidApp       = "Invalid app identifier"
	MsgInvalidTimestamp = "Invalid timestamp"
	MsgExpired          = "Request timestamp expired"
	MsgInvalidSignature = "Invalid request signature"
	MsgRateLimited      = "Rate limit exceeded. Please try again later."
	MsgSuccess          = "Query successful"
)

// SeriesPath is the route that reads series instead of items.
const SeriesPath = "/series"

// Request is a transport-neutral catalog request.
type Request struct {
	Method string
	Path   string
	Params map[string]string
}

// Result is the status and JSON body to send back.
type Result struct {
	StatusCode int
	Body       interface{}
}

// GatewayConfig holds the values loaded once at startup.
type GatewayConfig struct {
	Secret       []byte
	ValidAppIDs  []string
	StoreTimeout time.Duration
}

// Gateway runs the request pipeline: app check, timestamp checks, signature,
// rate limit, then the catalog query.
type Gateway struct {
	verifier     *signature.Verifier
	validApps    map[string]struct{}
	limiter      *ratelimit.Limiter
	catalog      *query.Catalog
	logger       *zap.Logger
	clock        func() time.Time
	storeTimeout time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source used for the replay window.
func WithClock(clock func() time.Time) Option {
	return func(g *Gateway) { g.clock = clock }
}

// NewGateway creates the request orchestrator.
func NewGateway(cfg GatewayConfig, limiter *ratelimit.Limiter, catalog *query.Catalog, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	apps := make(map[string]struct{}, len(cfg.ValidAppIDs))
	for _, id := range cfg.ValidAppIDs {
		apps[id] = struct{}{}
	}
	g := &Gateway{
		verifier:     signature.NewVerifier(cfg.Secret),
		validApps:    apps,
		limiter:      limiter,
		catalog:      catalog,
		logger:       logger.Named("gateway"),
		clock:        time.Now,
		storeTimeout: cfg.StoreTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Warm answers keepalive pings without touching any gate.
func (g *Gateway) Warm() Result {
	return Result{
		StatusCode: http.StatusOK,
		Body:       response.Warm{Status: "warm", Message: "Container ready"},
	}
}

// Handle runs a request through every gate and the query. It always returns a
// result; failures become structured rejections.
func (g *Gateway) Handle(ctx context.Context, req Request) Result {
	if err := g.authenticate(req); err != nil {
		g.logger.Info("request rejected",
			zap.String("reason", err.Code),
			zap.String("app_id", req.Params["appId"]),
			zap.String("device_id", req.Params["deviceId"]),
			zap.String("path", req.Path))
		return Result{StatusCode: err.StatusCode, Body: err}
	}
	deviceID := req.Params["deviceId"]

	checkCtx, cancel := g.storeContext(ctx)
	decision := g.limiter.Check(checkCtx, deviceID)
	cancel()
	if !decision.Allowed {
		g.logger.Info("request rejected",
			zap.String("reason", "RATE_LIMITED"),
			zap.String("device_id", deviceID))
		err := apierror.TooManyRequests(MsgRateLimited, g.limiter.ResetAt())
		return Result{StatusCode: err.StatusCode, Body: err}
	}

	updateCtx, cancel := g.storeContext(ctx)
	g.limiter.Update(updateCtx, deviceID)
	cancel()

	var data interface{}
	if req.Path == SeriesPath {
		data = g.series(ctx, req.Params)
	} else {
		data = g.items(ctx, req.Params)
	}

	return Result{
		StatusCode: http.StatusOK,
		Body:       response.Success(MsgSuccess, data, decision.Remaining-1, g.limiter.ResetAt()),
	}
}

// authenticate applies the gates in their fixed order. None of them touch storage.
func (g *Gateway) authenticate(req Request) *apierror.Error {
	appID := req.Params["appId"]
	if _, ok := g.validApps[appID]; !ok || appID == "" {
		return apierror.Forbidden("INVALID_APP", MsgInvalidApp)
	}

	rawTS := strings.TrimSpace(req.Params["timestamp"])
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return apierror.BadRequest("INVALID_TIMESTAMP", MsgInvalidTimestamp)
	}

	// Compare against bounds; ts - now can overflow for extreme inputs.
	now, window := g.clock().Unix(), int64(ReplayWindow/time.Second)
	if ts < now-window || ts > now+window {
		return apierror.Forbidden("TIMESTAMP_EXPIRED", MsgExpired)
	}

	deviceID, sig := req.Params["deviceId"], req.Params["signature"]
	payload := signature.Payload(req.Method, req.Path)
	if deviceID == "" || !g.verifier.Verify(appID, deviceID, req.Params["timestamp"], payload, sig) {
		return apierror.Forbidden("INVALID_SIGNATURE", MsgInvalidSignature)
	}
	return nil
}

func (g *Gateway) items(ctx context.Context, params map[string]string) []model.Item {
	ctx, cancel := g.storeContext(ctx)
	defer cancel()

	items, err := g.catalog.Items(ctx, params)
	if err != nil {
		g.logger.Warn("item query failed, returning empty result", zap.Error(err))
		return []model.Item{}
	}
	if items == nil {
		items = []model.Item{}
	}
	return items
}

func (g *Gateway) series(ctx context.Context, params map[string]string) []model.Series {
	ctx, cancel := g.storeContext(ctx)
	defer cancel()

	series, err := g.catalog.Series(ctx, params)
	if err != nil {
		g.logger.Warn("series query failed, returning empty result", zap.Error(err))
		return []model.Series{}
	}
	if series == nil {
		series = []model.Series{}
	}
	return series
}

func (g *Gateway) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.storeTimeout)
}
