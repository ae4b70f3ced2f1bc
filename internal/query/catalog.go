package query

import (
	"context"
	"errors"
	"fmt"

	"ppmt-amp-api/internal/model"

	"go.uber.org/zap"
)

// ErrIndexUnavailable is returned by a Store when a plan's index cannot be
// queried yet (missing or still backfilling).
var ErrIndexUnavailable = errors.New("index unavailable")

// Store executes plans against the catalog tables.
type Store interface {
	FindItems(ctx context.Context, plan *Plan) ([]model.Item, error)
	FindSeries(ctx context.Context, plan *Plan) ([]model.Series, error)
}

// Catalog routes filters and runs the resulting plan.
type Catalog struct {
	router *Router
	store  Store
	logger *zap.Logger
}

// NewCatalog creates a catalog reader.
func NewCatalog(router *Router, store Store, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{router: router, store: store, logger: logger.Named("query")}
}

// Items returns the items matching params, at most the plan's limit.
func (c *Catalog) Items(ctx context.Context, params map[string]string) ([]model.Item, error) {
	plan, err := c.router.Route(EntityItems, params)
	if err != nil {
		return nil, err
	}
	return run(ctx, c, plan, c.store.FindItems)
}

// Series returns the series matching params, at most the plan's limit.
func (c *Catalog) Series(ctx context.Context, params map[string]string) ([]model.Series, error) {
	plan, err := c.router.Route(EntitySeries, params)
	if err != nil {
		return nil, err
	}
	return run(ctx, c, plan, c.store.FindSeries)
}

func run[T any](ctx context.Context, c *Catalog, plan *Plan, find func(context.Context, *Plan) ([]T, error)) ([]T, error) {
	out, err := find(ctx, plan)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrIndexUnavailable) || plan.Fallback == nil {
		return nil, fmt.Errorf("%s via %s: %w", plan.Entity, plan.Rule, err)
	}

	c.logger.Warn("index unavailable, using fallback",
		zap.String("rule", plan.Rule),
		zap.String("index", plan.Index),
		zap.String("fallback", plan.Fallback.Rule))

	out, err = find(ctx, plan.Fallback)
	if err != nil {
		return nil, fmt.Errorf("%s via %s: %w", plan.Entity, plan.Fallback.Rule, err)
	}
	return out, nil
}
