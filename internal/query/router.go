// Package query maps request filters to a storage access plan and runs it.
//
// Selection is data driven: the RuleSet is an ordered list of rules, the first
// rule whose required filters are all present decides the access path. Adding
// a schema version means editing rules.yaml, not adding a branch here.
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Limit defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Condition binds a filter value to a stored attribute.
type Condition struct {
	Field     string
	Attribute string
	Op        Operator
	Value     string
}

// Plan is the storage access a request resolves to. It is plain data so the
// choice can be inspected without touching a store.
type Plan struct {
	Entity     Entity
	Rule       string
	Access     Access
	Index      string
	Keys       []Condition
	Filters    []Condition
	Descending bool
	Limit      int32

	// Fallback is tried when Index cannot be queried. Nil when disabled.
	Fallback *Plan
}

// Router resolves filters into plans.
type Router struct {
	rules        *RuleSet
	defaultLimit int
	maxLimit     int
	fallback     bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLimits sets the default page size and its upper bound.
func WithLimits(defaultLimit, maxLimit int) RouterOption {
	return func(r *Router) {
		if maxLimit > 0 {
			r.maxLimit = maxLimit
		}
		if defaultLimit > 0 {
			r.defaultLimit = defaultLimit
		}
		if r.defaultLimit > r.maxLimit {
			r.defaultLimit = r.maxLimit
		}
	}
}

// WithIndexFallback enables the scan fallback for rules that declare one.
func WithIndexFallback(enabled bool) RouterOption {
	return func(r *Router) { r.fallback = enabled }
}

// NewRouter creates a router over rules.
func NewRouter(rules *RuleSet, opts ...RouterOption) *Router {
	r := &Router{
		rules:        rules,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
		fallback:     true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route picks the most specific plan for params. Unknown parameters and
// blank values are ignored.
func (r *Router) Route(entity Entity, params map[string]string) (*Plan, error) {
	er := r.rules.entity(entity)
	present := presentFields(er, params)
	limit := r.parseLimit(params["limit"])

	for _, rule := range er.Rules {
		if rule.FallbackOnly || !hasAll(present, rule.Requires) {
			continue
		}
		plan := buildPlan(entity, er, rule, present, limit)
		if r.fallback && rule.Fallback != "" {
			fb, _ := er.rule(rule.Fallback)
			plan.Fallback = buildPlan(entity, er, fb, present, limit)
		}
		return plan, nil
	}
	return nil, fmt.Errorf("no query rule matches %s filters", entity)
}

func buildPlan(entity Entity, er *EntityRules, rule Rule, present map[string]string, limit int32) *Plan {
	plan := &Plan{
		Entity:     entity,
		Rule:       rule.Name,
		Access:     rule.Access,
		Index:      rule.Index,
		Descending: rule.Descending,
		Limit:      limit,
	}
	for _, f := range rule.Keys {
		plan.Keys = append(plan.Keys, condition(er, f, present[f]))
	}
	for _, f := range rule.Filters {
		if v, ok := present[f]; ok {
			plan.Filters = append(plan.Filters, condition(er, f, v))
		}
	}
	if rule.Access == AccessGet {
		plan.Limit = 1
	}
	return plan
}

func condition(er *EntityRules, field, value string) Condition {
	spec := er.Fields[field]
	if spec.Op == OpLessEqual {
		value = widenDate(value)
	}
	return Condition{Field: field, Attribute: spec.Attribute, Op: spec.Op, Value: value}
}

var dateOnly = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// widenDate turns a bare date into the last instant of that day so an
// inclusive upper bound covers full ISO timestamps on the same day.
func widenDate(v string) string {
	if dateOnly.MatchString(v) {
		return v + "T23:59:59.999999Z"
	}
	return v
}

func presentFields(er *EntityRules, params map[string]string) map[string]string {
	present := make(map[string]string, len(params))
	for field := range er.Fields {
		if v := strings.TrimSpace(params[field]); v != "" {
			present[field] = v
		}
	}
	return present
}

func hasAll(present map[string]string, fields []string) bool {
	for _, f := range fields {
		if _, ok := present[f]; !ok {
			return false
		}
	}
	return true
}

func (r *Router) parseLimit(raw string) int32 {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return int32(r.defaultLimit)
	}
	if n < 1 {
		n = 1
	}
	if n > r.maxLimit {
		n = r.maxLimit
	}
	return int32(n)
}
