package query

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Entity selects which table a request reads.
type Entity string

const (
	EntityItems  Entity = "items"
	EntitySeries Entity = "series"
)

// Access is the storage access path a rule resolves to.
type Access string

const (
	AccessGet   Access = "get"
	AccessQuery Access = "query"
	AccessScan  Access = "scan"
)

// Operator compares an attribute against a filter value.
type Operator string

const (
	OpEqual        Operator = "eq"
	OpGreaterEqual Operator = "ge"
	OpLessEqual    Operator = "le"
)

// FieldSpec maps a request filter to a stored attribute.
type FieldSpec struct {
	Attribute string   `yaml:"attribute"`
	Op        Operator `yaml:"op"`
}

// Rule is one entry of the ordered rule list.
type Rule struct {
	Name       string   `yaml:"name"`
	Requires   []string `yaml:"requires"`
	Access     Access   `yaml:"access"`
	Index      string   `yaml:"index"`
	Keys       []string `yaml:"keys"`
	Filters    []string `yaml:"filters"`
	Descending bool     `yaml:"descending"`

	// Fallback names the rule used when Index is not queryable.
	Fallback string `yaml:"fallback"`

	// FallbackOnly rules are never selected by filter matching.
	FallbackOnly bool `yaml:"fallback_only"`
}

// EntityRules is the rule set for one entity.
type EntityRules struct {
	Fields map[string]FieldSpec `yaml:"fields"`
	Rules  []Rule               `yaml:"rules"`
}

// RuleSet is the versioned routing table.
type RuleSet struct {
	Version int         `yaml:"version"`
	Items   EntityRules `yaml:"items"`
	Series  EntityRules `yaml:"series"`
}

// DefaultRules returns the built-in routing table.
func DefaultRules() (*RuleSet, error) {
	return ParseRules(defaultRules)
}

// LoadRules reads a routing table from path. An empty path yields the built-in table.
func LoadRules(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML routing table.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse query rules: %w", err)
	}
	for _, ent := range []Entity{EntityItems, EntitySeries} {
		er := rs.entity(ent)
		er.normalize()
		if err := er.validate(); err != nil {
			return nil, fmt.Errorf("query rules for %s: %w", ent, err)
		}
	}
	return &rs, nil
}

func (rs *RuleSet) entity(e Entity) *EntityRules {
	if e == EntitySeries {
		return &rs.Series
	}
	return &rs.Items
}

func (er *EntityRules) normalize() {
	for name, spec := range er.Fields {
		if spec.Op == "" {
			spec.Op = OpEqual
			er.Fields[name] = spec
		}
	}
}

func (er *EntityRules) rule(name string) (Rule, bool) {
	for _, r := range er.Rules {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

func (er *EntityRules) validate() error {
	if len(er.Rules) == 0 {
		return fmt.Errorf("no rules defined")
	}

	catchAll := false
	for _, r := range er.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule without name")
		}
		switch r.Access {
		case AccessGet, AccessQuery:
			if len(r.Keys) == 0 {
				return fmt.Errorf("rule %q: %s access needs keys", r.Name, r.Access)
			}
			if len(r.Keys) > 2 {
				return fmt.Errorf("rule %q: at most a partition and a sort key", r.Name)
			}
		case AccessScan:
			if len(r.Keys) > 0 {
				return fmt.Errorf("rule %q: scan takes no keys", r.Name)
			}
		default:
			return fmt.Errorf("rule %q: unknown access %q", r.Name, r.Access)
		}
		if r.Index != "" && r.Access != AccessQuery {
			return fmt.Errorf("rule %q: index requires query access", r.Name)
		}

		for _, group := range [][]string{r.Requires, r.Keys, r.Filters} {
			for _, f := range group {
				if _, ok := er.Fields[f]; !ok {
					return fmt.Errorf("rule %q: unknown field %q", r.Name, f)
				}
			}
		}
		for _, k := range r.Keys {
			if !slices.Contains(r.Requires, k) {
				return fmt.Errorf("rule %q: key %q must be required", r.Name, k)
			}
			if er.Fields[k].Op != OpEqual {
				return fmt.Errorf("rule %q: key %q must be an equality field", r.Name, k)
			}
		}

		if r.Fallback != "" {
			fb, ok := er.rule(r.Fallback)
			if !ok {
				return fmt.Errorf("rule %q: unknown fallback %q", r.Name, r.Fallback)
			}
			if fb.Index != "" {
				return fmt.Errorf("rule %q: fallback %q must not use an index", r.Name, fb.Name)
			}
		}
		if len(r.Requires) == 0 && !r.FallbackOnly {
			catchAll = true
		}
	}
	if !catchAll {
		return fmt.Errorf("no catch-all rule")
	}
	return nil
}
