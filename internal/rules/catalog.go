// Package rules loads and caches the versioned, human-governed rule set
// driving detection and rule-based correction. Rule files are YAML,
// governed outside this service (typically by a data steward). Patterns
// are compiled once per load; Reload recompiles from the current file
// without a restart.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/quality"
)

// ConfigurationError means the rule source is absent or malformed. It is
// fatal at startup: the service must not run without rules.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rule source %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DefaultRuleConfidence is used for declarative strategies that do not
// set their own confidence.
const DefaultRuleConfidence = 0.7

// StrategyAction is a declarative correction action.
type StrategyAction string

const (
	ActionResetNull   StrategyAction = "RESET_NULL"
	ActionClampMin    StrategyAction = "CLAMP_MIN"
	ActionClampMax    StrategyAction = "CLAMP_MAX"
	ActionReplaceWith StrategyAction = "REPLACE_WITH"
)

// Range is an inclusive numeric domain for a field.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// TemporalPair declares that end must not precede start.
type TemporalPair struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// ReferentialRule declares an invalid combination of two field values.
type ReferentialRule struct {
	Field1  string `yaml:"field_1" json:"field_1"`
	Value1  string `yaml:"value_1" json:"value_1"`
	Field2  string `yaml:"field_2" json:"field_2"`
	Value2  string `yaml:"value_2" json:"value_2"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// FieldType declares the expected value-type signature for a field and
// the signatures that must never match it (e.g. a name field holding a
// phone number).
type FieldType struct {
	Expected  string   `yaml:"expected" json:"expected"`
	Forbidden []string `yaml:"forbidden,omitempty" json:"forbidden,omitempty"`
}

// Strategy is a declarative correction keyed by field pattern and
// inconsistency type.
type Strategy struct {
	Field      string                    `yaml:"field" json:"field"` // glob over field names
	Type       quality.InconsistencyType `yaml:"type" json:"type"`
	Action     StrategyAction            `yaml:"action" json:"action"`
	Value      string                    `yaml:"value,omitempty" json:"value,omitempty"` // REPLACE_WITH payload
	Confidence float64                   `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

// RuleSet is the declarative rule file as written by the steward.
type RuleSet struct {
	Version           int                  `yaml:"version" json:"version"`
	DateFormat        string               `yaml:"date_format" json:"date_format"` // Go reference layout
	DateFieldPatterns []string             `yaml:"date_field_patterns" json:"date_field_patterns"`
	Domains           map[string]Range     `yaml:"domains" json:"domains"`
	TemporalPairs     []TemporalPair       `yaml:"temporal_pairs" json:"temporal_pairs"`
	Referential       []ReferentialRule    `yaml:"referential" json:"referential"`
	OutlierThreshold  float64              `yaml:"outlier_threshold" json:"outlier_threshold"`
	TypeSignatures    map[string]string    `yaml:"type_signatures" json:"type_signatures"`
	FieldTypes        map[string]FieldType `yaml:"field_types" json:"field_types"`
	Strategies        []Strategy           `yaml:"strategies" json:"strategies"`
}

type compiledStrategy struct {
	Strategy
	fieldGlob glob.Glob
}

// Compiled is an immutable, fully compiled rule set. Readers hold it for
// the duration of one scan, so a concurrent reload never changes results
// mid-record.
type Compiled struct {
	RuleSet

	dateGlobs  []glob.Glob
	signatures map[string]*regexp.Regexp
	strategies []compiledStrategy
	skipped    int
}

// Stats summarizes a compiled rule set for observability.
type Stats struct {
	Version      int `json:"version"`
	Signatures   int `json:"signatures"`
	Strategies   int `json:"strategies"`
	SkippedRules int `json:"skipped_rules"`
}

// Catalog owns the current compiled rule set. Safe for concurrent
// readers; Reload swaps the compiled set atomically.
type Catalog struct {
	path string
	log  zerolog.Logger

	mu       sync.RWMutex
	compiled *Compiled
}

// Load reads and compiles the rule file at path. A missing or malformed
// file yields a ConfigurationError.
func Load(path string, log zerolog.Logger) (*Catalog, error) {
	c := &Catalog{path: path, log: log}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload recompiles the catalog from the current rule source. On error
// the previous compiled set stays in place.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return &ConfigurationError{Path: c.path, Err: err}
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return &ConfigurationError{Path: c.path, Err: err}
	}
	if rs.DateFormat == "" {
		rs.DateFormat = "2006-01-02"
	}
	if rs.OutlierThreshold == 0 {
		rs.OutlierThreshold = 1_000_000
	}

	compiled, err := compile(rs, c.log)
	if err != nil {
		return &ConfigurationError{Path: c.path, Err: err}
	}

	c.mu.Lock()
	c.compiled = compiled
	c.mu.Unlock()

	c.log.Info().
		Int("version", rs.Version).
		Int("signatures", len(compiled.signatures)).
		Int("skipped", compiled.skipped).
		Msg("rule catalog loaded")
	return nil
}

// Current returns the compiled rule set in effect right now.
func (c *Catalog) Current() *Compiled {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compiled
}

// Stats reports on the compiled rule set.
func (c *Catalog) Stats() Stats {
	cur := c.Current()
	return Stats{
		Version:      cur.Version,
		Signatures:   len(cur.signatures),
		Strategies:   len(cur.strategies),
		SkippedRules: cur.skipped,
	}
}

func compile(rs RuleSet, log zerolog.Logger) (*Compiled, error) {
	out := &Compiled{
		RuleSet:    rs,
		signatures: make(map[string]*regexp.Regexp, len(rs.TypeSignatures)),
	}

	patterns := rs.DateFieldPatterns
	if len(patterns) == 0 {
		patterns = []string{"*date*", "*_at", "*_on"}
	}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			// Field-name globs are structural; a bad one is a broken file.
			return nil, fmt.Errorf("date field pattern %q: %w", p, err)
		}
		out.dateGlobs = append(out.dateGlobs, g)
	}

	// A single malformed signature is skipped so one bad regex cannot
	// disable every other detector. The count is surfaced via Stats.
	for name, expr := range rs.TypeSignatures {
		re, err := regexp.Compile(expr)
		if err != nil {
			log.Warn().Str("signature", name).Err(err).Msg("skipping malformed type signature")
			out.skipped++
			continue
		}
		out.signatures[name] = re
	}

	for _, s := range rs.Strategies {
		field := s.Field
		if field == "" {
			field = "*"
		}
		g, err := glob.Compile(field)
		if err != nil {
			log.Warn().Str("strategy_field", s.Field).Err(err).Msg("skipping strategy with malformed field pattern")
			out.skipped++
			continue
		}
		if s.Confidence == 0 {
			s.Confidence = DefaultRuleConfidence
		}
		out.strategies = append(out.strategies, compiledStrategy{Strategy: s, fieldGlob: g})
	}

	return out, nil
}

// IsDateField reports whether a field name signals a date per the
// configured patterns.
func (c *Compiled) IsDateField(name string) bool {
	for _, g := range c.dateGlobs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Domain returns the configured numeric domain for a field, if any.
func (c *Compiled) Domain(field string) (Range, bool) {
	r, ok := c.Domains[field]
	return r, ok
}

// MatchSignatures returns the names of all type signatures a string
// value matches, sorted for deterministic output.
func (c *Compiled) MatchSignatures(value string) []string {
	var matched []string
	for name, re := range c.signatures {
		if re.MatchString(value) {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)
	return matched
}

// ExpectedType returns the declared field type, if any.
func (c *Compiled) ExpectedType(field string) (FieldType, bool) {
	ft, ok := c.FieldTypes[field]
	return ft, ok
}

// MatchStrategies returns every declarative strategy whose field pattern
// and inconsistency type apply, in file order.
func (c *Compiled) MatchStrategies(field string, typ quality.InconsistencyType) []Strategy {
	var out []Strategy
	for _, cs := range c.strategies {
		if cs.Type != "" && cs.Type != typ {
			continue
		}
		if !cs.fieldGlob.Match(field) {
			continue
		}
		out = append(out, cs.Strategy)
	}
	return out
}
