// Package detect scans ingested records against the rule catalog and
// reports inconsistencies across six categories. Detection is
// deterministic and side-effect-free: the same record and rule version
// always produce the same, order-stable inconsistency list.
package detect

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/quality"
	"github.com/tmercier/fieldmend/internal/rules"
)

// Engine runs the six detectors over one record at a time. It holds no
// per-record state and is safe for concurrent use.
type Engine struct {
	catalog *rules.Catalog
	log     zerolog.Logger
}

// New creates a detection engine over the given rule catalog.
func New(catalog *rules.Catalog, log zerolog.Logger) *Engine {
	return &Engine{catalog: catalog, log: log}
}

// Detect runs every detector against the record and concatenates their
// results in a fixed category order.
func (e *Engine) Detect(row map[string]any) []quality.Inconsistency {
	c := e.catalog.Current()
	fields := sortedFields(row)

	var out []quality.Inconsistency
	out = append(out, detectFormat(c, row, fields)...)
	out = append(out, detectDomain(c, row, fields)...)
	out = append(out, detectTemporal(c, row)...)
	out = append(out, detectReferential(c, row)...)
	out = append(out, detectStatistical(c, row, fields)...)
	out = append(out, detectSemantic(c, row, fields)...)
	return out
}

func sortedFields(row map[string]any) []string {
	fields := make([]string, 0, len(row))
	for f := range row {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// detectFormat flags date-named fields whose value does not parse under
// the configured date format.
func detectFormat(c *rules.Compiled, row map[string]any, fields []string) []quality.Inconsistency {
	var out []quality.Inconsistency
	for _, f := range fields {
		if !c.IsDateField(f) {
			continue
		}
		s, ok := asString(row[f])
		if !ok || s == "" {
			continue
		}
		if _, err := time.Parse(c.DateFormat, s); err != nil {
			out = append(out, quality.Inconsistency{
				Field:   f,
				Value:   row[f],
				Type:    quality.InconsistencyFormat,
				Message: fmt.Sprintf("value %q does not match date format %s", s, c.DateFormat),
			})
		}
	}
	return out
}

// detectDomain checks numeric fields against their configured [min,max].
func detectDomain(c *rules.Compiled, row map[string]any, fields []string) []quality.Inconsistency {
	var out []quality.Inconsistency
	for _, f := range fields {
		r, ok := c.Domain(f)
		if !ok {
			continue
		}
		v, ok := asFloat(row[f])
		if !ok {
			continue
		}
		if v < r.Min || v > r.Max {
			out = append(out, quality.Inconsistency{
				Field:   f,
				Value:   row[f],
				Type:    quality.InconsistencyDomain,
				Message: fmt.Sprintf("value %v outside domain [%g, %g]", row[f], r.Min, r.Max),
			})
		}
	}
	return out
}

// detectTemporal flags configured (start, end) pairs where end < start.
func detectTemporal(c *rules.Compiled, row map[string]any) []quality.Inconsistency {
	var out []quality.Inconsistency
	for _, p := range c.TemporalPairs {
		startRaw, okS := asString(row[p.Start])
		endRaw, okE := asString(row[p.End])
		if !okS || !okE {
			continue
		}
		start, errS := time.Parse(c.DateFormat, startRaw)
		end, errE := time.Parse(c.DateFormat, endRaw)
		if errS != nil || errE != nil {
			// Unparseable dates are FORMAT findings, not TEMPORAL ones.
			continue
		}
		if end.Before(start) {
			out = append(out, quality.Inconsistency{
				Field:   p.End,
				Value:   row[p.End],
				Type:    quality.InconsistencyTemporal,
				Message: fmt.Sprintf("%s (%s) precedes %s (%s)", p.End, endRaw, p.Start, startRaw),
			})
		}
	}
	return out
}

// detectReferential flags configured invalid field-value combinations.
func detectReferential(c *rules.Compiled, row map[string]any) []quality.Inconsistency {
	var out []quality.Inconsistency
	for _, r := range c.Referential {
		v1, ok1 := asString(row[r.Field1])
		v2, ok2 := asString(row[r.Field2])
		if !ok1 || !ok2 {
			continue
		}
		if v1 == r.Value1 && v2 == r.Value2 {
			msg := r.Message
			if msg == "" {
				msg = fmt.Sprintf("invalid combination %s=%s with %s=%s", r.Field1, r.Value1, r.Field2, r.Value2)
			}
			out = append(out, quality.Inconsistency{
				Field:   r.Field2,
				Value:   row[r.Field2],
				Type:    quality.InconsistencyReferential,
				Message: msg,
			})
		}
	}
	return out
}

// detectStatistical flags numeric values whose absolute magnitude
// exceeds the configured outlier threshold.
func detectStatistical(c *rules.Compiled, row map[string]any, fields []string) []quality.Inconsistency {
	var out []quality.Inconsistency
	for _, f := range fields {
		v, ok := asFloat(row[f])
		if !ok {
			continue
		}
		if math.Abs(v) > c.OutlierThreshold {
			out = append(out, quality.Inconsistency{
				Field:   f,
				Value:   row[f],
				Type:    quality.InconsistencyStatistical,
				Message: fmt.Sprintf("magnitude of %v exceeds outlier threshold %g", row[f], c.OutlierThreshold),
			})
		}
	}
	return out
}

// detectSemantic matches string values against the catalog of type
// signatures. A field is flagged when its declared expected type is not
// among the matches but a forbidden type is: the value is syntactically
// valid, it just belongs to a different, more sensitive category than
// declared.
func detectSemantic(c *rules.Compiled, row map[string]any, fields []string) []quality.Inconsistency {
	var out []quality.Inconsistency
	for _, f := range fields {
		ft, ok := c.ExpectedType(f)
		if !ok {
			continue
		}
		s, isStr := row[f].(string)
		if !isStr || s == "" {
			continue
		}
		matched := c.MatchSignatures(s)
		if contains(matched, ft.Expected) {
			continue
		}
		for _, forbidden := range ft.Forbidden {
			if contains(matched, forbidden) {
				out = append(out, quality.Inconsistency{
					Field:   f,
					Value:   row[f],
					Type:    quality.InconsistencySemantic,
					Message: fmt.Sprintf("field declared %s but value matches %s", ft.Expected, forbidden),
				})
				break
			}
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// asFloat coerces record values into float64. Strings are parsed so CSV
// ingests behave like typed ones.
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case fmt.Stringer:
		return x.String(), true
	case nil:
		return "", false
	}
	return "", false
}
