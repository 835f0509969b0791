package correct

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/quality"
	"github.com/tmercier/fieldmend/internal/rules"
)

// Suggester is the text-strategy entry point the arbiter calls. Both the
// raw TextSuggester implementations and the Batcher satisfy it.
type Suggester interface {
	Suggest(ctx context.Context, req SuggestRequest) (Suggestion, error)
}

// Arbiter gathers rule-based and ML-fallback candidates per
// inconsistency and picks the best one. The decision is a pure function
// of the best candidate's score against the auto-apply threshold.
type Arbiter struct {
	catalog *rules.Catalog
	text    Suggester
	cache   *ResultCache
	log     zerolog.Logger
}

// New creates an arbiter. cache may be nil to disable result caching.
func New(catalog *rules.Catalog, text Suggester, cache *ResultCache, log zerolog.Logger) *Arbiter {
	return &Arbiter{catalog: catalog, text: text, cache: cache, log: log}
}

// Outcome summarizes one correction run over a record.
type Outcome struct {
	Corrections  []quality.CorrectionRecord `json:"corrections"`
	AutoApplied  int                        `json:"auto_applied_count"`
	ManualReview int                        `json:"manual_review_count"`
}

// Correct arbitrates every inconsistency of one record.
func (a *Arbiter) Correct(ctx context.Context, row map[string]any, incs []quality.Inconsistency, autoApply bool) *Outcome {
	return a.CorrectWithContext(ctx, row, incs, nil, autoApply)
}

// CorrectWithContext additionally receives per-field numeric context
// distributions (typically built from the surrounding batch) for the
// numeric-regression fallback.
func (a *Arbiter) CorrectWithContext(ctx context.Context, row map[string]any, incs []quality.Inconsistency, fieldCtx map[string][]float64, autoApply bool) *Outcome {
	out := &Outcome{}
	for _, inc := range incs {
		rec := a.arbitrate(ctx, inc, fieldCtx[inc.Field], autoApply)
		out.Corrections = append(out.Corrections, rec)
		switch {
		case rec.Auto:
			out.AutoApplied++
			row[rec.Field] = rec.NewValue
		case rec.Status == quality.StatusRequiresReview:
			out.ManualReview++
		}
	}
	return out
}

func (a *Arbiter) arbitrate(ctx context.Context, inc quality.Inconsistency, numCtx []float64, autoApply bool) quality.CorrectionRecord {
	c := a.catalog.Current()

	candidates := a.ruleCandidates(c, inc)

	bestRule := bestOf(candidates)
	if bestRule == nil || bestRule.Score < quality.AutoApplyThreshold {
		if ml, ok := a.mlCandidate(ctx, c, inc, numCtx); ok {
			candidates = append(candidates, ml)
		}
	}

	rec := quality.CorrectionRecord{
		ID:         quality.NewID("cor"),
		Field:      inc.Field,
		Type:       inc.Type,
		OldValue:   inc.Value,
		Candidates: candidates,
		CreatedAt:  time.Now().UTC(),
	}

	best := bestOf(candidates)
	rec.Status = quality.StatusForScore(scoreOf(best), best != nil)
	if best != nil {
		rec.NewValue = best.Value
		rec.Confidence = best.Score
	}
	rec.Auto = autoApply && rec.Status == quality.StatusAutoCorrected

	a.log.Debug().
		Str("field", inc.Field).
		Str("type", string(inc.Type)).
		Str("status", string(rec.Status)).
		Float64("confidence", rec.Confidence).
		Int("candidates", len(candidates)).
		Msg("arbitrated inconsistency")
	return rec
}

// ruleCandidates resolves each matching declarative strategy into a
// concrete candidate value.
func (a *Arbiter) ruleCandidates(c *rules.Compiled, inc quality.Inconsistency) []quality.CorrectionCandidate {
	var out []quality.CorrectionCandidate
	for _, s := range c.MatchStrategies(inc.Field, inc.Type) {
		value, ok := applyStrategy(c, s, inc)
		if !ok {
			continue
		}
		out = append(out, quality.CorrectionCandidate{
			Value:    value,
			Score:    s.Confidence,
			Source:   quality.SourceRule,
			Strategy: string(s.Action),
		})
	}
	return out
}

func applyStrategy(c *rules.Compiled, s rules.Strategy, inc quality.Inconsistency) (any, bool) {
	switch s.Action {
	case rules.ActionResetNull:
		return nil, true

	case rules.ActionClampMin:
		v, ok := numericValue(inc.Value)
		if !ok {
			return nil, false
		}
		bound, ok := clampBound(c, s, inc.Field, true)
		if !ok || v >= bound {
			return nil, false
		}
		return bound, true

	case rules.ActionClampMax:
		v, ok := numericValue(inc.Value)
		if !ok {
			return nil, false
		}
		bound, ok := clampBound(c, s, inc.Field, false)
		if !ok || v <= bound {
			return nil, false
		}
		return bound, true

	case rules.ActionReplaceWith:
		return s.Value, true
	}
	return nil, false
}

// clampBound prefers the field's configured domain; an explicit strategy
// value overrides it.
func clampBound(c *rules.Compiled, s rules.Strategy, field string, useMin bool) (float64, bool) {
	if s.Value != "" {
		f, err := strconv.ParseFloat(s.Value, 64)
		return f, err == nil
	}
	r, ok := c.Domain(field)
	if !ok {
		return 0, false
	}
	if useMin {
		return r.Min, true
	}
	return r.Max, true
}

// mlCandidate routes the inconsistency to the appropriate fallback
// strategy. Referential violations need human judgment, so they never
// get an automatic candidate. A failed strategy call yields no
// candidate; arbitration proceeds with whatever else it has.
func (a *Arbiter) mlCandidate(ctx context.Context, c *rules.Compiled, inc quality.Inconsistency, numCtx []float64) (quality.CorrectionCandidate, bool) {
	switch inc.Type {
	case quality.InconsistencyFormat, quality.InconsistencySemantic:
		s, ok := inc.Value.(string)
		if !ok {
			return quality.CorrectionCandidate{}, false
		}
		return a.textCandidate(ctx, c, inc.Field, s)

	case quality.InconsistencyDomain, quality.InconsistencyStatistical:
		v, ok := numericValue(inc.Value)
		if !ok {
			return quality.CorrectionCandidate{}, false
		}
		sug := SuggestNumeric(inc.Field, v, numCtx)
		return quality.CorrectionCandidate{
			Value:    sug.Value,
			Score:    sug.Confidence,
			Source:   quality.SourceMLNumeric,
			Strategy: sug.Reason,
		}, true
	}
	return quality.CorrectionCandidate{}, false
}

func (a *Arbiter) textCandidate(ctx context.Context, c *rules.Compiled, field, value string) (quality.CorrectionCandidate, bool) {
	if a.text == nil {
		return quality.CorrectionCandidate{}, false
	}
	req := SuggestRequest{Field: field, Value: value, DateFormat: c.DateFormat}

	var sug Suggestion
	if a.cache != nil {
		if cached, ok := a.cache.Get(req, ""); ok {
			sug = cached
		}
	}
	if sug.Value == "" {
		var err error
		sug, err = a.text.Suggest(ctx, req)
		if err != nil {
			a.log.Warn().Err(err).Str("field", field).Msg("text strategy unavailable, skipping candidate")
			return quality.CorrectionCandidate{}, false
		}
		if a.cache != nil && sug.Value != "" {
			a.cache.Set(req, "", sug)
		}
	}

	if sug.Value == "" || sug.Value == value {
		return quality.CorrectionCandidate{}, false
	}
	return quality.CorrectionCandidate{
		Value:    sug.Value,
		Score:    TextConfidence(value, sug.Value, sug.GenScore),
		Source:   quality.SourceMLText,
		Strategy: "sequence_suggestion",
	}, true
}

func bestOf(candidates []quality.CorrectionCandidate) *quality.CorrectionCandidate {
	var best *quality.CorrectionCandidate
	for i := range candidates {
		if best == nil || candidates[i].Score > best.Score {
			best = &candidates[i]
		}
	}
	return best
}

func scoreOf(c *quality.CorrectionCandidate) float64 {
	if c == nil {
		return 0
	}
	return c.Score
}

func numericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

// BuildFieldContext collects per-field numeric distributions from a
// batch of records, feeding the numeric-regression strategy.
func BuildFieldContext(rows []map[string]any) map[string][]float64 {
	out := make(map[string][]float64)
	for _, row := range rows {
		for f, v := range row {
			if n, ok := numericValue(v); ok {
				out[f] = append(out[f], n)
			}
		}
	}
	return out
}

// String renders the outcome for CLI display.
func (o *Outcome) String() string {
	return fmt.Sprintf("%d corrections (%d auto-applied, %d for review)",
		len(o.Corrections), o.AutoApplied, o.ManualReview)
}
