// Package correct arbitrates corrections for detected inconsistencies.
// Rule-based candidates come from the catalog's declarative strategies;
// ML fallbacks come from pluggable text and numeric strategy providers.
package correct

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// Suggestion is one text-strategy proposal with the model's own
// generation score in [0,1].
type Suggestion struct {
	Value    string
	GenScore float64
}

// SuggestRequest is one pending text correction. DateFormat carries the
// canonical date layout in effect when the request was made, so
// suggestions follow rule reloads without rebuilding the suggester.
type SuggestRequest struct {
	Field      string
	Value      string
	DateFormat string
}

// TextSuggester is the pluggable sequence-suggestion strategy. Real
// deployments back it with a fine-tuned generation model; the heuristic
// implementation below covers environments without one.
type TextSuggester interface {
	Suggest(ctx context.Context, req SuggestRequest) (Suggestion, error)
	SuggestBatch(ctx context.Context, reqs []SuggestRequest) ([]Suggestion, error)
}

// TextConfidenceCap bounds ML text candidates: a generated value never
// auto-applies on generation score alone.
const TextConfidenceCap = 0.95

// TextConfidence derives a candidate confidence from the strategy's
// generation score and the edit distance between input and suggestion,
// capped at TextConfidenceCap. Small edits on a confident model score
// high; rewrites score low regardless of the model's enthusiasm.
func TextConfidence(original, suggested string, genScore float64) float64 {
	if suggested == "" {
		return 0
	}
	sim := similarity(original, suggested)
	conf := 0.5*genScore + 0.5*sim
	if conf > TextConfidenceCap {
		conf = TextConfidenceCap
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	n := max(len([]rune(a)), len([]rune(b)))
	if n == 0 {
		return 1
	}
	return 1 - float64(editDistance(a, b))/float64(n)
}

// editDistance is the Levenshtein distance over runes.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// HeuristicSuggester is the default TextSuggester: deterministic string
// normalization standing in for the generation model. It fixes the
// transforms the validated corpus shows humans applying most: stray
// whitespace, date separators, and casing.
type HeuristicSuggester struct {
	// DateFormat is the fallback canonical date layout, used when the
	// request does not carry one.
	DateFormat string
}

// candidate layouts seen in ingested files; tried in order.
var ingestDateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"02-01-2006",
	"2.1.2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// Suggest proposes a normalized value for one field.
func (h *HeuristicSuggester) Suggest(_ context.Context, req SuggestRequest) (Suggestion, error) {
	value := strings.TrimSpace(req.Value)
	value = collapseSpaces(value)
	score := 0.5
	if value != req.Value {
		score = 0.7
	}

	layout := req.DateFormat
	if layout == "" {
		layout = h.DateFormat
	}
	if layout != "" {
		if reformatted, ok := reparseDate(value, layout); ok {
			return Suggestion{Value: reformatted, GenScore: 0.9}, nil
		}
	}

	if isShouty(value) {
		value = titleCase(value)
		score = 0.7
	}

	return Suggestion{Value: value, GenScore: score}, nil
}

// SuggestBatch applies Suggest to each request. A model-backed
// implementation would issue one batched inference call here.
func (h *HeuristicSuggester) SuggestBatch(ctx context.Context, reqs []SuggestRequest) ([]Suggestion, error) {
	out := make([]Suggestion, len(reqs))
	for i, r := range reqs {
		s, err := h.Suggest(ctx, r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func reparseDate(value, layout string) (string, bool) {
	if _, err := time.Parse(layout, value); err == nil {
		return value, false // already canonical, nothing to suggest
	}
	for _, l := range ingestDateLayouts {
		if t, err := time.Parse(l, value); err == nil {
			return t.Format(layout), true
		}
	}
	return "", false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isShouty(s string) bool {
	letters := 0
	upper := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 4 && upper == letters
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// NopSuggester never proposes anything. Arbitration degrades to
// rule-only candidates, which is the documented behavior when the ML
// strategy is unavailable.
type NopSuggester struct{}

func (NopSuggester) Suggest(context.Context, SuggestRequest) (Suggestion, error) {
	return Suggestion{}, nil
}

func (NopSuggester) SuggestBatch(_ context.Context, reqs []SuggestRequest) ([]Suggestion, error) {
	return make([]Suggestion, len(reqs)), nil
}
