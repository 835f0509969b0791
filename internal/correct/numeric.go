package correct

import (
	"math"
	"sort"
	"strings"
)

// Numeric-regression strategy constants.
const (
	numericConfNonFinite = 0.95
	numericConfOutlier   = 0.75
	numericConfDampened  = 0.70
	numericConfDefault   = 0.85
	magnitudeLimit       = 1_000_000
	iqrMultiplier        = 1.5
	zScoreLimit          = 3.0

	// IQR fences interpolate between quartile ranks, so four context
	// values is the smallest sample they are meaningful on. The z-score
	// check needs a fuller distribution before |z| says anything.
	minContextForFences = 4
	minContextForZScore = 10
)

// restrictedFieldHints mark fields that can never be negative.
var restrictedFieldHints = []string{"age", "salary", "percentage", "count"}

// NumericSuggestion is one numeric-strategy proposal.
type NumericSuggestion struct {
	Value      float64
	Confidence float64
	Reason     string
}

// SuggestNumeric proposes a corrected numeric value. context holds the
// distribution of other observed values for the same field, when the
// caller has one (batch correction builds it from the batch).
func SuggestNumeric(field string, value float64, context []float64) NumericSuggestion {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return NumericSuggestion{Value: 0, Confidence: numericConfNonFinite, Reason: "non-finite value reset"}
	}

	if len(context) >= minContextForFences && isStatOutlier(value, context) {
		return NumericSuggestion{
			Value:      inlierMedian(context),
			Confidence: numericConfOutlier,
			Reason:     "distribution outlier replaced with context median",
		}
	}

	if math.Abs(value) > magnitudeLimit {
		damp := sign(value) * math.Log(math.Abs(value)+1) * 100
		return NumericSuggestion{Value: damp, Confidence: numericConfDampened, Reason: "magnitude log-dampened"}
	}

	if value < 0 && isDomainRestricted(field) {
		return NumericSuggestion{Value: math.Abs(value), Confidence: numericConfDefault, Reason: "negative value on restricted field"}
	}

	return NumericSuggestion{Value: value, Confidence: numericConfDefault, Reason: "passed through"}
}

// isStatOutlier flags a value lying beyond the IQR fences or, on larger
// samples, with |z| > 3 relative to the context distribution.
func isStatOutlier(value float64, context []float64) bool {
	lower, upper := iqrFences(context)
	if value < lower || value > upper {
		return true
	}
	if len(context) < minContextForZScore {
		return false
	}
	mean, std := meanStd(context)
	if std == 0 {
		return false
	}
	return math.Abs((value-mean)/std) > zScoreLimit
}

// iqrFences returns Q1 - 1.5*IQR and Q3 + 1.5*IQR over the context.
func iqrFences(context []float64) (lower, upper float64) {
	q1 := percentile(context, 0.25)
	q3 := percentile(context, 0.75)
	iqr := q3 - q1
	return q1 - iqrMultiplier*iqr, q3 + iqrMultiplier*iqr
}

// inlierMedian is the median of the context values inside the IQR
// fences, so the replacement value is not dragged by the outliers the
// strategy is correcting.
func inlierMedian(context []float64) float64 {
	lower, upper := iqrFences(context)
	var inliers []float64
	for _, v := range context {
		if v >= lower && v <= upper {
			inliers = append(inliers, v)
		}
	}
	if len(inliers) == 0 {
		inliers = context
	}
	return percentile(inliers, 0.5)
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func isDomainRestricted(field string) bool {
	f := strings.ToLower(field)
	for _, hint := range restrictedFieldHints {
		if strings.Contains(f, hint) {
			return true
		}
	}
	return false
}
