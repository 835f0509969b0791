package detect

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/quality"
	"github.com/tmercier/fieldmend/internal/rules"
)

const testRules = `
version: 1
date_format: "2006-01-02"
date_field_patterns: ["*date*", "*_at"]
domains:
  age: {min: 0, max: 120}
  percentage: {min: 0, max: 100}
temporal_pairs:
  - {start: start_date, end: end_date}
referential:
  - field_1: status
    value_1: shipped
    field_2: carrier
    value_2: ""
    message: "shipped orders need a carrier"
outlier_threshold: 1000000
type_signatures:
  email: "^[^@\\s]+@[^@\\s]+\\.[^@\\s]+$"
  phone: "^\\+?[0-9][0-9 ()-]{6,}$"
field_types:
  name: {expected: plain, forbidden: [email, phone]}
  contact: {expected: email}
`

func testEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(testRules), 0644); err != nil {
		t.Fatal(err)
	}
	cat, err := rules.Load(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return New(cat, zerolog.Nop())
}

func typesOf(incs []quality.Inconsistency) []quality.InconsistencyType {
	out := make([]quality.InconsistencyType, len(incs))
	for i, inc := range incs {
		out[i] = inc.Type
	}
	return out
}

func TestDetectFormat(t *testing.T) {
	e := testEngine(t)

	tests := []struct {
		name  string
		row   map[string]any
		found int
	}{
		{"valid date", map[string]any{"birth_date": "1990-05-01"}, 0},
		{"wrong separator", map[string]any{"birth_date": "01/05/1990"}, 1},
		{"garbage date", map[string]any{"created_at": "soon"}, 1},
		{"empty string skipped", map[string]any{"birth_date": ""}, 0},
		{"non-date field ignored", map[string]any{"name": "01/05/1990"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incs := e.Detect(tt.row)
			if len(incs) != tt.found {
				t.Fatalf("got %d inconsistencies: %+v", len(incs), incs)
			}
			if tt.found == 1 && incs[0].Type != quality.InconsistencyFormat {
				t.Errorf("type = %v, want FORMAT", incs[0].Type)
			}
		})
	}
}

func TestDetectDomain(t *testing.T) {
	e := testEngine(t)

	incs := e.Detect(map[string]any{"age": -5})
	if len(incs) != 1 || incs[0].Type != quality.InconsistencyDomain {
		t.Fatalf("age=-5: %+v", incs)
	}
	if incs[0].Field != "age" {
		t.Errorf("field = %q", incs[0].Field)
	}

	if incs := e.Detect(map[string]any{"age": 35}); len(incs) != 0 {
		t.Errorf("age=35 should be clean: %+v", incs)
	}

	// string numerics are coerced
	if incs := e.Detect(map[string]any{"percentage": "150"}); len(incs) != 1 {
		t.Errorf("percentage=150 (string): %+v", incs)
	}
}

func TestDetectTemporal(t *testing.T) {
	e := testEngine(t)

	incs := e.Detect(map[string]any{"start_date": "2024-05-01", "end_date": "2024-04-01"})
	if len(incs) != 1 || incs[0].Type != quality.InconsistencyTemporal {
		t.Fatalf("inverted pair: %+v", incs)
	}
	if incs[0].Field != "end_date" {
		t.Errorf("temporal finding should land on the end field, got %q", incs[0].Field)
	}

	if incs := e.Detect(map[string]any{"start_date": "2024-04-01", "end_date": "2024-05-01"}); len(incs) != 0 {
		t.Errorf("ordered pair should be clean: %+v", incs)
	}

	// equal dates are fine
	if incs := e.Detect(map[string]any{"start_date": "2024-04-01", "end_date": "2024-04-01"}); len(incs) != 0 {
		t.Errorf("equal dates should be clean: %+v", incs)
	}

	// unparseable end is a FORMAT finding only, never TEMPORAL
	incs = e.Detect(map[string]any{"start_date": "2024-04-01", "end_date": "not a date"})
	for _, inc := range incs {
		if inc.Type == quality.InconsistencyTemporal {
			t.Errorf("unparseable date produced TEMPORAL: %+v", inc)
		}
	}
}

func TestDetectReferential(t *testing.T) {
	e := testEngine(t)

	incs := e.Detect(map[string]any{"status": "shipped", "carrier": ""})
	if len(incs) != 1 || incs[0].Type != quality.InconsistencyReferential {
		t.Fatalf("invalid combination: %+v", incs)
	}
	if incs[0].Message != "shipped orders need a carrier" {
		t.Errorf("message = %q", incs[0].Message)
	}

	if incs := e.Detect(map[string]any{"status": "shipped", "carrier": "dhl"}); len(incs) != 0 {
		t.Errorf("valid combination flagged: %+v", incs)
	}
	if incs := e.Detect(map[string]any{"status": "pending", "carrier": ""}); len(incs) != 0 {
		t.Errorf("non-matching first value flagged: %+v", incs)
	}
}

func TestDetectStatistical(t *testing.T) {
	e := testEngine(t)

	incs := e.Detect(map[string]any{"revenue": 2_000_000.0})
	if len(incs) != 1 || incs[0].Type != quality.InconsistencyStatistical {
		t.Fatalf("magnitude outlier: %+v", incs)
	}

	incs = e.Detect(map[string]any{"revenue": -2_000_000.0})
	if len(incs) != 1 {
		t.Fatalf("negative magnitude outlier: %+v", incs)
	}

	if incs := e.Detect(map[string]any{"revenue": 999_999.0}); len(incs) != 0 {
		t.Errorf("below threshold flagged: %+v", incs)
	}
}

func TestDetectSemantic(t *testing.T) {
	e := testEngine(t)

	incs := e.Detect(map[string]any{"name": "alice@example.com"})
	if len(incs) != 1 || incs[0].Type != quality.InconsistencySemantic {
		t.Fatalf("email in name field: %+v", incs)
	}

	if incs := e.Detect(map[string]any{"name": "Alice Cooper"}); len(incs) != 0 {
		t.Errorf("plain name flagged: %+v", incs)
	}

	// expected type matching wins even if another signature also matches
	if incs := e.Detect(map[string]any{"contact": "alice@example.com"}); len(incs) != 0 {
		t.Errorf("declared email field flagged: %+v", incs)
	}
}

func TestDetectMultipleTypesOnOneField(t *testing.T) {
	e := testEngine(t)

	// age both out of domain and beyond the outlier threshold
	incs := e.Detect(map[string]any{"age": 2_000_000.0})
	types := typesOf(incs)
	want := []quality.InconsistencyType{quality.InconsistencyDomain, quality.InconsistencyStatistical}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("types = %v, want %v", types, want)
	}
}

func TestDetectEveryFindingNamesAnExistingField(t *testing.T) {
	e := testEngine(t)
	row := map[string]any{
		"age":        -3,
		"birth_date": "bad",
		"name":       "bob@example.com",
		"revenue":    5_000_000.0,
		"start_date": "2024-02-02",
		"end_date":   "2024-01-01",
	}
	for _, inc := range e.Detect(row) {
		if _, ok := row[inc.Field]; !ok {
			t.Errorf("finding names missing field %q", inc.Field)
		}
	}
}

func TestDetectDeterministic(t *testing.T) {
	e := testEngine(t)
	row := map[string]any{
		"age":        150,
		"percentage": -1,
		"birth_date": "nope",
		"name":       "x@y.zz",
		"revenue":    math.Inf(1),
	}
	first := e.Detect(row)
	for i := 0; i < 10; i++ {
		if got := e.Detect(row); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differed:\n%+v\nvs\n%+v", i, got, first)
		}
	}
}
