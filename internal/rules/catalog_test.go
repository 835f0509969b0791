package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/quality"
)

const testRules = `
version: 3
date_format: "2006-01-02"
date_field_patterns: ["*date*", "*_at"]
domains:
  age: {min: 0, max: 120}
temporal_pairs:
  - {start: start_date, end: end_date}
referential:
  - {field_1: status, value_1: shipped, field_2: carrier, value_2: ""}
outlier_threshold: 500000
type_signatures:
  email: "^[^@\\s]+@[^@\\s]+\\.[^@\\s]+$"
field_types:
  contact: {expected: email}
strategies:
  - field: "age"
    type: DOMAIN
    action: CLAMP_MIN
    confidence: 0.92
  - field: "*_score"
    type: STATISTICAL
    action: RESET_NULL
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cat, err := Load(writeRules(t, testRules), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := cat.Current()

	if c.Version != 3 {
		t.Errorf("version = %d, want 3", c.Version)
	}
	if c.OutlierThreshold != 500000 {
		t.Errorf("outlier threshold = %g", c.OutlierThreshold)
	}

	if !c.IsDateField("birth_date") || !c.IsDateField("created_at") {
		t.Error("date field patterns should match birth_date and created_at")
	}
	if c.IsDateField("name") {
		t.Error("name should not be a date field")
	}

	r, ok := c.Domain("age")
	if !ok || r.Min != 0 || r.Max != 120 {
		t.Errorf("Domain(age) = %+v, %v", r, ok)
	}
	if _, ok := c.Domain("salary"); ok {
		t.Error("salary should have no domain")
	}
}

func TestLoadDefaults(t *testing.T) {
	cat, err := Load(writeRules(t, "version: 1\n"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := cat.Current()
	if c.DateFormat != "2006-01-02" {
		t.Errorf("default date format = %q", c.DateFormat)
	}
	if c.OutlierThreshold != 1_000_000 {
		t.Errorf("default outlier threshold = %g", c.OutlierThreshold)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), zerolog.Nop())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeRules(t, "version: [not a scalar"), zerolog.Nop())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}
}

func TestMalformedSignatureSkipped(t *testing.T) {
	cat, err := Load(writeRules(t, `
version: 1
type_signatures:
  good: "^ok$"
  bad: "([unclosed"
`), zerolog.Nop())
	if err != nil {
		t.Fatalf("Load should tolerate malformed signatures: %v", err)
	}
	stats := cat.Stats()
	if stats.Signatures != 1 {
		t.Errorf("signatures = %d, want 1", stats.Signatures)
	}
	if stats.SkippedRules != 1 {
		t.Errorf("skipped = %d, want 1", stats.SkippedRules)
	}
}

func TestMatchSignatures(t *testing.T) {
	cat, err := Load(writeRules(t, testRules), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	c := cat.Current()

	got := c.MatchSignatures("user@example.com")
	if len(got) != 1 || got[0] != "email" {
		t.Errorf("MatchSignatures = %v", got)
	}
	if got := c.MatchSignatures("not an email"); len(got) != 0 {
		t.Errorf("MatchSignatures on plain text = %v", got)
	}
}

func TestMatchStrategies(t *testing.T) {
	cat, err := Load(writeRules(t, testRules), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	c := cat.Current()

	got := c.MatchStrategies("age", quality.InconsistencyDomain)
	if len(got) != 1 || got[0].Action != ActionClampMin {
		t.Fatalf("MatchStrategies(age, DOMAIN) = %+v", got)
	}
	if got[0].Confidence != 0.92 {
		t.Errorf("confidence = %g", got[0].Confidence)
	}

	// glob patterns match across fields, defaults fill confidence
	got = c.MatchStrategies("risk_score", quality.InconsistencyStatistical)
	if len(got) != 1 || got[0].Action != ActionResetNull {
		t.Fatalf("MatchStrategies(risk_score, STATISTICAL) = %+v", got)
	}
	if got[0].Confidence != DefaultRuleConfidence {
		t.Errorf("default confidence = %g", got[0].Confidence)
	}

	if got := c.MatchStrategies("age", quality.InconsistencyFormat); len(got) != 0 {
		t.Errorf("no FORMAT strategy expected for age, got %+v", got)
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	path := writeRules(t, testRules)
	cat, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("version: [broken"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := cat.Reload(); err == nil {
		t.Fatal("Reload of a broken file should fail")
	}

	// previous compiled set still serves
	if cat.Current().Version != 3 {
		t.Errorf("version after failed reload = %d, want 3", cat.Current().Version)
	}
}

func TestReloadSwapsOnSuccess(t *testing.T) {
	path := writeRules(t, testRules)
	cat, err := Load(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("version: 4\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := cat.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if cat.Current().Version != 4 {
		t.Errorf("version after reload = %d, want 4", cat.Current().Version)
	}
}
