package correct

import (
	"testing"
	"time"
)

func TestResultCacheRoundTrip(t *testing.T) {
	c := NewResultCache(time.Minute)
	req := SuggestRequest{Field: "name", Value: "jon", DateFormat: "2006-01-02"}

	if _, ok := c.Get(req, "ctx"); ok {
		t.Fatal("empty cache must miss")
	}
	c.Set(req, "ctx", Suggestion{Value: "Jon", GenScore: 0.8})

	got, ok := c.Get(req, "ctx")
	if !ok || got.Value != "Jon" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
	if _, ok := c.Get(req, "other-ctx"); ok {
		t.Error("different context must not share an entry")
	}
}

func TestResultCacheKeyedByDateFormat(t *testing.T) {
	c := NewResultCache(time.Minute)
	req := SuggestRequest{Field: "birth_date", Value: "15/04/2024", DateFormat: "2006-01-02"}
	c.Set(req, "", Suggestion{Value: "2024-04-15", GenScore: 0.9})

	// a rule reload that changes the canonical layout must not see the
	// suggestion formatted for the old one
	req.DateFormat = "02.01.2006"
	if _, ok := c.Get(req, ""); ok {
		t.Error("entry keyed on the old date format was served for the new one")
	}
}

func TestResultCacheInvalidate(t *testing.T) {
	c := NewResultCache(time.Minute)
	req := SuggestRequest{Field: "name", Value: "jon"}
	c.Set(req, "", Suggestion{Value: "Jon", GenScore: 0.8})
	if c.Len() != 1 {
		t.Fatalf("len = %d", c.Len())
	}

	c.Invalidate()
	if c.Len() != 0 {
		t.Errorf("len after invalidate = %d", c.Len())
	}
	if _, ok := c.Get(req, ""); ok {
		t.Error("invalidated entry still served")
	}
}
