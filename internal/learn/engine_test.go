package learn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/quality"
)

// fakeStore is an in-memory learn.Store.
type fakeStore struct {
	examples []quality.TrainingExample
	versions []quality.ModelVersion
}

func (f *fakeStore) CountTrainingExamples(context.Context) (int, error) {
	return len(f.examples), nil
}

func (f *fakeStore) ListTrainingExamples(context.Context) ([]quality.TrainingExample, error) {
	return f.examples, nil
}

func (f *fakeStore) PublishModelVersion(_ context.Context, mv *quality.ModelVersion) error {
	for i := range f.versions {
		f.versions[i].Status = quality.ModelArchived
	}
	f.versions = append(f.versions, *mv)
	return nil
}

func (f *fakeStore) ActiveModelVersion(context.Context) (*quality.ModelVersion, error) {
	for i := range f.versions {
		if f.versions[i].Status == quality.ModelActive {
			return &f.versions[i], nil
		}
	}
	return nil, quality.ErrNotFound
}

// fakeTrainer returns a fixed artifact path.
type fakeTrainer struct {
	calls  int
	epochs int
}

func (f *fakeTrainer) FineTune(_ context.Context, examples []quality.TrainingExample, epochs int) (string, error) {
	f.calls++
	f.epochs = epochs
	return "/models/out.bin", nil
}

func nExamples(n int) []quality.TrainingExample {
	out := make([]quality.TrainingExample, n)
	for i := range out {
		out[i] = quality.TrainingExample{ID: fmt.Sprintf("tex-%d", i)}
	}
	return out
}

func TestShouldRetrain(t *testing.T) {
	tests := []struct {
		count int
		want  bool
	}{
		{0, false},
		{49, false},
		{50, false},  // above floor but not a multiple of 100
		{99, false},
		{100, true},
		{150, false},
		{200, true},
	}
	for _, tt := range tests {
		st := &fakeStore{examples: nExamples(tt.count)}
		e := New(st, nil, zerolog.Nop())
		got, total, err := e.ShouldRetrain(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want || total != tt.count {
			t.Errorf("ShouldRetrain with %d examples = %v (total %d), want %v", tt.count, got, total, tt.want)
		}
	}
}

func TestRetrainSkipsSmallCorpus(t *testing.T) {
	st := &fakeStore{examples: nExamples(10)}
	trainer := &fakeTrainer{}
	e := New(st, trainer, zerolog.Nop())

	res, err := e.Retrain(context.Background(), 3, false)
	if err != nil {
		t.Fatalf("skip must not be an error: %v", err)
	}
	if !res.Skipped {
		t.Fatal("want skipped result")
	}
	if trainer.calls != 0 {
		t.Error("trainer must not be invoked on skip")
	}
	if len(st.versions) != 0 {
		t.Error("no version should be published on skip")
	}
}

func TestRetrainForceOverridesFloor(t *testing.T) {
	st := &fakeStore{examples: nExamples(10)}
	trainer := &fakeTrainer{}
	e := New(st, trainer, zerolog.Nop())

	res, err := e.Retrain(context.Background(), 5, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped {
		t.Fatal("forced retrain must run")
	}
	if trainer.calls != 1 || trainer.epochs != 5 {
		t.Errorf("trainer calls=%d epochs=%d", trainer.calls, trainer.epochs)
	}
}

func TestRetrainPublishesActiveVersion(t *testing.T) {
	st := &fakeStore{examples: nExamples(100)}
	e := New(st, &fakeTrainer{}, zerolog.Nop())

	first, err := e.Retrain(context.Background(), 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if first.Version == nil || !strings.HasPrefix(first.Version.Version, "v") {
		t.Fatalf("version: %+v", first.Version)
	}
	if first.Version.TrainingExamplesCount != 100 {
		t.Errorf("examples count = %d", first.Version.TrainingExamplesCount)
	}
	if first.Version.NumEpochs != 3 {
		t.Errorf("default epochs = %d, want 3", first.Version.NumEpochs)
	}

	if _, err := e.Retrain(context.Background(), 3, false); err != nil {
		t.Fatal(err)
	}

	active := 0
	for _, v := range st.versions {
		if v.Status == quality.ModelActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active versions = %d, want exactly 1", active)
	}
}

func TestActiveVersionNotFound(t *testing.T) {
	e := New(&fakeStore{}, nil, zerolog.Nop())
	_, err := e.ActiveVersion(context.Background())
	if !errors.Is(err, quality.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func monthExample(month string, hit bool) quality.TrainingExample {
	ts, _ := time.Parse("2006-01", month)
	ex := quality.TrainingExample{
		MLSuggested: "suggested",
		OutputText:  "other",
		Timestamp:   ts,
	}
	if hit {
		ex.OutputText = "suggested"
	}
	return ex
}

func TestAccuracyTrend(t *testing.T) {
	st := &fakeStore{}
	// January: 1/2 correct. February: 2/2 correct.
	st.examples = []quality.TrainingExample{
		monthExample("2026-01", true),
		monthExample("2026-01", false),
		monthExample("2026-02", true),
		monthExample("2026-02", true),
	}
	// examples without a model suggestion are excluded entirely
	st.examples = append(st.examples, quality.TrainingExample{OutputText: "human only"})

	e := New(st, nil, zerolog.Nop())
	trend, err := e.AccuracyTrend(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(trend.Months) != 2 {
		t.Fatalf("months = %+v", trend.Months)
	}
	if trend.Months[0].Accuracy != 0.5 || trend.Months[1].Accuracy != 1.0 {
		t.Errorf("accuracies = %v, %v", trend.Months[0].Accuracy, trend.Months[1].Accuracy)
	}
	// (1.0 - 0.5) / 0.5 over 2 observed months = 0.5
	if trend.ImprovementRate != 0.5 {
		t.Errorf("improvement = %v, want 0.5", trend.ImprovementRate)
	}
	if !trend.MeetsTarget {
		t.Error("50%/month should meet the 5% target")
	}

	rate, ok, err := e.ImprovementRate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !ok || rate != 0.5 {
		t.Errorf("ImprovementRate = %v, %v; want 0.5, true", rate, ok)
	}
}

func TestAccuracyTrendSingleMonth(t *testing.T) {
	st := &fakeStore{examples: []quality.TrainingExample{monthExample("2026-01", true)}}
	e := New(st, nil, zerolog.Nop())
	trend, err := e.AccuracyTrend(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if trend.ImprovementRate != 0 {
		t.Errorf("one month cannot show improvement, got %v", trend.ImprovementRate)
	}
	if trend.MeetsTarget {
		t.Error("zero improvement misses the target")
	}

	if _, ok, err := e.ImprovementRate(context.Background()); err != nil || ok {
		t.Errorf("one month must not be measurable: ok=%v err=%v", ok, err)
	}
}

func TestCorpusTrainerWritesDataset(t *testing.T) {
	tr := &CorpusTrainer{Dir: t.TempDir()}
	path, err := tr.FineTune(context.Background(), []quality.TrainingExample{
		{InputText: "age: -5", OutputText: "5", Field: "age", InconsistencyType: quality.InconsistencyDomain, HumanDecision: quality.DecisionAccept},
		{InputText: "name: X", OutputText: "Y", Field: "name", InconsistencyType: quality.InconsistencyFormat, HumanDecision: quality.DecisionModify},
	}, 3)
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d: %q", len(lines), string(data))
	}
	if !strings.Contains(lines[0], `"input":"age: -5"`) {
		t.Errorf("first line = %s", lines[0])
	}
}
