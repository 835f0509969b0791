// Package learn drives continuous improvement: it watches the training
// corpus grow, retrains the text-correction model when enough validated
// examples have accumulated, and tracks month-over-month accuracy.
package learn

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/quality"
)

const (
	// MinTrainingExamples is the corpus size below which retraining is
	// refused (unless forced).
	MinTrainingExamples = 50
	// RetrainEveryN triggers an advisory retrain each time the corpus
	// crosses a multiple of this count.
	RetrainEveryN = 100
)

// Store is the persistence surface the engine needs.
type Store interface {
	CountTrainingExamples(ctx context.Context) (int, error)
	ListTrainingExamples(ctx context.Context) ([]quality.TrainingExample, error)
	PublishModelVersion(ctx context.Context, mv *quality.ModelVersion) error
	ActiveModelVersion(ctx context.Context) (*quality.ModelVersion, error)
}

// Trainer fine-tunes the text model on the corpus and returns the path
// of the produced artifact.
type Trainer interface {
	FineTune(ctx context.Context, examples []quality.TrainingExample, epochs int) (string, error)
}

// Engine owns the retraining lifecycle.
type Engine struct {
	store   Store
	trainer Trainer
	log     zerolog.Logger
}

// New creates an Engine.
func New(st Store, trainer Trainer, log zerolog.Logger) *Engine {
	return &Engine{store: st, trainer: trainer, log: log}
}

// ShouldRetrain reports whether the corpus has just crossed a retrain
// boundary. The signal is advisory; retraining only happens when asked.
func (e *Engine) ShouldRetrain(ctx context.Context) (bool, int, error) {
	total, err := e.store.CountTrainingExamples(ctx)
	if err != nil {
		return false, 0, err
	}
	return total >= MinTrainingExamples && total%RetrainEveryN == 0, total, nil
}

// RetrainResult reports one retraining run.
type RetrainResult struct {
	Version       *quality.ModelVersion `json:"version,omitempty"`
	Skipped       bool                  `json:"skipped"`
	SkippedReason string                `json:"skipped_reason,omitempty"`
	ExampleCount  int                   `json:"example_count"`
}

// Retrain fine-tunes on the full corpus and publishes the result as the
// active model version. With too small a corpus it skips (not an error)
// unless force is set.
func (e *Engine) Retrain(ctx context.Context, epochs int, force bool) (*RetrainResult, error) {
	total, err := e.store.CountTrainingExamples(ctx)
	if err != nil {
		return nil, err
	}
	if !force && total < MinTrainingExamples {
		e.log.Info().Int("examples", total).Int("min", MinTrainingExamples).
			Msg("retrain skipped, corpus too small")
		return &RetrainResult{
			Skipped:       true,
			SkippedReason: fmt.Sprintf("%d examples, need %d", total, MinTrainingExamples),
			ExampleCount:  total,
		}, nil
	}

	examples, err := e.store.ListTrainingExamples(ctx)
	if err != nil {
		return nil, err
	}
	if epochs <= 0 {
		epochs = 3
	}

	start := time.Now()
	modelPath, err := e.trainer.FineTune(ctx, examples, epochs)
	if err != nil {
		return nil, fmt.Errorf("fine-tune on %d examples: %w", len(examples), err)
	}

	mv := &quality.ModelVersion{
		Version:               "v" + start.UTC().Format("20060102_150405"),
		TrainedAt:             start.UTC(),
		TrainingExamplesCount: len(examples),
		NumEpochs:             epochs,
		DurationSeconds:       time.Since(start).Seconds(),
		ModelPath:             modelPath,
		Status:                quality.ModelActive,
	}
	if err := e.store.PublishModelVersion(ctx, mv); err != nil {
		return nil, err
	}

	e.log.Info().Str("version", mv.Version).Int("examples", len(examples)).
		Int("epochs", epochs).Float64("seconds", mv.DurationSeconds).
		Msg("model retrained and published")
	return &RetrainResult{Version: mv, ExampleCount: len(examples)}, nil
}

// ActiveVersion returns the currently published model version.
func (e *Engine) ActiveVersion(ctx context.Context) (*quality.ModelVersion, error) {
	return e.store.ActiveModelVersion(ctx)
}

// MonthlyAccuracy is the model's hit rate for one calendar month.
type MonthlyAccuracy struct {
	Month    string  `json:"month"`
	Total    int     `json:"total"`
	Hits     int     `json:"hits"`
	Accuracy float64 `json:"accuracy"`
}

// Trend summarizes the accuracy trajectory across months.
type Trend struct {
	Months          []MonthlyAccuracy `json:"months"`
	ImprovementRate float64           `json:"improvement_rate"`
	MeetsTarget     bool              `json:"meets_target"`
}

// MonthlyImprovementTarget is the required relative accuracy gain per
// month.
const MonthlyImprovementTarget = 0.05

// AccuracyTrend groups the corpus by month and scores each month by how
// often the model's suggestion matched the human-approved value. The
// improvement rate is the relative gain between the first and last
// month, averaged over the months observed.
func (e *Engine) AccuracyTrend(ctx context.Context) (*Trend, error) {
	examples, err := e.store.ListTrainingExamples(ctx)
	if err != nil {
		return nil, err
	}

	byMonth := make(map[string]*MonthlyAccuracy)
	for _, ex := range examples {
		if ex.MLSuggested == "" {
			continue
		}
		month := ex.Timestamp.UTC().Format("2006-01")
		m := byMonth[month]
		if m == nil {
			m = &MonthlyAccuracy{Month: month}
			byMonth[month] = m
		}
		m.Total++
		if ex.MLSuggested == ex.OutputText {
			m.Hits++
		}
	}

	trend := &Trend{}
	for _, m := range byMonth {
		if m.Total > 0 {
			m.Accuracy = float64(m.Hits) / float64(m.Total)
		}
		trend.Months = append(trend.Months, *m)
	}
	sort.Slice(trend.Months, func(i, j int) bool {
		return trend.Months[i].Month < trend.Months[j].Month
	})

	if n := len(trend.Months); n >= 2 {
		first := trend.Months[0].Accuracy
		last := trend.Months[n-1].Accuracy
		if first > 0 {
			trend.ImprovementRate = (last - first) / first / float64(n)
		}
	}
	trend.MeetsTarget = trend.ImprovementRate >= MonthlyImprovementTarget
	return trend, nil
}

// ImprovementRate reports the trend's per-month accuracy gain for KPI
// snapshots. ok is false until two months of model-suggested
// validations exist, so a young corpus never trips the improvement
// alert.
func (e *Engine) ImprovementRate(ctx context.Context) (float64, bool, error) {
	trend, err := e.AccuracyTrend(ctx)
	if err != nil {
		return 0, false, err
	}
	return trend.ImprovementRate, len(trend.Months) >= 2, nil
}
