// Package kpi computes the pipeline's quality metrics against fixed
// targets and keeps their history for trend reporting.
package kpi

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/quality"
)

// Metric names. processing_time_per_1000_rows is set by the caller that
// measured the batch; the rest derive from stored records.
const (
	MetricDetectionRate  = "detection_rate"
	MetricAutoRate       = "auto_correction_rate"
	MetricPrecision      = "auto_correction_precision"
	MetricAvgConfidence  = "avg_confidence"
	MetricProcessingTime = "processing_time_per_1000_rows"
	MetricImprovement    = "monthly_accuracy_improvement"
)

// Targets are the contractual thresholds. processing time is
// lower-is-better; everything else is higher-is-better.
var Targets = map[string]float64{
	MetricDetectionRate:  0.95,
	MetricPrecision:      0.90,
	MetricAutoRate:       0.70,
	MetricProcessingTime: 5.0,
	MetricImprovement:    0.05,
}

// confidentDetectionFloor: a detection counts toward the detection-rate
// proxy when its best candidate scored at least this.
const confidentDetectionFloor = 0.8

// Store is the persistence surface the tracker needs.
type Store interface {
	RecentCorrections(ctx context.Context, datasetID string, since time.Time) ([]quality.CorrectionRecord, error)
	AutoValidationDecisions(ctx context.Context, since time.Time) ([]quality.ValidationDecision, error)
	SaveKPISnapshot(ctx context.Context, snap *quality.KPISnapshot) error
	RecentKPISnapshots(ctx context.Context, datasetID string, since time.Time) ([]quality.KPISnapshot, error)
}

// ImprovementSource reports the measured month-over-month accuracy
// gain. ok is false while the corpus is too young to measure one.
// *learn.Engine satisfies it.
type ImprovementSource interface {
	ImprovementRate(ctx context.Context) (rate float64, ok bool, err error)
}

// Tracker computes and persists KPI snapshots.
type Tracker struct {
	store Store
	trend ImprovementSource
	log   zerolog.Logger
}

// New creates a Tracker. trend may be nil, leaving the improvement
// metric out of computed readings.
func New(st Store, trend ImprovementSource, log zerolog.Logger) *Tracker {
	return &Tracker{store: st, trend: trend, log: log}
}

// Compute derives the current KPI values over the window. True recall
// is unknowable without labeled ground truth, so detection_rate is
// proxied by the fraction of detections the pipeline resolved with
// confidence >= 0.8.
func (t *Tracker) Compute(ctx context.Context, datasetID string, since time.Time) (map[string]float64, error) {
	recs, err := t.store.RecentCorrections(ctx, datasetID, since)
	if err != nil {
		return nil, err
	}

	kpis := map[string]float64{
		MetricDetectionRate: 1.0,
		MetricAutoRate:      0,
		MetricAvgConfidence: 0,
	}

	if len(recs) > 0 {
		var confident, auto int
		var confSum float64
		for _, r := range recs {
			if r.Confidence >= confidentDetectionFloor {
				confident++
			}
			if r.Auto {
				auto++
			}
			confSum += r.Confidence
		}
		n := float64(len(recs))
		kpis[MetricDetectionRate] = float64(confident) / n
		kpis[MetricAutoRate] = float64(auto) / n
		kpis[MetricAvgConfidence] = confSum / n
	}

	decisions, err := t.store.AutoValidationDecisions(ctx, since)
	if err != nil {
		return nil, err
	}
	// No audited auto-corrections means no observed failures; precision
	// defaults to 1.0 until sampling says otherwise.
	precision := 1.0
	if len(decisions) > 0 {
		var good int
		for _, d := range decisions {
			if d == quality.DecisionAccept || d == quality.DecisionModify {
				good++
			}
		}
		precision = float64(good) / float64(len(decisions))
	}
	kpis[MetricPrecision] = precision

	if t.trend != nil {
		rate, ok, err := t.trend.ImprovementRate(ctx)
		switch {
		case err != nil:
			t.log.Warn().Err(err).Msg("improvement rate unavailable")
		case ok:
			kpis[MetricImprovement] = rate
		}
	}

	return kpis, nil
}

// Compliance evaluates each KPI that has a target. Processing time
// passes when at or under target; every other metric passes at or above.
func Compliance(kpis map[string]float64) map[string]bool {
	out := make(map[string]bool)
	for name, target := range Targets {
		value, ok := kpis[name]
		if !ok {
			continue
		}
		if name == MetricProcessingTime {
			out[name] = value <= target
		} else {
			out[name] = value >= target
		}
	}
	return out
}

// Alert describes one KPI that missed its target.
type Alert struct {
	Metric  string  `json:"metric"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
}

func (a Alert) String() string {
	return fmt.Sprintf("%s at %.3f (target %.3f)", a.Metric, a.Current, a.Target)
}

// Alerts lists the KPIs currently out of compliance, sorted by metric
// name for stable output.
func Alerts(kpis map[string]float64) []Alert {
	var out []Alert
	for name, ok := range Compliance(kpis) {
		if ok {
			continue
		}
		out = append(out, Alert{Metric: name, Current: kpis[name], Target: Targets[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

// Snapshot computes, evaluates, and persists one KPI reading. Extra
// metrics measured by the caller (processing time, improvement rate)
// are merged in before evaluation.
func (t *Tracker) Snapshot(ctx context.Context, datasetID string, since time.Time, extra map[string]float64) (*quality.KPISnapshot, error) {
	kpis, err := t.Compute(ctx, datasetID, since)
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		kpis[k] = v
	}

	snap := &quality.KPISnapshot{
		Timestamp:  time.Now().UTC(),
		DatasetID:  datasetID,
		KPIs:       kpis,
		Targets:    Targets,
		Compliance: Compliance(kpis),
	}
	if err := t.store.SaveKPISnapshot(ctx, snap); err != nil {
		return nil, err
	}

	for _, a := range Alerts(kpis) {
		t.log.Warn().Str("metric", a.Metric).Float64("current", a.Current).
			Float64("target", a.Target).Msg("kpi below target")
	}
	return snap, nil
}

// History returns the stored snapshots in the window, oldest first.
func (t *Tracker) History(ctx context.Context, datasetID string, since time.Time) ([]quality.KPISnapshot, error) {
	return t.store.RecentKPISnapshots(ctx, datasetID, since)
}
