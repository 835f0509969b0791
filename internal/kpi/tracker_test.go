package kpi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/quality"
)

// fakeStore is an in-memory kpi.Store.
type fakeStore struct {
	corrections []quality.CorrectionRecord
	decisions   []quality.ValidationDecision
	snapshots   []quality.KPISnapshot
}

func (f *fakeStore) RecentCorrections(context.Context, string, time.Time) ([]quality.CorrectionRecord, error) {
	return f.corrections, nil
}

func (f *fakeStore) AutoValidationDecisions(context.Context, time.Time) ([]quality.ValidationDecision, error) {
	return f.decisions, nil
}

func (f *fakeStore) SaveKPISnapshot(_ context.Context, snap *quality.KPISnapshot) error {
	f.snapshots = append(f.snapshots, *snap)
	return nil
}

func (f *fakeStore) RecentKPISnapshots(context.Context, string, time.Time) ([]quality.KPISnapshot, error) {
	return f.snapshots, nil
}

func correction(conf float64, auto bool) quality.CorrectionRecord {
	return quality.CorrectionRecord{Confidence: conf, Auto: auto}
}

// fakeImprovement is a canned ImprovementSource.
type fakeImprovement struct {
	rate float64
	ok   bool
	err  error
}

func (f *fakeImprovement) ImprovementRate(context.Context) (float64, bool, error) {
	return f.rate, f.ok, f.err
}

func TestCompute(t *testing.T) {
	st := &fakeStore{
		corrections: []quality.CorrectionRecord{
			correction(0.95, true),
			correction(0.92, true),
			correction(0.85, false),
			correction(0.40, false),
		},
		decisions: []quality.ValidationDecision{
			quality.DecisionAccept,
			quality.DecisionAccept,
			quality.DecisionModify,
			quality.DecisionReject,
		},
	}
	tr := New(st, nil, zerolog.Nop())

	kpis, err := tr.Compute(context.Background(), "", time.Time{})
	if err != nil {
		t.Fatal(err)
	}

	// 3 of 4 corrections at or above 0.8
	if got := kpis[MetricDetectionRate]; got != 0.75 {
		t.Errorf("detection rate = %v, want 0.75", got)
	}
	if got := kpis[MetricAutoRate]; got != 0.5 {
		t.Errorf("auto rate = %v, want 0.5", got)
	}
	// accept + modify count as correct auto-corrections
	if got := kpis[MetricPrecision]; got != 0.75 {
		t.Errorf("precision = %v, want 0.75", got)
	}
	wantAvg := (0.95 + 0.92 + 0.85 + 0.40) / 4
	if got := kpis[MetricAvgConfidence]; got != wantAvg {
		t.Errorf("avg confidence = %v, want %v", got, wantAvg)
	}
}

func TestComputeEmptyWindow(t *testing.T) {
	tr := New(&fakeStore{}, nil, zerolog.Nop())
	kpis, err := tr.Compute(context.Background(), "", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if kpis[MetricDetectionRate] != 1.0 {
		t.Errorf("empty window detection rate = %v, want 1.0", kpis[MetricDetectionRate])
	}
	if kpis[MetricPrecision] != 1.0 {
		t.Errorf("unaudited precision = %v, want 1.0", kpis[MetricPrecision])
	}
}

func TestCompliance(t *testing.T) {
	kpis := map[string]float64{
		MetricDetectionRate:  0.80, // below 0.95
		MetricPrecision:      0.95, // above 0.90
		MetricAutoRate:       0.70, // exactly at target
		MetricProcessingTime: 4.0,  // under 5.0: lower is better
		MetricImprovement:    0.01, // below 0.05
	}
	c := Compliance(kpis)

	tests := []struct {
		metric string
		want   bool
	}{
		{MetricDetectionRate, false},
		{MetricPrecision, true},
		{MetricAutoRate, true},
		{MetricProcessingTime, true},
		{MetricImprovement, false},
	}
	for _, tt := range tests {
		if c[tt.metric] != tt.want {
			t.Errorf("compliance[%s] = %v, want %v", tt.metric, c[tt.metric], tt.want)
		}
	}
}

func TestComplianceProcessingTimeLowerIsBetter(t *testing.T) {
	c := Compliance(map[string]float64{MetricProcessingTime: 9.0})
	if c[MetricProcessingTime] {
		t.Error("9s per 1000 rows must fail a 5s target")
	}
}

func TestComplianceSkipsAbsentMetrics(t *testing.T) {
	c := Compliance(map[string]float64{MetricAutoRate: 0.9})
	if len(c) != 1 {
		t.Errorf("compliance = %v, want only auto rate", c)
	}
}

func TestAlerts(t *testing.T) {
	kpis := map[string]float64{
		MetricDetectionRate: 0.80,
		MetricAutoRate:      0.90,
	}
	alerts := Alerts(kpis)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %+v", alerts)
	}
	a := alerts[0]
	if a.Metric != MetricDetectionRate || a.Current != 0.80 || a.Target != 0.95 {
		t.Errorf("alert = %+v", a)
	}
}

func TestComputeMergesImprovementRate(t *testing.T) {
	st := &fakeStore{corrections: []quality.CorrectionRecord{correction(0.95, true)}}
	tr := New(st, &fakeImprovement{rate: 0.06, ok: true}, zerolog.Nop())

	kpis, err := tr.Compute(context.Background(), "", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if got := kpis[MetricImprovement]; got != 0.06 {
		t.Errorf("improvement = %v, want 0.06", got)
	}

	snap, err := tr.Snapshot(context.Background(), "", time.Time{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Compliance[MetricImprovement] {
		t.Error("6%/month meets the 5% target")
	}
}

func TestComputeSkipsUnmeasurableImprovement(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeImprovement
	}{
		{"too few months", &fakeImprovement{rate: 0, ok: false}},
		{"source error", &fakeImprovement{err: errors.New("store down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(&fakeStore{}, tt.src, zerolog.Nop())
			kpis, err := tr.Compute(context.Background(), "", time.Time{})
			if err != nil {
				t.Fatal(err)
			}
			if _, ok := kpis[MetricImprovement]; ok {
				t.Errorf("improvement must be absent, got %v", kpis[MetricImprovement])
			}
		})
	}
}

func TestSnapshotPersistsAndMergesExtras(t *testing.T) {
	st := &fakeStore{corrections: []quality.CorrectionRecord{correction(0.95, true)}}
	tr := New(st, nil, zerolog.Nop())

	snap, err := tr.Snapshot(context.Background(), "ds1", time.Time{}, map[string]float64{
		MetricProcessingTime: 2.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if snap.KPIs[MetricProcessingTime] != 2.5 {
		t.Errorf("merged extra missing: %+v", snap.KPIs)
	}
	if !snap.Compliance[MetricProcessingTime] {
		t.Error("2.5s per 1000 rows meets the 5s target")
	}
	if snap.DatasetID != "ds1" {
		t.Errorf("dataset = %q", snap.DatasetID)
	}
	if len(st.snapshots) != 1 {
		t.Errorf("persisted snapshots = %d", len(st.snapshots))
	}
}
