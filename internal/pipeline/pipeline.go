// Package pipeline wires detection, arbitration, persistence, review
// enqueueing, and KPI capture into the end-to-end correction flow.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/correct"
	"github.com/tmercier/fieldmend/internal/detect"
	"github.com/tmercier/fieldmend/internal/quality"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	SaveCorrection(ctx context.Context, rec *quality.CorrectionRecord) error
}

// Reviewer enqueues corrections that need a human.
type Reviewer interface {
	EnqueueForReview(ctx context.Context, rec *quality.CorrectionRecord, priority int) (string, error)
}

// KPIRecorder captures a snapshot after a batch. A nil recorder
// disables capture.
type KPIRecorder interface {
	Snapshot(ctx context.Context, datasetID string, since time.Time, extra map[string]float64) (*quality.KPISnapshot, error)
}

// Pipeline runs records through detect, correct, persist, enqueue.
type Pipeline struct {
	engine   *detect.Engine
	arbiter  *correct.Arbiter
	store    Store
	reviewer Reviewer
	kpis     KPIRecorder
	log      zerolog.Logger

	// AutoApply controls whether AUTO_CORRECTED outcomes mutate the
	// record, or are only recorded.
	AutoApply bool
}

// New creates a Pipeline. reviewer and kpis may be nil.
func New(engine *detect.Engine, arbiter *correct.Arbiter, st Store, reviewer Reviewer, kpis KPIRecorder, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		engine:    engine,
		arbiter:   arbiter,
		store:     st,
		reviewer:  reviewer,
		kpis:      kpis,
		log:       log,
		AutoApply: true,
	}
}

// RecordResult is the outcome for one record.
type RecordResult struct {
	RecordID        string                     `json:"record_id,omitempty"`
	Fields          map[string]any             `json:"fields"`
	Inconsistencies []quality.Inconsistency    `json:"inconsistencies"`
	Corrections     []quality.CorrectionRecord `json:"corrections"`
	AutoApplied     int                        `json:"auto_applied"`
	Enqueued        int                        `json:"enqueued"`
}

// ProcessRecord runs one record through the full flow. The record's
// fields are mutated in place by auto-applied corrections.
func (p *Pipeline) ProcessRecord(ctx context.Context, datasetID, recordID string, row map[string]any) (*RecordResult, error) {
	return p.processOne(ctx, datasetID, recordID, row, nil)
}

func (p *Pipeline) processOne(ctx context.Context, datasetID, recordID string, row map[string]any, fieldCtx map[string][]float64) (*RecordResult, error) {
	incs := p.engine.Detect(row)
	out := p.arbiter.CorrectWithContext(ctx, row, incs, fieldCtx, p.AutoApply)

	res := &RecordResult{
		RecordID:        recordID,
		Fields:          row,
		Inconsistencies: incs,
		Corrections:     out.Corrections,
		AutoApplied:     out.AutoApplied,
	}

	for i := range out.Corrections {
		rec := &out.Corrections[i]
		rec.DatasetID = datasetID
		if err := p.store.SaveCorrection(ctx, rec); err != nil {
			return nil, err
		}
		if rec.Status != quality.StatusRequiresReview || p.reviewer == nil {
			continue
		}
		if _, err := p.reviewer.EnqueueForReview(ctx, rec, priorityFor(rec.Confidence)); err != nil {
			return nil, err
		}
		res.Enqueued++
	}
	return res, nil
}

// priorityFor maps confidence onto queue priority: the less sure the
// pipeline was, the sooner a human should look.
func priorityFor(confidence float64) int {
	p := int(confidence * 10)
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return p
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	Records     []RecordResult       `json:"records"`
	AutoApplied int                  `json:"auto_applied"`
	Enqueued    int                  `json:"enqueued"`
	Detected    int                  `json:"detected"`
	Elapsed     time.Duration        `json:"-"`
	Snapshot    *quality.KPISnapshot `json:"kpi_snapshot,omitempty"`
}

// ProcessBatch runs records together so numeric corrections can use the
// batch's per-field distributions as context, then captures a KPI
// snapshot including the measured processing time per 1000 rows.
func (p *Pipeline) ProcessBatch(ctx context.Context, datasetID string, rows []map[string]any) (*BatchResult, error) {
	start := time.Now()
	fieldCtx := correct.BuildFieldContext(rows)

	res := &BatchResult{}
	for i, row := range rows {
		rr, err := p.processOne(ctx, datasetID, fmt.Sprintf("%d", i), row, fieldCtx)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		res.Records = append(res.Records, *rr)
		res.AutoApplied += rr.AutoApplied
		res.Enqueued += rr.Enqueued
		res.Detected += len(rr.Inconsistencies)
	}
	res.Elapsed = time.Since(start)

	p.log.Info().Int("rows", len(rows)).Int("detected", res.Detected).
		Int("auto", res.AutoApplied).Int("enqueued", res.Enqueued).
		Dur("elapsed", res.Elapsed).Msg("batch processed")

	if p.kpis != nil && len(rows) > 0 {
		perThousand := res.Elapsed.Seconds() / float64(len(rows)) * 1000
		snap, err := p.kpis.Snapshot(ctx, datasetID, start.Add(-time.Second), map[string]float64{
			"processing_time_per_1000_rows": perThousand,
		})
		if err != nil {
			p.log.Warn().Err(err).Msg("kpi snapshot failed")
		} else {
			res.Snapshot = snap
		}
	}
	return res, nil
}
