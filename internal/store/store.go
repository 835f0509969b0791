// Package store is the Postgres document store for the correction
// pipeline: corrections, the validation queue, validation records, the
// training corpus, model versions, and KPI history.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tmercier/fieldmend/internal/quality"
)

// Store wraps a pgx pool with the pipeline's queries.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SaveCorrection persists one correction record. Records are immutable
// until validated, so this is insert-only.
func (s *Store) SaveCorrection(ctx context.Context, rec *quality.CorrectionRecord) error {
	oldJSON, _ := json.Marshal(rec.OldValue)
	newJSON, _ := json.Marshal(rec.NewValue)
	candJSON, _ := json.Marshal(rec.Candidates)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO corrections
			(id, dataset_id, field, inconsistency_type, old_value, new_value,
			 candidates, confidence, auto, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.DatasetID, rec.Field, rec.Type, oldJSON, newJSON,
		candJSON, rec.Confidence, rec.Auto, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save correction %s: %w", rec.ID, err)
	}
	return nil
}

// GetCorrection fetches one correction by id.
func (s *Store) GetCorrection(ctx context.Context, id string) (*quality.CorrectionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, dataset_id, field, inconsistency_type, old_value, new_value,
		       candidates, confidence, auto, status, created_at
		FROM corrections WHERE id = $1
	`, id)
	rec, err := scanCorrection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("correction %s: %w", id, quality.ErrNotFound)
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCorrection(row rowScanner) (*quality.CorrectionRecord, error) {
	var rec quality.CorrectionRecord
	var oldJSON, newJSON, candJSON []byte
	err := row.Scan(&rec.ID, &rec.DatasetID, &rec.Field, &rec.Type, &oldJSON, &newJSON,
		&candJSON, &rec.Confidence, &rec.Auto, &rec.Status, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(oldJSON, &rec.OldValue)
	json.Unmarshal(newJSON, &rec.NewValue)
	json.Unmarshal(candJSON, &rec.Candidates)
	return &rec, nil
}

// Enqueue adds a correction to the validation queue. Re-enqueueing the
// same correction returns the existing item id, so retries are safe.
func (s *Store) Enqueue(ctx context.Context, correctionID string, priority int) (string, error) {
	itemID := quality.NewID("vqi")
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO validation_queue (id, correction_id, queue_status, priority)
		VALUES ($1, $2, 'pending_review', $3)
		ON CONFLICT (correction_id) DO UPDATE SET priority = EXCLUDED.priority
		RETURNING id
	`, itemID, correctionID, priority).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("enqueue correction %s: %w", correctionID, err)
	}
	return id, nil
}

// PendingOptions filter the review queue listing.
type PendingOptions struct {
	ValidatorID   string // include items already assigned to this validator
	Limit         int
	MinConfidence float64
	MaxConfidence float64
}

// PendingItems lists review-pending items ordered so the
// lowest-confidence, highest-priority, oldest items surface first.
func (s *Store) PendingItems(ctx context.Context, opts PendingOptions) ([]quality.ValidationQueueItem, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	maxConf := opts.MaxConfidence
	if maxConf == 0 {
		maxConf = 1
	}

	rows, err := s.pool.Query(ctx, `
		SELECT q.id, q.correction_id, c.field, c.old_value, c.new_value,
		       c.confidence, c.inconsistency_type,
		       q.queue_status, q.priority, q.assigned_to, q.enqueued_at
		FROM validation_queue q
		JOIN corrections c ON c.id = q.correction_id
		WHERE (q.queue_status = 'pending_review'
		       OR (q.queue_status = 'assigned' AND q.assigned_to = $1))
		  AND c.confidence >= $2 AND c.confidence <= $3
		ORDER BY q.priority ASC, c.confidence ASC, q.enqueued_at ASC
		LIMIT $4
	`, opts.ValidatorID, opts.MinConfidence, maxConf, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending items: %w", err)
	}
	defer rows.Close()

	var items []quality.ValidationQueueItem
	for rows.Next() {
		var it quality.ValidationQueueItem
		var oldJSON, newJSON []byte
		if err := rows.Scan(&it.ID, &it.CorrectionID, &it.Field, &oldJSON, &newJSON,
			&it.Confidence, &it.Type, &it.QueueStatus, &it.Priority, &it.AssignedTo, &it.EnqueuedAt); err != nil {
			return nil, err
		}
		json.Unmarshal(oldJSON, &it.OldValue)
		json.Unmarshal(newJSON, &it.NewValue)
		items = append(items, it)
	}
	return items, rows.Err()
}

// Claim conditionally assigns a queue item. It succeeds only while the
// item is still pending_review, so two validators can never claim the
// same item.
func (s *Store) Claim(ctx context.Context, itemID, validatorID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE validation_queue
		SET queue_status = 'assigned', assigned_to = $1
		WHERE id = $2 AND queue_status = 'pending_review'
	`, validatorID, itemID)
	if err != nil {
		return false, fmt.Errorf("claim item %s: %w", itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteValidation records the human decision: the validation record,
// the terminal queue transition, and the training example land together.
// Both inserts are keyed by correction id, so a retried call is a no-op.
func (s *Store) CompleteValidation(ctx context.Context, rec *quality.ValidationRecord, example *quality.TrainingExample, terminal quality.QueueStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	origJSON, _ := json.Marshal(rec.OriginalValue)
	suggJSON, _ := json.Marshal(rec.SuggestedValue)
	finalJSON, _ := json.Marshal(rec.FinalValue)

	if _, err := tx.Exec(ctx, `
		INSERT INTO validations
			(id, correction_id, field, original_value, suggested_value, decision,
			 final_value, validator_id, validator_role, confidence_original,
			 validated_at, comments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (correction_id) DO NOTHING
	`, rec.ID, rec.CorrectionID, rec.Field, origJSON, suggJSON, rec.Decision,
		finalJSON, rec.ValidatorID, rec.ValidatorRole, rec.ConfidenceOriginal,
		rec.Timestamp, rec.Comments); err != nil {
		return fmt.Errorf("insert validation for %s: %w", rec.CorrectionID, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE validation_queue SET queue_status = $1 WHERE correction_id = $2
	`, terminal, rec.CorrectionID); err != nil {
		return fmt.Errorf("transition queue item for %s: %w", rec.CorrectionID, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO training_examples
			(id, correction_id, input_text, output_text, field, inconsistency_type,
			 ml_suggested, rule_suggested, human_decision, validator_id,
			 validator_role, original_confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (correction_id) DO NOTHING
	`, example.ID, example.CorrectionID, example.InputText, example.OutputText,
		example.Field, example.InconsistencyType, example.MLSuggested,
		example.RuleSuggested, example.HumanDecision, example.ValidatorID,
		example.ValidatorRole, example.OriginalConfidence, example.Timestamp); err != nil {
		return fmt.Errorf("append training example for %s: %w", rec.CorrectionID, err)
	}

	return tx.Commit(ctx)
}

// CountTrainingExamples returns the corpus size.
func (s *Store) CountTrainingExamples(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM training_examples`).Scan(&n)
	return n, err
}

// ListTrainingExamples returns the whole corpus in chronological order.
func (s *Store) ListTrainingExamples(ctx context.Context) ([]quality.TrainingExample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, correction_id, input_text, output_text, field,
		       inconsistency_type, ml_suggested, rule_suggested, human_decision,
		       validator_id, validator_role, original_confidence, created_at
		FROM training_examples
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list training examples: %w", err)
	}
	defer rows.Close()

	var out []quality.TrainingExample
	for rows.Next() {
		var ex quality.TrainingExample
		if err := rows.Scan(&ex.ID, &ex.CorrectionID, &ex.InputText, &ex.OutputText,
			&ex.Field, &ex.InconsistencyType, &ex.MLSuggested, &ex.RuleSuggested,
			&ex.HumanDecision, &ex.ValidatorID, &ex.ValidatorRole,
			&ex.OriginalConfidence, &ex.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// PublishModelVersion makes mv the active version: it is inserted active
// first, then every other version is archived, inside one transaction so
// readers never observe zero or two active versions.
func (s *Store) PublishModelVersion(ctx context.Context, mv *quality.ModelVersion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO model_versions
			(version, trained_at, training_examples_count, num_epochs,
			 duration_seconds, model_path, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'active')
	`, mv.Version, mv.TrainedAt, mv.TrainingExamplesCount, mv.NumEpochs,
		mv.DurationSeconds, mv.ModelPath); err != nil {
		return fmt.Errorf("publish model version %s: %w", mv.Version, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE model_versions SET status = 'archived' WHERE version != $1
	`, mv.Version); err != nil {
		return fmt.Errorf("archive previous versions: %w", err)
	}

	return tx.Commit(ctx)
}

// ActiveModelVersion returns the single active version, or ErrNotFound
// when no model has been trained yet.
func (s *Store) ActiveModelVersion(ctx context.Context) (*quality.ModelVersion, error) {
	var mv quality.ModelVersion
	err := s.pool.QueryRow(ctx, `
		SELECT version, trained_at, training_examples_count, num_epochs,
		       duration_seconds, model_path, status
		FROM model_versions WHERE status = 'active'
	`).Scan(&mv.Version, &mv.TrainedAt, &mv.TrainingExamplesCount, &mv.NumEpochs,
		&mv.DurationSeconds, &mv.ModelPath, &mv.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active model version: %w", quality.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

// RecentCorrections returns corrections for the KPI window, newest last.
func (s *Store) RecentCorrections(ctx context.Context, datasetID string, since time.Time) ([]quality.CorrectionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, dataset_id, field, inconsistency_type, old_value, new_value,
		       candidates, confidence, auto, status, created_at
		FROM corrections
		WHERE created_at >= $1 AND ($2 = '' OR dataset_id = $2)
		ORDER BY created_at ASC
	`, since, datasetID)
	if err != nil {
		return nil, fmt.Errorf("recent corrections: %w", err)
	}
	defer rows.Close()

	var out []quality.CorrectionRecord
	for rows.Next() {
		rec, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// AutoValidationDecisions returns the human decisions recorded against
// auto-applied corrections in the window. This feeds the auto-correction
// precision KPI.
func (s *Store) AutoValidationDecisions(ctx context.Context, since time.Time) ([]quality.ValidationDecision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT v.decision
		FROM validations v
		JOIN corrections c ON c.id = v.correction_id
		WHERE c.auto = TRUE AND v.validated_at >= $1
	`, since)
	if err != nil {
		return nil, fmt.Errorf("auto validation decisions: %w", err)
	}
	defer rows.Close()

	var out []quality.ValidationDecision
	for rows.Next() {
		var d quality.ValidationDecision
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ValidatorStat aggregates one validator's decisions.
type ValidatorStat struct {
	ValidatorID    string  `json:"validator_id"`
	Total          int     `json:"total"`
	Accepted       int     `json:"accepted"`
	Rejected       int     `json:"rejected"`
	Modified       int     `json:"modified"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// ValidatorStats aggregates acceptance rates per validator, most active
// first, for leaderboard and audit use.
func (s *Store) ValidatorStats(ctx context.Context) ([]ValidatorStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT validator_id,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE decision = 'ACCEPT'),
		       COUNT(*) FILTER (WHERE decision = 'REJECT'),
		       COUNT(*) FILTER (WHERE decision = 'MODIFY')
		FROM validations
		GROUP BY validator_id
		ORDER BY COUNT(*) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("validator stats: %w", err)
	}
	defer rows.Close()

	var out []ValidatorStat
	for rows.Next() {
		var st ValidatorStat
		if err := rows.Scan(&st.ValidatorID, &st.Total, &st.Accepted, &st.Rejected, &st.Modified); err != nil {
			return nil, err
		}
		if st.Total > 0 {
			st.AcceptanceRate = float64(st.Accepted) / float64(st.Total)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveKPISnapshot appends one snapshot to KPI history.
func (s *Store) SaveKPISnapshot(ctx context.Context, snap *quality.KPISnapshot) error {
	kpisJSON, _ := json.Marshal(snap.KPIs)
	targetsJSON, _ := json.Marshal(snap.Targets)
	complianceJSON, _ := json.Marshal(snap.Compliance)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO kpi_snapshots (taken_at, dataset_id, kpis, targets, compliance)
		VALUES ($1, $2, $3, $4, $5)
	`, snap.Timestamp, snap.DatasetID, kpisJSON, targetsJSON, complianceJSON)
	if err != nil {
		return fmt.Errorf("save kpi snapshot: %w", err)
	}
	return nil
}

// RecentKPISnapshots lists snapshots in the window, oldest first.
func (s *Store) RecentKPISnapshots(ctx context.Context, datasetID string, since time.Time) ([]quality.KPISnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT taken_at, dataset_id, kpis, targets, compliance
		FROM kpi_snapshots
		WHERE taken_at >= $1 AND ($2 = '' OR dataset_id = $2)
		ORDER BY taken_at ASC
	`, since, datasetID)
	if err != nil {
		return nil, fmt.Errorf("recent kpi snapshots: %w", err)
	}
	defer rows.Close()

	var out []quality.KPISnapshot
	for rows.Next() {
		var snap quality.KPISnapshot
		var kpisJSON, targetsJSON, complianceJSON []byte
		if err := rows.Scan(&snap.Timestamp, &snap.DatasetID, &kpisJSON, &targetsJSON, &complianceJSON); err != nil {
			return nil, err
		}
		json.Unmarshal(kpisJSON, &snap.KPIs)
		json.Unmarshal(targetsJSON, &snap.Targets)
		json.Unmarshal(complianceJSON, &snap.Compliance)
		out = append(out, snap)
	}
	return out, rows.Err()
}
