// Package validation manages the human review loop: enqueueing
// uncertain corrections, claiming and listing queue items, and recording
// validator decisions so every one of them feeds the training corpus.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/quality"
	"github.com/tmercier/fieldmend/internal/queue"
	"github.com/tmercier/fieldmend/internal/store"
)

// Store is the persistence surface the manager needs.
type Store interface {
	GetCorrection(ctx context.Context, id string) (*quality.CorrectionRecord, error)
	Enqueue(ctx context.Context, correctionID string, priority int) (string, error)
	PendingItems(ctx context.Context, opts store.PendingOptions) ([]quality.ValidationQueueItem, error)
	Claim(ctx context.Context, itemID, validatorID string) (bool, error)
	CompleteValidation(ctx context.Context, rec *quality.ValidationRecord, example *quality.TrainingExample, terminal quality.QueueStatus) error
	ValidatorStats(ctx context.Context) ([]store.ValidatorStat, error)
}

// Notifier announces newly enqueued review items. *queue.Queue satisfies
// it; a nil Notifier disables notifications.
type Notifier interface {
	PushReview(ctx context.Context, msg queue.ReviewMessage) (string, error)
}

// ErrAlreadyClaimed is returned when a validator loses the claim race.
var ErrAlreadyClaimed = fmt.Errorf("item already claimed")

// Manager coordinates the validation queue.
type Manager struct {
	store    Store
	notifier Notifier
	log      zerolog.Logger
}

// New creates a Manager. notifier may be nil.
func New(st Store, notifier Notifier, log zerolog.Logger) *Manager {
	return &Manager{store: st, notifier: notifier, log: log}
}

// EnqueueForReview puts a REQUIRES_REVIEW correction on the queue.
// Priority is clamped to 1..10 (1 highest). Corrections in any other
// status are rejected: auto-applied ones never pass through review, and
// candidate-less ones have nothing to review.
func (m *Manager) EnqueueForReview(ctx context.Context, rec *quality.CorrectionRecord, priority int) (string, error) {
	if rec.Status != quality.StatusRequiresReview {
		return "", fmt.Errorf("correction %s has status %s, only %s can be enqueued",
			rec.ID, rec.Status, quality.StatusRequiresReview)
	}
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}

	itemID, err := m.store.Enqueue(ctx, rec.ID, priority)
	if err != nil {
		return "", err
	}

	if m.notifier != nil {
		_, err := m.notifier.PushReview(ctx, queue.ReviewMessage{
			ItemID:       itemID,
			CorrectionID: rec.ID,
			Field:        rec.Field,
			Priority:     priority,
			Confidence:   rec.Confidence,
		})
		if err != nil {
			// Review items are durable in Postgres; a lost
			// notification only delays pickup.
			m.log.Warn().Err(err).Str("item", itemID).Msg("review notification failed")
		}
	}

	m.log.Info().Str("item", itemID).Str("correction", rec.ID).
		Int("priority", priority).Float64("confidence", rec.Confidence).
		Msg("enqueued for review")
	return itemID, nil
}

// GetPending lists review-pending items for a validator.
func (m *Manager) GetPending(ctx context.Context, opts store.PendingOptions) ([]quality.ValidationQueueItem, error) {
	return m.store.PendingItems(ctx, opts)
}

// Assign claims a queue item for a validator. It fails with
// ErrAlreadyClaimed if someone else got there first.
func (m *Manager) Assign(ctx context.Context, itemID, validatorID string) error {
	ok, err := m.store.Claim(ctx, itemID, validatorID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("claim item %s for %s: %w", itemID, validatorID, ErrAlreadyClaimed)
	}
	return nil
}

// ValidateRequest is one human verdict.
type ValidateRequest struct {
	CorrectionID   string                     `json:"correction_id"`
	Decision       quality.ValidationDecision `json:"decision"`
	CorrectedValue any                        `json:"corrected_value,omitempty"`
	ValidatorID    string                     `json:"validator_id"`
	ValidatorRole  string                     `json:"validator_role,omitempty"`
	Comments       string                     `json:"comments,omitempty"`
}

// ValidateResult reports the applied outcome.
type ValidateResult struct {
	CorrectionID     string                     `json:"correction_id"`
	Decision         quality.ValidationDecision `json:"decision"`
	FinalValue       any                        `json:"final_value"`
	LearningRecorded bool                       `json:"learning_recorded"`
}

// Validate records one decision. ACCEPT takes the suggested value,
// REJECT restores the original, MODIFY takes the validator's value.
// Every decision, rejections included, yields one training example.
func (m *Manager) Validate(ctx context.Context, req ValidateRequest) (*ValidateResult, error) {
	if _, err := quality.ParseDecision(string(req.Decision)); err != nil {
		return nil, err
	}

	rec, err := m.store.GetCorrection(ctx, req.CorrectionID)
	if err != nil {
		return nil, err
	}

	var final any
	switch req.Decision {
	case quality.DecisionAccept:
		final = rec.NewValue
	case quality.DecisionReject:
		final = rec.OldValue
	case quality.DecisionModify:
		final = req.CorrectedValue
	}

	now := time.Now().UTC()
	vrec := &quality.ValidationRecord{
		ID:                 quality.NewID("val"),
		CorrectionID:       rec.ID,
		Field:              rec.Field,
		OriginalValue:      rec.OldValue,
		SuggestedValue:     rec.NewValue,
		Decision:           req.Decision,
		FinalValue:         final,
		ValidatorID:        req.ValidatorID,
		ValidatorRole:      req.ValidatorRole,
		ConfidenceOriginal: rec.Confidence,
		Timestamp:          now,
		Comments:           req.Comments,
	}

	example := buildTrainingExample(rec, vrec)

	terminal := quality.QueueStatusForDecision(req.Decision)
	if err := m.store.CompleteValidation(ctx, vrec, example, terminal); err != nil {
		return nil, err
	}

	m.log.Info().Str("correction", rec.ID).Str("decision", string(req.Decision)).
		Str("validator", req.ValidatorID).Msg("validation recorded")
	return &ValidateResult{
		CorrectionID:     rec.ID,
		Decision:         req.Decision,
		FinalValue:       final,
		LearningRecorded: true,
	}, nil
}

// BatchResult is the outcome of validating many decisions at once.
type BatchResult struct {
	Processed int              `json:"processed"`
	Results   []ValidateResult `json:"results"`
	Errors    []BatchError     `json:"errors,omitempty"`
}

// BatchError pairs a failed request with its error.
type BatchError struct {
	CorrectionID string `json:"correction_id"`
	Err          string `json:"error"`
}

// BatchValidate processes every request, collecting per-item failures
// instead of aborting the batch.
func (m *Manager) BatchValidate(ctx context.Context, reqs []ValidateRequest) *BatchResult {
	out := &BatchResult{}
	for _, req := range reqs {
		res, err := m.Validate(ctx, req)
		if err != nil {
			out.Errors = append(out.Errors, BatchError{CorrectionID: req.CorrectionID, Err: err.Error()})
			continue
		}
		out.Processed++
		out.Results = append(out.Results, *res)
	}
	return out
}

// Stats returns per-validator decision aggregates.
func (m *Manager) Stats(ctx context.Context) ([]store.ValidatorStat, error) {
	return m.store.ValidatorStats(ctx)
}

// buildTrainingExample derives the corpus entry from a validated
// correction. The best candidate per source becomes the ml_suggested /
// rule_suggested columns so retraining can score past model output
// against the human verdict.
func buildTrainingExample(rec *quality.CorrectionRecord, vrec *quality.ValidationRecord) *quality.TrainingExample {
	var mlSuggested, ruleSuggested string
	var mlScore, ruleScore float64
	for _, c := range rec.Candidates {
		switch c.Source {
		case quality.SourceRule:
			if s := stringify(c.Value); s != "" && c.Score >= ruleScore {
				ruleSuggested, ruleScore = s, c.Score
			}
		case quality.SourceMLText, quality.SourceMLNumeric:
			if s := stringify(c.Value); s != "" && c.Score >= mlScore {
				mlSuggested, mlScore = s, c.Score
			}
		}
	}

	return &quality.TrainingExample{
		ID:                 quality.NewID("tex"),
		CorrectionID:       rec.ID,
		InputText:          fmt.Sprintf("%s: %s", rec.Field, stringify(rec.OldValue)),
		OutputText:         stringify(vrec.FinalValue),
		Field:              rec.Field,
		InconsistencyType:  rec.Type,
		MLSuggested:        mlSuggested,
		RuleSuggested:      ruleSuggested,
		HumanDecision:      vrec.Decision,
		ValidatorID:        vrec.ValidatorID,
		ValidatorRole:      vrec.ValidatorRole,
		OriginalConfidence: rec.Confidence,
		Timestamp:          vrec.Timestamp,
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
