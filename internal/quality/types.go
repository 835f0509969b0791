// Package quality defines the core domain types of the correction
// pipeline: detected inconsistencies, correction candidates and records,
// validation queue items, human validation records, training examples,
// model versions, and KPI snapshots.
package quality

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// AutoApplyThreshold is the confidence at or above which a correction is
// applied without human review.
const AutoApplyThreshold = 0.90

// InconsistencyType classifies a detected field-level violation.
type InconsistencyType string

const (
	InconsistencyFormat      InconsistencyType = "FORMAT"
	InconsistencyDomain      InconsistencyType = "DOMAIN"
	InconsistencyReferential InconsistencyType = "REFERENTIAL"
	InconsistencyTemporal    InconsistencyType = "TEMPORAL"
	InconsistencyStatistical InconsistencyType = "STATISTICAL"
	InconsistencySemantic    InconsistencyType = "SEMANTIC"
)

// Inconsistency is one detected rule violation on one field. A field may
// carry several inconsistencies of different types.
type Inconsistency struct {
	Field   string            `json:"field"`
	Value   any               `json:"value"`
	Type    InconsistencyType `json:"type"`
	Message string            `json:"message"`
}

// CandidateSource identifies where a correction candidate came from.
type CandidateSource string

const (
	SourceRule      CandidateSource = "RULE"
	SourceMLText    CandidateSource = "ML_TEXT"
	SourceMLNumeric CandidateSource = "ML_NUMERIC"
)

// CorrectionCandidate is a proposed corrected value with a confidence
// score and provenance.
type CorrectionCandidate struct {
	Value    any             `json:"value"`
	Score    float64         `json:"score"`
	Source   CandidateSource `json:"source"`
	Strategy string          `json:"strategy,omitempty"`
}

// CorrectionStatus is the terminal arbitration outcome of a correction
// run for one inconsistency. It is set exactly once at creation.
type CorrectionStatus string

const (
	StatusAutoCorrected  CorrectionStatus = "AUTO_CORRECTED"
	StatusRequiresReview CorrectionStatus = "REQUIRES_REVIEW"
	StatusNoCandidate    CorrectionStatus = "NO_CANDIDATE"
)

// StatusForScore maps a best-candidate score onto a correction status.
// It is the single place the auto-apply threshold is interpreted.
func StatusForScore(score float64, hasCandidate bool) CorrectionStatus {
	switch {
	case !hasCandidate:
		return StatusNoCandidate
	case score >= AutoApplyThreshold:
		return StatusAutoCorrected
	default:
		return StatusRequiresReview
	}
}

// CorrectionRecord is the immutable outcome of arbitrating one
// inconsistency. All candidates are retained for audit and learning, not
// just the winner.
type CorrectionRecord struct {
	ID         string                `json:"id" db:"id"`
	DatasetID  string                `json:"dataset_id,omitempty" db:"dataset_id"`
	Field      string                `json:"field" db:"field"`
	Type       InconsistencyType     `json:"inconsistency_type" db:"inconsistency_type"`
	OldValue   any                   `json:"old_value"`
	NewValue   any                   `json:"new_value,omitempty"`
	Candidates []CorrectionCandidate `json:"candidates,omitempty"`
	Confidence float64               `json:"confidence" db:"confidence"`
	Auto       bool                  `json:"auto" db:"auto"`
	Status     CorrectionStatus      `json:"status" db:"status"`
	CreatedAt  time.Time             `json:"created_at" db:"created_at"`
}

// QueueStatus is the lifecycle state of a validation queue item.
type QueueStatus string

const (
	QueuePendingReview     QueueStatus = "pending_review"
	QueueAssigned          QueueStatus = "assigned"
	QueueValidatedAccepted QueueStatus = "validated_accepted"
	QueueValidatedRejected QueueStatus = "validated_rejected"
	QueueValidatedModified QueueStatus = "validated_modified"
)

// Terminal reports whether a queue item has been validated and can never
// be claimed again.
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueValidatedAccepted, QueueValidatedRejected, QueueValidatedModified:
		return true
	}
	return false
}

// ValidationQueueItem is a REQUIRES_REVIEW correction waiting for (or
// claimed by) a human validator. Priority 1 is highest, 10 lowest.
type ValidationQueueItem struct {
	ID           string            `json:"id" db:"id"`
	CorrectionID string            `json:"correction_id" db:"correction_id"`
	Field        string            `json:"field"`
	OldValue     any               `json:"old_value"`
	NewValue     any               `json:"new_value"`
	Confidence   float64           `json:"confidence"`
	Type         InconsistencyType `json:"inconsistency_type"`
	QueueStatus  QueueStatus       `json:"queue_status" db:"queue_status"`
	Priority     int               `json:"priority" db:"priority"`
	AssignedTo   string            `json:"assigned_to,omitempty" db:"assigned_to"`
	EnqueuedAt   time.Time         `json:"enqueued_at" db:"enqueued_at"`
}

// ValidationDecision is a human verdict on a suggested correction.
type ValidationDecision string

const (
	DecisionAccept ValidationDecision = "ACCEPT"
	DecisionReject ValidationDecision = "REJECT"
	DecisionModify ValidationDecision = "MODIFY"
)

// ParseDecision converts external input into a ValidationDecision.
func ParseDecision(s string) (ValidationDecision, error) {
	switch ValidationDecision(s) {
	case DecisionAccept, DecisionReject, DecisionModify:
		return ValidationDecision(s), nil
	}
	return "", fmt.Errorf("unknown decision %q (want ACCEPT, REJECT, or MODIFY)", s)
}

// QueueStatusForDecision maps a decision to the terminal queue status it
// produces.
func QueueStatusForDecision(d ValidationDecision) QueueStatus {
	switch d {
	case DecisionAccept:
		return QueueValidatedAccepted
	case DecisionReject:
		return QueueValidatedRejected
	default:
		return QueueValidatedModified
	}
}

// ValidationRecord captures one human validation. Immutable once written.
type ValidationRecord struct {
	ID                 string             `json:"id" db:"id"`
	CorrectionID       string             `json:"correction_id" db:"correction_id"`
	Field              string             `json:"field" db:"field"`
	OriginalValue      any                `json:"original_value"`
	SuggestedValue     any                `json:"suggested_value"`
	Decision           ValidationDecision `json:"decision" db:"decision"`
	FinalValue         any                `json:"final_value"`
	ValidatorID        string             `json:"validator_id" db:"validator_id"`
	ValidatorRole      string             `json:"validator_role" db:"validator_role"`
	ConfidenceOriginal float64            `json:"confidence_original" db:"confidence_original"`
	Timestamp          time.Time          `json:"timestamp" db:"timestamp"`
	Comments           string             `json:"comments,omitempty" db:"comments"`
}

// TrainingExample is the corpus unit for retraining. Exactly one is
// produced per validation, regardless of the decision outcome.
type TrainingExample struct {
	ID                 string             `json:"id" db:"id"`
	CorrectionID       string             `json:"correction_id" db:"correction_id"`
	InputText          string             `json:"input_text" db:"input_text"`
	OutputText         string             `json:"output_text" db:"output_text"`
	Field              string             `json:"field" db:"field"`
	InconsistencyType  InconsistencyType  `json:"inconsistency_type" db:"inconsistency_type"`
	MLSuggested        string             `json:"ml_suggested,omitempty" db:"ml_suggested"`
	RuleSuggested      string             `json:"rule_suggested,omitempty" db:"rule_suggested"`
	HumanDecision      ValidationDecision `json:"human_decision" db:"human_decision"`
	ValidatorID        string             `json:"validator_id" db:"validator_id"`
	ValidatorRole      string             `json:"validator_role" db:"validator_role"`
	OriginalConfidence float64            `json:"original_confidence" db:"original_confidence"`
	Timestamp          time.Time          `json:"timestamp" db:"timestamp"`
}

// ModelVersionStatus is active or archived. At most one version is active
// at any time.
type ModelVersionStatus string

const (
	ModelActive   ModelVersionStatus = "active"
	ModelArchived ModelVersionStatus = "archived"
)

// ModelVersion describes one retraining run of the text-correction model.
type ModelVersion struct {
	Version               string             `json:"version" db:"version"`
	TrainedAt             time.Time          `json:"trained_at" db:"trained_at"`
	TrainingExamplesCount int                `json:"training_examples_count" db:"training_examples_count"`
	NumEpochs             int                `json:"num_epochs" db:"num_epochs"`
	DurationSeconds       float64            `json:"duration_seconds" db:"duration_seconds"`
	ModelPath             string             `json:"model_path" db:"model_path"`
	Status                ModelVersionStatus `json:"status" db:"status"`
}

// KPISnapshot is a point-in-time reading of the tracked quality metrics
// against their targets.
type KPISnapshot struct {
	Timestamp  time.Time          `json:"timestamp" db:"timestamp"`
	DatasetID  string             `json:"dataset_id,omitempty" db:"dataset_id"`
	KPIs       map[string]float64 `json:"kpis"`
	Targets    map[string]float64 `json:"targets"`
	Compliance map[string]bool    `json:"compliance"`
}
