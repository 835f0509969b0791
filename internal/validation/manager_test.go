package validation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmercier/fieldmend/internal/quality"
	"github.com/tmercier/fieldmend/internal/queue"
	"github.com/tmercier/fieldmend/internal/store"
)

// fakeStore is an in-memory validation.Store.
type fakeStore struct {
	corrections map[string]*quality.CorrectionRecord
	queue       map[string]*quality.ValidationQueueItem // by item id
	validations []quality.ValidationRecord
	examples    []quality.TrainingExample
	enqueued    []int // priorities in call order
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		corrections: make(map[string]*quality.CorrectionRecord),
		queue:       make(map[string]*quality.ValidationQueueItem),
	}
}

func (f *fakeStore) GetCorrection(_ context.Context, id string) (*quality.CorrectionRecord, error) {
	rec, ok := f.corrections[id]
	if !ok {
		return nil, fmt.Errorf("correction %s: %w", id, quality.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeStore) Enqueue(_ context.Context, correctionID string, priority int) (string, error) {
	f.enqueued = append(f.enqueued, priority)
	id := fmt.Sprintf("item-%d", len(f.queue)+1)
	f.queue[id] = &quality.ValidationQueueItem{
		ID:           id,
		CorrectionID: correctionID,
		QueueStatus:  quality.QueuePendingReview,
		Priority:     priority,
		EnqueuedAt:   time.Now(),
	}
	return id, nil
}

func (f *fakeStore) PendingItems(_ context.Context, opts store.PendingOptions) ([]quality.ValidationQueueItem, error) {
	var out []quality.ValidationQueueItem
	for _, it := range f.queue {
		if it.QueueStatus == quality.QueuePendingReview ||
			(it.QueueStatus == quality.QueueAssigned && it.AssignedTo == opts.ValidatorID) {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (f *fakeStore) Claim(_ context.Context, itemID, validatorID string) (bool, error) {
	it, ok := f.queue[itemID]
	if !ok || it.QueueStatus != quality.QueuePendingReview {
		return false, nil
	}
	it.QueueStatus = quality.QueueAssigned
	it.AssignedTo = validatorID
	return true, nil
}

func (f *fakeStore) CompleteValidation(_ context.Context, rec *quality.ValidationRecord, example *quality.TrainingExample, terminal quality.QueueStatus) error {
	f.validations = append(f.validations, *rec)
	f.examples = append(f.examples, *example)
	for _, it := range f.queue {
		if it.CorrectionID == rec.CorrectionID {
			it.QueueStatus = terminal
		}
	}
	return nil
}

func (f *fakeStore) ValidatorStats(context.Context) ([]store.ValidatorStat, error) {
	return nil, nil
}

// fakeNotifier records review notifications.
type fakeNotifier struct {
	messages []queue.ReviewMessage
	err      error
}

func (f *fakeNotifier) PushReview(_ context.Context, msg queue.ReviewMessage) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.messages = append(f.messages, msg)
	return "1-0", nil
}

func reviewCorrection(id string) *quality.CorrectionRecord {
	return &quality.CorrectionRecord{
		ID:       id,
		Field:    "age",
		Type:     quality.InconsistencyDomain,
		OldValue: -5.0,
		NewValue: 5.0,
		Candidates: []quality.CorrectionCandidate{
			{Value: 5.0, Score: 0.85, Source: quality.SourceMLNumeric},
			{Value: 0.0, Score: 0.60, Source: quality.SourceRule},
		},
		Confidence: 0.85,
		Status:     quality.StatusRequiresReview,
		CreatedAt:  time.Now(),
	}
}

func TestEnqueueForReview(t *testing.T) {
	st := newFakeStore()
	notifier := &fakeNotifier{}
	m := New(st, notifier, zerolog.Nop())

	rec := reviewCorrection("cor-1")
	itemID, err := m.EnqueueForReview(context.Background(), rec, 3)
	if err != nil {
		t.Fatal(err)
	}
	if itemID == "" {
		t.Fatal("empty item id")
	}
	if len(notifier.messages) != 1 || notifier.messages[0].CorrectionID != "cor-1" {
		t.Errorf("notification: %+v", notifier.messages)
	}
	if notifier.messages[0].Priority != 3 {
		t.Errorf("priority = %d", notifier.messages[0].Priority)
	}
}

func TestEnqueueForReviewClampsPriority(t *testing.T) {
	st := newFakeStore()
	m := New(st, nil, zerolog.Nop())

	if _, err := m.EnqueueForReview(context.Background(), reviewCorrection("c1"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.EnqueueForReview(context.Background(), reviewCorrection("c2"), 99); err != nil {
		t.Fatal(err)
	}
	if st.enqueued[0] != 1 || st.enqueued[1] != 10 {
		t.Errorf("priorities = %v, want [1 10]", st.enqueued)
	}
}

func TestEnqueueForReviewRejectsOtherStatuses(t *testing.T) {
	m := New(newFakeStore(), nil, zerolog.Nop())

	for _, status := range []quality.CorrectionStatus{quality.StatusAutoCorrected, quality.StatusNoCandidate} {
		rec := reviewCorrection("c")
		rec.Status = status
		if _, err := m.EnqueueForReview(context.Background(), rec, 5); err == nil {
			t.Errorf("status %v should not be enqueueable", status)
		}
	}
}

func TestEnqueueSurvivesNotifierFailure(t *testing.T) {
	st := newFakeStore()
	m := New(st, &fakeNotifier{err: errors.New("redis down")}, zerolog.Nop())

	if _, err := m.EnqueueForReview(context.Background(), reviewCorrection("c1"), 5); err != nil {
		t.Fatalf("notifier failure must not fail the enqueue: %v", err)
	}
	if len(st.queue) != 1 {
		t.Error("item should still be queued")
	}
}

func TestAssignClaimRace(t *testing.T) {
	st := newFakeStore()
	m := New(st, nil, zerolog.Nop())
	itemID, _ := st.Enqueue(context.Background(), "cor-1", 5)

	if err := m.Assign(context.Background(), itemID, "alice"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	err := m.Assign(context.Background(), itemID, "bob")
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second claim = %v, want ErrAlreadyClaimed", err)
	}
}

func TestValidateDecisions(t *testing.T) {
	tests := []struct {
		decision  quality.ValidationDecision
		corrected any
		wantFinal any
		wantQueue quality.QueueStatus
	}{
		{quality.DecisionAccept, nil, 5.0, quality.QueueValidatedAccepted},
		{quality.DecisionReject, nil, -5.0, quality.QueueValidatedRejected},
		{quality.DecisionModify, 7.0, 7.0, quality.QueueValidatedModified},
	}
	for _, tt := range tests {
		t.Run(string(tt.decision), func(t *testing.T) {
			st := newFakeStore()
			st.corrections["cor-1"] = reviewCorrection("cor-1")
			itemID, _ := st.Enqueue(context.Background(), "cor-1", 5)
			m := New(st, nil, zerolog.Nop())

			res, err := m.Validate(context.Background(), ValidateRequest{
				CorrectionID:   "cor-1",
				Decision:       tt.decision,
				CorrectedValue: tt.corrected,
				ValidatorID:    "alice",
				ValidatorRole:  "steward",
			})
			if err != nil {
				t.Fatal(err)
			}
			if res.FinalValue != tt.wantFinal {
				t.Errorf("final = %v, want %v", res.FinalValue, tt.wantFinal)
			}
			if !res.LearningRecorded {
				t.Error("learning_recorded should always be true")
			}

			// one training example regardless of decision
			if len(st.examples) != 1 {
				t.Fatalf("examples = %d, want 1", len(st.examples))
			}
			ex := st.examples[0]
			if ex.HumanDecision != tt.decision {
				t.Errorf("example decision = %v", ex.HumanDecision)
			}
			if ex.InputText != "age: -5" {
				t.Errorf("input text = %q", ex.InputText)
			}
			if ex.OutputText != fmt.Sprintf("%v", tt.wantFinal) {
				t.Errorf("output text = %q", ex.OutputText)
			}
			if ex.MLSuggested != "5" {
				t.Errorf("ml_suggested = %q", ex.MLSuggested)
			}
			if ex.RuleSuggested != "0" {
				t.Errorf("rule_suggested = %q", ex.RuleSuggested)
			}

			if st.queue[itemID].QueueStatus != tt.wantQueue {
				t.Errorf("queue status = %v, want %v", st.queue[itemID].QueueStatus, tt.wantQueue)
			}
		})
	}
}

func TestValidateUnknownCorrection(t *testing.T) {
	m := New(newFakeStore(), nil, zerolog.Nop())
	_, err := m.Validate(context.Background(), ValidateRequest{
		CorrectionID: "missing",
		Decision:     quality.DecisionAccept,
		ValidatorID:  "alice",
	})
	if !errors.Is(err, quality.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestValidateBadDecision(t *testing.T) {
	m := New(newFakeStore(), nil, zerolog.Nop())
	_, err := m.Validate(context.Background(), ValidateRequest{
		CorrectionID: "cor-1",
		Decision:     "MAYBE",
		ValidatorID:  "alice",
	})
	if err == nil {
		t.Fatal("unknown decision should fail")
	}
}

func TestBatchValidatePartialFailure(t *testing.T) {
	st := newFakeStore()
	st.corrections["cor-1"] = reviewCorrection("cor-1")
	st.corrections["cor-2"] = reviewCorrection("cor-2")
	m := New(st, nil, zerolog.Nop())

	res := m.BatchValidate(context.Background(), []ValidateRequest{
		{CorrectionID: "cor-1", Decision: quality.DecisionAccept, ValidatorID: "alice"},
		{CorrectionID: "missing", Decision: quality.DecisionAccept, ValidatorID: "alice"},
		{CorrectionID: "cor-2", Decision: quality.DecisionReject, ValidatorID: "alice"},
	})

	if res.Processed != 2 {
		t.Errorf("processed = %d, want 2", res.Processed)
	}
	if len(res.Errors) != 1 || res.Errors[0].CorrectionID != "missing" {
		t.Errorf("errors = %+v", res.Errors)
	}
	if len(st.examples) != 2 {
		t.Errorf("examples = %d, want 2", len(st.examples))
	}
}
