package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrace(runID string, at time.Time) TraceRecord {
	return TraceRecord{
		RunID:          runID,
		UserID:         "u1",
		SignalID:       "sig-" + runID,
		Status:         "completed",
		Approved:       true,
		AutoExecuted:   true,
		DraftID:        "d-" + runID,
		StepsJSON:      `[{"node":"observer"}]`,
		ErrorsJSON:     `[]`,
		FinalStateJSON: `{}`,
		DurationMs:     12,
		CreatedAt:      at,
	}
}

func sampleDraft(id, user string, status state.DraftStatus) DraftRecord {
	return DraftRecord{
		Draft: state.Draft{
			ID:         id,
			IntentID:   "i-" + id,
			DraftType:  "task",
			Title:      "Book dentist",
			Content:    "Schedule a cleaning next week",
			Confidence: 0.8,
			Status:     status,
		},
		RunID:  "run-" + id,
		UserID: user,
	}
}

func TestInsertAndGetTrace(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	if err := s.InsertTrace(ctx, sampleTrace("r1", at)); err != nil {
		t.Fatalf("InsertTrace: %v", err)
	}
	got, err := s.GetTrace(ctx, "r1")
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}
	if !got.Approved || !got.AutoExecuted || got.DraftID != "d-r1" {
		t.Fatalf("unexpected trace: %+v", got)
	}
	if !got.CreatedAt.Equal(at) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, at)
	}
}

func TestInsertTraceDuplicateRunFails(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	rec := sampleTrace("r1", time.Now().UTC())
	if err := s.InsertTrace(ctx, rec); err != nil {
		t.Fatalf("InsertTrace: %v", err)
	}
	if err := s.InsertTrace(ctx, rec); err == nil {
		t.Fatal("expected primary key violation for duplicate run")
	}
}

func TestGetTraceNotFound(t *testing.T) {
	s := tempDB(t)
	_, err := s.GetTrace(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListTracesNewestFirst(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		if err := s.InsertTrace(ctx, sampleTrace(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("InsertTrace: %v", err)
		}
	}
	traces, err := s.ListTraces(ctx, 2)
	if err != nil {
		t.Fatalf("ListTraces: %v", err)
	}
	if len(traces) != 2 {
		t.Fatalf("expected 2 traces, got %d", len(traces))
	}
	if traces[0].RunID != "r3" {
		t.Fatalf("expected newest first, got %s", traces[0].RunID)
	}
}

func TestInsertCognitiveLimitAndImprovement(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	err := s.InsertCognitiveLimit(ctx, CognitiveLimitRecord{
		RunID:  "r1",
		UserID: "u1",
		Limit: state.CognitiveLimit{
			Type:        state.LimitTimingError,
			Description: "suggested a call during a meeting",
			Severity:    state.LevelMedium,
			Evidence:    []string{"calendar busy"},
		},
	})
	if err != nil {
		t.Fatalf("InsertCognitiveLimit: %v", err)
	}

	err = s.InsertImprovement(ctx, ImprovementRecord{
		RunID:  "r1",
		UserID: "u1",
		Improvement: state.Improvement{
			Type:           state.ImprovementThresholdChange,
			Target:         "intent_predictor",
			ProposedChange: "raise confidence floor for calendar signals",
		},
	})
	if err != nil {
		t.Fatalf("InsertImprovement: %v", err)
	}

	n, err := s.CountImprovements(ctx, "proposed")
	if err != nil {
		t.Fatalf("CountImprovements: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 proposed improvement, got %d", n)
	}

	var limits int
	s.DB().QueryRow("SELECT COUNT(*) FROM cognitive_limits").Scan(&limits)
	if limits != 1 {
		t.Fatalf("expected 1 cognitive limit row, got %d", limits)
	}
}

func TestSaveDraftUpsertAndStatus(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	rec := sampleDraft("d1", "u1", state.DraftApproved)
	if err := s.SaveDraft(ctx, rec); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	executed := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	if err := s.UpdateDraftStatus(ctx, "d1", state.DraftAutoExecuted, &executed); err != nil {
		t.Fatalf("UpdateDraftStatus: %v", err)
	}

	got, err := s.GetDraft(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if got.Draft.Status != state.DraftAutoExecuted {
		t.Fatalf("status = %s, want auto_executed", got.Draft.Status)
	}
	if got.ExecutedAt == nil || !got.ExecutedAt.Equal(executed) {
		t.Fatalf("executed_at = %v, want %v", got.ExecutedAt, executed)
	}

	// Re-saving keeps a single row and updates the status.
	rec.Draft.Status = state.DraftPendingReview
	rec.ReviewReason = "needs a second look"
	if err := s.SaveDraft(ctx, rec); err != nil {
		t.Fatalf("SaveDraft again: %v", err)
	}
	got, _ = s.GetDraft(ctx, "d1")
	if got.Draft.Status != state.DraftPendingReview || got.ReviewReason != "needs a second look" {
		t.Fatalf("upsert did not update: %+v", got)
	}
}

func TestUpdateDraftStatusMissing(t *testing.T) {
	s := tempDB(t)
	err := s.UpdateDraftStatus(context.Background(), "nope", state.DraftRejected, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDraftHistoryAndRecentOutcomes(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	statuses := []state.DraftStatus{
		state.DraftApproved, state.DraftApproved, state.DraftRejected,
		state.DraftAutoExecuted, state.DraftPendingReview,
	}
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i, st := range statuses {
		rec := sampleDraft(string(rune('a'+i)), "u1", st)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := s.SaveDraft(ctx, rec); err != nil {
			t.Fatalf("SaveDraft: %v", err)
		}
	}
	if err := s.SaveDraft(ctx, sampleDraft("other", "u2", state.DraftRejected)); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}

	counts, err := s.DraftHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("DraftHistory: %v", err)
	}
	want := DraftCounts{Approved: 2, Rejected: 1, AutoExecuted: 1, Pending: 1}
	if counts != want {
		t.Fatalf("counts = %+v, want %+v", counts, want)
	}
	if counts.Settled() != 4 {
		t.Fatalf("settled = %d, want 4", counts.Settled())
	}

	outcomes, err := s.RecentOutcomes(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Status != state.DraftPendingReview {
		t.Fatalf("expected newest outcome first, got %s", outcomes[0].Status)
	}
}

func TestInsertConstraintViolation(t *testing.T) {
	s := tempDB(t)
	err := s.InsertConstraintViolation(context.Background(), ConstraintViolation{
		RunID:      "r1",
		UserID:     "u1",
		DraftID:    "d1",
		Constraint: "no meetings before 10am",
		Note:       "draft proposes 9am call",
	})
	if err != nil {
		t.Fatalf("InsertConstraintViolation: %v", err)
	}
	var n int
	s.DB().QueryRow("SELECT COUNT(*) FROM constraint_violations").Scan(&n)
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestClosedStoreErrors(t *testing.T) {
	s := tempDB(t)
	s.Close()
	if err := s.InsertTrace(context.Background(), sampleTrace("r1", time.Now())); err == nil {
		t.Fatal("expected error on closed db")
	}
}

func TestNewStoreInvalidPath(t *testing.T) {
	_, err := NewStore(filepath.Join(string(os.PathSeparator), "nonexistent", "deep", "path", "test.db"))
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestNullIfEmpty(t *testing.T) {
	if nullIfEmpty("") != nil {
		t.Error("expected nil for empty string")
	}
	if nullIfEmpty("x") != "x" {
		t.Error("expected passthrough for non-empty string")
	}
}
