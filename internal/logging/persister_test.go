package logging

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/signals"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/store"
)

// #region helpers
type fakeWriter struct {
	mu           sync.Mutex
	traces       []store.TraceRecord
	limits       int
	improvements int

	traceErr error
	limitErr error
	panicky  bool
	sawCtx   []error
}

func (f *fakeWriter) InsertTrace(ctx context.Context, rec store.TraceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sawCtx = append(f.sawCtx, ctx.Err())
	if f.panicky {
		panic("driver exploded")
	}
	if f.traceErr != nil {
		return f.traceErr
	}
	f.traces = append(f.traces, rec)
	return nil
}

func (f *fakeWriter) InsertCognitiveLimit(ctx context.Context, rec store.CognitiveLimitRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limitErr != nil {
		return f.limitErr
	}
	f.limits++
	return nil
}

func (f *fakeWriter) InsertImprovement(ctx context.Context, rec store.ImprovementRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.improvements++
	return nil
}

func finalState() state.PipelineState {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := state.New("run-1", signals.Signal{ID: "sig-1", UserID: "u1"}, "u1", state.UserContext{}, false, start)
	s.Draft = &state.Draft{ID: "d-1", DraftType: "task", Confidence: 0.6}
	s.CognitiveIssues = []state.CognitiveLimit{
		{Type: state.LimitTimingError, Description: "late", Severity: state.LevelLow},
		{Type: state.LimitDomainWeakness, Description: "finance", Severity: state.LevelHigh},
	}
	s.Improvements = []state.Improvement{{Type: state.ImprovementThresholdChange, Target: "draft", ProposedChange: "raise floor"}}
	s.Trace = []state.ReasoningStep{{Node: "observer", DurationMs: 3}}
	s.Errors = []string{"simulator: parse failure"}
	return s
}

// #endregion helpers

// #region persist-tests
func TestPersist_WritesAllRecords(t *testing.T) {
	w := &fakeWriter{}
	p := NewPersister(w, time.Second, nil)
	st := finalState()

	report := p.Persist(context.Background(), st, st.StartedAt.Add(1500*time.Millisecond))

	if !report.OK() || !report.TraceWritten {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(w.traces) != 1 {
		t.Fatalf("expected exactly 1 trace, got %d", len(w.traces))
	}
	if w.limits != 2 || w.improvements != 1 {
		t.Fatalf("expected 2 limits and 1 improvement, got %d/%d", w.limits, w.improvements)
	}
	rec := w.traces[0]
	if rec.Status != StatusPartial || rec.DraftID != "d-1" || rec.DurationMs != 1500 {
		t.Errorf("unexpected trace record %+v", rec)
	}
	var steps []state.ReasoningStep
	if err := json.Unmarshal([]byte(rec.StepsJSON), &steps); err != nil || len(steps) != 1 {
		t.Errorf("steps json %q: %v", rec.StepsJSON, err)
	}
}

func TestPersist_TraceFailureDoesNotBlockOthers(t *testing.T) {
	w := &fakeWriter{traceErr: errors.New("disk full")}
	p := NewPersister(w, time.Second, nil)

	report := p.Persist(context.Background(), finalState(), time.Now())

	if report.TraceWritten || report.OK() {
		t.Fatalf("expected trace failure in report, got %+v", report)
	}
	if w.limits != 2 || w.improvements != 1 {
		t.Fatalf("other writes must proceed, got %d/%d", w.limits, w.improvements)
	}
}

func TestPersist_LimitFailureIsPerRecord(t *testing.T) {
	w := &fakeWriter{limitErr: errors.New("constraint")}
	p := NewPersister(w, time.Second, nil)

	report := p.Persist(context.Background(), finalState(), time.Now())

	if !report.TraceWritten || report.LimitsFailed != 2 || report.ImprovementsWritten != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestPersist_NeverPanics(t *testing.T) {
	w := &fakeWriter{panicky: true}
	p := NewPersister(w, time.Second, nil)

	report := p.Persist(context.Background(), finalState(), time.Now())

	if report.TraceWritten || report.OK() {
		t.Fatalf("expected panic captured as error, got %+v", report)
	}
	if w.limits != 2 {
		t.Fatal("later writes should still run after a panicking write")
	}
}

func TestPersist_CancelledContextStillWrites(t *testing.T) {
	w := &fakeWriter{}
	p := NewPersister(w, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := p.Persist(ctx, finalState(), time.Now())

	if !report.TraceWritten {
		t.Fatal("cancelled run must still persist its trace")
	}
	if w.sawCtx[0] != nil {
		t.Fatalf("write context should not be cancelled, got %v", w.sawCtx[0])
	}
}

func TestPersist_SQLiteStore(t *testing.T) {
	s, err := store.NewStore(filepath.Join(t.TempDir(), "pulse.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	p := NewPersister(s, time.Second, nil)
	st := finalState()

	report := p.Persist(context.Background(), st, time.Now())
	if !report.OK() {
		t.Fatalf("persist: %v", report.Errors)
	}

	got, err := s.GetTrace(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SignalID != "sig-1" || got.Status != StatusPartial {
		t.Errorf("unexpected stored trace %+v", got)
	}
	n, err := s.CountImprovements(context.Background(), "proposed")
	if err != nil || n != 1 {
		t.Errorf("expected 1 proposed improvement, got %d (%v)", n, err)
	}
}

// #endregion persist-tests

// #region status-tests
func TestTraceStatus(t *testing.T) {
	tests := []struct {
		name string
		s    state.PipelineState
		want string
	}{
		{"clean", state.PipelineState{Draft: &state.Draft{}}, StatusCompleted},
		{"errors with draft", state.PipelineState{Draft: &state.Draft{}, Errors: []string{"x"}}, StatusPartial},
		{"errors without draft", state.PipelineState{Errors: []string{"x"}}, StatusFailed},
	}
	for _, tt := range tests {
		if got := TraceStatus(tt.s); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestBuildTraceRecordEmptyState(t *testing.T) {
	rec, err := BuildTraceRecord(state.PipelineState{RunID: "r"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if rec.StepsJSON != "[]" || rec.ErrorsJSON != "[]" {
		t.Fatalf("empty lists should encode as [], got %q %q", rec.StepsJSON, rec.ErrorsJSON)
	}
}

func TestNewLogger(t *testing.T) {
	for _, cfg := range []Config{{}, {Level: "debug", Format: "console"}, {Level: "warn", Format: "json"}} {
		l, err := New(cfg)
		if err != nil {
			t.Fatalf("%+v: %v", cfg, err)
		}
		_ = l.Sync()
	}
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for bad level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for bad format")
	}
}

// #endregion status-tests
