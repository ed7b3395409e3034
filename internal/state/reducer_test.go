package state

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/signals"
)

func baseState() PipelineState {
	sig := signals.Signal{ID: "sig-1", UserID: "u1", SignalType: "task_due", CreatedAt: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)}
	return New("run-1", sig, "u1", UserContext{}, false, sig.CreatedAt)
}

func TestAppendEmptyIsIdentity(t *testing.T) {
	a := []string{"x", "y"}
	got := Append(a, nil)
	if !reflect.DeepEqual(got, a) {
		t.Fatalf("Append(a, nil) = %v, want %v", got, a)
	}
	got = Append(a, []string{})
	if !reflect.DeepEqual(got, a) {
		t.Fatalf("Append(a, []) = %v, want %v", got, a)
	}
}

func TestAppendNilSafe(t *testing.T) {
	var a []int
	if got := Append(a, nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := Append(a, []int{1}); len(got) != 1 || got[0] != 1 {
		t.Fatalf("unexpected %v", got)
	}
}

func TestAppendDoesNotAlias(t *testing.T) {
	a := make([]string, 1, 4)
	a[0] = "first"
	b := Append(a, []string{"second"})
	c := Append(a, []string{"third"})
	if b[1] != "second" || c[1] != "third" {
		t.Fatalf("appends aliased backing array: b=%v c=%v", b, c)
	}
}

func TestReplaceNilIsIdentity(t *testing.T) {
	a := &Intent{ID: "i1"}
	if got := Replace(a, nil); got != a {
		t.Fatal("Replace(a, nil) must return a")
	}
	b := &Intent{ID: "i2"}
	if got := Replace(a, b); got != b {
		t.Fatal("Replace(a, b) must return b")
	}
	if got := ReplaceValue(true, nil); !got {
		t.Fatal("ReplaceValue(true, nil) must be true")
	}
	if got := ReplaceValue(true, Ptr(false)); got {
		t.Fatal("ReplaceValue(true, &false) must be false")
	}
}

func TestApplyEmptyUpdateIsIdentity(t *testing.T) {
	s := baseState()
	s.Errors = []string{"e1"}
	s.Draft = &Draft{ID: "d1", Confidence: 0.8}
	s.Approved = true
	got := Apply(s, Update{})
	if diff := cmp.Diff(s, got); diff != "" {
		t.Fatalf("empty update changed state (-want +got):\n%s", diff)
	}
}

func TestApplyMergesAndAppends(t *testing.T) {
	s := baseState()
	s = Apply(s, Update{
		Observations: []Observation{{Type: ObservationPattern, Description: "weekly", Confidence: 0.6}},
		Errors:       []string{"observer: flaky"},
		Trace:        []ReasoningStep{{Node: "observer"}},
	})
	s = Apply(s, Update{
		Intent: &Intent{ID: "i1", Confidence: 0.7},
		Errors: []string{"intent: slow"},
		Trace:  []ReasoningStep{{Node: "intent_predictor"}},
	})

	if len(s.Observations) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(s.Observations))
	}
	if s.Intent == nil || s.Intent.ID != "i1" {
		t.Fatalf("intent not replaced: %+v", s.Intent)
	}
	want := []string{"observer: flaky", "intent: slow"}
	if !reflect.DeepEqual(s.Errors, want) {
		t.Fatalf("errors = %v, want %v", s.Errors, want)
	}
	if len(s.Trace) != 2 || s.Trace[1].Node != "intent_predictor" {
		t.Fatalf("unexpected trace %+v", s.Trace)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	s := baseState()
	s.Errors = make([]string, 1, 8)
	s.Errors[0] = "first"
	_ = Apply(s, Update{Errors: []string{"second"}})
	if len(s.Errors) != 1 {
		t.Fatalf("input state mutated: %v", s.Errors)
	}
}

func TestNewSeedsContextLoadErrors(t *testing.T) {
	sig := signals.Signal{ID: "sig-1", UserID: "u1"}
	uctx := UserContext{LoadErrors: []string{"constraints: locked"}}

	s := New("run-1", sig, "u1", uctx, false, time.Time{})

	if diff := cmp.Diff([]string{"user context: constraints: locked"}, s.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}
	if len(baseState().Errors) != 0 {
		t.Fatal("clean context must start without errors")
	}
}

func TestErrorsMonotonic(t *testing.T) {
	s := baseState()
	prev := 0
	updates := []Update{
		{Errors: []string{"a"}},
		{},
		{Errors: []string{"b", "c"}},
		{Draft: &Draft{ID: "d"}},
	}
	for i, u := range updates {
		s = Apply(s, u)
		if len(s.Errors) < prev {
			t.Fatalf("errors shrank at step %d", i)
		}
		prev = len(s.Errors)
	}
	if prev != 3 {
		t.Fatalf("expected 3 errors, got %d", prev)
	}
}

func TestReducerTableCoversUpdateFields(t *testing.T) {
	// Every Update field must have exactly one reducer.
	covered := map[string]bool{}
	for _, f := range ReducerFields() {
		if covered[f] {
			t.Fatalf("duplicate reducer for %s", f)
		}
		covered[f] = true
	}
	typ := reflect.TypeOf(Update{})
	if typ.NumField() != len(covered) {
		t.Fatalf("Update has %d fields but %d reducers", typ.NumField(), len(covered))
	}
}

func TestDraftConfidenceAndHardApproved(t *testing.T) {
	s := baseState()
	if s.DraftConfidence() != 0 {
		t.Fatal("expected 0 confidence without draft")
	}
	if s.HardApproved() {
		t.Fatal("HardApproved must be false before HardGuard runs")
	}
	s.Draft = &Draft{Confidence: 0.42}
	s.HardGuard = &HardGuardResult{HardApproved: true}
	if s.DraftConfidence() != 0.42 || !s.HardApproved() {
		t.Fatalf("unexpected accessors: %v %v", s.DraftConfidence(), s.HardApproved())
	}
}
