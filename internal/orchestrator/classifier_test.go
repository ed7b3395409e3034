package orchestrator

import (
	"testing"

	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/gate"
	"github.com/29xh24fm6r-ctrl/PulseMasterrepo-sub001/internal/state"
)

func TestClassifyAction(t *testing.T) {
	tests := []struct {
		name             string
		draftType        string
		title            string
		content          string
		wantDomain       string
		wantIrreversible bool
	}{
		// Domains
		{"finance-bill", "task", "Review electricity bill", "Check the amount", "finance", false},
		{"health-appointment", "reminder", "Dentist appointment", "Tuesday 10am", "health", false},
		{"career-interview", "task", "Prepare for interview", "Read the job description", "career", false},
		{"work-meeting", "calendar", "Weekly meeting", "Agenda attached", "work", false},
		{"social-birthday", "reminder", "Sam's birthday", "Pick a gift", "social", false},
		{"home-groceries", "task", "Groceries", "Milk and eggs", "home", false},
		{"travel-flight", "task", "Check flight status", "Departure at 9", "travel", false},
		{"general-fallback", "task", "Tidy desk", "Ten minutes", "general", false},

		// Irreversible
		{"irreversible-cancel", "task", "Cancel gym membership", "", "general", true},
		{"irreversible-buy", "task", "Buy groceries", "", "home", true},
		{"irreversible-comms", "email", "Follow up", "Thanks for your time", "general", true},
		{"irreversible-slack", "slack_message", "Standup notes", "", "work", true},
		{"whole-word-only", "task", "Payday planning", "Plan the budget", "finance", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := state.PipelineState{Draft: &state.Draft{DraftType: tt.draftType, Title: tt.title, Content: tt.content}}
			got := ClassifyAction(s)
			if got.Domain != tt.wantDomain {
				t.Errorf("domain: got %q, want %q", got.Domain, tt.wantDomain)
			}
			if got.IsIrreversible != tt.wantIrreversible {
				t.Errorf("irreversible: got %v, want %v", got.IsIrreversible, tt.wantIrreversible)
			}
			if got.Type != tt.draftType {
				t.Errorf("type: got %q, want %q", got.Type, tt.draftType)
			}
		})
	}
}

func TestClassifyActionUsesIntentSuggestion(t *testing.T) {
	s := state.PipelineState{
		Intent: &state.Intent{SuggestedAction: "submit the form"},
		Draft:  &state.Draft{DraftType: "task", Title: "Form", Content: "Fill in details"},
	}
	if !ClassifyAction(s).IsIrreversible {
		t.Fatal("expected intent's suggested action to mark the draft irreversible")
	}
}

func TestClassifyActionNoDraft(t *testing.T) {
	got := ClassifyAction(state.PipelineState{})
	if got.Domain != "general" || got.IsIrreversible {
		t.Fatalf("unexpected classification without draft: %+v", got)
	}
}

func TestClassifyActionTreatsGateCommsAsIrreversible(t *testing.T) {
	for _, typ := range gate.DefaultGateConfig().CommsTypes {
		s := state.PipelineState{Draft: &state.Draft{DraftType: typ, Title: "Note", Content: "See you soon"}}
		if !ClassifyAction(s).IsIrreversible {
			t.Errorf("draft type %q should be irreversible", typ)
		}
	}
}
