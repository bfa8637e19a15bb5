package passport

import (
	"errors"
	"testing"
)

func TestLifecycleMachine_ValidateTransition(t *testing.T) {
	m := NewLifecycleMachine()

	tests := []struct {
		name    string
		from    LifecycleState
		to      LifecycleState
		wantErr bool
		errCode string
	}{
		{"draft to in_review", StateDraft, StateInReview, false, ""},
		{"in_review back to draft", StateInReview, StateDraft, false, ""},
		{"in_review to published", StateInReview, StatePublished, false, ""},
		{"published to archived", StatePublished, StateArchived, false, ""},
		{"published to in_review", StatePublished, StateInReview, false, ""},
		{"archived to draft", StateArchived, StateDraft, false, ""},
		{"same state no-op", StatePublished, StatePublished, false, ""},

		{"draft to published denied", StateDraft, StatePublished, true, "LIFECYCLE_TRANSITION_DENIED"},
		{"draft to archived denied", StateDraft, StateArchived, true, "LIFECYCLE_TRANSITION_DENIED"},
		{"archived to published denied", StateArchived, StatePublished, true, "LIFECYCLE_TRANSITION_DENIED"},

		{"in_review to archived undefined", StateInReview, StateArchived, true, "LIFECYCLE_INVALID_TRANSITION"},
		{"archived to in_review undefined", StateArchived, StateInReview, true, "LIFECYCLE_INVALID_TRANSITION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if tt.wantErr {
				var te *TransitionError
				if !errors.As(err, &te) {
					t.Errorf("expected TransitionError, got %T", err)
				} else if te.Code != tt.errCode {
					t.Errorf("expected code %s, got %s", tt.errCode, te.Code)
				}
			}
		})
	}
}

func TestLifecycleMachine_AllowedTransitions(t *testing.T) {
	m := NewLifecycleMachine()

	got := m.AllowedTransitions(StatePublished)
	if len(got) != 2 || got[0] != StateArchived || got[1] != StateInReview {
		t.Errorf("AllowedTransitions(published) = %v", got)
	}
	if got := m.AllowedTransitions(StateDraft); len(got) != 1 || got[0] != StateInReview {
		t.Errorf("AllowedTransitions(draft) = %v", got)
	}
}

func TestParseLifecycleState(t *testing.T) {
	for _, s := range []string{"draft", "in_review", "published", "archived"} {
		if _, err := ParseLifecycleState(s); err != nil {
			t.Errorf("ParseLifecycleState(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParseLifecycleState("approved"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ParseLifecycleState(approved) error = %v, want ErrInvalidInput", err)
	}
}
