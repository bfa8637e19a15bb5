package passport

import "fmt"

// LifecycleState is the document state of a passport. It is unrelated to the
// applicant status model a passport describes.
type LifecycleState string

const (
	StateDraft     LifecycleState = "draft"
	StateInReview  LifecycleState = "in_review"
	StatePublished LifecycleState = "published"
	StateArchived  LifecycleState = "archived"
)

// ParseLifecycleState validates a state name.
func ParseLifecycleState(s string) (LifecycleState, error) {
	switch st := LifecycleState(s); st {
	case StateDraft, StateInReview, StatePublished, StateArchived:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown passport status %q", ErrInvalidInput, s)
}

// TransitionRule defines an allowed lifecycle transition.
type TransitionRule struct {
	From LifecycleState
	To   LifecycleState
}

// DefaultTransitions defines the allowed lifecycle state transitions.
var DefaultTransitions = []TransitionRule{
	{From: StateDraft, To: StateInReview},
	{From: StateInReview, To: StateDraft},
	{From: StateInReview, To: StatePublished},
	{From: StatePublished, To: StateArchived},
	{From: StatePublished, To: StateInReview},
	{From: StateArchived, To: StateDraft},
}

// DisallowedTransitions are explicitly forbidden (return specific error).
var DisallowedTransitions = map[LifecycleState][]LifecycleState{
	StateDraft:    {StatePublished, StateArchived},
	StateArchived: {StatePublished},
}

// LifecycleMachine validates passport document state transitions.
type LifecycleMachine struct {
	transitions []TransitionRule
	disallowed  map[LifecycleState][]LifecycleState
}

// NewLifecycleMachine creates a machine with default rules.
func NewLifecycleMachine() *LifecycleMachine {
	return &LifecycleMachine{
		transitions: DefaultTransitions,
		disallowed:  DisallowedTransitions,
	}
}

// ValidateTransition checks if a transition from->to is allowed.
// Returns nil if allowed, a *TransitionError otherwise.
func (m *LifecycleMachine) ValidateTransition(from, to LifecycleState) error {
	if from == to {
		return nil
	}

	for _, d := range m.disallowed[from] {
		if d == to {
			return &TransitionError{
				Code:    "LIFECYCLE_TRANSITION_DENIED",
				From:    from,
				To:      to,
				Message: fmt.Sprintf("transition from %s to %s is not allowed", from, to),
			}
		}
	}

	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return nil
		}
	}

	return &TransitionError{
		Code:    "LIFECYCLE_INVALID_TRANSITION",
		From:    from,
		To:      to,
		Message: fmt.Sprintf("no transition defined from %s to %s", from, to),
	}
}

// AllowedTransitions returns all valid target states from the given state.
func (m *LifecycleMachine) AllowedTransitions(from LifecycleState) []LifecycleState {
	var allowed []LifecycleState
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	return allowed
}

// TransitionError is a structured error for invalid transitions.
type TransitionError struct {
	Code    string         `json:"code"`
	From    LifecycleState `json:"from"`
	To      LifecycleState `json:"to"`
	Message string         `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}
