package shared

import "fmt"

// TransitionError reports an action attempted outside its allowed source state.
type TransitionError struct {
	Document string
	ID       string
	From     string
	Action   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s %s %s in status %s", ErrInvalidTransition.Error(), e.Action, e.Document, e.ID, e.From)
}

// Is makes errors.Is(err, ErrInvalidTransition) hold.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Transitions lists the source states each action accepts.
type Transitions[S ~string] map[string][]S

// Check returns a *TransitionError unless action is allowed from the current state.
func (t Transitions[S]) Check(document, id string, from S, action string) error {
	for _, allowed := range t[action] {
		if allowed == from {
			return nil
		}
	}
	return &TransitionError{Document: document, ID: id, From: string(from), Action: action}
}
