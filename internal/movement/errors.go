package movement

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent indicates an event type with no propagation rule.
	ErrUnknownEvent = errors.New("movement: unknown event type")
	// ErrInvalidEvent indicates a malformed event or conversion.
	ErrInvalidEvent = errors.New("movement: invalid event")
	// ErrUnbalancedConversion is matched by every *UnbalancedConversionError.
	ErrUnbalancedConversion = errors.New("movement: unbalanced conversion")
	// ErrWorkflowNotFound indicates a missing workflow record.
	ErrWorkflowNotFound = errors.New("movement: workflow not found")
	// ErrWorkflowClosed is returned when recovering a finished workflow.
	ErrWorkflowClosed = errors.New("movement: workflow already closed")
)

// UnbalancedConversionError reports the quantity mismatch of a conversion.
type UnbalancedConversionError struct {
	OwnerID   string
	ProductID string
	Source    float64
	Targets   float64
}

func (e *UnbalancedConversionError) Error() string {
	return fmt.Sprintf("%s: owner %s product %s source %.4f, targets total %.4f, difference %.4f",
		ErrUnbalancedConversion.Error(), e.OwnerID, e.ProductID, e.Source, e.Targets, e.Targets-e.Source)
}

// Is makes errors.Is(err, ErrUnbalancedConversion) hold.
func (e *UnbalancedConversionError) Is(target error) bool {
	return target == ErrUnbalancedConversion
}
