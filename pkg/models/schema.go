package models

import "fmt"

const (
	MaxEventIDLength   = 256
	MaxEventTypeLength = 64
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateInboundEvent(event *InboundEvent) error {
	if event == nil {
		return &ValidationError{
			Field:   "event",
			Message: "event cannot be nil",
		}
	}

	if event.EventID == "" {
		return &ValidationError{
			Field:   "eventId",
			Message: "eventId is required",
		}
	}

	if len(event.EventID) > MaxEventIDLength {
		return &ValidationError{
			Field:   "eventId",
			Message: fmt.Sprintf("eventId must be at most %d characters", MaxEventIDLength),
		}
	}

	if event.EventType == "" {
		return &ValidationError{
			Field:   "eventType",
			Message: "eventType is required",
		}
	}

	if len(event.EventType) > MaxEventTypeLength {
		return &ValidationError{
			Field:   "eventType",
			Message: fmt.Sprintf("eventType must be at most %d characters", MaxEventTypeLength),
		}
	}

	if event.SubjectRef == "" {
		return &ValidationError{
			Field:   "subjectRef",
			Message: "subjectRef is required",
		}
	}

	if event.OccurredAt.IsZero() {
		return &ValidationError{
			Field:   "occurredAt",
			Message: "occurredAt is required",
		}
	}

	return nil
}

func (e *InboundEvent) GetDetail(name string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}

	value, ok := e.Details[name]
	return value, ok
}
