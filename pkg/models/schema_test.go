package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInboundEvent(t *testing.T) {
	valid := func() *InboundEvent {
		return NewInboundEventBuilder().
			WithID("evt-1").
			WithType("delivery").
			WithSubject("user@example.com").
			WithOccurredAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)).
			Build()
	}

	require.NoError(t, ValidateInboundEvent(valid()))

	tests := []struct {
		name   string
		mutate func(e *InboundEvent)
		field  string
	}{
		{"missing id", func(e *InboundEvent) { e.EventID = "" }, "eventId"},
		{"missing type", func(e *InboundEvent) { e.EventType = "" }, "eventType"},
		{"missing subject", func(e *InboundEvent) { e.SubjectRef = "" }, "subjectRef"},
		{"missing occurredAt", func(e *InboundEvent) { e.OccurredAt = time.Time{} }, "occurredAt"},
		{"long type", func(e *InboundEvent) { e.EventType = string(make([]byte, 65)) }, "eventType"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			err := ValidateInboundEvent(e)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	assert.Error(t, ValidateInboundEvent(nil))
}

func TestInboundEventWireNames(t *testing.T) {
	var e InboundEvent
	err := json.Unmarshal([]byte(`{"eventId":"1","eventType":"bounce","subjectRef":"r","occurredAt":"2024-05-01T10:00:00Z","details":{"code":550}}`), &e)
	require.NoError(t, err)

	assert.Equal(t, "1", e.EventID)
	assert.Equal(t, "bounce", e.EventType)
	code, ok := e.GetDetail("code")
	assert.True(t, ok)
	assert.Equal(t, 550.0, code)
}
