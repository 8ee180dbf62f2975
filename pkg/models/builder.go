package models

import "time"

type InboundEventBuilder struct {
	event *InboundEvent
}

func NewInboundEventBuilder() *InboundEventBuilder {
	return &InboundEventBuilder{
		event: &InboundEvent{
			Details: make(map[string]interface{}),
		},
	}
}

func (b *InboundEventBuilder) WithID(id string) *InboundEventBuilder {
	b.event.EventID = id
	return b
}

func (b *InboundEventBuilder) WithType(eventType string) *InboundEventBuilder {
	b.event.EventType = eventType
	return b
}

func (b *InboundEventBuilder) WithSubject(subjectRef string) *InboundEventBuilder {
	b.event.SubjectRef = subjectRef
	return b
}

func (b *InboundEventBuilder) WithOccurredAt(t time.Time) *InboundEventBuilder {
	b.event.OccurredAt = t
	return b
}

func (b *InboundEventBuilder) WithDetail(key string, value interface{}) *InboundEventBuilder {
	b.event.Details[key] = value
	return b
}

func (b *InboundEventBuilder) WithCorrelationID(id string) *InboundEventBuilder {
	b.event.CorrelationID = id
	return b
}

func (b *InboundEventBuilder) Build() *InboundEvent {
	now := time.Now().UTC()
	if b.event.OccurredAt.IsZero() {
		b.event.OccurredAt = now
	}
	if b.event.ReceivedAt.IsZero() {
		b.event.ReceivedAt = now
	}
	return b.event
}
