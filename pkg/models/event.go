package models

import "time"

// InboundEvent is one notification submitted by a peer. (EventID, EventType) is its
// fingerprint and must be stable across redeliveries.
type InboundEvent struct {
	EventID       string                 `json:"eventId" bson:"event_id"`
	EventType     string                 `json:"eventType" bson:"event_type"`
	SubjectRef    string                 `json:"subjectRef" bson:"subject_ref"`
	OccurredAt    time.Time              `json:"occurredAt" bson:"occurred_at"`
	Details       map[string]interface{} `json:"details,omitempty" bson:"details,omitempty"`
	ReceivedAt    time.Time              `json:"receivedAt" bson:"received_at"`
	CorrelationID string                 `json:"correlationId,omitempty" bson:"correlation_id,omitempty"`
	PeerID        string                 `json:"peerId,omitempty" bson:"peer_id,omitempty"`
}

// DeadLetter is what gets published when a batch exhausts its retries.
type DeadLetter struct {
	Events   []InboundEvent `json:"events"`
	Reason   string         `json:"reason"`
	Error    string         `json:"error,omitempty"`
	Attempts int            `json:"attempts"`
	Source   string         `json:"source"`
	FailedAt time.Time      `json:"failedAt"`
}
