package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"intake/internal/constants"
)

// Fingerprint is the deduplication key of an event. It must be identical across
// redeliveries of the same logical event.
type Fingerprint struct {
	EventID   string
	EventType string
}

func NewFingerprint(eventID, eventType string) Fingerprint {
	return Fingerprint{EventID: eventID, EventType: eventType}
}

// String is the human-readable form used in logs and as the storage id.
func (f Fingerprint) String() string {
	return f.EventID + ":" + f.EventType
}

// Hash is a fixed-length digest of both parts. Each part is length-prefixed so that
// ("a:b", "c") and ("a", "b:c") never collide.
func (f Fingerprint) Hash() string {
	var b strings.Builder
	b.Grow(len(f.EventID) + len(f.EventType) + 16)
	b.WriteString(strconv.Itoa(len(f.EventID)))
	b.WriteByte('|')
	b.WriteString(f.EventID)
	b.WriteString(strconv.Itoa(len(f.EventType)))
	b.WriteByte('|')
	b.WriteString(f.EventType)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (f Fingerprint) Key() string {
	return constants.KeyPrefixIdempotency + f.Hash()
}
