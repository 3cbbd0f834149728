package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JournalEntry is one persisted station event.
type JournalEntry struct {
	ID         uuid.UUID       `json:"id"`
	Kind       string          `json:"kind"`
	Topic      string          `json:"topic"`
	Device     string          `json:"device,omitempty"`
	Value      json.RawMessage `json:"value"` // JSONB
	OccurredAt time.Time       `json:"occurred_at"`
}

// JournalFilter narrows Recent. Zero values match everything.
type JournalFilter struct {
	Device string
	Kind   string
	Since  time.Time
	Limit  int
}
