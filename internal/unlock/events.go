package unlock

import (
	"github.com/playperu/adventure/internal/adventure"
	"github.com/playperu/adventure/internal/geo"
)

// Source says what triggered an unlock.
type Source string

const (
	SourceProximity Source = "proximity"
	SourceScan      Source = "scan"
)

type EventType string

const (
	EventUnlocked         EventType = "unlocked"
	EventReset            EventType = "reset"
	EventStoreError       EventType = "store_error"
	EventRecordError      EventType = "record_error"
	EventPermissionDenied EventType = "permission_denied"
)

// UnlockEvent describes one Locked -> Visited transition. Seq gives the
// delivery order within an engine.
type UnlockEvent struct {
	LocationID string `json:"locationId"`
	Name       string `json:"name"`
	Content    string `json:"content,omitempty"`
	Source     Source `json:"source"`
	Seq        int    `json:"seq"`
	// Persisted is false when the visited store rejected the write; the
	// unlock still stands for the session.
	Persisted bool `json:"persisted"`
}

// Event is pushed to the presentation layer after every state change and
// every reported failure.
type Event struct {
	Type       EventType    `json:"type"`
	ProjectID  string       `json:"projectId"`
	LocationID string       `json:"locationId,omitempty"`
	Unlock     *UnlockEvent `json:"unlock,omitempty"`
	Score      int          `json:"score"`
	Visited    []string     `json:"visited"`
	Error      string       `json:"error,omitempty"`
}

type State struct {
	ProjectID   string                `json:"projectId"`
	ScoringMode adventure.ScoringMode `json:"scoringMode"`
	Visited     []string              `json:"visited"`
	Score       int                   `json:"score"`
	MaxScore    int                   `json:"maxScore"`
	LastUnlock  *UnlockEvent          `json:"lastUnlock,omitempty"`
	Proximity   bool                  `json:"proximity"`
}

// Marker is a location as shown on the map preview.
type Marker struct {
	LocationID  string    `json:"locationId"`
	Name        string    `json:"name"`
	Position    geo.Point `json:"position"`
	Distance    float64   `json:"distanceMeters"`
	Highlighted bool      `json:"highlighted"`
}
