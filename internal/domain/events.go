package domain

import (
	"context"
	"time"
)

// EventType names a session lifecycle event
type EventType string

const (
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventExpired   EventType = "expired"
)

// SessionEvent is emitted on every state transition of a session
type SessionEvent struct {
	Type       EventType       `json:"type"`
	Session    DownloadSession `json:"session"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// EventSink receives session events. Sink failures never affect session state.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, event SessionEvent) error
}
