package app

import (
	"context"

	"github.com/yourusername/social-dl-go/internal/domain"
)

// HistoryRecorder is an EventSink appending outcomes to a HistoryRepository.
// Only events that end a phase of the lifecycle are recorded.
type HistoryRecorder struct {
	repo domain.HistoryRepository
}

// NewHistoryRecorder creates a recorder writing to repo
func NewHistoryRecorder(repo domain.HistoryRepository) *HistoryRecorder {
	return &HistoryRecorder{repo: repo}
}

// Name implements domain.EventSink
func (r *HistoryRecorder) Name() string {
	return "history"
}

// Publish implements domain.EventSink
func (r *HistoryRecorder) Publish(ctx context.Context, event domain.SessionEvent) error {
	switch event.Type {
	case domain.EventCompleted, domain.EventFailed, domain.EventExpired:
	default:
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.repo.Record(domain.NewHistoryEntry(event.Session, event.OccurredAt))
}
