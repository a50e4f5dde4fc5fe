package domain

import "time"

// BatchSession groups N download sessions submitted together. Only the
// membership is stored; state, progress and errors are derived from members.
type BatchSession struct {
	ID         string
	Platform   Platform
	Quality    Quality
	URLs       []string
	SessionIDs []string
	CreatedAt  time.Time
}

// BatchItemError is a per-item failure inside a batch
type BatchItemError struct {
	URL   string    `json:"url"`
	Kind  ErrorKind `json:"kind"`
	Error string    `json:"error"`
}

// BatchView is the derived, client-facing view of a batch
type BatchView struct {
	ID            string            `json:"session_id"`
	State         SessionState      `json:"status"`
	Platform      Platform          `json:"platform"`
	Quality       Quality           `json:"quality"`
	TotalURLs     int               `json:"total_urls"`
	ProcessedURLs int               `json:"processed_urls"`
	Progress      int               `json:"progress"`
	Errors        []BatchItemError  `json:"errors"`
	Sessions      []DownloadSession `json:"sessions"`
	CreatedAt     time.Time         `json:"created_at"`
}

// DeriveBatchView computes the aggregate view from member sessions given in
// submission order. A batch is COMPLETED only when every member succeeded; a
// single failed member makes the whole batch FAILED once all items are done.
func DeriveBatchView(batch BatchSession, members []DownloadSession) BatchView {
	view := BatchView{
		ID:        batch.ID,
		Platform:  batch.Platform,
		Quality:   batch.Quality,
		TotalURLs: len(batch.URLs),
		Errors:    []BatchItemError{},
		Sessions:  members,
		CreatedAt: batch.CreatedAt,
	}

	started := false
	anyFailed := false
	for _, m := range members {
		if m.State != StatePending {
			started = true
		}
		if !m.State.IsTerminal() {
			continue
		}
		view.ProcessedURLs++
		if m.State == StateFailed {
			anyFailed = true
			item := BatchItemError{URL: m.URL}
			if m.Error != nil {
				item.Kind = m.Error.Kind
				item.Error = m.Error.Message
			}
			view.Errors = append(view.Errors, item)
		}
	}

	if view.TotalURLs > 0 {
		view.Progress = view.ProcessedURLs * 100 / view.TotalURLs
	}

	switch {
	case view.TotalURLs > 0 && view.ProcessedURLs == view.TotalURLs && anyFailed:
		view.State = StateFailed
	case view.ProcessedURLs == view.TotalURLs:
		view.State = StateCompleted
	case started:
		view.State = StateProcessing
	default:
		view.State = StatePending
	}
	return view
}

// Clone returns a copy that shares no slices with b
func (b BatchSession) Clone() BatchSession {
	c := b
	c.URLs = append([]string(nil), b.URLs...)
	c.SessionIDs = append([]string(nil), b.SessionIDs...)
	return c
}
