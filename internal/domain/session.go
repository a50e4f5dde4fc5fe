package domain

import (
	"fmt"
	"time"
)

// SessionState represents the lifecycle state of a download session
type SessionState string

const (
	StatePending    SessionState = "pending"
	StateProcessing SessionState = "processing"
	StateCompleted  SessionState = "completed"
	StateFailed     SessionState = "failed"
	StateExpired    SessionState = "expired"
)

// IsTerminal reports whether no further transitions are allowed out of the state
// except the COMPLETED -> EXPIRED sweep.
func (s SessionState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateExpired
}

// ValidateState checks if a state is one of the known session states
func ValidateState(s SessionState) bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateFailed, StateExpired:
		return true
	}
	return false
}

// VideoMetadata is the optional information the extractor reports about a video
type VideoMetadata struct {
	Title     string  `json:"title,omitempty"`
	Author    string  `json:"author,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

// IsZero reports whether no metadata field is set
func (m VideoMetadata) IsZero() bool {
	return m == VideoMetadata{}
}

// merge fills empty fields of m from other
func (m *VideoMetadata) merge(other VideoMetadata) {
	if m.Title == "" {
		m.Title = other.Title
	}
	if m.Author == "" {
		m.Author = other.Author
	}
	if m.Duration == 0 {
		m.Duration = other.Duration
	}
	if m.Thumbnail == "" {
		m.Thumbnail = other.Thumbnail
	}
}

// SessionError is the error recorded on a FAILED session
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// DownloadSession is the unit of tracked state for one requested download.
// Values are copied out of the session store, so a DownloadSession held by a
// caller is a consistent snapshot.
type DownloadSession struct {
	ID           string        `json:"session_id"`
	BatchID      string        `json:"batch_id,omitempty"`
	State        SessionState  `json:"status"`
	URL          string        `json:"url"`
	Platform     Platform      `json:"platform"`
	Quality      Quality       `json:"quality"`
	Progress     int           `json:"progress"`
	ArtifactPath string        `json:"-"`
	Filename     string        `json:"filename,omitempty"`
	Metadata     VideoMetadata `json:"metadata"`
	Error        *SessionError `json:"error,omitempty"`
	FileExpired  bool          `json:"file_expired"`
	CreatedAt    time.Time     `json:"created_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
}

// NewDownloadSession creates a PENDING session
func NewDownloadSession(id, url string, platform Platform, quality Quality, now time.Time) *DownloadSession {
	return &DownloadSession{
		ID:        id,
		State:     StatePending,
		URL:       url,
		Platform:  platform,
		Quality:   quality,
		CreatedAt: now,
	}
}

// ErrInvalidTransition is returned when a state change is not allowed by the
// session state machine
type ErrInvalidTransition struct {
	From SessionState
	To   SessionState
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid session transition: %s -> %s", e.From, e.To)
}

func (d *DownloadSession) transition(to SessionState, allowed ...SessionState) error {
	for _, from := range allowed {
		if d.State == from {
			d.State = to
			return nil
		}
	}
	return &ErrInvalidTransition{From: d.State, To: to}
}

// MarkProcessing marks the session as processing
func (d *DownloadSession) MarkProcessing(now time.Time) error {
	if err := d.transition(StateProcessing, StatePending); err != nil {
		return err
	}
	d.StartedAt = &now
	return nil
}

// ReportProgress records download progress. Progress never regresses and is
// ignored outside PROCESSING.
func (d *DownloadSession) ReportProgress(percent int) {
	if d.State != StateProcessing {
		return
	}
	if percent > 100 {
		percent = 100
	}
	if percent > d.Progress {
		d.Progress = percent
	}
}

// ApplyMetadata merges extractor metadata into the session before it reaches a
// terminal state
func (d *DownloadSession) ApplyMetadata(meta VideoMetadata) {
	if d.State.IsTerminal() {
		return
	}
	d.Metadata.merge(meta)
}

// MarkCompleted marks the session as completed and computes its expiry
func (d *DownloadSession) MarkCompleted(artifactPath, filename string, now time.Time, ttl time.Duration) error {
	if err := d.transition(StateCompleted, StateProcessing); err != nil {
		return err
	}
	expires := now.Add(ttl)
	d.ArtifactPath = artifactPath
	d.Filename = filename
	d.Progress = 100
	d.CompletedAt = &now
	d.ExpiresAt = &expires
	return nil
}

// MarkFailed marks the session as failed
func (d *DownloadSession) MarkFailed(kind ErrorKind, message string, now time.Time) error {
	if err := d.transition(StateFailed, StateProcessing); err != nil {
		return err
	}
	d.Error = &SessionError{Kind: kind, Message: message}
	d.ArtifactPath = ""
	d.Filename = ""
	d.CompletedAt = &now
	return nil
}

// MarkExpired marks a completed session whose artifact has been removed
func (d *DownloadSession) MarkExpired() error {
	if err := d.transition(StateExpired, StateCompleted); err != nil {
		return err
	}
	d.FileExpired = true
	d.ArtifactPath = ""
	return nil
}

// IsExpiredAt reports whether a completed session is due for expiry at now
func (d *DownloadSession) IsExpiredAt(now time.Time) bool {
	return d.State == StateCompleted && d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// Clone returns a copy that shares no pointers with d
func (d DownloadSession) Clone() DownloadSession {
	c := d
	if d.Error != nil {
		e := *d.Error
		c.Error = &e
	}
	c.StartedAt = cloneTime(d.StartedAt)
	c.CompletedAt = cloneTime(d.CompletedAt)
	c.ExpiresAt = cloneTime(d.ExpiresAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
