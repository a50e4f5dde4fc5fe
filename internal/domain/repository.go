package domain

import "time"

// SessionStore owns every download session. Reads return copies; writes go
// through Update, which applies the mutation atomically for one session id.
type SessionStore interface {
	// Create inserts a fresh PENDING session and returns its id
	Create(url string, platform Platform, quality Quality) string

	// CreateBatch inserts one PENDING session per URL plus the batch record
	CreateBatch(urls []string, platform Platform, quality Quality) BatchSession

	// Get returns a snapshot of a session or ErrSessionNotFound
	Get(id string) (DownloadSession, error)

	// GetBatch returns the batch record and its members in submission order
	GetBatch(id string) (BatchSession, []DownloadSession, error)

	// Update applies fn to the session under its own lock and returns the
	// resulting snapshot. If fn returns an error the session is left unchanged.
	Update(id string, fn func(*DownloadSession) error) (DownloadSession, error)

	// List returns snapshots matching the filter
	List(filter SessionFilter) []DownloadSession

	// Stats counts sessions by state
	Stats() SessionStats
}

// SessionFilter selects sessions in List. Zero values match everything.
type SessionFilter struct {
	State    SessionState
	Platform Platform
	BatchID  string
}

// Matches reports whether s satisfies the filter
func (f SessionFilter) Matches(s *DownloadSession) bool {
	if f.State != "" && s.State != f.State {
		return false
	}
	if f.Platform != "" && s.Platform != f.Platform {
		return false
	}
	if f.BatchID != "" && s.BatchID != f.BatchID {
		return false
	}
	return true
}

// SessionStats represents session counts by state
type SessionStats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Expired    int64 `json:"expired"`
	Batches    int64 `json:"batches"`
}

// Add counts one session
func (s *SessionStats) Add(state SessionState) {
	s.Total++
	switch state {
	case StatePending:
		s.Pending++
	case StateProcessing:
		s.Processing++
	case StateCompleted:
		s.Completed++
	case StateFailed:
		s.Failed++
	case StateExpired:
		s.Expired++
	}
}

// HistoryEntry is an append-only record of a session reaching a terminal state.
// A session has at most one entry per state. History is never read back into
// the session store.
type HistoryEntry struct {
	ID           uint         `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID    string       `json:"session_id" gorm:"not null;uniqueIndex:idx_history_session_state"`
	BatchID      string       `json:"batch_id,omitempty" gorm:"index"`
	URL          string       `json:"url" gorm:"not null"`
	Platform     Platform     `json:"platform" gorm:"not null;index"`
	Quality      Quality      `json:"quality"`
	State        SessionState `json:"status" gorm:"not null;uniqueIndex:idx_history_session_state;index"`
	ErrorKind    ErrorKind    `json:"error_kind,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Filename     string       `json:"filename,omitempty"`
	Title        string       `json:"title,omitempty"`
	Author       string       `json:"author,omitempty"`
	RecordedAt   time.Time    `json:"recorded_at" gorm:"autoCreateTime;index"`
}

// TableName specifies the table name for GORM
func (HistoryEntry) TableName() string {
	return "download_history"
}

// NewHistoryEntry builds a history record from a session snapshot
func NewHistoryEntry(s DownloadSession, now time.Time) *HistoryEntry {
	e := &HistoryEntry{
		SessionID:  s.ID,
		BatchID:    s.BatchID,
		URL:        s.URL,
		Platform:   s.Platform,
		Quality:    s.Quality,
		State:      s.State,
		Filename:   s.Filename,
		Title:      s.Metadata.Title,
		Author:     s.Metadata.Author,
		RecordedAt: now,
	}
	if s.Error != nil {
		e.ErrorKind = s.Error.Kind
		e.ErrorMessage = s.Error.Message
	}
	return e
}

// HistoryFilter selects history entries
type HistoryFilter struct {
	Platform Platform
	State    SessionState
	Limit    int
}

// HistoryStats represents outcome counts from history
type HistoryStats struct {
	Total      int64            `json:"total"`
	ByState    map[string]int64 `json:"by_state"`
	ByPlatform map[string]int64 `json:"by_platform"`
	ByError    map[string]int64 `json:"by_error"`
}

// HistoryRepository defines the interface for download history persistence
type HistoryRepository interface {
	// Record appends an entry. Recording the same session and state twice is
	// a no-op.
	Record(entry *HistoryEntry) error

	// List returns entries, most recent first
	List(filter HistoryFilter) ([]*HistoryEntry, error)

	// Stats aggregates entries
	Stats() (*HistoryStats, error)

	// Close releases the underlying connection
	Close() error
}
