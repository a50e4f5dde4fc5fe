package app

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/yourusername/social-dl-go/internal/domain"
)

const storeShards = 32

// sessionEntry serializes writers of a single session
type sessionEntry struct {
	mu      sync.Mutex
	session domain.DownloadSession
}

type storeShard struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

// MemorySessionStore is the process-memory SessionStore. Sessions are spread
// over shards so lookups of unrelated ids never contend on one lock, and each
// session carries its own mutex for updates.
type MemorySessionStore struct {
	shards  [storeShards]*storeShard
	batchMu sync.RWMutex
	batches map[string]domain.BatchSession
	clock   Clock
	newID   func() string
}

var _ domain.SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty store
func NewMemorySessionStore(clock Clock) *MemorySessionStore {
	if clock == nil {
		clock = SystemClock
	}
	s := &MemorySessionStore{
		batches: make(map[string]domain.BatchSession),
		clock:   clock,
		newID:   uuid.NewString,
	}
	for i := range s.shards {
		s.shards[i] = &storeShard{entries: make(map[string]*sessionEntry)}
	}
	return s
}

func (s *MemorySessionStore) shardFor(id string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%storeShards]
}

// Create inserts a fresh PENDING session and returns its id
func (s *MemorySessionStore) Create(url string, platform domain.Platform, quality domain.Quality) string {
	return s.insert(url, platform, quality, "")
}

func (s *MemorySessionStore) insert(url string, platform domain.Platform, quality domain.Quality, batchID string) string {
	for {
		id := s.newID()
		shard := s.shardFor(id)

		shard.mu.Lock()
		if _, exists := shard.entries[id]; exists {
			shard.mu.Unlock()
			continue
		}
		session := domain.NewDownloadSession(id, url, platform, quality, s.clock.Now())
		session.BatchID = batchID
		shard.entries[id] = &sessionEntry{session: *session}
		shard.mu.Unlock()
		return id
	}
}

// CreateBatch inserts one PENDING session per URL, in order, plus the batch record
func (s *MemorySessionStore) CreateBatch(urls []string, platform domain.Platform, quality domain.Quality) domain.BatchSession {
	batch := domain.BatchSession{
		ID:         s.newID(),
		Platform:   platform,
		Quality:    quality,
		URLs:       append([]string(nil), urls...),
		SessionIDs: make([]string, 0, len(urls)),
		CreatedAt:  s.clock.Now(),
	}
	for _, url := range urls {
		batch.SessionIDs = append(batch.SessionIDs, s.insert(url, platform, quality, batch.ID))
	}

	s.batchMu.Lock()
	s.batches[batch.ID] = batch
	s.batchMu.Unlock()

	return batch.Clone()
}

func (s *MemorySessionStore) entry(id string) (*sessionEntry, error) {
	shard := s.shardFor(id)
	shard.mu.RLock()
	e, ok := shard.entries[id]
	shard.mu.RUnlock()
	if !ok {
		return nil, domain.NewFetchError(domain.KindInvalidSession, fmt.Sprintf("session not found: %s", id), nil)
	}
	return e, nil
}

// Get returns a snapshot of a session
func (s *MemorySessionStore) Get(id string) (domain.DownloadSession, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.DownloadSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// GetBatch returns the batch record and member snapshots in submission order
func (s *MemorySessionStore) GetBatch(id string) (domain.BatchSession, []domain.DownloadSession, error) {
	s.batchMu.RLock()
	batch, ok := s.batches[id]
	s.batchMu.RUnlock()
	if !ok {
		return domain.BatchSession{}, nil, domain.NewFetchError(domain.KindInvalidSession, fmt.Sprintf("batch not found: %s", id), nil)
	}

	members := make([]domain.DownloadSession, 0, len(batch.SessionIDs))
	for _, sid := range batch.SessionIDs {
		m, err := s.Get(sid)
		if err != nil {
			return domain.BatchSession{}, nil, err
		}
		members = append(members, m)
	}
	return batch.Clone(), members, nil
}

// Update applies fn to a working copy of the session under the session's lock.
// The copy replaces the stored session only if fn succeeds, so readers never
// observe a partial update.
func (s *MemorySessionStore) Update(id string, fn func(*domain.DownloadSession) error) (domain.DownloadSession, error) {
	e, err := s.entry(id)
	if err != nil {
		return domain.DownloadSession{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.session.Clone()
	if err := fn(&next); err != nil {
		return e.session.Clone(), err
	}
	e.session = next
	return next.Clone(), nil
}

// List returns snapshots matching the filter, oldest first
func (s *MemorySessionStore) List(filter domain.SessionFilter) []domain.DownloadSession {
	var out []domain.DownloadSession
	s.each(func(session *domain.DownloadSession) {
		if filter.Matches(session) {
			out = append(out, session.Clone())
		}
	})

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats counts sessions by state
func (s *MemorySessionStore) Stats() domain.SessionStats {
	var stats domain.SessionStats
	s.each(func(session *domain.DownloadSession) {
		stats.Add(session.State)
	})

	s.batchMu.RLock()
	stats.Batches = int64(len(s.batches))
	s.batchMu.RUnlock()
	return stats
}

// each visits every session under its own lock, one shard at a time
func (s *MemorySessionStore) each(fn func(*domain.DownloadSession)) {
	for _, shard := range s.shards {
		shard.mu.RLock()
		entries := make([]*sessionEntry, 0, len(shard.entries))
		for _, e := range shard.entries {
			entries = append(entries, e)
		}
		shard.mu.RUnlock()

		for _, e := range entries {
			e.mu.Lock()
			fn(&e.session)
			e.mu.Unlock()
		}
	}
}
