package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/yourusername/social-dl-go/internal/domain"
)

const postgresQueryTimeout = 5 * time.Second

var historyMigrations = []string{
	`CREATE TABLE IF NOT EXISTS download_history (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		batch_id TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		platform TEXT NOT NULL,
		quality TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		filename TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE(session_id, state)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_download_history_platform ON download_history(platform)`,
	`CREATE INDEX IF NOT EXISTS idx_download_history_state ON download_history(state)`,
	`CREATE INDEX IF NOT EXISTS idx_download_history_recorded_at ON download_history(recorded_at DESC)`,
}

const historyColumns = `id, session_id, batch_id, url, platform, quality, state, error_kind, error_message,
	filename, title, author, recorded_at`

// PostgresHistoryRepository implements domain.HistoryRepository on PostgreSQL
type PostgresHistoryRepository struct {
	db *sql.DB
}

// NewPostgresHistoryRepository connects to dsn and runs the migrations
func NewPostgresHistoryRepository(dsn string) (*PostgresHistoryRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresQueryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for i, migration := range historyMigrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	return &PostgresHistoryRepository{db: db}, nil
}

// Record appends an entry
func (r *PostgresHistoryRepository) Record(entry *domain.HistoryEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), postgresQueryTimeout)
	defer cancel()

	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}

	query := `
		INSERT INTO download_history (session_id, batch_id, url, platform, quality, state, error_kind,
			error_message, filename, title, author, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id, state) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.SessionID,
		entry.BatchID,
		entry.URL,
		entry.Platform,
		entry.Quality,
		entry.State,
		entry.ErrorKind,
		entry.ErrorMessage,
		entry.Filename,
		entry.Title,
		entry.Author,
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record history: %w", describePQ(err))
	}
	return nil
}

// List returns entries matching filter, most recent first
func (r *PostgresHistoryRepository) List(filter domain.HistoryFilter) ([]*domain.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), postgresQueryTimeout)
	defer cancel()

	query, args := buildHistoryQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", describePQ(err))
	}
	defer rows.Close()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(
			&e.ID,
			&e.SessionID,
			&e.BatchID,
			&e.URL,
			&e.Platform,
			&e.Quality,
			&e.State,
			&e.ErrorKind,
			&e.ErrorMessage,
			&e.Filename,
			&e.Title,
			&e.Author,
			&e.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// buildHistoryQuery renders the List query with positional parameters
func buildHistoryQuery(filter domain.HistoryFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Platform != "" {
		args = append(args, filter.Platform)
		where = append(where, fmt.Sprintf("platform = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}

	query := "SELECT " + historyColumns + " FROM download_history"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

// Stats aggregates entries by state, platform and error kind
func (r *PostgresHistoryRepository) Stats() (*domain.HistoryStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), postgresQueryTimeout)
	defer cancel()

	stats := &domain.HistoryStats{}
	if err := r.db.QueryRowContext(ctx, "SELECT count(*) FROM download_history").Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count history: %w", describePQ(err))
	}

	var err error
	if stats.ByState, err = r.countBy(ctx, "state"); err != nil {
		return nil, err
	}
	if stats.ByPlatform, err = r.countBy(ctx, "platform"); err != nil {
		return nil, err
	}
	if stats.ByError, err = r.countBy(ctx, "error_kind"); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *PostgresHistoryRepository) countBy(ctx context.Context, column string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, countByQuery(column))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate history: %w", describePQ(err))
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			key   string
			count int64
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

func countByQuery(column string) string {
	col := pq.QuoteIdentifier(column)
	return fmt.Sprintf("SELECT %s, count(*) FROM download_history WHERE %s <> '' GROUP BY %s", col, col, col)
}

// describePQ adds the server error code to postgres errors
func describePQ(err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		return fmt.Errorf("%s (%s): %w", pqErr.Message, pqErr.Code, err)
	}
	return err
}

// Close closes the database connection
func (r *PostgresHistoryRepository) Close() error {
	return r.db.Close()
}
