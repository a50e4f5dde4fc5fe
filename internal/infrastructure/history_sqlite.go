package infrastructure

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yourusername/social-dl-go/internal/domain"
)

// SQLiteHistoryRepository implements domain.HistoryRepository using SQLite
type SQLiteHistoryRepository struct {
	db *gorm.DB
}

// NewSQLiteHistoryRepository opens (and migrates) the history database
func NewSQLiteHistoryRepository(dbPath string) (*SQLiteHistoryRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.HistoryEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteHistoryRepository{db: db}, nil
}

// Record appends an entry
func (r *SQLiteHistoryRepository) Record(entry *domain.HistoryEntry) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "state"}},
		DoNothing: true,
	}).Create(entry).Error
}

// List returns entries matching filter, most recent first
func (r *SQLiteHistoryRepository) List(filter domain.HistoryFilter) ([]*domain.HistoryEntry, error) {
	query := r.db.Model(&domain.HistoryEntry{})
	if filter.Platform != "" {
		query = query.Where("platform = ?", filter.Platform)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []*domain.HistoryEntry
	err := query.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "recorded_at"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}}).Find(&entries).Error
	return entries, err
}

// Stats aggregates entries by state, platform and error kind
func (r *SQLiteHistoryRepository) Stats() (*domain.HistoryStats, error) {
	stats := &domain.HistoryStats{}
	if err := r.db.Model(&domain.HistoryEntry{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	var err error
	if stats.ByState, err = r.countBy("state"); err != nil {
		return nil, err
	}
	if stats.ByPlatform, err = r.countBy("platform"); err != nil {
		return nil, err
	}
	if stats.ByError, err = r.countBy("error_kind"); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *SQLiteHistoryRepository) countBy(column string) (map[string]int64, error) {
	var rows []struct {
		Bucket string
		Count  int64
	}
	err := r.db.Model(&domain.HistoryEntry{}).
		Select(column + " as bucket, count(*) as count").
		Where(column + " <> ''").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Bucket] = row.Count
	}
	return counts, nil
}

// Close closes the database connection
func (r *SQLiteHistoryRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
