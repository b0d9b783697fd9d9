// Package store persists captured bridge events in a local SQLite database so
// a relayer restart never drops a lock event that has not settled yet.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Event statuses. Failed is terminal; operators requeue manually.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// InMemoryDSN opens an ephemeral database, used by tests.
const InMemoryDSN = ":memory:"

// BridgeEvent is one captured lock event awaiting settlement. The six-field
// unique index makes inserts idempotent across monitor restarts and repeated
// observations of the same event.
type BridgeEvent struct {
	ID          uint   `gorm:"primaryKey"`
	FromChain   string `gorm:"column:from_chain;uniqueIndex:idx_bridge_event"`
	FromAddress string `gorm:"column:from_address;uniqueIndex:idx_bridge_event"`
	FromAmount  string `gorm:"column:from_amount;uniqueIndex:idx_bridge_event"`
	ToChain     string `gorm:"column:to_chain;uniqueIndex:idx_bridge_event"`
	ToAddress   string `gorm:"column:to_address;uniqueIndex:idx_bridge_event"`
	ToAmount    string `gorm:"column:to_amount;uniqueIndex:idx_bridge_event"`
	Signature   string `gorm:"column:signature"`
	Status      string `gorm:"column:status;index"`
	LastError   string `gorm:"column:last_error"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (BridgeEvent) TableName() string { return "bridge_events" }

// Store wraps the gorm client for bridge event persistence.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
// SQLite only supports one writer, so the pool is pinned to a single
// connection with WAL enabled for concurrent readers.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn != InMemoryDSN {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000&cache=shared&mode=rwc"
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open bridge database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&BridgeEvent{}); err != nil {
		return nil, fmt.Errorf("migrate bridge schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Insert records a captured event as pending. Re-inserting an event with the
// same six-field tuple is a no-op; the returned bool reports whether a new
// row was created.
func (s *Store) Insert(event *BridgeEvent) (bool, error) {
	if event.Status == "" {
		event.Status = StatusPending
	}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(event)
	if result.Error != nil {
		return false, fmt.Errorf("insert bridge event: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Pending returns unsettled events oldest first.
func (s *Store) Pending() ([]BridgeEvent, error) {
	var events []BridgeEvent
	err := s.db.Where("status = ?", StatusPending).Order("created_at asc, id asc").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	return events, nil
}

// MarkProcessed flips an event to processed.
func (s *Store) MarkProcessed(id uint) error {
	return s.setStatus(id, StatusProcessed, "")
}

// MarkFailed flips an event to failed with the settlement error. Failed is
// terminal so a poisoned event cannot wedge the queue.
func (s *Store) MarkFailed(id uint, cause string) error {
	return s.setStatus(id, StatusFailed, cause)
}

func (s *Store) setStatus(id uint, status, cause string) error {
	updates := map[string]any{"status": status, "last_error": cause}
	result := s.db.Model(&BridgeEvent{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update event %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update event %d: not found", id)
	}
	return nil
}

// Stats summarises the queue for the operator surface.
type Stats struct {
	Pending   int64 `json:"pending"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Stats counts events by status.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := s.db.Model(&BridgeEvent{}).Select("status, count(*) as count").Group("status").Scan(&rows).Error
	if err != nil {
		return Stats{}, fmt.Errorf("count bridge events: %w", err)
	}
	for _, r := range rows {
		switch r.Status {
		case StatusPending:
			stats.Pending = r.Count
		case StatusProcessed:
			stats.Processed = r.Count
		case StatusFailed:
			stats.Failed = r.Count
		}
	}
	return stats, nil
}
