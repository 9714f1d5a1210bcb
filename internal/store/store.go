// Package store is the durable, transactional home for all daemon state:
// registered roots, exclude patterns, server configurations, the file
// table, the three work queues, and the activity log.
package store

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Store wraps a single *gorm.DB. There is exactly one writer process; the
// Store performs no in-memory caching so every read reflects the last
// committed transaction.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open opens (creating if absent) the SQLite-backed store at path and runs
// its migrations. Grounded on the teacher's helpers.OpenSQLite /
// db.NewGormSQLite, same gorm.Open(sqlite.Open(...), &gorm.Config{...}) call,
// with gorm's own logging routed through logger instead of the teacher's
// discarding stdlib one.
func Open(path string, logger *zap.Logger) (*Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := gorm.Open(sqlite.Open(path+sep+"_journal_mode=WAL"), &gorm.Config{
		Logger: newZapGormLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", path, err)
	}

	s := &Store{db: db, log: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrating store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(
		&Root{},
		&Exclude{},
		&Server{},
		&File{},
		&QueueEntry{},
		&ActivityEvent{},
	); err != nil {
		return err
	}
	s.log.Debug("store migrations applied")
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		s.log.Warn("closing store handle failed", zap.Error(err))
		return err
	}
	return nil
}

// Healthy reports whether the store can currently serve a trivial query.
// The control plane's /health endpoint calls this directly.
func (s *Store) Healthy() error {
	var roots int64
	if err := s.db.Model(&Root{}).Count(&roots).Error; err != nil {
		return fmt.Errorf("store unhealthy: %w", err)
	}
	return nil
}

// Stats aggregates per-queue and per-file-status counters, matching
// spec.md section 4.1's stats() contract.
type Stats struct {
	FilesTracked     int64
	FilesByStatus    map[FileStatus]int64
	PendingChecksum  int64
	PendingUpload    int64
	PendingDeletion  int64
}

func (s *Store) Stats() (Stats, error) {
	var out Stats
	if err := s.db.Model(&File{}).Count(&out.FilesTracked).Error; err != nil {
		return out, err
	}

	out.FilesByStatus = make(map[FileStatus]int64)
	rows, err := s.db.Model(&File{}).Select("status, count(*) as c").Group("status").Rows()
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var status FileStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return out, err
		}
		out.FilesByStatus[status] = count
	}

	for kind, dst := range map[QueueKind]*int64{
		QueueChecksum: &out.PendingChecksum,
		QueueUpload:   &out.PendingUpload,
		QueueDeletion: &out.PendingDeletion,
	} {
		if err := s.db.Model(&QueueEntry{}).Where("kind = ?", kind).Count(dst).Error; err != nil {
			return out, err
		}
	}

	return out, nil
}

// now is overridden in tests that need deterministic clocks.
var now = time.Now
