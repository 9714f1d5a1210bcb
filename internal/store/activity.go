package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Append records a new activity event with a fresh monotonic id. Grounded
// on the teacher's common/syncev error-event model, generalized from a
// source/level pair into the EventKind enum that spec.md section 6 defines.
func (s *Store) Append(event ActivityEvent) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return appendTx(tx, event)
	})
}

func appendTx(tx *gorm.DB, event ActivityEvent) error {
	event.ID = 0
	event.CreatedAt = now()
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("appending activity event %s: %w", event.Kind, err)
	}
	return nil
}

// ReadActivity returns up to limit events with id > sinceID, optionally
// filtered by kind, in ascending id order — the same semantics both the
// polling List endpoint and the SSE stream's cursor reads share.
func (s *Store) ReadActivity(sinceID uint, limit int, kind EventKind) ([]ActivityEvent, error) {
	q := s.db.Model(&ActivityEvent{}).Where("id > ?", sinceID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var events []ActivityEvent
	if err := q.Order("id").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("reading activity since %d: %w", sinceID, err)
	}
	return events, nil
}

// LatestActivityID returns the highest event id persisted, or 0 if the
// log is empty — useful for SSE clients establishing an initial cursor.
func (s *Store) LatestActivityID() (uint, error) {
	var event ActivityEvent
	err := s.db.Order("id desc").First(&event).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("finding latest activity id: %w", err)
	}
	return event.ID, nil
}

// PruneActivity deletes events older than olderThan, but never touches an
// event at or after minRetainID — the oldest cursor any live SSE stream
// still needs to read from.
func (s *Store) PruneActivity(olderThan time.Duration, minRetainID uint) (int64, error) {
	cutoff := now().Add(-olderThan)
	res := s.db.Where("created_at < ? AND id < ?", cutoff, minRetainID).Delete(&ActivityEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning activity log: %w", res.Error)
	}
	return res.RowsAffected, nil
}
