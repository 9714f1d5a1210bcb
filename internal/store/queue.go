package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// Enqueue creates a queue entry immediately visible to claimants. Most
// callers use the transactional enqueueTx from within a File upsert so the
// enqueue commits atomically with the status change that triggered it.
func (s *Store) Enqueue(fileID uint, kind QueueKind) (*QueueEntry, error) {
	var entry *QueueEntry
	err := s.db.Transaction(func(tx *gorm.DB) error {
		e, err := enqueueTx(tx, fileID, kind)
		entry = e
		return err
	})
	return entry, err
}

func enqueueTx(tx *gorm.DB, fileID uint, kind QueueKind) (*QueueEntry, error) {
	entry := QueueEntry{
		Kind:          kind,
		FileID:        fileID,
		EnqueuedAt:    now(),
		NextVisibleAt: now(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("enqueueing %s entry for file %d: %w", kind, fileID, err)
	}
	return &entry, nil
}

// ClaimedEntry is a queue entry returned by Claim together with its File row.
type ClaimedEntry struct {
	QueueEntry
	File File
}

// Claim reserves up to limit entries of kind whose NextVisibleAt has
// elapsed, extends their lease to now+lease, and returns them with their
// associated File rows preloaded. A claimed entry becomes visible again,
// with no external sweeper, once NextVisibleAt elapses again — after a
// Fail's backoff, or when the lease runs out because the worker died.
// Complete removes the entry instead.
func (s *Store) Claim(kind QueueKind, workerID string, lease time.Duration, limit int) ([]ClaimedEntry, error) {
	token, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generating claim token: %w", err)
	}
	claimToken := workerID + ":" + token.String()

	var claimed []ClaimedEntry
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var candidates []QueueEntry
		if err := tx.Where("kind = ? AND next_visible_at <= ?", kind, now()).
			Order("next_visible_at, id").
			Limit(limit).
			Find(&candidates).Error; err != nil {
			return fmt.Errorf("selecting claimable %s entries: %w", kind, err)
		}

		deadline := now()
		for _, c := range candidates {
			claimedAt := deadline
			res := tx.Model(&QueueEntry{}).
				Where("id = ? AND next_visible_at = ?", c.ID, c.NextVisibleAt).
				Updates(map[string]interface{}{
					"claim_token":     claimToken,
					"next_visible_at": deadline.Add(lease),
					"claimed_at":      claimedAt,
				})
			if res.Error != nil {
				return fmt.Errorf("claiming entry %d: %w", c.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				// another worker (or this same transaction retried) beat us to it
				continue
			}

			var file File
			if err := tx.First(&file, c.FileID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					// the File this entry pointed at is gone (its root was
					// deleted out from under it); drop the orphan rather
					// than aborting every other entry in this batch.
					if derr := tx.Delete(&QueueEntry{}, c.ID).Error; derr != nil {
						return fmt.Errorf("dropping orphaned entry %d: %w", c.ID, derr)
					}
					continue
				}
				return fmt.Errorf("loading file %d for claimed entry %d: %w", c.FileID, c.ID, err)
			}

			c.ClaimToken = claimToken
			c.NextVisibleAt = deadline.Add(lease)
			c.ClaimedAt = &claimedAt
			claimed = append(claimed, ClaimedEntry{QueueEntry: c, File: file})
		}
		return nil
	})
	return claimed, err
}

// Complete removes a drained entry from its queue.
func (s *Store) Complete(entryID uint) error {
	if err := s.db.Delete(&QueueEntry{}, entryID).Error; err != nil {
		return fmt.Errorf("completing entry %d: %w", entryID, err)
	}
	return nil
}

// Fail bumps attempts and schedules the entry to become visible again
// after backoff, releasing its claim.
func (s *Store) Fail(entryID uint, errMsg string, backoff time.Duration) error {
	res := s.db.Model(&QueueEntry{}).Where("id = ?", entryID).Updates(map[string]interface{}{
		"attempts":        gorm.Expr("attempts + 1"),
		"next_visible_at": now().Add(backoff),
		"claim_token":     "",
	})
	if res.Error != nil {
		return fmt.Errorf("failing entry %d: %w", entryID, res.Error)
	}
	return nil
}

// Drop deletes an entry without recording it as completed work. Nothing in
// the daemon calls it: pending_deletion entries enqueued by MarkDeleted are
// never claimed or dropped, and stay in their queue.
func (s *Store) Drop(entryID uint) error {
	return s.Complete(entryID)
}

// TriggerUploads enqueues a pending_upload entry for every ready_for_upload
// File matching pathPrefix (unfiltered if empty) that doesn't already have
// one, up to limit files, returning the count actually queued. This backs
// the control plane's uploads trigger endpoint (spec.md section 4.5) for
// files that became ready_for_upload before any worker was around to
// enqueue them, or that an operator wants re-driven.
func (s *Store) TriggerUploads(pathPrefix string, limit int) (queued int, err error) {
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&File{}).Where("status = ?", StatusReadyForUpload)
		if pathPrefix != "" {
			q = q.Where("path LIKE ?", pathPrefix+"%")
		}

		var files []File
		if err := q.Order("id").Limit(limit).Find(&files).Error; err != nil {
			return fmt.Errorf("selecting ready_for_upload files: %w", err)
		}

		for _, file := range files {
			var existing int64
			if err := tx.Model(&QueueEntry{}).
				Where("kind = ? AND file_id = ?", QueueUpload, file.ID).
				Count(&existing).Error; err != nil {
				return fmt.Errorf("checking pending upload for file %d: %w", file.ID, err)
			}
			if existing > 0 {
				continue
			}
			if _, err := enqueueTx(tx, file.ID, QueueUpload); err != nil {
				return err
			}
			queued++
		}
		return nil
	})
	return queued, err
}

func (s *Store) PendingCount(kind QueueKind) (int64, error) {
	var count int64
	if err := s.db.Model(&QueueEntry{}).Where("kind = ?", kind).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting pending %s entries: %w", kind, err)
	}
	return count, nil
}
