package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// DiscoveredAttrs is everything the Scanner observes via stat(2) about a
// path before any content is read.
type DiscoveredAttrs struct {
	Size       int64
	MtimeNs    int64
	Mode       uint32
	UID        uint32
	GID        uint32
	IsSymlink  bool
	LinkTarget string
}

// DiscoverFile upserts the File row for path and, if it is new or its
// (Size, MtimeNs) change key differs from what's on record, sets status to
// discovered (symlink for a symlink), enqueues a pending_checksum entry
// (none for a symlink), and appends the matching activity event — all inside one transaction, per spec.md 4.1's
// atomicity invariant. changed reports whether the row was new or altered.
func (s *Store) DiscoverFile(rootID uint, path string, attrs DiscoveredAttrs) (file *File, changed bool, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing File
		lookupErr := tx.Where("path = ?", path).First(&existing).Error

		initialStatus := StatusDiscovered
		if attrs.IsSymlink {
			// symlinks are recorded but never followed or fingerprinted;
			// StatusSymlink keeps them out of the sha256-bearing terminal
			// statuses rather than masquerading as a completed upload.
			initialStatus = StatusSymlink
		}

		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			newFile := File{
				Path:         path,
				RootID:       rootID,
				Size:         attrs.Size,
				MtimeNs:      attrs.MtimeNs,
				Mode:         attrs.Mode,
				UID:          attrs.UID,
				GID:          attrs.GID,
				IsSymlink:    attrs.IsSymlink,
				LinkTarget:   attrs.LinkTarget,
				Status:       initialStatus,
				DiscoveredAt: now(),
				UpdatedAt:    now(),
			}
			if err := tx.Create(&newFile).Error; err != nil {
				return fmt.Errorf("inserting discovered file %s: %w", path, err)
			}
			if !attrs.IsSymlink {
				if _, err := enqueueTx(tx, newFile.ID, QueueChecksum); err != nil {
					return err
				}
			}
			if err := appendTx(tx, ActivityEvent{
				Kind:     EventFileDiscovered,
				FilePath: path,
				RootID:   &rootID,
				Message:  "file discovered: " + path,
			}); err != nil {
				return err
			}
			file = &newFile
			changed = true
			return nil

		case lookupErr != nil:
			return fmt.Errorf("looking up file %s: %w", path, lookupErr)

		default:
			if existing.Size == attrs.Size && existing.MtimeNs == attrs.MtimeNs && existing.Status != StatusDeleted {
				file = &existing
				changed = false
				return nil
			}

			existing.Size = attrs.Size
			existing.MtimeNs = attrs.MtimeNs
			existing.Mode = attrs.Mode
			existing.UID = attrs.UID
			existing.GID = attrs.GID
			existing.IsSymlink = attrs.IsSymlink
			existing.LinkTarget = attrs.LinkTarget
			existing.Status = initialStatus
			existing.LastError = ""
			existing.RootID = rootID
			existing.UpdatedAt = now()
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("updating changed file %s: %w", path, err)
			}
			if !attrs.IsSymlink {
				if _, err := enqueueTx(tx, existing.ID, QueueChecksum); err != nil {
					return err
				}
			}
			if err := appendTx(tx, ActivityEvent{
				Kind:     EventFileChanged,
				FilePath: path,
				RootID:   &rootID,
				Message:  "file changed: " + path,
			}); err != nil {
				return err
			}
			file = &existing
			changed = true
			return nil
		}
	})
	return file, changed, err
}

// MarkDeleted sets a File's status to deleted (terminal until the path
// reappears) and enqueues an informational pending_deletion entry.
func (s *Store) MarkDeleted(fileID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var file File
		if err := tx.First(&file, fileID).Error; err != nil {
			return fmt.Errorf("loading file %d: %w", fileID, err)
		}
		file.Status = StatusDeleted
		file.UpdatedAt = now()
		if err := tx.Save(&file).Error; err != nil {
			return fmt.Errorf("marking file %d deleted: %w", fileID, err)
		}
		if _, err := enqueueTx(tx, file.ID, QueueDeletion); err != nil {
			return err
		}
		rootID := file.RootID
		return appendTx(tx, ActivityEvent{
			Kind:     EventFileDeleted,
			FilePath: file.Path,
			RootID:   &rootID,
			Message:  "file deleted: " + file.Path,
		})
	})
}

func (s *Store) GetFile(id uint) (*File, error) {
	var file File
	if err := s.db.First(&file, id).Error; err != nil {
		return nil, fmt.Errorf("getting file %d: %w", id, err)
	}
	return &file, nil
}

func (s *Store) GetFileByPath(path string) (*File, error) {
	var file File
	if err := s.db.Where("path = ?", path).First(&file).Error; err != nil {
		return nil, fmt.Errorf("getting file %s: %w", path, err)
	}
	return &file, nil
}

// ListFilesFilter narrows ListFiles; zero values are unfiltered.
type ListFilesFilter struct {
	PathPrefix string
	SHA256     string
	Offset     int
	Limit      int
}

func (s *Store) ListFiles(filter ListFilesFilter) ([]File, error) {
	q := s.db.Model(&File{})
	if filter.PathPrefix != "" {
		q = q.Where("path LIKE ?", filter.PathPrefix+"%")
	}
	if filter.SHA256 != "" {
		q = q.Where("sha256 = ?", filter.SHA256)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var files []File
	if err := q.Order("id").Offset(filter.Offset).Limit(limit).Find(&files).Error; err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return files, nil
}

// FingerprintResult carries what the Fingerprinter learned about a file's
// content back to the Store.
type FingerprintResult struct {
	SHA256       string
	Size         int64
	MtimeNs      int64
	ExpectedMtimeNs int64 // what the scanner had recorded when the entry was enqueued
}

// ErrStale is returned when the file's mtime changed between enqueue and
// hashing, meaning the hash just computed is already outdated.
var ErrStale = errors.New("file changed during fingerprinting")

// FinishFingerprint records a freshly computed hash. If the hash matches
// what was already on record, the file is terminal-completed with no
// upload needed; otherwise it moves to ready_for_upload and a
// pending_upload entry is enqueued. Returns ErrStale (no state changed) if
// the file's mtime moved again while it was being hashed.
func (s *Store) FinishFingerprint(fileID uint, result FingerprintResult) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var file File
		if err := tx.First(&file, fileID).Error; err != nil {
			return fmt.Errorf("loading file %d: %w", fileID, err)
		}

		if file.MtimeNs != result.ExpectedMtimeNs {
			return ErrStale
		}

		priorSHA := file.SHA256
		file.SHA256 = result.SHA256
		file.Size = result.Size
		file.MtimeNs = result.MtimeNs
		file.LastError = ""
		file.UpdatedAt = now()

		if priorSHA != "" && priorSHA == result.SHA256 {
			file.Status = StatusCompleted
			if err := tx.Save(&file).Error; err != nil {
				return fmt.Errorf("saving unchanged-fingerprint file %d: %w", fileID, err)
			}
			return appendTx(tx, ActivityEvent{
				Kind:     EventFingerprintUnchanged,
				FilePath: file.Path,
				Message:  "fingerprint unchanged: " + file.Path,
			})
		}

		file.Status = StatusReadyForUpload
		if err := tx.Save(&file).Error; err != nil {
			return fmt.Errorf("saving fingerprinted file %d: %w", fileID, err)
		}
		if _, err := enqueueTx(tx, file.ID, QueueUpload); err != nil {
			return err
		}
		return nil
	})
}

// MarkFingerprintFailed marks a File terminal-failed after the
// fingerprinter exhausts its retry budget.
func (s *Store) MarkFingerprintFailed(fileID uint, errMsg string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var file File
		if err := tx.First(&file, fileID).Error; err != nil {
			return fmt.Errorf("loading file %d: %w", fileID, err)
		}
		file.Status = StatusFailed
		file.LastError = errMsg
		file.UpdatedAt = now()
		if err := tx.Save(&file).Error; err != nil {
			return fmt.Errorf("marking file %d fingerprint-failed: %w", fileID, err)
		}
		return appendTx(tx, ActivityEvent{
			Kind:     EventFingerprintFailed,
			FilePath: file.Path,
			Message:  "fingerprint failed: " + errMsg,
		})
	})
}

// MarkFileMissing appends a file_missing activity event for a path that
// vanished between enqueue and hashing — the File row is left as-is
// (spec.md 4.3). The caller completes the checksum entry itself.
func (s *Store) MarkFileMissing(fileID uint) error {
	var file File
	if err := s.db.First(&file, fileID).Error; err != nil {
		return fmt.Errorf("loading file %d: %w", fileID, err)
	}
	return s.Append(ActivityEvent{
		Kind:     EventFileMissing,
		FilePath: file.Path,
		Message:  "file missing during fingerprint: " + file.Path,
	})
}

// MarkUploading transitions a File to uploading as the Uploader claims it.
func (s *Store) MarkUploading(fileID uint) error {
	res := s.db.Model(&File{}).Where("id = ?", fileID).Updates(map[string]interface{}{
		"status":     StatusUploading,
		"updated_at": now(),
	})
	if res.Error != nil {
		return fmt.Errorf("marking file %d uploading: %w", fileID, res.Error)
	}
	return nil
}

// MarkUploaded transitions a File to completed on upload success.
func (s *Store) MarkUploaded(fileID uint) error {
	res := s.db.Model(&File{}).Where("id = ?", fileID).Updates(map[string]interface{}{
		"status":     StatusCompleted,
		"last_error": "",
		"updated_at": now(),
	})
	if res.Error != nil {
		return fmt.Errorf("marking file %d completed: %w", fileID, res.Error)
	}
	return nil
}

// MarkUploadFailed records a terminal upload failure on the File row
// (used for non-retryable 4xx responses; transient failures leave status
// as ready_for_upload/uploading and only touch the queue entry via Fail).
func (s *Store) MarkUploadFailed(fileID uint, errMsg string) error {
	res := s.db.Model(&File{}).Where("id = ?", fileID).Updates(map[string]interface{}{
		"status":     StatusFailed,
		"last_error": errMsg,
		"updated_at": now(),
	})
	if res.Error != nil {
		return fmt.Errorf("marking file %d upload-failed: %w", fileID, res.Error)
	}
	return nil
}

// ResetToReadyForUpload puts a file back in the ready_for_upload state so
// an operator-triggered upload pass can re-enqueue it.
func (s *Store) ResetToReadyForUpload(fileID uint) error {
	res := s.db.Model(&File{}).Where("id = ?", fileID).Updates(map[string]interface{}{
		"status":     StatusReadyForUpload,
		"updated_at": now(),
	})
	if res.Error != nil {
		return fmt.Errorf("resetting file %d to ready_for_upload: %w", fileID, res.Error)
	}
	return nil
}
