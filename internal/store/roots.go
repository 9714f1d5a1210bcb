package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrConflict is returned when a create operation collides with an
// existing unique row; callers surface the existing row's id alongside it.
var ErrConflict = errors.New("conflict")

// CreateRoot registers path for scanning/watching. Registering the same
// path twice returns ErrConflict wrapping the existing Root.
func (s *Store) CreateRoot(path string, recursive bool) (*Root, error) {
	var existing Root
	err := s.db.Where("path = ?", path).First(&existing).Error
	if err == nil {
		return &existing, fmt.Errorf("root %s already registered: %w", path, ErrConflict)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("checking existing root: %w", err)
	}

	root := Root{Path: path, Recursive: recursive, Enabled: true}
	if err := s.db.Create(&root).Error; err != nil {
		return nil, fmt.Errorf("creating root: %w", err)
	}
	return &root, nil
}

func (s *Store) ListRoots() ([]Root, error) {
	var roots []Root
	if err := s.db.Order("id").Find(&roots).Error; err != nil {
		return nil, fmt.Errorf("listing roots: %w", err)
	}
	return roots, nil
}

func (s *Store) GetRoot(id uint) (*Root, error) {
	var root Root
	if err := s.db.First(&root, id).Error; err != nil {
		return nil, fmt.Errorf("getting root %d: %w", id, err)
	}
	return &root, nil
}

// DeleteRoot removes the Root row, every File row discovered under it, and
// any queue entries still referencing those files — leaving an orphaned
// queue entry behind would wedge Claim on that kind forever (it can never
// load the File it points at).
func (s *Store) DeleteRoot(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		fileIDs := tx.Model(&File{}).Where("root_id = ?", id).Select("id")
		if err := tx.Where("file_id IN (?)", fileIDs).Delete(&QueueEntry{}).Error; err != nil {
			return fmt.Errorf("deleting queue entries under root %d: %w", id, err)
		}
		if err := tx.Where("root_id = ?", id).Delete(&File{}).Error; err != nil {
			return fmt.Errorf("deleting files under root %d: %w", id, err)
		}
		if err := tx.Delete(&Root{}, id).Error; err != nil {
			return fmt.Errorf("deleting root %d: %w", id, err)
		}
		return nil
	})
}

func (s *Store) MarkRootScanned(id uint) error {
	t := now()
	if err := s.db.Model(&Root{}).Where("id = ?", id).Update("last_scanned_at", t).Error; err != nil {
		return fmt.Errorf("marking root %d scanned: %w", id, err)
	}
	return nil
}
