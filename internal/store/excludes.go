package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

func (s *Store) CreateExclude(pattern string) (*Exclude, error) {
	if pattern == "" {
		return nil, fmt.Errorf("exclude pattern must not be empty")
	}

	var existing Exclude
	err := s.db.Where("pattern = ?", pattern).First(&existing).Error
	if err == nil {
		return &existing, fmt.Errorf("exclude %s already registered: %w", pattern, ErrConflict)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("checking existing exclude: %w", err)
	}

	exclude := Exclude{Pattern: pattern}
	if err := s.db.Create(&exclude).Error; err != nil {
		return nil, fmt.Errorf("creating exclude: %w", err)
	}
	return &exclude, nil
}

func (s *Store) ListExcludes() ([]Exclude, error) {
	var excludes []Exclude
	if err := s.db.Order("id").Find(&excludes).Error; err != nil {
		return nil, fmt.Errorf("listing excludes: %w", err)
	}
	return excludes, nil
}

func (s *Store) DeleteExclude(id uint) error {
	if err := s.db.Delete(&Exclude{}, id).Error; err != nil {
		return fmt.Errorf("deleting exclude %d: %w", id, err)
	}
	return nil
}
