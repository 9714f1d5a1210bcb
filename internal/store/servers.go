package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

func (s *Store) CreateServer(name, baseURL, username, secret string, isDefault bool) (*Server, error) {
	var existing Server
	err := s.db.Where("name = ?", name).First(&existing).Error
	if err == nil {
		return &existing, fmt.Errorf("server %s already registered: %w", name, ErrConflict)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("checking existing server: %w", err)
	}

	server := Server{Name: name, BaseURL: baseURL, Username: username, Secret: secret}
	return &server, s.db.Transaction(func(tx *gorm.DB) error {
		if isDefault {
			if err := tx.Model(&Server{}).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
				return fmt.Errorf("clearing previous default server: %w", err)
			}
		}
		server.IsDefault = isDefault
		if err := tx.Create(&server).Error; err != nil {
			return fmt.Errorf("creating server: %w", err)
		}
		return nil
	})
}

func (s *Store) ListServers() ([]Server, error) {
	var servers []Server
	if err := s.db.Order("id").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	return servers, nil
}

func (s *Store) DeleteServer(id uint) error {
	if err := s.db.Delete(&Server{}, id).Error; err != nil {
		return fmt.Errorf("deleting server %d: %w", id, err)
	}
	return nil
}

// SetDefaultServer makes id the sole row with IsDefault=true.
func (s *Store) SetDefaultServer(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Server{}).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
			return fmt.Errorf("clearing previous default server: %w", err)
		}
		res := tx.Model(&Server{}).Where("id = ?", id).Update("is_default", true)
		if res.Error != nil {
			return fmt.Errorf("setting default server %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("server %d not found", id)
		}
		return nil
	})
}

// DefaultServer returns the Server row the Uploader targets.
func (s *Store) DefaultServer() (*Server, error) {
	var server Server
	if err := s.db.Where("is_default = ?", true).First(&server).Error; err != nil {
		return nil, fmt.Errorf("no default server configured: %w", err)
	}
	return &server, nil
}

// CacheToken transactionally updates a Server's cached bearer token. The
// Uploader calls this after a successful /api/login; clearing the token
// before a re-login is EvictToken's job.
func (s *Store) CacheToken(serverID uint, token string, expiry time.Time) error {
	res := s.db.Model(&Server{}).Where("id = ?", serverID).Updates(map[string]interface{}{
		"token":        token,
		"token_expiry": expiry,
	})
	if res.Error != nil {
		return fmt.Errorf("caching token for server %d: %w", serverID, res.Error)
	}
	return nil
}

func (s *Store) EvictToken(serverID uint) error {
	res := s.db.Model(&Server{}).Where("id = ?", serverID).Updates(map[string]interface{}{
		"token":        "",
		"token_expiry": nil,
	})
	if res.Error != nil {
		return fmt.Errorf("evicting token for server %d: %w", serverID, res.Error)
	}
	return nil
}
