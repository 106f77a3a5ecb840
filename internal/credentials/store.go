// Package credentials persists the bearer token and saved emergency
// contacts in a local sqlite database, the agent's equivalent of the mobile
// app's on-device storage.
package credentials

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/big-matrix/sosagent/internal/rideapi"
)

// secret is a single named value, used for the access token.
type secret struct {
	Name  string `gorm:"primaryKey"`
	Value string
}

// Contact is a saved emergency contact.
type Contact struct {
	ID     string `gorm:"primaryKey" json:"id"`
	Name   string `json:"name"`
	Number string `json:"number"`
	Image  string `json:"image,omitempty"`
}

const accessTokenKey = "access_token"

// Store wraps the local sqlite database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the store at path and migrates its schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	if err := db.AutoMigrate(&secret{}, &Contact{}); err != nil {
		return nil, fmt.Errorf("failed to migrate credential store: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveToken stores the bearer credential, replacing any previous one.
func (s *Store) SaveToken(ctx context.Context, token string) error {
	row := secret{Name: accessTokenKey, Value: token}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return nil
}

// Token returns the stored bearer credential. It implements
// rideapi.TokenSource and reports rideapi.ErrNoCredential when no token is
// stored, so callers fail fast without touching the network.
func (s *Store) Token(ctx context.Context) (string, error) {
	var row secret
	err := s.db.WithContext(ctx).First(&row, "name = ?", accessTokenKey).Error
	if err == gorm.ErrRecordNotFound {
		return "", rideapi.ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("failed to read access token: %w", err)
	}
	if row.Value == "" {
		return "", rideapi.ErrNoCredential
	}
	return row.Value, nil
}

// ClearToken removes the stored bearer credential.
func (s *Store) ClearToken(ctx context.Context) error {
	err := s.db.WithContext(ctx).Delete(&secret{}, "name = ?", accessTokenKey).Error
	if err != nil {
		return fmt.Errorf("failed to clear access token: %w", err)
	}
	return nil
}

// SaveContact stores or updates a saved emergency contact.
func (s *Store) SaveContact(ctx context.Context, contact Contact) error {
	if contact.ID == "" || contact.Name == "" {
		return fmt.Errorf("contact id and name are required")
	}
	if err := s.db.WithContext(ctx).Save(&contact).Error; err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

// Contacts lists all saved emergency contacts.
func (s *Store) Contacts(ctx context.Context) ([]Contact, error) {
	var contacts []Contact
	if err := s.db.WithContext(ctx).Order("name").Find(&contacts).Error; err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, nil
}

// RemoveContact deletes a saved emergency contact by id.
func (s *Store) RemoveContact(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&Contact{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to remove contact: %w", err)
	}
	return nil
}
