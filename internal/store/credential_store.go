package store

import (
	"context"
	"errors"
	"fmt"

	"copytrade-backend-go/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialStore persists broker credentials keyed by (user, broker,
// provider).
type CredentialStore struct {
	db *gorm.DB
}

func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// GetByKey fetches the credential for the composite key, or ErrNotFound.
func (s *CredentialStore) GetByKey(ctx context.Context, userID, broker, provider string) (*models.Credential, error) {
	var cred models.Credential
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND broker = ? AND provider = ?", userID, broker, provider).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return &cred, nil
}

// Upsert overwrites the credential row for its composite key, creating it
// if absent.
func (s *CredentialStore) Upsert(ctx context.Context, cred *models.Credential) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "broker"}, {Name: "provider"}},
			UpdateAll: true,
		}).
		Create(cred).Error
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}
