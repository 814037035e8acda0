package store

import (
	"fmt"

	"futures-alert-bot/internal/models"
)

// SaveCredential stores a new credential set and returns its id.
func (s *Store) SaveCredential(cred *models.Credential) (uint, error) {
	if err := s.db.Create(cred).Error; err != nil {
		return 0, fmt.Errorf("failed to save credential: %w", err)
	}
	return cred.ID, nil
}

// GetCredentials returns all stored credentials, oldest first.
func (s *Store) GetCredentials() ([]models.Credential, error) {
	var creds []models.Credential
	if err := s.db.Order("id asc").Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return creds, nil
}

// ActiveCredential returns the credential the bot trades with: the first one
// by insertion order. It returns nil when none are stored.
func (s *Store) ActiveCredential() (*models.Credential, error) {
	creds, err := s.GetCredentials()
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, nil
	}
	return &creds[0], nil
}

// UpdateCredential overwrites an existing credential by id.
func (s *Store) UpdateCredential(cred *models.Credential) error {
	if cred.ID == 0 {
		return fmt.Errorf("credential id is required for update")
	}
	err := s.db.Model(&models.Credential{}).
		Where("id = ?", cred.ID).
		Updates(map[string]interface{}{
			"api_key":      cred.ApiKey,
			"api_secret":   cred.ApiSecret,
			"trade_amount": cred.TradeAmount,
			"leverage":     cred.Leverage,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update credential %d: %w", cred.ID, err)
	}
	return nil
}

// DeleteCredential removes a credential by id.
func (s *Store) DeleteCredential(id uint) error {
	if err := s.db.Delete(&models.Credential{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete credential %d: %w", id, err)
	}
	return nil
}
