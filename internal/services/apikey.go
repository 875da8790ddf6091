package services

import (
	"context"
	"errors"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/utils"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"gorm.io/gorm"
)

var (
	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrInvalidAPIKey  = errors.New("invalid or inactive api key")
)

type APIKeyService struct {
	db *gorm.DB
}

func NewAPIKeyService(db *gorm.DB) *APIKeyService {
	return &APIKeyService{db: db}
}

type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

// CreatedAPIKey carries the plaintext key. It is only returned once.
type CreatedAPIKey struct {
	models.APIKey
	Key string `json:"key"`
}

func (s *APIKeyService) List(projectID uint) ([]models.APIKey, error) {
	var keys []models.APIKey
	if err := s.db.Where("project_id = ?", projectID).Order("created_at DESC").Find(&keys).Error; err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i].KeyMask = utils.MaskSecret(keys[i].Key)
	}
	return keys, nil
}

func (s *APIKeyService) Create(projectID uint, req *CreateAPIKeyRequest) (*CreatedAPIKey, error) {
	key, err := utils.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	apiKey := models.APIKey{
		ProjectID: projectID,
		Name:      req.Name,
		Key:       key,
		IsActive:  true,
	}
	if err := s.db.Create(&apiKey).Error; err != nil {
		return nil, err
	}
	apiKey.KeyMask = utils.MaskSecret(key)
	return &CreatedAPIKey{APIKey: apiKey, Key: key}, nil
}

// Revoke deactivates the key. Revoked keys stay listed.
func (s *APIKeyService) Revoke(projectID, id uint) error {
	result := s.db.Model(&models.APIKey{}).
		Where("id = ? AND project_id = ?", id, projectID).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

func (s *APIKeyService) Delete(projectID, id uint) error {
	result := s.db.Where("project_id = ?", projectID).Delete(&models.APIKey{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// Authenticate resolves an active key and records its use.
func (s *APIKeyService) Authenticate(ctx context.Context, key string) (*models.APIKey, error) {
	if !utils.IsAPIKey(key) {
		return nil, ErrInvalidAPIKey
	}

	var apiKey models.APIKey
	// Struct conditions let gorm quote "key", a reserved word in MySQL.
	err := s.db.WithContext(ctx).Where(&models.APIKey{Key: key, IsActive: true}).First(&apiKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.APIKey{}).Where("id = ?", apiKey.ID).UpdateColumn("last_used_at", now).Error; err != nil {
		logger.Warnf("[APIKey] Failed to record use of key %d: %v", apiKey.ID, err)
	}
	apiKey.LastUsedAt = &now
	return &apiKey, nil
}
