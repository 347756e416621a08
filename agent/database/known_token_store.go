package database

import (
	"context"
	"fmt"

	"fomo-relay/agent/internal/models"

	"gorm.io/gorm"
)

// KnownTokenStore persists operator-maintained ticker overrides.
type KnownTokenStore struct {
	db *gorm.DB
}

func NewKnownTokenStore(db *gorm.DB) *KnownTokenStore {
	return &KnownTokenStore{db: db}
}

func (s *KnownTokenStore) ListKnownTokens(ctx context.Context) ([]models.KnownToken, error) {
	var rows []models.KnownToken
	if err := s.db.WithContext(ctx).Order("symbol").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list known tokens: %w", err)
	}
	return rows, nil
}

func (s *KnownTokenStore) GetKnownToken(ctx context.Context, id uint) (*models.KnownToken, error) {
	var row models.KnownToken
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

func (s *KnownTokenStore) CreateKnownToken(ctx context.Context, token *models.KnownToken) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (s *KnownTokenStore) UpdateKnownToken(ctx context.Context, token *models.KnownToken) error {
	res := s.db.WithContext(ctx).Model(&models.KnownToken{}).Where("id = ?", token.ID).Updates(map[string]interface{}{
		"symbol":           token.Symbol,
		"contract_address": token.ContractAddress,
		"min_market_cap":   token.MinMarketCap,
		"chain":            token.Chain,
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *KnownTokenStore) DeleteKnownToken(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.KnownToken{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete known token %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
