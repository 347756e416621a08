package database

import (
	"context"
	"fmt"
	"time"

	"fomo-relay/agent/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenCacheStore persists ticker -> contract address cache rows.
// Ticker matching is exact and case-sensitive.
type TokenCacheStore struct {
	db *gorm.DB
}

func NewTokenCacheStore(db *gorm.DB) *TokenCacheStore {
	return &TokenCacheStore{db: db}
}

func (s *TokenCacheStore) GetCachedToken(ctx context.Context, ticker string) (*models.CachedTokenAddress, error) {
	var row models.CachedTokenAddress
	if err := s.db.WithContext(ctx).Where("ticker = ?", ticker).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// UpsertCachedToken inserts the row or overwrites the existing row for its ticker.
func (s *TokenCacheStore) UpsertCachedToken(ctx context.Context, row *models.CachedTokenAddress) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{"contract_address", "chain", "last_accessed", "expires_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert cached token %s: %w", row.Ticker, err)
	}
	return nil
}

// TouchCachedToken slides the expiry forward. Rows never move backward.
func (s *TokenCacheStore) TouchCachedToken(ctx context.Context, ticker string, accessed, expires time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.CachedTokenAddress{}).
		Where("ticker = ? AND expires_at < ?", ticker, expires).
		Updates(map[string]interface{}{"last_accessed": accessed, "expires_at": expires}).Error
	if err != nil {
		return fmt.Errorf("touch cached token %s: %w", ticker, err)
	}
	return nil
}

func (s *TokenCacheStore) DeleteCachedToken(ctx context.Context, ticker string) error {
	res := s.db.WithContext(ctx).Where("ticker = ?", ticker).Delete(&models.CachedTokenAddress{})
	if res.Error != nil {
		return fmt.Errorf("delete cached token %s: %w", ticker, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredTokens removes rows whose expiry is before now.
func (s *TokenCacheStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.CachedTokenAddress{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *TokenCacheStore) ListCachedTokens(ctx context.Context) ([]models.CachedTokenAddress, error) {
	var rows []models.CachedTokenAddress
	if err := s.db.WithContext(ctx).Order("last_accessed DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list cached tokens: %w", err)
	}
	return rows, nil
}
