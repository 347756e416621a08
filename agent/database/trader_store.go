package database

import (
	"context"
	"fmt"
	"time"

	"fomo-relay/agent/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TraderStore persists traders and user -> trader follow edges.
type TraderStore struct {
	db *gorm.DB
}

func NewTraderStore(db *gorm.DB) *TraderStore {
	return &TraderStore{db: db}
}

func (s *TraderStore) GetTraderByHandle(ctx context.Context, handle string) (*models.Trader, error) {
	var t models.Trader
	if err := s.db.WithContext(ctx).Where("handle = ?", handle).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *TraderStore) GetTraderByID(ctx context.Context, id uint) (*models.Trader, error) {
	var t models.Trader
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// CreateTrader returns ErrDuplicateKey if the handle already exists.
func (s *TraderStore) CreateTrader(ctx context.Context, t *models.Trader) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (s *TraderStore) TouchTrader(ctx context.Context, id uint, seen time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Trader{}).Where("id = ?", id).Update("last_seen_at", seen).Error
	if err != nil {
		return fmt.Errorf("touch trader %d: %w", id, err)
	}
	return nil
}

func (s *TraderStore) ListTraders(ctx context.Context) ([]models.Trader, error) {
	var traders []models.Trader
	if err := s.db.WithContext(ctx).Order("id").Find(&traders).Error; err != nil {
		return nil, fmt.Errorf("list traders: %w", err)
	}
	return traders, nil
}

// CreateFollow inserts the edge; created is false if it already existed.
func (s *TraderStore) CreateFollow(ctx context.Context, userID, traderID uint, at time.Time) (bool, error) {
	edge := models.UserTrader{UserID: userID, TraderID: traderID, FollowedAt: at}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&edge)
	if res.Error != nil {
		return false, fmt.Errorf("follow %d -> %d: %w", userID, traderID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteFollow removes the edge; removed is false if there was none.
func (s *TraderStore) DeleteFollow(ctx context.Context, userID, traderID uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND trader_id = ?", userID, traderID).
		Delete(&models.UserTrader{})
	if res.Error != nil {
		return false, fmt.Errorf("unfollow %d -> %d: %w", userID, traderID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *TraderStore) FollowExists(ctx context.Context, userID, traderID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.UserTrader{}).
		Where("user_id = ? AND trader_id = ?", userID, traderID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check follow %d -> %d: %w", userID, traderID, err)
	}
	return n > 0, nil
}

// FollowerIDs returns the ids of active users following the trader.
func (s *TraderStore) FollowerIDs(ctx context.Context, traderID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.UserTrader{}).
		Joins("JOIN users ON users.id = user_traders.user_id").
		Where("user_traders.trader_id = ? AND users.is_active", traderID).
		Order("user_traders.user_id").
		Pluck("user_traders.user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("followers of %d: %w", traderID, err)
	}
	return ids, nil
}

func (s *TraderStore) FollowedTraders(ctx context.Context, userID uint) ([]models.Trader, error) {
	var traders []models.Trader
	err := s.db.WithContext(ctx).
		Joins("JOIN user_traders ON user_traders.trader_id = traders.id").
		Where("user_traders.user_id = ?", userID).
		Order("traders.id").
		Find(&traders).Error
	if err != nil {
		return nil, fmt.Errorf("traders followed by %d: %w", userID, err)
	}
	return traders, nil
}

// FollowAll follows every trader not yet followed and turns auto-follow on.
func (s *TraderStore) FollowAll(ctx context.Context, userID uint, at time.Time) (int, error) {
	var added int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`
			INSERT INTO user_traders (user_id, trader_id, followed_at)
			SELECT ?, t.id, ? FROM traders t
			ON CONFLICT (user_id, trader_id) DO NOTHING`, userID, at)
		if res.Error != nil {
			return res.Error
		}
		added = res.RowsAffected
		return tx.Model(&models.User{}).Where("id = ?", userID).Update("auto_follow_new_traders", true).Error
	})
	if err != nil {
		return 0, fmt.Errorf("follow all for %d: %w", userID, err)
	}
	return int(added), nil
}

// UnfollowAll drops every edge for the user and turns auto-follow off.
func (s *TraderStore) UnfollowAll(ctx context.Context, userID uint) (int, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ?", userID).Delete(&models.UserTrader{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Model(&models.User{}).Where("id = ?", userID).Update("auto_follow_new_traders", false).Error
	})
	if err != nil {
		return 0, fmt.Errorf("unfollow all for %d: %w", userID, err)
	}
	return int(removed), nil
}

// CountFollowers maps trader id to number of followers.
func (s *TraderStore) CountFollowers(ctx context.Context) (map[uint]int, error) {
	var rows []struct {
		TraderID uint
		Count    int
	}
	err := s.db.WithContext(ctx).Model(&models.UserTrader{}).
		Select("trader_id, COUNT(*) AS count").
		Group("trader_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count followers: %w", err)
	}
	out := make(map[uint]int, len(rows))
	for _, r := range rows {
		out[r.TraderID] = r.Count
	}
	return out, nil
}
