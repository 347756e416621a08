package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fomo-relay/agent/internal/models"

	"gorm.io/gorm"
)

// UserStore persists Telegram subscribers.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// UpsertUser registers a chat or refreshes its profile and reactivates it.
// created reports whether the row is new.
func (s *UserStore) UpsertUser(ctx context.Context, chatID int64, username, firstName string, now time.Time) (*models.User, bool, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&user).Error
	switch {
	case err == nil:
		user.Username = models.StringPtr(username)
		user.FirstName = models.StringPtr(firstName)
		user.IsActive = true
		err = s.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{
			"username":   user.Username,
			"first_name": user.FirstName,
			"is_active":  true,
		}).Error
		if err != nil {
			return nil, false, fmt.Errorf("update user %d: %w", chatID, err)
		}
		return &user, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			ChatID:               chatID,
			Username:             models.StringPtr(username),
			FirstName:            models.StringPtr(firstName),
			JoinedAt:             now,
			IsActive:             true,
			AutoFollowNewTraders: true,
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, false, fmt.Errorf("create user %d: %w", chatID, translate(err))
		}
		return &user, true, nil
	default:
		return nil, false, fmt.Errorf("find user %d: %w", chatID, err)
	}
}

func (s *UserStore) GetUserByChatID(ctx context.Context, chatID int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *UserStore) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("joined_at DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *UserStore) ListActiveUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Where("is_active").Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	return users, nil
}

func (s *UserStore) SetUserActive(ctx context.Context, chatID int64, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("chat_id = ?", chatID).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("set user %d active: %w", chatID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *UserStore) SetAutoFollow(ctx context.Context, userID uint, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("auto_follow_new_traders", enabled)
	if res.Error != nil {
		return fmt.Errorf("set auto-follow for user %d: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
