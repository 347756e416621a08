package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fomo-relay/agent/database"
	"fomo-relay/agent/internal/models"
	"fomo-relay/shared/logger"

	"go.uber.org/zap"
)

// ErrTraderNotFound is returned when a trader reference matches nothing.
var ErrTraderNotFound = errors.New("trader not found")

// SubscriptionService owns users, traders and the follow graph between them.
// All follow mutations are idempotent.
type SubscriptionService struct {
	users       UserRepository
	traders     TraderRepository
	messenger   Messenger
	broadcaster Broadcaster
	now         func() time.Time
	appLogger   *logger.Logger
}

func NewSubscriptionService(users UserRepository, traders TraderRepository, messenger Messenger, broadcaster Broadcaster, appLogger *logger.Logger) *SubscriptionService {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	return &SubscriptionService{
		users:       users,
		traders:     traders,
		messenger:   messenger,
		broadcaster: broadcaster,
		now:         time.Now,
		appLogger:   appLogger,
	}
}

// Register creates or reactivates the user for a chat and follows every
// trader. New users are announced to observers.
func (s *SubscriptionService) Register(ctx context.Context, chatID int64, username, firstName string) (*models.User, bool, error) {
	user, created, err := s.users.UpsertUser(ctx, chatID, username, firstName, s.now().UTC())
	if err != nil {
		return nil, false, err
	}
	if _, err := s.traders.FollowAll(ctx, user.ID, s.now().UTC()); err != nil {
		return nil, false, err
	}
	user.AutoFollowNewTraders = true

	if created {
		s.appLogger.Info("New user registered", zap.Int64("chatID", chatID), zap.String("username", username))
		s.broadcaster.Broadcast(ctx, Event{Type: EventUserJoined, Payload: map[string]interface{}{
			"id":        user.ID,
			"chatId":    user.ChatID,
			"username":  models.StringValue(user.Username),
			"firstName": models.StringValue(user.FirstName),
			"joinedAt":  user.JoinedAt,
		}})
	}
	return user, created, nil
}

func (s *SubscriptionService) User(ctx context.Context, chatID int64) (*models.User, error) {
	return s.users.GetUserByChatID(ctx, chatID)
}

func (s *SubscriptionService) Users(ctx context.Context) ([]models.User, error) {
	return s.users.ListUsers(ctx)
}

func (s *SubscriptionService) ActiveUsers(ctx context.Context) ([]models.User, error) {
	return s.users.ListActiveUsers(ctx)
}

func (s *SubscriptionService) SetUserActive(ctx context.Context, chatID int64, active bool) error {
	return s.users.SetUserActive(ctx, chatID, active)
}

func (s *SubscriptionService) SetAutoFollow(ctx context.Context, userID uint, enabled bool) error {
	return s.users.SetAutoFollow(ctx, userID, enabled)
}

func (s *SubscriptionService) Traders(ctx context.Context) ([]models.Trader, error) {
	return s.traders.ListTraders(ctx)
}

func (s *SubscriptionService) FollowerCounts(ctx context.Context) (map[uint]int, error) {
	return s.traders.CountFollowers(ctx)
}

// TouchTrader records a sighting of handle. The first sighting creates the
// trader and runs the new-trader broadcast before returning.
func (s *SubscriptionService) TouchTrader(ctx context.Context, handle string) (*models.Trader, bool, error) {
	now := s.now().UTC()
	trader, err := s.traders.GetTraderByHandle(ctx, handle)
	if err == nil {
		if err := s.traders.TouchTrader(ctx, trader.ID, now); err != nil {
			return nil, false, err
		}
		trader.LastSeenAt = now
		return trader, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, false, err
	}

	trader = &models.Trader{Handle: handle, FirstSeenAt: now, LastSeenAt: now}
	if err := s.traders.CreateTrader(ctx, trader); err != nil {
		if errors.Is(err, database.ErrDuplicateKey) {
			// Lost a race with a concurrent alert for the same handle.
			existing, getErr := s.traders.GetTraderByHandle(ctx, handle)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	s.appLogger.Info("New trader added", zap.String("handle", handle), zap.Uint("traderID", trader.ID))
	s.announceNewTrader(ctx, trader)
	return trader, true, nil
}

// announceNewTrader auto-follows the trader for opted-in users and tells
// every active user about it. Per-user failures are logged and skipped.
func (s *SubscriptionService) announceNewTrader(ctx context.Context, trader *models.Trader) {
	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		s.appLogger.Error("Failed to list users for new trader broadcast", zap.String("handle", trader.Handle), zap.Error(err))
		return
	}
	s.appLogger.Info("Broadcasting new trader", zap.String("handle", trader.Handle), zap.Int("users", len(users)))

	for _, user := range users {
		if user.AutoFollowNewTraders {
			if _, err := s.Follow(ctx, user.ID, trader.ID); err != nil {
				s.appLogger.Error("Failed to auto-follow new trader", zap.Uint("userID", user.ID), zap.Error(err))
				continue
			}
		}
		if s.messenger == nil {
			continue
		}
		if _, err := s.messenger.Send(ctx, user.ChatID, newTraderMessage(trader.Handle, trader.ID, user.AutoFollowNewTraders)); err != nil {
			s.appLogger.Warn("Failed to send new trader message", zap.Int64("chatID", user.ChatID), zap.Error(err))
		}
	}
}

// Follow returns true when the edge was created, false if it already existed.
func (s *SubscriptionService) Follow(ctx context.Context, userID, traderID uint) (bool, error) {
	return s.traders.CreateFollow(ctx, userID, traderID, s.now().UTC())
}

// Unfollow returns true when an edge was removed.
func (s *SubscriptionService) Unfollow(ctx context.Context, userID, traderID uint) (bool, error) {
	return s.traders.DeleteFollow(ctx, userID, traderID)
}

func (s *SubscriptionService) IsFollowing(ctx context.Context, userID, traderID uint) (bool, error) {
	return s.traders.FollowExists(ctx, userID, traderID)
}

// FollowersOf returns the ids of active users following the trader.
func (s *SubscriptionService) FollowersOf(ctx context.Context, traderID uint) ([]uint, error) {
	return s.traders.FollowerIDs(ctx, traderID)
}

// FollowAll follows every trader and turns auto-follow on.
func (s *SubscriptionService) FollowAll(ctx context.Context, userID uint) (int, error) {
	return s.traders.FollowAll(ctx, userID, s.now().UTC())
}

// UnfollowAll removes every follow and turns auto-follow off.
func (s *SubscriptionService) UnfollowAll(ctx context.Context, userID uint) (int, error) {
	return s.traders.UnfollowAll(ctx, userID)
}

func (s *SubscriptionService) FollowedTraders(ctx context.Context, userID uint) ([]models.Trader, error) {
	return s.traders.FollowedTraders(ctx, userID)
}

// FindTrader resolves a numeric id or a handle (with or without @).
func (s *SubscriptionService) FindTrader(ctx context.Context, ref string) (*models.Trader, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "@")
	if ref == "" {
		return nil, ErrTraderNotFound
	}

	var (
		trader *models.Trader
		err    error
	)
	if id, convErr := strconv.ParseUint(ref, 10, 64); convErr == nil {
		trader, err = s.traders.GetTraderByID(ctx, uint(id))
	} else {
		trader, err = s.traders.GetTraderByHandle(ctx, ref)
	}
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTraderNotFound, ref)
	}
	return trader, err
}

// FollowByHandle follows the referenced trader; created is false if already followed.
func (s *SubscriptionService) FollowByHandle(ctx context.Context, userID uint, ref string) (*models.Trader, bool, error) {
	trader, err := s.FindTrader(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	created, err := s.Follow(ctx, userID, trader.ID)
	return trader, created, err
}

// UnfollowByHandle unfollows the referenced trader; removed is false if it was not followed.
func (s *SubscriptionService) UnfollowByHandle(ctx context.Context, userID uint, ref string) (*models.Trader, bool, error) {
	trader, err := s.FindTrader(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	removed, err := s.Unfollow(ctx, userID, trader.ID)
	return trader, removed, err
}

// Followers returns the active users following the trader.
func (s *SubscriptionService) Followers(ctx context.Context, traderID uint) ([]models.User, error) {
	ids, err := s.traders.FollowerIDs(ctx, traderID)
	if err != nil {
		return nil, err
	}
	return s.activeUsersIn(ctx, ids)
}

func (s *SubscriptionService) activeUsersIn(ctx context.Context, ids []uint) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	wanted := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	users, err := s.users.ListActiveUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(ids))
	for _, u := range users {
		if _, ok := wanted[u.ID]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
