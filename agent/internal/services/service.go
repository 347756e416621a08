package services

import (
	"context"
	"errors"
	"time"

	"fomo-relay/agent/internal/models"
)

var (
	// ErrEmptyMessage rejects blank alert text before any side effect.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNotificationNotFound is returned by the edit path for unknown ids.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrTransportUnavailable is returned when no Messenger is configured.
	ErrTransportUnavailable = errors.New("messaging transport not configured")
)

// Messenger sends and edits chat messages. Implemented by the Telegram transport.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) (messageID int, err error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
}

// Event names pushed to observers.
const (
	EventNotificationCreated = "notification-created"
	EventNotificationUpdated = "notification-updated"
	EventUserJoined          = "user-joined"
)

// Event is a fire-and-forget state change for dashboards and mirrors.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Broadcaster fans events out to observers. Implementations must not block.
type Broadcaster interface {
	Broadcast(ctx context.Context, event Event)
}

// MultiBroadcaster sends each event to every member.
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) Broadcast(ctx context.Context, event Event) {
	for _, b := range m {
		if b != nil {
			b.Broadcast(ctx, event)
		}
	}
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(context.Context, Event) {}

// NotificationRepository is the persistence the dispatcher needs.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id uint) (*models.Notification, error)
	UpdateResolution(ctx context.Context, n *models.Notification) error
	AddSentMessages(ctx context.Context, msgs []models.SentMessage) error
	ListSentMessages(ctx context.Context, notificationID uint) ([]models.SentMessage, error)
	MarkEdited(ctx context.Context, ids []uint, manual bool, at time.Time) error
}

// TokenCacheRepository backs TokenCache.
type TokenCacheRepository interface {
	GetCachedToken(ctx context.Context, ticker string) (*models.CachedTokenAddress, error)
	UpsertCachedToken(ctx context.Context, row *models.CachedTokenAddress) error
	TouchCachedToken(ctx context.Context, ticker string, accessed, expires time.Time) error
	DeleteCachedToken(ctx context.Context, ticker string) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	ListCachedTokens(ctx context.Context) ([]models.CachedTokenAddress, error)
}

// KnownTokenRepository backs KnownTokenCache and its admin service.
type KnownTokenRepository interface {
	ListKnownTokens(ctx context.Context) ([]models.KnownToken, error)
	GetKnownToken(ctx context.Context, id uint) (*models.KnownToken, error)
	CreateKnownToken(ctx context.Context, token *models.KnownToken) error
	UpdateKnownToken(ctx context.Context, token *models.KnownToken) error
	DeleteKnownToken(ctx context.Context, id uint) error
}

// UserRepository backs subscriber management.
type UserRepository interface {
	UpsertUser(ctx context.Context, chatID int64, username, firstName string, now time.Time) (*models.User, bool, error)
	GetUserByChatID(ctx context.Context, chatID int64) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	ListActiveUsers(ctx context.Context) ([]models.User, error)
	SetUserActive(ctx context.Context, chatID int64, active bool) error
	SetAutoFollow(ctx context.Context, userID uint, enabled bool) error
}

// TraderRepository backs traders and the follow graph.
type TraderRepository interface {
	GetTraderByHandle(ctx context.Context, handle string) (*models.Trader, error)
	GetTraderByID(ctx context.Context, id uint) (*models.Trader, error)
	CreateTrader(ctx context.Context, t *models.Trader) error
	TouchTrader(ctx context.Context, id uint, seen time.Time) error
	ListTraders(ctx context.Context) ([]models.Trader, error)
	CreateFollow(ctx context.Context, userID, traderID uint, at time.Time) (bool, error)
	DeleteFollow(ctx context.Context, userID, traderID uint) (bool, error)
	FollowExists(ctx context.Context, userID, traderID uint) (bool, error)
	FollowerIDs(ctx context.Context, traderID uint) ([]uint, error)
	FollowedTraders(ctx context.Context, userID uint) ([]models.Trader, error)
	FollowAll(ctx context.Context, userID uint, at time.Time) (int, error)
	UnfollowAll(ctx context.Context, userID uint) (int, error)
	CountFollowers(ctx context.Context) (map[uint]int, error)
}
