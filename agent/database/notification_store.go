package database

import (
	"context"
	"fmt"
	"time"

	"fomo-relay/agent/internal/models"

	"gorm.io/gorm"
)

// NotificationStore persists notifications and their delivered copies.
type NotificationStore struct {
	db *gorm.DB
}

func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

func (s *NotificationStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("create notification: %w", translate(err))
	}
	return nil
}

func (s *NotificationStore) GetNotification(ctx context.Context, id uint) (*models.Notification, error) {
	var n models.Notification
	if err := s.db.WithContext(ctx).First(&n, id).Error; err != nil {
		return nil, translate(err)
	}
	return &n, nil
}

// UpdateResolution writes the contract address and lookup tracking fields.
func (s *NotificationStore) UpdateResolution(ctx context.Context, n *models.Notification) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", n.ID).Updates(map[string]interface{}{
		"has_ca":                    n.HasCA,
		"contract_address":          n.ContractAddress,
		"chain":                     n.Chain,
		"contract_address_source":   n.ContractAddressSource,
		"times_cache_hit":           n.TimesCacheHit,
		"times_dexscreener_api_hit": n.TimesDexScreenerAPIHit,
		"times_helius_api_hit":      n.TimesHeliusAPIHit,
		"lookup_duration_ms":        n.LookupDurationMs,
		"was_retried":               n.WasRetried,
	})
	if res.Error != nil {
		return fmt.Errorf("update notification %d: %w", n.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddSentMessages inserts the delivered copies in one statement.
func (s *NotificationStore) AddSentMessages(ctx context.Context, msgs []models.SentMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&msgs).Error; err != nil {
		return fmt.Errorf("insert %d sent messages: %w", len(msgs), translate(err))
	}
	return nil
}

func (s *NotificationStore) ListSentMessages(ctx context.Context, notificationID uint) ([]models.SentMessage, error) {
	var msgs []models.SentMessage
	err := s.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("id").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list sent messages for %d: %w", notificationID, err)
	}
	return msgs, nil
}

// MarkEdited flags the given sent messages. Manual and system flags are
// mutually exclusive, so setting one clears the other.
func (s *NotificationStore) MarkEdited(ctx context.Context, ids []uint, manual bool, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&models.SentMessage{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"is_manually_edited": manual,
			"is_system_edited":   !manual,
			"edited_at":          at,
		}).Error
	if err != nil {
		return fmt.Errorf("mark %d sent messages edited: %w", len(ids), err)
	}
	return nil
}

type notificationViewRow struct {
	models.Notification
	RecipientCount   int
	IsManuallyEdited bool
	IsSystemEdited   bool
	EditedAt         *time.Time
}

// RecentNotifications returns the newest notifications with delivery counts.
func (s *NotificationStore) RecentNotifications(ctx context.Context, limit int) ([]models.NotificationView, error) {
	var rows []notificationViewRow
	err := s.db.WithContext(ctx).
		Table("notifications AS n").
		Select(`n.*,
			COUNT(sm.id) AS recipient_count,
			COALESCE(BOOL_OR(sm.is_manually_edited), FALSE) AS is_manually_edited,
			COALESCE(BOOL_OR(sm.is_system_edited), FALSE) AS is_system_edited,
			MAX(sm.edited_at) AS edited_at`).
		Joins("LEFT JOIN sent_messages sm ON sm.notification_id = n.id").
		Group("n.id").
		Order("n.sent_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent notifications: %w", err)
	}

	views := make([]models.NotificationView, 0, len(rows))
	for _, r := range rows {
		views = append(views, models.NotificationView{
			Notification:     r.Notification,
			RecipientCount:   r.RecipientCount,
			IsManuallyEdited: r.IsManuallyEdited,
			IsSystemEdited:   r.IsSystemEdited,
			EditedAt:         r.EditedAt,
		})
	}
	return views, nil
}

// CountNotifications returns total and resolved notification counts since a cutoff.
func (s *NotificationStore) CountNotifications(ctx context.Context, since time.Time) (total, withCA int64, err error) {
	q := s.db.WithContext(ctx).Model(&models.Notification{}).Where("sent_at >= ?", since)
	if err = q.Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("count notifications: %w", err)
	}
	q = s.db.WithContext(ctx).Model(&models.Notification{}).Where("sent_at >= ? AND has_ca", since)
	if err = q.Count(&withCA).Error; err != nil {
		return 0, 0, fmt.Errorf("count resolved notifications: %w", err)
	}
	return total, withCA, nil
}

// TopTickers groups notifications since a cutoff by ticker, busiest first.
func (s *NotificationStore) TopTickers(ctx context.Context, since time.Time, limit int) ([]models.TickerActivity, error) {
	var rows []models.TickerActivity
	err := s.db.WithContext(ctx).Raw(`
		SELECT n.ticker AS ticker,
			COUNT(*) AS total_trades,
			COUNT(*) FILTER (WHERE n.message LIKE '%bought%') AS buy_count,
			COUNT(*) FILTER (WHERE n.message LIKE '%sold%') AS sell_count,
			COALESCE((
				SELECT l.contract_address FROM notifications l
				WHERE l.ticker = n.ticker AND l.sent_at >= ? AND l.contract_address IS NOT NULL
				ORDER BY l.sent_at DESC LIMIT 1
			), '') AS contract_address
		FROM notifications n
		WHERE n.sent_at >= ? AND n.ticker IS NOT NULL
		GROUP BY n.ticker
		ORDER BY total_trades DESC, n.ticker
		LIMIT ?`, since, since, limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("top tickers: %w", err)
	}
	return rows, nil
}
