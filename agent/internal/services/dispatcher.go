package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fomo-relay/agent/database"
	"fomo-relay/agent/internal/events"
	"fomo-relay/agent/internal/models"
	"fomo-relay/shared/logger"

	"go.uber.org/zap"
)

// EditKind distinguishes retry-driven edits from operator edits.
type EditKind int

const (
	EditSystem EditKind = iota
	EditManual
)

func (k EditKind) String() string {
	if k == EditManual {
		return "manual"
	}
	return "system"
}

// Dispatch outcome statuses.
const (
	StatusSent         = "sent"
	StatusNoRecipients = "no_recipients"
)

// DispatchResult is what the ingestion caller gets back. Unresolved
// fields are empty strings.
type DispatchResult struct {
	NotificationID  uint
	Ticker          string
	Trader          string
	ContractAddress string
	Chain           models.Chain
	Source          models.ContractAddressSource
	Recipients      int
	Sent            int
	Failed          int
	RetryQueued     bool
	Status          string
}

// ContractUpdate is a contract address applied after the initial send.
type ContractUpdate struct {
	ContractAddress string
	Chain           models.Chain
	Kind            EditKind
	// Resolution carries lookup tracking for system edits; nil for manual ones.
	Resolution *Resolution
}

// EditResult counts the delivered messages touched by an edit.
type EditResult struct {
	NotificationID uint
	Edited         int
	Failed         int
}

type DispatcherConfig struct {
	Notifications NotificationRepository
	Subscriptions *SubscriptionService
	KnownTokens   *KnownTokenCache
	Resolver      *Resolver
	Messenger     Messenger
	Broadcaster   Broadcaster
	Retry         RetryConfig
}

// Dispatcher turns raw alerts into delivered, tracked messages.
type Dispatcher struct {
	notifications NotificationRepository
	subs          *SubscriptionService
	known         *KnownTokenCache
	resolver      *Resolver
	messenger     Messenger
	broadcaster   Broadcaster
	retry         *RetryQueue
	now           func() time.Time
	appLogger     *logger.Logger
}

func NewDispatcher(cfg DispatcherConfig, appLogger *logger.Logger) *Dispatcher {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	d := &Dispatcher{
		notifications: cfg.Notifications,
		subs:          cfg.Subscriptions,
		known:         cfg.KnownTokens,
		resolver:      cfg.Resolver,
		messenger:     cfg.Messenger,
		broadcaster:   broadcaster,
		now:           time.Now,
		appLogger:     appLogger,
	}
	var rr retryResolver
	if cfg.Resolver != nil {
		rr = cfg.Resolver
	}
	d.retry = NewRetryQueue(rr, d, cfg.Retry, appLogger)
	return d
}

// RetryQueue is the queue unresolved notifications are handed to.
func (d *Dispatcher) RetryQueue() *RetryQueue { return d.retry }

// Dispatch parses, resolves, fans out and records one alert.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) (DispatchResult, error) {
	if strings.TrimSpace(text) == "" {
		return DispatchResult{}, ErrEmptyMessage
	}
	alert := events.ParseAlert(text)
	result := DispatchResult{Ticker: alert.Ticker, Trader: alert.Trader}
	logFields := []interface{}{zap.String("ticker", alert.Ticker), zap.String("trader", alert.Trader), zap.Bool("thesis", alert.IsThesis)}
	d.appLogger.Info("Received alert", logFields...)

	var trader *models.Trader
	if alert.Trader != "" {
		t, _, err := d.subs.TouchTrader(ctx, alert.Trader)
		if err != nil {
			return result, fmt.Errorf("record trader %s: %w", alert.Trader, err)
		}
		trader = t
	}

	var res Resolution
	if alert.Ticker != "" {
		res = d.resolve(ctx, alert)
	}
	result.ContractAddress = res.ContractAddress
	result.Chain = res.Chain
	result.Source = res.Source

	recipients, totalActive, err := d.recipients(ctx, trader)
	if err != nil {
		return result, err
	}
	result.Recipients = len(recipients)

	n := d.newNotification(text, alert, res)
	if err := d.notifications.CreateNotification(ctx, n); err != nil {
		return result, err
	}
	result.NotificationID = n.ID

	// Unresolved alerts are retried even when nothing was delivered, so the
	// stored notification still picks up its address.
	if !res.Found() && alert.Ticker != "" {
		d.retry.Enqueue(RetryEntry{
			NotificationID: n.ID,
			Ticker:         alert.Ticker,
			Trader:         alert.Trader,
			MarketCap:      alert.MarketCap,
		})
		result.RetryQueued = true
	}

	if d.messenger == nil {
		d.appLogger.Warn("No transport configured, alert stored without delivery", append(logFields, zap.Uint("notificationID", n.ID))...)
		d.broadcaster.Broadcast(ctx, Event{Type: EventNotificationCreated, Payload: notificationPayload(n, 0, totalActive, false, false, nil)})
		return result, ErrTransportUnavailable
	}

	if len(recipients) == 0 {
		d.appLogger.Info("No recipients for alert, skipping send", append(logFields, zap.Uint("notificationID", n.ID))...)
		result.Status = StatusNoRecipients
		d.broadcaster.Broadcast(ctx, Event{Type: EventNotificationCreated, Payload: notificationPayload(n, 0, totalActive, false, false, nil)})
		return result, nil
	}

	body := FormatAlert(text, alert.Trader, res.ContractAddress, res.Chain)
	sent := make([]models.SentMessage, 0, len(recipients))
	for _, user := range recipients {
		messageID, err := d.messenger.Send(ctx, user.ChatID, body)
		if err != nil {
			result.Failed++
			d.appLogger.Warn("Failed to deliver alert", zap.Int64("chatID", user.ChatID), zap.Uint("notificationID", n.ID), zap.Error(err))
			continue
		}
		sent = append(sent, models.SentMessage{
			NotificationID: n.ID,
			ChatID:         user.ChatID,
			MessageID:      messageID,
			SentAt:         d.now().UTC(),
		})
	}
	result.Sent = len(sent)
	if err := d.notifications.AddSentMessages(ctx, sent); err != nil {
		return result, err
	}
	result.Status = StatusSent

	d.broadcaster.Broadcast(ctx, Event{Type: EventNotificationCreated, Payload: notificationPayload(n, len(sent), totalActive, false, false, nil)})
	d.appLogger.Info("Alert delivered", append(logFields,
		zap.Uint("notificationID", n.ID), zap.Int("sent", len(sent)), zap.Int("failed", result.Failed),
		zap.String("ca", res.ContractAddress), zap.String("source", res.Source.String()))...)
	return result, nil
}

// resolve checks the override table first, then the lookup pipeline.
func (d *Dispatcher) resolve(ctx context.Context, alert events.Alert) Resolution {
	if d.known != nil {
		kt, ok, err := d.known.Lookup(ctx, alert.Ticker, alert.MarketCap)
		if err != nil {
			d.appLogger.Warn("Known token lookup failed", zap.String("ticker", alert.Ticker), zap.Error(err))
		} else if ok {
			chain := models.ChainSOL
			if kt.Chain != nil {
				chain = *kt.Chain
			}
			d.appLogger.Info("Using known token override", zap.String("ticker", alert.Ticker), zap.String("ca", kt.ContractAddress))
			return Resolution{ContractAddress: kt.ContractAddress, Chain: chain, Source: models.SourceKnownToken}
		}
	}
	if d.resolver == nil {
		return Resolution{}
	}
	return d.resolver.Resolve(ctx, alert.Ticker, alert.MarketCap)
}

// recipients returns the active followers of trader, or every active user
// when the alert names no trader. totalActive is the active user count.
func (d *Dispatcher) recipients(ctx context.Context, trader *models.Trader) ([]models.User, int, error) {
	active, err := d.subs.ActiveUsers(ctx)
	if err != nil {
		return nil, 0, err
	}
	if trader == nil {
		return active, len(active), nil
	}

	ids, err := d.subs.FollowersOf(ctx, trader.ID)
	if err != nil {
		return nil, 0, err
	}
	following := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		following[id] = struct{}{}
	}
	out := make([]models.User, 0, len(ids))
	for _, u := range active {
		if _, ok := following[u.ID]; ok {
			out = append(out, u)
		}
	}
	return out, len(active), nil
}

func (d *Dispatcher) newNotification(text string, alert events.Alert, res Resolution) *models.Notification {
	n := &models.Notification{
		Message:                 text,
		Ticker:                  models.StringPtr(alert.Ticker),
		Trader:                  models.StringPtr(alert.Trader),
		SentAt:                  d.now().UTC(),
		TimesCacheHit:           res.CacheHits,
		TimesDexScreenerAPIHit:  res.AggregatorHits,
		TimesHeliusAPIHit:       res.ScannerHits,
		MarketCapAtNotification: alert.MarketCap,
	}
	if res.Found() {
		chain := res.Chain
		source := res.Source
		n.HasCA = true
		n.ContractAddress = &res.ContractAddress
		n.Chain = &chain
		n.ContractAddressSource = &source
	}
	if alert.Ticker != "" {
		ms := res.Duration.Milliseconds()
		n.LookupDurationMs = &ms
	}
	return n
}

// ApplyContractAddress stores a late contract address and edits every
// delivered copy. Per-message edit failures are counted, not returned.
func (d *Dispatcher) ApplyContractAddress(ctx context.Context, notificationID uint, update ContractUpdate) (EditResult, error) {
	result := EditResult{NotificationID: notificationID}
	if strings.TrimSpace(update.ContractAddress) == "" {
		return result, fmt.Errorf("contract address is required")
	}
	if update.Chain == "" {
		update.Chain = models.ChainSOL
	}

	n, err := d.notifications.GetNotification(ctx, notificationID)
	if errors.Is(err, database.ErrNotFound) {
		return result, ErrNotificationNotFound
	}
	if err != nil {
		return result, err
	}

	ca := strings.TrimSpace(update.ContractAddress)
	chain := update.Chain
	n.ContractAddress = &ca
	n.Chain = &chain
	n.HasCA = true
	if update.Kind == EditSystem {
		n.WasRetried = true
	}
	if r := update.Resolution; r != nil {
		source := r.Source
		n.ContractAddressSource = &source
		n.TimesCacheHit += r.CacheHits
		n.TimesDexScreenerAPIHit += r.AggregatorHits
		n.TimesHeliusAPIHit += r.ScannerHits
	}
	if err := d.notifications.UpdateResolution(ctx, n); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return result, ErrNotificationNotFound
		}
		return result, err
	}

	msgs, err := d.notifications.ListSentMessages(ctx, notificationID)
	if err != nil {
		return result, err
	}

	fields := []interface{}{zap.Uint("notificationID", notificationID), zap.String("kind", update.Kind.String()), zap.String("ca", ca)}
	if len(msgs) > 0 && d.messenger == nil {
		d.appLogger.Warn("No transport configured, stored contract address without editing messages", fields...)
		return result, ErrTransportUnavailable
	}

	body := FormatAlert(n.Message, models.StringValue(n.Trader), ca, chain)
	edited := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if err := d.messenger.Edit(ctx, m.ChatID, m.MessageID, body); err != nil {
			result.Failed++
			d.appLogger.Warn("Failed to edit delivered message",
				zap.Int64("chatID", m.ChatID), zap.Int("messageID", m.MessageID), zap.Error(err))
			continue
		}
		edited = append(edited, m.ID)
	}
	result.Edited = len(edited)

	editedAt := d.now().UTC()
	if err := d.notifications.MarkEdited(ctx, edited, update.Kind == EditManual, editedAt); err != nil {
		return result, err
	}

	var totalActive int
	if d.subs != nil {
		if active, err := d.subs.ActiveUsers(ctx); err == nil {
			totalActive = len(active)
		}
	}
	var at *time.Time
	if len(edited) > 0 {
		at = &editedAt
	}
	d.broadcaster.Broadcast(ctx, Event{Type: EventNotificationUpdated, Payload: notificationPayload(n, len(msgs), totalActive,
		update.Kind == EditManual && len(edited) > 0, update.Kind == EditSystem && len(edited) > 0, at)})

	d.appLogger.Info("Applied contract address", append(fields, zap.Int("edited", result.Edited), zap.Int("failed", result.Failed))...)
	return result, nil
}

// notificationPayload is the dashboard's view of a notification.
func notificationPayload(n *models.Notification, recipients, totalUsers int, manual, system bool, editedAt *time.Time) map[string]interface{} {
	var chain interface{}
	if n.Chain != nil {
		chain = string(*n.Chain)
	}
	return map[string]interface{}{
		"id":               n.ID,
		"message":          n.Message,
		"ticker":           n.Ticker,
		"trader":           n.Trader,
		"hasCA":            n.HasCA,
		"contractAddress":  n.ContractAddress,
		"chain":            chain,
		"sentAt":           n.SentAt,
		"recipientCount":   recipients,
		"totalUsers":       totalUsers,
		"isManuallyEdited": manual,
		"isSystemEdited":   system,
		"editedAt":         editedAt,
	}
}
