package bot

import (
	"context"
	"strings"
	"time"

	"fomo-relay/agent/internal/models"
	"fomo-relay/shared/logger"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"
)

// Subscriptions is the part of the subscription service the commands use.
type Subscriptions interface {
	Register(ctx context.Context, chatID int64, username, firstName string) (*models.User, bool, error)
	User(ctx context.Context, chatID int64) (*models.User, error)
	Traders(ctx context.Context) ([]models.Trader, error)
	FollowedTraders(ctx context.Context, userID uint) ([]models.Trader, error)
	FindTrader(ctx context.Context, ref string) (*models.Trader, error)
	Follow(ctx context.Context, userID, traderID uint) (bool, error)
	Unfollow(ctx context.Context, userID, traderID uint) (bool, error)
	FollowAll(ctx context.Context, userID uint) (int, error)
	UnfollowAll(ctx context.Context, userID uint) (int, error)
	SetAutoFollow(ctx context.Context, userID uint, enabled bool) error
}

// ActivityReader backs /top.
type ActivityReader interface {
	TopTickers(ctx context.Context, since time.Time, limit int) ([]models.TickerActivity, error)
}

// Replier sends a Markdown reply. The Telegram messenger satisfies it.
type Replier interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
}

type Config struct {
	Telegram       *telego.Bot
	Subscriptions  Subscriptions
	Activity       ActivityReader
	Replier        Replier
	ProjectTokenCA string
}

// Bot answers user commands received by long polling.
type Bot struct {
	tg             *telego.Bot
	subs           Subscriptions
	activity       ActivityReader
	replier        Replier
	projectTokenCA string
	now            func() time.Time
	appLogger      *logger.Logger
}

func New(cfg Config, appLogger *logger.Logger) *Bot {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	return &Bot{
		tg:             cfg.Telegram,
		subs:           cfg.Subscriptions,
		activity:       cfg.Activity,
		replier:        cfg.Replier,
		projectTokenCA: cfg.ProjectTokenCA,
		now:            time.Now,
		appLogger:      appLogger,
	}
}

// StartListening polls for updates until ctx is cancelled. Each command is
// handled on its own goroutine.
func (b *Bot) StartListening(ctx context.Context) {
	if b.tg == nil {
		b.appLogger.Warn("Bot API instance not available. Cannot start command listener.")
		return
	}
	b.appLogger.Info("Starting bot command listener (telego long polling)...")

	updates, err := b.tg.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		b.appLogger.Error("Failed to start long polling", zap.Error(err))
		return
	}
	b.appLogger.Info("Listening for Telegram commands...")

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				b.appLogger.Info("Update channel closed. Stopping Telegram listener.")
				return
			}
			if update.Message == nil || !strings.HasPrefix(strings.TrimSpace(update.Message.Text), "/") {
				continue
			}
			msg := *update.Message
			b.appLogger.Zap().Debugw("Received command message",
				"chatID", msg.Chat.ID,
				"text", msg.Text,
			)
			go b.HandleCommand(ctx, msg)

		case <-ctx.Done():
			b.appLogger.Info("Context cancelled. Stopping Telegram listener.")
			return
		}
	}
}

// SendReply sends text to chatID, logging failures.
func (b *Bot) SendReply(ctx context.Context, chatID int64, text string) {
	if b.replier == nil {
		b.appLogger.Error("Cannot send reply, no transport configured.", zap.Int64("chatID", chatID))
		return
	}
	if _, err := b.replier.Send(ctx, chatID, text); err != nil {
		b.appLogger.Error("Failed to send reply message", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

// parseCommand splits "/Follow@fomo_bot 1,2" into ("follow", "1,2").
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, args, _ := strings.Cut(text, " ")
	head = strings.TrimPrefix(head, "/")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return strings.ToLower(head), strings.TrimSpace(args)
}

func senderNames(msg telego.Message) (username, firstName string) {
	if msg.From != nil {
		return msg.From.Username, msg.From.FirstName
	}
	return msg.Chat.Username, msg.Chat.FirstName
}
