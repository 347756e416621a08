package notifications

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"fomo-relay/shared/logger"

	"github.com/mymmrac/telego"
	ta "github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTelegramRate        = 25
	DefaultTelegramBurst       = 5
	DefaultTelegramMaxAttempts = 3
)

// TelegramConfig tunes outbound delivery. Zero values fall back to defaults.
type TelegramConfig struct {
	RatePerSecond float64
	Burst         int
	MaxAttempts   int
}

// NewTelegramBot creates a bot client. The token is not verified here; call
// VerifyBot once at startup.
func NewTelegramBot(token string, options ...telego.BotOption) (*telego.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	options = append([]telego.BotOption{telego.WithDiscardLogger()}, options...)
	bot, err := telego.NewBot(token, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot API: %w", err)
	}
	return bot, nil
}

// VerifyBot calls getMe and returns the bot's username.
func VerifyBot(ctx context.Context, bot *telego.Bot) (string, error) {
	me, err := bot.GetMe(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to verify bot token with GetMe API call: %w", err)
	}
	return me.Username, nil
}

// TelegramMessenger sends and edits alert messages. All calls share one
// limiter so fan-out stays under the Bot API's global rate.
type TelegramMessenger struct {
	bot         *telego.Bot
	limiter     *rate.Limiter
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
	appLogger   *logger.Logger
}

func NewTelegramMessenger(bot *telego.Bot, cfg TelegramConfig, appLogger *logger.Logger) *TelegramMessenger {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultTelegramRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultTelegramBurst
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultTelegramMaxAttempts
	}
	appLogger.Info("Telegram rate limiter initialized", zap.Float64("perSecond", cfg.RatePerSecond), zap.Int("burst", cfg.Burst))
	return &TelegramMessenger{
		bot:         bot,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		maxAttempts: cfg.MaxAttempts,
		sleep:       sleepContext,
		appLogger:   appLogger,
	}
}

// Send delivers text with Markdown formatting and link previews disabled.
func (m *TelegramMessenger) Send(ctx context.Context, chatID int64, text string) (int, error) {
	params := &telego.SendMessageParams{
		ChatID:             tu.ID(chatID),
		Text:               text,
		ParseMode:          telego.ModeMarkdown,
		LinkPreviewOptions: &telego.LinkPreviewOptions{IsDisabled: true},
	}
	var messageID int
	err := m.withRetry(ctx, fmt.Sprintf("[Send - ChatID: %d]", chatID), func() error {
		msg, err := m.bot.SendMessage(ctx, params)
		if err != nil {
			return err
		}
		messageID = msg.MessageID
		return nil
	})
	return messageID, err
}

// Edit replaces the text of a delivered message. An unchanged text is not an error.
func (m *TelegramMessenger) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	params := &telego.EditMessageTextParams{
		ChatID:             tu.ID(chatID),
		MessageID:          messageID,
		Text:               text,
		ParseMode:          telego.ModeMarkdown,
		LinkPreviewOptions: &telego.LinkPreviewOptions{IsDisabled: true},
	}
	return m.withRetry(ctx, fmt.Sprintf("[Edit - ChatID: %d, MessageID: %d]", chatID, messageID), func() error {
		_, err := m.bot.EditMessageText(ctx, params)
		if err != nil && isNotModified(err) {
			return nil
		}
		return err
	})
}

// withRetry runs call up to maxAttempts times. A 429 waits for retry_after,
// other transient failures back off exponentially, client errors stop at once.
func (m *TelegramMessenger) withRetry(ctx context.Context, logCtx string, call func() error) error {
	var lastErr error
	for i := 0; i < m.maxAttempts; i++ {
		if err := m.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("telegram rate limiter: %w", err)
		}
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err

		wait := time.Duration(math.Pow(2, float64(i))) * time.Second
		var apiErr *ta.Error
		if errors.As(err, &apiErr) {
			m.appLogger.Warn("Failed Telegram API call",
				zap.Int("attempt", i+1), zap.Int("maxAttempts", m.maxAttempts),
				zap.Int("code", apiErr.ErrorCode), zap.String("description", apiErr.Description), zap.String("ctx", logCtx))
			switch {
			case apiErr.ErrorCode == 429:
				retryAfter := 1
				if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
					retryAfter = apiErr.Parameters.RetryAfter
				}
				wait = time.Duration(retryAfter) * time.Second
			case apiErr.ErrorCode >= 400 && apiErr.ErrorCode < 500:
				return err
			}
		} else {
			m.appLogger.Warn("Failed Telegram call", zap.Int("attempt", i+1), zap.Error(err), zap.String("ctx", logCtx))
		}

		if i < m.maxAttempts-1 {
			if err := m.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("telegram call failed after %d attempts: %w", m.maxAttempts, lastErr)
}

func isNotModified(err error) bool {
	var apiErr *ta.Error
	return errors.As(err, &apiErr) && apiErr.ErrorCode == 400 &&
		strings.Contains(apiErr.Description, "message is not modified")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EscapeMarkdownV2 escapes every MarkdownV2 reserved character.
func EscapeMarkdownV2(s string) string {
	charsToEscape := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	temp := s
	for _, char := range charsToEscape {
		temp = strings.ReplaceAll(temp, char, "\\"+char)
	}
	return temp
}
