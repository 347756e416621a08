package notifications

import (
	"context"
	"strings"

	"fomo-relay/shared/logger"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"
)

const opsQueueSize = 100

// OpsForwarder posts Warn and Error log lines to an operator chat. It
// implements logger.Forwarder; Forward never blocks and drops lines when
// the queue is full.
type OpsForwarder struct {
	bot     *telego.Bot
	chatID  int64
	queue   chan string
	limiter *rate.Limiter
	send    func(ctx context.Context, text string, markdown bool) error

	appLogger *logger.Logger
}

func NewOpsForwarder(bot *telego.Bot, chatID int64, appLogger *logger.Logger) *OpsForwarder {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	f := &OpsForwarder{
		bot:       bot,
		chatID:    chatID,
		queue:     make(chan string, opsQueueSize),
		limiter:   rate.NewLimiter(rate.Limit(0.2), 3),
		appLogger: appLogger,
	}
	f.send = f.sendTelegram
	return f
}

func (f *OpsForwarder) Forward(text string) {
	select {
	case f.queue <- text:
	default:
	}
}

// Run drains the queue until ctx is done.
func (f *OpsForwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-f.queue:
			if err := f.limiter.Wait(ctx); err != nil {
				return
			}
			f.deliver(ctx, text)
		}
	}
}

// deliver tries MarkdownV2 first and falls back to plain text when the
// formatted line does not parse.
func (f *OpsForwarder) deliver(ctx context.Context, text string) {
	if err := f.send(ctx, escapeOpsLine(text), true); err == nil {
		return
	}
	if err := f.send(ctx, text, false); err != nil {
		// Straight to zap: a Warn here would be forwarded again.
		f.appLogger.Zap().Errorw("Failed to forward log line to ops chat", "chatID", f.chatID, "error", err)
	}
}

func (f *OpsForwarder) sendTelegram(ctx context.Context, text string, markdown bool) error {
	params := tu.Message(tu.ID(f.chatID), text)
	if markdown {
		params.ParseMode = telego.ModeMarkdownV2
	}
	_, err := f.bot.SendMessage(ctx, params)
	return err
}

// escapeOpsLine escapes a logger line for MarkdownV2 while keeping the
// "*LEVEL:*" bold marker and the backtick-quoted values.
func escapeOpsLine(line string) string {
	var sb strings.Builder
	inCode := false
	for _, r := range line {
		switch {
		case r == '`':
			inCode = !inCode
			sb.WriteRune(r)
		case inCode:
			if r == '\\' {
				sb.WriteString(`\\`)
			} else {
				sb.WriteRune(r)
			}
		case r == '*':
			sb.WriteRune(r)
		case strings.ContainsRune(`\_[]()~>#+-=|{}.!`, r):
			sb.WriteRune('\\')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	if inCode {
		return EscapeMarkdownV2(line)
	}
	return sb.String()
}
