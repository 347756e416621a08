package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"fomo-relay/agent/database"
	"fomo-relay/agent/internal/models"
	"fomo-relay/agent/internal/services"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"
)

const (
	topTickerLimit = 20
	maxTopHours    = 168
	maxTopDays     = 30

	registerFirst = "❌ Please use /start first to register."
	genericError  = "Oops! Something went wrong. Please try again."
)

const helpText = `📚 FOMOFASTER Commands:

/start - Subscribe to notifications
/help - Show this help message
/list - View all available traders
/mytraders - View traders you're following
/follow <ids/handles> - Follow traders (e.g., /follow 1,2,3 or /follow trader1,trader2)
/follow all - Follow all traders
/unfollow <ids/handles> - Unfollow traders (e.g., /unfollow 1,trader2)
/unfollow all - Unfollow all traders
/autofollow - Check/toggle auto-follow for new traders (starts ON by default)
/top <period> - View top tokens by activity (e.g., /top 1h, /top 1d, /top 7d)
/ca - Get FOMOFASTER token contract address

You'll only receive notifications from traders you follow!`

const topUsage = "Examples:\n/top 1h - Last 1 hour\n/top 6h - Last 6 hours\n/top 1d - Last 1 day\n/top 7d - Last 7 days"

// HandleCommand routes one slash command.
func (b *Bot) HandleCommand(ctx context.Context, msg telego.Message) {
	command, args := parseCommand(msg.Text)
	chatID := msg.Chat.ID

	b.appLogger.Info("Processing command",
		zap.String("command", command),
		zap.String("args", args),
		zap.Int64("chatID", chatID),
	)

	switch command {
	case "start":
		b.handleStart(ctx, msg)
	case "help":
		b.SendReply(ctx, chatID, helpText)
	case "list":
		b.withUser(ctx, chatID, b.handleList)
	case "mytraders":
		b.withUser(ctx, chatID, b.handleMyTraders)
	case "follow":
		b.withUser(ctx, chatID, func(ctx context.Context, user *models.User) { b.handleFollow(ctx, user, args) })
	case "unfollow":
		b.withUser(ctx, chatID, func(ctx context.Context, user *models.User) { b.handleUnfollow(ctx, user, args) })
	case "autofollow":
		b.withUser(ctx, chatID, func(ctx context.Context, user *models.User) { b.handleAutoFollow(ctx, user, args) })
	case "ca":
		b.SendReply(ctx, chatID, fmt.Sprintf("`%s`", b.projectTokenCA))
	case "top":
		b.handleTop(ctx, chatID, args)
	default:
		b.appLogger.Warn("Unknown command received", zap.String("command", command))
		b.SendReply(ctx, chatID, "❓ Unknown command. Use /help to see available commands.")
	}
}

// withUser runs fn for a registered user and asks everyone else to /start.
func (b *Bot) withUser(ctx context.Context, chatID int64, fn func(context.Context, *models.User)) {
	user, err := b.subs.User(ctx, chatID)
	if errors.Is(err, database.ErrNotFound) {
		b.SendReply(ctx, chatID, registerFirst)
		return
	}
	if err != nil {
		b.appLogger.Error("Failed to load user", zap.Int64("chatID", chatID), zap.Error(err))
		b.SendReply(ctx, chatID, genericError)
		return
	}
	fn(ctx, user)
}

func (b *Bot) handleStart(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	username, firstName := senderNames(msg)

	user, _, err := b.subs.Register(ctx, chatID, username, firstName)
	if err != nil {
		b.appLogger.Error("Failed to register user", zap.Int64("chatID", chatID), zap.Error(err))
		b.SendReply(ctx, chatID, genericError)
		return
	}
	traders, err := b.subs.Traders(ctx)
	if err != nil {
		b.appLogger.Error("Failed to list traders", zap.Error(err))
	}

	welcome := fmt.Sprintf(`🎉 Welcome to FOMOFASTER!

You're now following all %d traders by default, configure according to your preferences if needed:

/help - show available commands
/list - view all available traders
/mytraders - view traders youre following
/follow - follow specific traders
/unfollow - unfollow specific traders
/autofollow - check/toggle auto-follow for new traders (starts ON by default)
/top - view top tokens by activity (e.g., /top 1h, /top 7d)
/ca - get the official $FOMOFASTER token contract address

Follow us on twitter, stay tuned for major updates: https://x.com/FOMOFASTER`, len(traders))
	b.SendReply(ctx, chatID, welcome)
	b.appLogger.Info("User started bot", zap.Int64("chatID", chatID), zap.Uint("userID", user.ID), zap.String("username", username))
}

func (b *Bot) handleList(ctx context.Context, user *models.User) {
	traders, err := b.subs.Traders(ctx)
	if err != nil {
		b.appLogger.Error("Failed to list traders", zap.Error(err))
		b.SendReply(ctx, user.ChatID, genericError)
		return
	}
	if len(traders) == 0 {
		b.SendReply(ctx, user.ChatID, "📭 No traders in the system yet. They'll appear as notifications come in!")
		return
	}
	followed, err := b.subs.FollowedTraders(ctx, user.ID)
	if err != nil {
		b.appLogger.Error("Failed to list followed traders", zap.Uint("userID", user.ID), zap.Error(err))
		b.SendReply(ctx, user.ChatID, genericError)
		return
	}
	following := make(map[uint]bool, len(followed))
	for _, t := range followed {
		following[t.ID] = true
	}

	lines := make([]string, 0, len(traders))
	for _, t := range traders {
		status := "❌"
		if following[t.ID] {
			status = "✅"
		}
		lines = append(lines, fmt.Sprintf("%d - %s %s", t.ID, services.TraderLink(t.Handle), status))
	}
	b.SendReply(ctx, user.ChatID, fmt.Sprintf("📊 All Traders (%d total)\n\n%s\n\nUse /follow 1,2,3 or /follow trader1,trader2 to follow traders.",
		len(traders), strings.Join(lines, "\n")))
}

func (b *Bot) handleMyTraders(ctx context.Context, user *models.User) {
	followed, err := b.subs.FollowedTraders(ctx, user.ID)
	if err != nil {
		b.appLogger.Error("Failed to list followed traders", zap.Uint("userID", user.ID), zap.Error(err))
		b.SendReply(ctx, user.ChatID, genericError)
		return
	}
	if len(followed) == 0 {
		b.SendReply(ctx, user.ChatID, "📭 You're not following any traders yet.\n\nUse /list to see all available traders, then /follow to start following them!")
		return
	}
	lines := make([]string, 0, len(followed))
	for _, t := range followed {
		lines = append(lines, fmt.Sprintf("%d - %s ✅", t.ID, services.TraderLink(t.Handle)))
	}
	b.SendReply(ctx, user.ChatID, fmt.Sprintf("📊 Your Followed Traders (%d total)\n\n%s\n\nUse /unfollow 1,2,3 or /unfollow trader1,trader2 to unfollow traders.",
		len(followed), strings.Join(lines, "\n")))
}

// splitTraderRefs splits "1, @ansem,frank" into its non-empty parts.
func splitTraderRefs(args string) []string {
	return strings.FieldsFunc(args, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
}

// followOutcome buckets per-reference results for one /follow or /unfollow.
type followOutcome struct {
	changed   []string
	unchanged []string
	notFound  []string
}

func (b *Bot) applyRefs(ctx context.Context, refs []string, apply func(traderID uint) (bool, error)) (followOutcome, error) {
	var out followOutcome
	for _, ref := range refs {
		trader, err := b.subs.FindTrader(ctx, ref)
		if errors.Is(err, services.ErrTraderNotFound) {
			out.notFound = append(out.notFound, ref)
			continue
		}
		if err != nil {
			return out, err
		}
		changed, err := apply(trader.ID)
		if err != nil {
			return out, err
		}
		if changed {
			out.changed = append(out.changed, trader.Handle)
		} else {
			out.unchanged = append(out.unchanged, trader.Handle)
		}
	}
	return out, nil
}

func (o followOutcome) render(changedLabel, unchangedLabel string) string {
	var parts []string
	if len(o.changed) > 0 {
		parts = append(parts, fmt.Sprintf("%s %s", changedLabel, strings.Join(o.changed, ", ")))
	}
	if len(o.unchanged) > 0 {
		parts = append(parts, fmt.Sprintf("%s %s", unchangedLabel, strings.Join(o.unchanged, ", ")))
	}
	if len(o.notFound) > 0 {
		parts = append(parts, fmt.Sprintf("Not found: %s", strings.Join(o.notFound, ", ")))
	}
	return strings.Join(parts, "\n")
}

func (b *Bot) handleFollow(ctx context.Context, user *models.User, args string) {
	usage := "❌ Please specify traders to follow.\n\nExamples:\n/follow 1,2,3\n/follow trader1,trader2\n/follow 1,trader2,3\n/follow all"
	refs := splitTraderRefs(args)
	if len(refs) == 0 {
		b.SendReply(ctx, user.ChatID, usage)
		return
	}

	if len(refs) == 1 && strings.EqualFold(refs[0], "all") {
		traders, err := b.subs.Traders(ctx)
		if err != nil {
			b.appLogger.Error("Failed to list traders", zap.Error(err))
			b.SendReply(ctx, user.ChatID, genericError)
			return
		}
		if len(traders) == 0 {
			b.SendReply(ctx, user.ChatID, "❌ No traders available to follow yet.")
			return
		}
		added, err := b.subs.FollowAll(ctx, user.ID)
		if err != nil {
			b.appLogger.Error("Failed to follow all traders", zap.Uint("userID", user.ID), zap.Error(err))
			b.SendReply(ctx, user.ChatID, genericError)
			return
		}
		if added == 0 {
			b.SendReply(ctx, user.ChatID, fmt.Sprintf("You're already following all %d traders.", len(traders)))
			return
		}
		b.SendReply(ctx, user.ChatID, fmt.Sprintf("Now following all traders (%d new, %d total)", added, len(traders)))
		return
	}

	out, err := b.applyRefs(ctx, refs, func(traderID uint) (bool, error) { return b.subs.Follow(ctx, user.ID, traderID) })
	if err != nil {
		b.appLogger.Error("Follow command failed", zap.Uint("userID", user.ID), zap.Error(err))
		b.SendReply(ctx, user.ChatID, genericError)
		return
	}
	b.SendReply(ctx, user.ChatID, out.render("Now following", "Already following"))
}

func (b *Bot) handleUnfollow(ctx context.Context, user *models.User, args string) {
	usage := "❌ Please specify traders to unfollow.\n\nExamples:\n/unfollow 1,2,3\n/unfollow trader1,trader2\n/unfollow 1,trader2,3\n/unfollow all"
	refs := splitTraderRefs(args)
	if len(refs) == 0 {
		b.SendReply(ctx, user.ChatID, usage)
		return
	}

	if len(refs) == 1 && strings.EqualFold(refs[0], "all") {
		removed, err := b.subs.UnfollowAll(ctx, user.ID)
		if err != nil {
			b.appLogger.Error("Failed to unfollow all traders", zap.Uint("userID", user.ID), zap.Error(err))
			b.SendReply(ctx, user.ChatID, genericError)
			return
		}
		if removed == 0 {
			b.SendReply(ctx, user.ChatID, "You're not following any traders.")
			return
		}
		b.SendReply(ctx, user.ChatID, fmt.Sprintf("Unfollowed all traders (%d total)", removed))
		return
	}

	out, err := b.applyRefs(ctx, refs, func(traderID uint) (bool, error) { return b.subs.Unfollow(ctx, user.ID, traderID) })
	if err != nil {
		b.appLogger.Error("Unfollow command failed", zap.Uint("userID", user.ID), zap.Error(err))
		b.SendReply(ctx, user.ChatID, genericError)
		return
	}
	b.SendReply(ctx, user.ChatID, out.render("Unfollowed", "Weren't following"))
}

func (b *Bot) handleAutoFollow(ctx context.Context, user *models.User, args string) {
	var (
		enabled bool
		reply   string
	)
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "":
		status := "OFF"
		if user.AutoFollowNewTraders {
			status = "ON"
		}
		b.SendReply(ctx, user.ChatID, fmt.Sprintf("Your auto-follow for new traders is currently: %s\n\nUse /autofollow on or /autofollow off to change it.", status))
		return
	case "on":
		enabled = true
		reply = "✅ Auto-follow for new traders is now ON\n\nYou'll automatically follow any new traders added to the system."
	case "off":
		reply = "❌ Auto-follow for new traders is now OFF\n\nYou won't automatically follow new traders added to the system."
	default:
		b.SendReply(ctx, user.ChatID, "❌ Invalid option. Use /autofollow on or /autofollow off")
		return
	}

	if err := b.subs.SetAutoFollow(ctx, user.ID, enabled); err != nil {
		b.appLogger.Error("Failed to update auto-follow", zap.Uint("userID", user.ID), zap.Error(err))
		b.SendReply(ctx, user.ChatID, genericError)
		return
	}
	b.SendReply(ctx, user.ChatID, reply)
}

// parseTopPeriod accepts Nh (1-168) or Nd (1-30) and returns the window
// plus a display label.
func parseTopPeriod(arg string) (time.Duration, string, bool) {
	arg = strings.ToLower(strings.TrimSpace(arg))
	if len(arg) < 2 {
		return 0, "", false
	}
	n, err := strconv.Atoi(arg[:len(arg)-1])
	if err != nil || n <= 0 {
		return 0, "", false
	}
	switch arg[len(arg)-1] {
	case 'h':
		if n > maxTopHours {
			return 0, "", false
		}
		if n == 1 {
			return time.Hour, "1 hour", true
		}
		return time.Duration(n) * time.Hour, fmt.Sprintf("%d hours", n), true
	case 'd':
		if n > maxTopDays {
			return 0, "", false
		}
		if n == 1 {
			return 24 * time.Hour, "1 day", true
		}
		return time.Duration(n) * 24 * time.Hour, fmt.Sprintf("%d days", n), true
	}
	return 0, "", false
}

func (b *Bot) handleTop(ctx context.Context, chatID int64, args string) {
	if strings.TrimSpace(args) == "" {
		b.SendReply(ctx, chatID, "❌ Please specify a time period.\n\n"+topUsage)
		return
	}
	window, label, ok := parseTopPeriod(args)
	if !ok {
		b.SendReply(ctx, chatID, "❌ Invalid time period. Use format: {number}h or {number}d\n\n"+topUsage+"\n\nMax: 168h (7 days) or 30d")
		return
	}
	if b.activity == nil {
		b.SendReply(ctx, chatID, genericError)
		return
	}

	stats, err := b.activity.TopTickers(ctx, b.now().UTC().Add(-window), topTickerLimit)
	if err != nil {
		b.appLogger.Error("Failed to load top tickers", zap.String("period", label), zap.Error(err))
		b.SendReply(ctx, chatID, genericError)
		return
	}
	b.SendReply(ctx, chatID, formatTop(stats, label))
}

func formatTop(stats []models.TickerActivity, label string) string {
	if len(stats) == 0 {
		return fmt.Sprintf("📊 No token activity in the last %s.", label)
	}
	lines := make([]string, 0, len(stats))
	for i, s := range stats {
		var medal string
		switch i {
		case 0:
			medal = "🥇"
		case 1:
			medal = "🥈"
		case 2:
			medal = "🥉"
		default:
			medal = fmt.Sprintf("%d.", i+1)
		}
		line := fmt.Sprintf("%s *%s* - %d trades (%d 🟢, %d 🔴)", medal, s.Ticker, s.TotalTrades, s.BuyCount, s.SellCount)
		if s.ContractAddress != "" {
			line += fmt.Sprintf("\n`%s`", s.ContractAddress)
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("📊 *Top Tokens* (Last %s)\n\n%s", label, strings.Join(lines, "\n\n"))
}
