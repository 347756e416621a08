package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fomo-relay/shared/logger"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const discordQueueSize = 64

// AlertSummary is the part of a delivered alert that is mirrored to Discord.
type AlertSummary struct {
	Message         string
	Ticker          string
	Trader          string
	ContractAddress string
	ChartURL        string
	Chain           string
	SentAt          time.Time
}

type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordMirror posts alert summaries to a Discord channel as embeds.
// Post is non-blocking; Run performs the REST calls.
type DiscordMirror struct {
	sender    embedSender
	channelID string
	queue     chan AlertSummary
	appLogger *logger.Logger
}

// NewDiscordMirror returns nil when token or channel is missing, which
// disables mirroring.
func NewDiscordMirror(token, channelID string, appLogger *logger.Logger) (*DiscordMirror, error) {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	if token == "" || channelID == "" {
		appLogger.Info("Discord mirror disabled (DISCORD_BOT_TOKEN or DISCORD_CHANNEL_ID not set)")
		return nil, nil
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	appLogger.Info("Discord mirror initialized", zap.String("channelID", channelID))
	return newDiscordMirror(session, channelID, appLogger), nil
}

func newDiscordMirror(sender embedSender, channelID string, appLogger *logger.Logger) *DiscordMirror {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	return &DiscordMirror{
		sender:    sender,
		channelID: channelID,
		queue:     make(chan AlertSummary, discordQueueSize),
		appLogger: appLogger,
	}
}

// Post queues an alert. It reports false when the queue is full.
func (d *DiscordMirror) Post(alert AlertSummary) bool {
	select {
	case d.queue <- alert:
		return true
	default:
		d.appLogger.Warn("Discord mirror queue full, dropping alert", zap.String("ticker", alert.Ticker))
		return false
	}
}

func (d *DiscordMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-d.queue:
			if _, err := d.sender.ChannelMessageSendEmbed(d.channelID, alertEmbed(alert)); err != nil {
				d.appLogger.Error("Failed to send discord embed", zap.String("ticker", alert.Ticker), zap.Error(err))
				continue
			}
			d.appLogger.Debug("Sent discord alert", zap.String("ticker", alert.Ticker))
		}
	}
}

func alertEmbed(alert AlertSummary) *discordgo.MessageEmbed {
	color := 0x95A5A6
	lower := strings.ToLower(alert.Message)
	switch {
	case strings.Contains(lower, "bought"):
		color = 0x2ECC71
	case strings.Contains(lower, "sold"):
		color = 0xE74C3C
	}

	title := "New alert"
	if alert.Ticker != "" {
		title = "$" + alert.Ticker
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: alert.Message,
		Color:       color,
		URL:         alert.ChartURL,
	}
	if !alert.SentAt.IsZero() {
		embed.Timestamp = alert.SentAt.UTC().Format(time.RFC3339)
	}

	if alert.Trader != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Trader",
			Value:  fmt.Sprintf("[%s](https://x.com/%s)", alert.Trader, alert.Trader),
			Inline: true,
		})
	}
	if alert.Chain != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Chain", Value: alert.Chain, Inline: true})
	}
	contract := "Not found yet"
	if alert.ContractAddress != "" {
		contract = "`" + alert.ContractAddress + "`"
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Contract", Value: contract})
	return embed
}
