package hub

import (
	"context"
	"time"

	"fomo-relay/agent/internal/models"
	"fomo-relay/agent/internal/services"
	"fomo-relay/shared/notifications"
)

// AlertPoster is satisfied by notifications.DiscordMirror.
type AlertPoster interface {
	Post(alert notifications.AlertSummary) bool
}

// MirrorBroadcaster forwards newly delivered alerts to an external channel.
// Other event types are ignored.
type MirrorBroadcaster struct {
	poster AlertPoster
}

func NewMirrorBroadcaster(poster AlertPoster) *MirrorBroadcaster {
	return &MirrorBroadcaster{poster: poster}
}

func (m *MirrorBroadcaster) Broadcast(_ context.Context, event services.Event) {
	if event.Type != services.EventNotificationCreated {
		return
	}
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return
	}
	if n, _ := payload["recipientCount"].(int); n == 0 {
		return
	}
	m.poster.Post(summaryFromPayload(payload))
}

func summaryFromPayload(p map[string]interface{}) notifications.AlertSummary {
	s := notifications.AlertSummary{
		Ticker:          optionalString(p["ticker"]),
		Trader:          optionalString(p["trader"]),
		ContractAddress: optionalString(p["contractAddress"]),
	}
	s.Message, _ = p["message"].(string)
	s.SentAt, _ = p["sentAt"].(time.Time)
	if chain, ok := p["chain"].(string); ok {
		s.Chain = chain
	}
	if s.ContractAddress != "" {
		s.ChartURL = services.DexScreenerURL(models.Chain(s.Chain), s.ContractAddress)
	}
	return s
}

func optionalString(v interface{}) string {
	switch s := v.(type) {
	case *string:
		return models.StringValue(s)
	case string:
		return s
	}
	return ""
}
