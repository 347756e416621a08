package services

import (
	"fmt"
	"strings"

	"fomo-relay/agent/internal/models"
)

// TraderLink renders a handle as a Markdown link to the trader's X profile.
func TraderLink(handle string) string {
	return fmt.Sprintf("[%s](https://x.com/%s)", handle, handle)
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// EscapeMarkdown escapes the legacy Markdown entity characters so free text
// is sent literally.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// DexScreenerURL links a contract address on its chain; an empty chain means Solana.
func DexScreenerURL(chain models.Chain, contractAddress string) string {
	return fmt.Sprintf("https://dexscreener.com/%s/%s", chain.DexSlug(), contractAddress)
}

// FormatAlert rewrites the trader mention as a profile link so the
// transport does not treat it as a native mention, then appends the
// contract section when an address is known.
func FormatAlert(raw, trader, contractAddress string, chain models.Chain) string {
	text := EscapeMarkdown(raw)
	if trader != "" {
		text = strings.ReplaceAll(text, "@"+EscapeMarkdown(trader), TraderLink(trader))
	}
	if contractAddress == "" {
		return text
	}
	return fmt.Sprintf("%s\n\n📝 Contract: `%s`\n🔗 [DEXScreener](%s)",
		text, contractAddress, DexScreenerURL(chain, contractAddress))
}

func newTraderMessage(handle string, traderID uint, autoFollow bool) string {
	link := TraderLink(handle)
	if autoFollow {
		return fmt.Sprintf("🎯 A new sharp FOMO APP trader, %s, was just added to our services!\n\n"+
			"✅ This trader's trades will be tracked by you since you have auto-follow ON.\n\n"+
			"Use /unfollow %s or /unfollow %d if you do not desire this trader.\n"+
			"Use /autofollow off if you want to opt out completely of auto-following new traders.", link, handle, traderID)
	}
	return fmt.Sprintf("🎯 A new sharp FOMO APP trader, %s, was just added to our services!\n\n"+
		"ℹ️ You are NOT following this trader since you have auto-follow OFF.\n\n"+
		"Use /follow %s or /follow %d if you want to follow them.\n"+
		"Use /autofollow on if you want to opt in to auto-following new traders.", link, handle, traderID)
}
