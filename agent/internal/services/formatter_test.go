package services

import (
	"strings"
	"testing"

	"fomo-relay/agent/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestFormatAlert(t *testing.T) {
	got := FormatAlert("KLED at $31.2m MC 🟢 @frankdegods bought $9,955.55", "frankdegods", "", "")
	assert.Equal(t, "KLED at $31.2m MC 🟢 [frankdegods](https://x.com/frankdegods) bought $9,955.55", got)

	got = FormatAlert("X at $1m MC @a bought", "a", "mint", models.ChainSOL)
	assert.Equal(t, "X at $1m MC [a](https://x.com/a) bought\n\n📝 Contract: `mint`\n🔗 [DEXScreener](https://dexscreener.com/solana/mint)", got)

	got = FormatAlert("no trader here @someone", "", "0xabc", models.ChainBNB)
	assert.Contains(t, got, "no trader here @someone")
	assert.Contains(t, got, "https://dexscreener.com/bsc/0xabc")
}

func TestFormatAlert_EscapesFreeText(t *testing.T) {
	got := FormatAlert("pepe_2 at $500k MC 🔴 @Some_Trader sold *all* `now` [x]", "Some_Trader", "mint", models.ChainSOL)

	assert.True(t, strings.HasPrefix(got, "pepe\\_2 at $500k MC 🔴 [Some_Trader](https://x.com/Some_Trader) sold \\*all\\* \\`now\\` \\[x]"), got)
	assert.Contains(t, got, "📝 Contract: `mint`")
	assert.NotContains(t, got, "@Some")
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, "plain $1.5m MC", EscapeMarkdown("plain $1.5m MC"))
	assert.Equal(t, "a\\_b\\*c\\`d\\[e]", EscapeMarkdown("a_b*c`d[e]"))
}

func TestDexScreenerURL(t *testing.T) {
	assert.Equal(t, "https://dexscreener.com/solana/m", DexScreenerURL(models.ChainSOL, "m"))
	assert.Equal(t, "https://dexscreener.com/bsc/m", DexScreenerURL(models.ChainBNB, "m"))
	assert.Equal(t, "https://dexscreener.com/base/m", DexScreenerURL(models.ChainBASE, "m"))
	assert.Equal(t, "https://dexscreener.com/solana/m", DexScreenerURL("", "m"))
}
