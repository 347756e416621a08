package events

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Alert is what can be recovered from a raw FOMO notification.
// Any field may be empty; a partial parse is not an error.
type Alert struct {
	Ticker    string
	Trader    string
	MarketCap *int64
	IsThesis  bool
}

var (
	traderPattern       = regexp.MustCompile(`(?i)MC\s+\S+\s+@(\w+)\s+(bought|sold)`)
	thesisTraderPattern = regexp.MustCompile(`(?i)thesis by\s+(\w+)`)
)

// ParseAlert runs every extractor over text.
func ParseAlert(text string) Alert {
	alert := Alert{IsThesis: IsThesisNotification(text)}
	alert.Ticker = ExtractTicker(text, alert.IsThesis)
	alert.Trader = ExtractTrader(text, alert.IsThesis)
	if !alert.IsThesis {
		if mc, ok := ExtractMarketCap(text); ok {
			alert.MarketCap = &mc
		}
	}
	return alert
}

// IsThesisNotification reports whether text is a "thesis" post rather than a trade.
func IsThesisNotification(text string) bool {
	lower := asciiLower(text)
	if !strings.Contains(lower, "thesis") {
		return false
	}
	return !strings.Contains(lower, "mc") &&
		!strings.Contains(lower, "bought") &&
		!strings.Contains(lower, "sold")
}

// ExtractTicker returns the upper-cased symbol leading the alert, or "".
func ExtractTicker(text string, thesis bool) string {
	marker := " at $"
	if thesis {
		marker = " thesis by"
	}
	idx := indexFold(text, marker)
	if idx <= 0 {
		return ""
	}
	return upper(strings.TrimSpace(text[:idx]))
}

// ExtractTrader returns the trader handle without the leading @, or "".
func ExtractTrader(text string, thesis bool) string {
	pattern := traderPattern
	if thesis {
		pattern = thesisTraderPattern
	}
	m := pattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// ExtractMarketCap parses "$2.60m MC" style amounts into whole dollars.
// Units are lowercase k, m or b only.
func ExtractMarketCap(text string) (int64, bool) {
	mcIdx := strings.Index(text, " MC")
	if mcIdx < 0 {
		return 0, false
	}
	dollarIdx := strings.LastIndex(text[:mcIdx], "$")
	if dollarIdx < 0 {
		return 0, false
	}
	raw := strings.TrimSpace(text[dollarIdx+1 : mcIdx])
	if len(raw) < 2 {
		return 0, false
	}

	var multiplier float64
	switch raw[len(raw)-1] {
	case 'k':
		multiplier = 1e3
	case 'm':
		multiplier = 1e6
	case 'b':
		multiplier = 1e9
	default:
		return 0, false
	}

	value, err := strconv.ParseFloat(raw[:len(raw)-1], 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, false
	}
	amount := value * multiplier
	if amount >= math.MaxInt64 {
		return 0, false
	}
	return int64(amount), true
}

// indexFold is a case-insensitive strings.Index whose result is a valid
// byte offset into s.
func indexFold(s, substr string) int {
	return strings.Index(asciiLower(s), asciiLower(substr))
}

// asciiLower folds A-Z only, byte by byte, so offsets match the input even
// when it is not valid UTF-8.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// upper keeps invalid UTF-8 bytes as they are instead of replacing them.
func upper(s string) string {
	if utf8.ValidString(s) {
		return strings.ToUpper(s)
	}
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
