package models

import (
	"strings"
	"time"
)

// Chain identifies the network a contract address lives on.
type Chain string

const (
	ChainSOL  Chain = "SOL"
	ChainBNB  Chain = "BNB"
	ChainBASE Chain = "BASE"
)

// ChainFromDexID maps a DexScreener chainId onto a Chain.
func ChainFromDexID(chainID string) (Chain, bool) {
	switch strings.ToLower(chainID) {
	case "solana":
		return ChainSOL, true
	case "bsc":
		return ChainBNB, true
	case "base":
		return ChainBASE, true
	}
	return "", false
}

// ParseChain accepts either the short name (SOL) or the DexScreener id (solana).
func ParseChain(s string) (Chain, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SOL", "SOLANA":
		return ChainSOL, true
	case "BNB", "BSC":
		return ChainBNB, true
	case "BASE":
		return ChainBASE, true
	}
	return "", false
}

// DexSlug is the path segment dexscreener.com uses for the chain.
func (c Chain) DexSlug() string {
	switch c {
	case ChainBNB:
		return "bsc"
	case ChainBASE:
		return "base"
	default:
		return "solana"
	}
}

// ContractAddressSource records which lookup stage produced a contract address.
type ContractAddressSource int

const (
	SourceCache       ContractAddressSource = 1
	SourceDexScreener ContractAddressSource = 2
	SourceHelius      ContractAddressSource = 3
	SourceKnownToken  ContractAddressSource = 4
)

func (s ContractAddressSource) String() string {
	switch s {
	case SourceCache:
		return "Cache"
	case SourceDexScreener:
		return "DexScreener"
	case SourceHelius:
		return "Helius"
	case SourceKnownToken:
		return "KnownToken"
	}
	return "None"
}

// Notification is one inbound alert and its resolution state.
type Notification struct {
	ID                      uint   `gorm:"primaryKey"`
	Message                 string `gorm:"not null"`
	Ticker                  *string
	Trader                  *string
	HasCA                   bool `gorm:"column:has_ca;not null;default:false"`
	ContractAddress         *string
	Chain                   *Chain
	SentAt                  time.Time `gorm:"not null;index"`
	ContractAddressSource   *ContractAddressSource
	TimesCacheHit           int `gorm:"not null;default:0"`
	TimesDexScreenerAPIHit  int `gorm:"column:times_dexscreener_api_hit;not null;default:0"`
	TimesHeliusAPIHit       int `gorm:"column:times_helius_api_hit;not null;default:0"`
	LookupDurationMs        *int64
	WasRetried              bool `gorm:"not null;default:false"`
	MarketCapAtNotification *int64
}

// SentMessage is one delivered copy of a Notification.
type SentMessage struct {
	ID               uint      `gorm:"primaryKey"`
	NotificationID   uint      `gorm:"not null;index"`
	ChatID           int64     `gorm:"not null"`
	MessageID        int       `gorm:"not null"`
	SentAt           time.Time `gorm:"not null"`
	IsManuallyEdited bool      `gorm:"not null;default:false"`
	IsSystemEdited   bool      `gorm:"not null;default:false"`
	EditedAt         *time.Time
}

// CachedTokenAddress is a ticker -> contract address cache row.
type CachedTokenAddress struct {
	ID              uint   `gorm:"primaryKey"`
	Ticker          string `gorm:"uniqueIndex;not null"`
	ContractAddress string `gorm:"not null"`
	Chain           *Chain
	LastAccessed    time.Time `gorm:"not null"`
	ExpiresAt       time.Time `gorm:"not null;index"`
}

// KnownToken is an operator-maintained ticker override.
type KnownToken struct {
	ID              uint   `gorm:"primaryKey"`
	Symbol          string `gorm:"uniqueIndex;not null"`
	ContractAddress string `gorm:"not null"`
	MinMarketCap    int64  `gorm:"not null;default:0"`
	Chain           *Chain
}

// Trader is a handle seen in alerts.
type Trader struct {
	ID          uint      `gorm:"primaryKey"`
	Handle      string    `gorm:"uniqueIndex;not null"`
	FirstSeenAt time.Time `gorm:"not null"`
	LastSeenAt  time.Time `gorm:"not null"`
}

// User is a Telegram chat subscribed to alerts.
type User struct {
	ID                   uint  `gorm:"primaryKey"`
	ChatID               int64 `gorm:"uniqueIndex;not null"`
	Username             *string
	FirstName            *string
	JoinedAt             time.Time `gorm:"not null"`
	IsActive             bool      `gorm:"not null;default:true"`
	AutoFollowNewTraders bool      `gorm:"not null;default:true"`
}

// UserTrader is a follow edge.
type UserTrader struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_user_trader"`
	TraderID   uint      `gorm:"not null;uniqueIndex:idx_user_trader;index"`
	FollowedAt time.Time `gorm:"not null"`
}

// NotificationView is a Notification with its delivery counts, as shown on the dashboard.
type NotificationView struct {
	Notification
	RecipientCount   int
	IsManuallyEdited bool
	IsSystemEdited   bool
	EditedAt         *time.Time
}

// TickerActivity aggregates alerts for one ticker over a window.
type TickerActivity struct {
	Ticker          string
	TotalTrades     int
	BuyCount        int
	SellCount       int
	ContractAddress string
}

// StringValue dereferences an optional string.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns nil for empty strings.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
