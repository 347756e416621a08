package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fomo-relay/agent/database"
	"fomo-relay/agent/internal/models"
	"fomo-relay/shared/logger"

	"go.uber.org/zap"
)

const (
	DefaultCacheTTL           = 4 * time.Hour
	DefaultCacheSweepInterval = 10 * time.Minute
)

// CachedToken is a resolved ticker served from the cache.
type CachedToken struct {
	Ticker          string
	ContractAddress string
	Chain           *models.Chain
	ExpiresAt       time.Time
}

// TokenCache maps tickers to contract addresses with a sliding expiry.
// Keys are case-sensitive.
type TokenCache struct {
	repo          TokenCacheRepository
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	appLogger     *logger.Logger
}

type TokenCacheOption func(*TokenCache)

func WithCacheTTL(ttl time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithSweepInterval(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithCacheClock overrides time.Now, for tests.
func WithCacheClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) { c.now = now }
}

func NewTokenCache(repo TokenCacheRepository, appLogger *logger.Logger, opts ...TokenCacheOption) *TokenCache {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	c := &TokenCache{
		repo:          repo,
		ttl:           DefaultCacheTTL,
		sweepInterval: DefaultCacheSweepInterval,
		now:           time.Now,
		appLogger:     appLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the unexpired entry for ticker and slides its expiry forward.
func (c *TokenCache) Lookup(ctx context.Context, ticker string) (CachedToken, bool, error) {
	if ticker == "" {
		return CachedToken{}, false, nil
	}
	row, err := c.repo.GetCachedToken(ctx, ticker)
	if errors.Is(err, database.ErrNotFound) {
		return CachedToken{}, false, nil
	}
	if err != nil {
		return CachedToken{}, false, fmt.Errorf("cache lookup %s: %w", ticker, err)
	}

	now := c.now().UTC()
	if !row.ExpiresAt.After(now) {
		return CachedToken{}, false, nil
	}

	expires := now.Add(c.ttl)
	if err := c.repo.TouchCachedToken(ctx, ticker, now, expires); err != nil {
		c.appLogger.Warn("Failed to refresh cache expiry", zap.String("ticker", ticker), zap.Error(err))
	} else if expires.After(row.ExpiresAt) {
		row.ExpiresAt = expires
	}

	return CachedToken{
		Ticker:          row.Ticker,
		ContractAddress: row.ContractAddress,
		Chain:           row.Chain,
		ExpiresAt:       row.ExpiresAt,
	}, true, nil
}

// Put inserts or refreshes the entry for ticker.
func (c *TokenCache) Put(ctx context.Context, ticker, contractAddress string, chain *models.Chain) error {
	if ticker == "" || contractAddress == "" {
		return fmt.Errorf("cache put requires ticker and contract address")
	}
	now := c.now().UTC()
	row := &models.CachedTokenAddress{
		Ticker:          ticker,
		ContractAddress: contractAddress,
		Chain:           chain,
		LastAccessed:    now,
		ExpiresAt:       now.Add(c.ttl),
	}
	if err := c.repo.UpsertCachedToken(ctx, row); err != nil {
		return fmt.Errorf("cache put %s: %w", ticker, err)
	}
	c.appLogger.Debug("Cached token address", zap.String("ticker", ticker), zap.String("ca", contractAddress))
	return nil
}

// Remove deletes the entry for ticker. Returns database.ErrNotFound if absent.
func (c *TokenCache) Remove(ctx context.Context, ticker string) error {
	return c.repo.DeleteCachedToken(ctx, ticker)
}

func (c *TokenCache) List(ctx context.Context) ([]models.CachedTokenAddress, error) {
	return c.repo.ListCachedTokens(ctx)
}

// Sweep deletes every expired entry.
func (c *TokenCache) Sweep(ctx context.Context) (int64, error) {
	n, err := c.repo.DeleteExpiredTokens(ctx, c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	if n > 0 {
		c.appLogger.Info("Swept expired cache entries", zap.Int64("removed", n))
	}
	return n, nil
}

// RunSweeper sweeps on a fixed interval until ctx is done.
func (c *TokenCache) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	c.appLogger.Info("Token cache sweeper started",
		zap.Duration("interval", c.sweepInterval), zap.Duration("ttl", c.ttl))
	for {
		select {
		case <-ctx.Done():
			c.appLogger.Info("Token cache sweeper stopped")
			return
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil && ctx.Err() == nil {
				c.appLogger.Error("Token cache sweep failed", zap.Error(err))
			}
		}
	}
}
