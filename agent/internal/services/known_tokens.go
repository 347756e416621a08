package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"fomo-relay/agent/internal/models"
	"fomo-relay/shared/logger"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// ErrInvalidKnownToken rejects override writes with missing or malformed fields.
var ErrInvalidKnownToken = errors.New("invalid known token")

// KnownTokenCache is a read-through, lazily populated view of the override table.
// Reads are lock free once warm; only the populate path takes the mutex.
type KnownTokenCache struct {
	repo      KnownTokenRepository
	mu        sync.Mutex
	snapshot  atomic.Pointer[map[string][]models.KnownToken]
	appLogger *logger.Logger
}

func NewKnownTokenCache(repo KnownTokenRepository, appLogger *logger.Logger) *KnownTokenCache {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	return &KnownTokenCache{repo: repo, appLogger: appLogger}
}

// Get returns overrides keyed by upper-cased symbol, loading them if needed.
func (c *KnownTokenCache) Get(ctx context.Context) (map[string][]models.KnownToken, error) {
	if m := c.snapshot.Load(); m != nil {
		return *m, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.snapshot.Load(); m != nil {
		return *m, nil
	}
	return c.populate(ctx)
}

// populate must be called with mu held.
func (c *KnownTokenCache) populate(ctx context.Context) (map[string][]models.KnownToken, error) {
	rows, err := c.repo.ListKnownTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("load known tokens: %w", err)
	}
	m := make(map[string][]models.KnownToken, len(rows))
	for _, row := range rows {
		key := strings.ToUpper(row.Symbol)
		m[key] = append(m[key], row)
	}
	c.snapshot.Store(&m)
	c.appLogger.Info("Known tokens cache loaded", zap.Int("count", len(rows)))
	return m, nil
}

// Lookup finds the override for symbol whose floor the market cap clears.
// A missing market cap only matches overrides with no floor. When several
// overrides qualify the one with the highest floor wins.
func (c *KnownTokenCache) Lookup(ctx context.Context, symbol string, marketCap *int64) (models.KnownToken, bool, error) {
	if symbol == "" {
		return models.KnownToken{}, false, nil
	}
	m, err := c.Get(ctx)
	if err != nil {
		return models.KnownToken{}, false, err
	}

	var best models.KnownToken
	found := false
	for _, kt := range m[strings.ToUpper(symbol)] {
		if marketCap == nil {
			if kt.MinMarketCap > 0 {
				continue
			}
		} else if *marketCap < kt.MinMarketCap {
			continue
		}
		if !found || kt.MinMarketCap > best.MinMarketCap {
			best = kt
			found = true
		}
	}
	return best, found, nil
}

// Invalidate drops the loaded overrides; the next read repopulates.
func (c *KnownTokenCache) Invalidate() {
	c.mu.Lock()
	c.snapshot.Store(nil)
	c.mu.Unlock()
}

// KnownTokenService is the admin surface for overrides. Every write
// invalidates the shared cache.
type KnownTokenService struct {
	repo      KnownTokenRepository
	cache     *KnownTokenCache
	appLogger *logger.Logger
}

func NewKnownTokenService(repo KnownTokenRepository, cache *KnownTokenCache, appLogger *logger.Logger) *KnownTokenService {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	return &KnownTokenService{repo: repo, cache: cache, appLogger: appLogger}
}

func (s *KnownTokenService) List(ctx context.Context) ([]models.KnownToken, error) {
	return s.repo.ListKnownTokens(ctx)
}

func (s *KnownTokenService) Get(ctx context.Context, id uint) (*models.KnownToken, error) {
	return s.repo.GetKnownToken(ctx, id)
}

func (s *KnownTokenService) Create(ctx context.Context, token *models.KnownToken) error {
	if err := validateKnownToken(token); err != nil {
		return err
	}
	if err := s.repo.CreateKnownToken(ctx, token); err != nil {
		return err
	}
	s.cache.Invalidate()
	s.appLogger.Info("Added known token", zap.String("symbol", token.Symbol), zap.String("ca", token.ContractAddress))
	return nil
}

func (s *KnownTokenService) Update(ctx context.Context, id uint, update models.KnownToken) (*models.KnownToken, error) {
	if err := validateKnownToken(&update); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetKnownToken(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Symbol = update.Symbol
	existing.ContractAddress = update.ContractAddress
	existing.MinMarketCap = update.MinMarketCap
	existing.Chain = update.Chain
	if err := s.repo.UpdateKnownToken(ctx, existing); err != nil {
		return nil, err
	}
	s.cache.Invalidate()
	s.appLogger.Info("Updated known token", zap.String("symbol", existing.Symbol))
	return existing, nil
}

func (s *KnownTokenService) Delete(ctx context.Context, id uint) error {
	if err := s.repo.DeleteKnownToken(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate()
	s.appLogger.Info("Deleted known token", zap.Uint("id", id))
	return nil
}

// RefreshCache forces the next lookup to reload from storage.
func (s *KnownTokenService) RefreshCache() {
	s.cache.Invalidate()
	s.appLogger.Info("Known tokens cache invalidated manually")
}

func validateKnownToken(token *models.KnownToken) error {
	token.Symbol = strings.TrimSpace(token.Symbol)
	token.ContractAddress = strings.TrimSpace(token.ContractAddress)
	if token.Symbol == "" || token.ContractAddress == "" {
		return fmt.Errorf("%w: symbol and contract address are required", ErrInvalidKnownToken)
	}
	if token.MinMarketCap < 0 {
		return fmt.Errorf("%w: minimum market cap must not be negative", ErrInvalidKnownToken)
	}
	if token.Chain == nil || *token.Chain == models.ChainSOL {
		if _, err := solana.PublicKeyFromBase58(token.ContractAddress); err != nil {
			return fmt.Errorf("%w: %q is not a solana mint: %v", ErrInvalidKnownToken, token.ContractAddress, err)
		}
	}
	return nil
}
