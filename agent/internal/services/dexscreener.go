package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fomo-relay/shared/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultDexScreenerURL = "https://api.dexscreener.com"

type Pair struct {
	ChainID     string     `json:"chainId"`
	DexID       string     `json:"dexId"`
	URL         string     `json:"url"`
	PairAddress string     `json:"pairAddress"`
	BaseToken   Token      `json:"baseToken"`
	QuoteToken  Token      `json:"quoteToken"`
	PriceUsd    string     `json:"priceUsd"`
	Liquidity   *Liquidity `json:"liquidity"`
	FDV         *float64   `json:"fdv"`
	MarketCap   *float64   `json:"marketCap"`
}

type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type Liquidity struct {
	Usd   *float64 `json:"usd"`
	Base  float64  `json:"base"`
	Quote float64  `json:"quote"`
}

type searchResponse struct {
	SchemaVersion string `json:"schemaVersion"`
	Pairs         []Pair `json:"pairs"`
}

// LiquidityUSD returns the pair's USD liquidity, if reported.
func (p Pair) LiquidityUSD() (float64, bool) {
	if p.Liquidity == nil || p.Liquidity.Usd == nil {
		return 0, false
	}
	return *p.Liquidity.Usd, true
}

type DexScreenerConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// DexScreenerClient searches DexScreener pairs by free-text query.
type DexScreenerClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	appLogger  *logger.Logger
}

func NewDexScreenerClient(cfg DexScreenerConfig, appLogger *logger.Logger) *DexScreenerClient {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDexScreenerURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 4.66
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &DexScreenerClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		appLogger:  appLogger,
	}
}

// Search returns every pair DexScreener matches for query.
func (c *DexScreenerClient) Search(ctx context.Context, query string) ([]Pair, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("dexscreener rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/latest/dex/search?q=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build dexscreener request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener search %q: %w", query, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.appLogger.Warn("DexScreener rate limit hit", zap.String("query", query))
		return nil, fmt.Errorf("dexscreener rate limit exceeded (429)")
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("dexscreener search %q: status %s: %s", query, resp.Status, strings.TrimSpace(string(body)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode dexscreener response for %q: %w", query, err)
	}

	c.appLogger.Debug("DexScreener search completed", zap.String("query", query), zap.Int("pairs", len(parsed.Pairs)))
	return parsed.Pairs, nil
}
