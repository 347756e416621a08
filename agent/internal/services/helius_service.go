package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fomo-relay/shared/logger"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultHeliusAPIURL = "https://api.helius.xyz"
	usdcMint            = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type HeliusConfig struct {
	APIBaseURL       string
	APIKey           string
	RPCURL           string
	AggregatorWallet string
	TxLimit          int
	Timeout          time.Duration
	RatePerSecond    float64
	ExcludedMints    []string
}

type heliusTransaction struct {
	Signature      string                `json:"signature"`
	TokenTransfers []heliusTokenTransfer `json:"tokenTransfers"`
}

type heliusTokenTransfer struct {
	Mint string `json:"mint"`
}

type heliusTokenMetadata struct {
	Account         string `json:"account"`
	OnChainMetadata *struct {
		Metadata *struct {
			Data *struct {
				Name   string `json:"name"`
				Symbol string `json:"symbol"`
			} `json:"data"`
		} `json:"metadata"`
	} `json:"onChainMetadata"`
	LegacyMetadata *struct {
		Symbol string `json:"symbol"`
	} `json:"legacyMetadata"`
}

// Symbol returns the on-chain symbol, falling back to the legacy token list.
func (m heliusTokenMetadata) Symbol() string {
	if m.OnChainMetadata != nil && m.OnChainMetadata.Metadata != nil && m.OnChainMetadata.Metadata.Data != nil {
		if s := strings.TrimSpace(m.OnChainMetadata.Metadata.Data.Symbol); s != "" {
			return s
		}
	}
	if m.LegacyMetadata != nil {
		return strings.TrimSpace(m.LegacyMetadata.Symbol)
	}
	return ""
}

// HeliusScanner finds Solana mints by scanning the aggregator wallet's recent
// transfers and matching token metadata symbols.
type HeliusScanner struct {
	cfg        HeliusConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	rpcClient  *rpc.Client
	excluded   map[string]struct{}
	appLogger  *logger.Logger
}

func NewHeliusScanner(cfg HeliusConfig, appLogger *logger.Logger) *HeliusScanner {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultHeliusAPIURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.TxLimit <= 0 {
		cfg.TxLimit = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}

	excluded := map[string]struct{}{usdcMint: {}}
	for _, m := range cfg.ExcludedMints {
		excluded[m] = struct{}{}
	}

	s := &HeliusScanner{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		excluded:   excluded,
		appLogger:  appLogger,
	}
	if cfg.RPCURL != "" {
		s.rpcClient = rpc.New(cfg.RPCURL)
	}
	return s
}

// Enabled reports whether the scanner has the credentials it needs.
func (s *HeliusScanner) Enabled() bool {
	return s.cfg.APIKey != "" && s.cfg.AggregatorWallet != ""
}

// Health pings the RPC endpoint.
func (s *HeliusScanner) Health(ctx context.Context) error {
	if s.rpcClient == nil {
		return fmt.Errorf("helius rpc url not configured")
	}
	status, err := s.rpcClient.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("helius rpc health (%s): %w", sanitizeURL(s.cfg.RPCURL), err)
	}
	if status != rpc.HealthOk {
		return fmt.Errorf("helius rpc reports %q", status)
	}
	return nil
}

// FindByTicker returns the first recently transferred mint whose symbol equals
// ticker, ignoring case.
func (s *HeliusScanner) FindByTicker(ctx context.Context, ticker string) (string, bool, error) {
	if !s.Enabled() {
		return "", false, fmt.Errorf("helius scanner not configured")
	}
	tickerField := zap.String("ticker", ticker)

	mints, err := s.recentMints(ctx)
	if err != nil {
		return "", false, err
	}
	s.appLogger.Debug("Scanning aggregator mints", tickerField, zap.Int("mints", len(mints)))

	for _, mint := range mints {
		meta, err := s.tokenMetadata(ctx, mint)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			s.appLogger.Warn("Helius metadata lookup failed", tickerField, zap.String("mint", mint), zap.Error(err))
			continue
		}
		if symbol := meta.Symbol(); symbol != "" && strings.EqualFold(symbol, ticker) {
			s.appLogger.Info("Helius matched ticker to mint", tickerField, zap.String("mint", mint))
			return mint, true, nil
		}
	}
	return "", false, nil
}

// recentMints returns distinct, valid mints in first-seen order.
func (s *HeliusScanner) recentMints(ctx context.Context) ([]string, error) {
	endpoint := fmt.Sprintf("%s/v0/addresses/%s/transactions?api-key=%s&limit=%d",
		s.cfg.APIBaseURL, s.cfg.AggregatorWallet, s.cfg.APIKey, s.cfg.TxLimit)

	body, err := s.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("list aggregator transactions: %w", err)
	}

	var txs []heliusTransaction
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, fmt.Errorf("decode aggregator transactions: %w", err)
	}

	seen := make(map[string]struct{})
	var mints []string
	for _, tx := range txs {
		for _, transfer := range tx.TokenTransfers {
			mint := transfer.Mint
			if mint == "" {
				continue
			}
			if _, skip := s.excluded[mint]; skip {
				continue
			}
			if _, dup := seen[mint]; dup {
				continue
			}
			if _, err := solana.PublicKeyFromBase58(mint); err != nil {
				continue
			}
			seen[mint] = struct{}{}
			mints = append(mints, mint)
		}
	}
	return mints, nil
}

func (s *HeliusScanner) tokenMetadata(ctx context.Context, mint string) (heliusTokenMetadata, error) {
	endpoint := fmt.Sprintf("%s/v0/token-metadata?api-key=%s", s.cfg.APIBaseURL, s.cfg.APIKey)
	payload, err := json.Marshal(map[string][]string{"mintAccounts": {mint}})
	if err != nil {
		return heliusTokenMetadata{}, err
	}

	body, err := s.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return heliusTokenMetadata{}, err
	}

	var metas []heliusTokenMetadata
	if err := json.Unmarshal(body, &metas); err != nil {
		return heliusTokenMetadata{}, fmt.Errorf("decode token metadata: %w", err)
	}
	if len(metas) == 0 {
		return heliusTokenMetadata{}, nil
	}
	return metas[0], nil
}

func (s *HeliusScanner) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("helius rate limiter: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build helius request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// url.Error repeats the raw URL, api key included.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("%s %s: %w", method, sanitizeURL(endpoint), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read helius response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %s", method, sanitizeURL(endpoint), resp.Status)
	}
	return body, nil
}

func sanitizeURL(rawURL string) string {
	if idx := strings.Index(rawURL, "api-key="); idx != -1 {
		rest := rawURL[idx+len("api-key="):]
		suffix := ""
		if amp := strings.Index(rest, "&"); amp != -1 {
			suffix = rest[amp:]
		}
		return rawURL[:idx+len("api-key=")] + "HIDDEN_FOR_LOGS" + suffix
	}
	return rawURL
}
