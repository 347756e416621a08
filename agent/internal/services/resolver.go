package services

import (
	"context"
	"time"

	"fomo-relay/agent/internal/models"
	"fomo-relay/shared/logger"

	"go.uber.org/zap"
)

// PriceAggregator searches trading pairs by free text.
type PriceAggregator interface {
	Search(ctx context.Context, query string) ([]Pair, error)
}

// ChainScanner finds a contract address by exact symbol on its single chain.
type ChainScanner interface {
	FindByTicker(ctx context.Context, ticker string) (string, bool, error)
}

// ResolutionOrder decides which remote stage runs first after a cache miss.
type ResolutionOrder string

const (
	OrderAggregatorFirst ResolutionOrder = "aggregator_first"
	OrderScannerFirst    ResolutionOrder = "scanner_first"
)

// ParseResolutionOrder falls back to OrderAggregatorFirst for unknown values.
func ParseResolutionOrder(s string) ResolutionOrder {
	if ResolutionOrder(s) == OrderScannerFirst {
		return OrderScannerFirst
	}
	return OrderAggregatorFirst
}

// Stage names reported to an AttemptRecorder.
const (
	StageCache      = "cache"
	StageAggregator = "aggregator"
	StageScanner    = "scanner"
)

// Attempt is one stage of one resolution.
type Attempt struct {
	Ticker          string
	MarketCap       *int64
	Stage           string
	Found           bool
	ContractAddress string
	Chain           models.Chain
	Duration        time.Duration
	Err             string
	Retry           bool
	At              time.Time
}

// AttemptRecorder receives every resolution attempt. Implementations must not block.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt)
}

// Resolution is the outcome of Resolve. Source is zero when nothing matched.
type Resolution struct {
	ContractAddress string
	Chain           models.Chain
	Source          models.ContractAddressSource
	CacheHits       int
	AggregatorHits  int
	ScannerHits     int
	Duration        time.Duration
}

func (r Resolution) Found() bool { return r.ContractAddress != "" }

// Resolver runs the cache, aggregator and scanner stages for a ticker.
type Resolver struct {
	cache      *TokenCache
	aggregator PriceAggregator
	candidates *CandidateResolver
	scanner    ChainScanner
	order      ResolutionOrder
	recorder   AttemptRecorder
	now        func() time.Time
	appLogger  *logger.Logger
}

type ResolverConfig struct {
	Cache      *TokenCache
	Aggregator PriceAggregator
	Candidates *CandidateResolver
	Scanner    ChainScanner
	Order      ResolutionOrder
	Recorder   AttemptRecorder
}

func NewResolver(cfg ResolverConfig, appLogger *logger.Logger) *Resolver {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	if cfg.Candidates == nil {
		cfg.Candidates = NewCandidateResolver(DefaultCandidateFilter())
	}
	if cfg.Order == "" {
		cfg.Order = OrderAggregatorFirst
	}
	return &Resolver{
		cache:      cfg.Cache,
		aggregator: cfg.Aggregator,
		candidates: cfg.Candidates,
		scanner:    cfg.Scanner,
		order:      cfg.Order,
		recorder:   cfg.Recorder,
		now:        time.Now,
		appLogger:  appLogger,
	}
}

// Resolve consults the cache, then the remote stages in the configured order.
// Remote failures are logged and treated as misses.
func (r *Resolver) Resolve(ctx context.Context, ticker string, marketCap *int64) Resolution {
	start := r.now()
	var res Resolution
	if ticker == "" {
		return res
	}
	tickerField := zap.String("ticker", ticker)

	if r.cache != nil {
		res.CacheHits++
		stageStart := r.now()
		entry, ok, err := r.cache.Lookup(ctx, ticker)
		r.record(ctx, Attempt{Ticker: ticker, MarketCap: marketCap, Stage: StageCache, Found: ok,
			ContractAddress: entry.ContractAddress, Duration: r.now().Sub(stageStart), Err: errString(err)})
		if err != nil {
			r.appLogger.Warn("Cache lookup failed", tickerField, zap.Error(err))
		} else if ok {
			res.ContractAddress = entry.ContractAddress
			res.Chain = models.ChainSOL
			if entry.Chain != nil {
				res.Chain = *entry.Chain
			}
			res.Source = models.SourceCache
			res.Duration = r.now().Sub(start)
			r.appLogger.Info("Resolved from cache", tickerField, zap.String("ca", res.ContractAddress))
			return res
		}
	}

	stages := []func(context.Context, string, *int64, *Resolution, bool) bool{r.tryAggregator, r.tryScanner}
	if r.order == OrderScannerFirst {
		stages = []func(context.Context, string, *int64, *Resolution, bool) bool{r.tryScanner, r.tryAggregator}
	}
	for _, stage := range stages {
		if stage(ctx, ticker, marketCap, &res, false) {
			break
		}
	}

	res.Duration = r.now().Sub(start)
	if !res.Found() {
		r.appLogger.Info("No contract address found", tickerField, zap.Duration("duration", res.Duration))
	}
	return res
}

// ResolveForRetry skips the cache and always tries the aggregator before the scanner.
func (r *Resolver) ResolveForRetry(ctx context.Context, ticker string, marketCap *int64) Resolution {
	start := r.now()
	var res Resolution
	if ticker == "" {
		return res
	}
	if !r.tryAggregator(ctx, ticker, marketCap, &res, true) {
		r.tryScanner(ctx, ticker, marketCap, &res, true)
	}
	res.Duration = r.now().Sub(start)
	return res
}

func (r *Resolver) tryAggregator(ctx context.Context, ticker string, marketCap *int64, res *Resolution, retry bool) bool {
	if r.aggregator == nil || marketCap == nil || *marketCap <= 0 {
		return false
	}
	tickerField := zap.String("ticker", ticker)
	res.AggregatorHits++

	stageStart := r.now()
	pairs, err := r.aggregator.Search(ctx, ticker)
	if err != nil {
		r.appLogger.Warn("Price aggregator search failed", tickerField, zap.Error(err))
		r.record(ctx, Attempt{Ticker: ticker, MarketCap: marketCap, Stage: StageAggregator,
			Duration: r.now().Sub(stageStart), Err: err.Error(), Retry: retry})
		return false
	}

	best, ok := r.candidates.SelectBest(pairs, float64(*marketCap))
	r.record(ctx, Attempt{Ticker: ticker, MarketCap: marketCap, Stage: StageAggregator, Found: ok,
		ContractAddress: best.ContractAddress, Chain: best.Chain, Duration: r.now().Sub(stageStart), Retry: retry})
	if !ok {
		lo, hi := r.candidates.ToleranceBand(float64(*marketCap))
		r.appLogger.Debug("No aggregator pair within tolerance", tickerField,
			zap.Int("pairs", len(pairs)), zap.Float64("bandLow", lo), zap.Float64("bandHigh", hi))
		return false
	}

	res.ContractAddress = best.ContractAddress
	res.Chain = best.Chain
	res.Source = models.SourceDexScreener
	r.appLogger.Info("Resolved from price aggregator", tickerField,
		zap.String("ca", best.ContractAddress), zap.String("chain", string(best.Chain)),
		zap.Float64("marketCap", best.MarketCap), zap.Float64("score", best.Score))
	r.writeBack(ctx, ticker, best.ContractAddress, best.Chain)
	return true
}

func (r *Resolver) tryScanner(ctx context.Context, ticker string, marketCap *int64, res *Resolution, retry bool) bool {
	if r.scanner == nil {
		return false
	}
	tickerField := zap.String("ticker", ticker)
	res.ScannerHits++

	stageStart := r.now()
	mint, ok, err := r.scanner.FindByTicker(ctx, ticker)
	r.record(ctx, Attempt{Ticker: ticker, MarketCap: marketCap, Stage: StageScanner, Found: ok && err == nil,
		ContractAddress: mint, Chain: models.ChainSOL, Duration: r.now().Sub(stageStart), Err: errString(err), Retry: retry})
	if err != nil {
		r.appLogger.Warn("Chain scan failed", tickerField, zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	res.ContractAddress = mint
	res.Chain = models.ChainSOL
	res.Source = models.SourceHelius
	r.appLogger.Info("Resolved from chain scan", tickerField, zap.String("ca", mint))
	r.writeBack(ctx, ticker, mint, models.ChainSOL)
	return true
}

// writeBack caches Solana results only.
func (r *Resolver) writeBack(ctx context.Context, ticker, ca string, chain models.Chain) {
	if r.cache == nil || chain != models.ChainSOL {
		return
	}
	if err := r.cache.Put(ctx, ticker, ca, &chain); err != nil {
		r.appLogger.Warn("Failed to cache resolved address", zap.String("ticker", ticker), zap.Error(err))
	}
}

func (r *Resolver) record(ctx context.Context, a Attempt) {
	if r.recorder == nil {
		return
	}
	a.At = r.now().UTC()
	r.recorder.RecordAttempt(ctx, a)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
