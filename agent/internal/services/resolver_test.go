package services

import (
	"context"
	"testing"

	"fomo-relay/agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolverFixture struct {
	repo       *fakeTokenCacheRepo
	cache      *TokenCache
	aggregator *fakeAggregator
	scanner    *fakeScanner
	attempts   *recordingAttempts
}

func newResolverFixture(order ResolutionOrder) (*Resolver, *resolverFixture) {
	fx := &resolverFixture{
		repo:       newFakeTokenCacheRepo(),
		aggregator: &fakeAggregator{pairs: map[string][]Pair{}},
		scanner:    &fakeScanner{mints: map[string]string{}},
		attempts:   &recordingAttempts{},
	}
	fx.cache = NewTokenCache(fx.repo, nil)
	r := NewResolver(ResolverConfig{
		Cache:      fx.cache,
		Aggregator: fx.aggregator,
		Scanner:    fx.scanner,
		Order:      order,
		Recorder:   fx.attempts,
	}, nil)
	return r, fx
}

func TestResolver_CacheHitSkipsRemoteStages(t *testing.T) {
	ctx := context.Background()
	r, fx := newResolverFixture(OrderAggregatorFirst)
	require.NoError(t, fx.cache.Put(ctx, "KLED", "cachedMint", nil))

	res := r.Resolve(ctx, "KLED", i64(31_200_000))

	assert.Equal(t, "cachedMint", res.ContractAddress)
	assert.Equal(t, models.ChainSOL, res.Chain)
	assert.Equal(t, models.SourceCache, res.Source)
	assert.Equal(t, 1, res.CacheHits)
	assert.Zero(t, fx.aggregator.calls())
	assert.Zero(t, fx.scanner.calls())
}

func TestResolver_AggregatorMatchIsCached(t *testing.T) {
	ctx := context.Background()
	r, fx := newResolverFixture(OrderAggregatorFirst)
	fx.aggregator.pairs["KLED"] = []Pair{pair("solana", "KLEDmint111", 30_800_000, 2_000_000)}

	res := r.Resolve(ctx, "KLED", i64(31_200_000))

	require.True(t, res.Found())
	assert.Equal(t, "KLEDmint111", res.ContractAddress)
	assert.Equal(t, models.SourceDexScreener, res.Source)
	assert.Equal(t, 1, res.AggregatorHits)
	assert.Zero(t, fx.scanner.calls())

	cached, ok, err := fx.cache.Lookup(ctx, "KLED")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "KLEDmint111", cached.ContractAddress)
}

func TestResolver_NonSolanaMatchIsNotCached(t *testing.T) {
	ctx := context.Background()
	r, fx := newResolverFixture(OrderAggregatorFirst)
	fx.aggregator.pairs["CAKE"] = []Pair{pair("bsc", "0xcake", 5_000_000, 500_000)}

	res := r.Resolve(ctx, "CAKE", i64(5_000_000))

	assert.Equal(t, "0xcake", res.ContractAddress)
	assert.Equal(t, models.ChainBNB, res.Chain)
	_, ok, err := fx.cache.Lookup(ctx, "CAKE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolver_NoMarketCapSkipsAggregator(t *testing.T) {
	ctx := context.Background()
	r, fx := newResolverFixture(OrderAggregatorFirst)
	fx.scanner.mints["WIF"] = bonkMint

	res := r.Resolve(ctx, "WIF", nil)

	assert.Equal(t, bonkMint, res.ContractAddress)
	assert.Equal(t, models.SourceHelius, res.Source)
	assert.Zero(t, fx.aggregator.calls())
	assert.Equal(t, 1, res.ScannerHits)

	res = r.Resolve(ctx, "OTHER", i64(0))
	assert.False(t, res.Found())
	assert.Zero(t, fx.aggregator.calls())
}

func TestResolver_AggregatorFailureFallsThroughToScanner(t *testing.T) {
	ctx := context.Background()
	r, fx := newResolverFixture(OrderAggregatorFirst)
	fx.aggregator.err = errUpstream
	fx.scanner.mints["KLED"] = bonkMint

	res := r.Resolve(ctx, "KLED", i64(31_200_000))

	assert.Equal(t, bonkMint, res.ContractAddress)
	assert.Equal(t, models.SourceHelius, res.Source)
	assert.Equal(t, 1, res.AggregatorHits)
	assert.Equal(t, 1, res.ScannerHits)
}

func TestResolver_ScannerFirstOrder(t *testing.T) {
	ctx := context.Background()
	r, fx := newResolverFixture(OrderScannerFirst)
	fx.aggregator.pairs["KLED"] = []Pair{pair("solana", "fromAggregator", 30_800_000, 2_000_000)}
	fx.scanner.mints["KLED"] = "fromScanner"

	res := r.Resolve(ctx, "KLED", i64(31_200_000))

	assert.Equal(t, "fromScanner", res.ContractAddress)
	assert.Zero(t, fx.aggregator.calls())
}

func TestResolver_NothingFound(t *testing.T) {
	ctx := context.Background()
	r, fx := newResolverFixture(OrderAggregatorFirst)
	fx.aggregator.pairs["KLED"] = []Pair{pair("solana", "far", 500_000_000, 50_000_000)}
	fx.scanner.err = errUpstream

	res := r.Resolve(ctx, "KLED", i64(31_200_000))

	assert.False(t, res.Found())
	assert.Equal(t, models.ContractAddressSource(0), res.Source)
	assert.Equal(t, 1, res.CacheHits)
	assert.Equal(t, 1, res.AggregatorHits)
	assert.Equal(t, 1, res.ScannerHits)

	stages := make([]string, 0, len(fx.attempts.attempts))
	for _, a := range fx.attempts.attempts {
		stages = append(stages, a.Stage)
		assert.False(t, a.Found)
	}
	assert.Equal(t, []string{StageCache, StageAggregator, StageScanner}, stages)
	assert.Equal(t, errUpstream.Error(), fx.attempts.attempts[2].Err)
}

func TestResolver_ResolveForRetrySkipsCache(t *testing.T) {
	ctx := context.Background()
	r, fx := newResolverFixture(OrderScannerFirst)
	require.NoError(t, fx.cache.Put(ctx, "KLED", "stale", nil))
	fx.aggregator.pairs["KLED"] = []Pair{pair("solana", "fresh", 30_800_000, 2_000_000)}
	fx.scanner.mints["KLED"] = "scanned"

	res := r.ResolveForRetry(ctx, "KLED", i64(31_200_000))

	assert.Equal(t, "fresh", res.ContractAddress)
	assert.Zero(t, res.CacheHits)
	assert.Zero(t, fx.scanner.calls(), "retry tries the aggregator first regardless of order")
	for _, a := range fx.attempts.attempts {
		assert.True(t, a.Retry)
	}
}

func TestResolver_EmptyTicker(t *testing.T) {
	r, fx := newResolverFixture(OrderAggregatorFirst)
	res := r.Resolve(context.Background(), "", i64(1_000_000))
	assert.False(t, res.Found())
	assert.Zero(t, fx.aggregator.calls())
	assert.Zero(t, fx.scanner.calls())
}

func TestParseResolutionOrder(t *testing.T) {
	assert.Equal(t, OrderScannerFirst, ParseResolutionOrder("scanner_first"))
	assert.Equal(t, OrderAggregatorFirst, ParseResolutionOrder("aggregator_first"))
	assert.Equal(t, OrderAggregatorFirst, ParseResolutionOrder(""))
	assert.Equal(t, OrderAggregatorFirst, ParseResolutionOrder("bogus"))
}
