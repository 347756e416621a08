package services

import (
	"math"
	"sort"
	"strings"

	"fomo-relay/agent/internal/models"
)

// ToleranceTier applies Percent to expected market caps below MaxMarketCap.
type ToleranceTier struct {
	MaxMarketCap float64
	Percent      float64
}

type CandidateFilter struct {
	Tiers             []ToleranceTier
	AllowedChains     []string
	MinLiquidityRatio float64 // percent of market cap
	MaxLiquidityRatio float64 // percent of market cap
	MinLiquidityUSD   float64
}

// DefaultCandidateFilter is the production filter.
func DefaultCandidateFilter() CandidateFilter {
	return CandidateFilter{
		Tiers: []ToleranceTier{
			{MaxMarketCap: 2_000_000, Percent: 500},
			{MaxMarketCap: 10_000_000, Percent: 300},
			{MaxMarketCap: 50_000_000, Percent: 200},
			{MaxMarketCap: math.MaxFloat64, Percent: 100},
		},
		AllowedChains:     []string{"solana", "bsc", "base"},
		MinLiquidityRatio: 5,
		MaxLiquidityRatio: 200,
		MinLiquidityUSD:   1000,
	}
}

// Candidate is a pair that passed every filter.
type Candidate struct {
	ContractAddress string
	Chain           models.Chain
	ChainID         string
	DexID           string
	MarketCap       float64
	LiquidityUSD    float64
	Score           float64
}

// CandidateResolver picks the pair most likely to be the alerted token.
type CandidateResolver struct {
	filter CandidateFilter
}

func NewCandidateResolver(filter CandidateFilter) *CandidateResolver {
	tiers := append([]ToleranceTier(nil), filter.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MaxMarketCap < tiers[j].MaxMarketCap })
	filter.Tiers = tiers
	return &CandidateResolver{filter: filter}
}

// TolerancePercent returns the tier percentage for an expected market cap.
func (r *CandidateResolver) TolerancePercent(expected float64) float64 {
	for _, tier := range r.filter.Tiers {
		if expected < tier.MaxMarketCap {
			return tier.Percent
		}
	}
	if n := len(r.filter.Tiers); n > 0 {
		return r.filter.Tiers[n-1].Percent
	}
	return 100
}

// ToleranceBand returns the inclusive market cap range accepted for expected.
func (r *CandidateResolver) ToleranceBand(expected float64) (lo, hi float64) {
	factor := 1 + r.TolerancePercent(expected)/100
	return expected / factor, expected * factor
}

// SelectBest filters pairs and returns the highest scoring one.
// Ties keep the earlier pair.
func (r *CandidateResolver) SelectBest(pairs []Pair, expected float64) (Candidate, bool) {
	if expected <= 0 {
		return Candidate{}, false
	}
	lo, hi := r.ToleranceBand(expected)

	var best Candidate
	found := false
	for _, p := range pairs {
		c, ok := r.evaluate(p, expected, lo, hi)
		if !ok {
			continue
		}
		if !found || c.Score > best.Score {
			best = c
			found = true
		}
	}
	return best, found
}

func (r *CandidateResolver) evaluate(p Pair, expected, lo, hi float64) (Candidate, bool) {
	if !r.chainAllowed(p.ChainID) {
		return Candidate{}, false
	}
	chain, ok := models.ChainFromDexID(p.ChainID)
	if !ok {
		return Candidate{}, false
	}
	if p.BaseToken.Address == "" || p.MarketCap == nil {
		return Candidate{}, false
	}
	liq, ok := p.LiquidityUSD()
	if !ok {
		return Candidate{}, false
	}

	mc := *p.MarketCap
	if mc < lo || mc > hi || mc <= 0 {
		return Candidate{}, false
	}

	ratio := liq / mc * 100
	if ratio < r.filter.MinLiquidityRatio || ratio > r.filter.MaxLiquidityRatio {
		return Candidate{}, false
	}
	if liq < r.filter.MinLiquidityUSD {
		return Candidate{}, false
	}

	return Candidate{
		ContractAddress: p.BaseToken.Address,
		Chain:           chain,
		ChainID:         p.ChainID,
		DexID:           p.DexID,
		MarketCap:       mc,
		LiquidityUSD:    liq,
		Score:           Score(mc, liq, expected),
	}, true
}

func (r *CandidateResolver) chainAllowed(chainID string) bool {
	for _, allowed := range r.filter.AllowedChains {
		if strings.EqualFold(allowed, chainID) {
			return true
		}
	}
	return false
}

// Score weights closeness to the expected market cap (70) over liquidity (30, log scale).
func Score(marketCap, liquidityUSD, expected float64) float64 {
	closeness := 1 / (1 + math.Abs(marketCap-expected)/expected)
	return 70*closeness + 30*math.Log10(liquidityUSD+1)
}
