package service

import (
	"math"

	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
)

// Pillar weights of the base total.
const (
	revenueWeight  = 0.30
	marketWeight   = 0.25
	networkWeight  = 0.25
	vitalityWeight = 0.20
)

// Absolute thresholds. Agents are scored against these, never against each other.
const (
	feeTargetETH    = 0.5
	volumeTargetETH = 1.0
	mcapTargetETH   = 2.0
	priceSwingPct   = 50.0
	onboardTarget   = 5.0
)

type PowerScorer struct{}

func NewPowerScorer() domain.PowerScorer {
	return &PowerScorer{}
}

// Score implements domain.PowerScorer.
func (p *PowerScorer) Score(agent *domain.Agent, goalWeight float64, goalScore int) domain.PowerScore {
	return ComputePowerScore(agent, goalWeight, goalScore)
}

// ComputePowerScore scores an agent on four pillars and optionally blends the
// result toward goalScore by goalWeight. The reported pillars are never blended.
func ComputePowerScore(agent *domain.Agent, goalWeight float64, goalScore int) domain.PowerScore {
	if agent == nil {
		return domain.PowerScore{}
	}

	revenue := revenuePillar(agent)
	market := marketPillar(agent)
	network := networkPillar(agent)
	vitality := vitalityPillar(agent)

	total := revenue*revenueWeight + market*marketWeight + network*networkWeight + vitality*vitalityWeight
	base := clampInt(round(total), 0, 100)

	// blending starts from the rounded base
	w := clamp(finite(goalWeight), 0, 1)
	if w > 0 {
		base = clampInt(round(float64(base)*(1-w)+float64(clampInt(goalScore, 0, 100))*w), 0, 100)
	}

	return domain.PowerScore{
		Total:    base,
		Revenue:  round(revenue),
		Market:   round(market),
		Network:  round(network),
		Vitality: round(vitality),
	}
}

// ComputeOnboardGoalScore maps an onboard count onto a concave 0-100 curve
// that saturates at five onboards.
func ComputeOnboardGoalScore(onboards int) int {
	if onboards <= 0 {
		return 0
	}
	return min(100, round(math.Sqrt(float64(onboards)/onboardTarget)*100))
}

func revenuePillar(a *domain.Agent) float64 {
	fee := math.Min(60, nonNegative(a.ClaimableETH)/feeTargetETH*60)
	vol := math.Min(40, nonNegative(a.Volume24hETH)/volumeTargetETH*40)
	return math.Min(100, fee+vol)
}

func marketPillar(a *domain.Agent) float64 {
	mcap := math.Min(60, nonNegative(a.MarketCapETH)/mcapTargetETH*60)
	pct := (clamp(finite(a.PriceChange24h), -priceSwingPct, priceSwingPct) + priceSwingPct) / (2 * priceSwingPct) * 40
	return math.Min(100, mcap+pct)
}

func networkPillar(a *domain.Agent) float64 {
	holders := math.Min(60, float64(max(a.Holders, 0))*12)
	cross := math.Min(40, float64(max(a.CrossHoldings, 0))*20)
	return math.Min(100, holders+cross)
}

func vitalityPillar(a *domain.Agent) float64 {
	swaps := math.Min(30, float64(max(a.RecentSwaps, 0))*6)

	var wallet float64
	switch balance := finite(a.WalletETH); {
	case balance >= 0.05:
		wallet = 25
	case balance >= 0.01:
		wallet = 18
	case balance > 0.001:
		wallet = 10
	}

	var setup float64
	if a.Description != "" {
		setup = 5
	}

	cross := math.Min(20, float64(max(a.CrossTradeCount, 0))*7)
	memos := math.Min(20, float64(max(a.MemoCount, 0))*10)
	return math.Min(100, swaps+wallet+setup+cross+memos)
}

// round is half-up rounding for the non-negative values scores deal in.
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

func nonNegative(x float64) float64 {
	return math.Max(0, finite(x))
}
