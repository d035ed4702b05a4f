package strategy

import (
	"context"
	"fmt"
	"sort"

	"defi-agent-engine/internal/config"
)

// Yield ranks yield-bearing opportunities by risk-adjusted return and
// produces a capital allocation.
type Yield struct {
	cfg  config.YieldConfig
	data YieldData
}

func NewYield(cfg config.YieldConfig, data YieldData) *Yield {
	return &Yield{cfg: cfg, data: data}
}

func (y *Yield) Decide(ctx context.Context) (*Decision, error) {
	opportunities, err := y.data.GetYieldOpportunities(ctx)
	if err != nil {
		return nil, err
	}
	allocation := OptimizeYield(opportunities, y.cfg)
	if len(allocation.Positions) == 0 {
		return &Decision{Summary: "no yield opportunity clears the risk-adjusted threshold", Allocation: &allocation}, nil
	}
	plan := &ActionPlan{EstimatedBenefit: allocation.BlendedAPY * y.cfg.CapitalUSD}
	for i, pos := range allocation.Positions {
		plan.Steps = append(plan.Steps, ActionStep{
			Action:    ActionBuy,
			Asset:     pos.Protocol + ":" + pos.Asset,
			AmountUSD: pos.AmountUSD,
			Priority:  i + 1,
		})
	}
	summary := fmt.Sprintf("yield allocation across %d positions, blended APY %.2f%%",
		len(allocation.Positions), allocation.BlendedAPY*100)
	return &Decision{Plan: plan, Summary: summary, Allocation: &allocation}, nil
}

// rank-1 weight of the decreasing-weight allocation scheme
const leadWeight = 0.40

// OptimizeYield scores, filters and ranks opportunities, then allocates 40%
// of capital to the top rank and splits the rest evenly across up to four
// more. An empty result means nothing cleared the threshold; callers must
// treat that as a valid outcome, not force a pick.
func OptimizeYield(opportunities []YieldOpportunity, cfg config.YieldConfig) YieldAllocation {
	maxRisk := maxAcceptableRisk(cfg.RiskTolerance)
	type scored struct {
		opp          YieldOpportunity
		risk         float64
		riskAdjusted float64
	}
	var candidates []scored
	for _, opp := range opportunities {
		if opp.APY <= 0 {
			continue
		}
		risk := YieldRiskScore(opp)
		if risk > maxRisk {
			continue
		}
		riskAdjusted := opp.APY * 100 / risk
		if riskAdjusted < cfg.MinRiskAdjustedReturn {
			continue
		}
		candidates = append(candidates, scored{opp: opp, risk: risk, riskAdjusted: riskAdjusted})
	}
	if len(candidates) == 0 {
		return YieldAllocation{}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].riskAdjusted != candidates[j].riskAdjusted {
			return candidates[i].riskAdjusted > candidates[j].riskAdjusted
		}
		if candidates[i].opp.Protocol != candidates[j].opp.Protocol {
			return candidates[i].opp.Protocol < candidates[j].opp.Protocol
		}
		return candidates[i].opp.Asset < candidates[j].opp.Asset
	})

	maxPositions := cfg.MaxPositions
	if maxPositions <= 0 {
		maxPositions = 5
	}
	if len(candidates) > maxPositions {
		candidates = candidates[:maxPositions]
	}

	weights := allocationWeights(len(candidates))
	allocation := YieldAllocation{}
	var blended float64
	for i, cand := range candidates {
		pct := weights[i] * 100
		allocation.Positions = append(allocation.Positions, YieldPosition{
			Protocol:      cand.opp.Protocol,
			Asset:         cand.opp.Asset,
			AllocationPct: pct,
			AmountUSD:     cfg.CapitalUSD * weights[i],
			APY:           cand.opp.APY,
			RiskScore:     cand.risk,
		})
		blended += cand.opp.APY * weights[i]
	}
	allocation.BlendedAPY = blended
	return allocation
}

// YieldRiskScore maps an opportunity onto [1,100]. Thin TVL raises the score,
// and APY beyond 20% is penalized as likely unsustainable.
func YieldRiskScore(opp YieldOpportunity) float64 {
	score := 10.0
	switch {
	case opp.TVLUSD >= 100_000_000:
	case opp.TVLUSD >= 10_000_000:
		score += 15
	case opp.TVLUSD >= 1_000_000:
		score += 30
	default:
		score += 50
	}
	if opp.APY > 0.20 {
		score += (opp.APY - 0.20) * 100
	}
	return clamp(score, 1, 100)
}

func maxAcceptableRisk(tolerance float64) float64 {
	return clamp(20+60*clamp(tolerance, 0, 1), 20, 80)
}

func allocationWeights(n int) []float64 {
	if n == 1 {
		return []float64{1}
	}
	weights := make([]float64, n)
	weights[0] = leadWeight
	rest := (1 - leadWeight) / float64(n-1)
	for i := 1; i < n; i++ {
		weights[i] = rest
	}
	return weights
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
