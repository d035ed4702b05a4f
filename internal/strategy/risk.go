package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"defi-agent-engine/internal/config"
)

// Risk evaluates a position set and produces a portfolio risk assessment.
type Risk struct {
	cfg       config.RiskConfig
	account   string
	portfolio PortfolioData
	stats     AssetStats
}

func NewRisk(cfg config.RiskConfig, account string, portfolio PortfolioData, stats AssetStats) *Risk {
	return &Risk{cfg: cfg, account: account, portfolio: portfolio, stats: stats}
}

func (r *Risk) Decide(ctx context.Context) (*Decision, error) {
	positions, err := r.portfolio.GetPositions(ctx, r.account)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return &Decision{Summary: "no positions to assess"}, nil
	}
	assessment := AssessRisk(positions, r.stats, r.cfg, time.Now().UTC())
	summary := fmt.Sprintf("risk score %.1f (%s), daily VaR $%.2f, %d alerts",
		assessment.RiskScore, assessment.RiskLevel, assessment.ValueAtRisk.Daily, len(assessment.Alerts))
	return &Decision{Summary: summary, Assessment: &assessment}, nil
}

const (
	tradingDaysPerYear = 252
	zScore95           = 1.645
	zScore99           = 2.326
)

// AssessRisk computes volatility, concentration, correlation, parametric VaR
// and a composite score in [0,100] for a position set.
func AssessRisk(positions []Position, stats AssetStats, cfg config.RiskConfig, now time.Time) RiskAssessment {
	var totalValue float64
	for _, pos := range positions {
		totalValue += pos.ValueUSD
	}

	assessment := RiskAssessment{
		PortfolioValueUSD: totalValue,
		EvaluatedAt:       now,
	}
	if totalValue <= 0 {
		assessment.RiskLevel = RiskLow
		return assessment
	}

	sorted := append([]Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Asset < sorted[j].Asset })

	var volatility float64
	var hhi float64
	maxAlloc := 0.0
	maxAllocAsset := ""
	for _, pos := range sorted {
		weight := pos.ValueUSD / totalValue
		if vol, ok := stats.Volatility(pos.Asset); ok {
			volatility += vol * weight
		}
		alloc := weight * 100
		hhi += alloc * alloc
		if alloc > maxAlloc {
			maxAlloc = alloc
			maxAllocAsset = pos.Asset
		}
		switch {
		case alloc > cfg.MaxAllocationPct:
			assessment.Concentration = append(assessment.Concentration, ConcentrationFlag{
				Asset:         pos.Asset,
				AllocationPct: alloc,
				Severity:      RiskHigh,
			})
			assessment.Alerts = append(assessment.Alerts, fmt.Sprintf(
				"%s allocation %.1f%% exceeds %.1f%% maximum; reduce position by %.1f%% of portfolio",
				pos.Asset, alloc, cfg.MaxAllocationPct, alloc-cfg.MaxAllocationPct))
		case alloc >= 0.8*cfg.MaxAllocationPct:
			assessment.Concentration = append(assessment.Concentration, ConcentrationFlag{
				Asset:         pos.Asset,
				AllocationPct: alloc,
				Severity:      RiskMedium,
			})
			assessment.Alerts = append(assessment.Alerts, fmt.Sprintf(
				"%s allocation %.1f%% is approaching the %.1f%% maximum",
				pos.Asset, alloc, cfg.MaxAllocationPct))
		}
	}
	assessment.PortfolioVolatility = volatility
	assessment.DiversificationScore = clamp((1-hhi/10_000)*100, 0, 100)

	totalPairs := 0
	flaggedPairs := 0
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			coeff, ok := stats.Correlation(sorted[i].Asset, sorted[j].Asset)
			if !ok {
				continue
			}
			totalPairs++
			if coeff > cfg.MaxCorrelation {
				flaggedPairs++
				assessment.CorrelationFlags = append(assessment.CorrelationFlags, CorrelationFlag{
					AssetA:      sorted[i].Asset,
					AssetB:      sorted[j].Asset,
					Coefficient: coeff,
					Severity:    RiskHigh,
				})
				assessment.Alerts = append(assessment.Alerts, fmt.Sprintf(
					"%s/%s correlation %.2f above %.2f threshold; diversify one leg",
					sorted[i].Asset, sorted[j].Asset, coeff, cfg.MaxCorrelation))
			}
		}
	}

	z := zScore95
	if cfg.Confidence >= 0.99 {
		z = zScore99
	}
	daily := totalValue * volatility * z / math.Sqrt(tradingDaysPerYear)
	assessment.ValueAtRisk = ValueAtRisk{
		Daily:      daily,
		Weekly:     daily * math.Sqrt(7),
		Monthly:    daily * math.Sqrt(30),
		Confidence: cfg.Confidence,
	}

	volScore := clamp(volatility*100, 0, 100)
	concScore := 0.0
	if cfg.MaxAllocationPct > 0 {
		concScore = clamp(maxAlloc/cfg.MaxAllocationPct*50, 0, 100)
	}
	corrScore := 0.0
	if totalPairs > 0 {
		corrScore = 100 * float64(flaggedPairs) / float64(totalPairs)
	}
	// HHI doubles as the liquidity proxy: a portfolio crowded into few
	// assets unwinds worse than the same value spread out.
	liqScore := clamp(hhi/100, 0, 100)

	assessment.RiskScore = clamp(0.30*volScore+0.25*concScore+0.25*corrScore+0.20*liqScore, 0, 100)
	assessment.RiskLevel = riskLevelFor(assessment.RiskScore)
	if assessment.RiskLevel == RiskHigh && maxAllocAsset != "" {
		assessment.Alerts = append(assessment.Alerts, fmt.Sprintf(
			"composite risk %.1f is HIGH; largest holding %s at %.1f%% is the first candidate for reduction",
			assessment.RiskScore, maxAllocAsset, maxAlloc))
	}
	return assessment
}

func riskLevelFor(score float64) RiskLevel {
	switch {
	case score < 30:
		return RiskLow
	case score < 70:
		return RiskMedium
	default:
		return RiskHigh
	}
}
