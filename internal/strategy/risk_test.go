package strategy

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"defi-agent-engine/internal/config"
)

type fakeStats struct {
	vol  map[string]float64
	corr map[string]float64
}

func (f *fakeStats) Volatility(asset string) (float64, bool) {
	v, ok := f.vol[asset]
	return v, ok
}

func (f *fakeStats) Correlation(a, b string) (float64, bool) {
	if b < a {
		a, b = b, a
	}
	c, ok := f.corr[a+"/"+b]
	return c, ok
}

func riskCfg() config.RiskConfig {
	return config.RiskConfig{
		MaxAllocationPct: 25,
		MaxCorrelation:   0.70,
		Confidence:       0.95,
	}
}

func balancedPositions() []Position {
	return []Position{
		{Asset: "ETH", ValueUSD: 25_000},
		{Asset: "BTC", ValueUSD: 25_000},
		{Asset: "USDC", ValueUSD: 25_000},
		{Asset: "SOL", ValueUSD: 25_000},
	}
}

func TestAssessRiskScoreBounds(t *testing.T) {
	stats := &fakeStats{
		vol:  map[string]float64{"ETH": 0.85, "BTC": 0.70, "USDC": 0.01, "SOL": 1.20},
		corr: map[string]float64{"BTC/ETH": 0.92, "ETH/SOL": 0.88, "BTC/SOL": 0.80},
	}
	cases := [][]Position{
		balancedPositions(),
		{{Asset: "SOL", ValueUSD: 100_000}},
		{{Asset: "USDC", ValueUSD: 100_000}},
	}
	for i, positions := range cases {
		assessment := AssessRisk(positions, stats, riskCfg(), time.Now())
		if assessment.RiskScore < 0 || assessment.RiskScore > 100 {
			t.Fatalf("case %d: score %.2f outside [0,100]", i, assessment.RiskScore)
		}
		if assessment.DiversificationScore < 0 || assessment.DiversificationScore > 100 {
			t.Fatalf("case %d: diversification %.2f outside [0,100]", i, assessment.DiversificationScore)
		}
	}
}

func TestAssessRiskLevels(t *testing.T) {
	cases := []struct {
		score float64
		want  RiskLevel
	}{
		{0, RiskLow}, {29.9, RiskLow},
		{30, RiskMedium}, {69.9, RiskMedium},
		{70, RiskHigh}, {100, RiskHigh},
	}
	for _, tc := range cases {
		if got := riskLevelFor(tc.score); got != tc.want {
			t.Fatalf("score %.1f: level %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestAssessRiskConcentrationFlag(t *testing.T) {
	positions := []Position{
		{Asset: "ETH", ValueUSD: 45_000},
		{Asset: "BTC", ValueUSD: 20_000},
		{Asset: "USDC", ValueUSD: 35_000},
	}
	stats := &fakeStats{vol: map[string]float64{"ETH": 0.85, "BTC": 0.70, "USDC": 0.01}}
	assessment := AssessRisk(positions, stats, riskCfg(), time.Now())

	var ethFlag *ConcentrationFlag
	for i := range assessment.Concentration {
		if assessment.Concentration[i].Asset == "ETH" {
			ethFlag = &assessment.Concentration[i]
		}
	}
	if ethFlag == nil {
		t.Fatal("ETH at 45% is not flagged against a 25% maximum")
	}
	if ethFlag.Severity != RiskHigh {
		t.Fatalf("ETH flag severity %s, want HIGH", ethFlag.Severity)
	}
	found := false
	for _, alert := range assessment.Alerts {
		if strings.Contains(alert, "ETH") && strings.Contains(alert, "reduce") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no reduction alert for ETH in %v", assessment.Alerts)
	}
}

func TestAssessRiskCorrelationFlag(t *testing.T) {
	stats := &fakeStats{
		vol:  map[string]float64{"ETH": 0.85, "BTC": 0.70, "USDC": 0.01, "SOL": 1.20},
		corr: map[string]float64{"BTC/ETH": 0.92, "BTC/USDC": 0.10, "ETH/USDC": 0.05},
	}
	assessment := AssessRisk(balancedPositions(), stats, riskCfg(), time.Now())
	if len(assessment.CorrelationFlags) != 1 {
		t.Fatalf("got %d correlation flags, want 1", len(assessment.CorrelationFlags))
	}
	flag := assessment.CorrelationFlags[0]
	if flag.AssetA != "BTC" || flag.AssetB != "ETH" {
		t.Fatalf("flagged %s/%s, want BTC/ETH", flag.AssetA, flag.AssetB)
	}
	if flag.Coefficient != 0.92 {
		t.Fatalf("coefficient %.2f, want 0.92", flag.Coefficient)
	}
}

func TestAssessRiskValueAtRisk(t *testing.T) {
	positions := []Position{{Asset: "ETH", ValueUSD: 100_000}}
	stats := &fakeStats{vol: map[string]float64{"ETH": 0.80}}
	assessment := AssessRisk(positions, stats, riskCfg(), time.Now())

	wantDaily := 100_000 * 0.80 * 1.645 / math.Sqrt(252)
	if math.Abs(assessment.ValueAtRisk.Daily-wantDaily) > 1e-6 {
		t.Fatalf("daily VaR %.4f, want %.4f", assessment.ValueAtRisk.Daily, wantDaily)
	}
	if math.Abs(assessment.ValueAtRisk.Weekly-wantDaily*math.Sqrt(7)) > 1e-6 {
		t.Fatalf("weekly VaR %.4f, want daily*sqrt(7)", assessment.ValueAtRisk.Weekly)
	}
	if math.Abs(assessment.ValueAtRisk.Monthly-wantDaily*math.Sqrt(30)) > 1e-6 {
		t.Fatalf("monthly VaR %.4f, want daily*sqrt(30)", assessment.ValueAtRisk.Monthly)
	}

	cfg := riskCfg()
	cfg.Confidence = 0.99
	stricter := AssessRisk(positions, stats, cfg, time.Now())
	if stricter.ValueAtRisk.Daily <= assessment.ValueAtRisk.Daily {
		t.Fatalf("99%% VaR %.4f not above 95%% VaR %.4f", stricter.ValueAtRisk.Daily, assessment.ValueAtRisk.Daily)
	}
}

func TestAssessRiskEmptyPortfolio(t *testing.T) {
	assessment := AssessRisk(nil, &fakeStats{}, riskCfg(), time.Now())
	if assessment.RiskLevel != RiskLow {
		t.Fatalf("level %s for empty portfolio, want LOW", assessment.RiskLevel)
	}
	if assessment.RiskScore != 0 {
		t.Fatalf("score %.2f for empty portfolio, want 0", assessment.RiskScore)
	}
}

type fakePortfolio struct {
	positions []Position
	err       error
}

func (f *fakePortfolio) GetPositions(_ context.Context, _ string) ([]Position, error) {
	return f.positions, f.err
}

func TestRiskDecideCarriesAssessment(t *testing.T) {
	stats := &fakeStats{vol: map[string]float64{"ETH": 0.85, "BTC": 0.70, "USDC": 0.01, "SOL": 1.20}}
	r := NewRisk(riskCfg(), "0xabc", &fakePortfolio{positions: balancedPositions()}, stats)
	decision, err := r.Decide(context.Background())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Assessment == nil {
		t.Fatal("decision is missing the assessment")
	}
	if decision.Plan != nil {
		t.Fatalf("risk agent emitted a plan: %+v", decision.Plan)
	}
	if decision.Assessment.PortfolioValueUSD != 100_000 {
		t.Fatalf("portfolio value %.2f, want 100000", decision.Assessment.PortfolioValueUSD)
	}
}
