package strategy

import (
	"context"
	"time"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// MarketSnapshot is one venue's latest quote for a pair. Immutable once
// produced by the gateway.
type MarketSnapshot struct {
	Venue        string
	BaseAsset    string
	QuoteAsset   string
	Price        float64
	LiquidityUSD float64
	ObservedAt   time.Time
}

func (s MarketSnapshot) PairKey() string {
	return s.BaseAsset + "/" + s.QuoteAsset
}

type Position struct {
	Asset         string
	Quantity      float64
	ValueUSD      float64
	AllocationPct float64
}

// Opportunity is an exploitable price discrepancy between two venues.
// Recomputed every tick, never persisted.
type Opportunity struct {
	PairKey            string
	BuyVenue           string
	SellVenue          string
	BuyPrice           float64
	SellPrice          float64
	SpreadPct          float64
	EstimatedNetProfit float64
}

type ActionStep struct {
	Action    Action
	Asset     string
	AmountUSD float64
	Priority  int
}

type ActionPlan struct {
	Steps            []ActionStep
	EstimatedCost    float64
	EstimatedBenefit float64
}

type YieldOpportunity struct {
	Protocol string
	Asset    string
	APY      float64
	TVLUSD   float64
}

type YieldPosition struct {
	Protocol      string
	Asset         string
	AllocationPct float64
	AmountUSD     float64
	APY           float64
	RiskScore     float64
}

// YieldAllocation is the optimizer's output. An empty Positions slice is the
// explicit "no allocation" outcome.
type YieldAllocation struct {
	Positions  []YieldPosition
	BlendedAPY float64
}

type ConcentrationFlag struct {
	Asset         string
	AllocationPct float64
	Severity      RiskLevel
}

type CorrelationFlag struct {
	AssetA      string
	AssetB      string
	Coefficient float64
	Severity    RiskLevel
}

type ValueAtRisk struct {
	Daily      float64
	Weekly     float64
	Monthly    float64
	Confidence float64
}

type RiskAssessment struct {
	PortfolioValueUSD    float64
	PortfolioVolatility  float64
	Concentration        []ConcentrationFlag
	CorrelationFlags     []CorrelationFlag
	ValueAtRisk          ValueAtRisk
	DiversificationScore float64
	RiskScore            float64
	RiskLevel            RiskLevel
	Alerts               []string
	EvaluatedAt          time.Time
}

// Decision is the uniform outcome of one agent evaluation. A nil Plan means
// no action; Assessment and Allocation carry strategy-specific reports.
type Decision struct {
	Plan       *ActionPlan
	Summary    string
	Assessment *RiskAssessment
	Allocation *YieldAllocation
}

type Decider interface {
	Decide(ctx context.Context) (*Decision, error)
}

// PlanCommitter is implemented by deciders that need to know when their last
// plan actually went through, as opposed to merely being proposed.
type PlanCommitter interface {
	PlanCommitted(at time.Time)
}

// Data boundaries consumed by deciders. The gateway implements all of them.

type MarketData interface {
	GetSnapshots(ctx context.Context, pairs []string) ([]MarketSnapshot, error)
}

type PortfolioData interface {
	GetPositions(ctx context.Context, account string) ([]Position, error)
}

type YieldData interface {
	GetYieldOpportunities(ctx context.Context) ([]YieldOpportunity, error)
}

type AssetStats interface {
	Volatility(asset string) (float64, bool)
	Correlation(a, b string) (float64, bool)
}
