package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"defi-agent-engine/internal/config"
)

// Rebalance compares current holdings against a target allocation map and
// plans the trades that close the gap.
type Rebalance struct {
	cfg       config.RebalanceConfig
	account   string
	portfolio PortfolioData

	mu            sync.Mutex
	lastRebalance time.Time
}

func NewRebalance(cfg config.RebalanceConfig, account string, portfolio PortfolioData) *Rebalance {
	return &Rebalance{cfg: cfg, account: account, portfolio: portfolio, lastRebalance: time.Now().UTC()}
}

func (r *Rebalance) Decide(ctx context.Context) (*Decision, error) {
	positions, err := r.portfolio.GetPositions(ctx, r.account)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	last := r.lastRebalance
	r.mu.Unlock()

	now := time.Now().UTC()
	plan, maxDeviation := PlanRebalance(positions, last, now, r.cfg)
	if plan == nil || len(plan.Steps) == 0 {
		return &Decision{Summary: fmt.Sprintf("no rebalance needed, max deviation %.2f%%", maxDeviation)}, nil
	}
	return &Decision{
		Plan:    plan,
		Summary: fmt.Sprintf("rebalance: %d steps, max deviation %.2f%%", len(plan.Steps), maxDeviation),
	}, nil
}

// PlanCommitted advances the staleness clock. It is only called once a
// planned rebalance completed, so a failed submission leaves the clock where
// it was and the trigger fires again on the next run.
func (r *Rebalance) PlanCommitted(at time.Time) {
	r.mu.Lock()
	r.lastRebalance = at
	r.mu.Unlock()
}

// PlanRebalance returns a nil plan when neither the deviation threshold nor
// the staleness window is breached; that is the common case, not an error.
// Applying the returned plan brings every asset within the threshold, so an
// immediate re-run yields zero steps.
func PlanRebalance(positions []Position, lastRebalance, now time.Time, cfg config.RebalanceConfig) (*ActionPlan, float64) {
	var totalValue float64
	current := make(map[string]float64)
	for _, pos := range positions {
		totalValue += pos.ValueUSD
	}
	if totalValue <= 0 {
		return nil, 0
	}
	for _, pos := range positions {
		current[pos.Asset] += pos.ValueUSD / totalValue * 100
	}

	assets := make(map[string]struct{}, len(current)+len(cfg.TargetAlloc))
	for asset := range current {
		assets[asset] = struct{}{}
	}
	for asset := range cfg.TargetAlloc {
		assets[asset] = struct{}{}
	}

	type deviation struct {
		asset string
		pct   float64
	}
	var deviations []deviation
	maxDeviation := 0.0
	for asset := range assets {
		dev := current[asset] - cfg.TargetAlloc[asset]
		deviations = append(deviations, deviation{asset: asset, pct: dev})
		if math.Abs(dev) > maxDeviation {
			maxDeviation = math.Abs(dev)
		}
	}

	stale := !lastRebalance.IsZero() && now.Sub(lastRebalance) > cfg.MaxAge
	if maxDeviation <= cfg.ThresholdPct && !stale {
		return nil, maxDeviation
	}

	sort.Slice(deviations, func(i, j int) bool {
		if deviations[i].pct != deviations[j].pct {
			return deviations[i].pct > deviations[j].pct
		}
		return deviations[i].asset < deviations[j].asset
	})

	plan := &ActionPlan{}
	priority := 1
	var turnover float64
	// Sells come out first so the buys are funded.
	for _, dev := range deviations {
		if dev.pct <= 0 {
			continue
		}
		amount := dev.pct / 100 * totalValue
		if amount < cfg.MinTradeUSD {
			continue
		}
		plan.Steps = append(plan.Steps, ActionStep{Action: ActionSell, Asset: dev.asset, AmountUSD: amount, Priority: priority})
		priority++
		turnover += amount
	}
	for i := len(deviations) - 1; i >= 0; i-- {
		dev := deviations[i]
		if dev.pct >= 0 {
			continue
		}
		amount := -dev.pct / 100 * totalValue
		if amount < cfg.MinTradeUSD {
			continue
		}
		plan.Steps = append(plan.Steps, ActionStep{Action: ActionBuy, Asset: dev.asset, AmountUSD: amount, Priority: priority})
		priority++
		turnover += amount
	}
	if len(plan.Steps) == 0 {
		return nil, maxDeviation
	}
	for _, step := range plan.Steps {
		plan.EstimatedCost += estimateTradeCost(step.AmountUSD)
	}
	plan.EstimatedBenefit = turnover
	return plan, maxDeviation
}

const flatGasUSD = 15.0

func estimateTradeCost(amountUSD float64) float64 {
	return flatGasUSD + amountUSD*slippagePct(amountUSD)/100
}

func slippagePct(amountUSD float64) float64 {
	switch {
	case amountUSD < 100:
		return 0.1
	case amountUSD < 1_000:
		return 0.3
	case amountUSD < 10_000:
		return 0.5
	default:
		return 1.0
	}
}
