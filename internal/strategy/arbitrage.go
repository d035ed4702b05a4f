package strategy

import (
	"context"
	"fmt"
	"sort"

	"defi-agent-engine/internal/config"
)

// Arbitrage scans multi-venue quotes for spreads wide enough to cover costs.
type Arbitrage struct {
	cfg   config.ArbitrageConfig
	pairs []string
	data  MarketData
}

func NewArbitrage(cfg config.ArbitrageConfig, pairs []string, data MarketData) *Arbitrage {
	return &Arbitrage{cfg: cfg, pairs: pairs, data: data}
}

func (a *Arbitrage) Decide(ctx context.Context) (*Decision, error) {
	snapshots, err := a.data.GetSnapshots(ctx, a.pairs)
	if err != nil {
		return nil, err
	}
	opportunities := DetectOpportunities(snapshots, a.cfg)
	if len(opportunities) == 0 {
		return &Decision{Summary: "no arbitrage opportunities"}, nil
	}
	best := opportunities[0]
	plan := &ActionPlan{
		Steps: []ActionStep{
			{Action: ActionBuy, Asset: best.PairKey, AmountUSD: a.cfg.TradeSizeUSD, Priority: 1},
			{Action: ActionSell, Asset: best.PairKey, AmountUSD: a.cfg.TradeSizeUSD, Priority: 2},
		},
		EstimatedCost:    a.cfg.GasCostUSD,
		EstimatedBenefit: best.EstimatedNetProfit,
	}
	summary := fmt.Sprintf("arbitrage %s: buy %s %.4f sell %s %.4f spread %.4f%% net $%.2f",
		best.PairKey, best.BuyVenue, best.BuyPrice, best.SellVenue, best.SellPrice,
		best.SpreadPct*100, best.EstimatedNetProfit)
	return &Decision{Plan: plan, Summary: summary}, nil
}

// DetectOpportunities groups snapshots by pair and compares every unordered
// pair of venues within a group. Output is fully determined by the input:
// identical snapshots always produce identical opportunities in the same
// order.
func DetectOpportunities(snapshots []MarketSnapshot, cfg config.ArbitrageConfig) []Opportunity {
	byPair := make(map[string][]MarketSnapshot)
	for _, snap := range snapshots {
		if snap.Price <= 0 {
			continue
		}
		key := snap.PairKey()
		byPair[key] = append(byPair[key], snap)
	}

	keys := make([]string, 0, len(byPair))
	for key := range byPair {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []Opportunity
	for _, key := range keys {
		group := byPair[key]
		sort.Slice(group, func(i, j int) bool { return group[i].Venue < group[j].Venue })
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				opp, ok := compareVenues(key, group[i], group[j], cfg)
				if ok {
					out = append(out, opp)
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EstimatedNetProfit != out[j].EstimatedNetProfit {
			return out[i].EstimatedNetProfit > out[j].EstimatedNetProfit
		}
		if out[i].PairKey != out[j].PairKey {
			return out[i].PairKey < out[j].PairKey
		}
		return out[i].BuyVenue < out[j].BuyVenue
	})
	if cfg.TopK > 0 && len(out) > cfg.TopK {
		out = out[:cfg.TopK]
	}
	return out
}

func compareVenues(pairKey string, a, b MarketSnapshot, cfg config.ArbitrageConfig) (Opportunity, bool) {
	if a.LiquidityUSD < cfg.MinLiquidityUSD || b.LiquidityUSD < cfg.MinLiquidityUSD {
		return Opportunity{}, false
	}
	low, high := a, b
	if low.Price > high.Price {
		low, high = high, low
	}
	avg := (low.Price + high.Price) / 2
	if avg <= 0 {
		return Opportunity{}, false
	}
	spread := (high.Price - low.Price) / avg
	if spread <= cfg.MinProfitThreshold {
		return Opportunity{}, false
	}
	net := spread*cfg.TradeSizeUSD - cfg.GasCostUSD
	if net <= 0 {
		return Opportunity{}, false
	}
	return Opportunity{
		PairKey:            pairKey,
		BuyVenue:           low.Venue,
		SellVenue:          high.Venue,
		BuyPrice:           low.Price,
		SellPrice:          high.Price,
		SpreadPct:          spread,
		EstimatedNetProfit: net,
	}, true
}
