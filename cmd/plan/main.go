package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"defi-agent-engine/internal/config"
	"defi-agent-engine/internal/gateway"
	"defi-agent-engine/internal/logging"
	"defi-agent-engine/internal/strategy"

	"go.uber.org/zap"
)

// plan runs every configured agent's decision step once against live gateway
// data and prints the result, without touching the ledger. Useful for
// validating a config change before deploying it.

type planOutput struct {
	Agent      string                    `json:"agent"`
	Strategy   string                    `json:"strategy"`
	Summary    string                    `json:"summary,omitempty"`
	Plan       *strategy.ActionPlan      `json:"plan,omitempty"`
	Assessment *strategy.RiskAssessment  `json:"assessment,omitempty"`
	Allocation *strategy.YieldAllocation `json:"allocation,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	agentName := flag.String("agent", "", "only evaluate this agent")
	timeout := flag.Duration("timeout", 30*time.Second, "per-agent decision timeout")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)

	client := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout, log)
	stats := gateway.NewStats(client, log)
	refreshCtx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.Timeout)
	if err := stats.Refresh(refreshCtx); err != nil {
		log.Warn("asset stats refresh failed, using defaults", zap.Error(err))
	}
	cancel()

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	for _, agentCfg := range cfg.Agents {
		if *agentName != "" && agentCfg.Name != *agentName {
			continue
		}
		out := planOutput{Agent: agentCfg.Name, Strategy: agentCfg.Strategy}
		decider, err := buildDecider(agentCfg, cfg, client, stats)
		if err != nil {
			out.Error = err.Error()
			_ = encoder.Encode(out)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		decision, err := decider.Decide(ctx)
		cancel()
		if err != nil {
			out.Error = err.Error()
		} else if decision != nil {
			out.Summary = decision.Summary
			out.Plan = decision.Plan
			out.Assessment = decision.Assessment
			out.Allocation = decision.Allocation
		}
		_ = encoder.Encode(out)
	}
}

func buildDecider(agentCfg config.AgentConfig, cfg *config.Config, client *gateway.Client, stats *gateway.Stats) (strategy.Decider, error) {
	switch agentCfg.Strategy {
	case "arbitrage":
		return strategy.NewArbitrage(agentCfg.Arbitrage, cfg.Gateway.Pairs, client), nil
	case "yield":
		return strategy.NewYield(agentCfg.Yield, client), nil
	case "risk":
		return strategy.NewRisk(agentCfg.Risk, agentCfg.Account, client, stats), nil
	case "rebalance":
		return strategy.NewRebalance(agentCfg.Rebalance, agentCfg.Account, client), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", agentCfg.Strategy)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
