package sqlite

import (
	"context"
	"testing"
	"time"

	"defi-agent-engine/internal/config"
	"defi-agent-engine/internal/state"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "key", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || val != "value" {
		t.Fatalf("unexpected value: %v (ok=%v)", val, ok)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestAgentConfigRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	cfg := config.AgentConfig{
		Name:     "arb-eth",
		Strategy: "arbitrage",
		Cadence:  30 * time.Second,
		Account:  "0xabc",
	}
	cfg.Arbitrage.MinProfitThreshold = 0.005
	if err := store.SaveAgentConfig(ctx, cfg); err != nil {
		t.Fatalf("save config failed: %v", err)
	}
	cfg.Cadence = time.Minute
	if err := store.SaveAgentConfig(ctx, cfg); err != nil {
		t.Fatalf("save config upsert failed: %v", err)
	}

	configs, err := store.LoadAgentConfigs(ctx)
	if err != nil {
		t.Fatalf("load configs failed: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 config, got %d", len(configs))
	}
	if configs[0].Cadence != time.Minute {
		t.Fatalf("expected upserted cadence 1m, got %s", configs[0].Cadence)
	}
	if configs[0].Arbitrage.MinProfitThreshold != 0.005 {
		t.Fatalf("arbitrage knobs not preserved: %+v", configs[0].Arbitrage)
	}
}

func TestSaveExecutionResult(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	result := state.ExecutionResult{
		AgentID:     "id-1",
		AgentName:   "arb-eth",
		Strategy:    "arbitrage",
		DecisionID:  "dec-1",
		Action:      "submitted",
		TxID:        "0xdeadbeef",
		Status:      "confirmed",
		RealizedUSD: 12.5,
		StartedAt:   time.Now(),
		Duration:    250 * time.Millisecond,
	}
	if err := store.SaveExecutionResult(ctx, result); err != nil {
		t.Fatalf("save execution result failed: %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution_results WHERE agent_id = ?`, "id-1").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}
