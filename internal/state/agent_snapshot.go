package state

import (
	"context"
	"encoding/json"
	"strings"
)

const agentSnapshotPrefix = "agent:snapshot:"

// AgentSnapshot preserves per-agent counters across process restarts so a
// restarted engine does not forget failure streaks or lifetime performance.
type AgentSnapshot struct {
	State               string  `json:"state"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	ExecutionCount      int64   `json:"execution_count"`
	SuccessCount        int64   `json:"success_count"`
	TotalRealizedUSD    float64 `json:"total_realized_usd"`
	LastRunAtMS         int64   `json:"last_run_at_ms"`
}

func LoadAgentSnapshot(ctx context.Context, store Store, agentName string) (AgentSnapshot, bool, error) {
	if store == nil {
		return AgentSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, agentSnapshotPrefix+agentName)
	if err != nil {
		return AgentSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return AgentSnapshot{}, false, nil
	}
	var snapshot AgentSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return AgentSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveAgentSnapshot(ctx context.Context, store Store, agentName string, snapshot AgentSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, agentSnapshotPrefix+agentName, string(payload))
}
