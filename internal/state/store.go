package state

import (
	"context"
	"time"

	"defi-agent-engine/internal/config"
)

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ExecutionResult is the record persisted after every agent execution,
// successful or not.
type ExecutionResult struct {
	AgentID     string        `json:"agent_id"`
	AgentName   string        `json:"agent_name"`
	Strategy    string        `json:"strategy"`
	DecisionID  string        `json:"decision_id"`
	Action      string        `json:"action"`
	TxID        string        `json:"tx_id,omitempty"`
	Status      string        `json:"status"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	RealizedUSD float64       `json:"realized_usd"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// RecordStore is the persistent record boundary. Failures here are logged and
// skipped by callers; they must never block scheduling.
type RecordStore interface {
	SaveExecutionResult(ctx context.Context, result ExecutionResult) error
	SaveAgentConfig(ctx context.Context, cfg config.AgentConfig) error
	LoadAgentConfigs(ctx context.Context) ([]config.AgentConfig, error)
}
