package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"defi-agent-engine/internal/config"
	"defi-agent-engine/internal/state"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS agent_configs (
			name TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			config TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS execution_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			strategy TEXT NOT NULL,
			decision_id TEXT NOT NULL,
			action TEXT NOT NULL,
			tx_id TEXT,
			status TEXT NOT NULL,
			error_kind TEXT,
			error TEXT,
			realized_usd REAL NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_results_agent ON execution_results (agent_id, started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Store) SaveExecutionResult(ctx context.Context, result state.ExecutionResult) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO execution_results
		(agent_id, agent_name, strategy, decision_id, action, tx_id, status, error_kind, error, realized_usd, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.AgentID,
		result.AgentName,
		result.Strategy,
		result.DecisionID,
		result.Action,
		result.TxID,
		result.Status,
		result.ErrorKind,
		result.Error,
		result.RealizedUSD,
		result.StartedAt.UnixMilli(),
		result.Duration.Milliseconds(),
	)
	return err
}

func (s *Store) SaveAgentConfig(ctx context.Context, cfg config.AgentConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO agent_configs (name, strategy, config, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET strategy = excluded.strategy, config = excluded.config, updated_at = excluded.updated_at`,
		cfg.Name, cfg.Strategy, string(payload), time.Now().UnixMilli())
	return err
}

func (s *Store) LoadAgentConfigs(ctx context.Context) ([]config.AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config FROM agent_configs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var configs []config.AgentConfig
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var cfg config.AgentConfig
		if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
