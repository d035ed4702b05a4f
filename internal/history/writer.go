package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"defi-agent-engine/internal/config"
	"defi-agent-engine/internal/state"
	"defi-agent-engine/internal/strategy"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// AssessmentRecord pairs a risk assessment with the agent that produced it.
type AssessmentRecord struct {
	AgentName  string
	Assessment strategy.RiskAssessment
}

// Writer streams execution results and risk assessments into Postgres from
// behind bounded queues. Enqueue never blocks the scheduling path; when the
// database falls behind, records are dropped and counted.
type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	schema      string
	executions  chan state.ExecutionResult
	assessments chan AssessmentRecord
	started     atomic.Bool
	dropExec    atomic.Uint64
	dropAssess  atomic.Uint64
}

func New(cfg config.HistoryConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("history dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:          db,
		log:         log,
		schema:      schema,
		executions:  make(chan state.ExecutionResult, queueSize),
		assessments: make(chan AssessmentRecord, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueExecution(result state.ExecutionResult) {
	if w == nil {
		return
	}
	select {
	case w.executions <- result:
		return
	default:
		if w.dropExec.Add(1) == 1 && w.log != nil {
			w.log.Warn("history execution queue full")
		}
	}
}

func (w *Writer) EnqueueAssessment(record AssessmentRecord) {
	if w == nil {
		return
	}
	select {
	case w.assessments <- record:
		return
	default:
		if w.dropAssess.Add(1) == 1 && w.log != nil {
			w.log.Warn("history assessment queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-w.executions:
			w.writeExecution(ctx, result)
		case record := <-w.assessments:
			w.writeAssessment(ctx, record)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("history db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		agent_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		strategy TEXT NOT NULL,
		decision_id TEXT NOT NULL,
		action TEXT NOT NULL,
		tx_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		realized_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL,
		PRIMARY KEY (ts, agent_name, decision_id)
	)`, w.table("execution_history"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		agent_name TEXT NOT NULL,
		portfolio_value_usd DOUBLE PRECISION NOT NULL,
		portfolio_volatility DOUBLE PRECISION NOT NULL,
		var_daily DOUBLE PRECISION NOT NULL,
		var_weekly DOUBLE PRECISION NOT NULL,
		var_monthly DOUBLE PRECISION NOT NULL,
		diversification_score DOUBLE PRECISION NOT NULL,
		risk_score DOUBLE PRECISION NOT NULL,
		risk_level TEXT NOT NULL,
		alerts INTEGER NOT NULL,
		PRIMARY KEY (ts, agent_name)
	)`, w.table("risk_assessments"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, tbl := range []string{"execution_history", "risk_assessments"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(tbl))); err != nil && w.log != nil {
			w.log.Warn("hypertable create failed", zap.String("table", tbl), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeExecution(ctx context.Context, result state.ExecutionResult) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, agent_id, agent_name, strategy, decision_id, action, tx_id, status, error_kind, error, realized_usd, duration_ms
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
	) ON CONFLICT (ts, agent_name, decision_id) DO NOTHING`, w.table("execution_history"))
	if _, err := w.db.ExecContext(ctx, query,
		result.StartedAt,
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
		result.Duration.Milliseconds(),
	); err != nil && w.log != nil {
		w.log.Warn("execution history insert failed", zap.Error(err))
	}
}

func (w *Writer) writeAssessment(ctx context.Context, record AssessmentRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	assessment := record.Assessment
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, agent_name, portfolio_value_usd, portfolio_volatility, var_daily, var_weekly, var_monthly,
		diversification_score, risk_score, risk_level, alerts
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
	) ON CONFLICT (ts, agent_name) DO NOTHING`, w.table("risk_assessments"))
	if _, err := w.db.ExecContext(ctx, query,
		assessment.EvaluatedAt,
		record.AgentName,
		assessment.PortfolioValueUSD,
		assessment.PortfolioVolatility,
		assessment.ValueAtRisk.Daily,
		assessment.ValueAtRisk.Weekly,
		assessment.ValueAtRisk.Monthly,
		assessment.DiversificationScore,
		assessment.RiskScore,
		string(assessment.RiskLevel),
		len(assessment.Alerts),
	); err != nil && w.log != nil {
		w.log.Warn("risk assessment insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
