package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LoggingConfig    `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	State      StateConfig      `yaml:"state"`
	History    HistoryConfig    `yaml:"history"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Agents     []AgentConfig    `yaml:"agents"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type GatewayConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	Pairs          []string      `yaml:"pairs"`
}

type LedgerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Account string        `yaml:"account"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type SupervisorConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	BackoffCap       time.Duration `yaml:"backoff_cap"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

type AgentConfig struct {
	Name      string          `yaml:"name"`
	Strategy  string          `yaml:"strategy"`
	Cadence   time.Duration   `yaml:"cadence"`
	Account   string          `yaml:"account"`
	Arbitrage ArbitrageConfig `yaml:"arbitrage"`
	Yield     YieldConfig     `yaml:"yield"`
	Risk      RiskConfig      `yaml:"risk"`
	Rebalance RebalanceConfig `yaml:"rebalance"`
}

type ArbitrageConfig struct {
	MinProfitThreshold float64 `yaml:"min_profit_threshold"`
	MinLiquidityUSD    float64 `yaml:"min_liquidity_usd"`
	TradeSizeUSD       float64 `yaml:"trade_size_usd"`
	GasCostUSD         float64 `yaml:"gas_cost_usd"`
	TopK               int     `yaml:"top_k"`
}

type YieldConfig struct {
	RiskTolerance         float64 `yaml:"risk_tolerance"`
	MinRiskAdjustedReturn float64 `yaml:"min_risk_adjusted_return"`
	MaxPositions          int     `yaml:"max_positions"`
	CapitalUSD            float64 `yaml:"capital_usd"`
}

type RiskConfig struct {
	MaxAllocationPct float64 `yaml:"max_allocation_pct"`
	MaxCorrelation   float64 `yaml:"max_correlation"`
	Confidence       float64 `yaml:"confidence"`
}

type RebalanceConfig struct {
	ThresholdPct float64            `yaml:"threshold_pct"`
	MinTradeUSD  float64            `yaml:"min_trade_usd"`
	MaxAge       time.Duration      `yaml:"max_age"`
	TargetAlloc  map[string]float64 `yaml:"target_alloc"`
}

// AllocationEpsilon bounds rounding drift when allocation percentages are
// required to sum to 100.
const AllocationEpsilon = 0.01

var knownStrategies = map[string]struct{}{
	"arbitrage": {},
	"yield":     {},
	"risk":      {},
	"rebalance": {},
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Gateway.ReconnectDelay == 0 {
		cfg.Gateway.ReconnectDelay = 3 * time.Second
	}
	if cfg.Gateway.PingInterval == 0 {
		cfg.Gateway.PingInterval = 30 * time.Second
	}
	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = 15 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/agent-engine.db"
	}
	if cfg.History.Schema == "" {
		cfg.History.Schema = "public"
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = 256
	}
	if cfg.Supervisor.TickInterval == 0 {
		cfg.Supervisor.TickInterval = 5 * time.Second
	}
	if cfg.Supervisor.ExecutionTimeout == 0 {
		cfg.Supervisor.ExecutionTimeout = 120 * time.Second
	}
	if cfg.Supervisor.MaxRetries == 0 {
		cfg.Supervisor.MaxRetries = 3
	}
	if cfg.Supervisor.BackoffCap == 0 {
		cfg.Supervisor.BackoffCap = 30 * time.Minute
	}
	if cfg.Supervisor.ShutdownTimeout == 0 {
		cfg.Supervisor.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
	for i := range cfg.Agents {
		applyAgentDefaults(&cfg.Agents[i], cfg.Ledger.Account)
	}
}

func applyAgentDefaults(agent *AgentConfig, defaultAccount string) {
	agent.Strategy = strings.ToLower(strings.TrimSpace(agent.Strategy))
	if agent.Account == "" {
		agent.Account = defaultAccount
	}
	if agent.Arbitrage.MinProfitThreshold == 0 {
		agent.Arbitrage.MinProfitThreshold = 0.005
	}
	if agent.Arbitrage.MinLiquidityUSD == 0 {
		agent.Arbitrage.MinLiquidityUSD = 10_000
	}
	if agent.Arbitrage.TradeSizeUSD == 0 {
		agent.Arbitrage.TradeSizeUSD = 1_000
	}
	if agent.Arbitrage.TopK == 0 {
		agent.Arbitrage.TopK = 5
	}
	if agent.Yield.RiskTolerance == 0 {
		agent.Yield.RiskTolerance = 0.5
	}
	if agent.Yield.MaxPositions == 0 {
		agent.Yield.MaxPositions = 5
	}
	if agent.Risk.MaxAllocationPct == 0 {
		agent.Risk.MaxAllocationPct = 25
	}
	if agent.Risk.MaxCorrelation == 0 {
		agent.Risk.MaxCorrelation = 0.70
	}
	if agent.Risk.Confidence == 0 {
		agent.Risk.Confidence = 0.95
	}
	if agent.Rebalance.ThresholdPct == 0 {
		agent.Rebalance.ThresholdPct = 5
	}
	if agent.Rebalance.MinTradeUSD == 0 {
		agent.Rebalance.MinTradeUSD = 100
	}
	if agent.Rebalance.MaxAge == 0 {
		agent.Rebalance.MaxAge = 30 * 24 * time.Hour
	}
}

func validate(cfg *Config) error {
	if cfg.Gateway.BaseURL == "" {
		return errors.New("gateway.base_url is required")
	}
	if cfg.Ledger.BaseURL == "" {
		return errors.New("ledger.base_url is required")
	}
	if cfg.History.Enabled && strings.TrimSpace(cfg.History.DSN) == "" {
		return errors.New("history.dsn is required when history is enabled")
	}
	names := make(map[string]struct{}, len(cfg.Agents))
	for i := range cfg.Agents {
		if err := ValidateAgent(&cfg.Agents[i]); err != nil {
			return fmt.Errorf("agents[%d]: %w", i, err)
		}
		if _, dup := names[cfg.Agents[i].Name]; dup {
			return fmt.Errorf("agents[%d]: duplicate name %q", i, cfg.Agents[i].Name)
		}
		names[cfg.Agents[i].Name] = struct{}{}
	}
	return nil
}

// ValidateAgent checks a single agent config. The supervisor calls this for
// agents registered at runtime as well as for those loaded from the file.
func ValidateAgent(agent *AgentConfig) error {
	if agent.Name == "" {
		return errors.New("name is required")
	}
	if _, ok := knownStrategies[strings.ToLower(agent.Strategy)]; !ok {
		return fmt.Errorf("unknown strategy %q", agent.Strategy)
	}
	if agent.Cadence <= 0 {
		return errors.New("cadence must be > 0")
	}
	if agent.Strategy == "rebalance" {
		if len(agent.Rebalance.TargetAlloc) == 0 {
			return errors.New("rebalance.target_alloc is required")
		}
		var sum float64
		for asset, pct := range agent.Rebalance.TargetAlloc {
			if pct < 0 {
				return fmt.Errorf("rebalance.target_alloc[%s] must be >= 0", asset)
			}
			sum += pct
		}
		if math.Abs(sum-100) > AllocationEpsilon {
			return fmt.Errorf("rebalance.target_alloc must sum to 100, got %.4f", sum)
		}
	}
	return nil
}
