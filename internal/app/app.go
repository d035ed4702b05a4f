package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"defi-agent-engine/internal/alerts"
	"defi-agent-engine/internal/config"
	"defi-agent-engine/internal/exec"
	"defi-agent-engine/internal/gateway"
	"defi-agent-engine/internal/history"
	"defi-agent-engine/internal/ledger"
	"defi-agent-engine/internal/metrics"
	"defi-agent-engine/internal/state"
	"defi-agent-engine/internal/state/sqlite"
	"defi-agent-engine/internal/strategy"
	"defi-agent-engine/internal/supervisor"
)

const statsRefreshInterval = 5 * time.Minute

// App wires the gateway, ledger, supervisor and the operator surfaces
// together and owns their lifecycle.
type App struct {
	cfg        *config.Config
	log        *zap.Logger
	metrics    *metrics.Metrics
	prom       *metrics.Prometheus
	store      *sqlite.Store
	gateway    *gateway.Client
	cache      *gateway.SnapshotCache
	feed       *gateway.Feed
	stats      *gateway.Stats
	ledger     *ledger.Client
	submitter  *exec.Submitter
	supervisor *supervisor.Supervisor
	history    *history.Writer
	alerts     *alerts.Telegram
	notifier   *alerts.Notifier

	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	} else {
		m = metrics.NewNoop()
	}

	gatewayClient := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout, log)
	cache := gateway.NewSnapshotCache(cfg.Gateway.Timeout)
	stats := gateway.NewStats(gatewayClient, log)
	var feed *gateway.Feed
	if cfg.Gateway.WSURL != "" {
		feed = gateway.NewFeed(cfg.Gateway.WSURL, cfg.Gateway.ReconnectDelay, cfg.Gateway.PingInterval, cache, log)
		feed.Subscribe(cfg.Gateway.Pairs...)
	}

	ledgerClient := ledger.NewClient(cfg.Ledger.BaseURL, cfg.Ledger.Timeout, log)
	submitter := exec.NewSubmitter(ledgerClient, store, m, cfg.Supervisor.MaxRetries, log)

	historyWriter, err := history.New(cfg.History, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	telegramClient := alerts.NewTelegram(cfg.Telegram, log)

	app := &App{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		prom:      prom,
		store:     store,
		gateway:   gatewayClient,
		cache:     cache,
		feed:      feed,
		stats:     stats,
		ledger:    ledgerClient,
		submitter: submitter,
		history:   historyWriter,
		alerts:    telegramClient,
		notifier:  alerts.NewNotifier(telegramClient, log),
	}

	bus := supervisor.NewEventBus(0, m.EventsDropped)
	app.supervisor = supervisor.New(cfg.Supervisor, store, bus, m, log,
		supervisor.WithRecordStore(app.recorder()),
		supervisor.WithSubmitter(submitter),
	)
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.history.Close()

	if err := a.registerAgents(ctx); err != nil {
		return err
	}

	if a.cfg.Metrics.Enabled {
		go a.serveMetrics(ctx)
	}
	if a.feed != nil {
		go func() {
			if err := a.feed.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("market feed stopped", zap.Error(err))
			}
		}()
	}
	go a.statsLoop(ctx)
	a.history.Start(ctx)

	if a.alerts.Enabled() {
		events := a.supervisor.Events().Subscribe()
		go a.notifier.Run(ctx, events)
	}
	a.startOperator(ctx)

	a.supervisor.Start(ctx)
	a.log.Info("engine started", zap.Int("agents", len(a.cfg.Agents)))

	<-ctx.Done()
	a.log.Info("shutting down")
	a.supervisor.Stop()
	return nil
}

func (a *App) registerAgents(ctx context.Context) error {
	for _, agentCfg := range a.cfg.Agents {
		decider, err := a.buildDecider(agentCfg)
		if err != nil {
			return fmt.Errorf("agent %q: %w", agentCfg.Name, err)
		}
		if _, err := a.supervisor.RegisterAgent(ctx, agentCfg, decider); err != nil {
			return fmt.Errorf("agent %q: %w", agentCfg.Name, err)
		}
	}
	return nil
}

func (a *App) buildDecider(agentCfg config.AgentConfig) (strategy.Decider, error) {
	var decider strategy.Decider
	switch agentCfg.Strategy {
	case "arbitrage":
		decider = strategy.NewArbitrage(agentCfg.Arbitrage, a.cfg.Gateway.Pairs, a.marketData())
	case "yield":
		decider = strategy.NewYield(agentCfg.Yield, a.gateway)
	case "risk":
		decider = a.assessmentRecorder(agentCfg.Name,
			strategy.NewRisk(agentCfg.Risk, agentCfg.Account, a.gateway, a.stats))
	case "rebalance":
		decider = strategy.NewRebalance(agentCfg.Rebalance, agentCfg.Account, a.gateway)
	default:
		return nil, fmt.Errorf("unknown strategy %q", agentCfg.Strategy)
	}
	return decider, nil
}

// marketData prefers the live feed cache and falls back to REST when the
// cache has nothing fresh.
func (a *App) marketData() strategy.MarketData {
	return &cachedMarketData{client: a.gateway, cache: a.cache}
}

type cachedMarketData struct {
	client *gateway.Client
	cache  *gateway.SnapshotCache
}

func (c *cachedMarketData) GetSnapshots(ctx context.Context, pairs []string) ([]strategy.MarketSnapshot, error) {
	if fresh := c.cache.Fresh(pairs, time.Now().UTC()); len(fresh) > 0 {
		return fresh, nil
	}
	return c.client.GetSnapshots(ctx, pairs)
}

// recorder persists execution results to sqlite and streams them to the
// history database.
func (a *App) recorder() state.RecordStore {
	return &fanoutRecorder{store: a.store, history: a.history}
}

type fanoutRecorder struct {
	store   *sqlite.Store
	history *history.Writer
}

func (r *fanoutRecorder) SaveExecutionResult(ctx context.Context, result state.ExecutionResult) error {
	r.history.EnqueueExecution(result)
	return r.store.SaveExecutionResult(ctx, result)
}

func (r *fanoutRecorder) SaveAgentConfig(ctx context.Context, cfg config.AgentConfig) error {
	return r.store.SaveAgentConfig(ctx, cfg)
}

func (r *fanoutRecorder) LoadAgentConfigs(ctx context.Context) ([]config.AgentConfig, error) {
	return r.store.LoadAgentConfigs(ctx)
}

// assessmentRecorder forwards risk assessments to the history database as a
// side channel of the normal decision flow.
func (a *App) assessmentRecorder(agentName string, inner strategy.Decider) strategy.Decider {
	return &recordingDecider{inner: inner, agentName: agentName, history: a.history}
}

type recordingDecider struct {
	inner     strategy.Decider
	agentName string
	history   *history.Writer
}

func (d *recordingDecider) Decide(ctx context.Context) (*strategy.Decision, error) {
	decision, err := d.inner.Decide(ctx)
	if err == nil && decision != nil && decision.Assessment != nil {
		d.history.EnqueueAssessment(history.AssessmentRecord{
			AgentName:  d.agentName,
			Assessment: *decision.Assessment,
		})
	}
	return decision, err
}

func (a *App) statsLoop(ctx context.Context) {
	refresh := func() {
		refreshCtx, cancel := context.WithTimeout(ctx, a.cfg.Gateway.Timeout)
		defer cancel()
		if err := a.stats.Refresh(refreshCtx); err != nil {
			a.log.Warn("asset stats refresh failed", zap.Error(err))
		}
	}
	refresh()
	ticker := time.NewTicker(statsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.ListenAddr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.log.Warn("metrics server stopped", zap.Error(err))
	}
}
