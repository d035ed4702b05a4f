package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"defi-agent-engine/internal/config"
	"defi-agent-engine/internal/gateway"
	"defi-agent-engine/internal/ledger"
	"defi-agent-engine/internal/metrics"
	"defi-agent-engine/internal/state"
	"defi-agent-engine/internal/strategy"
)

var (
	ErrInvalidConfig = errors.New("invalid agent config")
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrNotErrored    = errors.New("agent is not errored")
)

// Error kinds recorded with failed executions.
const (
	KindDecisionTimeout   = "decision_timeout"
	KindInsufficientFunds = "insufficient_funds"
	KindNetworkCongestion = "network_congestion"
	KindRejected          = "rejected"
	KindGatewayDown       = "gateway_unavailable"
	KindInvalidAccount    = "invalid_account"
	KindInternal          = "internal"
)

// Submitter pushes an approved plan to the ledger and returns the tx id.
type Submitter interface {
	Submit(ctx context.Context, req ledger.SubmissionRequest) (string, error)
}

type agent struct {
	id      string
	cfg     config.AgentConfig
	decider strategy.Decider
	sm      *StateMachine

	mu                  sync.Mutex
	inFlight            bool
	nextRunAt           time.Time
	lastRunAt           time.Time
	consecutiveFailures int
	executionCount      int64
	successCount        int64
	totalRealizedUSD    float64
	lastError           string
	lastSummary         string
}

// AgentStatus is a point-in-time view of one agent, for the operator and for
// tests.
type AgentStatus struct {
	ID                  string
	Name                string
	Strategy            string
	State               AgentState
	NextRunAt           time.Time
	LastRunAt           time.Time
	ConsecutiveFailures int
	ExecutionCount      int64
	SuccessCount        int64
	TotalRealizedUSD    float64
	LastError           string
	LastSummary         string
}

// Supervisor owns the agent lifecycle: registration, cadence scheduling,
// bounded execution, failure backoff and persistence of per-agent counters.
type Supervisor struct {
	cfg       config.SupervisorConfig
	log       *zap.Logger
	metrics   *metrics.Metrics
	bus       *EventBus
	store     state.Store
	records   state.RecordStore
	submitter Submitter
	now       func() time.Time

	mu      sync.Mutex
	agents  map[string]*agent
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	loop    chan struct{}
}

type Option func(*Supervisor)

func WithRecordStore(records state.RecordStore) Option {
	return func(s *Supervisor) { s.records = records }
}

func WithSubmitter(submitter Submitter) Option {
	return func(s *Supervisor) { s.submitter = submitter }
}

func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

func New(cfg config.SupervisorConfig, store state.Store, bus *EventBus, m *metrics.Metrics, log *zap.Logger, opts ...Option) *Supervisor {
	if m == nil {
		m = metrics.NewNoop()
	}
	if bus == nil {
		bus = NewEventBus(0, m.EventsDropped)
	}
	s := &Supervisor{
		cfg:     cfg,
		log:     log,
		metrics: m,
		bus:     bus,
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
		agents:  make(map[string]*agent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Events() *EventBus { return s.bus }

// RegisterAgent validates the config, restores any persisted counters and
// schedules the agent for its first run. Returns the assigned agent id.
func (s *Supervisor) RegisterAgent(ctx context.Context, cfg config.AgentConfig, decider strategy.Decider) (string, error) {
	if decider == nil {
		return "", fmt.Errorf("%w: decider is required", ErrInvalidConfig)
	}
	if err := config.ValidateAgent(&cfg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.agents[cfg.Name]; dup {
		return "", fmt.Errorf("%w: duplicate name %q", ErrInvalidConfig, cfg.Name)
	}

	a := &agent{
		id:        uuid.NewString(),
		cfg:       cfg,
		decider:   decider,
		sm:        NewStateMachine(),
		nextRunAt: s.now(),
	}
	snapshot, ok, err := state.LoadAgentSnapshot(ctx, s.store, cfg.Name)
	if err != nil {
		s.log.Warn("failed to load agent snapshot", zap.String("agent", cfg.Name), zap.Error(err))
	} else if ok {
		a.consecutiveFailures = snapshot.ConsecutiveFailures
		a.executionCount = snapshot.ExecutionCount
		a.successCount = snapshot.SuccessCount
		a.totalRealizedUSD = snapshot.TotalRealizedUSD
		if snapshot.LastRunAtMS > 0 {
			a.lastRunAt = time.UnixMilli(snapshot.LastRunAtMS).UTC()
		}
		// only terminal states survive a restart; a run that was cut off
		// mid-execution starts over from idle
		switch AgentState(snapshot.State) {
		case StateError:
			a.sm.SetState(StateError)
		case StateDisabled:
			a.sm.SetState(StateDisabled)
		}
	}
	s.agents[cfg.Name] = a

	if s.records != nil {
		if err := s.records.SaveAgentConfig(ctx, cfg); err != nil {
			s.log.Warn("failed to persist agent config", zap.String("agent", cfg.Name), zap.Error(err))
		}
	}
	s.log.Info("agent registered",
		zap.String("agent", cfg.Name),
		zap.String("id", a.id),
		zap.String("strategy", cfg.Strategy),
		zap.Duration("cadence", cfg.Cadence))
	return a.id, nil
}

// Start launches the tick loop. Calling Start on a running supervisor is a
// no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loop = make(chan struct{})
	go s.run(runCtx)
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.loop)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	now := s.now()
	for _, a := range s.agentList() {
		a.mu.Lock()
		// the in-flight guard covers runs the state machine can no longer
		// see, e.g. a disable/enable cycle while the decider is still going
		due := !a.inFlight && a.sm.Current() == StateIdle && !now.Before(a.nextRunAt)
		if due {
			a.sm.Apply(EventSchedule)
			a.inFlight = true
		}
		a.mu.Unlock()
		if due {
			s.wg.Add(1)
			go s.execute(ctx, a)
		}
	}
}

func (s *Supervisor) execute(ctx context.Context, a *agent) {
	defer s.wg.Done()
	defer func() {
		a.mu.Lock()
		a.inFlight = false
		a.mu.Unlock()
	}()

	a.sm.Apply(EventStart)
	started := s.now()
	s.metrics.ExecutionsStarted.Inc()
	s.publish(a, EventTypeStarted, "", "")

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
	decision, err := a.decider.Decide(execCtx)
	decisionID := uuid.NewString()

	var txID string
	var action string
	var realized float64
	if err == nil && decision != nil && decision.Plan != nil && len(decision.Plan.Steps) > 0 {
		action = string(decision.Plan.Steps[0].Action)
		if s.submitter != nil && a.cfg.Account != "" {
			var req ledger.SubmissionRequest
			req, err = ledger.NewSubmissionRequest(a.cfg.Account, decisionID, a.cfg.Name, a.cfg.Strategy, decision.Plan)
			if err == nil {
				txID, err = s.submitter.Submit(execCtx, req)
			}
			if err == nil {
				realized = decision.Plan.EstimatedBenefit - decision.Plan.EstimatedCost
			}
		}
	}
	cancel()

	result := state.ExecutionResult{
		AgentID:    a.id,
		AgentName:  a.cfg.Name,
		Strategy:   a.cfg.Strategy,
		DecisionID: decisionID,
		Action:     action,
		TxID:       txID,
		StartedAt:  started,
		Duration:   s.now().Sub(started),
	}

	if err != nil && ctx.Err() != nil {
		s.onAbort(a, started, err, &result)
	} else if err != nil {
		s.onFailure(a, started, err, &result)
	} else {
		summary := ""
		if decision != nil {
			summary = decision.Summary
		}
		if decision != nil && decision.Plan != nil && len(decision.Plan.Steps) > 0 {
			if committer, ok := a.decider.(strategy.PlanCommitter); ok {
				committer.PlanCommitted(started)
			}
		}
		result.Status = "succeeded"
		result.RealizedUSD = realized
		s.onSuccess(a, started, summary, realized)
	}
	s.persist(a, result)
}

func (s *Supervisor) onSuccess(a *agent, started time.Time, summary string, realized float64) {
	a.sm.Apply(EventComplete)
	a.mu.Lock()
	a.consecutiveFailures = 0
	a.executionCount++
	a.successCount++
	a.totalRealizedUSD += realized
	a.lastRunAt = started
	a.lastError = ""
	a.lastSummary = summary
	a.nextRunAt = started.Add(a.cfg.Cadence)
	a.mu.Unlock()

	s.metrics.ExecutionsSucceeded.Inc()
	s.publish(a, EventTypeCompleted, summary, "")
	s.log.Info("agent execution completed",
		zap.String("agent", a.cfg.Name),
		zap.String("summary", summary))
}

// onAbort handles a run cut short by supervisor shutdown. The interruption is
// a timing artifact, not an agent health signal, so the failure streak is
// untouched and the agent is left idle for the next process.
func (s *Supervisor) onAbort(a *agent, started time.Time, err error, result *state.ExecutionResult) {
	result.Status = "aborted"
	result.Error = err.Error()

	a.sm.Apply(EventRetry)
	a.mu.Lock()
	a.lastRunAt = started
	a.nextRunAt = started.Add(a.cfg.Cadence)
	a.mu.Unlock()

	s.log.Info("agent execution aborted by shutdown", zap.String("agent", a.cfg.Name))
}

func (s *Supervisor) onFailure(a *agent, started time.Time, err error, result *state.ExecutionResult) {
	kind := classifyError(err)
	result.Status = "failed"
	result.ErrorKind = kind
	result.Error = err.Error()

	s.metrics.ExecutionsFailed.Inc()

	a.mu.Lock()
	a.executionCount++
	a.lastRunAt = started
	a.lastError = err.Error()
	errored := false
	switch kind {
	case KindInsufficientFunds:
		// final for this run but not a health signal: the failure streak
		// is left alone and the agent retries at its normal cadence
		a.sm.Apply(EventRetry)
		a.nextRunAt = started.Add(a.cfg.Cadence)
	default:
		a.consecutiveFailures++
		if a.consecutiveFailures >= s.maxRetries() {
			a.sm.Apply(EventFail)
			errored = true
		} else {
			a.sm.Apply(EventRetry)
			a.nextRunAt = started.Add(s.backoff(a.cfg.Cadence, a.consecutiveFailures))
		}
	}
	failures := a.consecutiveFailures
	a.mu.Unlock()

	if errored {
		s.metrics.AgentsErrored.Inc()
		s.log.Error("agent moved to error state",
			zap.String("agent", a.cfg.Name),
			zap.Int("consecutive_failures", failures),
			zap.Error(err))
	} else {
		s.log.Warn("agent execution failed",
			zap.String("agent", a.cfg.Name),
			zap.String("kind", kind),
			zap.Int("consecutive_failures", failures),
			zap.Error(err))
	}
	s.publish(a, EventTypeFailed, err.Error(), kind)
}

func (s *Supervisor) persist(a *agent, result state.ExecutionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.mu.Lock()
	snapshot := state.AgentSnapshot{
		State:               string(a.sm.Current()),
		ConsecutiveFailures: a.consecutiveFailures,
		ExecutionCount:      a.executionCount,
		SuccessCount:        a.successCount,
		TotalRealizedUSD:    a.totalRealizedUSD,
		LastRunAtMS:         a.lastRunAt.UnixMilli(),
	}
	a.mu.Unlock()

	if err := state.SaveAgentSnapshot(ctx, s.store, a.cfg.Name, snapshot); err != nil {
		s.log.Warn("failed to persist agent snapshot", zap.String("agent", a.cfg.Name), zap.Error(err))
	}
	if s.records != nil {
		if err := s.records.SaveExecutionResult(ctx, result); err != nil {
			s.log.Warn("failed to persist execution result", zap.String("agent", a.cfg.Name), zap.Error(err))
		}
	}
}

// Stop cancels the loop and waits for in-flight executions up to the
// shutdown timeout.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	loop := s.loop
	s.mu.Unlock()

	cancel()
	<-loop

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		s.log.Warn("shutdown timeout reached with executions still in flight")
	}
	s.bus.Close()
}

// RestartAgent moves an errored agent back to idle and clears its failure
// streak.
func (s *Supervisor) RestartAgent(name string) error {
	a, err := s.agent(name)
	if err != nil {
		return err
	}
	if a.sm.Current() != StateError {
		return fmt.Errorf("%w: %s is %s", ErrNotErrored, name, a.sm.Current())
	}
	a.sm.Apply(EventRestart)
	a.mu.Lock()
	a.consecutiveFailures = 0
	a.lastError = ""
	a.nextRunAt = s.now()
	a.mu.Unlock()
	s.log.Info("agent restarted", zap.String("agent", name))
	return nil
}

func (s *Supervisor) DisableAgent(name string) error {
	a, err := s.agent(name)
	if err != nil {
		return err
	}
	a.sm.Apply(EventDisable)
	s.publish(a, EventTypeDisabled, "disabled by operator", "")
	s.log.Info("agent disabled", zap.String("agent", name))
	return nil
}

func (s *Supervisor) EnableAgent(name string) error {
	a, err := s.agent(name)
	if err != nil {
		return err
	}
	if a.sm.Apply(EventEnable) == StateIdle {
		a.mu.Lock()
		a.nextRunAt = s.now()
		a.mu.Unlock()
		s.log.Info("agent enabled", zap.String("agent", name))
	}
	return nil
}

// Snapshot reports every agent sorted by name.
func (s *Supervisor) Snapshot() []AgentStatus {
	agents := s.agentList()
	out := make([]AgentStatus, 0, len(agents))
	for _, a := range agents {
		a.mu.Lock()
		out = append(out, AgentStatus{
			ID:                  a.id,
			Name:                a.cfg.Name,
			Strategy:            a.cfg.Strategy,
			State:               a.sm.Current(),
			NextRunAt:           a.nextRunAt,
			LastRunAt:           a.lastRunAt,
			ConsecutiveFailures: a.consecutiveFailures,
			ExecutionCount:      a.executionCount,
			SuccessCount:        a.successCount,
			TotalRealizedUSD:    a.totalRealizedUSD,
			LastError:           a.lastError,
			LastSummary:         a.lastSummary,
		})
		a.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) agent(name string) (*agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return a, nil
}

func (s *Supervisor) agentList() []*agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

func (s *Supervisor) publish(a *agent, eventType EventType, detail, kind string) {
	s.bus.Publish(Event{
		AgentID:   a.id,
		AgentName: a.cfg.Name,
		Type:      eventType,
		Timestamp: s.now(),
		Detail:    detail,
		ErrorKind: kind,
	})
}

func (s *Supervisor) maxRetries() int {
	if s.cfg.MaxRetries <= 0 {
		return 3
	}
	return s.cfg.MaxRetries
}

// backoff doubles the cadence per consecutive failure, capped.
func (s *Supervisor) backoff(cadence time.Duration, failures int) time.Duration {
	delay := cadence
	for i := 0; i < failures; i++ {
		delay *= 2
		if s.cfg.BackoffCap > 0 && delay >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	return delay
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindDecisionTimeout
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ledger.ErrNetworkCongestion):
		return KindNetworkCongestion
	case errors.Is(err, ledger.ErrRejected):
		return KindRejected
	case errors.Is(err, gateway.ErrUnavailable):
		return KindGatewayDown
	case errors.Is(err, gateway.ErrInvalidAccount):
		return KindInvalidAccount
	default:
		return KindInternal
	}
}
