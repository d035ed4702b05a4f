package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"defi-agent-engine/internal/config"
	"defi-agent-engine/internal/state/sqlite"
	"defi-agent-engine/internal/strategy"
	"defi-agent-engine/internal/supervisor"
)

type idleDecider struct{}

func (idleDecider) Decide(context.Context) (*strategy.Decision, error) {
	return &strategy.Decision{Summary: "idle"}, nil
}

func testApp(t *testing.T) *App {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	supCfg := config.SupervisorConfig{
		TickInterval:     time.Second,
		ExecutionTimeout: time.Second,
		MaxRetries:       3,
		BackoffCap:       time.Minute,
		ShutdownTimeout:  time.Second,
	}
	return &App{
		cfg:        &config.Config{Supervisor: supCfg},
		log:        zap.NewNop(),
		store:      store,
		supervisor: supervisor.New(supCfg, store, nil, nil, zap.NewNop()),
	}
}

func TestParseOperatorCommand(t *testing.T) {
	cases := []struct {
		text string
		cmd  string
		args int
		ok   bool
	}{
		{"/status", "status", 0, true},
		{"  /Restart arb-1  ", "restart", 1, true},
		{"hello", "", 0, false},
		{"", "", 0, false},
	}
	for _, tc := range cases {
		cmd, args, ok := parseOperatorCommand(tc.text)
		if ok != tc.ok || cmd != tc.cmd || len(args) != tc.args {
			t.Fatalf("parse %q = (%q, %d, %v), want (%q, %d, %v)", tc.text, cmd, len(args), ok, tc.cmd, tc.args, tc.ok)
		}
	}
}

func TestOperatorStatusEmpty(t *testing.T) {
	a := testApp(t)
	resp, err := a.handleOperatorCommand(context.Background(), "status", nil, operatorMeta{UpdateID: 1})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if resp != "no agents registered" {
		t.Fatalf("status %q", resp)
	}
}

func TestOperatorDisableEnable(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	cfg := config.AgentConfig{Name: "arb-1", Strategy: "arbitrage", Cadence: time.Minute}
	if _, err := a.supervisor.RegisterAgent(ctx, cfg, idleDecider{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	resp, err := a.handleOperatorCommand(ctx, "disable", []string{"arb-1"}, operatorMeta{UpdateID: 2})
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if !strings.Contains(resp, "disabled") {
		t.Fatalf("disable response %q", resp)
	}
	status, err := a.handleOperatorCommand(ctx, "status", nil, operatorMeta{UpdateID: 3})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(status, "arb-1") || !strings.Contains(status, "disabled") {
		t.Fatalf("status %q", status)
	}

	if _, err := a.handleOperatorCommand(ctx, "enable", []string{"arb-1"}, operatorMeta{UpdateID: 4}); err != nil {
		t.Fatalf("enable: %v", err)
	}

	// audit trail lands in the kv store
	if _, ok, err := a.store.Get(ctx, "operator:audit:2"); err != nil || !ok {
		t.Fatalf("audit record missing: ok=%v err=%v", ok, err)
	}
}

func TestOperatorUnknownAgent(t *testing.T) {
	a := testApp(t)
	resp, err := a.handleOperatorCommand(context.Background(), "restart", []string{"ghost"}, operatorMeta{UpdateID: 5})
	if err == nil {
		t.Fatalf("restart unknown agent succeeded: %q", resp)
	}
}

func TestOperatorUsageHints(t *testing.T) {
	a := testApp(t)
	for _, cmd := range []string{"restart", "disable", "enable"} {
		resp, err := a.handleOperatorCommand(context.Background(), cmd, nil, operatorMeta{})
		if err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
		if !strings.HasPrefix(resp, "usage:") {
			t.Fatalf("%s response %q, want usage hint", cmd, resp)
		}
	}
}
