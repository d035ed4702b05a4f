package alerts

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"defi-agent-engine/internal/supervisor"
)

type captureSender struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureSender) Send(_ context.Context, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

func (c *captureSender) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func TestNotifierSendsFailuresOnly(t *testing.T) {
	sender := &captureSender{}
	notifier := NewNotifier(sender, zap.NewNop())

	events := make(chan supervisor.Event, 4)
	events <- supervisor.Event{AgentName: "arb", Type: supervisor.EventTypeStarted}
	events <- supervisor.Event{AgentName: "arb", Type: supervisor.EventTypeCompleted, Detail: "ok"}
	events <- supervisor.Event{AgentName: "arb", Type: supervisor.EventTypeFailed, Detail: "boom", ErrorKind: "internal"}
	events <- supervisor.Event{AgentName: "arb", Type: supervisor.EventTypeDisabled, Detail: "disabled by operator"}
	close(events)

	done := make(chan struct{})
	go func() {
		defer close(done)
		notifier.Run(context.Background(), events)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier did not drain the channel")
	}

	messages := sender.all()
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2 (failed + disabled): %v", len(messages), messages)
	}
	if !strings.Contains(messages[0], "failed") || !strings.Contains(messages[0], "internal") {
		t.Fatalf("failure message %q", messages[0])
	}
	if !strings.Contains(messages[1], "disabled") {
		t.Fatalf("disable message %q", messages[1])
	}
}
