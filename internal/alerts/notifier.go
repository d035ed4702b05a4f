package alerts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"defi-agent-engine/internal/supervisor"
)

type Sender interface {
	Send(ctx context.Context, message string) error
}

// Notifier turns supervisor lifecycle events into operator alerts. Only
// failures and disables are worth a message; routine completions stay in the
// logs.
type Notifier struct {
	sender Sender
	log    *zap.Logger
}

func NewNotifier(sender Sender, log *zap.Logger) *Notifier {
	return &Notifier{sender: sender, log: log}
}

// Run consumes events until the channel closes or ctx is done.
func (n *Notifier) Run(ctx context.Context, events <-chan supervisor.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			message := n.format(event)
			if message == "" {
				continue
			}
			if err := n.sender.Send(ctx, message); err != nil {
				n.log.Warn("alert delivery failed", zap.Error(err))
			}
		}
	}
}

func (n *Notifier) format(event supervisor.Event) string {
	switch event.Type {
	case supervisor.EventTypeFailed:
		return fmt.Sprintf("agent %s failed (%s): %s", event.AgentName, event.ErrorKind, event.Detail)
	case supervisor.EventTypeDisabled:
		return fmt.Sprintf("agent %s disabled: %s", event.AgentName, event.Detail)
	default:
		return ""
	}
}
