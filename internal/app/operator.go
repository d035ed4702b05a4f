package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"defi-agent-engine/internal/alerts"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID int64     `json:"update_id"`
	Time     time.Time `json:"time"`
	Command  string    `json:"command"`
	Args     []string  `json:"args,omitempty"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username,omitempty"`
	ChatID   int64     `json:"chat_id"`
	Outcome  string    `json:"outcome"`
}

func (a *App) startOperator(ctx context.Context) {
	if !a.cfg.Telegram.OperatorEnabled || !a.alerts.Enabled() {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !a.operatorWarned {
				a.log.Warn("telegram operator poll failed", zap.Error(err))
				a.operatorWarned = true
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil || upd.Message.Chat == nil || upd.Message.From == nil {
		return
	}
	msg := upd.Message
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status", "agents":
		a.auditOperator(ctx, meta, cmd, args, "ok")
		return a.operatorStatus(), nil
	case "restart":
		if len(args) != 1 {
			return "usage: /restart <agent>", nil
		}
		err := a.supervisor.RestartAgent(args[0])
		a.auditOperator(ctx, meta, cmd, args, outcome(err))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("agent %s restarted", args[0]), nil
	case "disable":
		if len(args) != 1 {
			return "usage: /disable <agent>", nil
		}
		err := a.supervisor.DisableAgent(args[0])
		a.auditOperator(ctx, meta, cmd, args, outcome(err))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("agent %s disabled", args[0]), nil
	case "enable":
		if len(args) != 1 {
			return "usage: /enable <agent>", nil
		}
		err := a.supervisor.EnableAgent(args[0])
		a.auditOperator(ctx, meta, cmd, args, outcome(err))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("agent %s enabled", args[0]), nil
	case "help":
		return "/status - agent overview\n/restart <agent> - restart an errored agent\n/disable <agent> - stop scheduling an agent\n/enable <agent> - resume a disabled agent", nil
	default:
		return "", nil
	}
}

func (a *App) operatorStatus() string {
	statuses := a.supervisor.Snapshot()
	if len(statuses) == 0 {
		return "no agents registered"
	}
	var b strings.Builder
	for _, status := range statuses {
		fmt.Fprintf(&b, "%s [%s] %s", status.Name, status.Strategy, status.State)
		if status.ExecutionCount > 0 {
			fmt.Fprintf(&b, " runs=%d ok=%d pnl=$%.2f", status.ExecutionCount, status.SuccessCount, status.TotalRealizedUSD)
		}
		if status.ConsecutiveFailures > 0 {
			fmt.Fprintf(&b, " failures=%d", status.ConsecutiveFailures)
		}
		if status.LastError != "" {
			fmt.Fprintf(&b, " last_error=%s", status.LastError)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) auditOperator(ctx context.Context, meta operatorMeta, cmd string, args []string, outcome string) {
	event := operatorAuditEvent{
		UpdateID: meta.UpdateID,
		Time:     time.Now().UTC(),
		Command:  cmd,
		Args:     args,
		UserID:   meta.UserID,
		Username: meta.Username,
		ChatID:   meta.ChatID,
		Outcome:  outcome,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	key := fmt.Sprintf("operator:audit:%d", meta.UpdateID)
	if err := a.store.Set(ctx, key, string(payload)); err != nil {
		a.log.Warn("operator audit write failed", zap.Error(err))
	}
}

func outcome(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	offset, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return offset
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if err := a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10)); err != nil {
		a.log.Warn("operator offset persist failed", zap.Error(err))
	}
}
