package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"defi-agent-engine/internal/strategy"
)

// StepWire is one trade leg in ledger wire form. Amounts travel as trimmed
// decimal strings so the ledger parses them without float drift.
type StepWire struct {
	Action   string
	Asset    string
	Amount   string
	Priority int
}

// SubmissionRequest is the unit the ledger accepts. Steps are held in
// canonical order (priority, then asset) from construction onward.
type SubmissionRequest struct {
	Account    string
	DecisionID string
	AgentName  string
	Strategy   string
	Steps      []StepWire
	Checksum   string
}

func NewSubmissionRequest(account, decisionID, agentName, strategyName string, plan *strategy.ActionPlan) (SubmissionRequest, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return SubmissionRequest{}, errors.New("plan has no steps")
	}
	if decisionID == "" {
		return SubmissionRequest{}, errors.New("decision id is required")
	}
	req := SubmissionRequest{
		Account:    account,
		DecisionID: decisionID,
		AgentName:  agentName,
		Strategy:   strategyName,
	}
	for _, step := range plan.Steps {
		amount, err := amountToWire(step.AmountUSD)
		if err != nil {
			return SubmissionRequest{}, fmt.Errorf("step %s %s: %w", step.Action, step.Asset, err)
		}
		req.Steps = append(req.Steps, StepWire{
			Action:   string(step.Action),
			Asset:    step.Asset,
			Amount:   amount,
			Priority: step.Priority,
		})
	}
	sort.SliceStable(req.Steps, func(i, j int) bool {
		if req.Steps[i].Priority != req.Steps[j].Priority {
			return req.Steps[i].Priority < req.Steps[j].Priority
		}
		return req.Steps[i].Asset < req.Steps[j].Asset
	})
	checksum, err := SubmissionChecksum(req)
	if err != nil {
		return SubmissionRequest{}, err
	}
	req.Checksum = checksum
	return req, nil
}

func amountToWire(x float64) (string, error) {
	if x <= 0 {
		return "", fmt.Errorf("amount must be > 0, got %f", x)
	}
	return decimal.NewFromFloat(x).Round(8).String(), nil
}
