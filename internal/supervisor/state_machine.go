package supervisor

import "sync"

type AgentState string

const (
	StateIdle      AgentState = "idle"
	StateScheduled AgentState = "scheduled"
	StateExecuting AgentState = "executing"
	StateError     AgentState = "error"
	StateDisabled  AgentState = "disabled"
)

type AgentEvent string

const (
	EventSchedule AgentEvent = "schedule"
	EventStart    AgentEvent = "start"
	EventComplete AgentEvent = "complete"
	EventRetry    AgentEvent = "retry"
	EventFail     AgentEvent = "fail"
	EventRestart  AgentEvent = "restart"
	EventDisable  AgentEvent = "disable"
	EventEnable   AgentEvent = "enable"
)

type StateMachine struct {
	mu    sync.Mutex
	State AgentState
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateIdle}
}

func (s *StateMachine) Apply(event AgentEvent) AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

func (s *StateMachine) Current() AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

func (s *StateMachine) SetState(state AgentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
}

// nextState is the whole transition table. Disable wins from any state;
// an errored agent only comes back through an explicit restart.
func nextState(current AgentState, event AgentEvent) AgentState {
	if event == EventDisable {
		return StateDisabled
	}
	switch current {
	case StateIdle:
		if event == EventSchedule {
			return StateScheduled
		}
	case StateScheduled:
		if event == EventStart {
			return StateExecuting
		}
	case StateExecuting:
		if event == EventComplete || event == EventRetry {
			return StateIdle
		}
		if event == EventFail {
			return StateError
		}
	case StateError:
		if event == EventRestart {
			return StateIdle
		}
	case StateDisabled:
		if event == EventEnable {
			return StateIdle
		}
	}
	return current
}
