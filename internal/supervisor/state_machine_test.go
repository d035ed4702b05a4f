package supervisor

import "testing"

func TestStateMachineHappyPath(t *testing.T) {
	sm := NewStateMachine()
	steps := []struct {
		event AgentEvent
		want  AgentState
	}{
		{EventSchedule, StateScheduled},
		{EventStart, StateExecuting},
		{EventComplete, StateIdle},
		{EventSchedule, StateScheduled},
		{EventStart, StateExecuting},
		{EventRetry, StateIdle},
	}
	for i, step := range steps {
		if got := sm.Apply(step.event); got != step.want {
			t.Fatalf("step %d: %s -> %s, want %s", i, step.event, got, step.want)
		}
	}
}

func TestStateMachineErrorNeedsRestart(t *testing.T) {
	sm := NewStateMachine()
	sm.Apply(EventSchedule)
	sm.Apply(EventStart)
	if got := sm.Apply(EventFail); got != StateError {
		t.Fatalf("fail -> %s, want error", got)
	}
	// no event but restart leaves error
	for _, event := range []AgentEvent{EventSchedule, EventStart, EventComplete, EventEnable} {
		if got := sm.Apply(event); got != StateError {
			t.Fatalf("%s moved errored agent to %s", event, got)
		}
	}
	if got := sm.Apply(EventRestart); got != StateIdle {
		t.Fatalf("restart -> %s, want idle", got)
	}
}

func TestStateMachineDisableFromAnyState(t *testing.T) {
	for _, start := range []AgentState{StateIdle, StateScheduled, StateExecuting, StateError} {
		sm := NewStateMachine()
		sm.SetState(start)
		if got := sm.Apply(EventDisable); got != StateDisabled {
			t.Fatalf("disable from %s -> %s", start, got)
		}
		if got := sm.Apply(EventSchedule); got != StateDisabled {
			t.Fatalf("schedule moved disabled agent to %s", got)
		}
		if got := sm.Apply(EventEnable); got != StateIdle {
			t.Fatalf("enable -> %s, want idle", got)
		}
	}
}

func TestStateMachineInvalidTransitionIsNoop(t *testing.T) {
	sm := NewStateMachine()
	if got := sm.Apply(EventComplete); got != StateIdle {
		t.Fatalf("complete from idle -> %s, want idle", got)
	}
	if got := sm.Apply(EventStart); got != StateIdle {
		t.Fatalf("start from idle -> %s, want idle", got)
	}
}
