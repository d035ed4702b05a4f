package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.ExecutionsStarted.Inc()
	prom.Metrics.ExecutionsSucceeded.Inc()
	prom.Metrics.ExecutionsFailed.Inc()
	prom.Metrics.ActionsSubmitted.Inc()
	prom.Metrics.SubmissionsFailed.Inc()
	prom.Metrics.AgentsErrored.Inc()
	prom.Metrics.EventsDropped.Inc()

	counters := []Counter{
		prom.Metrics.ExecutionsStarted,
		prom.Metrics.ExecutionsSucceeded,
		prom.Metrics.ExecutionsFailed,
		prom.Metrics.ActionsSubmitted,
		prom.Metrics.SubmissionsFailed,
		prom.Metrics.AgentsErrored,
		prom.Metrics.EventsDropped,
	}
	for i, counter := range counters {
		pc, ok := counter.(promCounter)
		if !ok {
			t.Fatalf("counter %d is not prometheus-backed", i)
		}
		if got := testutil.ToFloat64(pc.counter); got != 1 {
			t.Fatalf("counter %d: expected 1, got %v", i, got)
		}
	}
}

func TestNoopMetricsAreComplete(t *testing.T) {
	m := NewNoop()
	for i, counter := range []Counter{
		m.ExecutionsStarted, m.ExecutionsSucceeded, m.ExecutionsFailed,
		m.ActionsSubmitted, m.SubmissionsFailed, m.AgentsErrored, m.EventsDropped,
	} {
		if counter == nil {
			t.Fatalf("noop counter %d is nil", i)
		}
		counter.Inc()
	}
}
