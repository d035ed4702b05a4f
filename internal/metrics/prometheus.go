package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "agent_engine"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	executionsStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "executions_started_total",
		Help:      "Total number of agent executions dispatched.",
	})
	executionsSucceeded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "executions_succeeded_total",
		Help:      "Total number of agent executions that completed.",
	})
	executionsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "executions_failed_total",
		Help:      "Total number of agent executions that failed.",
	})
	actionsSubmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "actions_submitted_total",
		Help:      "Total number of action plans submitted to the ledger.",
	})
	submissionsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "submissions_failed_total",
		Help:      "Total number of ledger submission failures.",
	})
	agentsErrored := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "agents_errored_total",
		Help:      "Total number of agents moved to the error state.",
	})
	eventsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "events_dropped_total",
		Help:      "Total number of events dropped by slow subscribers.",
	})

	registry.MustRegister(
		executionsStarted, executionsSucceeded, executionsFailed,
		actionsSubmitted, submissionsFailed, agentsErrored, eventsDropped,
	)

	m := &Metrics{
		ExecutionsStarted:   promCounter{executionsStarted},
		ExecutionsSucceeded: promCounter{executionsSucceeded},
		ExecutionsFailed:    promCounter{executionsFailed},
		ActionsSubmitted:    promCounter{actionsSubmitted},
		SubmissionsFailed:   promCounter{submissionsFailed},
		AgentsErrored:       promCounter{agentsErrored},
		EventsDropped:       promCounter{eventsDropped},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
