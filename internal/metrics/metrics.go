package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	ExecutionsStarted   Counter
	ExecutionsSucceeded Counter
	ExecutionsFailed    Counter
	ActionsSubmitted    Counter
	SubmissionsFailed   Counter
	AgentsErrored       Counter
	EventsDropped       Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		ExecutionsStarted:   n,
		ExecutionsSucceeded: n,
		ExecutionsFailed:    n,
		ActionsSubmitted:    n,
		SubmissionsFailed:   n,
		AgentsErrored:       n,
		EventsDropped:       n,
	}
}
