package app

import "time"

// Metrics is the engine's observability port. The prometheus adapter
// implements it; tests use NopMetrics.
type Metrics interface {
	// RequestStarted marks a request entering processing.
	RequestStarted()

	// RequestFinished marks a request leaving processing.
	RequestFinished()

	// RequestHandled records a finished request by verb and status.
	RequestHandled(verb string, status int)

	// AuthorizationDenied records a denied request by verb.
	AuthorizationDenied(verb string)

	// MutationCommitted records a committed mutation by verb.
	MutationCommitted(verb string)

	// ComposeDuration records one composition pass.
	ComposeDuration(d time.Duration)

	// DocumentCount records the current number of stored documents.
	DocumentCount(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RequestStarted()               {}
func (NopMetrics) RequestFinished()              {}
func (NopMetrics) RequestHandled(string, int)    {}
func (NopMetrics) AuthorizationDenied(string)    {}
func (NopMetrics) MutationCommitted(string)      {}
func (NopMetrics) ComposeDuration(time.Duration) {}
func (NopMetrics) DocumentCount(int)             {}
