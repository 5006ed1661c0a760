// Package metrics records compile outcomes. The Recorder interface keeps the
// compile service independent of the metrics backend.
package metrics

import "time"

// Outcome labels.
const (
	OutcomeSuccess     = "success"
	OutcomeValidation  = "validation"
	OutcomeNotFound    = "not_found"
	OutcomeCompilation = "compilation"
	OutcomeInternal    = "internal"
)

// Recorder defines observability hooks for compilations.
type Recorder interface {
	// ObserveCompile records one finished request with its outcome label.
	ObserveCompile(outcome string, d time.Duration)
	// IncEngineExit counts engine runs by exit code.
	IncEngineExit(exitCode int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are disabled).
type NoopRecorder struct{}

func (NoopRecorder) ObserveCompile(string, time.Duration) {}
func (NoopRecorder) IncEngineExit(int)                    {}
