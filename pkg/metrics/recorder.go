// Package metrics records engine activity: model calls, tool calls, apply
// outcomes, state transitions and loop iterations.
package metrics

import (
	"time"

	"rework/pkg/edit"
)

// Recorder defines the interface for recording engine metrics.
type Recorder interface {
	// ObserveModelCall records one model invocation. It satisfies
	// llm.CallObserver so the recorder can sit in the client middleware chain.
	ObserveModelCall(model string, duration time.Duration, toolCalls int, err error)

	// ObserveTransition counts one orchestrator state transition.
	ObserveTransition(from, to string)

	// ObserveToolCall records one tool execution.
	ObserveToolCall(tool string, duration time.Duration, isError bool)

	// ObserveOutcomes counts per-file apply results.
	ObserveOutcomes(outcomes []edit.Outcome)

	// ObserveRetry counts one edit retry with the MalformedEdit reason.
	ObserveRetry(reason string)

	// ObserveCommit counts one auto-commit attempt.
	ObserveCommit(err error)

	// ObserveTurn records a finished turn and the model invocations it took.
	ObserveTurn(mode, result string, iterations int)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveModelCall(_ string, _ time.Duration, _ int, _ error) {}

func (n *NoopRecorder) ObserveTransition(_, _ string) {}

func (n *NoopRecorder) ObserveToolCall(_ string, _ time.Duration, _ bool) {}

func (n *NoopRecorder) ObserveOutcomes(_ []edit.Outcome) {}

func (n *NoopRecorder) ObserveRetry(_ string) {}

func (n *NoopRecorder) ObserveCommit(_ error) {}

func (n *NoopRecorder) ObserveTurn(_, _ string, _ int) {}
