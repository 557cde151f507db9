package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rework/pkg/edit"
	"rework/pkg/llm/llmerrors"
	"rework/pkg/logx"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	modelCalls     *prometheus.CounterVec
	modelDuration  *prometheus.HistogramVec
	modelToolCalls *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	outcomes       *prometheus.CounterVec
	retries        *prometheus.CounterVec
	commits        *prometheus.CounterVec
	turns          *prometheus.CounterVec
	turnIterations *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the engine metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		modelCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rework_model_calls_total",
				Help: "Total number of model invocations by model, status and error type",
			},
			[]string{"model", "status", "error_type"},
		),
		modelDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rework_model_call_duration_seconds",
				Help:    "Duration of model invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		modelToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rework_model_tool_calls_total",
				Help: "Total number of tool calls requested by the model",
			},
			[]string{"model"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rework_state_transitions_total",
				Help: "Total number of orchestrator state transitions",
			},
			[]string{"from", "to"},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rework_tool_calls_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rework_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rework_apply_outcomes_total",
				Help: "Total number of per-file apply results by status and reason",
			},
			[]string{"status", "reason"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rework_edit_retries_total",
				Help: "Total number of model re-invocations after a malformed edit",
			},
			[]string{"reason"},
		),
		commits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rework_commits_total",
				Help: "Total number of auto-commit attempts by status",
			},
			[]string{"status"},
		),
		turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rework_turns_total",
				Help: "Total number of finished turns by mode and result",
			},
			[]string{"mode", "result"},
		),
		turnIterations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rework_turn_model_invocations",
				Help:    "Model invocations per turn",
				Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 32},
			},
			[]string{"mode"},
		),
	}
}

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "success"
}

// ObserveModelCall records metrics for a completed model invocation.
func (p *PrometheusRecorder) ObserveModelCall(model string, duration time.Duration, toolCalls int, err error) {
	errorType := ""
	if err != nil {
		errorType = llmerrors.TypeOf(err).String()
	}
	p.modelCalls.WithLabelValues(model, status(err != nil), errorType).Inc()
	p.modelDuration.WithLabelValues(model).Observe(duration.Seconds())
	if toolCalls > 0 {
		p.modelToolCalls.WithLabelValues(model).Add(float64(toolCalls))
	}
}

func (p *PrometheusRecorder) ObserveTransition(from, to string) {
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *PrometheusRecorder) ObserveToolCall(tool string, duration time.Duration, isError bool) {
	p.toolCalls.WithLabelValues(tool, status(isError)).Inc()
	p.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveOutcomes(outcomes []edit.Outcome) {
	for i := range outcomes {
		p.outcomes.WithLabelValues(outcomes[i].Status.String(), outcomes[i].Reason).Inc()
	}
}

func (p *PrometheusRecorder) ObserveRetry(reason string) {
	p.retries.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) ObserveCommit(err error) {
	p.commits.WithLabelValues(status(err != nil)).Inc()
}

func (p *PrometheusRecorder) ObserveTurn(mode, result string, iterations int) {
	p.turns.WithLabelValues(mode, result).Inc()
	p.turnIterations.WithLabelValues(mode).Observe(float64(iterations))
}

// Serve exposes gatherer on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logger := logx.NewLogger("metrics")
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics on %s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
