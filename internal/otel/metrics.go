package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	taskOpsCounter      metric.Int64Counter
	runOpsCounter       metric.Int64Counter
	claimCounter        metric.Int64Counter
	llmCallsCounter     metric.Int64Counter
	llmTokensCounter    metric.Int64Counter
	llmCostCounter      metric.Float64Counter
	runDuration         metric.Float64Histogram
	sseConnectionsGauge metric.Int64ObservableGauge
	sseEventsCounter    metric.Int64Counter
	sseConnections      int64
	sseConnectionsMu    sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		taskOpsCounter, err = m.Int64Counter("crewform_task_operations_total", metric.WithDescription("Total task operations (create, claim, complete, fail, etc.)"))
		if err != nil {
			return
		}
		runOpsCounter, err = m.Int64Counter("crewform_team_run_operations_total", metric.WithDescription("Total team-run operations by mode"))
		if err != nil {
			return
		}
		claimCounter, err = m.Int64Counter("crewform_claims_total", metric.WithDescription("Total successful work claims by kind"))
		if err != nil {
			return
		}
		llmCallsCounter, err = m.Int64Counter("crewform_llm_calls_total", metric.WithDescription("Total LLM provider calls"))
		if err != nil {
			return
		}
		llmTokensCounter, err = m.Int64Counter("crewform_llm_tokens_total", metric.WithDescription("Total tokens consumed across LLM calls"))
		if err != nil {
			return
		}
		llmCostCounter, err = m.Float64Counter("crewform_llm_cost_usd_total", metric.WithDescription("Estimated LLM spend in USD"))
		if err != nil {
			return
		}
		runDuration, err = m.Float64Histogram("crewform_team_run_duration_seconds", metric.WithDescription("Team run duration in seconds by mode"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("crewform_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("crewform_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordTaskOp records a task operation (create, claim, complete, fail, etc.).
func RecordTaskOp(ctx context.Context, op, workspace, status string) {
	if taskOpsCounter == nil {
		return
	}
	taskOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrWorkspace.String(workspace),
		AttrStatus.String(status),
	))
}

// RecordRunOp records a team-run operation tagged with the team's mode.
func RecordRunOp(ctx context.Context, op, mode, status string) {
	if runOpsCounter == nil {
		return
	}
	runOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrMode.String(mode),
		AttrStatus.String(status),
	))
}

// RecordClaim records one successful claim; kind is "task" or "team_run".
func RecordClaim(ctx context.Context, kind string) {
	if claimCounter == nil {
		return
	}
	claimCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordLLMCall records one provider call with its token and cost figures.
func RecordLLMCall(ctx context.Context, provider, model string, tokens int, costUSD float64) {
	attrs := metric.WithAttributes(AttrProvider.String(provider), AttrModel.String(model))
	if llmCallsCounter != nil {
		llmCallsCounter.Add(ctx, 1, attrs)
	}
	if llmTokensCounter != nil {
		llmTokensCounter.Add(ctx, int64(tokens), attrs)
	}
	if llmCostCounter != nil {
		llmCostCounter.Add(ctx, costUSD, attrs)
	}
}

// RecordRunDuration records a finished team run's wall time by mode and outcome.
func RecordRunDuration(ctx context.Context, mode, status string, duration time.Duration) {
	if runDuration != nil {
		runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrMode.String(mode), AttrStatus.String(status)))
	}
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}
