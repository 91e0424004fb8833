package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	tasksCounter        metric.Int64Counter
	runsCounter         metric.Int64Counter
	runDuration         metric.Float64Histogram
	retriesCounter      metric.Int64Counter
	tokensCounter       metric.Int64Counter
	briefingsCounter    metric.Int64Counter
	chatPostsCounter    metric.Int64Counter
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
		tasksCounter, err = m.Int64Counter("p2pagents_tasks_total", metric.WithDescription("Tasks accepted into the queue, by origin"))
		if err != nil {
			return
		}
		runsCounter, err = m.Int64Counter("p2pagents_runs_total", metric.WithDescription("Agent runs finished, by agent and status"))
		if err != nil {
			return
		}
		runDuration, err = m.Float64Histogram("p2pagents_run_duration_seconds", metric.WithDescription("Agent run duration in seconds"))
		if err != nil {
			return
		}
		retriesCounter, err = m.Int64Counter("p2pagents_run_retries_total", metric.WithDescription("Transient-failure retries, by agent"))
		if err != nil {
			return
		}
		tokensCounter, err = m.Int64Counter("p2pagents_tokens_total", metric.WithDescription("Model tokens consumed, by agent, model, and direction"))
		if err != nil {
			return
		}
		briefingsCounter, err = m.Int64Counter("p2pagents_briefings_total", metric.WithDescription("End-of-cycle briefings produced"))
		if err != nil {
			return
		}
		chatPostsCounter, err = m.Int64Counter("p2pagents_chat_posts_total", metric.WithDescription("Chat messages posted, by transport"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("p2pagents_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("p2pagents_sse_connections", metric.WithDescription("Current SSE subscriber count"))
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

// RecordTask records a task accepted into the queue.
func RecordTask(ctx context.Context, origin string) {
	if tasksCounter == nil {
		return
	}
	tasksCounter.Add(ctx, 1, metric.WithAttributes(AttrOrigin.String(origin)))
}

// RecordRun records a finished run and its duration.
func RecordRun(ctx context.Context, agent, status string, duration time.Duration) {
	if runsCounter != nil {
		runsCounter.Add(ctx, 1, metric.WithAttributes(AttrAgent.String(agent), AttrStatus.String(status)))
	}
	if runDuration != nil {
		runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrAgent.String(agent)))
	}
}

// RecordRetry records one transient-failure retry.
func RecordRetry(ctx context.Context, agent string) {
	if retriesCounter != nil {
		retriesCounter.Add(ctx, 1, metric.WithAttributes(AttrAgent.String(agent)))
	}
}

// RecordTokens records model token usage for a run.
func RecordTokens(ctx context.Context, agent, model string, input, output int64) {
	if tokensCounter == nil {
		return
	}
	if input > 0 {
		tokensCounter.Add(ctx, input, metric.WithAttributes(AttrAgent.String(agent), AttrModel.String(model), AttrDirection.String("input")))
	}
	if output > 0 {
		tokensCounter.Add(ctx, output, metric.WithAttributes(AttrAgent.String(agent), AttrModel.String(model), AttrDirection.String("output")))
	}
}

// RecordBriefing records one end-of-cycle briefing.
func RecordBriefing(ctx context.Context) {
	if briefingsCounter != nil {
		briefingsCounter.Add(ctx, 1)
	}
}

// RecordChatPost records one outbound chat message.
func RecordChatPost(ctx context.Context, transport string) {
	if chatPostsCounter != nil {
		chatPostsCounter.Add(ctx, 1, metric.WithAttributes(AttrTransport.String(transport)))
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

// QueueStatsFunc returns (pending tasks, active runs). Used for the queue gauges.
type QueueStatsFunc func() (pending, active int64)

// InitMetricsWithQueueStats creates instruments and optionally registers a callback
// for queue gauges. Call after InitMeterProvider. If stats is nil, queue gauges
// are not reported.
func InitMetricsWithQueueStats(ctx context.Context, stats QueueStatsFunc) error {
	if err := InitMetrics(ctx); err != nil {
		return err
	}
	if stats == nil {
		return nil
	}
	m := Meter()
	queueGauge, err := m.Int64ObservableGauge("p2pagents_queue_depth", metric.WithDescription("Pending tasks waiting for dispatch"))
	if err != nil {
		return err
	}
	activeGauge, err := m.Int64ObservableGauge("p2pagents_active_runs", metric.WithDescription("Runs currently executing"))
	if err != nil {
		return err
	}
	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		pending, active := stats()
		o.ObserveInt64(queueGauge, pending)
		o.ObserveInt64(activeGauge, active)
		return nil
	}, queueGauge, activeGauge)
	return err
}
