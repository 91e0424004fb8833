package otel

import (
	"context"
	"testing"
	"time"
)

func TestInitMetrics_RecordTask(t *testing.T) {
	ctx := context.Background()
	_, err := InitMeterProvider(ctx, "metrics-test")
	if err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	RecordTask(ctx, "human")
	RecordTask(ctx, "scheduled")
}

func TestAddSSEConnection_RemoveSSEConnection(t *testing.T) {
	AddSSEConnection()
	AddSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection()
	RemoveSSEConnection() // should not go negative
}

func TestRecordRun_RecordTokens_RecordSSEEvent(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "record-test")
	_ = InitMetrics(ctx)
	RecordRun(ctx, "compliance", "complete", 100*time.Millisecond)
	RecordRetry(ctx, "compliance")
	RecordTokens(ctx, "compliance", "claude-sonnet-4-5", 1200, 450)
	RecordBriefing(ctx)
	RecordChatPost(ctx, "slack")
	RecordSSEEvent(ctx)
}

func TestInitMetricsWithQueueStats(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "queuestats-test")
	err := InitMetricsWithQueueStats(ctx, func() (pending, active int64) {
		return 4, 2
	})
	if err != nil {
		t.Fatalf("InitMetricsWithQueueStats: %v", err)
	}
}

func TestInitMetricsWithQueueStats_nilFunc(t *testing.T) {
	ctx := context.Background()
	_, _ = InitMeterProvider(ctx, "queuestats-nil-test")
	err := InitMetricsWithQueueStats(ctx, nil)
	if err != nil {
		t.Fatalf("InitMetricsWithQueueStats(nil): %v", err)
	}
}
