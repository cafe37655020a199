package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"fleet-telemetry-pipeline/internal/telemetry"
	"fleet-telemetry-pipeline/shared/logx"
)

func testLogger() logx.Logger {
	return logx.New("dispatch-test", "test", "", "error")
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type fakePublisher struct {
	topic string
	key   []byte
	value []byte
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key []byte, value []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topic, f.key, f.value = topic, key, value
	return nil
}

func eventOf(assetID string, typ telemetry.EventType) *telemetry.DomainEvent {
	return &telemetry.DomainEvent{
		AssetID:   assetID,
		Timestamp: telemetry.NewTimestamp(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		EventType: typ,
	}
}

func TestDispatchMaintenanceDueEnqueuesTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	d := New(testLogger(), enq, nil, "telemetry.alerts", "notifications")

	ev := eventOf("v1", telemetry.EventMaintenanceDue)
	ev.Description = "brake pads below threshold"
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(enq.tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(enq.tasks))
	}
	task := enq.tasks[0]
	if task.Type() != TaskMaintenanceNotify {
		t.Fatalf("unexpected task type %s", task.Type())
	}
	var payload MaintenancePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.AssetID != "v1" || payload.Reason != "brake pads below threshold" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDispatchMaintenanceDueDefaultsReasonToType(t *testing.T) {
	enq := &fakeEnqueuer{}
	d := New(testLogger(), enq, nil, "telemetry.alerts", "notifications")

	if err := d.Dispatch(context.Background(), eventOf("v1", telemetry.EventMaintenanceDue)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var payload MaintenancePayload
	if err := json.Unmarshal(enq.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Reason != string(telemetry.EventMaintenanceDue) {
		t.Fatalf("expected event type as reason, got %q", payload.Reason)
	}
}

func TestDispatchEnqueueFailureReturnsError(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis unreachable")}
	d := New(testLogger(), enq, nil, "telemetry.alerts", "notifications")

	if err := d.Dispatch(context.Background(), eventOf("v1", telemetry.EventMaintenanceDue)); err == nil {
		t.Fatalf("expected enqueue failure to surface")
	}
}

func TestDispatchBatteryLowPublishesAlert(t *testing.T) {
	pub := &fakePublisher{}
	d := New(testLogger(), nil, pub, "telemetry.alerts", "notifications")

	ev := eventOf("v7", telemetry.EventBatteryLow)
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if pub.topic != "telemetry.alerts" {
		t.Fatalf("unexpected topic %s", pub.topic)
	}
	if string(pub.key) != "v7" {
		t.Fatalf("expected asset id key, got %s", pub.key)
	}
	var echoed telemetry.DomainEvent
	if err := json.Unmarshal(pub.value, &echoed); err != nil {
		t.Fatalf("alert payload: %v", err)
	}
	if echoed.EventType != telemetry.EventBatteryLow {
		t.Fatalf("unexpected alert event type %s", echoed.EventType)
	}
}

func TestDispatchUnmappedEventIsNoOp(t *testing.T) {
	enq := &fakeEnqueuer{}
	pub := &fakePublisher{}
	d := New(testLogger(), enq, pub, "telemetry.alerts", "notifications")

	if err := d.Dispatch(context.Background(), eventOf("v1", telemetry.EventGeofenceEnter)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(enq.tasks) != 0 || pub.topic != "" {
		t.Fatalf("unmapped event must trigger no side effect")
	}
}

func TestDispatchTripCompletedLogsOnly(t *testing.T) {
	enq := &fakeEnqueuer{}
	pub := &fakePublisher{}
	d := New(testLogger(), enq, pub, "telemetry.alerts", "notifications")

	ev := eventOf("v1", telemetry.EventTripCompleted)
	ev.TripInfo = &telemetry.TripInfo{TripID: "trip-9", DistanceKM: 42.5, DurationSec: 3600}
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(enq.tasks) != 0 || pub.topic != "" {
		t.Fatalf("trip summary must not enqueue or publish")
	}
}
