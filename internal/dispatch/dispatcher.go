// Package dispatch routes domain events to their side effects. Side
// effects never gate the durable write: the event is already in the
// history store by the time Dispatch runs, and any failure here is logged
// and counted, not propagated into the ingest path.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"fleet-telemetry-pipeline/internal/telemetry"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/metricsx"
)

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type AlertPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte) error
}

type Dispatcher struct {
	log        logx.Logger
	enqueuer   Enqueuer
	alerts     AlertPublisher
	alertTopic string
	queue      string
}

func New(log logx.Logger, enqueuer Enqueuer, alerts AlertPublisher, alertTopic string, queue string) *Dispatcher {
	return &Dispatcher{
		log:        log,
		enqueuer:   enqueuer,
		alerts:     alerts,
		alertTopic: alertTopic,
		queue:      queue,
	}
}

// Dispatch routes one event by type. The returned error is informational;
// callers log it and keep going.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *telemetry.DomainEvent) error {
	switch ev.EventType {
	case telemetry.EventMaintenanceDue:
		return d.enqueueMaintenance(ctx, ev)
	case telemetry.EventBatteryLow, telemetry.EventFuelLow:
		return d.publishAlert(ctx, ev)
	case telemetry.EventTripCompleted:
		d.logTripSummary(ctx, ev)
		return nil
	}
	return nil
}

func (d *Dispatcher) enqueueMaintenance(ctx context.Context, ev *telemetry.DomainEvent) error {
	if d.enqueuer == nil {
		return fmt.Errorf("maintenance notify for %s: no task queue configured", ev.AssetID)
	}
	reason := ev.Description
	if reason == "" {
		reason = string(ev.EventType)
	}
	task, err := NewMaintenanceTask(MaintenancePayload{
		AssetID:  ev.AssetID,
		Reason:   reason,
		Priority: "NORMAL",
		Metadata: ev.Metadata,
	}, d.queue)
	if err != nil {
		metricsx.IncDispatchFailure(string(ev.EventType))
		return err
	}
	if _, err := d.enqueuer.EnqueueContext(ctx, task); err != nil {
		metricsx.IncDispatchFailure(string(ev.EventType))
		return fmt.Errorf("enqueue maintenance notify for %s: %w", ev.AssetID, err)
	}
	return nil
}

func (d *Dispatcher) publishAlert(ctx context.Context, ev *telemetry.DomainEvent) error {
	d.log.Warn(ctx, "asset_alert", "low resource alert",
		slog.String("asset_id", ev.AssetID),
		slog.String("event_type", string(ev.EventType)),
		slog.String("description", ev.Description),
	)
	if d.alerts == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		metricsx.IncDispatchFailure(string(ev.EventType))
		return err
	}
	if err := d.alerts.Publish(ctx, d.alertTopic, []byte(ev.AssetID), payload); err != nil {
		metricsx.IncDispatchFailure(string(ev.EventType))
		return fmt.Errorf("publish alert for %s: %w", ev.AssetID, err)
	}
	return nil
}

func (d *Dispatcher) logTripSummary(ctx context.Context, ev *telemetry.DomainEvent) {
	attrs := []slog.Attr{
		slog.String("asset_id", ev.AssetID),
	}
	if ev.TripInfo != nil {
		attrs = append(attrs,
			slog.String("trip_id", ev.TripInfo.TripID),
			slog.Float64("distance_km", ev.TripInfo.DistanceKM),
			slog.Float64("duration_seconds", ev.TripInfo.DurationSec),
		)
	}
	d.log.Info(ctx, "trip_completed", "trip summary", attrs...)
}
