package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"fleet-telemetry-pipeline/shared/clients/maintenance"
	"fleet-telemetry-pipeline/shared/logx"
)

// HandleMaintenanceNotify is the asynq handler that delivers a queued
// maintenance notification. The task carries MaxRetry 0, so a returned
// error records the failure without re-delivery.
func HandleMaintenanceNotify(log logx.Logger, client *maintenance.Client) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p MaintenancePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			log.Error(ctx, "notify_payload_invalid", "unreadable maintenance task payload",
				slog.String("error", err.Error()),
			)
			return err
		}
		if err := client.Notify(ctx, maintenance.Notification{
			AssetID:  p.AssetID,
			Reason:   p.Reason,
			Priority: p.Priority,
			Metadata: p.Metadata,
		}); err != nil {
			log.Error(ctx, "notify_failed", "maintenance notification not delivered",
				slog.String("asset_id", p.AssetID),
				slog.String("reason", p.Reason),
				slog.String("error", err.Error()),
			)
			return err
		}
		log.Info(ctx, "notify_sent", "maintenance notification delivered",
			slog.String("asset_id", p.AssetID),
			slog.String("reason", p.Reason),
		)
		return nil
	}
}
