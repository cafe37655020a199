package ingest

import (
	"context"

	"fleet-telemetry-pipeline/internal/telemetry"
	"fleet-telemetry-pipeline/shared/influxx"
)

// InfluxMirror forwards accepted location records to the operational
// time-series store for live dashboards. It is optional and never part of
// the read path.
type InfluxMirror struct {
	client *influxx.Client
}

func NewInfluxMirror(client *influxx.Client) *InfluxMirror {
	return &InfluxMirror{client: client}
}

func (m *InfluxMirror) WriteLocation(ctx context.Context, rec *telemetry.LocationRecord) error {
	return m.client.WritePoint(ctx, "asset_location",
		map[string]string{
			"asset_id": rec.AssetID,
		},
		map[string]any{
			"longitude": rec.Longitude,
			"latitude":  rec.Latitude,
			"speed":     rec.Speed,
			"heading":   rec.Heading,
			"altitude":  rec.Altitude,
		},
		rec.Timestamp.Time,
	)
}
