// Package state holds the low-latency current-state view: one latest slot
// per (asset, kind), a single geospatial entry per asset, and exclusive
// per-status membership sets. The cache is a performance layer; the history
// store stays authoritative whether or not cache writes succeed.
package state

import (
	"context"
	"encoding/json"
	"fmt"

	"fleet-telemetry-pipeline/internal/telemetry"
)

type NearbyAsset struct {
	AssetID        string
	Longitude      float64
	Latitude       float64
	DistanceMeters float64
}

type Cache interface {
	// UpsertLatest writes the record into the asset's latest slot only if
	// its timestamp is strictly newer than the cached one; ties keep the
	// existing value so redelivery is idempotent. It reports whether the
	// write won the slot, so derived indexes (geo, membership) can follow
	// the same newest-wins rule.
	UpsertLatest(ctx context.Context, rec telemetry.Record) (bool, error)
	// GetLatest returns (nil, nil) when no live entry exists.
	GetLatest(ctx context.Context, assetID string, kind telemetry.Kind) (telemetry.Record, error)
	// UpsertGeoPosition moves the asset's single geo index entry; it is not
	// subject to the cache TTL, staleness is filtered at query time.
	UpsertGeoPosition(ctx context.Context, assetID string, lon, lat float64) error
	// SetStatusMembership places the asset in exactly one status set.
	SetStatusMembership(ctx context.Context, assetID string, status telemetry.Status) error
	StatusMembers(ctx context.Context, status telemetry.Status) ([]string, error)
	// SearchNearby returns at most limit assets within radiusMeters of the
	// point, ascending by distance, one entry per asset.
	SearchNearby(ctx context.Context, lon, lat, radiusMeters float64, limit int) ([]NearbyAsset, error)
}

func encodeRecord(rec telemetry.Record) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeRecord(kind telemetry.Kind, data []byte) (telemetry.Record, error) {
	switch kind {
	case telemetry.KindLocation:
		var rec telemetry.LocationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		return &rec, nil
	case telemetry.KindStatus:
		var rec telemetry.StatusRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		return &rec, nil
	case telemetry.KindEvent:
		var ev telemetry.DomainEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return &ev, nil
	}
	return nil, fmt.Errorf("unknown record kind %q", kind)
}
