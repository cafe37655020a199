// Package history is the append-only durable record of every accepted
// telemetry record. Unlike the cache, a failed append is a correctness
// problem and surfaces to the ingest loop.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleet-telemetry-pipeline/internal/telemetry"
)

type Query struct {
	AssetID string
	Kind    telemetry.Kind // empty matches every kind
	Start   *time.Time
	End     *time.Time
	Limit   int
}

type NearbyRecord struct {
	Record         *telemetry.LocationRecord
	DistanceMeters float64
}

type Store interface {
	Append(ctx context.Context, rec telemetry.Record) error
	// QueryHistory returns records descending by timestamp, bounded by
	// q.Limit.
	QueryHistory(ctx context.Context, q Query) ([]telemetry.Record, error)
	// EventsByTrip returns the trip's events ascending by timestamp.
	EventsByTrip(ctx context.Context, tripID string) ([]*telemetry.DomainEvent, error)
	// LatestByStatus returns one most-recent status record per distinct
	// asset whose latest reported status matches, newest first.
	LatestByStatus(ctx context.Context, status telemetry.Status, limit int) ([]*telemetry.StatusRecord, error)
	// FindNearby searches the latest known location per asset, returning at
	// most one record per asset, ascending by distance.
	FindNearby(ctx context.Context, lon, lat, radiusMeters float64, limit int) ([]NearbyRecord, error)
}

// row-level attributes lifted out of a record for the store's filter
// columns.
type recordColumns struct {
	eventType *string
	status    *string
	tripID    *string
	longitude *float64
	latitude  *float64
}

func columnsFor(rec telemetry.Record) recordColumns {
	var cols recordColumns
	switch r := rec.(type) {
	case *telemetry.LocationRecord:
		lon, lat := r.Longitude, r.Latitude
		cols.longitude, cols.latitude = &lon, &lat
	case *telemetry.StatusRecord:
		s := string(r.Status)
		cols.status = &s
	case *telemetry.DomainEvent:
		t := string(r.EventType)
		cols.eventType = &t
		if r.TripInfo != nil && r.TripInfo.TripID != "" {
			id := r.TripInfo.TripID
			cols.tripID = &id
		}
		if r.Position != nil {
			lon, lat := r.Position.Longitude, r.Position.Latitude
			cols.longitude, cols.latitude = &lon, &lat
		}
	}
	return cols
}

func decodeStored(kind telemetry.Kind, data []byte) (telemetry.Record, error) {
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
	return nil, fmt.Errorf("unknown stored kind %q", kind)
}
