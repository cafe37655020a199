package history

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"fleet-telemetry-pipeline/internal/geo"
	"fleet-telemetry-pipeline/internal/telemetry"
)

// MemoryStore implements the same query semantics as the Postgres store
// over an in-process slice. It backs package tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows []memoryRow
}

type memoryRow struct {
	assetID string
	kind    telemetry.Kind
	ts      time.Time
	cols    recordColumns
	data    []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec telemetry.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, memoryRow{
		assetID: rec.Asset(),
		kind:    rec.RecordKind(),
		ts:      rec.At(),
		cols:    columnsFor(rec),
		data:    data,
	})
	return nil
}

func (s *MemoryStore) QueryHistory(_ context.Context, q Query) ([]telemetry.Record, error) {
	s.mu.Lock()
	matched := make([]memoryRow, 0)
	for _, row := range s.rows {
		if row.assetID != q.AssetID {
			continue
		}
		if q.Kind != "" && row.kind != q.Kind {
			continue
		}
		if q.Start != nil && row.ts.Before(*q.Start) {
			continue
		}
		if q.End != nil && row.ts.After(*q.End) {
			continue
		}
		matched = append(matched, row)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ts.After(matched[j].ts) })
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]telemetry.Record, 0, len(matched))
	for _, row := range matched {
		rec, err := decodeStored(row.kind, row.data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) EventsByTrip(_ context.Context, tripID string) ([]*telemetry.DomainEvent, error) {
	s.mu.Lock()
	matched := make([]memoryRow, 0)
	for _, row := range s.rows {
		if row.kind != telemetry.KindEvent || row.cols.tripID == nil || *row.cols.tripID != tripID {
			continue
		}
		matched = append(matched, row)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ts.Before(matched[j].ts) })
	out := make([]*telemetry.DomainEvent, 0, len(matched))
	for _, row := range matched {
		var ev telemetry.DomainEvent
		if err := json.Unmarshal(row.data, &ev); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, nil
}

func (s *MemoryStore) LatestByStatus(_ context.Context, status telemetry.Status, limit int) ([]*telemetry.StatusRecord, error) {
	s.mu.Lock()
	latest := make(map[string]memoryRow)
	for _, row := range s.rows {
		if row.kind != telemetry.KindStatus {
			continue
		}
		if cur, ok := latest[row.assetID]; !ok || row.ts.After(cur.ts) {
			latest[row.assetID] = row
		}
	}
	s.mu.Unlock()

	matched := make([]memoryRow, 0, len(latest))
	for _, row := range latest {
		if row.cols.status != nil && *row.cols.status == string(status) {
			matched = append(matched, row)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ts.After(matched[j].ts) })
	if limit <= 0 {
		limit = 100
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*telemetry.StatusRecord, 0, len(matched))
	for _, row := range matched {
		var rec telemetry.StatusRecord
		if err := json.Unmarshal(row.data, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *MemoryStore) FindNearby(_ context.Context, lon, lat, radiusMeters float64, limit int) ([]NearbyRecord, error) {
	s.mu.Lock()
	latest := make(map[string]memoryRow)
	for _, row := range s.rows {
		if row.kind != telemetry.KindLocation || row.cols.longitude == nil {
			continue
		}
		if cur, ok := latest[row.assetID]; !ok || row.ts.After(cur.ts) {
			latest[row.assetID] = row
		}
	}
	s.mu.Unlock()

	out := make([]NearbyRecord, 0, len(latest))
	for _, row := range latest {
		d := geo.DistanceMeters(lon, lat, *row.cols.longitude, *row.cols.latitude)
		if d > radiusMeters {
			continue
		}
		var rec telemetry.LocationRecord
		if err := json.Unmarshal(row.data, &rec); err != nil {
			return nil, err
		}
		out = append(out, NearbyRecord{Record: &rec, DistanceMeters: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
