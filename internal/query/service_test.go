package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleet-telemetry-pipeline/internal/history"
	"fleet-telemetry-pipeline/internal/state"
	"fleet-telemetry-pipeline/internal/telemetry"
	"fleet-telemetry-pipeline/shared/logx"
)

func testLogger() logx.Logger {
	return logx.New("query-test", "test", "", "error")
}

type brokenCache struct{}

func (brokenCache) UpsertLatest(context.Context, telemetry.Record) (bool, error) {
	return false, errors.New("down")
}
func (brokenCache) GetLatest(context.Context, string, telemetry.Kind) (telemetry.Record, error) {
	return nil, errors.New("down")
}
func (brokenCache) UpsertGeoPosition(context.Context, string, float64, float64) error {
	return errors.New("down")
}
func (brokenCache) SetStatusMembership(context.Context, string, telemetry.Status) error {
	return errors.New("down")
}
func (brokenCache) StatusMembers(context.Context, telemetry.Status) ([]string, error) {
	return nil, errors.New("down")
}
func (brokenCache) SearchNearby(context.Context, float64, float64, float64, int) ([]state.NearbyAsset, error) {
	return nil, errors.New("down")
}

func locationAt(assetID string, ts time.Time, lon, lat float64) *telemetry.LocationRecord {
	return &telemetry.LocationRecord{
		AssetID:   assetID,
		Timestamp: telemetry.NewTimestamp(ts),
		Longitude: lon,
		Latitude:  lat,
	}
}

func statusAt(assetID string, ts time.Time, st telemetry.Status) *telemetry.StatusRecord {
	return &telemetry.StatusRecord{
		AssetID:   assetID,
		Timestamp: telemetry.NewTimestamp(ts),
		Status:    st,
	}
}

func TestGetLatestCacheHit(t *testing.T) {
	ctx := context.Background()
	cache := state.NewMemoryCache(time.Hour)
	store := history.NewMemoryStore()
	svc := NewService(testLogger(), cache, store, time.Hour)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := cache.UpsertLatest(ctx, locationAt("v1", ts, 10, 45)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err := svc.GetLatest(ctx, "v1", telemetry.KindLocation)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil || rec.Asset() != "v1" {
		t.Fatalf("expected cached record, got %v", rec)
	}
}

func TestGetLatestFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	svc := NewService(testLogger(), brokenCache{}, store, time.Hour)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Append(ctx, locationAt("v1", ts, 10, 45)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, locationAt("v1", ts.Add(time.Minute), 11, 46)); err != nil {
		t.Fatalf("append: %v", err)
	}

	rec, err := svc.GetLatest(ctx, "v1", telemetry.KindLocation)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	loc, ok := rec.(*telemetry.LocationRecord)
	if !ok || loc.Longitude != 11 {
		t.Fatalf("expected newest stored record, got %v", rec)
	}
}

func TestGetLatestAbsentAsset(t *testing.T) {
	svc := NewService(testLogger(), state.NewMemoryCache(time.Hour), history.NewMemoryStore(), time.Hour)
	rec, err := svc.GetLatest(context.Background(), "ghost", telemetry.KindStatus)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected (nil, nil) for unknown asset, got %v", rec)
	}
}

func TestGetNearbyFiltersStalePositions(t *testing.T) {
	ctx := context.Background()
	cache := state.NewMemoryCache(24 * time.Hour)
	store := history.NewMemoryStore()
	svc := NewService(testLogger(), cache, store, time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	fresh := locationAt("fresh", now.Add(-10*time.Minute), 10, 45.001)
	stale := locationAt("stale", now.Add(-3*time.Hour), 10, 45.002)
	for _, rec := range []*telemetry.LocationRecord{fresh, stale} {
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
		if _, err := cache.UpsertLatest(ctx, rec); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := cache.UpsertGeoPosition(ctx, rec.AssetID, rec.Longitude, rec.Latitude); err != nil {
			t.Fatalf("geo: %v", err)
		}
	}

	hits, err := svc.GetNearby(ctx, 10, 45, 500, 10)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected stale position filtered out, got %d hits", len(hits))
	}
	if hits[0].Record.AssetID != "fresh" {
		t.Fatalf("expected fresh asset, got %s", hits[0].Record.AssetID)
	}
}

func TestGetNearbyFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	svc := NewService(testLogger(), brokenCache{}, store, time.Hour)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Append(ctx, locationAt("v1", ts, 10, 45.001)); err != nil {
		t.Fatalf("append: %v", err)
	}

	hits, err := svc.GetNearby(ctx, 10, 45, 500, 10)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(hits) != 1 || hits[0].Record.AssetID != "v1" {
		t.Fatalf("expected store fallback hit, got %v", hits)
	}
}

func TestGetByStatusFastPath(t *testing.T) {
	ctx := context.Background()
	cache := state.NewMemoryCache(time.Hour)
	store := history.NewMemoryStore()
	svc := NewService(testLogger(), cache, store, time.Hour)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"v1", "v2"} {
		rec := statusAt(id, ts.Add(time.Duration(i)*time.Minute), telemetry.StatusActive)
		if _, err := cache.UpsertLatest(ctx, rec); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := cache.SetStatusMembership(ctx, id, telemetry.StatusActive); err != nil {
			t.Fatalf("membership: %v", err)
		}
	}

	recs, err := svc.GetByStatus(ctx, telemetry.StatusActive, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].AssetID != "v2" {
		t.Fatalf("expected newest report first, got %s", recs[0].AssetID)
	}
}

func TestGetByStatusFallsBackOnPartialCache(t *testing.T) {
	ctx := context.Background()
	cache := state.NewMemoryCache(time.Hour)
	store := history.NewMemoryStore()
	svc := NewService(testLogger(), cache, store, time.Hour)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Membership knows about v1 but its latest slot is missing; the store
	// reduction must answer instead.
	if err := cache.SetStatusMembership(ctx, "v1", telemetry.StatusIdle); err != nil {
		t.Fatalf("membership: %v", err)
	}
	if err := store.Append(ctx, statusAt("v1", ts, telemetry.StatusIdle)); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := svc.GetByStatus(ctx, telemetry.StatusIdle, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recs) != 1 || recs[0].AssetID != "v1" {
		t.Fatalf("expected store fallback record, got %v", recs)
	}
}
