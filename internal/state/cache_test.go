package state

import (
	"context"
	"testing"
	"time"

	"fleet-telemetry-pipeline/internal/telemetry"
)

func locationAt(assetID string, ts time.Time, lon, lat float64) *telemetry.LocationRecord {
	return &telemetry.LocationRecord{
		AssetID:   assetID,
		Timestamp: telemetry.NewTimestamp(ts),
		Longitude: lon,
		Latitude:  lat,
	}
}

func TestUpsertLatestNewerWins(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	won, err := cache.UpsertLatest(ctx, locationAt("v1", base.Add(100*time.Second), 10, 20))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !won {
		t.Fatalf("first write must win the slot")
	}
	// A late-arriving older record must not replace the newer one.
	won, err = cache.UpsertLatest(ctx, locationAt("v1", base.Add(50*time.Second), 99, 99))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if won {
		t.Fatalf("older record must not win the slot")
	}

	rec, err := cache.GetLatest(ctx, "v1", telemetry.KindLocation)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	loc := rec.(*telemetry.LocationRecord)
	if loc.Longitude != 10 {
		t.Fatalf("older record overwrote newer: %+v", loc)
	}
}

func TestUpsertLatestTieKeepsExisting(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := cache.UpsertLatest(ctx, locationAt("v1", ts, 10, 20)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	won, err := cache.UpsertLatest(ctx, locationAt("v1", ts, 55, 66))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if won {
		t.Fatalf("equal-timestamp write must not win the slot")
	}

	rec, err := cache.GetLatest(ctx, "v1", telemetry.KindLocation)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.(*telemetry.LocationRecord).Longitude != 10 {
		t.Fatalf("equal-timestamp write replaced existing record")
	}
}

func TestGetLatestAbsent(t *testing.T) {
	cache := NewMemoryCache(time.Hour)
	rec, err := cache.GetLatest(context.Background(), "missing", telemetry.KindStatus)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for absent asset, got %+v", rec)
	}
}

func TestGetLatestExpired(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.SetClock(func() time.Time { return now })

	if _, err := cache.UpsertLatest(ctx, locationAt("v1", now, 10, 20)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	now = now.Add(2 * time.Minute)

	rec, err := cache.GetLatest(ctx, "v1", telemetry.KindLocation)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected expired entry to read as absent")
	}
}

func TestStatusMembershipExclusive(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)

	if err := cache.SetStatusMembership(ctx, "v1", telemetry.StatusIdle); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := cache.SetStatusMembership(ctx, "v1", telemetry.StatusMaintenance); err != nil {
		t.Fatalf("set: %v", err)
	}

	idle, err := cache.StatusMembers(ctx, telemetry.StatusIdle)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(idle) != 0 {
		t.Fatalf("asset still member of previous status set: %v", idle)
	}
	maint, err := cache.StatusMembers(ctx, telemetry.StatusMaintenance)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(maint) != 1 || maint[0] != "v1" {
		t.Fatalf("expected [v1], got %v", maint)
	}
}

func TestSearchNearbyOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)

	// Offsets in latitude degrees north of the query point; one degree of
	// latitude is roughly 111km.
	positions := map[string]float64{
		"near": 0.001, // ~111m
		"mid":  0.002, // ~222m
		"far":  0.004, // ~445m
		"out":  0.010, // ~1.1km, outside radius
	}
	for id, dlat := range positions {
		if err := cache.UpsertGeoPosition(ctx, id, 10, 45+dlat); err != nil {
			t.Fatalf("geo upsert: %v", err)
		}
	}

	hits, err := cache.SearchNearby(ctx, 10, 45, 500, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].AssetID != "near" || hits[1].AssetID != "mid" {
		t.Fatalf("expected [near mid] in ascending distance, got %v", hits)
	}
	if hits[0].DistanceMeters >= hits[1].DistanceMeters {
		t.Fatalf("hits not sorted by distance: %v", hits)
	}
}

func TestSearchNearbyDedupesToLatestPosition(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(time.Hour)

	if err := cache.UpsertGeoPosition(ctx, "v1", 10, 45.004); err != nil {
		t.Fatalf("geo upsert: %v", err)
	}
	if err := cache.UpsertGeoPosition(ctx, "v1", 10, 45.001); err != nil {
		t.Fatalf("geo upsert: %v", err)
	}

	hits, err := cache.SearchNearby(ctx, 10, 45, 500, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one entry per asset, got %d", len(hits))
	}
	if hits[0].DistanceMeters > 150 {
		t.Fatalf("expected the most recent position, got distance %v", hits[0].DistanceMeters)
	}
}
