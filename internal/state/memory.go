package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleet-telemetry-pipeline/internal/geo"
	"fleet-telemetry-pipeline/internal/telemetry"
)

// MemoryCache mirrors the Redis cache semantics in process memory. It backs
// package tests and small deployments that run without Redis.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	latest  map[string]map[telemetry.Kind]memoryEntry
	geo     map[string]Position
	members map[telemetry.Status]map[string]struct{}
}

type memoryEntry struct {
	at        time.Time
	expiresAt time.Time
	data      []byte
}

type Position struct {
	Longitude float64
	Latitude  float64
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		latest:  make(map[string]map[telemetry.Kind]memoryEntry),
		geo:     make(map[string]Position),
		members: make(map[telemetry.Status]map[string]struct{}),
	}
}

// SetClock overrides the expiry clock, for tests.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryCache) UpsertLatest(_ context.Context, rec telemetry.Record) (bool, error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	slots := c.latest[rec.Asset()]
	if slots == nil {
		slots = make(map[telemetry.Kind]memoryEntry)
		c.latest[rec.Asset()] = slots
	}
	if existing, ok := slots[rec.RecordKind()]; ok && !c.expired(existing) {
		if !rec.At().After(existing.at) {
			return false, nil
		}
	}
	slots[rec.RecordKind()] = memoryEntry{
		at:        rec.At(),
		expiresAt: c.now().Add(c.ttl),
		data:      data,
	}
	return true, nil
}

func (c *MemoryCache) GetLatest(_ context.Context, assetID string, kind telemetry.Kind) (telemetry.Record, error) {
	c.mu.Lock()
	entry, ok := c.latest[assetID][kind]
	expired := ok && c.expired(entry)
	c.mu.Unlock()
	if !ok || expired {
		return nil, nil
	}
	return decodeRecord(kind, entry.data)
}

func (c *MemoryCache) expired(e memoryEntry) bool {
	return c.ttl > 0 && c.now().After(e.expiresAt)
}

func (c *MemoryCache) UpsertGeoPosition(_ context.Context, assetID string, lon, lat float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.geo[assetID] = Position{Longitude: lon, Latitude: lat}
	return nil
}

func (c *MemoryCache) SetStatusMembership(_ context.Context, assetID string, status telemetry.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range telemetry.AllStatuses() {
		if s == status {
			continue
		}
		delete(c.members[s], assetID)
	}
	set := c.members[status]
	if set == nil {
		set = make(map[string]struct{})
		c.members[status] = set
	}
	set[assetID] = struct{}{}
	return nil
}

func (c *MemoryCache) StatusMembers(_ context.Context, status telemetry.Status) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.members[status]))
	for id := range c.members[status] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (c *MemoryCache) SearchNearby(_ context.Context, lon, lat, radiusMeters float64, limit int) ([]NearbyAsset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NearbyAsset, 0, len(c.geo))
	for id, pos := range c.geo {
		d := geo.DistanceMeters(lon, lat, pos.Longitude, pos.Latitude)
		if d > radiusMeters {
			continue
		}
		out = append(out, NearbyAsset{
			AssetID:        id,
			Longitude:      pos.Longitude,
			Latitude:       pos.Latitude,
			DistanceMeters: d,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMeters < out[j].DistanceMeters })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Cache = (*MemoryCache)(nil)
