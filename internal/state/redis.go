package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-telemetry-pipeline/internal/telemetry"
)

const geoKey = "assets:geo"

// upsertScript implements strictly-newer-wins atomically: the slot is only
// replaced when the incoming timestamp is greater than the stored one, and
// the TTL is refreshed on every accepted write.
const upsertScript = `
local ts = redis.call("HGET", KEYS[1], "ts")
if ts and tonumber(ts) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "ts", ARGV[1], "record", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`

type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	upsert  *redis.Script
}

func NewRedisCache(client *redis.Client, ttl time.Duration, timeout time.Duration) *RedisCache {
	return &RedisCache{
		client:  client,
		ttl:     ttl,
		timeout: timeout,
		upsert:  redis.NewScript(upsertScript),
	}
}

func latestKey(assetID string, kind telemetry.Kind) string {
	return fmt.Sprintf("asset:%s:latest:%s", assetID, kind)
}

func statusKey(status telemetry.Status) string {
	return fmt.Sprintf("status:%s:assets", status)
}

func (c *RedisCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *RedisCache) UpsertLatest(ctx context.Context, rec telemetry.Record) (bool, error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	key := latestKey(rec.Asset(), rec.RecordKind())
	won, err := c.upsert.Run(ctx, c.client,
		[]string{key},
		rec.At().UnixMilli(),
		data,
		c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return won == 1, nil
}

func (c *RedisCache) GetLatest(ctx context.Context, assetID string, kind telemetry.Kind) (telemetry.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	raw, err := c.client.HGet(ctx, latestKey(assetID, kind), "record").Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return decodeRecord(kind, raw)
}

func (c *RedisCache) UpsertGeoPosition(ctx context.Context, assetID string, lon, lat float64) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.client.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      assetID,
		Longitude: lon,
		Latitude:  lat,
	}).Err()
}

func (c *RedisCache) SetStatusMembership(ctx context.Context, assetID string, status telemetry.Status) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	pipe := c.client.TxPipeline()
	for _, s := range telemetry.AllStatuses() {
		if s == status {
			continue
		}
		pipe.SRem(ctx, statusKey(s), assetID)
	}
	pipe.SAdd(ctx, statusKey(status), assetID)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) StatusMembers(ctx context.Context, status telemetry.Status) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.client.SMembers(ctx, statusKey(status)).Result()
}

func (c *RedisCache) SearchNearby(ctx context.Context, lon, lat, radiusMeters float64, limit int) ([]NearbyAsset, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	locs, err := c.client.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]NearbyAsset, 0, len(locs))
	for _, loc := range locs {
		out = append(out, NearbyAsset{
			AssetID:        loc.Name,
			Longitude:      loc.Longitude,
			Latitude:       loc.Latitude,
			DistanceMeters: loc.Dist,
		})
	}
	return out, nil
}

var _ Cache = (*RedisCache)(nil)
