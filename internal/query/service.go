// Package query is the read API consumed by the external HTTP layer. Every
// lookup tries the state cache first and falls back to the history store;
// absence is a normal outcome, not an error.
package query

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"fleet-telemetry-pipeline/internal/history"
	"fleet-telemetry-pipeline/internal/state"
	"fleet-telemetry-pipeline/internal/telemetry"
	"fleet-telemetry-pipeline/shared/logx"
)

type Service struct {
	log         logx.Logger
	cache       state.Cache
	store       history.Store
	staleCutoff time.Duration
	now         func() time.Time
}

func NewService(log logx.Logger, cache state.Cache, store history.Store, staleCutoff time.Duration) *Service {
	return &Service{
		log:         log,
		cache:       cache,
		store:       store,
		staleCutoff: staleCutoff,
		now:         time.Now,
	}
}

// SetClock overrides the staleness clock, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// GetLatest returns the freshest record of the given kind for the asset,
// or (nil, nil) when the asset has never reported one.
func (s *Service) GetLatest(ctx context.Context, assetID string, kind telemetry.Kind) (telemetry.Record, error) {
	rec, err := s.cache.GetLatest(ctx, assetID, kind)
	if err != nil {
		s.log.Warn(ctx, "cache_read_failed", "falling back to history store",
			slog.String("asset_id", assetID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
	if rec != nil {
		return rec, nil
	}
	records, err := s.store.QueryHistory(ctx, history.Query{AssetID: assetID, Kind: kind, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (s *Service) GetHistory(ctx context.Context, q history.Query) ([]telemetry.Record, error) {
	return s.store.QueryHistory(ctx, q)
}

func (s *Service) GetTripEvents(ctx context.Context, tripID string) ([]*telemetry.DomainEvent, error) {
	return s.store.EventsByTrip(ctx, tripID)
}

// GetNearby returns at most one record per asset within the radius,
// ascending by distance. The geo index serves the fast path; positions
// older than the staleness cutoff are dropped from it, and any index
// failure falls back to the store's proximity query.
func (s *Service) GetNearby(ctx context.Context, lon, lat, radiusMeters float64, limit int) ([]history.NearbyRecord, error) {
	nearby, err := s.cache.SearchNearby(ctx, lon, lat, radiusMeters, limit)
	if err != nil {
		s.log.Warn(ctx, "geo_search_failed", "falling back to history store",
			slog.String("error", err.Error()),
		)
		return s.store.FindNearby(ctx, lon, lat, radiusMeters, limit)
	}
	if len(nearby) == 0 {
		return s.store.FindNearby(ctx, lon, lat, radiusMeters, limit)
	}

	cutoff := s.now().Add(-s.staleCutoff)
	out := make([]history.NearbyRecord, 0, len(nearby))
	for _, hit := range nearby {
		rec, err := s.latestLocation(ctx, hit.AssetID)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, history.NearbyRecord{Record: rec, DistanceMeters: hit.DistanceMeters})
	}
	return out, nil
}

func (s *Service) latestLocation(ctx context.Context, assetID string) (*telemetry.LocationRecord, error) {
	rec, err := s.GetLatest(ctx, assetID, telemetry.KindLocation)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	loc, ok := rec.(*telemetry.LocationRecord)
	if !ok {
		return nil, nil
	}
	return loc, nil
}

// GetByStatus returns one most-recent status record per asset whose latest
// reported status matches. The membership sets give the fast path; any gap
// or cache failure falls back to the store's group-by reduction.
func (s *Service) GetByStatus(ctx context.Context, status telemetry.Status, limit int) ([]*telemetry.StatusRecord, error) {
	members, err := s.cache.StatusMembers(ctx, status)
	if err != nil {
		s.log.Warn(ctx, "membership_read_failed", "falling back to history store",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return s.store.LatestByStatus(ctx, status, limit)
	}
	if len(members) == 0 {
		return s.store.LatestByStatus(ctx, status, limit)
	}

	out := make([]*telemetry.StatusRecord, 0, len(members))
	for _, assetID := range members {
		rec, err := s.cache.GetLatest(ctx, assetID, telemetry.KindStatus)
		if err != nil || rec == nil {
			// An expired slot means the cache view is partial; the store
			// reduction is complete.
			return s.store.LatestByStatus(ctx, status, limit)
		}
		statusRec, ok := rec.(*telemetry.StatusRecord)
		if !ok {
			continue
		}
		out = append(out, statusRec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp.Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
