// Package ingest wires one decoded message through the write path: durable
// history append first, then best-effort cache updates, then side-effect
// dispatch for events. Only decode rejections and history append failures
// escape a handler; cache, mirror, and dispatch problems are logged and
// absorbed so the stream keeps moving.
package ingest

import (
	"context"
	"log/slog"

	"fleet-telemetry-pipeline/internal/codec"
	"fleet-telemetry-pipeline/internal/history"
	"fleet-telemetry-pipeline/internal/state"
	"fleet-telemetry-pipeline/internal/telemetry"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/metricsx"
)

type EventDispatcher interface {
	Dispatch(ctx context.Context, ev *telemetry.DomainEvent) error
}

type LocationMirror interface {
	WriteLocation(ctx context.Context, rec *telemetry.LocationRecord) error
}

type Pipeline struct {
	log        logx.Logger
	cache      state.Cache
	store      history.Store
	dispatcher EventDispatcher
	mirror     LocationMirror
}

func NewPipeline(log logx.Logger, cache state.Cache, store history.Store, dispatcher EventDispatcher, mirror LocationMirror) *Pipeline {
	return &Pipeline{
		log:        log,
		cache:      cache,
		store:      store,
		dispatcher: dispatcher,
		mirror:     mirror,
	}
}

func (p *Pipeline) HandleLocation(ctx context.Context, payload []byte) error {
	rec, err := codec.Decode(telemetry.KindLocation, payload)
	if err != nil {
		return err
	}
	loc := rec.(*telemetry.LocationRecord)
	if err := p.store.Append(ctx, loc); err != nil {
		return err
	}
	if p.writeLatest(ctx, loc) {
		p.cacheWrite(ctx, "geo", loc.AssetID, func() error {
			return p.cache.UpsertGeoPosition(ctx, loc.AssetID, loc.Longitude, loc.Latitude)
		})
	}
	if p.mirror != nil {
		if err := p.mirror.WriteLocation(ctx, loc); err != nil {
			metricsx.IncMirrorWriteFailure()
			p.log.Warn(ctx, "mirror_write_failed", "time-series mirror write failed",
				slog.String("asset_id", loc.AssetID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (p *Pipeline) HandleStatus(ctx context.Context, payload []byte) error {
	rec, err := codec.Decode(telemetry.KindStatus, payload)
	if err != nil {
		return err
	}
	status := rec.(*telemetry.StatusRecord)
	if err := p.store.Append(ctx, status); err != nil {
		return err
	}
	if p.writeLatest(ctx, status) {
		p.cacheWrite(ctx, "membership", status.AssetID, func() error {
			return p.cache.SetStatusMembership(ctx, status.AssetID, status.Status)
		})
	}
	return nil
}

func (p *Pipeline) HandleEvent(ctx context.Context, payload []byte) error {
	rec, err := codec.Decode(telemetry.KindEvent, payload)
	if err != nil {
		return err
	}
	ev := rec.(*telemetry.DomainEvent)
	if err := p.store.Append(ctx, ev); err != nil {
		return err
	}
	p.writeLatest(ctx, ev)
	if p.dispatcher != nil {
		if err := p.dispatcher.Dispatch(ctx, ev); err != nil {
			p.log.Error(ctx, "dispatch_failed", "side effect not delivered",
				slog.String("asset_id", ev.AssetID),
				slog.String("event_type", string(ev.EventType)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// writeLatest updates the latest slot and reports whether the record won
// it. The geo and membership indexes only move when it did, so an
// out-of-order older record never drags a derived index behind the slot
// it is derived from.
func (p *Pipeline) writeLatest(ctx context.Context, rec telemetry.Record) bool {
	won, err := p.cache.UpsertLatest(ctx, rec)
	if err != nil {
		metricsx.IncCacheWriteFailure("latest")
		p.log.Warn(ctx, "cache_write_failed", "state cache write failed",
			slog.String("op", "latest"),
			slog.String("asset_id", rec.Asset()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return won
}

// cacheWrite runs one cache operation, demoting failure to a warning: the
// history store already holds the record, so the cache is free to lag.
func (p *Pipeline) cacheWrite(ctx context.Context, op string, assetID string, fn func() error) {
	if err := fn(); err != nil {
		metricsx.IncCacheWriteFailure(op)
		p.log.Warn(ctx, "cache_write_failed", "state cache write failed",
			slog.String("op", op),
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()),
		)
	}
}
