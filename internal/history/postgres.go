package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-telemetry-pipeline/internal/telemetry"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, rec telemetry.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	cols := columnsFor(rec)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO telemetry_history
			(record_id, asset_id, kind, ts, event_type, status, trip_id, longitude, latitude, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, uuid.New(), rec.Asset(), string(rec.RecordKind()), rec.At(),
		cols.eventType, cols.status, cols.tripID, cols.longitude, cols.latitude, data)
	if err != nil {
		return fmt.Errorf("append %s record for %s: %w", rec.RecordKind(), rec.Asset(), err)
	}
	return nil
}

func (s *PostgresStore) QueryHistory(ctx context.Context, q Query) ([]telemetry.Record, error) {
	sql := `SELECT kind, record FROM telemetry_history WHERE asset_id = $1`
	args := []any{q.AssetID}
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		sql += ` AND kind = $` + strconv.Itoa(len(args))
	}
	if q.Start != nil {
		args = append(args, *q.Start)
		sql += ` AND ts >= $` + strconv.Itoa(len(args))
	}
	if q.End != nil {
		args = append(args, *q.End)
		sql += ` AND ts <= $` + strconv.Itoa(len(args))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	sql += ` ORDER BY ts DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) EventsByTrip(ctx context.Context, tripID string) ([]*telemetry.DomainEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT record FROM telemetry_history
		WHERE kind = 'event' AND trip_id = $1
		ORDER BY ts ASC
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*telemetry.DomainEvent
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev telemetry.DomainEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LatestByStatus(ctx context.Context, status telemetry.Status, limit int) ([]*telemetry.StatusRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT record FROM (
			SELECT DISTINCT ON (asset_id) asset_id, ts, status, record
			FROM telemetry_history
			WHERE kind = 'status'
			ORDER BY asset_id, ts DESC
		) latest
		WHERE status = $1
		ORDER BY ts DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*telemetry.StatusRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec telemetry.StatusRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindNearby(ctx context.Context, lon, lat, radiusMeters float64, limit int) ([]NearbyRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	// Haversine over the latest location row per asset; DISTINCT ON keeps
	// the result to one row per asset before the distance filter.
	rows, err := s.pool.Query(ctx, `
		SELECT record, distance FROM (
			SELECT record,
				2 * 6371000 * asin(sqrt(
					power(sin(radians(latitude - $2) / 2), 2) +
					cos(radians($2)) * cos(radians(latitude)) *
					power(sin(radians(longitude - $1) / 2), 2)
				)) AS distance
			FROM (
				SELECT DISTINCT ON (asset_id) asset_id, ts, longitude, latitude, record
				FROM telemetry_history
				WHERE kind = 'location' AND longitude IS NOT NULL AND latitude IS NOT NULL
				ORDER BY asset_id, ts DESC
			) latest
		) measured
		WHERE distance <= $3
		ORDER BY distance ASC
		LIMIT $4
	`, lon, lat, radiusMeters, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NearbyRecord
	for rows.Next() {
		var raw []byte
		var distance float64
		if err := rows.Scan(&raw, &distance); err != nil {
			return nil, err
		}
		var rec telemetry.LocationRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, NearbyRecord{Record: &rec, DistanceMeters: distance})
	}
	return out, rows.Err()
}

func scanRecords(rows pgx.Rows) ([]telemetry.Record, error) {
	var out []telemetry.Record
	for rows.Next() {
		var kind string
		var raw []byte
		if err := rows.Scan(&kind, &raw); err != nil {
			return nil, err
		}
		rec, err := decodeStored(telemetry.Kind(kind), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
