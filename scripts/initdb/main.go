// One-shot schema bootstrap for the history store. Safe to re-run.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"fleet-telemetry-pipeline/shared/config"
	"fleet-telemetry-pipeline/shared/dbx"
	"fleet-telemetry-pipeline/shared/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS telemetry_history (
	record_id   UUID PRIMARY KEY,
	asset_id    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	event_type  TEXT,
	status      TEXT,
	trip_id     TEXT,
	longitude   DOUBLE PRECISION,
	latitude    DOUBLE PRECISION,
	record      JSONB NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_history_asset_kind_ts
	ON telemetry_history (asset_id, kind, ts DESC);

CREATE INDEX IF NOT EXISTS idx_history_trip
	ON telemetry_history (trip_id)
	WHERE trip_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_history_kind_ts
	ON telemetry_history (kind, ts DESC);
`

func main() {
	cfg, problems := config.Load("initdb", 8082)
	logger := logx.New(cfg.ServiceName, cfg.Env, "", cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	pool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, schema); err != nil {
		logger.Error(ctx, "schema_apply_failed", "schema apply failed",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info(ctx, "schema_applied", "telemetry_history schema is in place")
}
