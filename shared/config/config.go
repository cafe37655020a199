package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env         string
	ServiceName string
	HTTPPort    int
	LogLevel    string

	KafkaBrokers  []string
	KafkaGroupID  string
	KafkaClientID string

	TopicLocation string
	TopicStatus   string
	TopicEvent    string
	TopicAlerts   string

	ConnectRetryMax      int
	ConnectRetryInterval time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CacheTTL       time.Duration
	GeoStaleCutoff time.Duration
	CacheTimeoutMS int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	MaintenanceURL       string
	MaintenanceTimeoutMS int

	InfluxEnabled   bool
	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

// Load reads configuration from the environment, applying defaults for
// everything except the fields each binary validates for itself. A local
// .env file is merged in first when present, without overriding real
// environment variables.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	_ = godotenv.Load()

	problems := make([]Problem, 0, 4)

	cfg := Config{
		Env:                  getString("ENV", "dev"),
		ServiceName:          serviceNameDefault,
		HTTPPort:             getInt("HTTP_PORT", httpPortDefault, &problems),
		LogLevel:             getString("LOG_LEVEL", "info"),
		KafkaBrokers:         parseCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaGroupID:         getString("KAFKA_CONSUMER_GROUP", ""),
		KafkaClientID:        getString("KAFKA_CLIENT_ID", serviceNameDefault),
		TopicLocation:        getString("TOPIC_LOCATION", "telemetry.location"),
		TopicStatus:          getString("TOPIC_STATUS", "telemetry.status"),
		TopicEvent:           getString("TOPIC_EVENT", "telemetry.events"),
		TopicAlerts:          getString("TOPIC_ALERTS", "telemetry.alerts"),
		ConnectRetryMax:      getInt("CONNECT_RETRY_MAX", 5, &problems),
		RedisAddr:            getString("REDIS_ADDR", ""),
		RedisPassword:        getString("REDIS_PASSWORD", ""),
		RedisDB:              getInt("REDIS_DB", 0, &problems),
		CacheTimeoutMS:       getInt("CACHE_TIMEOUT_MS", 2000, &problems),
		DatabaseURL:          getString("DATABASE_URL", ""),
		DBMaxConns:           getInt("DB_MAX_CONNS", 10, &problems),
		DBMinConns:           getInt("DB_MIN_CONNS", 1, &problems),
		DBConnMaxIdleSec:     getInt("DB_CONN_MAX_IDLE_SECONDS", 300, &problems),
		DBConnMaxLifeSec:     getInt("DB_CONN_MAX_LIFE_SECONDS", 1800, &problems),
		AsynqRedisAddr:       getString("ASYNQ_REDIS_ADDR", ""),
		AsynqRedisPass:       getString("ASYNQ_REDIS_PASSWORD", ""),
		AsynqRedisDB:         getInt("ASYNQ_REDIS_DB", 0, &problems),
		AsynqQueue:           getString("ASYNQ_QUEUE", "notifications"),
		AsynqConcurrency:     getInt("ASYNQ_CONCURRENCY", 10, &problems),
		MaintenanceURL:       getString("MAINTENANCE_NOTIFY_URL", ""),
		MaintenanceTimeoutMS: getInt("MAINTENANCE_NOTIFY_TIMEOUT_MS", 5000, &problems),
		InfluxEnabled:        getBool("INFLUX_ENABLED", false, &problems),
		InfluxURL:            getString("INFLUX_URL", ""),
		InfluxToken:          getString("INFLUX_TOKEN", ""),
		InfluxOrg:            getString("INFLUX_ORG", ""),
		InfluxBucket:         getString("INFLUX_BUCKET", ""),
		InfluxTimeoutMS:      getInt("INFLUX_TIMEOUT_MS", 5000, &problems),
		OtelEnabled:          getBool("OTEL_ENABLED", false, &problems),
		OtelEndpoint:         getString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OtelInsecure:         getBool("OTEL_EXPORTER_OTLP_INSECURE", true, &problems),
		OtelSampleRatio:      getFloat("OTEL_SAMPLE_RATIO", 1.0, &problems),
	}

	retrySec := getInt("CONNECT_RETRY_INTERVAL_SECONDS", 10, &problems)
	cfg.ConnectRetryInterval = time.Duration(retrySec) * time.Second

	cacheTTLSec := getInt("CACHE_TTL_SECONDS", 86400, &problems)
	cfg.CacheTTL = time.Duration(cacheTTLSec) * time.Second

	staleSec := getInt("GEO_STALE_CUTOFF_SECONDS", cacheTTLSec, &problems)
	cfg.GeoStaleCutoff = time.Duration(staleSec) * time.Second

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.ConnectRetryMax <= 0 {
		problems = append(problems, Problem{Field: "CONNECT_RETRY_MAX", Message: "CONNECT_RETRY_MAX must be > 0"})
		cfg.ConnectRetryMax = 5
	}
	if cfg.ConnectRetryInterval <= 0 {
		problems = append(problems, Problem{Field: "CONNECT_RETRY_INTERVAL_SECONDS", Message: "CONNECT_RETRY_INTERVAL_SECONDS must be > 0"})
		cfg.ConnectRetryInterval = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		problems = append(problems, Problem{Field: "CACHE_TTL_SECONDS", Message: "CACHE_TTL_SECONDS must be > 0"})
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.GeoStaleCutoff <= 0 {
		problems = append(problems, Problem{Field: "GEO_STALE_CUTOFF_SECONDS", Message: "GEO_STALE_CUTOFF_SECONDS must be > 0"})
		cfg.GeoStaleCutoff = cfg.CacheTTL
	}
	if cfg.CacheTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "CACHE_TIMEOUT_MS", Message: "CACHE_TIMEOUT_MS must be > 0"})
		cfg.CacheTimeoutMS = 2000
	}
	if cfg.DBMaxConns <= 0 {
		problems = append(problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be >= 0"})
		cfg.DBMinConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.MaintenanceTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "MAINTENANCE_NOTIFY_TIMEOUT_MS", Message: "MAINTENANCE_NOTIFY_TIMEOUT_MS must be > 0"})
		cfg.MaintenanceTimeoutMS = 5000
	}
	if cfg.AsynqConcurrency <= 0 {
		problems = append(problems, Problem{Field: "ASYNQ_CONCURRENCY", Message: "ASYNQ_CONCURRENCY must be > 0"})
		cfg.AsynqConcurrency = 10
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be within [0,1]"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func getString(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int, problems *[]Problem) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return fallback
	}
	return v
}

func getBool(key string, fallback bool, problems *[]Problem) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64, problems *[]Problem) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
		return fallback
	}
	return v
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
