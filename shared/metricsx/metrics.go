package metricsx

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_consumed_total",
			Help: "Messages fetched from the broker, by stream.",
		},
		[]string{"stream"},
	)
	messagesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_rejected_total",
			Help: "Messages dropped at decode/validation, by stream and reason.",
		},
		[]string{"stream", "reason"},
	)
	cacheWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_cache_write_failures_total",
			Help: "Non-fatal state cache write failures, by operation.",
		},
		[]string{"op"},
	)
	storeWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_store_write_failures_total",
			Help: "History store append failures, by stream.",
		},
		[]string{"stream"},
	)
	dispatchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_dispatch_failures_total",
			Help: "Side-effect dispatch failures, by event type.",
		},
		[]string{"event_type"},
	)
	notificationsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_maintenance_sent_total",
			Help: "Maintenance notifications delivered (2xx).",
		},
	)
	notificationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_maintenance_failures_total",
			Help: "Maintenance notification delivery failures.",
		},
	)
	mirrorWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_mirror_write_failures_total",
			Help: "Time-series mirror write failures.",
		},
	)
	handleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_handle_duration_seconds",
			Help:    "Per-message handling latency, by stream.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	streamDegraded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_stream_degraded",
			Help: "1 when a stream consumer exhausted its connect retries.",
		},
		[]string{"stream"},
	)
)

func Register() {
	prometheus.MustRegister(
		messagesConsumed, messagesRejected,
		cacheWriteFailures, storeWriteFailures, dispatchFailures,
		notificationsSent, notificationFailures, mirrorWriteFailures,
		handleLatency, kafkaConsumerLag, streamDegraded,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func IncConsumed(stream string) {
	messagesConsumed.WithLabelValues(stream).Inc()
}

func IncRejected(stream string, reason string) {
	messagesRejected.WithLabelValues(stream, reason).Inc()
}

func IncCacheWriteFailure(op string) {
	cacheWriteFailures.WithLabelValues(op).Inc()
}

func IncStoreWriteFailure(stream string) {
	storeWriteFailures.WithLabelValues(stream).Inc()
}

func IncDispatchFailure(eventType string) {
	dispatchFailures.WithLabelValues(eventType).Inc()
}

func IncNotificationSent() {
	notificationsSent.Inc()
}

func IncNotificationFailure() {
	notificationFailures.Inc()
}

func IncMirrorWriteFailure() {
	mirrorWriteFailures.Inc()
}

func ObserveHandleLatency(stream string, d time.Duration) {
	handleLatency.WithLabelValues(stream).Observe(d.Seconds())
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func SetStreamDegraded(stream string, degraded bool) {
	v := 0.0
	if degraded {
		v = 1.0
	}
	streamDegraded.WithLabelValues(stream).Set(v)
}
