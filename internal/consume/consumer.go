// Package consume owns the lifecycle of one logical stream subscription.
// Each stream gets its own Consumer and its own failure domain: exhausted
// connect retries degrade that stream only, and a bad message is logged
// and skipped, never allowed to stall the loop.
package consume

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"fleet-telemetry-pipeline/internal/codec"
	"fleet-telemetry-pipeline/shared/logx"
	"fleet-telemetry-pipeline/shared/metricsx"
)

// ErrDegraded reports that a stream never reached the broker; the caller
// keeps the process running with the remaining streams.
var ErrDegraded = errors.New("stream degraded: connect retries exhausted")

const handleTimeout = 30 * time.Second

type Handler func(ctx context.Context, payload []byte) error

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

// Dial verifies broker/topic reachability before the fetch loop starts.
type Dial func(ctx context.Context) error

type Consumer struct {
	stream        string
	group         string
	log           logx.Logger
	reader        Reader
	handler       Handler
	dial          Dial
	retryMax      int
	retryInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func New(stream string, group string, log logx.Logger, reader Reader, handler Handler, dial Dial, retryMax int, retryInterval time.Duration) *Consumer {
	return &Consumer{
		stream:        stream,
		group:         group,
		log:           log.WithStream(stream),
		reader:        reader,
		handler:       handler,
		dial:          dial,
		retryMax:      retryMax,
		retryInterval: retryInterval,
		done:          make(chan struct{}),
	}
}

// Start connects with bounded retry and then consumes in a goroutine.
// Returning ErrDegraded is not fatal for the process: the stream is marked
// degraded and the other consumers keep running.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		metricsx.SetStreamDegraded(c.stream, true)
		c.log.Error(ctx, "stream_degraded", "connect retries exhausted, stream offline",
			slog.Int("attempts", c.retryMax),
			slog.String("error", err.Error()),
		)
		close(c.done)
		return ErrDegraded
	}
	metricsx.SetStreamDegraded(c.stream, false)

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.loop(loopCtx)
	return nil
}

func (c *Consumer) connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.retryMax; attempt++ {
		if err := c.dial(ctx); err != nil {
			lastErr = err
			c.log.Warn(ctx, "connect_failed", "broker not reachable",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", c.retryMax),
				slog.String("error", err.Error()),
			)
			if attempt == c.retryMax {
				break
			}
			select {
			case <-time.After(c.retryInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (c *Consumer) loop(ctx context.Context) {
	defer close(c.done)
	c.log.Info(ctx, "consumer_start", "stream consumer started",
		slog.String("group", c.group),
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				break
			}
			c.log.Error(ctx, "fetch_failed", "failed to fetch message",
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		metricsx.IncConsumed(c.stream)

		c.handle(ctx, msg)

		stats := c.reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, c.group, stats.Lag)
	}

	c.log.Info(context.Background(), "consumer_stop", "stream consumer stopped")
}

// handle processes one message to completion. The in-flight message gets a
// context detached from the loop's so a Stop mid-record lets the record's
// writes finish before the loop exits.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
	defer cancel()

	msgCtx, span := otel.Tracer("consume").Start(msgCtx, "stream.handle")
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", msg.Topic),
	)
	defer span.End()

	start := time.Now()
	if err := c.handler(msgCtx, msg.Value); err != nil {
		var rejection *codec.RejectionError
		if errors.As(err, &rejection) {
			metricsx.IncRejected(c.stream, string(rejection.Reason))
			c.log.Warn(msgCtx, "message_rejected", "message dropped",
				slog.String("reason", string(rejection.Reason)),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("payload", base64.StdEncoding.EncodeToString(msg.Value)),
				slog.String("error", err.Error()),
			)
		} else {
			metricsx.IncStoreWriteFailure(c.stream)
			c.log.Error(msgCtx, "persist_failed", "record not persisted, message dropped",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("payload", base64.StdEncoding.EncodeToString(msg.Value)),
				slog.String("error", err.Error()),
			)
		}
	}
	metricsx.ObserveHandleLatency(c.stream, time.Since(start))

	// The drop policy is explicit: rejected or failed-to-persist messages
	// are committed so the partition keeps advancing.
	if err := c.reader.CommitMessages(msgCtx, msg); err != nil {
		c.log.Error(msgCtx, "commit_failed", "failed to commit message",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}

// Stop ends the subscription, letting any in-flight message finish first.
func (c *Consumer) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.reader.Close()
}
