package consume

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"fleet-telemetry-pipeline/internal/codec"
	"fleet-telemetry-pipeline/shared/logx"
)

func testLogger() logx.Logger {
	return logx.New("consume-test", "test", "", "error")
}

// fakeReader feeds a fixed set of messages, then blocks until the context
// ends, mimicking an idle partition.
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{} }

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}

func alwaysDial(context.Context) error { return nil }

func TestConsumerCommitsEveryMessage(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte(`good`)},
		{Offset: 2, Value: []byte(`rejected`)},
		{Offset: 3, Value: []byte(`persist-error`)},
	}}

	var handled []string
	var mu sync.Mutex
	handler := func(_ context.Context, payload []byte) error {
		mu.Lock()
		handled = append(handled, string(payload))
		mu.Unlock()
		switch string(payload) {
		case "rejected":
			return &codec.RejectionError{Reason: codec.ReasonInvalid, Err: errors.New("bad field")}
		case "persist-error":
			return errors.New("database unavailable")
		}
		return nil
	}

	c := New("location", "g1", testLogger(), reader, handler, alwaysDial, 1, time.Millisecond)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Rejected and failed messages are dropped but still committed so the
	// partition keeps advancing.
	waitFor(t, func() bool { return reader.committedCount() == 3 })

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 3 {
		t.Fatalf("expected 3 handled messages, got %d", len(handled))
	}
	if !reader.closed {
		t.Fatalf("expected reader closed after stop")
	}
}

func TestConsumerDegradesAfterRetriesExhausted(t *testing.T) {
	dials := 0
	dial := func(context.Context) error {
		dials++
		return errors.New("broker unreachable")
	}
	reader := &fakeReader{}
	c := New("status", "g1", testLogger(), reader, func(context.Context, []byte) error { return nil }, dial, 3, time.Millisecond)

	err := c.Start(context.Background())
	if !errors.Is(err, ErrDegraded) {
		t.Fatalf("expected ErrDegraded, got %v", err)
	}
	if dials != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", dials)
	}
}

func TestConsumerConnectRecoversMidRetry(t *testing.T) {
	dials := 0
	dial := func(context.Context) error {
		dials++
		if dials < 3 {
			return errors.New("broker unreachable")
		}
		return nil
	}
	reader := &fakeReader{}
	c := New("event", "g1", testLogger(), reader, func(context.Context, []byte) error { return nil }, dial, 5, time.Millisecond)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("expected recovery on third attempt: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if dials != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", dials)
	}
}
