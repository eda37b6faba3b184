// Package eventstream delivers SDK events to Redis Streams on a
// fire-and-forget basis. Producers never block on network I/O: events go
// into a bounded in-memory buffer drained by a background worker.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agion", Subsystem: "events", Name: "published_total",
		Help: "Events successfully written to the event log.",
	})
	failedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agion", Subsystem: "events", Name: "failed_total",
		Help: "Events that exhausted delivery retries.",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agion", Subsystem: "events", Name: "dropped_total",
		Help: "Events dropped because the buffer was full (oldest first).",
	})
)

// Record is one pending stream entry.
type Record struct {
	Stream string
	Values map[string]any
}

// Options configures a Publisher.
type Options struct {
	BufferSize    int           // default 100
	FlushInterval time.Duration // default 5s
	MaxRetries    int           // default 3
	RetryBase     time.Duration // default 100ms, doubled per attempt
}

func (o *Options) defaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 100 * time.Millisecond
	}
}

// Publisher buffers events and flushes them in batches to Redis Streams.
type Publisher struct {
	rdb    *redis.Client
	opts   Options
	logger *slog.Logger

	buf  chan Record
	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex // serializes Publish's drop-oldest dance
	started atomic.Bool

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewPublisher creates a publisher. Call Start to begin flushing and
// Close to drain and stop.
func NewPublisher(rdb *redis.Client, opts Options, logger *slog.Logger) *Publisher {
	opts.defaults()
	return &Publisher{
		rdb:    rdb,
		opts:   opts,
		logger: logger,
		buf:    make(chan Record, opts.BufferSize),
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the background flush worker.
func (p *Publisher) Start() {
	if p.started.Swap(true) {
		return
	}
	go p.flushLoop()
}

// Publish enqueues an event for asynchronous delivery and returns
// immediately. When the buffer is full the oldest pending event is
// dropped to make room, and the drop is counted; the caller is never
// blocked and never sees a delivery error.
func (p *Publisher) Publish(stream string, payload any) {
	values, err := flatten(payload)
	if err != nil {
		p.logger.Warn("unencodable event dropped", "stream", stream, "error", err)
		p.dropped.Add(1)
		droppedTotal.Inc()
		return
	}
	rec := Record{Stream: stream, Values: values}

	p.mu.Lock()
	select {
	case p.buf <- rec:
	default:
		// Buffer full: drop the oldest entry, then retry once.
		select {
		case <-p.buf:
			p.dropped.Add(1)
			droppedTotal.Inc()
		default:
		}
		select {
		case p.buf <- rec:
		default:
			p.dropped.Add(1)
			droppedTotal.Inc()
		}
	}
	full := len(p.buf) >= p.opts.BufferSize
	p.mu.Unlock()

	if full {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
}

// Close performs one final flush attempt bounded by ctx and stops the
// worker. Safe to call once.
func (p *Publisher) Close(ctx context.Context) error {
	if !p.started.Load() {
		return nil
	}
	close(p.stop)
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *Publisher) flushLoop() {
	defer close(p.done)
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.flush(context.Background())
		case <-p.kick:
			p.flush(context.Background())
		case <-p.stop:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.flush(ctx)
			cancel()
			return
		}
	}
}

// flush drains the buffer and writes everything in one pipeline. On
// failure the batch is retried with exponential backoff and ultimately
// dropped; delivery is best-effort by contract.
func (p *Publisher) flush(ctx context.Context) {
	var batch []Record
	for {
		select {
		case rec := <-p.buf:
			batch = append(batch, rec)
		default:
			goto drained
		}
	}
drained:
	if len(batch) == 0 {
		return
	}

	backoff := p.opts.RetryBase
	for attempt := 0; ; attempt++ {
		err := p.write(ctx, batch)
		if err == nil {
			p.published.Add(uint64(len(batch)))
			publishedTotal.Add(float64(len(batch)))
			return
		}
		if attempt >= p.opts.MaxRetries {
			p.logger.Warn("dropping event batch after retries",
				"events", len(batch), "error", err)
			p.failed.Add(uint64(len(batch)))
			failedTotal.Add(float64(len(batch)))
			return
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			p.failed.Add(uint64(len(batch)))
			failedTotal.Add(float64(len(batch)))
			return
		}
		backoff *= 2
	}
}

func (p *Publisher) write(ctx context.Context, batch []Record) error {
	pipe := p.rdb.Pipeline()
	for _, rec := range batch {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: rec.Stream,
			Values: rec.Values,
		})
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Metrics is a point-in-time view of publisher activity.
type Metrics struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Buffered  int    `json:"buffered"`
}

// Stats returns delivery counters.
func (p *Publisher) Stats() Metrics {
	return Metrics{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Buffered:  len(p.buf),
	}
}

// flatten converts a payload struct into the flat string-keyed map Redis
// Streams wants. Nested values are JSON-encoded.
func flatten(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("event is not an object: %w", err)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case string:
			out[k] = v
		case float64, bool, nil:
			out[k] = fmt.Sprint(v)
		default:
			enc, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encoding field %s: %w", k, err)
			}
			out[k] = string(enc)
		}
	}
	return out, nil
}
