// Package policysync keeps the local rule snapshot in step with the
// governance service. Push notifications over Redis Pub/Sub trigger an
// immediate refetch; a jittered periodic poll covers missed or dropped
// notifications.
package policysync

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/agion-ai/agion-go/policy"
)

// Channel carries policy-update notifications.
const Channel = "agion:policy:updates"

var (
	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agion", Subsystem: "policysync", Name: "syncs_total",
		Help: "Policy sync attempts by trigger and outcome.",
	}, []string{"trigger", "outcome"})
)

// FetchFunc retrieves the full active rule set from the governance
// service.
type FetchFunc func(ctx context.Context) ([]policy.Rule, error)

// ApplyFunc installs a fetched rule set (an atomic snapshot swap).
type ApplyFunc func([]policy.Rule)

// Worker runs the push listener and poll fallback.
type Worker struct {
	rdb      *redis.Client
	interval time.Duration
	fetch    FetchFunc
	apply    ApplyFunc
	logger   *slog.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  atomic.Bool
	lastSync atomic.Int64 // unix nanos of last successful sync
	syncs    atomic.Uint64
	errors   atomic.Uint64
}

// New creates a sync worker. interval defaults to 30s.
func New(rdb *redis.Client, interval time.Duration, fetch FetchFunc, apply ApplyFunc, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		rdb:      rdb,
		interval: interval,
		fetch:    fetch,
		apply:    apply,
		logger:   logger,
	}
}

// Start performs one synchronous sync so the engine does not begin with
// an empty snapshot when the service is reachable, then launches the
// pub/sub listener and the poll fallback. The initial sync error, if
// any, is returned for the caller to fold into its fail-open/closed
// decision; the worker keeps running either way.
func (w *Worker) Start(ctx context.Context) error {
	if w.running.Swap(true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	initialErr := w.syncOnce(ctx, "startup")

	w.wg.Add(1)
	go w.poll(runCtx)

	// No Redis means no push channel; the poll fallback carries syncs.
	if w.rdb != nil {
		w.wg.Add(1)
		go w.listen(runCtx)
	}

	return initialErr
}

// Stop cancels both background loops and waits for them to exit.
func (w *Worker) Stop() {
	if !w.running.Swap(false) {
		return
	}
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) listen(ctx context.Context) {
	defer w.wg.Done()

	pubsub := w.rdb.Subscribe(ctx, Channel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	w.logger.Info("listening for policy updates", "channel", Channel)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.logger.Debug("policy update notification", "payload", msg.Payload)
			if err := w.syncOnce(ctx, "push"); err != nil {
				w.logger.Warn("push-triggered policy sync failed", "error", err)
			}
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(w.interval)):
		}

		// Skip the poll when a push already refreshed us recently.
		last := time.Unix(0, w.lastSync.Load())
		if time.Since(last) < w.interval {
			continue
		}
		if err := w.syncOnce(ctx, "poll"); err != nil {
			w.logger.Warn("fallback policy sync failed", "error", err)
		}
	}
}

// syncOnce fetches the active rule set and swaps it in. Errors never
// stop the worker; the engine keeps serving the previous snapshot.
func (w *Worker) syncOnce(ctx context.Context, trigger string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rules, err := w.fetch(fetchCtx)
	if err != nil {
		w.errors.Add(1)
		syncsTotal.WithLabelValues(trigger, "error").Inc()
		return err
	}

	w.apply(rules)
	w.lastSync.Store(time.Now().UnixNano())
	w.syncs.Add(1)
	syncsTotal.WithLabelValues(trigger, "ok").Inc()
	w.logger.Info("policy rules synced", "count", len(rules), "trigger", trigger)
	return nil
}

// jitter spreads poll intervals by ±10% so a fleet of agents does not
// hit the service in lockstep.
func jitter(d time.Duration) time.Duration {
	delta := time.Duration(rand.Int63n(int64(d) / 5))
	return d - d/10 + delta
}

// Metrics is a point-in-time view of sync activity.
type Metrics struct {
	Running  bool      `json:"running"`
	LastSync time.Time `json:"last_sync"`
	Syncs    uint64    `json:"syncs"`
	Errors   uint64    `json:"errors"`
}

// Stats returns sync counters.
func (w *Worker) Stats() Metrics {
	return Metrics{
		Running:  w.running.Load(),
		LastSync: time.Unix(0, w.lastSync.Load()),
		Syncs:    w.syncs.Load(),
		Errors:   w.errors.Load(),
	}
}
