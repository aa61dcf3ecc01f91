// Package querylog contains the asynchronous query log pipeline: a
// non-blocking submission queue drained by a single writer, and a
// periodic retention sweeper.
package querylog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"localdns/pkg/logging"
	"localdns/pkg/storage"
)

// DefaultLogTimeout bounds a single log insert.
const DefaultLogTimeout = 5 * time.Second

// Store is the slice of the storage layer the pipeline needs.
type Store interface {
	LogQuery(ctx context.Context, entry *storage.QueryLog) error
	CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Worker accepts query log events from the hot path and persists them in
// submission order on a dedicated goroutine. The queue is unbounded:
// Submit never blocks the caller and never drops an event, at the cost of
// memory growth when the store falls behind.
type Worker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*storage.QueryLog
	closing bool

	store      Store
	logger     *logging.Logger
	depthGauge metric.Int64UpDownCounter

	submitted atomic.Uint64
	persisted atomic.Uint64
	failed    atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

// NewWorker creates the pipeline and starts its writer goroutine.
func NewWorker(store Store, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewDefault()
	}

	w := &Worker{
		store:  store,
		logger: logger,
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)

	go w.run()

	logger.Info("Query log worker started")
	return w
}

// SetDepthGauge attaches a gauge tracking the number of queued events.
// Must be called before the first Submit.
func (w *Worker) SetDepthGauge(g metric.Int64UpDownCounter) {
	w.depthGauge = g
}

// Submit enqueues one event. It never blocks and is safe to call from any
// goroutine; after Close the event is silently discarded.
func (w *Worker) Submit(entry *storage.QueryLog) {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, entry)
	w.mu.Unlock()

	w.submitted.Add(1)
	if w.depthGauge != nil {
		w.depthGauge.Add(context.Background(), 1)
	}
	w.cond.Signal()
}

// run is the single consumer. Events are taken in batches but persisted
// one at a time so a poison entry only costs itself.
func (w *Worker) run() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closing {
			w.cond.Wait()
		}
		batch := w.queue
		w.queue = nil
		closing := w.closing
		w.mu.Unlock()

		for _, entry := range batch {
			w.persist(entry)
		}
		if w.depthGauge != nil && len(batch) > 0 {
			w.depthGauge.Add(context.Background(), -int64(len(batch)))
		}

		if closing {
			return
		}
	}
}

func (w *Worker) persist(entry *storage.QueryLog) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultLogTimeout)
	defer cancel()

	if err := w.store.LogQuery(ctx, entry); err != nil {
		w.failed.Add(1)
		w.logger.Error("Failed to persist query log entry",
			"query_name", entry.QueryName,
			"query_type", entry.QueryType,
			"error", err)
		return
	}
	w.persisted.Add(1)
}

// Close stops accepting events, drains everything already queued, and
// waits for the writer goroutine to exit. Safe to call multiple times.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closing = true
		pending := len(w.queue)
		w.mu.Unlock()
		w.cond.Signal()

		w.logger.Info("Shutting down query log worker",
			"pending_entries", pending)

		<-w.done

		w.logger.Info("Query log worker shutdown complete",
			"submitted", w.submitted.Load(),
			"persisted", w.persisted.Load(),
			"failed", w.failed.Load())
	})
	return nil
}

// Stats returns lifetime pipeline counters.
func (w *Worker) Stats() (submitted, persisted, failed uint64) {
	return w.submitted.Load(), w.persisted.Load(), w.failed.Load()
}

// Pending returns the number of events waiting for the writer.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}
