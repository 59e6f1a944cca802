// Package queue provides the event reorder queue.
//
// Realtime delivery can race the bulk load, or deliver a child-creation event
// before its parent, or a task event before the section that will contain it.
// The queue wraps a synchronous, possibly-failing event handler: events that
// fail are buffered per entity id and replayed once, in timestamp order, after
// a delay window. Buffering per entity resolves ordering violations without a
// global sequence number, at the cost of a bounded visible delay for the
// affected entity only.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Erikvl87/todosync/internal/event"
)

// DefaultReorderWindow is how long a failed event is buffered before replay.
const DefaultReorderWindow = 3 * time.Second

// FailureKind classifies events that could not be applied.
type FailureKind int

const (
	// FailureUnrecoverable means the event carried no identifiable entity id
	// and cannot be tracked for retry.
	FailureUnrecoverable FailureKind = iota

	// FailureRetryExhausted means a buffered event still failed during its
	// single timed replay.
	FailureRetryExhausted
)

// String returns a human-readable representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureUnrecoverable:
		return "unrecoverable"
	case FailureRetryExhausted:
		return "retry exhausted"
	default:
		return "unknown"
	}
}

// FailureFunc receives events that could not be applied. It is the single
// channel by which unrecoverable conditions reach the host layer.
type FailureFunc func(ev event.Event, kind FailureKind, err error)

// Config holds configuration for the reorder queue.
type Config struct {
	// ReorderWindow is how long to buffer a failed event before replaying
	// that entity's buffer (default: DefaultReorderWindow).
	ReorderWindow time.Duration

	// Logger for queue activity.
	Logger *log.Logger
}

// buffered pairs a failed event with the timestamp used to order its replay.
type buffered struct {
	ev  event.Event
	ts  time.Time
	seq int
}

// Queue buffers failed events per entity and replays them after a delay.
type Queue struct {
	handler   event.Handler
	onFailure FailureFunc
	window    time.Duration
	logger    *log.Logger

	mu      sync.Mutex
	pending map[string][]buffered
	timers  map[string]*time.Timer
	seq     int
	cleared bool

	// now is stubbed in tests.
	now func() time.Time
}

// New creates a reorder queue wrapping handler. Failed events that cannot be
// retried are reported through onFailure.
func New(handler event.Handler, onFailure FailureFunc, cfg Config) *Queue {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = DefaultReorderWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Queue{
		handler:   handler,
		onFailure: onFailure,
		window:    cfg.ReorderWindow,
		logger:    cfg.Logger,
		pending:   make(map[string][]buffered),
		timers:    make(map[string]*time.Timer),
		now:       time.Now,
	}
}

// Process invokes the handler with the event immediately. On failure the
// event is buffered under its entity id and the replay timer for that entity
// is (re)armed; a burst of failures for one entity collapses into a single
// replay pass at the last failure's expiry.
//
// Events that fail and carry no entity id cannot be tracked and are reported
// as unrecoverable right away.
func (q *Queue) Process(ev event.Event) {
	err := q.handler(ev)
	if err == nil {
		return
	}

	id := ev.EntityID()
	if id == "" {
		q.logger.Warn("event failed with no entity id", "event", ev.Name, "err", err)
		if q.onFailure != nil {
			q.onFailure(ev, FailureUnrecoverable, err)
		}
		return
	}

	ts, ok := ev.Timestamp()
	if !ok {
		ts = q.now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cleared {
		return
	}

	q.seq++
	q.pending[id] = append(q.pending[id], buffered{ev: ev, ts: ts, seq: q.seq})
	q.logger.Debug("buffered failed event", "event", ev.Name, "entity", id,
		"buffered", len(q.pending[id]), "err", err)

	// Re-arm: the previous timer for this entity is cancelled so the buffer
	// replays once, at the most recent failure's expiry.
	if t, ok := q.timers[id]; ok {
		t.Stop()
	}
	q.timers[id] = time.AfterFunc(q.window, func() { q.replay(id) })
}

// replay drains the buffer for one entity through the handler in ascending
// timestamp order. Events that still fail are reported as retry exhausted.
// The buffer is cleared regardless of per-event outcome; there is no second
// retry round.
func (q *Queue) replay(id string) {
	q.mu.Lock()
	if q.cleared {
		q.mu.Unlock()
		return
	}
	batch := q.pending[id]
	delete(q.pending, id)
	delete(q.timers, id)
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	sort.Slice(batch, func(i, j int) bool {
		if !batch[i].ts.Equal(batch[j].ts) {
			return batch[i].ts.Before(batch[j].ts)
		}
		return batch[i].seq < batch[j].seq
	})

	q.logger.Debug("replaying buffered events", "entity", id, "count", len(batch))
	for _, b := range batch {
		if err := q.handler(b.ev); err != nil {
			q.logger.Warn("event failed after replay", "event", b.ev.Name,
				"entity", id, "err", err)
			if q.onFailure != nil {
				q.onFailure(b.ev, FailureRetryExhausted, err)
			}
		}
	}
}

// PendingCount returns the number of currently buffered events across all
// entities.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, batch := range q.pending {
		n += len(batch)
	}
	return n
}

// Clear cancels every pending replay timer and discards all buffered events.
// Call on teardown, before the owning controller and store are discarded, so
// no late timer callback touches disposed state.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.pending = make(map[string][]buffered)
	q.cleared = true
}
