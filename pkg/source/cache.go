package source

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tycostream/tycostream/pkg/schema"
)

// DefaultQueueSize bounds a subscriber's live tail when the source config
// does not override it.
const DefaultQueueSize = 1024

// Cache is the authoritative row table for one source. A single writer (the
// upstream session) applies events in produced order; subscribers read a
// snapshot captured atomically with their live registration. The cache
// never blocks its writer: a subscriber that cannot keep up is dropped.
type Cache struct {
	source *schema.Source
	logger *slog.Logger

	mu               sync.RWMutex
	rows             map[Key]Row
	frontier         uint64
	snapshotComplete bool
	ready            chan struct{}
	closed           bool
	subs             map[uuid.UUID]*Subscription
}

// NewCache creates an empty cache for one source descriptor.
func NewCache(src *schema.Source) *Cache {
	return &Cache{
		source: src,
		logger: slog.With("component", "cache", "source", src.Name),
		rows:   make(map[Key]Row),
		ready:  make(chan struct{}),
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

// Source returns the descriptor this cache serves.
func (c *Cache) Source() *schema.Source { return c.source }

// Lookup returns the current row for a key. The writer uses it for
// pre-state when computing update deltas.
func (c *Cache) Lookup(key Key) (Row, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.rows[key]
	return row, ok
}

// Apply ingests one event in producer order: it updates the row table,
// advances the frontier to the event's token, and offers the event to every
// live subscriber. A subscriber whose queue is full is dropped on the spot;
// the stream delivered to surviving subscribers never loses an element.
func (c *Cache) Apply(ev RowEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	switch ev.Kind {
	case Insert, Update:
		c.rows[ev.Key] = ev.Row
	case Delete:
		delete(c.rows, ev.Key)
	}
	if ev.Token > c.frontier {
		c.frontier = ev.Token
	}

	var dropped []*Subscription
	for _, sub := range c.subs {
		select {
		case sub.events <- ev:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		delete(c.subs, sub.id)
		sub.terminate(ErrSubscriberLagged)
		c.logger.Warn("Dropped lagging subscriber",
			"subscription_id", sub.id,
			"queue_capacity", cap(sub.events))
	}
}

// AdvanceFrontier records an upstream progress report: every event at or
// below token has been applied.
func (c *Cache) AdvanceFrontier(token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token > c.frontier {
		c.frontier = token
	}
}

// MarkSnapshotComplete transitions the cache to live at the given frontier,
// releasing subscribers waiting in Subscribe.
func (c *Cache) MarkSnapshotComplete(frontier uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.snapshotComplete {
		return
	}
	if frontier > c.frontier {
		c.frontier = frontier
	}
	c.snapshotComplete = true
	close(c.ready)
	c.logger.Info("Snapshot complete", "rows", len(c.rows), "frontier", c.frontier)
}

// Reset discards all state after an upstream failure and terminates every
// subscriber with reason. The writer rebuilds the cache from its next
// session's snapshot; terminated subscribers re-subscribe to pick it up.
func (c *Cache) Reset(reason *TerminalError) {
	c.reset(reason, false)
}

// Close shuts the cache down permanently. All subscribers terminate with
// ErrSourceShutdown and future Subscribe calls fail.
func (c *Cache) Close() {
	c.reset(ErrSourceShutdown, true)
}

func (c *Cache) reset(reason *TerminalError, closing bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	subs := c.subs
	c.subs = make(map[uuid.UUID]*Subscription)
	c.rows = make(map[Key]Row)
	c.frontier = 0
	if !c.snapshotComplete {
		close(c.ready)
	}
	c.ready = make(chan struct{})
	c.snapshotComplete = false
	if closing {
		c.closed = true
		// Nothing will ever complete a snapshot again; unblock waiters so
		// they observe the closed cache.
		close(c.ready)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.terminate(reason)
	}
	c.logger.Info("Cache reset", "reason", reason.Code, "subscribers_terminated", len(subs))
}

// WaitReady blocks until the cache has a complete snapshot, the context is
// cancelled, or the cache is closed.
func (c *Cache) WaitReady(ctx context.Context) error {
	for {
		c.mu.RLock()
		ready := c.snapshotComplete
		closed := c.closed
		ch := c.ready
		c.mu.RUnlock()

		if closed {
			return ErrSourceShutdown
		}
		if ready {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscribe registers a reader once the snapshot is complete. With
// withSnapshot set, the row copy and the live registration happen under one
// lock acquisition: the snapshot holds exactly the rows of events applied
// through ResumeToken, and the live tail carries exactly the events after
// it. No event appears in both halves and none falls between. queue bounds
// the live tail; zero means DefaultQueueSize.
func (c *Cache) Subscribe(ctx context.Context, queue int, withSnapshot bool) (*Subscription, error) {
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	for {
		if err := c.WaitReady(ctx); err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrSourceShutdown
		}
		if !c.snapshotComplete {
			// Lost a race with a reset; wait for the next snapshot.
			c.mu.Unlock()
			continue
		}

		sub := &Subscription{
			id:     uuid.New(),
			resume: c.frontier,
			events: make(chan RowEvent, queue),
			cache:  c,
			done:   make(chan struct{}),
		}
		if withSnapshot {
			sub.snapshot = make([]RowEvent, 0, len(c.rows))
			for key, row := range c.rows {
				sub.snapshot = append(sub.snapshot, RowEvent{
					Kind:  Insert,
					Key:   key,
					Row:   row,
					Token: c.frontier,
				})
			}
		}
		c.subs[sub.id] = sub
		c.mu.Unlock()
		return sub, nil
	}
}

func (c *Cache) unsubscribe(id uuid.UUID) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// Stats is a point-in-time view of one cache for health output and metrics.
type Stats struct {
	Rows             int
	Frontier         uint64
	SnapshotComplete bool
	Subscribers      int
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Rows:             len(c.rows),
		Frontier:         c.frontier,
		SnapshotComplete: c.snapshotComplete,
		Subscribers:      len(c.subs),
	}
}
