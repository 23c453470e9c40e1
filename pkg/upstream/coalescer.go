package upstream

import (
	"log/slog"

	"github.com/tycostream/tycostream/pkg/metrics"
	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
)

// coalescer buffers the raw diff records of a single upstream timestamp and
// flushes them as logical row events when the timestamp advances or a
// progress report arrives. Within one timestamp a retraction plus an
// addition of the same key is one update; records at distinct timestamps
// are never merged.
type coalescer struct {
	source *schema.Source
	cache  *source.Cache
	logger *slog.Logger

	ts      uint64
	pending map[source.Key]*pendingKey
	order   []source.Key

	sawProgress bool
}

// pendingKey accumulates the signed records seen for one key at the current
// timestamp. Upstream consolidation means at most one retraction and one
// addition survive per key.
type pendingKey struct {
	deleted   bool
	insert    source.Row
	deleteRow source.Row
}

func newCoalescer(src *schema.Source, cache *source.Cache, logger *slog.Logger) *coalescer {
	return &coalescer{
		source:  src,
		cache:   cache,
		logger:  logger,
		pending: make(map[source.Key]*pendingKey),
	}
}

// Add buffers one signed row record. Timestamps must not regress.
func (c *coalescer) Add(ts uint64, diff int64, row source.Row) error {
	if len(c.pending) > 0 && ts != c.ts {
		if ts < c.ts {
			return protocolf("timestamp regressed from %d to %d", c.ts, ts)
		}
		c.flush()
	}
	c.ts = ts

	key, ok := source.KeyOf(row, c.source.PrimaryKey)
	if !ok {
		return protocolf("record at %d has null primary key %q", ts, c.source.PrimaryKey)
	}

	p := c.pending[key]
	if p == nil {
		p = &pendingKey{}
		c.pending[key] = p
		c.order = append(c.order, key)
	}

	switch {
	case diff > 0:
		p.insert = row
	case diff < 0:
		p.deleted = true
		p.deleteRow = row
	default:
		c.logger.Debug("Ignoring zero diff", "key", key, "ts", ts)
	}
	if diff > 1 || diff < -1 {
		c.logger.Debug("Multiplicity beyond one for keyed source", "key", key, "ts", ts, "diff", diff)
	}
	return nil
}

// Progress handles an upstream progress report: all data strictly below ts
// has been received, so the pending batch (if older) flushes and the cache
// frontier advances to ts-1. The first progress of a session completes the
// snapshot.
func (c *coalescer) Progress(ts uint64) {
	if len(c.pending) > 0 && ts > c.ts {
		c.flush()
	}
	frontier := ts
	if frontier > 0 {
		frontier--
	}
	if !c.sawProgress {
		c.sawProgress = true
		c.cache.MarkSnapshotComplete(frontier)
		return
	}
	c.cache.AdvanceFrontier(frontier)
}

// SnapshotComplete reports whether the session reached its first progress
// record.
func (c *coalescer) SnapshotComplete() bool { return c.sawProgress }

// flush converts the pending batch into row events and applies them to the
// cache in first-touch key order.
func (c *coalescer) flush() {
	for _, key := range c.order {
		p := c.pending[key]
		pre, hadPre := c.cache.Lookup(key)

		switch {
		case p.insert != nil && hadPre:
			// A replacement, whether or not the retraction half was seen.
			// A lone addition for a live key is unusual but recoverable.
			if !p.deleted {
				c.logger.Debug("Addition without retraction for live key, treating as update",
					"key", key, "ts", c.ts)
			}
			c.apply(source.RowEvent{
				Kind:          source.Update,
				Key:           key,
				Row:           p.insert,
				ChangedFields: diffFields(c.source, pre, p.insert),
				Token:         c.ts,
			})

		case p.insert != nil:
			if p.deleted {
				c.logger.Debug("Retraction for unknown key alongside addition, treating as insert",
					"key", key, "ts", c.ts)
			}
			c.apply(source.RowEvent{
				Kind:  source.Insert,
				Key:   key,
				Row:   p.insert,
				Token: c.ts,
			})

		case p.deleted && hadPre:
			c.apply(source.RowEvent{
				Kind:  source.Delete,
				Key:   key,
				Row:   p.deleteRow,
				Token: c.ts,
			})

		default:
			c.logger.Debug("Retraction for unknown key dropped", "key", key, "ts", c.ts)
		}
	}

	c.pending = make(map[source.Key]*pendingKey)
	c.order = c.order[:0]
}

func (c *coalescer) apply(ev source.RowEvent) {
	c.cache.Apply(ev)
	metrics.EventApplied(c.source.Name, ev.Kind.String())
}

// diffFields lists the non-key columns whose value changed between two row
// states, in declaration order.
func diffFields(src *schema.Source, pre, post source.Row) []string {
	var changed []string
	for _, col := range src.Columns {
		if col.Name == src.PrimaryKey {
			continue
		}
		if !pre[col.Name].Equal(post[col.Name]) {
			changed = append(changed, col.Name)
		}
	}
	return changed
}
