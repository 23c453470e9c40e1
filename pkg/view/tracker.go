package view

import (
	"log/slog"

	"github.com/tycostream/tycostream/pkg/source"
)

// Tracker folds a source's event stream through a filter, remembering per
// key whether the row is currently in view. It rewrites event kinds at the
// view boundary: a row entering the view is an Insert regardless of the
// upstream kind, a row leaving it is a Delete. Rows inside the hysteresis
// band keep their membership.
//
// A nil filter makes the tracker a passthrough. Trackers are not safe for
// concurrent use; each pipeline or trigger owns one.
type Tracker struct {
	filter     *Filter
	membership map[source.Key]bool
	logger     *slog.Logger
}

// NewTracker creates a tracker for one subscription or trigger.
func NewTracker(filter *Filter, logger *slog.Logger) *Tracker {
	t := &Tracker{filter: filter, logger: logger}
	if filter != nil {
		t.membership = make(map[source.Key]bool)
	}
	return t
}

// InView reports current membership for a key.
func (t *Tracker) InView(key source.Key) bool {
	if t.filter == nil {
		return true
	}
	return t.membership[key]
}

// Observe runs one event through the filter and reports what the subscriber
// should see. The returned event's kind reflects the view transition, not
// necessarily the upstream kind; ok is false when the event is suppressed.
//
// Synthesized transitions (an Update that enters the view, a reborn key)
// return events with ChangedFields nil, which the delta projection renders
// as full rows.
func (t *Tracker) Observe(ev source.RowEvent) (source.RowEvent, bool) {
	if t.filter == nil {
		return ev, true
	}

	if !t.membership[ev.Key] {
		return t.observeOutside(ev)
	}
	return t.observeInside(ev)
}

// observeOutside handles a key the subscriber has never been shown (or has
// seen deleted). Only a matching row state can produce output, and it is
// always an Insert.
func (t *Tracker) observeOutside(ev source.RowEvent) (source.RowEvent, bool) {
	switch ev.Kind {
	case source.Insert, source.Update:
		if !t.filter.Match.Evaluate(ev.Row) {
			return source.RowEvent{}, false
		}
		t.membership[ev.Key] = true
		return source.RowEvent{
			Kind:  source.Insert,
			Key:   ev.Key,
			Row:   ev.Row,
			Token: ev.Token,
		}, true
	case source.Delete:
		return source.RowEvent{}, false
	}
	return source.RowEvent{}, false
}

// observeInside handles a key currently in view.
func (t *Tracker) observeInside(ev source.RowEvent) (source.RowEvent, bool) {
	switch ev.Kind {
	case source.Insert:
		// An insert for a key still in view means the upstream restarted
		// the key's lifetime without this tracker seeing the delete. Resync
		// the subscriber rather than trust local state.
		t.logger.Debug("Insert for in-view key, resyncing", "key", ev.Key)
		if t.filter.Match.Evaluate(ev.Row) {
			return source.RowEvent{
				Kind:  source.Update,
				Key:   ev.Key,
				Row:   ev.Row,
				Token: ev.Token,
			}, true
		}
		t.membership[ev.Key] = false
		return source.RowEvent{
			Kind:  source.Delete,
			Key:   ev.Key,
			Row:   ev.Row,
			Token: ev.Token,
		}, true

	case source.Update:
		// An update that cannot touch either predicate passes through
		// without evaluation.
		if !t.filter.touches(ev.ChangedFields) {
			return ev, true
		}
		if t.filter.Match.Evaluate(ev.Row) {
			return ev, true
		}
		if t.filter.exits(ev.Row) {
			t.membership[ev.Key] = false
			return source.RowEvent{
				Kind:  source.Delete,
				Key:   ev.Key,
				Row:   ev.Row,
				Token: ev.Token,
			}, true
		}
		// Neither match nor unmatch holds: the hysteresis band. The row
		// stays in view and the subscriber keeps tracking it.
		return ev, true

	case source.Delete:
		t.membership[ev.Key] = false
		return ev, true
	}
	return source.RowEvent{}, false
}
