// Package source implements the per-source authoritative row cache and its
// fan-out. Exactly one writer (the upstream session for that source) applies
// events; any number of subscribers read a consistent snapshot spliced with
// the live tail.
package source

import (
	"github.com/tycostream/tycostream/pkg/schema"
)

// Key is the canonical text form of a row's primary-key value. Deleting and
// re-inserting the same key are distinct lifetime episodes of that key.
type Key string

// Row maps column name to typed value. Rows are treated as immutable once
// published: the cache replaces rows, it never mutates one in place.
type Row map[string]schema.Value

// KeyOf derives the cache key from a row's primary-key column.
func KeyOf(row Row, primaryKey string) (Key, bool) {
	v, ok := row[primaryKey]
	if !ok || v.IsNull() {
		return "", false
	}
	return Key(v.Text()), true
}

// EventKind discriminates row events.
type EventKind uint8

const (
	Insert EventKind = iota + 1
	Update
	Delete
)

func (k EventKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return "unknown"
}

// RowEvent is one post-state row delta in the total order produced for a
// source. Token is the upstream logical timestamp, non-decreasing across
// the stream; events sharing a timestamp have already been coalesced by the
// upstream session.
type RowEvent struct {
	Kind EventKind
	Key  Key

	// Row is the post-state. For Delete it carries the primary key plus
	// whatever columns the upstream returned, which may be the full prior
	// row or nulls.
	Row Row

	// ChangedFields lists the non-key columns whose value differs from the
	// pre-state. Populated for Update only.
	ChangedFields []string

	Token uint64
}
