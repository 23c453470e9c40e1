package view

import (
	"fmt"

	"github.com/tycostream/tycostream/pkg/source"
)

// Mode selects how much of each row the pipeline emits.
type Mode uint8

const (
	// FullRow emits the complete post-state row on every event.
	FullRow Mode = iota

	// Delta emits the primary key plus changed columns on update and the
	// primary key alone on delete. Inserts always carry the full row.
	Delta
)

func (m Mode) String() string {
	switch m {
	case FullRow:
		return "full_row"
	case Delta:
		return "delta"
	}
	return "unknown"
}

// ParseMode resolves a mode name from the API.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "", "full_row", "full":
		return FullRow, nil
	case "delta":
		return Delta, nil
	}
	return FullRow, fmt.Errorf("unknown mode %q", name)
}

// Project reduces one event to its wire shape for the given mode. Updates
// with no recorded changed set — filter-synthesized transitions — keep the
// full row: a subscriber that just (re)gained the row needs all of it.
func Project(mode Mode, primaryKey string, ev source.RowEvent) source.RowEvent {
	if mode == FullRow {
		return ev
	}

	switch ev.Kind {
	case source.Update:
		if len(ev.ChangedFields) == 0 {
			return ev
		}
		partial := make(source.Row, len(ev.ChangedFields)+1)
		if pk, ok := ev.Row[primaryKey]; ok {
			partial[primaryKey] = pk
		}
		for _, col := range ev.ChangedFields {
			if v, ok := ev.Row[col]; ok {
				partial[col] = v
			}
		}
		ev.Row = partial
		return ev

	case source.Delete:
		partial := make(source.Row, 1)
		if pk, ok := ev.Row[primaryKey]; ok {
			partial[primaryKey] = pk
		}
		ev.Row = partial
		return ev
	}
	return ev
}
