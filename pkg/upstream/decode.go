package upstream

import (
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
)

// rowLayout maps the FETCH result positions of the protocol columns and of
// every declared schema column. Resolved once per session from the first
// row description; columns the view exposes beyond the schema are ignored.
type rowLayout struct {
	ts         int
	progressed int
	diff       int
	cols       []int // parallel to Source.Columns
}

func newRowLayout(src *schema.Source, fields []pgconn.FieldDescription) (*rowLayout, error) {
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		byName[f.Name] = i
	}

	layout := &rowLayout{ts: -1, progressed: -1, diff: -1}
	var ok bool
	if layout.ts, ok = byName["mz_timestamp"]; !ok {
		return nil, protocolf("result has no mz_timestamp column")
	}
	if layout.progressed, ok = byName["mz_progressed"]; !ok {
		return nil, protocolf("result has no mz_progressed column; PROGRESS not in effect")
	}
	if layout.diff, ok = byName["mz_diff"]; !ok {
		return nil, protocolf("result has no mz_diff column")
	}

	layout.cols = make([]int, len(src.Columns))
	for i, col := range src.Columns {
		idx, ok := byName[col.Name]
		if !ok {
			return nil, fatalf("source %s: declared column %q missing from upstream result", src.Name, col.Name)
		}
		layout.cols[i] = idx
	}
	return layout, nil
}

// record is one decoded diff-stream element: either a progress report or a
// signed row change.
type record struct {
	ts         uint64
	progressed bool
	diff       int64
	row        source.Row
}

// decodeRecord turns one raw FETCH row into a record. Protocol-column
// problems are protocol violations (the session restarts); a declared
// column whose text the schema type cannot decode is fatal to the source.
func (l *rowLayout) decodeRecord(src *schema.Source, raw [][]byte) (record, error) {
	var rec record

	tsRaw := raw[l.ts]
	if tsRaw == nil {
		return rec, protocolf("null mz_timestamp")
	}
	ts, err := strconv.ParseUint(string(tsRaw), 10, 64)
	if err != nil {
		return rec, protocolf("bad mz_timestamp %q", string(tsRaw))
	}
	rec.ts = ts

	if p := raw[l.progressed]; p != nil && (string(p) == "t" || string(p) == "true") {
		rec.progressed = true
		return rec, nil
	}

	diffRaw := raw[l.diff]
	if diffRaw == nil {
		return rec, protocolf("null mz_diff on a data row")
	}
	diff, err := strconv.ParseInt(string(diffRaw), 10, 64)
	if err != nil {
		return rec, protocolf("bad mz_diff %q", string(diffRaw))
	}
	rec.diff = diff

	row := make(source.Row, len(src.Columns))
	for i, col := range src.Columns {
		b := raw[l.cols[i]]
		if b == nil {
			// Permitted even for non-nullable declarations: delete records
			// may carry nulls for non-key columns.
			row[col.Name] = schema.Null()
			continue
		}
		v, err := schema.DecodeText(col.Type, string(b))
		if err != nil {
			return rec, fatalf("source %s: column %q: %v", src.Name, col.Name, err)
		}
		row[col.Name] = v
	}
	rec.row = row
	return rec, nil
}
