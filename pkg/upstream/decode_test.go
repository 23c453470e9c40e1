package upstream

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tycostream/tycostream/pkg/schema"
)

// Field order mirrors a real SUBSCRIBE result: protocol columns first, then
// the view's columns, plus one the schema does not declare.
func quoteFields() []pgconn.FieldDescription {
	return []pgconn.FieldDescription{
		{Name: "mz_timestamp"},
		{Name: "mz_progressed"},
		{Name: "mz_diff"},
		{Name: "id"},
		{Name: "symbol"},
		{Name: "price"},
		{Name: "internal_extra"},
	}
}

func TestRowLayoutResolvesColumns(t *testing.T) {
	src := quotesSource(t)

	layout, err := newRowLayout(src, quoteFields())
	require.NoError(t, err)
	assert.Equal(t, 0, layout.ts)
	assert.Equal(t, 1, layout.progressed)
	assert.Equal(t, 2, layout.diff)
	assert.Equal(t, []int{3, 4, 5}, layout.cols)
}

func TestRowLayoutMissingProtocolColumn(t *testing.T) {
	src := quotesSource(t)

	// No mz_progressed: the session was opened without PROGRESS.
	fields := []pgconn.FieldDescription{
		{Name: "mz_timestamp"},
		{Name: "mz_diff"},
		{Name: "id"},
		{Name: "symbol"},
		{Name: "price"},
	}
	_, err := newRowLayout(src, fields)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestRowLayoutMissingDeclaredColumn(t *testing.T) {
	src := quotesSource(t)

	fields := []pgconn.FieldDescription{
		{Name: "mz_timestamp"},
		{Name: "mz_progressed"},
		{Name: "mz_diff"},
		{Name: "id"},
		{Name: "symbol"},
	}
	_, err := newRowLayout(src, fields)
	require.ErrorIs(t, err, ErrFatal)
	assert.Contains(t, err.Error(), "price")
}

func TestDecodeProgressRecord(t *testing.T) {
	src := quotesSource(t)
	layout, err := newRowLayout(src, quoteFields())
	require.NoError(t, err)

	rec, err := layout.decodeRecord(src, [][]byte{
		[]byte("42"), []byte("t"), nil, nil, nil, nil, nil,
	})
	require.NoError(t, err)
	assert.True(t, rec.progressed)
	assert.Equal(t, uint64(42), rec.ts)
	assert.Nil(t, rec.row)
}

func TestDecodeDataRecord(t *testing.T) {
	src := quotesSource(t)
	layout, err := newRowLayout(src, quoteFields())
	require.NoError(t, err)

	rec, err := layout.decodeRecord(src, [][]byte{
		[]byte("7"), []byte("f"), []byte("-1"),
		[]byte("1"), []byte("AAPL"), nil, []byte("ignored"),
	})
	require.NoError(t, err)
	assert.False(t, rec.progressed)
	assert.Equal(t, uint64(7), rec.ts)
	assert.Equal(t, int64(-1), rec.diff)
	assert.Equal(t, schema.NewInt(1), rec.row["id"])
	assert.Equal(t, schema.NewString("AAPL"), rec.row["symbol"])
	// Nulls in declared columns decode to Null, common on delete records.
	assert.True(t, rec.row["price"].IsNull())
}

func TestDecodeProtocolViolations(t *testing.T) {
	src := quotesSource(t)
	layout, err := newRowLayout(src, quoteFields())
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  [][]byte
	}{
		{
			name: "null timestamp",
			raw:  [][]byte{nil, nil, []byte("1"), []byte("1"), []byte("AAPL"), []byte("100"), nil},
		},
		{
			name: "unparseable timestamp",
			raw:  [][]byte{[]byte("soon"), nil, []byte("1"), []byte("1"), []byte("AAPL"), []byte("100"), nil},
		},
		{
			name: "null diff on data row",
			raw:  [][]byte{[]byte("7"), []byte("f"), nil, []byte("1"), []byte("AAPL"), []byte("100"), nil},
		},
		{
			name: "unparseable diff",
			raw:  [][]byte{[]byte("7"), nil, []byte("many"), []byte("1"), []byte("AAPL"), []byte("100"), nil},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := layout.decodeRecord(src, tc.raw)
			require.ErrorIs(t, err, ErrProtocol)
		})
	}
}

// A declared column whose text the schema type rejects means the view and
// the schema disagree; that cannot heal across reconnects.
func TestDecodeUndecodableColumnIsFatal(t *testing.T) {
	src := quotesSource(t)
	layout, err := newRowLayout(src, quoteFields())
	require.NoError(t, err)

	_, err = layout.decodeRecord(src, [][]byte{
		[]byte("7"), []byte("f"), []byte("1"),
		[]byte("not-a-number"), []byte("AAPL"), []byte("100"), nil,
	})
	require.ErrorIs(t, err, ErrFatal)
	assert.Contains(t, err.Error(), "id")
}
