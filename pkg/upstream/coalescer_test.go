package upstream

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
)

const quotesSchema = `
sources:
  quotes:
    primary_key: id
    columns:
      id: integer
      symbol: string
      price: integer
`

func quotesSource(t *testing.T) *schema.Source {
	t.Helper()
	reg, err := schema.Parse([]byte(quotesSchema))
	require.NoError(t, err)
	src, err := reg.Lookup("quotes")
	require.NoError(t, err)
	return src
}

func quoteRow(id int64, symbol string, price int64) source.Row {
	return source.Row{
		"id":     schema.NewInt(id),
		"symbol": schema.NewString(symbol),
		"price":  schema.NewInt(price),
	}
}

func newTestCoalescer(t *testing.T) (*coalescer, *source.Cache) {
	t.Helper()
	src := quotesSource(t)
	cache := source.NewCache(src)
	t.Cleanup(cache.Close)
	return newCoalescer(src, cache, slog.Default()), cache
}

// drain reads everything currently queued for a subscriber.
func drain(sub *source.Subscription) []source.RowEvent {
	var out []source.RowEvent
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

// The snapshot is everything before the first progress record: rows land in
// the cache and the first progress completes the snapshot at frontier P-1.
func TestCoalescerSnapshotDemarcation(t *testing.T) {
	co, cache := newTestCoalescer(t)

	require.NoError(t, co.Add(0, 1, quoteRow(1, "AAPL", 100)))
	require.NoError(t, co.Add(0, 1, quoteRow(2, "MSFT", 200)))
	assert.False(t, co.SnapshotComplete())

	co.Progress(1)
	assert.True(t, co.SnapshotComplete())

	stats := cache.Stats()
	assert.Equal(t, 2, stats.Rows)
	assert.True(t, stats.SnapshotComplete)
	assert.Equal(t, uint64(0), stats.Frontier)
}

// A retraction plus an addition of the same key at one timestamp is a
// single update carrying the changed columns.
func TestCoalescerRetractAddIsUpdate(t *testing.T) {
	co, cache := newTestCoalescer(t)
	require.NoError(t, co.Add(0, 1, quoteRow(1, "AAPL", 100)))
	co.Progress(1)

	sub, err := cache.Subscribe(t.Context(), 16, false)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, co.Add(5, -1, quoteRow(1, "AAPL", 100)))
	require.NoError(t, co.Add(5, 1, quoteRow(1, "AAPL", 105)))
	co.Progress(6)

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, source.Update, events[0].Kind)
	assert.Equal(t, []string{"price"}, events[0].ChangedFields)
	assert.Equal(t, uint64(5), events[0].Token)
	assert.Equal(t, uint64(5), cache.Stats().Frontier)
}

// Records at distinct timestamps stay distinct events even for one key.
func TestCoalescerNoCrossTimestampMerge(t *testing.T) {
	co, cache := newTestCoalescer(t)
	co.Progress(1)

	sub, err := cache.Subscribe(t.Context(), 16, false)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, co.Add(5, 1, quoteRow(1, "AAPL", 100)))
	// ts advances: the pending insert flushes before the delete buffers.
	require.NoError(t, co.Add(6, -1, quoteRow(1, "AAPL", 100)))
	co.Progress(7)

	events := drain(sub)
	require.Len(t, events, 2)
	assert.Equal(t, source.Insert, events[0].Kind)
	assert.Equal(t, source.Delete, events[1].Kind)
}

// A lone addition for a live key is treated as an update against the
// cached pre-state rather than a duplicate insert.
func TestCoalescerLoneAdditionForLiveKey(t *testing.T) {
	co, cache := newTestCoalescer(t)
	require.NoError(t, co.Add(0, 1, quoteRow(1, "AAPL", 100)))
	co.Progress(1)

	sub, err := cache.Subscribe(t.Context(), 16, false)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, co.Add(5, 1, quoteRow(1, "AAPL", 110)))
	co.Progress(6)

	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, source.Update, events[0].Kind)
	assert.Equal(t, []string{"price"}, events[0].ChangedFields)
}

// A retraction for a key the cache never held is dropped, not surfaced.
func TestCoalescerRetractionForUnknownKey(t *testing.T) {
	co, cache := newTestCoalescer(t)
	co.Progress(1)

	sub, err := cache.Subscribe(t.Context(), 16, false)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, co.Add(5, -1, quoteRow(9, "GONE", 1)))
	co.Progress(6)

	assert.Empty(t, drain(sub))
	assert.Equal(t, 0, cache.Stats().Rows)
}

func TestCoalescerTimestampRegression(t *testing.T) {
	co, _ := newTestCoalescer(t)

	require.NoError(t, co.Add(5, 1, quoteRow(1, "AAPL", 100)))
	err := co.Add(4, 1, quoteRow(2, "MSFT", 200))
	require.ErrorIs(t, err, ErrProtocol)
}

func TestCoalescerNullPrimaryKey(t *testing.T) {
	co, _ := newTestCoalescer(t)

	row := quoteRow(1, "AAPL", 100)
	row["id"] = schema.Null()
	err := co.Add(5, 1, row)
	require.ErrorIs(t, err, ErrProtocol)
}

// Later progress records keep advancing the frontier to P-1.
func TestCoalescerProgressAdvancesFrontier(t *testing.T) {
	co, cache := newTestCoalescer(t)
	co.Progress(1)
	require.Equal(t, uint64(0), cache.Stats().Frontier)

	co.Progress(10)
	assert.Equal(t, uint64(9), cache.Stats().Frontier)
}
