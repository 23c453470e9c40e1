package view

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
)

func liveCache(t *testing.T) *source.Cache {
	t.Helper()
	c := source.NewCache(scoresSource())
	c.MarkSnapshotComplete(0)
	t.Cleanup(c.Close)
	return c
}

func applyScore(c *source.Cache, kind source.EventKind, id, value int, token uint64) {
	ev := source.RowEvent{
		Kind:  kind,
		Key:   source.Key(strconv.Itoa(id)),
		Row:   scoreRow(id, value),
		Token: token,
	}
	if kind == source.Update {
		ev.ChangedFields = []string{"value"}
	}
	c.Apply(ev)
}

func recvPipeline(t *testing.T, p *Pipeline) source.RowEvent {
	t.Helper()
	select {
	case ev, ok := <-p.Out():
		require.True(t, ok, "pipeline ended early: %v", p.Err())
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pipeline event")
	}
	return source.RowEvent{}
}

func expectNoEvent(t *testing.T, p *Pipeline) {
	t.Helper()
	select {
	case ev := <-p.Out():
		t.Fatalf("unexpected event %s key=%s", ev.Kind, ev.Key)
	case <-time.After(50 * time.Millisecond):
	}
}

// The basic lifecycle a subscriber observes: insert, update with its
// changed set, delete.
func TestPipelineInsertUpdateDelete(t *testing.T) {
	c := liveCache(t)

	p, err := Open(context.Background(), c, Options{Snapshot: true})
	require.NoError(t, err)
	defer p.Close()

	applyScore(c, source.Insert, 1, 100, 1)
	applyScore(c, source.Update, 1, 200, 2)
	applyScore(c, source.Delete, 1, 200, 3)

	ev := recvPipeline(t, p)
	assert.Equal(t, source.Insert, ev.Kind)
	assert.True(t, ev.Row["value"].Equal(schema.NewInt(100)))

	ev = recvPipeline(t, p)
	assert.Equal(t, source.Update, ev.Kind)
	assert.Equal(t, []string{"value"}, ev.ChangedFields)
	assert.True(t, ev.Row["value"].Equal(schema.NewInt(200)))

	ev = recvPipeline(t, p)
	assert.Equal(t, source.Delete, ev.Kind)
}

// A late joiner gets all present keys as snapshot inserts, then the live
// tail, with nothing duplicated across the boundary.
func TestPipelineLateJoinerSnapshot(t *testing.T) {
	c := liveCache(t)
	for id := 1; id <= 3; id++ {
		applyScore(c, source.Insert, id, id*100, uint64(id))
	}

	p, err := Open(context.Background(), c, Options{Snapshot: true})
	require.NoError(t, err)
	defer p.Close()

	applyScore(c, source.Insert, 4, 400, 4)

	seen := make(map[source.Key]int)
	for i := 0; i < 4; i++ {
		ev := recvPipeline(t, p)
		assert.Equal(t, source.Insert, ev.Kind)
		seen[ev.Key]++
	}
	for id := 1; id <= 4; id++ {
		assert.Equal(t, 1, seen[source.Key(strconv.Itoa(id))], "key %d", id)
	}
	expectNoEvent(t, p)
}

func TestPipelineLiveOnlySkipsSnapshot(t *testing.T) {
	c := liveCache(t)
	applyScore(c, source.Insert, 1, 100, 1)

	p, err := Open(context.Background(), c, Options{Snapshot: false})
	require.NoError(t, err)
	defer p.Close()

	applyScore(c, source.Insert, 2, 200, 2)

	ev := recvPipeline(t, p)
	assert.Equal(t, source.Key("2"), ev.Key)
	expectNoEvent(t, p)
}

func TestPipelineFilteredSnapshot(t *testing.T) {
	c := liveCache(t)
	applyScore(c, source.Insert, 1, 50, 1)
	applyScore(c, source.Insert, 2, 150, 2)

	f, err := ParseFilter(scoresSource(), json.RawMessage(`{"value": {"_gte": 100}}`), nil)
	require.NoError(t, err)

	p, err := Open(context.Background(), c, Options{Filter: f, Snapshot: true})
	require.NoError(t, err)
	defer p.Close()

	ev := recvPipeline(t, p)
	assert.Equal(t, source.Insert, ev.Kind)
	assert.Equal(t, source.Key("2"), ev.Key)
	expectNoEvent(t, p)
}

// The delta-mode scenario: an update to one column arrives as primary key
// plus that column only.
func TestPipelineDeltaMode(t *testing.T) {
	c := liveCache(t)
	applyScore(c, source.Insert, 1, 100, 1)

	p, err := Open(context.Background(), c, Options{Mode: Delta, Snapshot: true})
	require.NoError(t, err)
	defer p.Close()

	ev := recvPipeline(t, p)
	require.Equal(t, source.Insert, ev.Kind)

	applyScore(c, source.Update, 1, 200, 2)
	ev = recvPipeline(t, p)
	require.Equal(t, source.Update, ev.Kind)
	assert.Len(t, ev.Row, 2)
	assert.True(t, ev.Row["id"].Equal(schema.NewInt(1)))
	assert.True(t, ev.Row["value"].Equal(schema.NewInt(200)))
	assert.Equal(t, []string{"value"}, ev.ChangedFields)
}

func TestPipelineLaggedTermination(t *testing.T) {
	c := liveCache(t)

	p, err := Open(context.Background(), c, Options{Snapshot: false, Queue: 8})
	require.NoError(t, err)
	defer p.Close()

	// Nobody drains Out; the pipeline's live queue (8) plus the one event
	// parked in the out handoff absorb at most 9 events.
	for i := 0; i < 100; i++ {
		applyScore(c, source.Insert, i, i, uint64(i+1))
	}

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-p.Out():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "pipeline should terminate lagged")

	require.ErrorIs(t, p.Err(), source.ErrSubscriberLagged)
}

func TestPipelineSurvivorUnaffectedByLaggedPeer(t *testing.T) {
	c := liveCache(t)

	lagged, err := Open(context.Background(), c, Options{Queue: 8})
	require.NoError(t, err)
	defer lagged.Close()

	healthy, err := Open(context.Background(), c, Options{Queue: 2048})
	require.NoError(t, err)
	defer healthy.Close()

	const total = 1000
	go func() {
		for i := 0; i < total; i++ {
			applyScore(c, source.Insert, i, i, uint64(i+1))
		}
	}()

	for i := 0; i < total; i++ {
		ev := recvPipeline(t, healthy)
		assert.Equal(t, source.Key(strconv.Itoa(i)), ev.Key)
	}

	require.Eventually(t, func() bool {
		return lagged.Err() != nil
	}, 2*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, lagged.Err(), source.ErrSubscriberLagged)
}

func TestPipelineCancellation(t *testing.T) {
	c := liveCache(t)

	p, err := Open(context.Background(), c, Options{Snapshot: false})
	require.NoError(t, err)

	p.Close()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-p.Out():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, p.Err())

	// Idempotent.
	p.Close()
}

func TestPipelineResyncTermination(t *testing.T) {
	c := liveCache(t)

	p, err := Open(context.Background(), c, Options{Snapshot: true})
	require.NoError(t, err)
	defer p.Close()

	c.Reset(source.ErrUpstreamResync)

	require.Eventually(t, func() bool {
		return p.Err() != nil
	}, 2*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, p.Err(), source.ErrUpstreamResync)
}
