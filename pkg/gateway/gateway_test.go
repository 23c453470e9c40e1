package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tycostream/tycostream/pkg/config"
	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
	"github.com/tycostream/tycostream/pkg/view"
)

const testSchema = `
sources:
  orders:
    primary_key: id
    columns:
      id: integer
      price: numeric
  fills:
    primary_key: id
    columns:
      id: integer
      qty: integer
`

func testGateway(t *testing.T) *Gateway {
	t.Helper()
	reg, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)

	cfg, err := config.Initialize(t.TempDir())
	require.NoError(t, err)
	// Nothing listens on this port; sessions fail fast and retry.
	cfg.Database.Port = 1
	cfg.Runtime.ReconnectMinBackoff = config.Duration(10 * time.Millisecond)
	cfg.Runtime.ReconnectMaxBackoff = config.Duration(50 * time.Millisecond)

	return New(cfg, reg)
}

func TestGatewayBuildsAllSources(t *testing.T) {
	g := testGateway(t)

	for _, name := range []string{"orders", "fills"} {
		cache, err := g.Cache(name)
		require.NoError(t, err)
		assert.Equal(t, name, cache.Source().Name)
	}

	_, err := g.Cache("nope")
	require.ErrorIs(t, err, schema.ErrSourceNotFound)
}

func TestGatewayHealthStartsConnecting(t *testing.T) {
	g := testGateway(t)

	health := g.Health()
	require.Len(t, health, 2)
	assert.Equal(t, "connecting", health["orders"].State)
	assert.False(t, g.Live())
}

func TestGatewayOpenSubscription(t *testing.T) {
	g := testGateway(t)

	cache, err := g.Cache("orders")
	require.NoError(t, err)
	cache.MarkSnapshotComplete(0)

	p, err := g.OpenSubscription(context.Background(), "orders", view.Options{Snapshot: true})
	require.NoError(t, err)
	defer p.Close()

	_, err = g.OpenSubscription(context.Background(), "nope", view.Options{})
	require.ErrorIs(t, err, schema.ErrSourceNotFound)
}

// Cancelling the run context stops the gateway cleanly and closes every
// cache, so late subscribers see the shutdown signal instead of blocking.
func TestGatewayRunCancellation(t *testing.T) {
	g := testGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- g.Run(ctx) }()

	// Let the handlers spin through at least one failed session.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not stop")
	}

	cache, err := g.Cache("orders")
	require.NoError(t, err)
	_, err = cache.Subscribe(context.Background(), 0, false)
	var term *source.TerminalError
	require.True(t, errors.As(err, &term))
	assert.Equal(t, source.ErrSourceShutdown.Code, term.Code)
}
