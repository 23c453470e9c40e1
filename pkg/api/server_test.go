package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tycostream/tycostream/pkg/config"
	"github.com/tycostream/tycostream/pkg/gateway"
	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
	"github.com/tycostream/tycostream/pkg/trigger"
)

const ordersSchema = `
sources:
  orders:
    primary_key: id
    columns:
      id: integer
      symbol: string
      price: numeric
`

// testServer is an API server over an in-process gateway. No upstream
// connects; tests drive the caches directly.
type testServer struct {
	server  *Server
	gateway *gateway.Gateway
	orders  *source.Cache
	http    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reg, err := schema.Parse([]byte(ordersSchema))
	require.NoError(t, err)

	cfg, err := config.Initialize(t.TempDir())
	require.NoError(t, err)
	cfg.Server.WriteTimeout = config.Duration(2 * time.Second)

	gw := gateway.New(cfg, reg)
	orders, err := gw.Cache("orders")
	require.NoError(t, err)
	orders.MarkSnapshotComplete(0)
	t.Cleanup(orders.Close)

	engine := trigger.NewEngine(reg, gw, trigger.WebhookConfig{
		RequestTimeout: time.Second,
		MaxAttempts:    1,
		MinBackoff:     time.Millisecond,
	}, nil)
	t.Cleanup(func() { engine.Shutdown(time.Second) })

	s := NewServer(cfg, gw, engine)
	ts := httptest.NewServer(s.echo)
	t.Cleanup(ts.Close)

	return &testServer{server: s, gateway: gw, orders: orders, http: ts}
}

func orderRow(id int64, symbol string, price string) source.Row {
	return source.Row{
		"id":     schema.NewInt(id),
		"symbol": schema.NewString(symbol),
		"price":  schema.NewBigInt(price),
	}
}

func (ts *testServer) applyInsert(id int64, symbol, price string, token uint64) {
	ts.orders.Apply(source.RowEvent{
		Kind:  source.Insert,
		Key:   source.Key(schema.NewInt(id).Text()),
		Row:   orderRow(id, symbol, price),
		Token: token,
	})
}
