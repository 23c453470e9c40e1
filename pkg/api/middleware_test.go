package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a log sink safe for the server's goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRequestLoggerEmitsOneLine(t *testing.T) {
	ts := newTestServer(t)

	sink := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(sink, nil)))
	defer slog.SetDefault(prev)

	resp, err := http.Get(ts.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(sink.String()), []byte("Request handled"))
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, sink.String(), "path=/healthz")
}
