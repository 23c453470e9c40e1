package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// Health reports unhealthy while no upstream session is live.
func TestHealthUnhealthyWithoutUpstream(t *testing.T) {
	ts := newTestServer(t)

	var health HealthResponse
	code := getJSON(t, ts.http.URL+"/healthz", &health)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, healthStatusUnhealthy, health.Status)
	require.Contains(t, health.Sources, "orders")
	assert.Equal(t, "connecting", health.Sources["orders"].State)
}

func TestListSources(t *testing.T) {
	ts := newTestServer(t)

	var sources []SourceResponse
	code := getJSON(t, ts.http.URL+"/api/v1/sources", &sources)

	require.Equal(t, http.StatusOK, code)
	require.Len(t, sources, 1)
	assert.Equal(t, "orders", sources[0].Name)
	assert.Equal(t, "id", sources[0].PrimaryKey)
	require.Len(t, sources[0].Columns, 3)
	assert.Equal(t, ColumnResponse{Name: "id", Type: "integer"}, sources[0].Columns[0])
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTriggerLifecycle(t *testing.T) {
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	ts := newTestServer(t)
	base := ts.http.URL + "/api/v1/triggers"

	req := CreateTriggerRequest{
		Source:     "orders",
		Name:       "big-orders",
		WebhookURL: sink.URL,
		Match:      json.RawMessage(`{"price": {"_gte": 1000}}`),
	}

	var created TriggerResponse
	code := postJSON(t, base, req, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "big-orders", created.Name)

	var listed []TriggerResponse
	code = getJSON(t, base, &listed)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, listed, 1)
	assert.Equal(t, "orders", listed[0].Source)

	// Same (source, name) again conflicts.
	code = postJSON(t, base, req, nil)
	assert.Equal(t, http.StatusConflict, code)

	httpReq, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/orders/big-orders", base), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	code = getJSON(t, base, &listed)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, listed)

	// Deleting again is a 404.
	httpReq, err = http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/orders/big-orders", base), nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// A trigger created over HTTP keeps delivering after the create request
// has returned; its stream is not scoped to the request context.
func TestTriggerFiresAfterCreateReturns(t *testing.T) {
	fired := make(chan string, 4)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fired <- string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	ts := newTestServer(t)

	code := postJSON(t, ts.http.URL+"/api/v1/triggers", CreateTriggerRequest{
		Source:     "orders",
		Name:       "big-orders",
		WebhookURL: sink.URL,
		Match:      json.RawMessage(`{"id": {"_gte": 100}}`),
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	ts.applyInsert(100, "AAPL", "150", 1)

	select {
	case body := <-fired:
		assert.Contains(t, body, `"FIRE"`)
		assert.Contains(t, body, `"big-orders"`)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never fired after the create request completed")
	}
}

func TestCreateTriggerValidation(t *testing.T) {
	ts := newTestServer(t)
	base := ts.http.URL + "/api/v1/triggers"

	tests := []struct {
		name string
		req  CreateTriggerRequest
		code int
	}{
		{
			name: "missing name",
			req: CreateTriggerRequest{
				Source: "orders", WebhookURL: "http://sink.invalid/hook",
				Match: json.RawMessage(`{"price": {"_gte": 1}}`),
			},
			code: http.StatusBadRequest,
		},
		{
			name: "missing match",
			req: CreateTriggerRequest{
				Source: "orders", Name: "t", WebhookURL: "http://sink.invalid/hook",
			},
			code: http.StatusBadRequest,
		},
		{
			name: "bad webhook url",
			req: CreateTriggerRequest{
				Source: "orders", Name: "t", WebhookURL: "ftp://sink.invalid",
				Match: json.RawMessage(`{"price": {"_gte": 1}}`),
			},
			code: http.StatusBadRequest,
		},
		{
			name: "unknown source",
			req: CreateTriggerRequest{
				Source: "nope", Name: "t", WebhookURL: "http://sink.invalid/hook",
				Match: json.RawMessage(`{"price": {"_gte": 1}}`),
			},
			code: http.StatusNotFound,
		},
		{
			name: "unknown column in match",
			req: CreateTriggerRequest{
				Source: "orders", Name: "t", WebhookURL: "http://sink.invalid/hook",
				Match: json.RawMessage(`{"missing": {"_gte": 1}}`),
			},
			code: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := postJSON(t, base, tt.req, nil)
			assert.Equal(t, tt.code, code)
		})
	}
}
