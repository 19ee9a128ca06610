package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/celergeo/internal/events"
)

func TestLastEventID(t *testing.T) {
	tests := []struct {
		header string
		want   int64
	}{
		{"", 0},
		{"7", 7},
		{"-3", 0},
		{"abc", 0},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		req.Header.Set("Last-Event-ID", tt.header)
		assert.Equal(t, tt.want, lastEventID(req), "header %q", tt.header)
	}
}

func TestEventsStreamEndsWhenHubCloses(t *testing.T) {
	f := newFixture(t, Config{})
	f.server.Events().Publish(events.TraceCompleted, map[string]any{"id": "trace-1"})

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		rr := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/events", nil))
		done <- rr
	}()

	time.Sleep(20 * time.Millisecond)
	f.server.Events().Close()

	select {
	case rr := <-done:
		assert.Contains(t, rr.Body.String(), "event: trace.completed")
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the hub closed")
	}
}

func TestEventsReplaysSinceLastEventID(t *testing.T) {
	f := newFixture(t, Config{})
	hub := f.server.Events()
	hub.Publish(events.TraceCompleted, map[string]any{"id": "trace-1"})
	hub.Publish(events.TraceFailed, map[string]any{"status": 504})
	hub.Publish(events.EngineExited, map[string]any{"exit_code": 0})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rr := httptest.NewRecorder()

	f.server.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.NotContains(t, body, "event: trace.completed")
	assert.Contains(t, body, "id: 2\nevent: trace.failed\ndata: {\"status\":504}\n\n")
	assert.Contains(t, body, "id: 3\nevent: engine.exited\n")
	assert.Less(t, strings.Index(body, "trace.failed"), strings.Index(body, "engine.exited"))
}

func TestEventsStreamsLivePublishes(t *testing.T) {
	f := newFixture(t, Config{})
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Headers arrive after Subscribe, so this publish reaches the stream.
	f.server.Events().Publish(events.TraceCompleted, map[string]any{"id": "trace-9"})

	buf := make([]byte, 0, 256)
	chunk := make([]byte, 128)
	for !strings.Contains(string(buf), "\n\n") {
		n, err := resp.Body.Read(chunk)
		buf = append(buf, chunk[:n]...)
		require.NoError(t, err)
	}
	assert.Equal(t, "id: 1\nevent: trace.completed\ndata: {\"id\":\"trace-9\"}\n\n", string(buf))
}

func TestEventsRequiresAPIKey(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret"})
	rr := f.do(http.MethodGet, "/events", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(http.MethodGet, "/events?api_key=wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?api_key=secret", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
