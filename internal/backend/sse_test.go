package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSSEEvent(t *testing.T, w http.ResponseWriter, event, data string) {
	t.Helper()
	_, _ = w.Write([]byte("event: " + event + "\n"))
	_, _ = w.Write([]byte("data: " + data + "\n\n"))
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func TestMonitorTask_Completed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSEEvent(t, w, "heartbeat", "")
		writeSSEEvent(t, w, "progress", `{"progress":50,"message":"halfway"}`)
		writeSSEEvent(t, w, "completed", `{"status":"done","result":{"rows":10}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	event, err := client.MonitorTask(context.Background(), TaskHandle{TaskID: "t-1", SSEPath: "/tasks/t-1/stream"})
	require.NoError(t, err)
	assert.Equal(t, "completed", event.Type)
	assert.Equal(t, "done", event.Status)
}

func TestMonitorTask_Failed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSEEvent(t, w, "failed", `{"error":"ingestion aborted"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.MonitorTask(context.Background(), TaskHandle{TaskID: "t-2", SSEPath: "/tasks/t-2/stream"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingestion aborted")
}

func TestMonitorTask_SkipsUnparseableEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeSSEEvent(t, w, "progress", `not-json`)
		writeSSEEvent(t, w, "completed", `{"status":"done"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	event, err := client.MonitorTask(context.Background(), TaskHandle{TaskID: "t-3", SSEPath: "/tasks/t-3/stream"})
	require.NoError(t, err)
	assert.Equal(t, "completed", event.Type)
}
