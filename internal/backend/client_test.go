package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robosystems/graphplane/internal/logging"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "test-key"
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	client, err := New(cfg, nil, nil, logging.New("backend", "error", "text"))
	require.NoError(t, err)
	return client
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	out, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", out["status"])
}

func TestCreateDatabase_IdempotentOnConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "database already exists"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	exists, err := client.CreateDatabase(context.Background(), CreateDatabaseRequest{GraphID: "kg0123456789abcdef"})
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDeleteDatabase_IdempotentOnNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.DeleteDatabase(context.Background(), "kg0123456789abcdef")
	assert.NoError(t, err)
}

func TestQuery_NormalizesEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.Query(context.Background(), "kg0123456789abcdef", "MATCH (n) RETURN n", nil)
	require.NoError(t, err)
	assert.NotNil(t, result.Data)
	assert.NotNil(t, result.Columns)
	assert.Equal(t, 0, result.RowCount)
}

func TestQuery_SyntaxErrorIsNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "parser exception: unexpected token"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.Query(context.Background(), "kg0123456789abcdef", "MATC (n) RETURN n", nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestQuery_TransientErrorIsRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(Result{Data: []map[string]interface{}{{"n": 1}}, Columns: []string{"n"}, RowCount: 1})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	result, err := client.Query(context.Background(), "kg0123456789abcdef", "MATCH (n) RETURN n", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, result.RowCount)
}

func TestDatabaseExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	exists, err := client.DatabaseExists(context.Background(), "kg0123456789abcdef")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestQueryStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		_, _ = w.Write([]byte(`{"n":1}` + "\n"))
		_, _ = w.Write([]byte(`{"n":2}` + "\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	rows, errCh := client.QueryStream(context.Background(), "kg0123456789abcdef", "MATCH (n) RETURN n", nil)

	var got []map[string]interface{}
	for row := range rows {
		got = append(got, row)
	}
	require.NoError(t, <-errCh)
	assert.Len(t, got, 2)
}
