package mockserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_GetKey(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	first := get(t, s.Handler(), http.MethodGet, KeyPath)
	second := get(t, s.Handler(), http.MethodGet, KeyPath)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "text/plain", first.Header().Get("Content-Type"))
	_, err = uuid.Parse(first.Body.String())
	assert.NoError(t, err, "key %q should be a UUID", first.Body.String())
	assert.NotEqual(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int64(2), s.Served())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	rec := get(t, s.Handler(), http.MethodPost, KeyPath)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, int64(0), s.Served())
}

func TestServer_InjectedFailures(t *testing.T) {
	s, err := New(Config{FailureRate: 1})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusInternalServerError, get(t, s.Handler(), http.MethodGet, KeyPath).Code)
	}
	assert.Equal(t, int64(5), s.Failed())
	assert.Equal(t, int64(0), s.Served())
}

func TestServer_EmptyBodies(t *testing.T) {
	s, err := New(Config{EmptyRate: 1})
	require.NoError(t, err)

	rec := get(t, s.Handler(), http.MethodGet, KeyPath)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestServer_Latency(t *testing.T) {
	s, err := New(Config{Latency: 30 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	get(t, s.Handler(), http.MethodGet, KeyPath)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestServer_Health(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	rec := get(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", rec.Body.String())
}

func TestConfig_Validate(t *testing.T) {
	bad := []Config{
		{FailureRate: 1.5},
		{FailureRate: -0.1},
		{EmptyRate: 2},
		{Latency: -time.Second},
	}
	for _, cfg := range bad {
		_, err := New(cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestServer_ServeMultiplePorts(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	listeners, err := Listen("127.0.0.1", []int{0, 0, 0})
	require.NoError(t, err)
	require.Len(t, listeners, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, listeners...) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	for _, ln := range listeners {
		resp, err := client.Get("http://" + ln.Addr().String() + KeyPath)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, body)
	}
	assert.Equal(t, int64(3), s.Served())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_NoListeners(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	assert.Error(t, s.Serve(context.Background()))
}
