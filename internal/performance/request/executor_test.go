package request_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jassi-singh/forgeload/internal/performance"
	"github.com/jassi-singh/forgeload/internal/performance/metrics"
	"github.com/jassi-singh/forgeload/internal/performance/request"
)

func newVU(id uint64) *performance.VirtualUser {
	return performance.NewVirtualUser(id, nil, nil, performance.VUOptions{})
}

func defaultChecks() []*request.Check {
	return []*request.Check{
		request.StatusCheck("status is 200", 200),
		request.BodyNotEmptyCheck("body is not empty"),
	}
}

func staticClient(status int, body string, err error) request.Client {
	return request.ClientFunc(func(ctx context.Context, url string) (int, []byte, error) {
		return status, []byte(body), err
	})
}

func TestExecutor_EndpointRoundRobinByVUID(t *testing.T) {
	var hits [3]atomic.Int64
	client := request.ClientFunc(func(ctx context.Context, url string) (int, []byte, error) {
		switch url {
		case "http://a/get-key":
			hits[0].Add(1)
		case "http://b/get-key":
			hits[1].Add(1)
		case "http://c/get-key":
			hits[2].Add(1)
		}
		return 200, []byte("k"), nil
	})

	c := metrics.NewCollector()
	e, err := request.NewExecutor(client, c, request.Options{
		Endpoints: []string{"http://a/get-key", "http://b/get-key", "http://c/get-key"},
		Checks:    defaultChecks(),
	})
	require.NoError(t, err)

	for id := uint64(1); id <= 9; id++ {
		vu := newVU(id)
		s := e.Execute(context.Background(), vu)
		assert.Equal(t, int(id%3), s.EndpointIndex)
		assert.Equal(t, int(id%3), vu.CurrentEndpoint())
	}

	for i := range hits {
		assert.Equal(t, int64(3), hits[i].Load(), "endpoint %d", i)
	}

	snap := c.Snapshot()
	assert.Equal(t, int64(9), snap.Count)
	require.Len(t, snap.Endpoints, 3)
}

func TestExecutor_Outcomes(t *testing.T) {
	timeoutErr := &net.OpError{Op: "read", Err: timeoutError{}}

	tests := []struct {
		name   string
		client request.Client
		checks []*request.Check
		reason metrics.Reason
	}{
		{"success", staticClient(200, `{"key":"abc"}`, nil), defaultChecks(), metrics.ReasonNone},
		{"status mismatch", staticClient(503, "busy", nil), defaultChecks(), metrics.ReasonStatusMismatch},
		{"empty body", staticClient(200, "  ", nil), defaultChecks(), metrics.CheckFailed("body is not empty")},
		{"connection refused", staticClient(0, "", errors.New("dial tcp: connection refused")), defaultChecks(), metrics.ReasonConnectionError},
		{"deadline", staticClient(0, "", context.DeadlineExceeded), defaultChecks(), metrics.ReasonTimeout},
		{"net timeout", staticClient(0, "", timeoutErr), defaultChecks(), metrics.ReasonTimeout},
		{"cancelled", staticClient(0, "", context.Canceled), defaultChecks(), metrics.ReasonCancelled},
		{"no checks", staticClient(200, "", nil), nil, metrics.ReasonNone},
		{"non-2xx without checks", staticClient(500, "", nil), nil, metrics.ReasonStatusMismatch},
		{"non-2xx with body check only", staticClient(500, "key pool unavailable", nil), []*request.Check{request.BodyNotEmptyCheck("key is not empty")}, metrics.ReasonStatusMismatch},
		{"status check expects 404", staticClient(404, "gone", nil), []*request.Check{request.StatusCheck("is gone", 404)}, metrics.ReasonNone},
		{"redirect without checks", staticClient(302, "", nil), nil, metrics.ReasonStatusMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := metrics.NewCollector()
			e, err := request.NewExecutor(tt.client, c, request.Options{
				Endpoints: []string{"http://localhost:8080"},
				Checks:    tt.checks,
			})
			require.NoError(t, err)

			s := e.Execute(context.Background(), newVU(1))
			assert.Equal(t, tt.reason, s.Reason)
			assert.Equal(t, tt.reason != metrics.ReasonNone, s.Failed())

			// Exactly one sample per call.
			assert.Equal(t, int64(1), c.Snapshot().Count)
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestExecutor_FirstFailingCheckWins(t *testing.T) {
	c := metrics.NewCollector()
	e, err := request.NewExecutor(staticClient(404, "", nil), c, request.Options{
		Endpoints: []string{"http://localhost"},
		Checks: []*request.Check{
			request.BodyNotEmptyCheck("has body"),
			request.StatusCheck("", 200),
		},
	})
	require.NoError(t, err)

	s := e.Execute(context.Background(), newVU(1))
	assert.Equal(t, metrics.CheckFailed("has body"), s.Reason)
}

func TestExecutor_HTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "forgeload-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "yes", r.Header.Get("X-Load-Test"))
		if r.URL.Path != "/get-key" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"key":"0b9d"}`))
	}))
	defer srv.Close()

	cfg := request.DefaultHTTPClientConfig()
	cfg.UserAgent = "forgeload-test"
	cfg.Headers = map[string]string{"X-Load-Test": "yes"}
	client := request.NewHTTPClient(cfg)
	defer client.CloseIdleConnections()

	c := metrics.NewCollector()
	e, err := request.NewExecutor(client, c, request.Options{
		Endpoints: []string{srv.URL + "/get-key", srv.URL + "/missing"},
		Checks:    defaultChecks(),
	})
	require.NoError(t, err)

	ok := e.Execute(context.Background(), newVU(2))
	assert.False(t, ok.Failed())
	assert.Equal(t, int64(len(`{"key":"0b9d"}`)), ok.BytesReceived)
	assert.Greater(t, ok.Duration, time.Duration(0))

	missing := e.Execute(context.Background(), newVU(1))
	assert.Equal(t, metrics.ReasonStatusMismatch, missing.Reason)
}

func TestExecutor_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := request.NewHTTPClient(request.DefaultHTTPClientConfig())
	defer client.CloseIdleConnections()

	e, err := request.NewExecutor(client, metrics.NewCollector(), request.Options{
		Endpoints: []string{srv.URL},
		Timeout:   50 * time.Millisecond,
	})
	require.NoError(t, err)

	s := e.Execute(context.Background(), newVU(1))
	assert.Equal(t, metrics.ReasonTimeout, s.Reason)
}

func TestExecutor_CancelledMidRequest(t *testing.T) {
	started := make(chan struct{})
	client := request.ClientFunc(func(ctx context.Context, url string) (int, []byte, error) {
		close(started)
		<-ctx.Done()
		return 0, nil, ctx.Err()
	})

	e, err := request.NewExecutor(client, metrics.NewCollector(), request.Options{
		Endpoints: []string{"http://localhost"},
		Timeout:   time.Minute,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	s := e.Execute(ctx, newVU(1))
	assert.Equal(t, metrics.ReasonCancelled, s.Reason)
}

func TestExecutor_LogsSuccessBody(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	e, err := request.NewExecutor(staticClient(200, "7c1e", nil), metrics.NewCollector(), request.Options{
		Endpoints:      []string{"http://localhost:8081/get-key"},
		Checks:         defaultChecks(),
		LogSuccessBody: true,
		LogPrefix:      "KEY:",
		Logger:         logger,
	})
	require.NoError(t, err)

	e.Execute(context.Background(), newVU(1))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "KEY:7c1e", entry.Message)
	assert.Equal(t, uint64(1), entry.Data["vu"])
	assert.Equal(t, "http://localhost:8081/get-key", entry.Data["endpoint"])
}

func TestExecutor_DoesNotLogFailedBody(t *testing.T) {
	logger, hook := test.NewNullLogger()

	e, err := request.NewExecutor(staticClient(500, "oops", nil), metrics.NewCollector(), request.Options{
		Endpoints:      []string{"http://localhost"},
		Checks:         defaultChecks(),
		LogSuccessBody: true,
		LogPrefix:      "KEY:",
		Logger:         logger,
	})
	require.NoError(t, err)

	e.Execute(context.Background(), newVU(1))
	assert.Empty(t, hook.AllEntries())
}

func TestExecutor_RunIteration(t *testing.T) {
	c := metrics.NewCollector()
	e, err := request.NewExecutor(staticClient(503, "", nil), c, request.Options{
		Endpoints: []string{"http://localhost"},
		Checks:    defaultChecks(),
	})
	require.NoError(t, err)

	err = e.RunIteration(context.Background(), newVU(4))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "StatusMismatch"))
}

func TestExecutor_Limiter(t *testing.T) {
	c := metrics.NewCollector()
	e, err := request.NewExecutor(staticClient(200, "k", nil), c, request.Options{
		Endpoints: []string{"http://localhost"},
		Limiter:   request.NewLimiter(20),
	})
	require.NoError(t, err)

	// The burst is spent first, then requests are paced at 20/s.
	start := time.Now()
	for i := 0; i < 25; i++ {
		e.Execute(context.Background(), newVU(1))
	}
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := e.Execute(ctx, newVU(1))
	assert.Equal(t, metrics.ReasonCancelled, s.Reason)
	assert.Equal(t, int64(26), c.Snapshot().Count)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, request.NewLimiter(0))
	assert.Equal(t, 1, request.NewLimiter(0.5).Burst())
	assert.Equal(t, 100, request.NewLimiter(100).Burst())
}

func TestNewExecutor_Invalid(t *testing.T) {
	_, err := request.NewExecutor(nil, metrics.NewCollector(), request.Options{Endpoints: []string{"http://x"}})
	assert.Error(t, err)

	_, err = request.NewExecutor(staticClient(200, "", nil), metrics.NewCollector(), request.Options{})
	assert.Error(t, err)
}
