package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/shardmgr-go/core/manager"
	"github.com/codewandler/shardmgr-go/core/sharding"
)

func newTestServer(t *testing.T, numShards int) (*manager.Manager, *httptest.Server) {
	t.Helper()

	m, err := manager.New(manager.Config{
		Context: t.Context(),
		Log:     slog.New(slog.DiscardHandler),
		Storage: manager.NewMemoryStorage(),
		Pods:    manager.NewFakePodsClient(),
		Health:  manager.NewFakePodHealth(),

		NumberOfShards: numShards,

		// keep the periodic loops quiet during tests
		RebalanceInterval:      time.Hour,
		RebalanceRetryInterval: time.Hour,
		PodHealthCheckInterval: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, m.Shutdown(ctx))
	})

	srv := httptest.NewServer(NewHandler(m, HandlerConfig{Log: slog.New(slog.DiscardHandler)}))
	t.Cleanup(srv.Close)
	return m, srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	res, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func getAssignments(t *testing.T, srv *httptest.Server) map[sharding.ShardID]*sharding.PodAddress {
	t.Helper()
	res, err := http.Get(srv.URL + "/shardmgr/assignments")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "application/json", res.Header.Get("Content-Type"))

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assignments, err := manager.DecodeAssignments(data)
	require.NoError(t, err)
	return assignments
}

func ownedVia(t *testing.T, srv *httptest.Server, addr sharding.PodAddress) int {
	t.Helper()
	n := 0
	for _, owner := range getAssignments(t, srv) {
		if owner != nil && *owner == addr {
			n++
		}
	}
	return n
}

// Scenario: a pod registers over HTTP, the coordinator assigns it the
// whole shard space, and unregistering frees the shards again.
func TestHandler_RegisterUnregisterRoundTrip(t *testing.T) {
	m, srv := newTestServer(t, 4)
	addr := sharding.PodAddress{Host: "p1", Port: 9000}

	res := post(t, srv.URL+"/shardmgr/register", `{"host":"p1","port":9000,"version":"v1"}`)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.Contains(t, m.Snapshot().Pods, addr)

	require.Eventually(t, func() bool {
		return ownedVia(t, srv, addr) == 4
	}, 2*time.Second, 10*time.Millisecond)

	res = post(t, srv.URL+"/shardmgr/unregister", `{"host":"p1","port":9000}`)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.NotContains(t, m.Snapshot().Pods, addr)
	require.Equal(t, 0, ownedVia(t, srv, addr))
}

func TestHandler_RegisterRejectsBadRequests(t *testing.T) {
	_, srv := newTestServer(t, 4)

	for name, body := range map[string]string{
		"not json":        `not json`,
		"missing host":    `{"port":9000,"version":"v1"}`,
		"missing port":    `{"host":"p1","version":"v1"}`,
		"missing version": `{"host":"p1","port":9000}`,
	} {
		t.Run(name, func(t *testing.T) {
			res := post(t, srv.URL+"/shardmgr/register", body)
			require.Equal(t, http.StatusBadRequest, res.StatusCode)
		})
	}
}

func TestHandler_MethodsAreEnforced(t *testing.T) {
	_, srv := newTestServer(t, 4)

	res, err := http.Get(srv.URL + "/shardmgr/register")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res = post(t, srv.URL+"/shardmgr/assignments", `{}`)
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}
