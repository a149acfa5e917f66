package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/store"
	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
	"github.com/TeneoProtocolAI/agent-network/internal/core/service"
)

const testSecret = "admin-secret"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeScheduler struct {
	triggers int
	last     *service.RunResult
	lastErr  error
	runs     int
}

func (f *fakeScheduler) Trigger() bool {
	f.triggers++
	return f.triggers == 1
}

func (f *fakeScheduler) Last() (*service.RunResult, error) { return f.last, f.lastErr }
func (f *fakeScheduler) Runs() int                          { return f.runs }

type fakeHistory struct {
	limit int
	rows  []store.ArchivedSnapshot
	err   error
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]store.ArchivedSnapshot, error) {
	f.limit = limit
	return f.rows, f.err
}

func sampleState() *domain.NetworkState {
	return &domain.NetworkState{
		Agents: []domain.Agent{{TokenAddress: "0x1111111111111111111111111111111111111111", Name: "Alpha"}},
		Swaps: []domain.SwapEvent{
			{TransactionHash: "0xnew", Timestamp: 1717243000, Type: domain.SideBuy},
			{TransactionHash: "0xmid", Timestamp: 1717242000, Type: domain.SideSell},
			{TransactionHash: "0xold", Timestamp: 1717241000, Type: domain.SideBuy},
		},
		CrossEdges: []domain.CrossHoldingEdge{},
		Timestamp:  1717243200000,
	}
}

type testEnv struct {
	server  *Server
	store   *store.MemoryStore
	sched   *fakeScheduler
	history *fakeHistory
}

func newTestEnv(t *testing.T, withHistory bool) *testEnv {
	t.Helper()
	env := &testEnv{
		store: store.NewMemoryStore(),
		sched: &fakeScheduler{},
	}
	opts := Options{
		Store:       env.store,
		Scheduler:   env.sched,
		AdminSecret: testSecret,
		Now:         func() time.Time { return fixedNow },
	}
	if withHistory {
		env.history = &fakeHistory{}
		opts.History = env.history
	}
	env.server = NewServer(opts)
	return env
}

func (e *testEnv) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(http.MethodGet, path, "", nil)
}

func TestNetwork(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.get("/api/network")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"No data yet — pipeline has not run"}`, rec.Body.String())

	require.NoError(t, env.store.PutState(context.Background(), sampleState(), time.Hour))
	rec = env.get("/api/network")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var state domain.NetworkState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, int64(1717243200000), state.Timestamp)
	assert.Len(t, state.Swaps, 3)
	assert.Equal(t, "Alpha", state.Agents[0].Name)
}

func TestSwaps(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.get("/api/network/swaps")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, env.store.PutState(context.Background(), sampleState(), time.Hour))

	tests := []struct {
		query string
		code  int
		want  []string
	}{
		{"", http.StatusOK, []string{"0xnew", "0xmid", "0xold"}},
		{"?since=0", http.StatusOK, []string{"0xnew", "0xmid", "0xold"}},
		{"?since=1717242000000", http.StatusOK, []string{"0xnew"}},
		{"?since=1717241999999", http.StatusOK, []string{"0xnew", "0xmid"}},
		{"?since=1717243000000", http.StatusOK, []string{}},
		{"?since=yesterday", http.StatusBadRequest, nil},
		{"?since=-1", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.get("/api/network/swaps" + tt.query)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.want == nil {
				return
			}
			var resp swapsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, int64(1717243200000), resp.Timestamp)
			got := make([]string, 0, len(resp.Swaps))
			for _, s := range resp.Swaps {
				got = append(got, s.TransactionHash)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTrigger(t *testing.T) {
	env := newTestEnv(t, false)

	for i := 0; i < 2; i++ {
		rec := env.get("/api/network/trigger")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"Pipeline triggered"}`, rec.Body.String())
	}
	assert.Equal(t, 2, env.sched.triggers)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.get("/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Nil(t, resp["lastRun"])
	assert.Contains(t, resp["build"], "version")

	env.sched.last = &service.RunResult{Stage: service.StageDiscovering, Error: "discover tokens: boom"}
	env.sched.lastErr = errors.New("discover tokens: boom")
	env.sched.runs = 3
	rec = env.get("/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
	assert.Equal(t, "discover tokens: boom", resp["lastError"])
	assert.EqualValues(t, 3, resp["runs"])
	assert.Equal(t, "discovering", resp["lastRun"].(map[string]any)["stage"])
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, env.get("/api/network/history").Code)

	env = newTestEnv(t, true)
	env.history.rows = []store.ArchivedSnapshot{{ID: 7, TakenAt: fixedNow, AgentCount: 2, SwapCount: 5, EdgeCount: 1}}

	rec := env.get("/api/network/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryLimit, env.history.limit)
	assert.JSONEq(t, `{"snapshots":[{"id":7,"takenAt":"2024-06-01T12:00:00Z","agentCount":2,"swapCount":5,"edgeCount":1}]}`, rec.Body.String())

	env.get("/api/network/history?limit=5000")
	assert.Equal(t, maxHistoryLimit, env.history.limit)

	assert.Equal(t, http.StatusBadRequest, env.get("/api/network/history?limit=zero").Code)

	env.history.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, env.get("/api/network/history").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.get("/api/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/network", "{}", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"Method not allowed"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, false)
	require.NoError(t, env.store.PutState(context.Background(), sampleState(), time.Hour))

	rec := env.do(http.MethodGet, "/api/network", "", http.Header{"Origin": {"https://example.org"}})
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(http.MethodOptions, "/api/network", "", http.Header{
		"Origin":                        {"https://example.org"},
		"Access-Control-Request-Method": {"GET"},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestSwapsSince(t *testing.T) {
	swaps := sampleState().Swaps
	assert.Len(t, SwapsSince(swaps, 0), 3)
	assert.Len(t, SwapsSince(swaps, 1717241000001), 2)
	assert.NotNil(t, SwapsSince(nil, 5))
}
