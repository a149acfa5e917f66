package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/store"
	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
)

func startFeed(t *testing.T, st domain.SnapshotStore) (*Feed, string) {
	t.Helper()
	feed := NewFeed(st, nil, FeedConfig{PingInterval: 0, WriteTimeout: time.Second, SendBuffer: 4})
	srv := NewServer(Options{Store: st, Scheduler: &fakeScheduler{}, Feed: feed})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		feed.Close()
		ts.Close()
	})
	return feed, "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/network/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFeed(t *testing.T, conn *websocket.Conn) FeedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, body, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg FeedMessage
	require.NoError(t, json.Unmarshal(body, &msg))
	return msg
}

func hashes(swaps []domain.SwapEvent) []string {
	out := make([]string, len(swaps))
	for i, s := range swaps {
		out[i] = s.TransactionHash
	}
	return out
}

func TestFeed_SnapshotOnConnectThenNewSwaps(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	first := sampleState()
	require.NoError(t, st.PutState(ctx, first, time.Hour))

	feed, url := startFeed(t, st)
	require.NoError(t, feed.OnSnapshot(ctx, first))

	conn := dial(t, url)
	msg := readFeed(t, conn)
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, []string{"0xnew", "0xmid", "0xold"}, hashes(msg.Swaps))
	assert.Eventually(t, func() bool { return feed.Clients() == 1 }, time.Second, 5*time.Millisecond)

	next := sampleState()
	next.Swaps = append([]domain.SwapEvent{{TransactionHash: "0xnewest", Timestamp: 1717243100}}, next.Swaps[:2]...)
	next.Timestamp = 1717243320000
	require.NoError(t, feed.OnSnapshot(ctx, next))

	msg = readFeed(t, conn)
	assert.Equal(t, "swaps", msg.Type)
	assert.Equal(t, []string{"0xnewest"}, hashes(msg.Swaps))
	assert.Equal(t, int64(1717243320000), msg.Timestamp)

	// nothing new, nothing sent
	require.NoError(t, feed.OnSnapshot(ctx, next))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestFeed_NoSnapshotYet(t *testing.T) {
	feed, url := startFeed(t, store.NewMemoryStore())
	conn := dial(t, url)
	assert.Eventually(t, func() bool { return feed.Clients() == 1 }, time.Second, 5*time.Millisecond)

	state := sampleState()
	require.NoError(t, feed.OnSnapshot(context.Background(), state))

	msg := readFeed(t, conn)
	assert.Equal(t, "swaps", msg.Type)
	assert.Len(t, msg.Swaps, 3)
}

func TestFeed_ClientDisconnect(t *testing.T) {
	feed, url := startFeed(t, store.NewMemoryStore())
	conn := dial(t, url)
	assert.Eventually(t, func() bool { return feed.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return feed.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestFeed_CloseDisconnectsClients(t *testing.T) {
	feed, url := startFeed(t, store.NewMemoryStore())
	conn := dial(t, url)
	assert.Eventually(t, func() bool { return feed.Clients() == 1 }, time.Second, 5*time.Millisecond)

	feed.Close()
	assert.Zero(t, feed.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	_, _, err = websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err, "closed feed refuses new clients")
}

func TestServerShutdownClosesFeed(t *testing.T) {
	st := store.NewMemoryStore()
	feed := NewFeed(st, nil, FeedConfig{WriteTimeout: time.Second, SendBuffer: 4})
	srv := NewServer(Options{Store: st, Scheduler: &fakeScheduler{}, Feed: feed})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/network/ws")
	assert.Eventually(t, func() bool { return feed.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Zero(t, feed.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestFeed_Name(t *testing.T) {
	assert.Equal(t, "swap-feed", NewFeed(store.NewMemoryStore(), nil, DefaultFeedConfig()).Name())
}
