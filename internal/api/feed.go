package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
	"github.com/TeneoProtocolAI/agent-network/internal/observability"
)

// FeedConfig configures the live swap feed.
type FeedConfig struct {
	// PingInterval is the interval between ping frames.
	PingInterval time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// SendBuffer is the per-client queue; a client that falls this far
	// behind is disconnected.
	SendBuffer int
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   16,
	}
}

// FeedMessage is one frame of the feed. "snapshot" carries the current swaps
// on connect, "swaps" the events first seen in a newly published snapshot.
type FeedMessage struct {
	Type      string             `json:"type"`
	Swaps     []domain.SwapEvent `json:"swaps"`
	Timestamp int64              `json:"timestamp"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed pushes swap events to websocket clients. It is a snapshot listener.
type Feed struct {
	cfg      FeedConfig
	store    domain.SnapshotStore
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	seen    map[string]struct{}
	closed  bool
}

func NewFeed(store domain.SnapshotStore, metrics *observability.Metrics, cfg FeedConfig) *Feed {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultFeedConfig().SendBuffer
	}
	return &Feed{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*feedClient]struct{}),
	}
}

var _ domain.SnapshotListener = (*Feed)(nil)

func (f *Feed) Name() string {
	return "swap-feed"
}

// OnSnapshot broadcasts the swaps not present in the previous snapshot.
func (f *Feed) OnSnapshot(_ context.Context, state *domain.NetworkState) error {
	f.mu.Lock()
	fresh := make([]domain.SwapEvent, 0)
	seen := make(map[string]struct{}, len(state.Swaps))
	for _, sw := range state.Swaps {
		seen[sw.TransactionHash] = struct{}{}
		if _, ok := f.seen[sw.TransactionHash]; !ok {
			fresh = append(fresh, sw)
		}
	}
	f.seen = seen
	f.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return f.broadcast(FeedMessage{Type: "swaps", Swaps: fresh, Timestamp: state.Timestamp})
}

func (f *Feed) broadcast(msg FeedMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	dropped := 0
	for c := range f.clients {
		if !f.enqueueLocked(c, body) {
			dropped++
		}
	}
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("slow feed clients disconnected")
	}
	return nil
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Serve upgrades the request and streams until the client goes away.
// GET /api/network/ws
func (f *Feed) Serve(c *gin.Context) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed closed"})
		return
	}

	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("feed upgrade failed")
		return
	}

	client := &feedClient{conn: conn, send: make(chan []byte, f.cfg.SendBuffer)}
	if !f.add(client) {
		_ = conn.Close()
		return
	}

	if first, ok := f.initialMessage(c.Request.Context()); ok {
		f.enqueue(client, first)
	}

	go f.writeLoop(client)
	f.readLoop(client)
}

func (f *Feed) add(c *feedClient) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.clients[c] = struct{}{}
	f.metrics.FeedClientDelta(1)
	return true
}

func (f *Feed) enqueue(c *feedClient, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		f.enqueueLocked(c, body)
	}
}

// enqueueLocked queues body for c, dropping c when its queue is full.
func (f *Feed) enqueueLocked(c *feedClient, body []byte) bool {
	select {
	case c.send <- body:
		return true
	default:
		f.removeLocked(c)
		return false
	}
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(c)
}

func (f *Feed) removeLocked(c *feedClient) {
	if _, ok := f.clients[c]; !ok {
		return
	}
	delete(f.clients, c)
	close(c.send)
	f.metrics.FeedClientDelta(-1)
}

func (f *Feed) initialMessage(ctx context.Context) ([]byte, bool) {
	raw, err := f.store.GetState(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Msg("feed could not read snapshot")
		}
		return nil, false
	}
	var state domain.NetworkState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false
	}
	if state.Swaps == nil {
		state.Swaps = []domain.SwapEvent{}
	}
	body, err := json.Marshal(FeedMessage{Type: "snapshot", Swaps: state.Swaps, Timestamp: state.Timestamp})
	return body, err == nil
}

// readLoop discards client frames and returns once the connection fails.
func (f *Feed) readLoop(c *feedClient) {
	defer func() {
		f.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writeLoop(c *feedClient) {
	var tick <-chan time.Time
	if f.cfg.PingInterval > 0 {
		ticker := time.NewTicker(f.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case body, ok := <-c.send:
			f.setWriteDeadline(c)
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				_ = c.conn.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-tick:
			f.setWriteDeadline(c)
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (f *Feed) setWriteDeadline(c *feedClient) {
	if f.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
	}
}

// Close disconnects every client and refuses new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		f.removeLocked(c)
	}
}
