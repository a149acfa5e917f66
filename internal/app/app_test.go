package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/store"
	"github.com/TeneoProtocolAI/agent-network/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		FlaunchAPI:       "http://127.0.0.1:1/v1/base",
		BaseRPC:          "http://127.0.0.1:1",
		AlchemyRPC:       "http://127.0.0.1:1",
		RevenueManager:   config.DefaultRevenueManager,
		MemoMagicPrefix:  "4d4c544c",
		FlaunchURL:       "https://flaunch.gg/base",
		PipelineInterval: time.Minute,
		PipelineTimeout:  30 * time.Second,
		LookBack:         6 * time.Hour,
		StateTTL:         5 * time.Minute,

		GatewayMaxAttempts: 2,
	}
}

func TestPipelineOptions(t *testing.T) {
	opts := PipelineOptions(testConfig(), nil)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 6*time.Hour, opts.LookBack)
	assert.Equal(t, 5*time.Minute, opts.StateTTL)
	assert.Equal(t, "https://flaunch.gg/base", opts.FlaunchURL)
	assert.Equal(t, 0.01, opts.MinMarketCapETH)
	assert.Equal(t, 5, opts.MinHolders)
}

func TestOpenStore_MemoryWithoutRedis(t *testing.T) {
	st, err := OpenStore(context.Background(), testConfig())
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st)
}

func TestOpenStore_BadRedisURL(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := OpenStore(ctx, cfg)
	assert.Error(t, err)
}

func TestNewPipeline(t *testing.T) {
	p, err := NewPipeline(context.Background(), testConfig(), store.NewMemoryStore(), nil)
	require.NoError(t, err)
	defer p.Close()
	assert.NotNil(t, p.Pipeline)
}

func TestNewGateway_UsesConfiguredAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewGateway(testConfig(), nil).Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
