// Package app wires configuration into a ready pipeline. It is shared by the
// daemon and the simulate CLI.
package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/chain"
	"github.com/TeneoProtocolAI/agent-network/internal/adapters/flaunch"
	"github.com/TeneoProtocolAI/agent-network/internal/adapters/gateway"
	"github.com/TeneoProtocolAI/agent-network/internal/adapters/store"
	"github.com/TeneoProtocolAI/agent-network/internal/config"
	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
	"github.com/TeneoProtocolAI/agent-network/internal/core/service"
	"github.com/TeneoProtocolAI/agent-network/internal/observability"
)

// OpenStore returns a Redis store when REDIS_URL is set and an in-memory one
// otherwise.
func OpenStore(ctx context.Context, cfg *config.Config) (domain.SnapshotStore, error) {
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set, snapshots live in memory only")
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("connected to redis")
	return st, nil
}

// PipelineOptions maps the configuration onto pipeline options.
func PipelineOptions(cfg *config.Config, metrics *observability.Metrics) service.Options {
	opts := service.DefaultOptions()
	opts.Timeout = cfg.PipelineTimeout
	opts.LookBack = cfg.LookBack
	opts.StateTTL = cfg.StateTTL
	opts.FlaunchURL = cfg.FlaunchURL
	opts.Metrics = metrics
	return opts
}

// NewGateway builds the upstream HTTP client with the configured retry budget.
func NewGateway(cfg *config.Config, metrics *observability.Metrics) *gateway.Client {
	return gateway.New(
		gateway.WithMaxAttempts(cfg.GatewayMaxAttempts),
		gateway.WithMetrics(metrics),
	)
}

// Pipeline is a wired pipeline together with the RPC connection it owns.
type Pipeline struct {
	*service.Pipeline
	rpc *chain.RPCClient
}

// Close releases the RPC connection.
func (p *Pipeline) Close() {
	p.rpc.Close()
}

// NewPipeline connects every adapter the pipeline needs.
func NewPipeline(ctx context.Context, cfg *config.Config, st domain.SnapshotStore, metrics *observability.Metrics) (*Pipeline, error) {
	gw := NewGateway(cfg, metrics)

	rpc, err := chain.DialRPC(ctx, cfg.BaseRPC, nil)
	if err != nil {
		return nil, fmt.Errorf("connect base rpc: %w", err)
	}

	tokens := flaunch.NewClient(cfg.FlaunchAPI, cfg.RevenueManager, gw)
	balances := chain.NewMulticallReader(rpc, common.HexToAddress(cfg.RevenueManager), metrics)
	wallets := chain.NewWalletActivityService(cfg.AlchemyRPC, gw, rpc, cfg.Codec())

	p := service.NewPipeline(tokens, balances, wallets, st, service.NewPowerScorer(), PipelineOptions(cfg, metrics))
	log.Info().
		Str("flaunch_api", cfg.FlaunchAPI).
		Str("revenue_manager", observability.Abbrev(cfg.RevenueManager)).
		Dur("lookback", cfg.LookBack).
		Int("max_attempts", cfg.GatewayMaxAttempts).
		Msg("pipeline wired")
	return &Pipeline{Pipeline: p, rpc: rpc}, nil
}
