package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
)

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS network_snapshots (
	id          BIGSERIAL PRIMARY KEY,
	taken_at    TIMESTAMPTZ NOT NULL,
	agent_count INTEGER NOT NULL,
	swap_count  INTEGER NOT NULL,
	edge_count  INTEGER NOT NULL,
	state       JSONB NOT NULL
)`

// ArchivedSnapshot is one row of network_snapshots without the state body.
type ArchivedSnapshot struct {
	ID         int64     `json:"id"`
	TakenAt    time.Time `json:"takenAt"`
	AgentCount int       `json:"agentCount"`
	SwapCount  int       `json:"swapCount"`
	EdgeCount  int       `json:"edgeCount"`
}

// PostgresArchive appends every published snapshot to network_snapshots.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

// NewPostgresArchive connects, pings and ensures the table exists.
func NewPostgresArchive(ctx context.Context, dsn string) (*PostgresArchive, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createSnapshotsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create network_snapshots: %w", err)
	}
	return &PostgresArchive{pool: pool}, nil
}

var _ domain.SnapshotListener = (*PostgresArchive)(nil)

func (a *PostgresArchive) Name() string {
	return "postgres-archive"
}

// OnSnapshot inserts the snapshot. It runs after publication, so a failure
// only loses the archive row.
func (a *PostgresArchive) OnSnapshot(ctx context.Context, state *domain.NetworkState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO network_snapshots (taken_at, agent_count, swap_count, edge_count, state)
		VALUES ($1, $2, $3, $4, $5)
	`, time.UnixMilli(state.Timestamp).UTC(), len(state.Agents), len(state.Swaps), len(state.CrossEdges), body)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Recent lists the latest archived snapshots, newest first.
func (a *PostgresArchive) Recent(ctx context.Context, limit int) ([]ArchivedSnapshot, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, taken_at, agent_count, swap_count, edge_count
		FROM network_snapshots
		ORDER BY taken_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ArchivedSnapshot, error) {
		var s ArchivedSnapshot
		err := row.Scan(&s.ID, &s.TakenAt, &s.AgentCount, &s.SwapCount, &s.EdgeCount)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (a *PostgresArchive) Close() {
	a.pool.Close()
}
