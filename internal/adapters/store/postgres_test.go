package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresArchive(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	archive, err := NewPostgresArchive(ctx, dsn)
	require.NoError(t, err)
	defer archive.Close()

	_, err = archive.pool.Exec(ctx, `TRUNCATE network_snapshots`)
	require.NoError(t, err)

	assert.Equal(t, "postgres-archive", archive.Name())
	require.NoError(t, archive.OnSnapshot(ctx, sampleState(1717243200000)))
	require.NoError(t, archive.OnSnapshot(ctx, sampleState(1717243320000)))

	rows, err := archive.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1717243320000), rows[0].TakenAt.UnixMilli())
	assert.Equal(t, 1, rows[0].AgentCount)
	assert.Equal(t, 1, rows[0].SwapCount)
	assert.Equal(t, 0, rows[0].EdgeCount)

	var stored string
	require.NoError(t, archive.pool.QueryRow(ctx,
		`SELECT state->'agents'->0->>'name' FROM network_snapshots WHERE id = $1`, rows[1].ID).Scan(&stored))
	assert.Equal(t, "Alpha", stored)
}

func TestNewPostgresArchive_BadDSN(t *testing.T) {
	_, err := NewPostgresArchive(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}
