package sqlitebase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_MigratesAndSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	db, err := Open(Config{Path: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx, `CREATE TABLE IF NOT EXISTS widgets (id TEXT PRIMARY KEY)`))
	require.NoError(t, db.Migrate(ctx, `CREATE TABLE IF NOT EXISTS widgets (id TEXT PRIMARY KEY)`))

	_, err = db.ExecContext(ctx, `INSERT INTO widgets (id) VALUES (?)`, "a")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM widgets`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestMaybePurge_RespectsProbabilityBounds(t *testing.T) {
	db, err := Open(Config{Path: ":memory:", PurgeProbability: 1})
	require.NoError(t, err)
	defer db.Close()

	called := false
	err = db.MaybePurge(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, called, "probability 1 must always purge")

	db2, err := Open(Config{Path: ":memory:", PurgeProbability: 0})
	require.NoError(t, err)
	defer db2.Close()
	require.Equal(t, 0.01, db2.PurgeProbability, "zero probability normalizes to the default rate, not to never-purge")
}
