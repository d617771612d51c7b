package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MPESA_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("MPESA_TEST_DATABASE_DSN not set")
	}
	return dsn
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := New(ctx, "postgres", testDSN(t))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.CleanData(ctx))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM disbursements`).Scan(&count))
	require.Zero(t, count)
}

func TestNewRejectsUnreachableDatabase(t *testing.T) {
	_, err := New(context.Background(), "postgres", "host=127.0.0.1 port=1 dbname=none sslmode=disable connect_timeout=1")
	require.Error(t, err)
}
