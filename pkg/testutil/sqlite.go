package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// NewSQLiteDSN returns a DSN for a private in-memory sqlite database with the
// given statements applied. An anchor connection keeps the database alive for
// the duration of the test, so handles opened and closed against the DSN all
// see the same data.
func NewSQLiteDSN(t *testing.T, schema ...string) string {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	anchor, err := sql.Open("sqlite", dsn)
	require.NoError(t, err, "open sqlite anchor")
	anchor.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = anchor.Close() })

	ctx := context.Background()
	for _, stmt := range schema {
		_, err := anchor.ExecContext(ctx, stmt)
		require.NoError(t, err, "apply schema statement: %s", stmt)
	}
	return dsn
}

// ExecSQL runs statements against dsn, failing the test on error.
func ExecSQL(t *testing.T, dsn string, stmts ...string) {
	t.Helper()

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range stmts {
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, "exec: %s", stmt)
	}
}
