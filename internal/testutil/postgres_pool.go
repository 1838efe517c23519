package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxTestConns keeps parallel repository tests from exhausting a shared server.
const maxTestConns = 4

// OpenPGXPool returns a pool whose search_path is a fresh schema, so
// Migrate creates the admin, user and audit tables in isolation. The schema
// is dropped at cleanup. The test is skipped when TEST_DATABASE_URL is not set.
func OpenPGXPool(t *testing.T, prefix string) *pgxpool.Pool {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PostgreSQL not configured: set TEST_DATABASE_URL to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	schema := newSchemaName(prefix)
	ident := pgx.Identifier{schema}.Sanitize()
	if _, err := conn.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
		_ = conn.Close(ctx)
		t.Fatalf("create schema %s: %v", schema, err)
	}
	// Registered first so it runs after the pool below is closed.
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
		_ = conn.Close(ctx)
	})

	scoped, err := dsnWithSearchPath(dsn, schema)
	if err != nil {
		t.Fatalf("scope dsn to %s: %v", schema, err)
	}
	cfg, err := pgxpool.ParseConfig(scoped)
	if err != nil {
		t.Fatalf("parse postgres dsn: %v", err)
	}
	cfg.MaxConns = maxTestConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open postgres pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping postgres pool: %v", err)
	}
	return pool
}
