package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"tillbook/api/db"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("TILLBOOK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TILLBOOK_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrations := db.Migrations()
	if err := ApplyMigrations(ctx, conn, migrations); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	// a second run finds nothing to do
	if err := ApplyMigrations(ctx, conn, migrations); err != nil {
		t.Fatalf("apply up migrations (idempotent): %v", err)
	}
	if err := RollbackMigrations(ctx, conn, migrations); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}

	var remaining int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&remaining); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected no recorded migrations after rollback, got %d", remaining)
	}

	if err := ApplyMigrations(ctx, conn, migrations); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}
