// Package pgtest starts a disposable Postgres with the repository migrations
// applied. PG_DSN points the tests at an existing database instead.
package pgtest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Tables lists every table written by the application, children first.
var Tables = []string{
	"audit_logs",
	"settlement_line_details",
	"settlement_lines",
	"settlements",
	"process_state_transitions",
	"brs_processes",
	"inbox_messages",
	"outbox_messages",
	"time_series_observations",
	"time_series",
	"spot_prices",
	"price_links",
	"price_points",
	"prices",
	"supplies",
	"product_rates",
	"products",
	"customers",
	"metering_points",
}

// Open returns a migrated, empty database. The test is skipped under -short
// or when no container runtime is available.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx := context.Background()

	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("supplier_test"),
			tcpostgres.WithUsername("postgres"),
			tcpostgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })
		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("connection string: %v", err)
		}
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping db: %v", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	Reset(t, db)
	return db
}

// Reset empties every application table and restarts the document sequence.
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range Tables {
		if _, err := db.Exec("TRUNCATE TABLE " + table + " CASCADE"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	if _, err := db.Exec(`ALTER SEQUENCE settlement_document_number_seq RESTART WITH 1`); err != nil {
		t.Fatalf("reset sequence: %v", err)
	}
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	files, err := filepath.Glob(filepath.Join(projectRoot(), "migrations", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func projectRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", ".."))
}
