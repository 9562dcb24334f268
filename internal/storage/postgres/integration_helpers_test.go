package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// openPostgresStoreForIntegrationTest подключается к базе из ESHOP_POSTGRES_TEST_DSN
// (или ESHOP_POSTGRES_DSN), применяет миграции и очищает таблицы.
func openPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("ESHOP_POSTGRES_TEST_DSN"))
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("ESHOP_POSTGRES_DSN"))
	}
	if dsn == "" {
		t.Skip("ESHOP_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn, WithLockTimeout(2*time.Second))
	if err != nil {
		t.Skipf("postgres is not available for integration tests: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	truncateAllTablesForIntegrationTest(t, store)
	return store
}

func truncateAllTablesForIntegrationTest(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			checkout_keys,
			outbox_messages,
			timeline_events,
			conversions,
			order_items,
			orders,
			campaigns,
			customers,
			products
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
}
