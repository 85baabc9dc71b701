package migrations_test

import (
	"context"
	"testing"

	"github.com/vmoreno/curiosa-api/internal/testutil"
	"github.com/vmoreno/curiosa-api/migrations"
)

func TestApply(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()

	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	// Second run must be a no-op.
	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}

	for _, table := range []string{"lots", "orders", "order_items", "order_audits", "holds", "hold_audits"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("check table %s: %v", table, err)
		}
		if !exists {
			t.Fatalf("table %s missing after migrations", table)
		}
	}

	var recorded int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&recorded); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if recorded == 0 {
		t.Fatal("expected recorded migrations")
	}
}
