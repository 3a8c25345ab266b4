package migrations

import (
	"context"

	"github.com/kpi-project/assetdb/assetdb/datastore"
	migrate "github.com/rubenv/sql-migrate"
)

var allMigrations []*Migration

// DataFunc is a data step of a migration. It runs inside a transaction that
// is committed when it returns nil.
type DataFunc func(ctx context.Context, q datastore.Queryer) error

// Migration is a schema migration with optional data steps.
type Migration struct {
	*migrate.Migration
	// Requires lists the IDs of migrations that must be applied before this one.
	Requires []string
	// UpFunc runs right after the Up statements were applied.
	UpFunc DataFunc
	// DownFunc runs right before the Down statements are applied.
	DownFunc DataFunc
}

// All returns all registered migrations, in registration order.
func All() []*Migration {
	return allMigrations
}
