package migrations

import migrate "github.com/rubenv/sql-migrate"

func init() {
	m := &Migration{
		Migration: &migrate.Migration{
			Id: "20230315000000_add_pending_delete_to_asset",
			Up: []string{
				"ALTER TABLE kpi_asset ADD COLUMN IF NOT EXISTS pending_delete boolean NOT NULL DEFAULT FALSE",
			},
			Down: []string{
				"ALTER TABLE kpi_asset DROP COLUMN IF EXISTS pending_delete",
			},
		},
		Requires: []string{"20230103000000_create_asset_table"},
	}

	allMigrations = append(allMigrations, m)
}
