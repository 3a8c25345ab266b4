package migrations

import (
	"github.com/kpi-project/assetdb/assetdb/backfill"
	migrate "github.com/rubenv/sql-migrate"
)

func init() {
	m := &Migration{
		Migration: &migrate.Migration{
			Id: "20230403214600_add_deployment_status_to_asset",
			Up: []string{
				`ALTER TABLE kpi_asset
					ADD COLUMN IF NOT EXISTS _deployment_status varchar(8)
					CONSTRAINT check_kpi_asset_deployment_status CHECK (_deployment_status IN ('archived', 'deployed', 'draft'))`,
				"CREATE INDEX IF NOT EXISTS index_kpi_asset_on_deployment_status ON kpi_asset USING btree (_deployment_status)",
			},
			Down: []string{
				"DROP INDEX IF EXISTS index_kpi_asset_on_deployment_status CASCADE",
				"ALTER TABLE kpi_asset DROP COLUMN IF EXISTS _deployment_status",
			},
		},
		Requires: []string{"20230315000000_add_pending_delete_to_asset"},
		UpFunc:   backfill.PopulateDeploymentStatus,
		DownFunc: backfill.Noop,
	}

	allMigrations = append(allMigrations, m)
}
