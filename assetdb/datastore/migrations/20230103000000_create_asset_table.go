package migrations

import migrate "github.com/rubenv/sql-migrate"

func init() {
	m := &Migration{
		Migration: &migrate.Migration{
			Id: "20230103000000_create_asset_table",
			Up: []string{
				`CREATE TABLE IF NOT EXISTS kpi_asset (
					id bigint NOT NULL GENERATED BY DEFAULT AS IDENTITY,
					uid varchar(22) NOT NULL,
					name varchar(255) NOT NULL DEFAULT '',
					asset_type varchar(32) NOT NULL,
					_deployment_data jsonb NOT NULL DEFAULT '{}'::jsonb,
					date_created timestamp WITH time zone NOT NULL DEFAULT now(),
					date_modified timestamp WITH time zone NOT NULL DEFAULT now(),
					CONSTRAINT pk_kpi_asset PRIMARY KEY (id),
					CONSTRAINT unique_kpi_asset_uid UNIQUE (uid)
				)`,
				"CREATE INDEX IF NOT EXISTS index_kpi_asset_on_asset_type ON kpi_asset USING btree (asset_type)",
			},
			Down: []string{
				"DROP INDEX IF EXISTS index_kpi_asset_on_asset_type CASCADE",
				"DROP TABLE IF EXISTS kpi_asset CASCADE",
			},
		},
	}

	allMigrations = append(allMigrations, m)
}
