package migrations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hashicorp/go-multierror"
	"github.com/kpi-project/assetdb/assetdb/datastore"
	"github.com/kpi-project/assetdb/assetdb/datastore/models"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/stretchr/testify/require"
)

const deploymentStatusMigrationID = "20230403214600_add_deployment_status_to_asset"

func TestAllMigrations(t *testing.T) {
	m := NewMigrator(nil)
	require.NoError(t, m.Validate())

	ids := make([]string, 0, len(All()))
	seen := make(map[string]struct{}, len(All()))
	for _, mig := range All() {
		require.NotEmpty(t, mig.Up, mig.Id)
		require.NotEmpty(t, mig.Down, mig.Id)
		_, dup := seen[mig.Id]
		require.False(t, dup, "duplicated migration %s", mig.Id)
		seen[mig.Id] = struct{}{}
		ids = append(ids, mig.Id)
	}
	require.True(t, sort.StringsAreSorted(ids))

	latest, err := m.LatestVersion()
	require.NoError(t, err)
	require.Equal(t, deploymentStatusMigrationID, latest)
}

func TestDeploymentStatusMigration(t *testing.T) {
	mig := NewMigrator(nil).FindMigrationByID(deploymentStatusMigrationID)
	require.NotNil(t, mig)

	require.Equal(t, []string{"20230315000000_add_pending_delete_to_asset"}, mig.Requires)
	require.NotNil(t, mig.UpFunc)
	require.NotNil(t, mig.DownFunc)

	up := strings.Join(mig.Up, "\n")
	require.Contains(t, up, fmt.Sprintf("_deployment_status varchar(%d)", models.DeploymentStatusMaxLength))
	for _, s := range models.DeploymentStatuses() {
		require.Contains(t, up, fmt.Sprintf("'%s'", s))
	}
	require.Contains(t, up, "USING btree (_deployment_status)")
	require.NotContains(t, up, "NOT NULL")

	down := strings.Join(mig.Down, "\n")
	require.Contains(t, down, "DROP COLUMN IF EXISTS _deployment_status")

	// the reverse data step does not touch the database
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, mig.DownFunc(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func newTestMigration(id string, requires ...string) *Migration {
	return &Migration{
		Migration: &migrate.Migration{
			Id:   id,
			Up:   []string{"SELECT 1"},
			Down: []string{"SELECT 1"},
		},
		Requires: requires,
	}
}

func TestMigrator_Validate(t *testing.T) {
	m := NewMigrator(nil, Source([]*Migration{
		newTestMigration("20200101000000_a"),
		newTestMigration("20200102000000_b", "20200101000000_a"),
		newTestMigration("20200103000000_c", "20200104000000_d", "20190101000000_unknown"),
		newTestMigration("20200104000000_d"),
		newTestMigration("20200105000000_e", "20200105000000_e"),
	}))

	err := m.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 3)
	require.ErrorContains(t, err, "migration 20200103000000_c requires 20200104000000_d which is not ordered before it")
	require.ErrorContains(t, err, "migration 20200103000000_c requires unknown migration 20190101000000_unknown")
	require.ErrorContains(t, err, "migration 20200105000000_e requires 20200105000000_e which is not ordered before it")
}

func TestMigrator_Validate_Empty(t *testing.T) {
	m := NewMigrator(nil, Source(nil))
	require.NoError(t, m.Validate())

	v, err := m.LatestVersion()
	require.NoError(t, err)
	require.Empty(t, v)
}

func TestMigrator_FindMigrationByID(t *testing.T) {
	a := newTestMigration("20200101000000_a")
	m := NewMigrator(nil, Source([]*Migration{a}))

	require.Same(t, a, m.FindMigrationByID("20200101000000_a"))
	require.Nil(t, m.FindMigrationByID("20200101000000_b"))
}

func TestMigrator_WithTable(t *testing.T) {
	require.Equal(t, migrationTableName, NewMigrator(nil).set.TableName)
	require.Equal(t, "test_migrations", NewMigrator(nil, WithTable("test_migrations")).set.TableName)
}

func TestMigrator_RunDataStep(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	m := NewMigrator(&datastore.DB{DB: sqlDB})

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE kpi_asset").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = m.runDataStep(context.Background(), func(ctx context.Context, q datastore.Queryer) error {
		_, err := q.ExecContext(ctx, "UPDATE kpi_asset SET name = 'x'")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_RunDataStep_RollbackOnError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	m := NewMigrator(&datastore.DB{DB: sqlDB})
	errBoom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err = m.runDataStep(context.Background(), func(context.Context, datastore.Queryer) error {
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_RunDataStep_BeginError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	m := NewMigrator(&datastore.DB{DB: sqlDB})
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	err = m.runDataStep(context.Background(), func(context.Context, datastore.Queryer) error {
		t.Fatal("data step must not run")
		return nil
	})
	require.ErrorContains(t, err, "creating database transaction: too many connections")
}
