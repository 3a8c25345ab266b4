// Package testutil provides Postgres databases for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/kpi-project/assetdb/assetdb/datastore"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	hostEnv     = "ASSETDB_TEST_DATABASE_HOST"
	portEnv     = "ASSETDB_TEST_DATABASE_PORT"
	userEnv     = "ASSETDB_TEST_DATABASE_USER"
	passwordEnv = "ASSETDB_TEST_DATABASE_PASSWORD"
	dbNameEnv   = "ASSETDB_TEST_DATABASE_DBNAME"
	sslModeEnv  = "ASSETDB_TEST_DATABASE_SSLMODE"

	postgresImage = "postgres:16-alpine"
)

// NewDSNFromEnv builds a DSN from the ASSETDB_TEST_DATABASE_* environment
// variables.
func NewDSNFromEnv() (*datastore.DSN, error) {
	port, err := strconv.Atoi(os.Getenv(portEnv))
	if err != nil {
		return nil, fmt.Errorf("parsing DSN port: %w", err)
	}

	return &datastore.DSN{
		Host:           os.Getenv(hostEnv),
		Port:           port,
		User:           os.Getenv(userEnv),
		Password:       os.Getenv(passwordEnv),
		DBName:         os.Getenv(dbNameEnv),
		SSLMode:        os.Getenv(sslModeEnv),
		ConnectTimeout: 10 * time.Second,
	}, nil
}

// NewDBFromEnv opens a connection to the database described by the
// ASSETDB_TEST_DATABASE_* environment variables.
func NewDBFromEnv() (*datastore.DB, error) {
	dsn, err := NewDSNFromEnv()
	if err != nil {
		return nil, err
	}

	db, err := datastore.Open(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	return db, nil
}

// NewDB returns a connection to an empty test database. The database from
// the environment is used when ASSETDB_TEST_DATABASE_HOST is set, otherwise
// a Postgres container is started and terminated once the test completes.
func NewDB(tb testing.TB) *datastore.DB {
	tb.Helper()

	if os.Getenv(hostEnv) != "" {
		db, err := NewDBFromEnv()
		require.NoError(tb, err)
		tb.Cleanup(func() { _ = db.Close() })
		return db
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("kpi_test"),
		postgres.WithUsername("kobo"),
		postgres.WithPassword("kobo"),
		postgres.BasicWaitStrategies(),
	)
	tb.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			tb.Logf("terminating postgres container: %v", err)
		}
	})
	require.NoError(tb, err)

	host, err := ctr.Host(ctx)
	require.NoError(tb, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(tb, err)

	db, err := datastore.Open(ctx, &datastore.DSN{
		Host:           host,
		Port:           port.Int(),
		User:           "kobo",
		Password:       "kobo",
		DBName:         "kpi_test",
		SSLMode:        "disable",
		ConnectTimeout: 10 * time.Second,
	})
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = db.Close() })

	return db
}

// ResetDB drops the asset table and the given migration table, leaving the
// database as if no migration was ever applied.
func ResetDB(tb testing.TB, db *datastore.DB, migrationTable string) {
	tb.Helper()

	for _, q := range []string{
		"DROP TABLE IF EXISTS kpi_asset CASCADE",
		"DROP TABLE IF EXISTS " + migrationTable,
	} {
		_, err := db.ExecContext(context.Background(), q)
		require.NoError(tb, err)
	}
}
