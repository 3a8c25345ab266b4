package migrations

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kpi-project/assetdb/assetdb/datastore"
	dcontext "github.com/kpi-project/assetdb/context"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	migrationTableName = "schema_migrations"
	dialect            = "postgres"
)

// MigrationResult holds the outcome of a migration operation.
type MigrationResult struct {
	// AppliedCount is the number of schema migrations applied.
	AppliedCount int
	// DataStepCount is the number of data steps run alongside them.
	DataStepCount int
}

// Migrator applies and reverts migrations, running their data steps.
type Migrator struct {
	db         *datastore.DB
	migrations []*Migration
	set        migrate.MigrationSet
}

// NewMigrator creates new Migrator.
func NewMigrator(db *datastore.DB, opts ...MigratorOption) *Migrator {
	m := &Migrator{
		db:         db,
		migrations: allMigrations,
		set:        migrate.MigrationSet{TableName: migrationTableName},
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

// MigratorOption enables the creation of functional options for the
// configuration of the migrator.
type MigratorOption func(m *Migrator)

// Source allows the migrator to use an alternative source of migrations, used
// for testing.
func Source(a []*Migration) MigratorOption {
	return func(m *Migrator) {
		m.migrations = a
	}
}

// WithTable sets the name of the table where applied migrations are recorded.
func WithTable(name string) MigratorOption {
	return func(m *Migrator) {
		m.set.TableName = name
	}
}

// Version returns the current applied migration version (if any).
func (m *Migrator) Version() (string, error) {
	records, err := m.set.GetMigrationRecords(m.db.DB, dialect)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}

	return records[len(records)-1].Id, nil
}

// LatestVersion identifies the version of the most recent migration in the repository (if any).
func (m *Migrator) LatestVersion() (string, error) {
	all, err := m.source().FindMigrations()
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "", nil
	}

	return all[len(all)-1].Id, nil
}

// Up applies all pending up migrations.
func (m *Migrator) Up(ctx context.Context) (MigrationResult, error) {
	return m.migrateUp(ctx, 0)
}

// UpN applies up to n pending up migrations. All pending migrations will be applied if n is 0.
func (m *Migrator) UpN(ctx context.Context, n int) (MigrationResult, error) {
	return m.migrateUp(ctx, n)
}

// UpNPlan plans up to n pending up migrations and returns the ordered list of migration IDs. All pending migrations
// will be planned if n is 0.
func (m *Migrator) UpNPlan(n int) ([]string, error) {
	return m.plan(migrate.Up, n)
}

// Down applies all pending down migrations.
func (m *Migrator) Down(ctx context.Context) (MigrationResult, error) {
	return m.migrateDown(ctx, 0)
}

// DownN applies up to n pending down migrations. All migrations will be applied if n is 0.
func (m *Migrator) DownN(ctx context.Context, n int) (MigrationResult, error) {
	return m.migrateDown(ctx, n)
}

// DownNPlan plans up to n pending down migrations and returns the ordered list of migration IDs. All pending migrations
// will be planned if n is 0.
func (m *Migrator) DownNPlan(n int) ([]string, error) {
	return m.plan(migrate.Down, n)
}

// MigrationStatus represents the status of a migration. Unknown will be set to true if a migration was applied but is
// not known by the current build.
type MigrationStatus struct {
	Unknown   bool
	DataStep  bool
	AppliedAt *time.Time
}

// Status returns the status of all migrations, indexed by migration ID.
func (m *Migrator) Status() (map[string]*MigrationStatus, error) {
	applied, err := m.set.GetMigrationRecords(m.db.DB, dialect)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]*MigrationStatus, len(m.migrations))
	for _, k := range m.migrations {
		statuses[k.Id] = &MigrationStatus{DataStep: k.UpFunc != nil || k.DownFunc != nil}
	}

	for _, r := range applied {
		if _, ok := statuses[r.Id]; !ok {
			statuses[r.Id] = &MigrationStatus{Unknown: true}
		}

		statuses[r.Id].AppliedAt = &r.AppliedAt
	}

	return statuses, nil
}

// HasPending determines whether all known migrations are applied or not.
func (m *Migrator) HasPending() (bool, error) {
	records, err := m.set.GetMigrationRecords(m.db.DB, dialect)
	if err != nil {
		return false, err
	}

	for _, k := range m.migrations {
		if !migrationApplied(records, k.Id) {
			return true, nil
		}
	}

	return false, nil
}

// FindMigrationByID returns the migration with the given ID, if known.
func (m *Migrator) FindMigrationByID(id string) *Migration {
	for _, mig := range m.migrations {
		if mig.Id == id {
			return mig
		}
	}
	return nil
}

// Validate checks that every migration requirement refers to a known
// migration ordered before the dependant. All violations are reported.
func (m *Migrator) Validate() error {
	sorted, err := m.source().FindMigrations()
	if err != nil {
		return err
	}

	position := make(map[string]int, len(sorted))
	for i, mig := range sorted {
		position[mig.Id] = i
	}

	var errs *multierror.Error
	for _, mig := range m.migrations {
		for _, req := range mig.Requires {
			pos, ok := position[req]
			switch {
			case !ok:
				errs = multierror.Append(errs, fmt.Errorf("migration %s requires unknown migration %s", mig.Id, req))
			case pos >= position[mig.Id]:
				errs = multierror.Append(errs, fmt.Errorf("migration %s requires %s which is not ordered before it", mig.Id, req))
			}
		}
	}

	return errs.ErrorOrNil()
}

func (m *Migrator) plan(direction migrate.MigrationDirection, limit int) ([]string, error) {
	planned, _, err := m.set.PlanMigration(m.db.DB, dialect, m.source(), direction, limit)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(planned))
	for _, p := range planned {
		result = append(result, p.Id)
	}

	return result, nil
}

func (m *Migrator) source() *migrate.MemoryMigrationSource {
	src := &migrate.MemoryMigrationSource{}

	for _, migration := range m.migrations {
		src.Migrations = append(src.Migrations, migration.Migration)
	}

	return src
}

func migrationApplied(records []*migrate.MigrationRecord, id string) bool {
	for _, r := range records {
		if r.Id == id {
			return true
		}
	}

	return false
}

// migrateUp applies up to maximum pending migrations (0 for unlimited), one
// at a time, each followed by its data step. A failed data step reverts its
// schema migration before the error is returned.
func (m *Migrator) migrateUp(ctx context.Context, maximum int) (MigrationResult, error) {
	var mr MigrationResult

	if err := m.Validate(); err != nil {
		return mr, fmt.Errorf("validating migrations: %w", err)
	}

	src := m.source()
	records, err := m.set.GetMigrationRecords(m.db.DB, dialect)
	if err != nil {
		return mr, fmt.Errorf("retrieving migration records: %w", err)
	}

	sorted, err := src.FindMigrations()
	if err != nil {
		return mr, fmt.Errorf("finding migrations: %w", err)
	}

	for _, migration := range sorted {
		if maximum != 0 && mr.AppliedCount == maximum {
			break
		}
		if migrationApplied(records, migration.Id) {
			continue
		}

		log := dcontext.GetLoggerWithField(ctx, "migration_id", migration.Id)
		start := time.Now()

		if _, err := m.set.ExecVersionContext(ctx, m.db.DB, dialect, src, migrate.Up, migration.VersionInt()); err != nil {
			return mr, fmt.Errorf("applying migration %s: %w", migration.Id, err)
		}

		if local := m.FindMigrationByID(migration.Id); local != nil && local.UpFunc != nil {
			if err := m.runDataStep(ctx, local.UpFunc); err != nil {
				err = fmt.Errorf("running data step of migration %s: %w", migration.Id, err)
				log.WithError(err).Error("data step failed, reverting schema migration")

				if _, rerr := m.set.ExecMaxContext(ctx, m.db.DB, dialect, src, migrate.Down, 1); rerr != nil {
					return mr, multierror.Append(err, fmt.Errorf("reverting migration %s: %w", migration.Id, rerr))
				}
				return mr, err
			}
			mr.DataStepCount++
		}

		mr.AppliedCount++
		log.WithField("duration_s", time.Since(start).Seconds()).Info("schema migration applied")
	}

	return mr, nil
}

// migrateDown reverts up to maximum applied migrations (0 for unlimited), one
// at a time, each preceded by its data step.
func (m *Migrator) migrateDown(ctx context.Context, maximum int) (MigrationResult, error) {
	var mr MigrationResult

	src := m.source()
	planned, _, err := m.set.PlanMigration(m.db.DB, dialect, src, migrate.Down, maximum)
	if err != nil {
		return mr, fmt.Errorf("planning down migrations: %w", err)
	}

	for _, p := range planned {
		log := dcontext.GetLoggerWithField(ctx, "migration_id", p.Id)
		start := time.Now()

		if local := m.FindMigrationByID(p.Id); local != nil && local.DownFunc != nil {
			if err := m.runDataStep(ctx, local.DownFunc); err != nil {
				return mr, fmt.Errorf("running down data step of migration %s: %w", p.Id, err)
			}
			mr.DataStepCount++
		}

		if _, err := m.set.ExecMaxContext(ctx, m.db.DB, dialect, src, migrate.Down, 1); err != nil {
			return mr, fmt.Errorf("reverting migration %s: %w", p.Id, err)
		}

		mr.AppliedCount++
		log.WithField("duration_s", time.Since(start).Seconds()).Info("schema migration reverted")
	}

	return mr, nil
}

func (m *Migrator) runDataStep(ctx context.Context, f DataFunc) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("creating database transaction: %w", err)
	}
	defer tx.Rollback()

	if err := f(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing database transaction: %w", err)
	}

	return nil
}
