package assetdb

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kpi-project/assetdb/assetdb/backfill"
	"github.com/kpi-project/assetdb/assetdb/datastore"
	"github.com/kpi-project/assetdb/assetdb/datastore/migrations"
	"github.com/kpi-project/assetdb/assetdb/datastore/models"
	dcontext "github.com/kpi-project/assetdb/context"
	"github.com/kpi-project/assetdb/version"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(DBCmd)
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")

	MigrateCmd.AddCommand(MigrateVersionCmd)
	MigrateStatusCmd.Flags().BoolVarP(&upToDateCheck, "up-to-date", "u", false, "check if all known migrations are applied")
	MigrateCmd.AddCommand(MigrateStatusCmd)
	MigrateUpCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "do not commit changes to the database")
	MigrateUpCmd.Flags().VarP(nullableInt{&maxNumMigrations}, "limit", "n", "limit the number of migrations (all by default)")
	MigrateCmd.AddCommand(MigrateUpCmd)
	MigrateDownCmd.Flags().BoolVarP(&force, "force", "f", false, "no confirmation message")
	MigrateDownCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "do not commit changes to the database")
	MigrateDownCmd.Flags().VarP(nullableInt{&maxNumMigrations}, "limit", "n", "limit the number of migrations (all by default)")
	MigrateCmd.AddCommand(MigrateDownCmd)
	DBCmd.AddCommand(MigrateCmd)

	BackfillDeploymentStatusCmd.Flags().VarP(nullableInt{&batchSize}, "batch-size", "b", "number of assets written per bulk update (configuration value by default)")
	BackfillDeploymentStatusCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "roll back all changes once done")
	BackfillDeploymentStatusCmd.Flags().BoolVarP(&showProgress, "progress", "p", false, "show a progress bar")
	BackfillCmd.AddCommand(BackfillDeploymentStatusCmd)
	DBCmd.AddCommand(BackfillCmd)

	RootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w\n\n%s", err, c.UsageString())
	})
}

// Command flag vars
var (
	batchSize        *int
	dryRun           bool
	force            bool
	maxNumMigrations *int
	showProgress     bool
	showVersion      bool
	upToDateCheck    bool
)

// RootCmd is the main command for the 'assetdb' binary.
var RootCmd = &cobra.Command{
	Use:           "assetdb",
	Short:         "`assetdb`",
	Long:          "`assetdb` manages the schema and data migrations of the asset database",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if showVersion {
			version.PrintVersion()
			return nil
		}
		return cmd.Usage()
	},
}

// DBCmd is the root of the `database` command.
var DBCmd = &cobra.Command{
	Use:   "database",
	Short: "Manages the asset database",
	Long:  "Manages the asset database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

// MigrateCmd is the `migrate` sub-command of `database` that manages database migrations.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage migrations",
	Long:  "Manage migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

func migrationLimit() (int, error) {
	if maxNumMigrations == nil {
		return 0, nil
	}
	if *maxNumMigrations < 1 {
		return 0, errors.New("limit must be greater than or equal to 1")
	}
	return *maxNumMigrations, nil
}

// MigrateUpCmd is the `up` sub-command of `database migrate` that applies pending migrations.
var MigrateUpCmd = &cobra.Command{
	Use:   "up [config]",
	Short: "Apply up migrations",
	Long:  "Apply up migrations, running their data steps",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := resolveConfiguration(args)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		limit, err := migrationLimit()
		if err != nil {
			return err
		}

		ctx, err := configureLogging(dcontext.Background(), config)
		if err != nil {
			return fmt.Errorf("unable to configure logging with config: %w", err)
		}

		db, err := dbFromConfig(ctx, config)
		if err != nil {
			return fmt.Errorf("failed to construct database connection: %w", err)
		}
		defer db.Close()

		m := migrations.NewMigrator(db)
		plan, err := m.UpNPlan(limit)
		if err != nil {
			return fmt.Errorf("failed to prepare Up plan: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(plan) > 0 {
			_, _ = fmt.Fprintln(out, strings.Join(plan, "\n"))
		}

		if !dryRun {
			start := time.Now()
			mr, err := m.UpN(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to run database migrations: %w", err)
			}
			_, _ = fmt.Fprintf(out, "OK: applied %d migrations and %d data steps in %.3fs\n", mr.AppliedCount, mr.DataStepCount, time.Since(start).Seconds())
		}
		return nil
	},
}

var confirmPattern = regexp.MustCompile(`(?i)^y(es)?$`)

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	_, _ = fmt.Fprintf(out, "%s [y/N] ", question)

	var response string
	_, err := fmt.Fscanln(in, &response)
	if err != nil && errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to scan user input: %w", err)
	}

	return confirmPattern.MatchString(response), nil
}

// MigrateDownCmd is the `down` sub-command of `database migrate` that reverts applied migrations.
var MigrateDownCmd = &cobra.Command{
	Use:   "down [config]",
	Short: "Apply down migrations",
	Long:  "Apply down migrations, running their data steps",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := resolveConfiguration(args)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		limit, err := migrationLimit()
		if err != nil {
			return err
		}

		ctx, err := configureLogging(dcontext.Background(), config)
		if err != nil {
			return fmt.Errorf("unable to configure logging with config: %w", err)
		}

		db, err := dbFromConfig(ctx, config)
		if err != nil {
			return fmt.Errorf("failed to construct database connection: %w", err)
		}
		defer db.Close()

		m := migrations.NewMigrator(db)
		plan, err := m.DownNPlan(limit)
		if err != nil {
			return fmt.Errorf("failed to prepare Down plan: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(plan) > 0 {
			_, _ = fmt.Fprintln(out, strings.Join(plan, "\n"))
		}

		if !dryRun && len(plan) > 0 {
			if !force {
				ok, err := confirm(cmd.InOrStdin(), out, "Preparing to apply the above down migrations. Are you sure?")
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}

			start := time.Now()
			mr, err := m.DownN(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to run database migrations: %w", err)
			}
			_, _ = fmt.Fprintf(out, "OK: applied %d migrations in %.3fs\n", mr.AppliedCount, time.Since(start).Seconds())
		}
		return nil
	},
}

// MigrateVersionCmd is the `version` sub-command of `database migrate` that shows the current migration version.
var MigrateVersionCmd = &cobra.Command{
	Use:   "version [config]",
	Short: "Show current migration version",
	Long:  "Show current migration version",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := resolveConfiguration(args)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		ctx, err := configureLogging(dcontext.Background(), config)
		if err != nil {
			return fmt.Errorf("unable to configure logging with config: %w", err)
		}

		db, err := dbFromConfig(ctx, config)
		if err != nil {
			return fmt.Errorf("failed to construct database connection: %w", err)
		}
		defer db.Close()

		v, err := migrations.NewMigrator(db).Version()
		if err != nil {
			return fmt.Errorf("failed to detect database version: %w", err)
		}
		if v == "" {
			v = "Unknown"
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

// MigrateStatusCmd is the `status` sub-command of `database migrate` that shows the migrations status.
var MigrateStatusCmd = &cobra.Command{
	Use:   "status [config]",
	Short: "Show migration status",
	Long:  "Show migration status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := resolveConfiguration(args)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		ctx, err := configureLogging(dcontext.Background(), config)
		if err != nil {
			return fmt.Errorf("unable to configure logging with config: %w", err)
		}

		db, err := dbFromConfig(ctx, config)
		if err != nil {
			return fmt.Errorf("failed to construct database connection: %w", err)
		}
		defer db.Close()

		statuses, err := migrations.NewMigrator(db).Status()
		if err != nil {
			return fmt.Errorf("failed to detect database status: %w", err)
		}

		if upToDateCheck {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), upToDate(statuses))
			if err != nil {
				return fmt.Errorf("printing line: %w", err)
			}
			return nil
		}

		return printMigrationStatus(cmd.OutOrStdout(), statuses)
	},
}

func upToDate(statuses map[string]*migrations.MigrationStatus) bool {
	for _, s := range statuses {
		if s.AppliedAt == nil {
			return false
		}
	}
	return true
}

func printMigrationStatus(w io.Writer, statuses map[string]*migrations.MigrationStatus) error {
	table := tablewriter.NewWriter(w)
	table.Header("Migration", "Applied")

	// Display table rows sorted by migration ID
	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		name := id
		if statuses[id].Unknown {
			name += " (unknown)"
		}
		if statuses[id].DataStep {
			name += " (data)"
		}

		var appliedAt string
		if statuses[id].AppliedAt != nil {
			appliedAt = statuses[id].AppliedAt.String()
		}

		if err := table.Append([]string{name, appliedAt}); err != nil {
			return fmt.Errorf("appending table row: %w", err)
		}
	}

	return table.Render()
}

// BackfillCmd is the `backfill` sub-command of `database` that runs data backfills.
var BackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run data backfills",
	Long:  "Run data backfills outside of migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

// BackfillDeploymentStatusCmd is the `deployment-status` sub-command of
// `database backfill` that derives the deployment status of all assets.
var BackfillDeploymentStatusCmd = &cobra.Command{
	Use:   "deployment-status [config]",
	Short: "Derive the deployment status of assets",
	Long: "Derive the deployment status of assets from their deployment data, within a single transaction. " +
		"Surveys without deployment data are set to draft, assets with deployment data to deployed or archived.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := resolveConfiguration(args)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		size := config.Backfill.BatchSize
		if batchSize != nil {
			if *batchSize < 1 {
				return errors.New("batch size must be greater than or equal to 1")
			}
			size = *batchSize
		}

		ctx, err := configureLogging(dcontext.Background(), config)
		if err != nil {
			return fmt.Errorf("unable to configure logging with config: %w", err)
		}

		db, err := dbFromConfig(ctx, config)
		if err != nil {
			return fmt.Errorf("failed to construct database connection: %w", err)
		}
		defer db.Close()

		pending, err := migrations.NewMigrator(db).HasPending()
		if err != nil {
			return fmt.Errorf("failed to check pending migrations: %w", err)
		}
		if pending {
			return errors.New("there are pending database migrations, use the 'database migrate up' command to apply them first")
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to create database transaction: %w", err)
		}
		defer tx.Rollback()

		opts := []backfill.Option{backfill.WithBatchSize(size)}
		if showProgress {
			opts = append(opts, backfill.WithProgress(cmd.ErrOrStderr()))
		}

		store := datastore.NewAssetStore(tx)
		res, err := backfill.New(store, opts...).Run(ctx)
		if err != nil {
			return fmt.Errorf("failed to backfill deployment status: %w", err)
		}

		counts, err := store.CountByDeploymentStatus(ctx)
		if err != nil {
			return err
		}

		if dryRun {
			if err := tx.Rollback(); err != nil {
				return fmt.Errorf("failed to roll back database transaction: %w", err)
			}
		} else if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit database transaction: %w", err)
		}

		return printBackfillResult(cmd.OutOrStdout(), res, counts, dryRun)
	},
}

func printBackfillResult(w io.Writer, res backfill.Result, counts map[models.DeploymentStatus]int64, rolledBack bool) error {
	table := tablewriter.NewWriter(w)
	table.Header("Status", "Written", "Total")

	written := map[models.DeploymentStatus]int64{
		models.DeploymentStatusDraft:    res.Drafted,
		models.DeploymentStatusDeployed: res.Deployed,
		models.DeploymentStatusArchived: res.Archived,
	}

	for _, s := range models.DeploymentStatuses() {
		if err := table.Append([]string{s.Label(), strconv.FormatInt(written[s], 10), strconv.FormatInt(counts[s], 10)}); err != nil {
			return fmt.Errorf("appending table row: %w", err)
		}
	}
	if err := table.Append([]string{"None", "", strconv.FormatInt(counts[""], 10)}); err != nil {
		return fmt.Errorf("appending table row: %w", err)
	}

	if err := table.Render(); err != nil {
		return err
	}

	verb := "wrote"
	if rolledBack {
		verb = "would write"
	}
	_, err := fmt.Fprintf(w, "OK: %s %d assets in %d batches\n", verb, res.Total(), res.Batches)
	return err
}
