package assetdb

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kpi-project/assetdb/assetdb/backfill"
	"github.com/kpi-project/assetdb/assetdb/datastore/migrations"
	"github.com/kpi-project/assetdb/assetdb/datastore/models"
	"github.com/kpi-project/assetdb/configuration"
	dcontext "github.com/kpi-project/assetdb/context"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/labkit/correlation"
)

func TestNullableInt(t *testing.T) {
	var v *int
	f := nullableInt{&v}

	require.Equal(t, "0", f.String())
	require.Equal(t, "int", f.Type())

	require.NoError(t, f.Set("25"))
	require.NotNil(t, v)
	require.Equal(t, 25, *v)
	require.Equal(t, "25", f.String())

	require.Error(t, f.Set("many"))
}

func TestResolveConfiguration_TooManyArgs(t *testing.T) {
	_, err := resolveConfiguration([]string{"a.yml", "b.yml"})
	require.ErrorContains(t, err, "at most one configuration file")
}

func TestConfigureLogging(t *testing.T) {
	level, formatter := logrus.GetLevel(), logrus.StandardLogger().Formatter
	defer func() {
		logrus.SetLevel(level)
		logrus.SetFormatter(formatter)
	}()

	config := &configuration.Configuration{
		Log: configuration.Log{
			Level:     configuration.LogLevelDebug,
			Formatter: "json",
			Fields:    map[string]any{"service": "assetdb"},
		},
	}

	ctx, err := configureLogging(context.Background(), config)
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	entry, ok := dcontext.GetLogger(ctx).(*logrus.Entry)
	require.True(t, ok)
	require.Equal(t, "assetdb", entry.Data["service"])
	require.NotEmpty(t, correlation.ExtractFromContext(ctx))
	require.Equal(t, correlation.ExtractFromContext(ctx), entry.Data[correlation.FieldName])
}

func TestConfigureLogging_InvalidLevel(t *testing.T) {
	_, err := configureLogging(context.Background(), &configuration.Configuration{
		Log: configuration.Log{Level: "verbose", Formatter: "text"},
	})
	require.Error(t, err)
}

func TestUpToDate(t *testing.T) {
	now := time.Now()

	require.True(t, upToDate(map[string]*migrations.MigrationStatus{}))
	require.True(t, upToDate(map[string]*migrations.MigrationStatus{
		"a": {AppliedAt: &now},
	}))
	require.False(t, upToDate(map[string]*migrations.MigrationStatus{
		"a": {AppliedAt: &now},
		"b": {},
	}))
}

func TestPrintMigrationStatus(t *testing.T) {
	appliedAt := time.Date(2023, 4, 3, 21, 46, 0, 0, time.UTC)

	var buf bytes.Buffer
	err := printMigrationStatus(&buf, map[string]*migrations.MigrationStatus{
		"20230403214600_add_deployment_status_to_asset": {DataStep: true},
		"20230103000000_create_asset_table":             {AppliedAt: &appliedAt},
		"20060102150405_foo":                            {Unknown: true, AppliedAt: &appliedAt},
	})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "20060102150405_foo (unknown)")
	require.Contains(t, out, "20230403214600_add_deployment_status_to_asset (data)")
	require.Contains(t, out, appliedAt.String())
	require.Less(t, strings.Index(out, "20060102150405_foo"), strings.Index(out, "20230103000000_create_asset_table"))
	require.Less(t, strings.Index(out, "20230103000000_create_asset_table"), strings.Index(out, "20230403214600_add_deployment_status_to_asset"))
}

func TestPrintBackfillResult(t *testing.T) {
	res := backfill.Result{Drafted: 3, Deployed: 2, Archived: 1, Batches: 1}
	counts := map[models.DeploymentStatus]int64{
		models.DeploymentStatusDraft:    3,
		models.DeploymentStatusDeployed: 2,
		models.DeploymentStatusArchived: 4,
		"":                              7,
	}

	var buf bytes.Buffer
	require.NoError(t, printBackfillResult(&buf, res, counts, false))
	require.Contains(t, buf.String(), "Draft")
	require.Contains(t, buf.String(), "None")
	require.Contains(t, buf.String(), "OK: wrote 6 assets in 1 batches")

	buf.Reset()
	require.NoError(t, printBackfillResult(&buf, res, counts, true))
	require.Contains(t, buf.String(), "OK: would write 6 assets in 1 batches")
}

func TestConfirm(t *testing.T) {
	tests := map[string]bool{
		"y\n":   true,
		"Yes\n": true,
		"no\n":  false,
		"\n":    false,
	}

	for in, want := range tests {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(in), &out, "Sure?")
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
		require.Equal(t, "Sure? [y/N] ", out.String())
	}
}
