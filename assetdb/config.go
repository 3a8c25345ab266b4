package assetdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kpi-project/assetdb/assetdb/datastore"
	"github.com/kpi-project/assetdb/configuration"
	dcontext "github.com/kpi-project/assetdb/context"
	"github.com/sirupsen/logrus"
)

// nullableInt implements spf13/pflag#Value as a custom nullable integer to capture spf13/cobra command flags.
// https://pkg.go.dev/github.com/spf13/pflag?tab=doc#Value
type nullableInt struct {
	ptr **int
}

func (f nullableInt) String() string {
	if *f.ptr == nil {
		return "0"
	}
	return strconv.Itoa(**f.ptr)
}

func (nullableInt) Type() string {
	return "int"
}

func (f nullableInt) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f.ptr = &v
	return nil
}

// resolveConfiguration parses the configuration file given as the only
// optional argument. Without it the configuration comes from defaults and the
// environment.
func resolveConfiguration(args []string, opts ...configuration.Option) (*configuration.Configuration, error) {
	var path string
	switch len(args) {
	case 0:
	case 1:
		path = args[0]
	default:
		return nil, errors.New("expected at most one configuration file path")
	}

	config, err := configuration.Parse(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	return config, nil
}

// configureLogging prepares the context with a logger using the
// configuration and a correlation ID for the current run.
func configureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	l, err := logrus.ParseLevel(string(config.Log.Level))
	if err != nil {
		return ctx, err
	}
	logrus.SetLevel(l)

	switch config.Log.Formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
		})
	default:
		return ctx, fmt.Errorf("unsupported logging formatter: %q", config.Log.Formatter)
	}

	ctx = dcontext.WithCorrelationID(ctx)

	if len(config.Log.Fields) > 0 {
		fields := make(map[any]any, len(config.Log.Fields))
		for k, v := range config.Log.Fields {
			fields[k] = v
		}
		ctx = dcontext.WithLogger(ctx, dcontext.GetLoggerWithFields(ctx, fields))
	}

	return ctx, nil
}

// dbFromConfig opens a connection to the database described in config.
func dbFromConfig(ctx context.Context, config *configuration.Configuration) (*datastore.DB, error) {
	pool := config.Database.Pool
	return datastore.Open(ctx, datastore.DSNFromConfig(config.Database),
		datastore.WithLogger(dcontext.GetLogger(ctx).WithField("component", "database")),
		datastore.WithLogLevel(config.Log.Level),
		datastore.WithPreparedStatements(config.Database.PreparedStatements),
		datastore.WithPoolConfig(&datastore.PoolConfig{
			MaxIdle:     pool.MaxIdle,
			MaxOpen:     pool.MaxOpen,
			MaxLifetime: pool.MaxLifetime,
			MaxIdleTime: pool.MaxIdleTime,
		}),
	)
}
