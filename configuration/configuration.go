package configuration

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override
// configuration file values, e.g. ASSETDB_DATABASE_HOST.
const EnvPrefix = "ASSETDB"

// DefaultBatchSize is the number of assets written per bulk update during the
// deployment status backfill.
const DefaultBatchSize = 2000

// Loglevel is the level at which operations are logged.
type Loglevel string

const (
	LogLevelError Loglevel = "error"
	LogLevelWarn  Loglevel = "warn"
	LogLevelInfo  Loglevel = "info"
	LogLevelDebug Loglevel = "debug"
	LogLevelTrace Loglevel = "trace"
)

var logLevels = []Loglevel{
	LogLevelError,
	LogLevelWarn,
	LogLevelInfo,
	LogLevelDebug,
	LogLevelTrace,
}

// Configuration is the versioned configuration of the assetdb tool.
type Configuration struct {
	Log      Log      `mapstructure:"log"`
	Database Database `mapstructure:"database"`
	Backfill Backfill `mapstructure:"backfill"`
}

// Log supports setting various parameters related to the logging subsystem.
type Log struct {
	Level     Loglevel       `mapstructure:"level"`
	Formatter string         `mapstructure:"formatter"`
	Fields    map[string]any `mapstructure:"fields"`
}

// Database is the configuration for the Postgres database holding assets.
type Database struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	SSLCert        string        `mapstructure:"sslcert"`
	SSLKey         string        `mapstructure:"sslkey"`
	SSLRootCert    string        `mapstructure:"sslrootcert"`
	ConnectTimeout time.Duration `mapstructure:"connecttimeout"`
	// PreparedStatements can be disabled when connecting through a pooler in
	// transaction mode.
	PreparedStatements bool `mapstructure:"preparedstatements"`
	Pool               Pool `mapstructure:"pool"`
}

// Pool holds the settings of the database connection pool.
type Pool struct {
	MaxIdle     int           `mapstructure:"maxidle"`
	MaxOpen     int           `mapstructure:"maxopen"`
	MaxLifetime time.Duration `mapstructure:"maxlifetime"`
	MaxIdleTime time.Duration `mapstructure:"maxidletime"`
}

// Backfill holds the settings of data backfills run alongside migrations.
type Backfill struct {
	BatchSize int `mapstructure:"batchsize"`
}

// Option configures how a configuration is resolved.
type Option func(*options)

type options struct {
	envFiles []string
}

// WithEnvFiles sets the dotenv files loaded into the process environment
// before environment overrides are applied. Missing files are ignored.
func WithEnvFiles(files ...string) Option {
	return func(o *options) {
		o.envFiles = files
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", string(LogLevelInfo))
	v.SetDefault("log.formatter", "text")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "prefer")
	v.SetDefault("database.connecttimeout", 5*time.Second)
	v.SetDefault("database.preparedstatements", true)
	v.SetDefault("backfill.batchsize", DefaultBatchSize)
}

// Parse reads the configuration file at path, if any, applies ASSETDB_*
// environment overrides and validates the result.
func Parse(path string, opts ...Option) (*Configuration, error) {
	o := options{envFiles: []string{".env"}}
	for _, opt := range opts {
		opt(&o)
	}

	for _, f := range o.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file %q: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"database.user", "database.password", "database.dbname",
		"database.sslcert", "database.sslkey", "database.sslrootcert",
		"database.pool.maxidle", "database.pool.maxopen",
		"database.pool.maxlifetime", "database.pool.maxidletime",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %q: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading configuration file %q: %w", path, err)
		}
	}

	config := new(Configuration)
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for missing or invalid values.
func (c *Configuration) Validate() error {
	if !c.Log.Level.valid() {
		return fmt.Errorf("invalid log level %q, must be one of %v", c.Log.Level, logLevels)
	}
	switch c.Log.Formatter {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log formatter %q", c.Log.Formatter)
	}
	if c.Database.DBName == "" {
		return errors.New("database name is required")
	}
	if c.Backfill.BatchSize < 1 {
		return fmt.Errorf("backfill batch size must be greater than 0, got %d", c.Backfill.BatchSize)
	}
	return nil
}

func (l Loglevel) valid() bool {
	for _, v := range logLevels {
		if l == v {
			return true
		}
	}
	return false
}
