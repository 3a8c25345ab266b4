package context

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gitlab.com/gitlab-org/labkit/correlation"
)

// Logger provides a leveled-logging interface.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)

	Info(args ...any)
	Infof(format string, args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)

	WithError(err error) *logrus.Entry
	WithField(key string, value any) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
}

type loggerKey struct{}

// WithLogger creates a new context with provided logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// WithCorrelationID returns a context carrying a correlation ID, reusing the
// one already present if any. Loggers resolved from the returned context
// include it as a field.
func WithCorrelationID(ctx context.Context) context.Context {
	return correlation.ContextWithCorrelation(ctx, correlation.ExtractFromContextOrGenerate(ctx))
}

// GetLoggerWithField returns a logger instance with the specified field key
// and value without affecting the context.
func GetLoggerWithField(ctx context.Context, key, value any) Logger {
	return getLogrusLogger(ctx).WithField(fmt.Sprint(key), value)
}

// GetLoggerWithFields returns a logger instance with the specified fields
// without affecting the context.
func GetLoggerWithFields(ctx context.Context, fields map[any]any) Logger {
	lfields := make(logrus.Fields, len(fields))
	for key, value := range fields {
		lfields[standardizedKey(fmt.Sprint(key))] = value
	}

	return getLogrusLogger(ctx).WithFields(lfields)
}

// GetLogger returns the logger from the current context, if present,
// otherwise a logger derived from the logrus standard logger.
func GetLogger(ctx context.Context) Logger {
	return getLogrusLogger(ctx)
}

func getLogrusLogger(ctx context.Context) *logrus.Entry {
	var logger *logrus.Entry

	switch l := ctx.Value(loggerKey{}).(type) {
	case *logrus.Entry:
		logger = l
	case *logrus.Logger:
		logger = logrus.NewEntry(l)
	}

	if logger == nil {
		fields := logrus.Fields{"go_version": runtime.Version()}
		if v := GetVersion(ctx); v != "" {
			fields["version"] = v
		}
		logger = logrus.StandardLogger().WithFields(fields)
	}

	if id := correlation.ExtractFromContext(ctx); id != "" {
		logger = logger.WithField(correlation.FieldName, id)
	}

	return logger
}

// standardizedKey converts dots to underscores in key names so that all log
// fields follow the same snake_case convention.
func standardizedKey(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}
