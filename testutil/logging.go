package testutil

import (
	"context"
	"testing"

	dcontext "github.com/kpi-project/assetdb/context"
	"github.com/sirupsen/logrus"
)

type logWriterType struct {
	t testing.TB
}

func (l logWriterType) Write(p []byte) (n int, err error) {
	l.t.Log(string(p))
	return len(p), nil
}

// NewContextWithLogger returns a context carrying a logger that writes to the
// test output.
func NewContextWithLogger(tb testing.TB) context.Context {
	return dcontext.WithLogger(context.Background(), NewTestLogger(tb))
}

// NewTestLogger returns a debug level logger that writes to the test output.
func NewTestLogger(tb testing.TB) *logrus.Entry {
	logger := logrus.New().WithFields(
		logrus.Fields{
			"test": true,
		},
	)
	logger.Logger.Level = logrus.DebugLevel
	logger.Logger.SetOutput(logWriterType{t: tb})
	return logger
}
