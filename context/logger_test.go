package context

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gitlab.com/gitlab-org/labkit/correlation"
)

func newBufferLogger() (*logrus.Entry, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	l := logrus.New()
	l.SetOutput(buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	return logrus.NewEntry(l), buf
}

func TestGetLogger_FromContext(t *testing.T) {
	l, buf := newBufferLogger()
	ctx := WithLogger(context.Background(), l)

	GetLogger(ctx).Info("hello")
	require.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestGetLogger_Fallback(t *testing.T) {
	ctx := WithVersion(context.Background(), "1.2.3")

	entry, ok := GetLogger(ctx).(*logrus.Entry)
	require.True(t, ok)
	require.Equal(t, "1.2.3", entry.Data["version"])
	require.Contains(t, entry.Data, "go_version")
}

func TestGetLoggerWithFields_StandardizesKeys(t *testing.T) {
	l, _ := newBufferLogger()
	ctx := WithLogger(context.Background(), l)

	entry, ok := GetLoggerWithFields(ctx, map[any]any{"batch.size": 10}).(*logrus.Entry)
	require.True(t, ok)
	require.Equal(t, 10, entry.Data["batch_size"])
}

func TestWithCorrelationID(t *testing.T) {
	l, _ := newBufferLogger()
	ctx := WithCorrelationID(WithLogger(context.Background(), l))

	id := correlation.ExtractFromContext(ctx)
	require.NotEmpty(t, id)

	entry, ok := GetLoggerWithField(ctx, "k", "v").(*logrus.Entry)
	require.True(t, ok)
	require.Equal(t, id, entry.Data[correlation.FieldName])

	// an existing id is kept
	require.Equal(t, id, correlation.ExtractFromContext(WithCorrelationID(ctx)))
}
