package context

import (
	"context"

	"github.com/kpi-project/assetdb/version"
)

type versionKey struct{}

// Background returns a non-nil, empty context carrying the version of the
// running binary.
func Background() context.Context {
	return WithVersion(context.Background(), version.Version)
}

// WithVersion stores the application version in the context. A logger
// resolved from the returned context carries a "version" field.
func WithVersion(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, versionKey{}, version)
}

// GetVersion returns the application version from the context, or an empty
// string if none was set.
func GetVersion(ctx context.Context) string {
	v, _ := ctx.Value(versionKey{}).(string)
	return v
}
