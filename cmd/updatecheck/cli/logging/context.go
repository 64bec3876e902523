package logging

import (
	"context"
)

// Context keys for logging values.
type contextKey int

const (
	checkIDKey contextKey = iota
	componentKey
	platformKey
)

// WithCheckID tags the context with the id of a single version check so all
// of its log lines can be correlated.
func WithCheckID(ctx context.Context, checkID string) context.Context {
	return context.WithValue(ctx, checkIDKey, checkID)
}

// WithComponent adds a component name to the context (e.g. "versioncheck",
// "server", "cache").
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// WithPlatform adds the target platform to the context.
func WithPlatform(ctx context.Context, platform string) context.Context {
	return context.WithValue(ctx, platformKey, platform)
}

// CheckIDFromContext returns the check id, or "" if not set.
func CheckIDFromContext(ctx context.Context) string {
	return stringValue(ctx, checkIDKey)
}

// ComponentFromContext returns the component name, or "" if not set.
func ComponentFromContext(ctx context.Context) string {
	return stringValue(ctx, componentKey)
}

// PlatformFromContext returns the platform, or "" if not set.
func PlatformFromContext(ctx context.Context) string {
	return stringValue(ctx, platformKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}
