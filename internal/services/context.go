package services

import "context"

type contextKey string

const (
	providerKey contextKey = "provider"
	setupIDKey  contextKey = "setup_id"
	runIDKey    contextKey = "run_id"
)

// WithProvider annotates context with the setup provider name.
func WithProvider(ctx context.Context, provider string) context.Context {
	if provider == "" {
		return ctx
	}
	return context.WithValue(ctx, providerKey, provider)
}

// ProviderFromContext returns the provider name if present.
func ProviderFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(providerKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSetupID annotates context with the setup identifier being processed.
func WithSetupID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, setupIDKey, id)
}

// SetupIDFromContext extracts the setup identifier if present.
func SetupIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(setupIDKey)
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithRunID annotates context with a run correlation identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run correlation identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
