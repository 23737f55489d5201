package common

import (
	"context"
	"time"

	"github.com/joseph-ayodele/maaser-tracker/constants"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyMigrationStatus contextKey = "migration_status"
)

// WithMigrationStatus records the startup migration outcome for downstream commands.
func WithMigrationStatus(ctx context.Context, status constants.MigrationStatus) context.Context {
	return context.WithValue(ctx, ContextKeyMigrationStatus, status)
}

// MigrationStatusFromContext returns the status set at startup and whether one was set.
func MigrationStatusFromContext(ctx context.Context) (constants.MigrationStatus, bool) {
	status, ok := ctx.Value(ContextKeyMigrationStatus).(constants.MigrationStatus)
	return status, ok
}

// WithTimeout creates a context with the specified timeout
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}
