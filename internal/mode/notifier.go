package mode

import (
	"context"
	"log/slog"

	"github.com/vietddude/migrator/internal/core/domain"
)

// NotificationKind tells what a notification reports.
type NotificationKind string

const (
	NotificationStarted   NotificationKind = "started"
	NotificationCompleted NotificationKind = "completed"
	NotificationFailed    NotificationKind = "failed"
)

// Notification is a user-facing notice about a run.
type Notification struct {
	Mode    domain.Mode
	Kind    NotificationKind
	Message string
	Results []domain.MigrationResult
	Err     error
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) {
	if n.Err != nil {
		slog.Error(n.Message, "mode", n.Mode, "error", n.Err)
		return
	}
	slog.Info(n.Message, "mode", n.Mode, "kind", n.Kind)
}
