// Package audit records lifecycle and cleanup events: to the SQLite audit
// log when configured, and as notices in a Matrix room so operators can
// follow node activity without reading logs.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/funai-studio/runtime-agent/common/trace"
)

// Kind is a machine-readable event category.
type Kind string

const (
	KindAppDeployed      Kind = "app.deployed"
	KindAppDeployFailed  Kind = "app.deploy_failed"
	KindAppStopped       Kind = "app.stopped"
	KindCleanupCompleted Kind = "cleanup.completed"
	KindCleanupAborted   Kind = "cleanup.aborted"
	KindError            Kind = "error"
)

// Event carries the data that the notifier formats and sends.
type Event struct {
	Kind Kind
	// Actor is who triggered the event (orchestrator, cli, scheduler).
	Actor string
	// AppID is the affected app, if any.
	AppID   string
	Message string
	// TraceID is taken from the context when empty.
	TraceID string
	// Timestamp defaults to time.Now() when zero.
	Timestamp time.Time
}

// Notifier sends notifications for major events.
type Notifier interface {
	// Notify posts an event. Send failures are logged, not propagated.
	Notify(ctx context.Context, evt Event)
}

// Sender is the subset of the Matrix client needed by MatrixNotifier.
type Sender interface {
	SendNotice(ctx context.Context, roomID, message string) error
}

// notifyTimeout bounds one notice.
const notifyTimeout = 5 * time.Second

// MatrixNotifier posts formatted notices to a Matrix room.
type MatrixNotifier struct {
	sender Sender
	roomID string
}

// NewMatrixNotifier creates a MatrixNotifier that posts to roomID via sender.
func NewMatrixNotifier(sender Sender, roomID string) *MatrixNotifier {
	return &MatrixNotifier{sender: sender, roomID: roomID}
}

// Notify formats evt and posts it to the room.
func (n *MatrixNotifier) Notify(ctx context.Context, evt Event) {
	if n.roomID == "" {
		return
	}
	msg := formatNotice(ctx, evt)

	// The notice outlives a cancelled request context but not the timeout.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := n.sender.SendNotice(sendCtx, n.roomID, msg); err != nil {
		slog.Warn("audit notifier: failed to send room notice", "room", n.roomID, "kind", evt.Kind, "err", err)
		return
	}
	slog.Debug("audit notifier: sent notice", "room", n.roomID, "kind", evt.Kind)
}

func formatNotice(ctx context.Context, evt Event) string {
	tid := evt.TraceID
	if tid == "" {
		tid = trace.FromContext(ctx)
	}
	icon := kindIcon(evt.Kind)
	msg := fmt.Sprintf("%s [%s] %s", icon, evt.Kind, evt.Message)
	if evt.AppID != "" {
		msg = fmt.Sprintf("%s app %s → %s", icon, evt.AppID, evt.Message)
	}
	if tid != "" {
		msg += "\n  trace: " + tid
	}
	if evt.Actor != "" {
		msg += "\n  actor: " + evt.Actor
	}
	return msg
}

// Noop is used when room notifications are disabled.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, Event) {}

func kindIcon(k Kind) string {
	switch k {
	case KindAppDeployed:
		return "🟢"
	case KindAppDeployFailed:
		return "❌"
	case KindAppStopped:
		return "⏹️"
	case KindCleanupCompleted:
		return "🧹"
	case KindCleanupAborted:
		return "⚠️"
	case KindError:
		return "🚨"
	default:
		return "ℹ️"
	}
}
