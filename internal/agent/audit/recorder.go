package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/funai-studio/runtime-agent/common/trace"
	"github.com/funai-studio/runtime-agent/internal/agent/orphans"
	"github.com/funai-studio/runtime-agent/internal/agent/store"
)

// Writer persists audit entries and cleanup reports. *store.Store
// satisfies it.
type Writer interface {
	WriteAudit(ctx context.Context, e store.AuditEntry) error
	RecordCleanupRun(ctx context.Context, rep orphans.Report) error
}

// Recorder fans an outcome out to the audit log and the notifier. Either
// may be absent. Failures are logged and never returned.
type Recorder struct {
	writer   Writer
	notifier Notifier
}

// NewRecorder creates a Recorder. writer may be nil; a nil notifier means
// Noop.
func NewRecorder(writer Writer, notifier Notifier) *Recorder {
	if notifier == nil {
		notifier = Noop{}
	}
	return &Recorder{writer: writer, notifier: notifier}
}

// Outcome is one finished lifecycle operation.
type Outcome struct {
	Action  string
	Actor   string
	AppID   string
	Result  string
	Payload map[string]any
	Err     error
	// Notify posts a room notice as well.
	Notify  bool
	Kind    Kind
	Message string
}

// Record writes o to the audit log and optionally notifies.
func (r *Recorder) Record(ctx context.Context, o Outcome) {
	if r.writer != nil {
		e := store.AuditEntry{
			TraceID: trace.FromContext(ctx),
			Actor:   o.Actor,
			Action:  o.Action,
			AppID:   o.AppID,
			Result:  o.Result,
			Payload: o.Payload,
		}
		if o.Err != nil {
			e.Error = o.Err.Error()
		}
		if err := r.writer.WriteAudit(context.WithoutCancel(ctx), e); err != nil {
			slog.Warn("audit: failed to write entry", "action", o.Action, "app_id", o.AppID, "err", err)
		}
	}
	if o.Notify {
		r.notifier.Notify(ctx, Event{Kind: o.Kind, Actor: o.Actor, AppID: o.AppID, Message: o.Message})
	}
}

// CleanupCompleted records a reconciler report. It is shaped to be used as
// orphans.Config.OnComplete.
func (r *Recorder) CleanupCompleted(ctx context.Context, rep orphans.Report) {
	if r.writer != nil {
		if err := r.writer.RecordCleanupRun(context.WithoutCancel(ctx), rep); err != nil {
			slog.Warn("audit: failed to record cleanup run", "run_id", rep.RunID, "err", err)
		}
	}

	if rep.Aborted != nil {
		r.notifier.Notify(ctx, Event{
			Kind:    KindCleanupAborted,
			Actor:   "reconciler",
			Message: fmt.Sprintf("orphan cleanup %s aborted: %v", rep.RunID, rep.Aborted),
		})
		return
	}
	// Quiet runs are not worth a notice.
	if len(rep.Deleted) == 0 && len(rep.Errors) == 0 && !rep.DryRun {
		return
	}
	r.notifier.Notify(ctx, Event{
		Kind:    KindCleanupCompleted,
		Actor:   "reconciler",
		Message: cleanupSummary(rep),
	})
}

func cleanupSummary(rep orphans.Report) string {
	var b strings.Builder
	verb := "dropped"
	names := rep.Deleted
	if rep.DryRun {
		verb = "would drop"
		names = rep.Candidates
	}
	fmt.Fprintf(&b, "orphan cleanup %s: %s %d database(s)", rep.RunID, verb, len(names))
	if len(names) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(names, ", "))
	}
	if len(rep.Errors) > 0 {
		fmt.Fprintf(&b, ", %d failed", len(rep.Errors))
	}
	return b.String()
}
