package audit_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/funai-studio/runtime-agent/common/trace"
	"github.com/funai-studio/runtime-agent/internal/agent/audit"
	"github.com/funai-studio/runtime-agent/internal/agent/orphans"
	"github.com/funai-studio/runtime-agent/internal/agent/store"
)

// fakeSender records notices for assertion.
type fakeSender struct {
	mu      sync.Mutex
	notices []string
	err     error
}

func (f *fakeSender) SendNotice(_ context.Context, _, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, msg)
	return f.err
}

func TestMatrixNotifier_SendsNotice(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "!room:example.com")

	n.Notify(context.Background(), audit.Event{
		Kind:    audit.KindAppDeployed,
		Actor:   "orchestrator",
		AppID:   "42",
		Message: "deployed app:v2",
		TraceID: "t_abc123",
	})

	if len(sender.notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(sender.notices))
	}
	msg := sender.notices[0]
	for _, want := range []string{"42", "deployed app:v2", "t_abc123", "orchestrator"} {
		if !strings.Contains(msg, want) {
			t.Errorf("notice missing %q: %q", want, msg)
		}
	}
}

func TestMatrixNotifier_TraceFromContext(t *testing.T) {
	sender := &fakeSender{}
	n := audit.NewMatrixNotifier(sender, "!room:example.com")
	ctx := trace.WithTraceID(context.Background(), "t_ctx")

	n.Notify(ctx, audit.Event{Kind: audit.KindError, Message: "boom"})
	if !strings.Contains(sender.notices[0], "t_ctx") {
		t.Errorf("trace id from context missing: %q", sender.notices[0])
	}
}

func TestMatrixNotifier_NoopWhenEmptyRoom(t *testing.T) {
	sender := &fakeSender{}
	audit.NewMatrixNotifier(sender, "").Notify(context.Background(), audit.Event{Kind: audit.KindAppStopped})
	if len(sender.notices) != 0 {
		t.Fatalf("expected no notices for empty room, got %d", len(sender.notices))
	}
}

func TestMatrixNotifier_SendErrorSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("homeserver down")}
	audit.NewMatrixNotifier(sender, "!r:x").Notify(context.Background(), audit.Event{Kind: audit.KindError})
}

func TestNoop(t *testing.T) {
	audit.Noop{}.Notify(context.Background(), audit.Event{Kind: audit.KindError, Message: "boom"})
}

// fakeWriter records audit writes.
type fakeWriter struct {
	entries []store.AuditEntry
	runs    []orphans.Report
}

func (f *fakeWriter) WriteAudit(_ context.Context, e store.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeWriter) RecordCleanupRun(_ context.Context, rep orphans.Report) error {
	f.runs = append(f.runs, rep)
	return nil
}

func TestRecorder_Record(t *testing.T) {
	w, sender := &fakeWriter{}, &fakeSender{}
	r := audit.NewRecorder(w, audit.NewMatrixNotifier(sender, "!r:x"))
	ctx := trace.WithTraceID(context.Background(), "t_1")

	r.Record(ctx, audit.Outcome{
		Action: "deploy", Actor: "orchestrator", AppID: "7", Result: store.ResultError,
		Err: errors.New("pull-failed"), Notify: true, Kind: audit.KindAppDeployFailed, Message: "pull failed",
	})
	r.Record(ctx, audit.Outcome{Action: "status", AppID: "7", Result: store.ResultSuccess})

	if len(w.entries) != 2 {
		t.Fatalf("entries = %d", len(w.entries))
	}
	if w.entries[0].TraceID != "t_1" || w.entries[0].Error != "pull-failed" {
		t.Errorf("entry = %+v", w.entries[0])
	}
	if len(sender.notices) != 1 {
		t.Errorf("expected one notice, got %d", len(sender.notices))
	}
}

func TestRecorder_NilWriter(t *testing.T) {
	r := audit.NewRecorder(nil, nil)
	r.Record(context.Background(), audit.Outcome{Action: "deploy", Notify: true})
	r.CleanupCompleted(context.Background(), orphans.Report{RunID: "x"})
}

func TestRecorder_CleanupCompleted(t *testing.T) {
	w, sender := &fakeWriter{}, &fakeSender{}
	r := audit.NewRecorder(w, audit.NewMatrixNotifier(sender, "!r:x"))

	r.CleanupCompleted(context.Background(), orphans.Report{RunID: "quiet"})
	if len(w.runs) != 1 || len(sender.notices) != 0 {
		t.Fatalf("quiet run: runs=%d notices=%d", len(w.runs), len(sender.notices))
	}

	r.CleanupCompleted(context.Background(), orphans.Report{RunID: "r2", Deleted: []string{"db_u1_a2"}})
	if len(sender.notices) != 1 || !strings.Contains(sender.notices[0], "db_u1_a2") {
		t.Fatalf("notices = %v", sender.notices)
	}

	r.CleanupCompleted(context.Background(), orphans.Report{RunID: "r3", Aborted: errors.New("fetch failed")})
	if len(sender.notices) != 2 || !strings.Contains(sender.notices[1], "aborted") {
		t.Fatalf("notices = %v", sender.notices)
	}
}
