package orphans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrEmptyLiveSet aborts a run whose fetched live set has no entries.
var ErrEmptyLiveSet = errors.New("live application set is empty")

// ErrRunInProgress is returned when RunOnce is called while another run is
// active.
var ErrRunInProgress = errors.New("cleanup run already in progress")

// Config configures a Reconciler.
type Config struct {
	// FetchTimeout bounds the live-set fetch. Defaults to 30s.
	FetchTimeout time.Duration
	// ListTimeout bounds listing databases. Defaults to 30s.
	ListTimeout time.Duration
	// DropTimeout bounds each drop. Defaults to 60s.
	DropTimeout time.Duration
	// Concurrency is the number of drops in flight. Defaults to 2.
	Concurrency int
	// DryRun reports candidates without dropping them.
	DryRun bool
	// AllowEmptyLiveSet lets a run proceed when the orchestrator reports no
	// applications at all.
	AllowEmptyLiveSet bool
	// OnComplete is called after every run, including aborted ones.
	OnComplete func(ctx context.Context, rep Report)
}

// DropError records a failed drop.
type DropError struct {
	Database string
	Err      error
}

func (e DropError) Error() string { return fmt.Sprintf("drop %s: %v", e.Database, e.Err) }

func (e DropError) Unwrap() error { return e.Err }

// Report summarises one run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	// LiveApps is the size of the fetched live set.
	LiveApps int
	// Scanned counts every database name seen on the server.
	Scanned int
	// Candidates are namespaced databases not in the live set.
	Candidates []string
	// Deleted are the candidates actually dropped.
	Deleted []string
	Errors  []DropError
	// Aborted is set when the run stopped before considering any drop.
	Aborted error
}

// DeletedCount is len(Deleted).
func (r Report) DeletedCount() int { return len(r.Deleted) }

// Reconciler finds and drops orphaned namespaced databases.
type Reconciler struct {
	live LiveSource
	db   DatabaseServer
	cfg  Config
	mu   sync.Mutex
}

// NewReconciler creates a new Reconciler.
func NewReconciler(live LiveSource, db DatabaseServer, cfg Config) *Reconciler {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 30 * time.Second
	}
	if cfg.DropTimeout <= 0 {
		cfg.DropTimeout = 60 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Reconciler{live: live, db: db, cfg: cfg}
}

// Run calls RunOnce immediately and then every interval until ctx is
// cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	slog.Info("orphan reconciler starting", "interval", interval, "dry_run", r.cfg.DryRun)

	r.runLogged(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("orphan reconciler stopping")
			return
		case <-ticker.C:
			r.runLogged(ctx)
		}
	}
}

func (r *Reconciler) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		slog.Error("orphan cleanup run failed", "err", err)
	}
}

// RunOnce performs one reconciliation pass. An error is returned only when
// the run aborted; per-database drop failures are in Report.Errors.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	if !r.mu.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer r.mu.Unlock()

	rep := Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC(), DryRun: r.cfg.DryRun}
	log := slog.With("run_id", rep.RunID)

	err := r.run(ctx, log, &rep)
	rep.FinishedAt = time.Now().UTC()
	if err != nil {
		rep.Aborted = err
		log.Error("orphan cleanup aborted, nothing deleted", "err", err)
	} else {
		log.Info("orphan cleanup finished",
			"live_apps", rep.LiveApps,
			"scanned", rep.Scanned,
			"candidates", len(rep.Candidates),
			"deleted", len(rep.Deleted),
			"errors", len(rep.Errors),
			"dry_run", rep.DryRun,
		)
	}
	if r.cfg.OnComplete != nil {
		r.cfg.OnComplete(ctx, rep)
	}
	return rep, err
}

func (r *Reconciler) run(ctx context.Context, log *slog.Logger, rep *Report) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	live, err := r.live.ListLiveApplications(fetchCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch live applications: %w", err)
	}
	rep.LiveApps = live.Len()
	if live.Len() == 0 && !r.cfg.AllowEmptyLiveSet {
		return ErrEmptyLiveSet
	}

	listCtx, cancel := context.WithTimeout(ctx, r.cfg.ListTimeout)
	names, err := r.db.ListDatabases(listCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("list databases: %w", err)
	}
	rep.Scanned = len(names)

	for _, name := range names {
		userID, appID, ok := ParseDatabaseName(name)
		if !ok || live.Contains(userID, appID) {
			continue
		}
		rep.Candidates = append(rep.Candidates, name)
	}
	sort.Strings(rep.Candidates)

	if r.cfg.DryRun {
		for _, name := range rep.Candidates {
			log.Info("dry run: would drop orphaned database", "database", name)
		}
		return nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, name := range rep.Candidates {
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				rep.Errors = append(rep.Errors, DropError{Database: name, Err: ctx.Err()})
				mu.Unlock()
				return nil
			}
			dropCtx, cancel := context.WithTimeout(ctx, r.cfg.DropTimeout)
			err := r.db.DropDatabase(dropCtx, name)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("failed to drop orphaned database", "database", name, "err", err)
				rep.Errors = append(rep.Errors, DropError{Database: name, Err: err})
				return nil
			}
			log.Info("dropped orphaned database", "database", name)
			rep.Deleted = append(rep.Deleted, name)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(rep.Deleted)
	sort.Slice(rep.Errors, func(i, j int) bool { return rep.Errors[i].Database < rep.Errors[j].Database })
	return nil
}
