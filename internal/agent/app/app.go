// Package app wires the runtime agent together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/funai-studio/runtime-agent/internal/agent/audit"
	"github.com/funai-studio/runtime-agent/internal/agent/config"
	"github.com/funai-studio/runtime-agent/internal/agent/deploy"
	"github.com/funai-studio/runtime-agent/internal/agent/executor"
	"github.com/funai-studio/runtime-agent/internal/agent/matrix"
	"github.com/funai-studio/runtime-agent/internal/agent/mongo"
	"github.com/funai-studio/runtime-agent/internal/agent/orphans"
	"github.com/funai-studio/runtime-agent/internal/agent/registry"
	"github.com/funai-studio/runtime-agent/internal/agent/runtime"
	"github.com/funai-studio/runtime-agent/internal/agent/runtime/docker"
	"github.com/funai-studio/runtime-agent/internal/agent/server"
	"github.com/funai-studio/runtime-agent/internal/agent/store"
)

// App is the runtime agent. Optional parts are nil when their settings are
// absent.
type App struct {
	cfg  config.Config
	mode config.Mode

	store      *store.Store
	recorder   *audit.Recorder
	docker     *docker.Adapter
	controller *runtime.Controller
	deploy     *deploy.Client
	heartbeat  *deploy.Heartbeater
	mongo      *mongo.Server
	reconciler *orphans.Reconciler
	server     *server.Server
}

// New builds the components mode needs. The container engine is only
// connected for ModeServe.
func New(cfg config.Config, mode config.Mode) (*App, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	a := &App{cfg: cfg, mode: mode}

	if cfg.Audit.DBPath != "" {
		st, err := store.New(cfg.Audit.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		a.store = st
		slog.Info("audit log enabled", "path", cfg.Audit.DBPath)
	}

	var notifier audit.Notifier = audit.Noop{}
	if cfg.Matrix.Enabled() {
		mc, err := matrix.New(matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
		})
		if err != nil {
			a.Stop()
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mc.JoinRoom(ctx, cfg.Matrix.AuditRoom); err != nil {
			slog.Warn("matrix: could not join audit room; notices may fail", "room", cfg.Matrix.AuditRoom, "err", err)
		}
		cancel()
		notifier = audit.NewMatrixNotifier(mc, cfg.Matrix.AuditRoom)
		slog.Info("matrix notices enabled", "room", cfg.Matrix.AuditRoom)
	}
	a.recorder = audit.NewRecorder(a.auditWriter(), notifier)

	if cfg.Deploy.BaseURL != "" {
		a.deploy = deploy.New(cfg.Deploy.BaseURL, deploy.Options{
			SharedToken: cfg.Deploy.SharedToken,
			NodeToken:   cfg.Deploy.NodeToken,
		})
	}

	if cfg.Mongo.Host != "" {
		ms, err := mongo.Connect(mongo.Config{
			Host:       cfg.Mongo.Host,
			Port:       cfg.Mongo.Port,
			Username:   cfg.Mongo.Username,
			Password:   cfg.Mongo.Password,
			AuthSource: cfg.Mongo.AuthSource,
		})
		if err != nil {
			a.Stop()
			return nil, fmt.Errorf("failed to configure database client: %w", err)
		}
		a.mongo = ms
	}

	if a.deploy != nil && a.mongo != nil {
		a.reconciler = orphans.NewReconciler(a.deploy, a.mongo, orphans.Config{
			Concurrency:       cfg.Cleanup.Concurrency,
			DryRun:            cfg.Cleanup.DryRun,
			AllowEmptyLiveSet: cfg.Cleanup.AllowEmptyLiveSet,
			OnComplete:        a.recorder.CleanupCompleted,
		})
	}

	if mode == config.ModeServe {
		if err := a.initServe(); err != nil {
			a.Stop()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) initServe() error {
	cfg := a.cfg

	dc, err := docker.New()
	if err != nil {
		return fmt.Errorf("failed to create container engine client: %w", err)
	}
	a.docker = dc
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := dc.Ping(ctx); err != nil {
		slog.Warn("container engine not reachable yet", "err", err)
	}
	cancel()

	images := registry.New(executor.NewOS(), registry.Options{
		Binary:       cfg.Runtime.DockerBin,
		LoginTimeout: cfg.Runtime.LoginTimeout,
		PullTimeout:  cfg.Runtime.PullTimeout,
	})
	a.controller = runtime.NewController(dc, images, runtime.ControllerConfig{
		Network:        cfg.Runtime.Network,
		RoutingEnabled: cfg.Runtime.RoutingEnabled,
		DefaultPort:    cfg.Runtime.ContainerPort,
		Credentials:    cfg.Registry.Credentials(),
		OpTimeout:      cfg.Runtime.OpTimeout,
	})

	if cfg.HeartbeatEnabled() {
		a.heartbeat = deploy.NewHeartbeater(a.deploy, a.controller, deploy.HeartbeatConfig{
			NodeName:       cfg.Node.Name,
			AgentBaseURL:   cfg.Node.AgentBaseURL,
			GatewayBaseURL: cfg.Node.GatewayBaseURL,
			DiskPath:       cfg.Node.DiskPath,
			Interval:       cfg.Deploy.HeartbeatInterval,
		})
	} else {
		slog.Info("heartbeat disabled; DEPLOY_BASE_URL, DEPLOY_NODE_TOKEN and node base URLs are required")
	}

	opts := server.Options{
		Addr:      cfg.Listen.Addr(),
		Token:     cfg.AgentToken,
		Lifecycle: a.controller,
		Recorder:  a.recorder,
	}
	if a.reconciler != nil {
		opts.Cleaner = a.reconciler
	}
	if a.mongo != nil {
		opts.Explorer = a.mongo
	}
	if a.store != nil {
		opts.Audit = a.store
	}
	if a.heartbeat != nil {
		opts.AfterDeploy = a.heartbeat.Beat
	}
	a.server = server.New(opts)
	return nil
}

// auditWriter returns the store, or an untyped nil when the audit log is
// disabled.
func (a *App) auditWriter() audit.Writer {
	if a.store == nil {
		return nil
	}
	return a.store
}

// Run starts the HTTP server and the heartbeat loop and blocks until an
// interrupt or ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.server == nil {
		return errors.New("app was not built for serve mode")
	}
	ctx, cancel := signalContext(ctx)
	defer cancel()

	if err := a.server.Start(ctx); err != nil {
		return err
	}
	if a.heartbeat != nil {
		go a.heartbeat.Run(ctx)
	}

	slog.Info("runtime agent is running",
		"node", a.cfg.Node.Name,
		"network", a.controller.Network(),
		"cleanup", a.reconciler != nil,
		"audit", a.store != nil,
	)
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// RunCleanup runs the reconciler once, or every interval until interrupted
// when interval is positive.
func (a *App) RunCleanup(ctx context.Context, interval time.Duration) (orphans.Report, error) {
	if a.reconciler == nil {
		return orphans.Report{}, errors.New("cleanup requires DEPLOY_BASE_URL and RUNTIME_MONGO_HOST")
	}
	ctx, cancel := signalContext(ctx)
	defer cancel()

	if interval <= 0 {
		return a.reconciler.RunOnce(ctx)
	}
	slog.Info("orphan cleanup loop started", "interval", interval, "dry_run", a.cfg.Cleanup.DryRun)
	a.reconciler.Run(ctx, interval)
	return orphans.Report{}, nil
}

// Stop releases every connection. It is safe on a partially built App.
func (a *App) Stop() {
	if a.server != nil {
		slog.Info("stopping agent server")
		a.server.Stop()
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.mongo.Close(ctx); err != nil {
			slog.Warn("database client close error", "err", err)
		}
		cancel()
	}
	if a.docker != nil {
		if err := a.docker.Close(); err != nil {
			slog.Warn("container engine client close error", "err", err)
		}
	}
	if a.store != nil {
		slog.Info("closing audit store")
		if err := a.store.Close(); err != nil {
			slog.Warn("audit store close error", "err", err)
		}
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			slog.Info("received signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
