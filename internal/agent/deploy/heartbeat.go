package deploy

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// defaultDataDir is measured for disk metrics when it exists; "/" otherwise.
const defaultDataDir = "/data/funai"

// ContainerCounter reports how many application containers are running.
type ContainerCounter interface {
	RunningCount(ctx context.Context) (int, error)
}

// HeartbeatConfig configures a Heartbeater.
type HeartbeatConfig struct {
	NodeName       string
	AgentBaseURL   string
	GatewayBaseURL string
	// DiskPath is measured for free space. Defaults to /data/funai, or /.
	DiskPath string
	// Interval between heartbeats. Defaults to 60s.
	Interval time.Duration
}

// Heartbeater sends best-effort heartbeats. Failures are logged, never
// returned to callers of Beat.
type Heartbeater struct {
	client  *Client
	counter ContainerCounter
	cfg     HeartbeatConfig
}

// NewHeartbeater creates a Heartbeater. counter may be nil.
func NewHeartbeater(client *Client, counter ContainerCounter, cfg HeartbeatConfig) *Heartbeater {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
		if _, err := os.Stat(defaultDataDir); err == nil {
			cfg.DiskPath = defaultDataDir
		}
	}
	return &Heartbeater{client: client, counter: counter, cfg: cfg}
}

// Run sends a heartbeat immediately and then every interval until ctx is
// cancelled.
func (h *Heartbeater) Run(ctx context.Context) {
	slog.Info("heartbeat loop starting", "interval", h.cfg.Interval, "node", h.cfg.NodeName)
	h.Beat(ctx)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("heartbeat loop stopping")
			return
		case <-ticker.C:
			h.Beat(ctx)
		}
	}
}

// Beat sends one heartbeat.
func (h *Heartbeater) Beat(ctx context.Context) {
	req := h.collect(ctx)
	if err := h.client.Heartbeat(ctx, req); err != nil {
		slog.Warn("heartbeat failed", "node", h.cfg.NodeName, "err", err)
		return
	}
	slog.Debug("heartbeat ok", "node", h.cfg.NodeName)
}

func (h *Heartbeater) collect(ctx context.Context) HeartbeatRequest {
	req := HeartbeatRequest{
		NodeName:       h.cfg.NodeName,
		AgentBaseURL:   h.cfg.AgentBaseURL,
		GatewayBaseURL: h.cfg.GatewayBaseURL,
	}
	if free, total, err := diskUsage(h.cfg.DiskPath); err != nil {
		slog.Debug("collect disk metrics failed", "path", h.cfg.DiskPath, "err", err)
	} else if total > 0 {
		pct := float64(int64(float64(free)/float64(total)*10000)) / 100
		req.DiskFreePct = &pct
		req.DiskFreeBytes = &free
	}
	if h.counter != nil {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		n, err := h.counter.RunningCount(cctx)
		cancel()
		if err != nil {
			slog.Debug("collect container count failed", "err", err)
		} else {
			req.ContainerCount = &n
		}
	}
	return req
}
