// Package deploy is the agent's client for the orchestrator ("deploy
// service"): the live-application query used by the orphan reconciler and
// the node heartbeat.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/funai-studio/runtime-agent/common/retry"
	"github.com/funai-studio/runtime-agent/common/trace"
	"github.com/funai-studio/runtime-agent/internal/agent/orphans"
)

const (
	defaultTimeout = 10 * time.Second

	liveAppsPath  = "/api/fun-ai/internal/apps/ids"
	heartbeatPath = "/internal/runtime-nodes/heartbeat"

	runtimeTokenHeader = "X-Runtime-Token"
	nodeTokenHeader    = "X-RT-Node-Token"
)

// Options configures a Client.
type Options struct {
	// SharedToken authenticates the live-application query.
	SharedToken string
	// NodeToken authenticates heartbeats.
	NodeToken string
	// Timeout bounds each HTTP request. Defaults to 10s.
	Timeout time.Duration
	// Retry controls the live-application query. Defaults to
	// retry.DefaultConfig.
	Retry retry.Config
}

// Client talks to the orchestrator.
type Client struct {
	baseURL    string
	opts       Options
	httpClient *http.Client
}

// New creates a Client for baseURL (e.g. "http://deploy.internal:8080").
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig
	}
	opts.Retry.Name = "live-apps"
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

// StatusError is a non-2xx answer from the orchestrator.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("deploy %s %s → %d: %s", e.Method, e.Path, e.Code, e.Body)
	}
	return fmt.Sprintf("deploy %s %s → %d", e.Method, e.Path, e.Code)
}

// id decodes an identifier sent either as a JSON string or number.
type id string

func (i *id) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*i = id(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("id must be a string or number: %s", b)
	}
	*i = id(strings.TrimSpace(s))
	return nil
}

type liveAppsResponse struct {
	Apps []struct {
		UserID id `json:"userId"`
		AppID  id `json:"appId"`
	} `json:"apps"`
	// AppIDs is the older payload without owners.
	AppIDs []id `json:"appIds"`
}

// ListLiveApplications fetches the live application set. Transport errors
// and 5xx answers are retried; 4xx answers fail immediately. Any failure
// means the caller must not act on the set.
func (c *Client) ListLiveApplications(ctx context.Context) (orphans.LiveSet, error) {
	var body liveAppsResponse
	err := retry.Do(ctx, c.opts.Retry, func() error {
		body = liveAppsResponse{}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+liveAppsPath, nil)
		if err != nil {
			return retry.Permanent(err)
		}
		if c.opts.SharedToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.opts.SharedToken)
			req.Header.Set(runtimeTokenHeader, c.opts.SharedToken)
		}
		setTraceHeader(ctx, req)
		err = c.do(req, &body)
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return orphans.LiveSet{}, fmt.Errorf("list live applications: %w", err)
	}

	apps := make([]orphans.App, 0, len(body.Apps))
	for _, a := range body.Apps {
		if a.UserID == "" || a.AppID == "" {
			return orphans.LiveSet{}, errors.New("list live applications: entry with empty userId or appId")
		}
		apps = append(apps, orphans.App{UserID: string(a.UserID), AppID: string(a.AppID)})
	}
	appOnly := make([]string, 0, len(body.AppIDs))
	for _, a := range body.AppIDs {
		if a == "" {
			return orphans.LiveSet{}, errors.New("list live applications: empty appId")
		}
		appOnly = append(appOnly, string(a))
	}
	set := orphans.NewLiveSet(apps, appOnly)
	slog.Info("fetched live applications", "apps", len(apps), "app_only", len(appOnly))
	return set, nil
}

// HeartbeatRequest is the body of a node heartbeat.
type HeartbeatRequest struct {
	NodeName       string   `json:"nodeName"`
	AgentBaseURL   string   `json:"agentBaseUrl"`
	GatewayBaseURL string   `json:"gatewayBaseUrl"`
	DiskFreePct    *float64 `json:"diskFreePct,omitempty"`
	DiskFreeBytes  *uint64  `json:"diskFreeBytes,omitempty"`
	ContainerCount *int     `json:"containerCount,omitempty"`
}

// Heartbeat registers this node with the orchestrator.
func (c *Client) Heartbeat(ctx context.Context, hb HeartbeatRequest) error {
	b, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+heartbeatPath, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(nodeTokenHeader, c.opts.NodeToken)
	setTraceHeader(ctx, req)
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// --- internal helpers ---

func setTraceHeader(ctx context.Context, req *http.Request) {
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.Header, traceID)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(bodyBytes))
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		return &StatusError{Method: req.Method, Path: req.URL.Path, Code: resp.StatusCode, Body: snippet}
	}

	if out != nil {
		if len(bodyBytes) == 0 {
			return errors.New("empty response body")
		}
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
