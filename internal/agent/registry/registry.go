// Package registry logs the container runtime into an image registry and
// pulls images through the runtime's CLI.
//
// Both operations go through the container CLI rather than the Engine API on
// purpose of the credential store: `docker login` persists the session in
// the host's credential store and `docker pull` reads it, so a host that was
// logged in by hand keeps working when no credentials are configured here.
//
// Credentials are threaded explicitly into every EnsureLogin call. An empty
// set means "use whatever session the host already holds" and never touches
// the CLI.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/funai-studio/runtime-agent/common/redact"
	"github.com/funai-studio/runtime-agent/internal/agent/executor"
)

const (
	// DefaultLoginTimeout bounds a login against an unreachable registry.
	DefaultLoginTimeout = 60 * time.Second
	// DefaultPullTimeout bounds a single image pull.
	DefaultPullTimeout = 5 * time.Minute
)

// Credentials are the optional registry login settings.
type Credentials struct {
	URL      string
	Username string
	Secret   string
}

// Empty reports whether no registry is configured. Without a URL there is
// nothing to log into.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.URL) == ""
}

// LogValue keeps the secret out of structured logs.
func (c Credentials) LogValue() slog.Value {
	secret := ""
	if c.Secret != "" {
		secret = redact.Placeholder
	}
	return slog.GroupValue(
		slog.String("url", c.URL),
		slog.String("username", c.Username),
		slog.String("secret", secret),
	)
}

// String implements fmt.Stringer without the secret.
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s", c.Username, c.URL)
}

// LoginResult is the non-fatal outcome of EnsureLogin.
type LoginResult struct {
	// Skipped is true when no credentials were configured.
	Skipped bool
	// Warning is set when the login attempt failed; the caller continues.
	Warning string
}

// OK reports whether the login succeeded or was not needed.
func (r LoginResult) OK() bool { return r.Warning == "" }

// Client performs login and pull via the container CLI.
type Client struct {
	exec         executor.Executor
	bin          string
	loginTimeout time.Duration
	pullTimeout  time.Duration
}

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	Binary       string
	LoginTimeout time.Duration
	PullTimeout  time.Duration
}

// New returns a Client that runs opts.Binary (default "docker") through exec.
func New(exec executor.Executor, opts Options) *Client {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = DefaultLoginTimeout
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = DefaultPullTimeout
	}
	return &Client{
		exec:         exec,
		bin:          opts.Binary,
		loginTimeout: opts.LoginTimeout,
		pullTimeout:  opts.PullTimeout,
	}
}

// EnsureLogin logs the runtime into creds.URL. It never returns an error: a
// failed login may still be covered by an earlier manual login, so the
// failure is reported as a warning and the deploy carries on to the pull.
func (c *Client) EnsureLogin(ctx context.Context, creds Credentials) LoginResult {
	if creds.Empty() {
		return LoginResult{Skipped: true}
	}

	args := []string{"login", "--username", creds.Username, "--password-stdin", creds.URL}
	_, err := c.exec.Run(ctx, executor.Command{
		Name:    c.bin,
		Args:    args,
		Stdin:   []byte(creds.Secret),
		Timeout: c.loginTimeout,
	})
	if err == nil {
		slog.Debug("registry: login ok", "registry", creds.URL, "username", creds.Username)
		return LoginResult{}
	}

	reason := err.Error()
	var execErr *executor.ExecutionError
	if errors.As(err, &execErr) {
		reason = execErr.Reason()
	}
	reason = redact.String(reason, creds.Secret)
	slog.Warn("registry: login failed, relying on existing session",
		"registry", creds.URL, "username", creds.Username, "reason", reason)
	return LoginResult{Warning: fmt.Sprintf("registry login to %s failed: %s", creds.URL, reason)}
}

// Pull fetches image into the local runtime.
func (c *Client) Pull(ctx context.Context, image string) error {
	if strings.TrimSpace(image) == "" {
		return fmt.Errorf("pull: image reference is empty")
	}
	if strings.HasPrefix(image, "-") {
		return fmt.Errorf("pull: invalid image reference %q", image)
	}
	_, err := c.exec.Run(ctx, executor.Command{
		Name:    c.bin,
		Args:    []string{"pull", image},
		Timeout: c.pullTimeout,
	})
	if err != nil {
		return fmt.Errorf("pull %s: %w", image, err)
	}
	return nil
}
