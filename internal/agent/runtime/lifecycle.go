package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/funai-studio/runtime-agent/internal/agent/observability"
	"github.com/funai-studio/runtime-agent/internal/agent/registry"
)

// DefaultOpTimeout bounds a single container-engine call (create, start,
// stop, inspect). Pulls and logins have their own, longer bounds.
const DefaultOpTimeout = 60 * time.Second

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Network is the shared network; DefaultNetwork when empty.
	Network string
	// RoutingEnabled attaches gateway routing labels.
	RoutingEnabled bool
	// DefaultPort is used when a deploy does not name a port.
	DefaultPort int
	// Credentials are passed to the image source before every pull. The
	// zero value means "use the host's existing registry session".
	Credentials registry.Credentials
	// OpTimeout bounds each engine call; DefaultOpTimeout when zero.
	OpTimeout time.Duration
}

// DeployRequest asks for an app to run a given image.
type DeployRequest struct {
	AppID  string
	UserID string
	Image  string
	// Port is the container's HTTP port; ControllerConfig.DefaultPort when 0.
	Port int
}

// DeployResult describes a successful deploy.
type DeployResult struct {
	AppID         string
	ContainerName string
	ContainerID   string
	State         AppState
	// Replaced is true when an earlier container for the app was swapped out.
	Replaced bool
	// Warnings are non-fatal notes, e.g. a failed registry login.
	Warnings []string
}

// StopResult describes a stop.
type StopResult struct {
	AppID         string
	ContainerName string
	// AlreadyStopped is true when no container existed.
	AlreadyStopped bool
}

// Status is the observed state of an app's container.
type Status struct {
	AppID         string
	ContainerName string
	ContainerID   string
	State         AppState
	Image         string
}

// Exists reports whether a container was found.
func (s Status) Exists() bool { return s.State != StateAbsent }

// Controller runs deploy/stop/status for application containers. Calls for
// the same appId are serialized; a second caller blocks until the first is
// done and then proceeds, so concurrent deploys resolve last-writer-wins and
// never interleave. Calls for different apps run in parallel.
type Controller struct {
	rt     Runtime
	images ImageSource
	cfg    ControllerConfig
	locks  *keyedLocker
	netSF  singleflight.Group
}

// NewController creates a Controller.
func NewController(rt Runtime, images ImageSource, cfg ControllerConfig) *Controller {
	if cfg.Network == "" {
		cfg.Network = DefaultNetwork
	}
	if cfg.DefaultPort <= 0 {
		cfg.DefaultPort = DefaultContainerPort
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	return &Controller{
		rt:     rt,
		images: images,
		cfg:    cfg,
		locks:  newKeyedLocker(),
	}
}

// Network returns the shared network name in use.
func (c *Controller) Network() string { return c.cfg.Network }

// Deploy pulls req.Image and replaces the app's container with a new one
// running it. The existing container is not touched until the pull has
// succeeded. If the new container fails to start, the previous one is put
// back and restarted before the error is returned.
func (c *Controller) Deploy(ctx context.Context, req DeployRequest) (DeployResult, error) {
	if err := ValidateAppID(req.AppID); err != nil {
		return DeployResult{}, &DeployError{AppID: req.AppID, Step: StepValidate, Err: err}
	}
	if err := ValidateUserID(req.UserID); err != nil {
		return DeployResult{}, &DeployError{AppID: req.AppID, Step: StepValidate, Err: err}
	}
	if req.Image == "" {
		return DeployResult{}, &DeployError{AppID: req.AppID, Step: StepValidate, Err: errors.New("image is required")}
	}
	port := req.Port
	if port == 0 {
		port = c.cfg.DefaultPort
	}
	if port < 1 || port > 65535 {
		return DeployResult{}, &DeployError{AppID: req.AppID, Step: StepValidate, Err: fmt.Errorf("invalid port %d", port)}
	}

	unlock, err := c.locks.Lock(ctx, req.AppID)
	if err != nil {
		return DeployResult{}, fmt.Errorf("deploy %s: waiting for lock: %w", req.AppID, err)
	}
	defer unlock()

	log := c.logger(ctx, req.AppID)
	name := ContainerNameFor(req.AppID)
	res := DeployResult{AppID: req.AppID, ContainerName: name}

	if err := c.ensureNetwork(ctx); err != nil {
		return res, &DeployError{AppID: req.AppID, Step: StepNetwork, Err: err}
	}

	if login := c.images.EnsureLogin(ctx, c.cfg.Credentials); !login.OK() {
		res.Warnings = append(res.Warnings, login.Warning)
	}

	log.Info("pulling image", "image", req.Image)
	if err := c.images.Pull(ctx, req.Image); err != nil {
		log.Warn("pull failed, existing container left untouched", "image", req.Image, "err", err)
		return res, &DeployError{AppID: req.AppID, Step: StepPull, Err: err}
	}

	previous, err := c.parkExisting(ctx, req.AppID)
	if err != nil {
		return res, &DeployError{AppID: req.AppID, Step: StepReplace, Err: err}
	}
	res.Replaced = previous != ""

	spec := ContainerSpec{
		Name:          name,
		Image:         req.Image,
		Network:       c.cfg.Network,
		Labels:        containerLabels(req.AppID, req.UserID, port, c.cfg.RoutingEnabled, c.cfg.Network),
		RestartPolicy: "always",
	}
	id, startErr := c.createAndStart(ctx, spec)
	if startErr != nil {
		derr := &DeployError{AppID: req.AppID, Step: StepStart, Err: startErr}
		if previous == "" {
			// Nothing to roll back to: the failed container stays so status
			// reports failed until the next deploy or stop removes it.
			log.Warn("start failed", "container_id", id, "err", startErr)
			return res, derr
		}
		if id != "" {
			if err := c.compensate(ctx, func(ctx context.Context) error { return c.rt.Remove(ctx, id) }); err != nil && !errors.Is(err, ErrNotFound) {
				log.Error("could not remove failed container", "container_id", id, "err", err)
			}
		}
		if err := c.restorePrevious(ctx, req.AppID, previous); err != nil {
			log.Error("rollback failed; app has no running container", "container_id", previous, "err", err)
		} else {
			derr.RolledBack = true
			log.Warn("start failed, previous container restored", "err", startErr)
		}
		return res, derr
	}
	res.ContainerID = id
	res.State = StateRunning

	if previous != "" {
		if err := c.call(ctx, func(ctx context.Context) error { return c.rt.Remove(ctx, previous) }); err != nil && !errors.Is(err, ErrNotFound) {
			// The new container is serving; a leftover is cleaned up by the
			// next deploy or stop.
			log.Warn("could not remove previous container", "container_id", previous, "err", err)
		}
	}

	log.Info("app deployed", "container", name, "container_id", id, "image", req.Image, "replaced", res.Replaced)
	return res, nil
}

// Stop stops and removes the app's container. A missing container is
// success. The shared network is left in place.
func (c *Controller) Stop(ctx context.Context, appID string) (StopResult, error) {
	if err := ValidateAppID(appID); err != nil {
		return StopResult{}, err
	}
	unlock, err := c.locks.Lock(ctx, appID)
	if err != nil {
		return StopResult{}, fmt.Errorf("stop %s: waiting for lock: %w", appID, err)
	}
	defer unlock()

	log := c.logger(ctx, appID)
	name := ContainerNameFor(appID)
	res := StopResult{AppID: appID, ContainerName: name}

	// A crashed redeploy can leave a parked container behind.
	if err := c.removeIfPresent(ctx, previousNameFor(appID)); err != nil {
		return res, fmt.Errorf("stop %s: remove previous container: %w", appID, err)
	}

	err = c.call(ctx, func(ctx context.Context) error { return c.rt.Stop(ctx, name) })
	if errors.Is(err, ErrNotFound) {
		res.AlreadyStopped = true
		log.Info("stop: no container, nothing to do")
		return res, nil
	}
	if err != nil {
		// Remove forces the container down regardless.
		log.Warn("graceful stop failed, forcing removal", "err", err)
	}

	err = c.call(ctx, func(ctx context.Context) error { return c.rt.Remove(ctx, name) })
	if errors.Is(err, ErrNotFound) {
		res.AlreadyStopped = true
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("stop %s: %w", appID, err)
	}
	log.Info("app stopped", "container", name)
	return res, nil
}

// Status reports the container state for appID without changing anything.
func (c *Controller) Status(ctx context.Context, appID string) (Status, error) {
	if err := ValidateAppID(appID); err != nil {
		return Status{}, err
	}
	unlock, err := c.locks.Lock(ctx, appID)
	if err != nil {
		return Status{}, fmt.Errorf("status %s: waiting for lock: %w", appID, err)
	}
	defer unlock()

	name := ContainerNameFor(appID)
	st := Status{AppID: appID, ContainerName: name, State: StateAbsent}

	var info ContainerInfo
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		info, err = c.rt.Inspect(ctx, name)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("status %s: %w", appID, err)
	}
	st.ContainerID = info.ID
	st.Image = info.Image
	st.State = info.AppState()
	return st, nil
}

// RunningCount returns how many managed containers are running.
func (c *Controller) RunningCount(ctx context.Context) (int, error) {
	var list []ContainerInfo
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		list, err = c.rt.List(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ci := range list {
		if ci.AppState() == StateRunning {
			n++
		}
	}
	return n, nil
}

// ensureNetwork creates the shared network if needed. Concurrent callers
// share one attempt, and losing a creation race to another process counts
// as success.
func (c *Controller) ensureNetwork(ctx context.Context) error {
	_, err, _ := c.netSF.Do(c.cfg.Network, func() (any, error) {
		var exists bool
		err := c.call(ctx, func(ctx context.Context) error {
			var err error
			exists, err = c.rt.NetworkExists(ctx, c.cfg.Network)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("inspect network %s: %w", c.cfg.Network, err)
		}
		if exists {
			return nil, nil
		}
		err = c.call(ctx, func(ctx context.Context) error { return c.rt.CreateNetwork(ctx, c.cfg.Network) })
		if err != nil && !errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("create network %s: %w", c.cfg.Network, err)
		}
		if err == nil {
			slog.Info("created shared network", "network", c.cfg.Network)
		}
		return nil, nil
	})
	return err
}

// parkExisting stops the current container and renames it out of the way so
// the new one can take its name. It returns the parked container's ID, or ""
// when there was nothing to park.
func (c *Controller) parkExisting(ctx context.Context, appID string) (string, error) {
	name := ContainerNameFor(appID)
	prevName := previousNameFor(appID)

	if err := c.removeIfPresent(ctx, prevName); err != nil {
		return "", fmt.Errorf("remove stale %s: %w", prevName, err)
	}

	var info ContainerInfo
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		info, err = c.rt.Inspect(ctx, name)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("inspect %s: %w", name, err)
	}

	// A container that is not running (a failed earlier start) is nothing
	// to roll back to.
	if info.AppState() != StateRunning {
		if err := c.removeIfPresent(ctx, info.ID); err != nil {
			return "", fmt.Errorf("remove %s: %w", name, err)
		}
		return "", nil
	}

	// Both containers carry the same routing labels, so the old one must be
	// down before the new one starts.
	if err := c.call(ctx, func(ctx context.Context) error { return c.rt.Stop(ctx, info.ID) }); err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("stop %s: %w", name, err)
	}
	if err := c.call(ctx, func(ctx context.Context) error { return c.rt.Rename(ctx, info.ID, prevName) }); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		if serr := c.compensate(ctx, func(ctx context.Context) error { return c.rt.Start(ctx, info.ID) }); serr != nil {
			c.logger(ctx, appID).Error("could not restart container after failed rename; app has no running container",
				"container_id", info.ID, "err", serr)
		}
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return info.ID, nil
}

// restorePrevious puts a parked container back under the app's name and
// starts it.
func (c *Controller) restorePrevious(ctx context.Context, appID, id string) error {
	if err := c.compensate(ctx, func(ctx context.Context) error { return c.rt.Rename(ctx, id, ContainerNameFor(appID)) }); err != nil {
		return fmt.Errorf("rename back: %w", err)
	}
	if err := c.compensate(ctx, func(ctx context.Context) error { return c.rt.Start(ctx, id) }); err != nil {
		return fmt.Errorf("restart previous: %w", err)
	}
	return nil
}

// createAndStart returns the new container's ID even when Start fails, so
// the caller can remove it.
func (c *Controller) createAndStart(ctx context.Context, spec ContainerSpec) (string, error) {
	var id string
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		id, err = c.rt.Create(ctx, spec)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create %s: %w", spec.Name, err)
	}
	if err := c.call(ctx, func(ctx context.Context) error { return c.rt.Start(ctx, id) }); err != nil {
		return id, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	return id, nil
}

func (c *Controller) removeIfPresent(ctx context.Context, nameOrID string) error {
	err := c.call(ctx, func(ctx context.Context) error { return c.rt.Remove(ctx, nameOrID) })
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// call runs fn under the per-operation timeout.
func (c *Controller) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	return fn(ctx)
}

// compensate runs an undo step. It outlives ctx: once the old container
// is down, a caller that disconnects must not stop it coming back.
func (c *Controller) compensate(ctx context.Context, fn func(context.Context) error) error {
	return c.call(context.WithoutCancel(ctx), fn)
}

func (c *Controller) logger(ctx context.Context, appID string) *slog.Logger {
	return observability.WithTrace(ctx).With("app_id", appID)
}
