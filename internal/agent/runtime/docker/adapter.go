// Package docker provides a Docker Engine runtime adapter for application
// containers.
package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"

	"github.com/funai-studio/runtime-agent/internal/agent/runtime"
)

// stopTimeout is how long to wait for graceful container stop before SIGKILL.
const stopTimeout = 10 * time.Second

// Adapter implements runtime.Runtime using the Docker Engine API.
type Adapter struct {
	client *dockerclient.Client
}

// New creates a new Docker runtime adapter.
// Uses the DOCKER_HOST env var or the default socket path.
func New() (*Adapter, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Adapter{client: cli}, nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error { return a.client.Close() }

// Ping checks that the daemon is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

// NetworkExists reports whether a network with exactly this name exists.
func (a *Adapter) NetworkExists(ctx context.Context, name string) (bool, error) {
	nets, err := a.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return false, fmt.Errorf("list networks: %w", err)
	}
	// The name filter is a substring match.
	for _, n := range nets {
		if n.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// CreateNetwork creates an attachable bridge network.
func (a *Adapter) CreateNetwork(ctx context.Context, name string) error {
	_, err := a.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver:     "bridge",
		Attachable: true,
		Labels:     map[string]string{runtime.LabelManagedBy: runtime.ManagedByValue},
	})
	if err != nil {
		return classify(fmt.Errorf("create network %q: %w", name, err), err)
	}
	return nil
}

// Inspect returns the container with the given name or ID.
func (a *Adapter) Inspect(ctx context.Context, nameOrID string) (runtime.ContainerInfo, error) {
	inspect, err := a.client.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return runtime.ContainerInfo{}, classify(fmt.Errorf("inspect container %s: %w", nameOrID, err), err)
	}
	return infoFromInspect(inspect), nil
}

// Create creates a container attached to spec.Network.
func (a *Adapter) Create(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	if spec.Image == "" {
		return "", fmt.Errorf("spec.Image is required")
	}

	containerCfg := &container.Config{
		Image:  spec.Image,
		Env:    envList(spec.Env),
		Labels: spec.Labels,
	}

	restart := spec.RestartPolicy
	if restart == "" {
		restart = "always"
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(restart)},
	}

	var networkCfg *network.NetworkingConfig
	if spec.Network != "" {
		networkCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, spec.Name)
	if err != nil {
		return "", classify(fmt.Errorf("create container %s: %w", spec.Name, err), err)
	}
	return resp.ID, nil
}

// Start starts a container.
func (a *Adapter) Start(ctx context.Context, nameOrID string) error {
	if err := a.client.ContainerStart(ctx, nameOrID, container.StartOptions{}); err != nil {
		return classify(fmt.Errorf("start container %s: %w", nameOrID, err), err)
	}
	return nil
}

// Stop gracefully stops the container.
func (a *Adapter) Stop(ctx context.Context, nameOrID string) error {
	timeout := int(stopTimeout.Seconds())
	if err := a.client.ContainerStop(ctx, nameOrID, container.StopOptions{Timeout: &timeout}); err != nil {
		return classify(fmt.Errorf("stop container %s: %w", nameOrID, err), err)
	}
	return nil
}

// Remove force-removes the container. Volumes are kept.
func (a *Adapter) Remove(ctx context.Context, nameOrID string) error {
	if err := a.client.ContainerRemove(ctx, nameOrID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: false,
	}); err != nil {
		return classify(fmt.Errorf("remove container %s: %w", nameOrID, err), err)
	}
	return nil
}

// Rename renames the container.
func (a *Adapter) Rename(ctx context.Context, nameOrID, newName string) error {
	if err := a.client.ContainerRename(ctx, nameOrID, newName); err != nil {
		return classify(fmt.Errorf("rename container %s to %s: %w", nameOrID, newName, err), err)
	}
	return nil
}

// List returns all managed containers, running or not.
func (a *Adapter) List(ctx context.Context) ([]runtime.ContainerInfo, error) {
	containers, err := a.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", runtime.LabelManagedBy+"="+runtime.ManagedByValue),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]runtime.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, runtime.ContainerInfo{
			ID:     c.ID,
			Name:   name,
			Image:  c.Image,
			AppID:  c.Labels[runtime.LabelAppID],
			Labels: c.Labels,
			State:  string(c.State),
		})
	}
	return out, nil
}

// --- helpers ---

// classify maps Docker's typed errors onto the runtime boundary errors,
// keeping wrapped as the message.
func classify(wrapped, cause error) error {
	switch {
	case errdefs.IsNotFound(cause):
		return fmt.Errorf("%w: %v", runtime.ErrNotFound, wrapped)
	case errdefs.IsConflict(cause):
		return fmt.Errorf("%w: %v", runtime.ErrAlreadyExists, wrapped)
	default:
		return wrapped
	}
}

func infoFromInspect(inspect container.InspectResponse) runtime.ContainerInfo {
	info := runtime.ContainerInfo{
		ID:   inspect.ID,
		Name: strings.TrimPrefix(inspect.Name, "/"),
	}
	if inspect.Config != nil {
		info.Image = inspect.Config.Image
		info.Labels = inspect.Config.Labels
		info.AppID = inspect.Config.Labels[runtime.LabelAppID]
	}
	if inspect.State != nil {
		info.State = string(inspect.State.Status)
		info.ExitCode = inspect.State.ExitCode
		info.Error = inspect.State.Error
		info.StartedAt, _ = time.Parse(time.RFC3339Nano, inspect.State.StartedAt)
	}
	return info
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
