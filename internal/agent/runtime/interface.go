package runtime

import (
	"context"

	"github.com/funai-studio/runtime-agent/internal/agent/registry"
)

// Runtime abstracts the container engine. Implementations must map their
// backend's not-found and conflict signals onto ErrNotFound and
// ErrAlreadyExists.
type Runtime interface {
	// NetworkExists reports whether the named network exists.
	NetworkExists(ctx context.Context, name string) (bool, error)

	// CreateNetwork creates a network. Returns ErrAlreadyExists if another
	// caller created it first.
	CreateNetwork(ctx context.Context, name string) error

	// Inspect returns the container with the given name or ID, or
	// ErrNotFound.
	Inspect(ctx context.Context, nameOrID string) (ContainerInfo, error)

	// Create creates (but does not start) a container and returns its ID.
	// Returns ErrAlreadyExists when the name is taken.
	Create(ctx context.Context, spec ContainerSpec) (string, error)

	// Start starts a created or stopped container.
	Start(ctx context.Context, nameOrID string) error

	// Stop stops a container gracefully. Stopping a stopped container is
	// not an error; a missing one returns ErrNotFound.
	Stop(ctx context.Context, nameOrID string) error

	// Remove force-removes a container, or returns ErrNotFound.
	Remove(ctx context.Context, nameOrID string) error

	// Rename renames a container.
	Rename(ctx context.Context, nameOrID, newName string) error

	// List returns every container carrying the manager label.
	List(ctx context.Context) ([]ContainerInfo, error)
}

// ImageSource logs into the registry and pulls images.
type ImageSource interface {
	EnsureLogin(ctx context.Context, creds registry.Credentials) registry.LoginResult
	Pull(ctx context.Context, image string) error
}
