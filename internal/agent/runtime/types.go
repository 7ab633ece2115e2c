// Package runtime manages the lifecycle of user application containers on
// this node.
package runtime

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AppState is the externally reported state of an application's container.
type AppState string

const (
	StateAbsent   AppState = "absent"
	StateStarting AppState = "starting"
	StateRunning  AppState = "running"
	StateStopped  AppState = "stopped"
	StateFailed   AppState = "failed"
)

// Boundary errors. Runtime implementations translate their backend's
// "not found" / "already exists" signals into these so the Controller never
// inspects error text.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

const (
	// LabelManagedBy marks containers this agent owns.
	LabelManagedBy = "funai.managed-by"
	LabelAppID     = "funai.app-id"
	LabelUserID    = "funai.user-id"
	ManagedByValue = "rtagent"

	// DefaultNetwork is the shared network application containers join.
	DefaultNetwork = "funai-runtime"
	// DefaultContainerPort is the port the application serves HTTP on.
	DefaultContainerPort = 3000

	containerPrefix = "rt-app-"
	previousSuffix  = "-previous"
)

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Name          string
	Image         string
	Network       string
	Labels        map[string]string
	Env           map[string]string
	RestartPolicy string
}

// ContainerInfo is what the runtime reports about one container.
type ContainerInfo struct {
	ID     string
	Name   string
	Image  string
	AppID  string
	Labels map[string]string
	// State is the backend's raw state (running, exited, created, ...).
	State     string
	ExitCode  int
	Error     string
	StartedAt time.Time
}

// AppState maps the raw container state onto the lifecycle states.
func (c ContainerInfo) AppState() AppState {
	switch strings.ToLower(c.State) {
	case "running":
		return StateRunning
	case "created":
		// A container whose start was refused stays created with an error.
		if c.ExitCode != 0 || c.Error != "" {
			return StateFailed
		}
		return StateStarting
	case "restarting":
		return StateStarting
	case "exited":
		if c.ExitCode != 0 || c.Error != "" {
			return StateFailed
		}
		return StateStopped
	case "paused", "stopped", "removing":
		return StateStopped
	case "dead":
		return StateFailed
	default:
		return StateFailed
	}
}

// ContainerNameFor returns the deterministic container name for an app.
func ContainerNameFor(appID string) string {
	return containerPrefix + appID
}

// previousNameFor is where the old container waits during a redeploy.
func previousNameFor(appID string) string {
	return containerPrefix + appID + previousSuffix
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateAppID rejects IDs that cannot form a container name or a
// routing prefix.
func ValidateAppID(appID string) error {
	if !validID.MatchString(appID) {
		return fmt.Errorf("invalid appId %q", appID)
	}
	if strings.HasSuffix(appID, previousSuffix) {
		return fmt.Errorf("invalid appId %q: reserved suffix", appID)
	}
	return nil
}

// ValidateUserID rejects empty or unsafe user IDs.
func ValidateUserID(userID string) error {
	if !validID.MatchString(userID) {
		return fmt.Errorf("invalid userId %q", userID)
	}
	return nil
}

// Step names the deploy stage that failed.
type Step string

const (
	StepValidate Step = "validate"
	StepNetwork  Step = "network"
	StepPull     Step = "pull"
	StepReplace  Step = "replace"
	StepStart    Step = "start"
)

// DeployError is returned by Controller.Deploy. It never carries secrets.
type DeployError struct {
	AppID string
	Step  Step
	Err   error
	// RolledBack is true when the previous container was restored after a
	// failed start.
	RolledBack bool
}

func (e *DeployError) Error() string {
	msg := fmt.Sprintf("deploy %s: %s: %v", e.AppID, e.Code(), e.Err)
	if e.RolledBack {
		msg += " (previous container restored)"
	}
	return msg
}

func (e *DeployError) Unwrap() error { return e.Err }

// Code is the stable machine-readable failure kind, e.g. "pull-failed".
func (e *DeployError) Code() string {
	return string(e.Step) + "-failed"
}
