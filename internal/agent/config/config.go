// Package config assembles the agent configuration from defaults, an
// optional YAML file and environment variables, in that order.
//
// Secrets (tokens, passwords) are only read from the environment; the file
// schema rejects them.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/funai-studio/runtime-agent/common/environment"
	"github.com/funai-studio/runtime-agent/internal/agent/registry"
)

// FileEnv names the variable pointing at the optional YAML file.
const FileEnv = "RUNTIME_AGENT_CONFIG"

// placeholderToken is shipped in example unit files and means "not set".
const placeholderToken = "CHANGE_ME"

// Config is the complete agent configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Node     NodeConfig     `yaml:"node"`
	Deploy   DeployConfig   `yaml:"deploy"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Registry RegistryConfig `yaml:"registry"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Audit    AuditConfig    `yaml:"audit"`
	Matrix   MatrixConfig   `yaml:"matrix"`
	Log      LogConfig      `yaml:"log"`

	// AgentToken authenticates inbound requests (X-Runtime-Token).
	AgentToken string `yaml:"-"`
}

type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr is host:port.
func (l ListenConfig) Addr() string { return fmt.Sprintf("%s:%d", l.Host, l.Port) }

type NodeConfig struct {
	Name           string `yaml:"name"`
	AgentBaseURL   string `yaml:"agentBaseUrl"`
	GatewayBaseURL string `yaml:"gatewayBaseUrl"`
	DiskPath       string `yaml:"diskPath"`
}

type DeployConfig struct {
	BaseURL           string        `yaml:"baseUrl"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	NodeToken         string        `yaml:"-"`
	SharedToken       string        `yaml:"-"`
}

type RuntimeConfig struct {
	DockerBin      string        `yaml:"dockerBin"`
	Network        string        `yaml:"network"`
	RoutingEnabled bool          `yaml:"routingEnabled"`
	ContainerPort  int           `yaml:"containerPort"`
	PullTimeout    time.Duration `yaml:"pullTimeout"`
	LoginTimeout   time.Duration `yaml:"loginTimeout"`
	OpTimeout      time.Duration `yaml:"opTimeout"`
}

type RegistryConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"-"`
}

// Credentials returns the registry credentials; empty when no URL is set.
func (r RegistryConfig) Credentials() registry.Credentials {
	if r.URL == "" {
		return registry.Credentials{}
	}
	return registry.Credentials{URL: r.URL, Username: r.Username, Secret: r.Password}
}

type MongoConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"-"`
	AuthSource string `yaml:"authSource"`
}

type CleanupConfig struct {
	DryRun            bool          `yaml:"dryRun"`
	Concurrency       int           `yaml:"concurrency"`
	AllowEmptyLiveSet bool          `yaml:"allowEmptyLiveSet"`
	// Interval makes the cleanup command loop; zero runs once.
	Interval          time.Duration `yaml:"interval"`
}

type AuditConfig struct {
	DBPath string `yaml:"dbPath"`
}

type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"userId"`
	AuditRoom   string `yaml:"auditRoom"`
	AccessToken string `yaml:"-"`
}

// Enabled reports whether room notices can be sent.
func (m MatrixConfig) Enabled() bool {
	return m.Homeserver != "" && m.AccessToken != "" && m.AuditRoom != ""
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Listen: ListenConfig{Host: "0.0.0.0", Port: 7005},
		Node:   NodeConfig{Name: "rt-node-01"},
		Deploy: DeployConfig{HeartbeatInterval: 60 * time.Second},
		Runtime: RuntimeConfig{
			DockerBin:      "docker",
			Network:        "funai-runtime",
			RoutingEnabled: true,
			ContainerPort:  3000,
			PullTimeout:    5 * time.Minute,
			LoginTimeout:   60 * time.Second,
			OpTimeout:      60 * time.Second,
		},
		Mongo:   MongoConfig{Port: 27017, AuthSource: "admin"},
		Cleanup: CleanupConfig{Concurrency: 2},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the file named by
// RUNTIME_AGENT_CONFIG (if any), then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path, ok := environment.Lookup(FileEnv); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := applyFile(&cfg, data); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Listen.Host = environment.StringOr("RUNTIME_AGENT_HOST", cfg.Listen.Host)
	cfg.Listen.Port = environment.IntOr("RUNTIME_AGENT_PORT", cfg.Listen.Port)
	cfg.AgentToken = environment.StringOr("RUNTIME_AGENT_TOKEN", "")
	if cfg.AgentToken == placeholderToken {
		cfg.AgentToken = ""
	}

	cfg.Node.Name = environment.StringOr("RUNTIME_NODE_NAME", cfg.Node.Name)
	cfg.Node.AgentBaseURL = environment.StringOr("RUNTIME_NODE_AGENT_BASE_URL", cfg.Node.AgentBaseURL)
	cfg.Node.GatewayBaseURL = environment.StringOr("RUNTIME_NODE_GATEWAY_BASE_URL", cfg.Node.GatewayBaseURL)
	cfg.Node.DiskPath = environment.StringOr("RUNTIME_DATA_DIR", cfg.Node.DiskPath)

	cfg.Deploy.BaseURL = strings.TrimRight(environment.StringOr("DEPLOY_BASE_URL", cfg.Deploy.BaseURL), "/")
	cfg.Deploy.NodeToken = environment.StringOr("DEPLOY_NODE_TOKEN", "")
	cfg.Deploy.SharedToken = environment.StringOr("DEPLOY_SHARED_TOKEN", cfg.AgentToken)
	cfg.Deploy.HeartbeatInterval = environment.DurationOr("DEPLOY_HEARTBEAT_SECONDS", cfg.Deploy.HeartbeatInterval)

	cfg.Runtime.DockerBin = environment.StringOr("RUNTIME_DOCKER_BIN", cfg.Runtime.DockerBin)
	cfg.Runtime.Network = environment.StringOr("RUNTIME_DOCKER_NETWORK", cfg.Runtime.Network)
	cfg.Runtime.RoutingEnabled = environment.BoolOr("RUNTIME_TRAEFIK_ENABLE", cfg.Runtime.RoutingEnabled)
	cfg.Runtime.ContainerPort = environment.IntOr("RUNTIME_CONTAINER_PORT", cfg.Runtime.ContainerPort)
	cfg.Runtime.PullTimeout = environment.DurationOr("RUNTIME_PULL_TIMEOUT", cfg.Runtime.PullTimeout)
	cfg.Runtime.LoginTimeout = environment.DurationOr("RUNTIME_LOGIN_TIMEOUT", cfg.Runtime.LoginTimeout)
	cfg.Runtime.OpTimeout = environment.DurationOr("RUNTIME_OP_TIMEOUT", cfg.Runtime.OpTimeout)

	cfg.Registry.URL = environment.StringOr("RUNTIME_REGISTRY_URL", cfg.Registry.URL)
	cfg.Registry.Username = environment.StringOr("RUNTIME_REGISTRY_USERNAME", cfg.Registry.Username)
	cfg.Registry.Password = environment.StringOr("RUNTIME_REGISTRY_PASSWORD", "")

	cfg.Mongo.Host = environment.StringOr("RUNTIME_MONGO_HOST", cfg.Mongo.Host)
	cfg.Mongo.Port = environment.IntOr("RUNTIME_MONGO_PORT", cfg.Mongo.Port)
	cfg.Mongo.Username = environment.StringOr("RUNTIME_MONGO_USERNAME", cfg.Mongo.Username)
	cfg.Mongo.Password = environment.StringOr("RUNTIME_MONGO_PASSWORD", "")
	cfg.Mongo.AuthSource = environment.StringOr("RUNTIME_MONGO_AUTH_SOURCE", cfg.Mongo.AuthSource)

	cfg.Cleanup.DryRun = environment.BoolOr("CLEANUP_DRY_RUN", cfg.Cleanup.DryRun)
	cfg.Cleanup.Concurrency = environment.IntOr("CLEANUP_CONCURRENCY", cfg.Cleanup.Concurrency)
	cfg.Cleanup.AllowEmptyLiveSet = environment.BoolOr("CLEANUP_ALLOW_EMPTY_LIVE_SET", cfg.Cleanup.AllowEmptyLiveSet)
	cfg.Cleanup.Interval = environment.DurationOr("CLEANUP_INTERVAL", cfg.Cleanup.Interval)

	cfg.Audit.DBPath = environment.StringOr("AUDIT_DB_PATH", cfg.Audit.DBPath)

	cfg.Matrix.Homeserver = environment.StringOr("MATRIX_HOMESERVER", cfg.Matrix.Homeserver)
	cfg.Matrix.UserID = environment.StringOr("MATRIX_USER_ID", cfg.Matrix.UserID)
	cfg.Matrix.AccessToken = environment.StringOr("MATRIX_ACCESS_TOKEN", "")
	cfg.Matrix.AuditRoom = environment.StringOr("MATRIX_AUDIT_ROOM", cfg.Matrix.AuditRoom)

	cfg.Log.Level = strings.ToLower(environment.StringOr("LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(environment.StringOr("LOG_FORMAT", cfg.Log.Format))
}

// Mode selects which settings Validate requires.
type Mode int

const (
	// ModeServe runs the HTTP agent.
	ModeServe Mode = iota
	// ModeCleanup runs the orphan reconciler.
	ModeCleanup
)

// HeartbeatEnabled reports whether every heartbeat setting is present.
func (c Config) HeartbeatEnabled() bool {
	return c.Deploy.BaseURL != "" && c.Deploy.NodeToken != "" &&
		c.Node.AgentBaseURL != "" && c.Node.GatewayBaseURL != ""
}

// CleanupEnabled reports whether the reconciler can run.
func (c Config) CleanupEnabled() bool {
	return c.Deploy.BaseURL != "" && c.Mongo.Host != ""
}

// Validate reports every setting that prevents running in mode.
func (c Config) Validate(mode Mode) error {
	var errs []error
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("RUNTIME_AGENT_PORT %d out of range", c.Listen.Port))
	}
	if c.Runtime.ContainerPort < 1 || c.Runtime.ContainerPort > 65535 {
		errs = append(errs, fmt.Errorf("RUNTIME_CONTAINER_PORT %d out of range", c.Runtime.ContainerPort))
	}
	if c.Cleanup.Concurrency < 1 {
		errs = append(errs, errors.New("CLEANUP_CONCURRENCY must be at least 1"))
	}
	if c.Deploy.BaseURL != "" {
		if u, err := url.Parse(c.Deploy.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("DEPLOY_BASE_URL %q is not an absolute URL", c.Deploy.BaseURL))
		}
	}
	if c.Registry.URL != "" && (c.Registry.Username == "" || c.Registry.Password == "") {
		errs = append(errs, errors.New("RUNTIME_REGISTRY_URL is set but RUNTIME_REGISTRY_USERNAME or RUNTIME_REGISTRY_PASSWORD is missing"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.Log.Level))
	}

	switch mode {
	case ModeServe:
		if c.AgentToken == "" {
			errs = append(errs, errors.New("RUNTIME_AGENT_TOKEN is required"))
		}
	case ModeCleanup:
		if c.Deploy.BaseURL == "" {
			errs = append(errs, errors.New("DEPLOY_BASE_URL is required for cleanup"))
		}
		if c.Mongo.Host == "" {
			errs = append(errs, errors.New("RUNTIME_MONGO_HOST is required for cleanup"))
		}
		if c.Deploy.SharedToken == "" {
			errs = append(errs, errors.New("DEPLOY_SHARED_TOKEN or RUNTIME_AGENT_TOKEN is required for cleanup"))
		}
	}
	return errors.Join(errs...)
}
