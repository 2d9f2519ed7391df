// Package config loads tagstate settings: defaults, then a TOML file, then
// TAGSTATE_* environment variables. Command-line flags are applied by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/google/go-containerregistry/pkg/name"
	gotoml "github.com/pelletier/go-toml/v2"

	"github.com/danmuck/tagstate/internal/buildlog"
	"github.com/danmuck/tagstate/internal/reconcile"
)

const EnvPrefix = "TAGSTATE_"

var ErrInvalidConfig = errors.New("invalid config")

const (
	BackendDocker = "docker"
	BackendRemote = "remote"
	BackendEngine = "engine"

	RunnerLocal = "local"
	RunnerSSH   = "ssh"
)

type Config struct {
	Registry  RegistryConfig  `toml:"registry" envPrefix:"REGISTRY_"`
	BuildLog  BuildLogConfig  `toml:"buildlog" envPrefix:"BUILDLOG_"`
	Reconcile ReconcileConfig `toml:"reconcile" envPrefix:"RECONCILE_"`
	SSH       SSHConfig       `toml:"ssh" envPrefix:"SSH_"`
	Server    ServerConfig    `toml:"server" envPrefix:"SERVER_"`
	Metrics   MetricsConfig   `toml:"metrics" envPrefix:"METRICS_"`
}

type RegistryConfig struct {
	Repository   string `toml:"repository" env:"REPOSITORY"`
	Backend      string `toml:"backend" env:"BACKEND"`
	DockerBinary string `toml:"docker_binary" env:"DOCKER_BINARY"`
	// Runner selects where docker commands execute: local or ssh.
	Runner   string `toml:"runner" env:"RUNNER"`
	Insecure bool   `toml:"insecure" env:"INSECURE"`
}

type BuildLogConfig struct {
	Path            string `toml:"path" env:"PATH"`
	Order           string `toml:"order" env:"ORDER"`
	ValidateDigests bool   `toml:"validate_digests" env:"VALIDATE_DIGESTS"`
	SkipInvalid     bool   `toml:"skip_invalid" env:"SKIP_INVALID"`
}

type ReconcileConfig struct {
	OnFailure   string `toml:"on_failure" env:"ON_FAILURE"`
	Concurrency int    `toml:"concurrency" env:"CONCURRENCY"`
	DryRun      bool   `toml:"dry_run" env:"DRY_RUN"`
	Format      string `toml:"format" env:"FORMAT"`
	Report      string `toml:"report" env:"REPORT"`
}

type SSHConfig struct {
	Host                        string `toml:"host" env:"HOST"`
	Port                        string `toml:"port" env:"PORT"`
	User                        string `toml:"user" env:"USER"`
	KeyPath                     string `toml:"key_path" env:"KEY_PATH"`
	KnownHostsPath              string `toml:"known_hosts_path" env:"KNOWN_HOSTS_PATH"`
	InsecureSkipHostKeyChecking bool   `toml:"insecure_skip_host_key_checking" env:"INSECURE_SKIP_HOST_KEY_CHECKING"`
	Timeout                     string `toml:"timeout" env:"TIMEOUT"`
}

type ServerConfig struct {
	Addr        string   `toml:"addr" env:"ADDR"`
	Token       string   `toml:"token" env:"TOKEN"`
	CorsOrigins []string `toml:"cors_origins" env:"CORS_ORIGINS"`
}

type MetricsConfig struct {
	Textfile string `toml:"textfile" env:"TEXTFILE"`
}

func Default() Config {
	return Config{
		Registry: RegistryConfig{
			Backend:      BackendDocker,
			DockerBinary: "docker",
			Runner:       RunnerLocal,
		},
		BuildLog: BuildLogConfig{
			Order: string(buildlog.OrderLog),
		},
		Reconcile: ReconcileConfig{
			OnFailure:   string(reconcile.PolicyContinue),
			Concurrency: 4,
			Format:      string(reconcile.FormatText),
		},
		SSH: SSHConfig{
			Port:    "22",
			Timeout: "10s",
		},
		Server: ServerConfig{
			Addr:        ":9300",
			CorsOrigins: []string{},
		},
	}
}

// Load returns defaults overlaid by path (when non-empty) and then the
// environment. Unknown keys in the file are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overlays TAGSTATE_* variables onto cfg. Unset variables leave fields alone.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config env parse failed: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Registry.Repository = strings.TrimSpace(c.Registry.Repository)
	c.Registry.Backend = strings.ToLower(strings.TrimSpace(c.Registry.Backend))
	c.Registry.Runner = strings.ToLower(strings.TrimSpace(c.Registry.Runner))
	c.Server.CorsOrigins = normalizeList(c.Server.CorsOrigins)
}

// Validate checks everything except the repository, which only commands
// that talk to a registry need. See ValidateRegistry.
func (c Config) Validate() error {
	switch c.Registry.Backend {
	case BackendDocker, BackendRemote, BackendEngine:
	default:
		return fmt.Errorf("%w: registry.backend %q (want docker|remote|engine)", ErrInvalidConfig, c.Registry.Backend)
	}
	switch c.Registry.Runner {
	case RunnerLocal:
	case RunnerSSH:
		if c.Registry.Backend != BackendDocker {
			return fmt.Errorf("%w: registry.runner ssh requires the docker backend", ErrInvalidConfig)
		}
		if strings.TrimSpace(c.SSH.Host) == "" {
			return fmt.Errorf("%w: ssh.host is required when registry.runner is ssh", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: registry.runner %q (want local|ssh)", ErrInvalidConfig, c.Registry.Runner)
	}
	if c.Registry.Backend == BackendDocker && strings.TrimSpace(c.Registry.DockerBinary) == "" {
		return fmt.Errorf("%w: registry.docker_binary is empty", ErrInvalidConfig)
	}
	if _, err := buildlog.ParseOrder(c.BuildLog.Order); err != nil {
		return fmt.Errorf("%w: buildlog.order: %w", ErrInvalidConfig, err)
	}
	if _, err := reconcile.ParsePolicy(c.Reconcile.OnFailure); err != nil {
		return fmt.Errorf("%w: reconcile.on_failure: %w", ErrInvalidConfig, err)
	}
	if _, err := reconcile.ParseFormat(c.Reconcile.Format); err != nil {
		return fmt.Errorf("%w: reconcile.format: %w", ErrInvalidConfig, err)
	}
	if c.Reconcile.Concurrency < 1 {
		return fmt.Errorf("%w: reconcile.concurrency must be >= 1", ErrInvalidConfig)
	}
	if _, err := c.SSH.TimeoutDuration(); err != nil {
		return fmt.Errorf("%w: ssh.timeout: %w", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalidConfig)
	}
	return nil
}

// ValidateRegistry checks that the repository is set and parses as a reference.
func (c Config) ValidateRegistry() error {
	if c.Registry.Repository == "" {
		return fmt.Errorf("%w: registry.repository is required", ErrInvalidConfig)
	}
	opts := []name.Option{}
	if c.Registry.Insecure {
		opts = append(opts, name.Insecure)
	}
	if _, err := name.NewRepository(c.Registry.Repository, opts...); err != nil {
		return fmt.Errorf("%w: registry.repository: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (s SSHConfig) TimeoutDuration() (time.Duration, error) {
	raw := strings.TrimSpace(s.Timeout)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	return gotoml.Marshal(cfg)
}

// WriteTemplate writes the default configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	data, err := Encode(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
