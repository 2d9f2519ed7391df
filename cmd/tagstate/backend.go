package main

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"

	"github.com/danmuck/tagstate/internal/config"
	"github.com/danmuck/tagstate/internal/registry"
	"github.com/danmuck/tagstate/internal/tools"
)

func newRegistry(cfg config.Config) (registry.Registry, error) {
	switch cfg.Registry.Backend {
	case config.BackendDocker:
		runner, err := newRunner(cfg)
		if err != nil {
			return nil, err
		}
		d := registry.NewDockerCLI(cfg.Registry.Repository, runner)
		d.Binary = cfg.Registry.DockerBinary
		return d, nil
	case config.BackendRemote:
		return registry.NewRemote(registry.RemoteConfig{
			Repository: cfg.Registry.Repository,
			Insecure:   cfg.Registry.Insecure,
			Keychain:   authn.DefaultKeychain,
			UserAgent:  "tagstate/" + version,
		})
	case config.BackendEngine:
		return registry.NewEngineFromEnv(cfg.Registry.Repository, authn.DefaultKeychain)
	default:
		return nil, fmt.Errorf("%w: registry.backend %q", config.ErrInvalidConfig, cfg.Registry.Backend)
	}
}

func newRunner(cfg config.Config) (tools.CommandRunner, error) {
	if cfg.Registry.Runner != config.RunnerSSH {
		return tools.ExecRunner{}, nil
	}
	timeout, err := cfg.SSH.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	return tools.SSHRunner{
		Host:                        cfg.SSH.Host,
		Port:                        cfg.SSH.Port,
		User:                        cfg.SSH.User,
		KeyPath:                     cfg.SSH.KeyPath,
		KnownHostsPath:              cfg.SSH.KnownHostsPath,
		InsecureSkipHostKeyChecking: cfg.SSH.InsecureSkipHostKeyChecking,
		Timeout:                     timeout,
	}, nil
}
