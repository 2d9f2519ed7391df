package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/tagstate/internal/tools"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog/log"
)

// DefaultDockerBinary is the docker CLI invoked when none is configured.
const DefaultDockerBinary = "docker"

// DockerCLI drives the docker CLI, locally or on a remote host, using the
// caller's existing docker login session for authentication.
//
// A pull by index digest keeps only the daemon's platform, so pushing a
// multi-arch image republishes a single-platform manifest under the tag. The
// tag then never resolves to the desired index digest and every run plans it
// again. Use the remote backend for multi-arch images.
type DockerCLI struct {
	Repository string
	Binary     string
	Runner     tools.CommandRunner
}

func NewDockerCLI(repository string, runner tools.CommandRunner) *DockerCLI {
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &DockerCLI{
		Repository: strings.TrimSpace(repository),
		Binary:     DefaultDockerBinary,
		Runner:     runner,
	}
}

func (d *DockerCLI) Describe() string {
	return "docker-cli:" + d.Repository
}

func (d *DockerCLI) Resolve(ctx context.Context, tag string) (string, bool, error) {
	res, err := d.run(ctx, "buildx", "imagetools", "inspect", d.tagRef(tag), "--format", "{{.Manifest.Digest}}")
	if err != nil {
		kind := classifyCommand(err)
		switch {
		case errors.Is(kind, ErrDigestNotFound):
			return "", false, nil
		case errors.Is(kind, ErrAuth):
			return "", false, fmt.Errorf("%w: %w", ErrAuth, err)
		default:
			return "", false, fmt.Errorf("%w: %w", ErrResolve, err)
		}
	}

	out := strings.TrimSpace(string(res.Stdout))
	if _, err := digest.Parse(out); err != nil {
		return "", false, fmt.Errorf("%w: unexpected inspect output %q for %s", ErrResolve, out, tag)
	}
	return out, true, nil
}

func (d *DockerCLI) Pull(ctx context.Context, dgst string) error {
	if _, err := d.run(ctx, "pull", "--quiet", d.digestRef(dgst)); err != nil {
		return wrapKind(classifyCommand(err), ErrPull, err)
	}
	return nil
}

func (d *DockerCLI) Push(ctx context.Context, dgst, tag string) error {
	if _, err := d.run(ctx, "tag", d.digestRef(dgst), d.tagRef(tag)); err != nil {
		return fmt.Errorf("%w: %w", ErrPush, err)
	}
	if _, err := d.run(ctx, "push", "--quiet", d.tagRef(tag)); err != nil {
		kind := classifyCommand(err)
		if errors.Is(kind, ErrDigestNotFound) {
			kind = nil
		}
		return wrapKind(kind, ErrPush, err)
	}
	return nil
}

func (d *DockerCLI) tagRef(tag string) string {
	return d.Repository + ":" + tag
}

func (d *DockerCLI) digestRef(dgst string) string {
	return d.Repository + "@" + dgst
}

func (d *DockerCLI) run(ctx context.Context, args ...string) (tools.Result, error) {
	bin := d.Binary
	if bin == "" {
		bin = DefaultDockerBinary
	}
	log.Debug().Str("cmd", bin).Strs("args", args).Msg("docker_exec")
	return tools.RunChecked(ctx, d.Runner, bin, args...)
}

func classifyCommand(err error) error {
	var cmdErr *tools.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Result.ExitCode == tools.ExitNotFound {
			return nil
		}
		return classifyMessage(cmdErr.Stderr() + "\n" + string(cmdErr.Result.Stdout))
	}
	return nil
}

// wrapKind wraps err with the classified kind, or with fallback when unclassified.
func wrapKind(kind, fallback, err error) error {
	if kind == nil {
		kind = fallback
	}
	return fmt.Errorf("%w: %w", kind, err)
}
