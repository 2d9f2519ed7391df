package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/danmuck/tagstate/internal/testutil/testlog"
	"github.com/danmuck/tagstate/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = "sha256:1111111111111111111111111111111111111111111111111111111111111111"

type scriptedRunner struct {
	calls   []string
	results map[string]tools.Result
	errs    map[string]error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{results: map[string]tools.Result{}, errs: map[string]error{}}
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) (tools.Result, error) {
	line := name + " " + strings.Join(args, " ")
	r.calls = append(r.calls, line)
	// Match on the docker subcommand so tests stay readable.
	key := args[0]
	return r.results[key], r.errs[key]
}

func TestDockerCLIResolve(t *testing.T) {
	testlog.Start(t)
	runner := newScriptedRunner()
	runner.results["buildx"] = tools.Result{Stdout: []byte(testDigest + "\n")}
	d := NewDockerCLI("ghcr.io/acme/app", runner)

	got, found, err := d.Resolve(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, testDigest, got)
	assert.Equal(t, []string{
		"docker buildx imagetools inspect ghcr.io/acme/app:v1 --format {{.Manifest.Digest}}",
	}, runner.calls)
}

func TestDockerCLIResolveMissingTag(t *testing.T) {
	testlog.Start(t)
	runner := newScriptedRunner()
	runner.results["buildx"] = tools.Result{Stderr: []byte("ERROR: ghcr.io/acme/app:v9: not found"), ExitCode: 1}
	runner.errs["buildx"] = errors.New("exit status 1")

	_, found, err := NewDockerCLI("ghcr.io/acme/app", runner).Resolve(context.Background(), "v9")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDockerCLIResolveAuthFailure(t *testing.T) {
	testlog.Start(t)
	runner := newScriptedRunner()
	runner.results["buildx"] = tools.Result{Stderr: []byte("unauthorized: authentication required"), ExitCode: 1}
	runner.errs["buildx"] = errors.New("exit status 1")

	_, _, err := NewDockerCLI("ghcr.io/acme/app", runner).Resolve(context.Background(), "v1")
	require.ErrorIs(t, err, ErrAuth)
}

func TestDockerCLIResolveGarbageOutput(t *testing.T) {
	testlog.Start(t)
	runner := newScriptedRunner()
	runner.results["buildx"] = tools.Result{Stdout: []byte("<no value>\n")}

	_, _, err := NewDockerCLI("ghcr.io/acme/app", runner).Resolve(context.Background(), "v1")
	require.ErrorIs(t, err, ErrResolve)
}

func TestDockerCLIPullThenPush(t *testing.T) {
	testlog.Start(t)
	runner := newScriptedRunner()
	d := NewDockerCLI("ghcr.io/acme/app", runner)

	require.NoError(t, d.Pull(context.Background(), testDigest))
	require.NoError(t, d.Push(context.Background(), testDigest, "v1"))
	assert.Equal(t, []string{
		"docker pull --quiet ghcr.io/acme/app@" + testDigest,
		"docker tag ghcr.io/acme/app@" + testDigest + " ghcr.io/acme/app:v1",
		"docker push --quiet ghcr.io/acme/app:v1",
	}, runner.calls)
}

func TestDockerCLIPullClassification(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		stderr string
		exit   int32
		want   error
	}{
		{stderr: "Error response from daemon: manifest unknown", exit: 1, want: ErrDigestNotFound},
		{stderr: "denied: requested access to the resource is denied", exit: 1, want: ErrAuth},
		{stderr: "net/http: TLS handshake timeout", exit: 1, want: ErrPull},
		{stderr: "", exit: tools.ExitNotFound, want: ErrPull},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s/%d", tc.stderr, tc.exit), func(t *testing.T) {
			runner := newScriptedRunner()
			runner.results["pull"] = tools.Result{Stderr: []byte(tc.stderr), ExitCode: tc.exit}
			runner.errs["pull"] = errors.New("failed")

			err := NewDockerCLI("ghcr.io/acme/app", runner).Pull(context.Background(), testDigest)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDockerCLIPushFailure(t *testing.T) {
	testlog.Start(t)
	runner := newScriptedRunner()
	runner.results["push"] = tools.Result{Stderr: []byte("tag does not exist: ghcr.io/acme/app:v1 not found"), ExitCode: 1}
	runner.errs["push"] = errors.New("exit status 1")

	err := NewDockerCLI("ghcr.io/acme/app", runner).Push(context.Background(), testDigest, "v1")
	require.ErrorIs(t, err, ErrPush)
	assert.False(t, errors.Is(err, ErrDigestNotFound))
}

func TestDockerCLICustomBinary(t *testing.T) {
	testlog.Start(t)
	runner := newScriptedRunner()
	d := NewDockerCLI("ghcr.io/acme/app", runner)
	d.Binary = "podman"

	require.NoError(t, d.Pull(context.Background(), testDigest))
	assert.True(t, strings.HasPrefix(runner.calls[0], "podman pull"))
	assert.Equal(t, "docker-cli:ghcr.io/acme/app", d.Describe())
}
