package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
)

// EngineAPI is the subset of the docker engine client the engine backend uses.
type EngineAPI interface {
	DistributionInspect(ctx context.Context, imageRef, encodedRegistryAuth string) (dockerregistry.DistributionInspect, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
}

// Engine drives a docker daemon over its API instead of the CLI. It shares
// the docker CLI backend's single-platform limitation for multi-arch images.
type Engine struct {
	repo     name.Repository
	api      EngineAPI
	keychain authn.Keychain
}

// NewEngineFromEnv connects to the daemon named by DOCKER_HOST and friends.
func NewEngineFromEnv(repository string, keychain authn.Keychain) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker engine client: %w", err)
	}
	return NewEngine(repository, cli, keychain)
}

func NewEngine(repository string, api EngineAPI, keychain authn.Keychain) (*Engine, error) {
	repo, err := name.NewRepository(strings.TrimSpace(repository))
	if err != nil {
		return nil, fmt.Errorf("parse repository %q: %w", repository, err)
	}
	if keychain == nil {
		keychain = authn.DefaultKeychain
	}
	return &Engine{repo: repo, api: api, keychain: keychain}, nil
}

func (e *Engine) Describe() string {
	return "engine:" + e.repo.String()
}

func (e *Engine) Resolve(ctx context.Context, tag string) (string, bool, error) {
	auth, err := e.registryAuth()
	if err != nil {
		return "", false, err
	}
	inspect, err := e.api.DistributionInspect(ctx, e.tagRef(tag), auth)
	if err != nil {
		kind := classifyEngine(err)
		switch {
		case errors.Is(kind, ErrDigestNotFound):
			return "", false, nil
		case errors.Is(kind, ErrAuth):
			return "", false, fmt.Errorf("%w: %w", ErrAuth, err)
		default:
			return "", false, fmt.Errorf("%w: %w", ErrResolve, err)
		}
	}
	return inspect.Descriptor.Digest.String(), true, nil
}

func (e *Engine) Pull(ctx context.Context, dgst string) error {
	auth, err := e.registryAuth()
	if err != nil {
		return err
	}
	rc, err := e.api.ImagePull(ctx, e.digestRef(dgst), image.PullOptions{RegistryAuth: auth})
	if err != nil {
		return wrapKind(classifyEngine(err), ErrPull, err)
	}
	if err := drain(rc); err != nil {
		return wrapKind(classifyEngine(err), ErrPull, err)
	}
	return nil
}

func (e *Engine) Push(ctx context.Context, dgst, tag string) error {
	if err := e.api.ImageTag(ctx, e.digestRef(dgst), e.tagRef(tag)); err != nil {
		return fmt.Errorf("%w: tag %s: %w", ErrPush, tag, err)
	}

	auth, err := e.registryAuth()
	if err != nil {
		return err
	}
	rc, err := e.api.ImagePush(ctx, e.tagRef(tag), image.PushOptions{RegistryAuth: auth})
	if err == nil {
		err = drain(rc)
	}
	if err != nil {
		kind := classifyEngine(err)
		if errors.Is(kind, ErrDigestNotFound) {
			kind = nil
		}
		return wrapKind(kind, ErrPush, err)
	}
	return nil
}

// registryAuth encodes keychain credentials in the X-Registry-Auth format.
func (e *Engine) registryAuth() (string, error) {
	authenticator, err := e.keychain.Resolve(e.repo)
	if err != nil {
		return "", fmt.Errorf("%w: resolve credentials: %w", ErrAuth, err)
	}
	cfg, err := authenticator.Authorization()
	if err != nil {
		return "", fmt.Errorf("%w: credentials for %s: %w", ErrAuth, e.repo.RegistryStr(), err)
	}
	encoded, err := dockerregistry.EncodeAuthConfig(dockerregistry.AuthConfig{
		Username:      cfg.Username,
		Password:      cfg.Password,
		Auth:          cfg.Auth,
		IdentityToken: cfg.IdentityToken,
		RegistryToken: cfg.RegistryToken,
		ServerAddress: e.repo.RegistryStr(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode credentials: %w", ErrAuth, err)
	}
	return encoded, nil
}

func (e *Engine) tagRef(tag string) string {
	return e.repo.Name() + ":" + tag
}

func (e *Engine) digestRef(dgst string) string {
	return e.repo.Name() + "@" + dgst
}

// drain consumes a progress stream and surfaces any error message in it.
func drain(rc io.ReadCloser) error {
	defer rc.Close()
	return jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil)
}

func classifyEngine(err error) error {
	switch {
	case cerrdefs.IsNotFound(err):
		return ErrDigestNotFound
	case cerrdefs.IsUnauthorized(err), cerrdefs.IsPermissionDenied(err):
		return ErrAuth
	}
	var jerr *jsonmessage.JSONError
	if errors.As(err, &jerr) {
		return classifyMessage(jerr.Message)
	}
	return classifyMessage(err.Error())
}
