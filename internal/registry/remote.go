package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/opencontainers/go-digest"
)

// RemoteConfig configures the native registry API backend.
type RemoteConfig struct {
	Repository string
	Insecure   bool
	// Keychain defaults to the docker config / credential helper keychain.
	Keychain  authn.Keychain
	Transport http.RoundTripper
	UserAgent string
}

// Remote talks to the registry HTTP API directly. Pulled manifests are held
// in memory; no layer bytes are downloaded since tagging only needs the manifest.
type Remote struct {
	repo    name.Repository
	options []remote.Option

	mu      sync.Mutex
	scratch map[string]*remote.Descriptor
}

func NewRemote(cfg RemoteConfig) (*Remote, error) {
	var nameOpts []name.Option
	if cfg.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	repo, err := name.NewRepository(strings.TrimSpace(cfg.Repository), nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("parse repository %q: %w", cfg.Repository, err)
	}

	keychain := cfg.Keychain
	if keychain == nil {
		keychain = authn.DefaultKeychain
	}
	opts := []remote.Option{remote.WithAuthFromKeychain(keychain)}
	if cfg.Transport != nil {
		opts = append(opts, remote.WithTransport(cfg.Transport))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, remote.WithUserAgent(cfg.UserAgent))
	}

	return &Remote{
		repo:    repo,
		options: opts,
		scratch: make(map[string]*remote.Descriptor),
	}, nil
}

func (r *Remote) Describe() string {
	return "remote:" + r.repo.String()
}

func (r *Remote) Resolve(ctx context.Context, tag string) (string, bool, error) {
	desc, err := remote.Head(r.repo.Tag(tag), r.opts(ctx)...)
	if err != nil {
		kind := classifyTransport(err)
		switch {
		case errors.Is(kind, ErrDigestNotFound):
			return "", false, nil
		case errors.Is(kind, ErrAuth):
			return "", false, fmt.Errorf("%w: %w", ErrAuth, err)
		default:
			return "", false, fmt.Errorf("%w: %w", ErrResolve, err)
		}
	}
	return desc.Digest.String(), true, nil
}

func (r *Remote) List(ctx context.Context) ([]string, error) {
	tags, err := remote.List(r.repo, r.opts(ctx)...)
	if err != nil {
		if errors.Is(classifyTransport(err), ErrDigestNotFound) {
			return nil, nil
		}
		return nil, wrapKind(classifyTransport(err), ErrResolve, err)
	}
	return tags, nil
}

func (r *Remote) Pull(ctx context.Context, dgst string) error {
	if _, err := digest.Parse(dgst); err != nil {
		return fmt.Errorf("%w: invalid digest %q: %w", ErrDigestNotFound, dgst, err)
	}
	desc, err := remote.Get(r.repo.Digest(dgst), r.opts(ctx)...)
	if err != nil {
		return wrapKind(classifyTransport(err), ErrPull, err)
	}

	r.mu.Lock()
	r.scratch[dgst] = desc
	r.mu.Unlock()
	return nil
}

func (r *Remote) Push(ctx context.Context, dgst, tag string) error {
	r.mu.Lock()
	desc, ok := r.scratch[dgst]
	r.mu.Unlock()
	if !ok {
		if err := r.Pull(ctx, dgst); err != nil {
			return err
		}
		r.mu.Lock()
		desc = r.scratch[dgst]
		r.mu.Unlock()
	}

	if err := remote.Tag(r.repo.Tag(tag), desc, r.opts(ctx)...); err != nil {
		kind := classifyTransport(err)
		if errors.Is(kind, ErrDigestNotFound) {
			kind = nil
		}
		return wrapKind(kind, ErrPush, err)
	}
	return nil
}

func (r *Remote) opts(ctx context.Context) []remote.Option {
	out := make([]remote.Option, 0, len(r.options)+1)
	out = append(out, r.options...)
	return append(out, remote.WithContext(ctx))
}

func classifyTransport(err error) error {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return classifyMessage(err.Error())
	}
	switch terr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	case http.StatusNotFound:
		return ErrDigestNotFound
	}
	for _, diag := range terr.Errors {
		switch diag.Code {
		case transport.UnauthorizedErrorCode, transport.DeniedErrorCode:
			return ErrAuth
		case transport.ManifestUnknownErrorCode, transport.NameUnknownErrorCode, transport.BlobUnknownErrorCode:
			return ErrDigestNotFound
		}
	}
	return nil
}
