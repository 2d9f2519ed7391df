// Package registry adapts container registries to the narrow capability set
// the reconciler needs: resolve a tag, pull a digest, push a digest under a tag.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDigestNotFound = errors.New("registry: digest not found")
	ErrResolve        = errors.New("registry: resolve failed")
	ErrPull           = errors.New("registry: pull failed")
	ErrPush           = errors.New("registry: push failed")
	ErrAuth           = errors.New("registry: authentication failed")
)

// Registry is the capability set a backend must provide.
type Registry interface {
	// Resolve returns the digest a tag points at. found is false when the tag does not exist.
	Resolve(ctx context.Context, tag string) (digest string, found bool, err error)
	// Pull fetches content addressed by digest into the backend's scratch area.
	Pull(ctx context.Context, digest string) error
	// Push publishes previously pulled content under tag.
	Push(ctx context.Context, digest, tag string) error
}

// Lister is implemented by backends that can enumerate every tag in the repository.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Describer is implemented by backends that can name their target for logs.
type Describer interface {
	Describe() string
}

// Describe names a registry for logs and reports.
func Describe(r Registry) string {
	if d, ok := r.(Describer); ok {
		return d.Describe()
	}
	return fmt.Sprintf("%T", r)
}

// DefaultConcurrency bounds tag resolution fan-out.
const DefaultConcurrency = 4

// Observe resolves every tag and returns the tags that currently exist.
// Resolution is read-only; the first error aborts the snapshot.
func Observe(ctx context.Context, r Registry, tags []string, concurrency int) (map[string]string, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var (
		mu       sync.Mutex
		observed = make(map[string]string, len(tags))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, tag := range tags {
		g.Go(func() error {
			digest, found, err := r.Resolve(gctx, tag)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", tag, err)
			}
			log.Debug().Str("tag", tag).Str("digest", digest).Bool("found", found).Msg("tag_resolved")
			if !found {
				return nil
			}
			mu.Lock()
			observed[tag] = digest
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return observed, nil
}

// Unmanaged returns tags from the registry listing that are absent from managed, sorted.
func Unmanaged(ctx context.Context, r Registry, managed map[string]string) ([]string, error) {
	lister, ok := r.(Lister)
	if !ok {
		return nil, nil
	}
	tags, err := lister.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0)
	for _, tag := range tags {
		if _, ok := managed[tag]; !ok {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out, nil
}

// classifyMessage maps registry error text from CLIs and daemons onto error kinds.
// It returns nil when the message carries no recognizable kind.
func classifyMessage(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower,
		"unauthorized",
		"authentication required",
		"access denied",
		"denied:",
		"no basic auth credentials",
		"incorrect username or password",
	):
		return ErrAuth
	case containsAny(lower,
		"manifest unknown",
		"not found",
		"no such manifest",
		"name unknown",
	):
		return ErrDigestNotFound
	default:
		return nil
	}
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
