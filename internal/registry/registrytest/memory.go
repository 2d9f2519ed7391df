// Package registrytest provides an in-memory registry for reconciler tests.
package registrytest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/tagstate/internal/registry"
)

// Memory is a content-addressed registry held in memory. Pushes require a
// prior pull of the same digest, mirroring pull-then-push execution.
type Memory struct {
	mu      sync.Mutex
	tags    map[string]string
	content map[string]struct{}
	pulled  map[string]struct{}
	calls   []string

	// Failure injection, keyed by digest (pull) or tag (push, resolve).
	PullErr    map[string]error
	PushErr    map[string]error
	ResolveErr map[string]error
}

// NewMemory seeds the registry with tag pointers; every referenced digest and
// any extra digests are stored as content.
func NewMemory(tags map[string]string, extraDigests ...string) *Memory {
	m := &Memory{
		tags:       make(map[string]string, len(tags)),
		content:    make(map[string]struct{}),
		pulled:     make(map[string]struct{}),
		PullErr:    make(map[string]error),
		PushErr:    make(map[string]error),
		ResolveErr: make(map[string]error),
	}
	for tag, d := range tags {
		m.tags[tag] = d
		m.content[d] = struct{}{}
	}
	for _, d := range extraDigests {
		m.content[d] = struct{}{}
	}
	return m
}

func (m *Memory) Describe() string {
	return "memory"
}

func (m *Memory) Resolve(_ context.Context, tag string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "resolve "+tag)
	if err := m.ResolveErr[tag]; err != nil {
		return "", false, err
	}
	d, ok := m.tags[tag]
	return d, ok, nil
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tags))
	for tag := range m.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Pull(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "pull "+digest)
	if err := m.PullErr[digest]; err != nil {
		return err
	}
	if _, ok := m.content[digest]; !ok {
		return fmt.Errorf("%w: %s", registry.ErrDigestNotFound, digest)
	}
	m.pulled[digest] = struct{}{}
	return nil
}

func (m *Memory) Push(ctx context.Context, digest, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "push "+digest+" "+tag)
	if err := m.PushErr[tag]; err != nil {
		return err
	}
	if _, ok := m.pulled[digest]; !ok {
		return fmt.Errorf("%w: %s was not pulled", registry.ErrPush, digest)
	}
	m.tags[tag] = digest
	return nil
}

// Tags returns a copy of the current tag pointers.
func (m *Memory) Tags() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.tags))
	for k, v := range m.tags {
		out[k] = v
	}
	return out
}

// Calls returns the mutating and resolving calls in the order they were made.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// ResetCalls clears the call journal.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
