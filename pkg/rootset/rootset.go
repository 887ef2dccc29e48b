// Package rootset supplies the externally configured set of keys the Chain
// Evaluator treats as unconditionally trusted. Trust terminates at these
// roots; the core never hard-codes identities.
package rootset

import (
	"os"
	"sync"

	"github.com/juergengeck/esp32/pkg/helper/errors"
	"github.com/juergengeck/esp32/pkg/identity"

	"gopkg.in/yaml.v3"
)

// Mode selects which root scope a caller wants. MainIdentity is the
// evaluating node's own identity root; All includes every configured root,
// including those belonging to other trusted devices in the fleet.
type Mode int

const (
	MainIdentity Mode = iota
	All
)

// Provider supplies the current root set. Implementations are read-only
// from the core's perspective; reconfiguration happens out of band and is
// observed by CurrentRoots returning a different set after the provider's
// own invalidation.
type Provider interface {
	CurrentRoots(mode Mode) map[identity.KeyID]struct{}
}

// fileFormat is the on-disk schema for a root-set file.
type fileFormat struct {
	MainIdentity []string `yaml:"main_identity"`
	Fleet        []string `yaml:"fleet"`
}

// StaticProvider loads a fixed root set from a YAML file once, at
// construction.
type StaticProvider struct {
	mainIdentity map[identity.KeyID]struct{}
	all          map[identity.KeyID]struct{}
}

// NewStaticProvider loads a root-set file at path.
func NewStaticProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading root-set file %s", path)
	}

	var parsed fileFormat
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, "parsing root-set file %s", path)
	}

	return newStaticProvider(parsed), nil
}

func newStaticProvider(parsed fileFormat) *StaticProvider {
	main := make(map[identity.KeyID]struct{}, len(parsed.MainIdentity))
	for _, k := range parsed.MainIdentity {
		main[identity.KeyID(k)] = struct{}{}
	}

	all := make(map[identity.KeyID]struct{}, len(main)+len(parsed.Fleet))
	for k := range main {
		all[k] = struct{}{}
	}
	for _, k := range parsed.Fleet {
		all[identity.KeyID(k)] = struct{}{}
	}

	return &StaticProvider{mainIdentity: main, all: all}
}

// CurrentRoots returns the configured root set for mode.
func (p *StaticProvider) CurrentRoots(mode Mode) map[identity.KeyID]struct{} {
	if mode == MainIdentity {
		return p.mainIdentity
	}
	return p.all
}

// FileWatchProvider wraps a StaticProvider and re-reads the underlying file
// whenever Reload is called, rather than through a polling filesystem
// watcher — embedded targets rarely have a fsnotify-capable filesystem.
// Nothing in trustctl calls Reload (no signal handler triggers it), so in a
// running node the root set stays as loaded at startup.
type FileWatchProvider struct {
	path string

	mu      sync.RWMutex
	current *StaticProvider
}

// NewFileWatchProvider loads path once and is ready to Reload on request.
func NewFileWatchProvider(path string) (*FileWatchProvider, error) {
	initial, err := NewStaticProvider(path)
	if err != nil {
		return nil, err
	}
	return &FileWatchProvider{path: path, current: initial}, nil
}

// Reload re-reads the root-set file, replacing the active root set
// atomically. Callers are responsible for invalidating the Chain
// Evaluator's cache afterward: a changed root set invalidates every
// cached verdict.
func (p *FileWatchProvider) Reload() error {
	next, err := NewStaticProvider(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.current = next
	p.mu.Unlock()
	return nil
}

// CurrentRoots returns the most recently loaded root set for mode.
func (p *FileWatchProvider) CurrentRoots(mode Mode) map[identity.KeyID]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.CurrentRoots(mode)
}
