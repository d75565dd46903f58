package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrModelNotFound is returned by Pool.Get for unknown model names.
var ErrModelNotFound = errors.New("model not found")

// Constructor builds a model client. It runs at most once per pool entry.
type Constructor func() (Model, error)

// Pool is a thread-safe registry of model clients shared across runs.
//
// Clients are expensive to construct, so the pool builds each one lazily on
// first use and hands the same instance to every later caller. A pool holds
// no per-request state: limits, tokens and prompts stay with the run that
// uses the client. Inject one Pool into the orchestrator; agents receive the
// resolved Model, never the pool.
type Pool struct {
	mu          sync.Mutex
	defaultName string
	entries     map[string]*poolEntry
}

type poolEntry struct {
	once  sync.Once
	ctor  Constructor
	model Model
	err   error
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[string]*poolEntry)}
}

// Register adds a lazily constructed model under name. The first registered
// model becomes the default.
func (p *Pool) Register(name string, ctor Constructor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[name]; exists {
		return fmt.Errorf("model %q already registered", name)
	}
	p.entries[name] = &poolEntry{ctor: ctor}
	if p.defaultName == "" {
		p.defaultName = name
	}
	return nil
}

// Add registers an already constructed model.
func (p *Pool) Add(name string, m Model) error {
	return p.Register(name, func() (Model, error) { return m, nil })
}

// SetDefault selects the model returned by Default.
func (p *Pool) SetDefault(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	p.defaultName = name
	return nil
}

// Get returns the model registered under name, constructing it on first use.
// A failed construction is cached and returned on every later call.
func (p *Pool) Get(name string) (Model, error) {
	p.mu.Lock()
	e, ok := p.entries[name]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	e.once.Do(func() {
		e.model, e.err = e.ctor()
		if e.err == nil && e.model == nil {
			e.err = fmt.Errorf("model %q: constructor returned nil", name)
		}
	})
	return e.model, e.err
}

// Default returns the default model.
func (p *Pool) Default() (Model, error) {
	p.mu.Lock()
	name := p.defaultName
	p.mu.Unlock()
	if name == "" {
		return nil, fmt.Errorf("%w: pool is empty", ErrModelNotFound)
	}
	return p.Get(name)
}

// Names returns the registered model names, sorted.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.entries))
	for n := range p.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
