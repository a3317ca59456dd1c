package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/rerankd/internal/logging"
)

const definitionsFileName = "pipelines.json"

// Store persists pipeline definitions as a single JSON file with atomic
// writes.
type Store struct {
	path string
}

// NewStore creates a store rooted at dir, creating the directory if
// needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{path: filepath.Join(dir, definitionsFileName)}, nil
}

// Path returns the definitions file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads definitions from disk. Returns (nil, nil) when no file
// exists yet.
func (s *Store) Load() (map[string]*Definition, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read definitions file: %w", err)
	}

	var defs map[string]*Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("definitions file corrupted: %w", err)
	}
	return defs, nil
}

// Save writes definitions atomically.
func (s *Store) Save(defs map[string]*Definition) error {
	data, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal definitions: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write definitions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename definitions: %w", err)
	}
	return nil
}

// Registry holds named pipelines. Definitions compile at Put time, so a
// pipeline present in the registry always executes.
type Registry struct {
	mu        sync.RWMutex
	factories *Factories
	store     *Store
	logger    *logging.Logger
	pipelines map[string]*Pipeline
	now       func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStore enables persistence. Definitions load on construction and
// save after every successful write.
func WithStore(store *Store) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// NewRegistry creates a pipeline registry compiling definitions against
// the given processor factories.
func NewRegistry(factories *Factories, logger *logging.Logger, opts ...RegistryOption) (*Registry, error) {
	if factories == nil {
		return nil, fmt.Errorf("processor factories are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	r := &Registry{
		factories: factories,
		logger:    logger,
		pipelines: make(map[string]*Pipeline),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.store != nil {
		defs, err := r.store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading pipeline definitions: %w", err)
		}
		for name, def := range defs {
			p, err := Compile(name, def, factories, logger)
			if err != nil {
				return nil, fmt.Errorf("pipeline %q: %w", name, err)
			}
			r.pipelines[name] = p
		}
	}

	return r, nil
}

// Put creates or replaces a named pipeline. A replaced pipeline's version
// increments; the definition must compile or the registry is unchanged.
func (r *Registry) Put(name string, def *Definition) (*Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := def.Clone()
	stored.UpdatedAt = r.now().UTC()
	if existing, ok := r.pipelines[name]; ok {
		stored.Version = existing.definition.Version + 1
	} else {
		stored.Version = 1
	}

	p, err := Compile(name, stored, r.factories, r.logger)
	if err != nil {
		return nil, err
	}

	previous, hadPrevious := r.pipelines[name]
	r.pipelines[name] = p
	if err := r.save(); err != nil {
		if hadPrevious {
			r.pipelines[name] = previous
		} else {
			delete(r.pipelines, name)
		}
		return nil, err
	}
	return stored.Clone(), nil
}

// Get returns the compiled pipeline with the given name.
func (r *Registry) Get(name string) (*Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
	}
	return p, nil
}

// List returns all definitions keyed by name.
func (r *Registry) List() map[string]*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Definition, len(r.pipelines))
	for name, p := range r.pipelines {
		out[name] = p.definition.Clone()
	}
	return out
}

// Names returns the pipeline names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Delete removes a named pipeline.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pipelines[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
	}
	delete(r.pipelines, name)
	if err := r.save(); err != nil {
		r.pipelines[name] = p
		return err
	}
	return nil
}

// save is called with the write lock held.
func (r *Registry) save() error {
	if r.store == nil {
		return nil
	}
	defs := make(map[string]*Definition, len(r.pipelines))
	for name, p := range r.pipelines {
		defs[name] = p.definition
	}
	return r.store.Save(defs)
}
