// Package connector manages named connector configurations and the model
// bindings that pipelines reference.
//
// The registry is a shared, append-mostly table: many concurrent readers
// (Resolve during rerank calls) against serialized writers (Register,
// Deploy, Undeploy). State persists as a JSON file written atomically so
// an external edit plus hot reload never exposes a half-written
// configuration.
package connector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/rerankd/internal/transform"
)

// Errors for registry operations.
var (
	ErrInvalidConfig    = errors.New("invalid connector config")
	ErrUnknownConnector = errors.New("unknown connector")
	ErrUnknownModel     = errors.New("unknown model")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrNameTaken        = errors.New("connector name already registered")
	ErrStateCorrupted   = errors.New("state file corrupted")
)

// namePattern validates connector and model names.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// state is the registry's in-memory and persisted shape.
type state struct {
	Version    int                 `json:"version"`
	Connectors map[string]*Config  `json:"connectors"` // key: connector id
	Models     map[string]*Binding `json:"models"`     // key: model id
}

func newState() *state {
	return &state{
		Version:    1,
		Connectors: make(map[string]*Config),
		Models:     make(map[string]*Binding),
	}
}

// Registry manages connector configurations and model bindings.
type Registry struct {
	mu         sync.RWMutex
	transforms *transform.Registry
	store      *Store
	sink       EventSink
	data       *state
	now        func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore enables persistence to the given store. State is loaded on
// construction and saved after every successful write.
func WithStore(store *Store) Option {
	return func(r *Registry) { r.store = store }
}

// WithEventSink publishes lifecycle events to the sink. Nil disables
// publication.
func WithEventSink(sink EventSink) Option {
	return func(r *Registry) { r.sink = sink }
}

// NewRegistry creates a registry validating transform references against
// the given transform registry.
func NewRegistry(transforms *transform.Registry, opts ...Option) (*Registry, error) {
	if transforms == nil {
		return nil, fmt.Errorf("transform registry is required")
	}

	r := &Registry{
		transforms: transforms,
		data:       newState(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.store != nil {
		if err := r.Reload(); err != nil {
			return nil, fmt.Errorf("loading registry state: %w", err)
		}
	}

	return r, nil
}

// validate checks a config against the registration contract.
func (r *Registry) validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if cfg.Name == "" || !namePattern.MatchString(cfg.Name) {
		return fmt.Errorf("%w: name must be alphanumeric with hyphens/underscores/dots, got %q", ErrInvalidConfig, cfg.Name)
	}
	if err := validateEndpoint(cfg.Endpoint); err != nil {
		return err
	}
	if cfg.PreProcess == "" || cfg.PostProcess == "" {
		return fmt.Errorf("%w: pre_process and post_process transforms are required", ErrInvalidConfig)
	}
	if _, err := r.transforms.Pre(cfg.PreProcess); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := r.transforms.Post(cfg.PostProcess); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg.Credentials.Validate()
}

// Register validates and stores a connector config, assigning its id.
func (r *Registry) Register(ctx context.Context, cfg *Config) (string, error) {
	if err := r.validate(cfg); err != nil {
		return "", err
	}

	r.mu.Lock()
	for _, existing := range r.data.Connectors {
		if existing.Name == cfg.Name {
			r.mu.Unlock()
			return "", fmt.Errorf("%w: %q", ErrNameTaken, cfg.Name)
		}
	}

	stored := cfg.Clone()
	stored.ID = uuid.New().String()
	stored.Version = 1
	stored.CreatedAt = r.now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	r.data.Connectors[stored.ID] = stored

	if err := r.save(); err != nil {
		delete(r.data.Connectors, stored.ID)
		r.mu.Unlock()
		return "", err
	}
	r.mu.Unlock()

	r.publish(ctx, Event{Type: EventConnectorRegistered, ConnectorID: stored.ID, Name: stored.Name})
	return stored.ID, nil
}

// Update replaces a connector's mutable fields and bumps its version.
// The id, name, creation time and version counter are owned by the
// registry.
func (r *Registry) Update(ctx context.Context, connectorID string, cfg *Config) (*Config, error) {
	if err := r.validate(cfg); err != nil {
		return nil, err
	}

	r.mu.Lock()
	existing, ok := r.data.Connectors[connectorID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, connectorID)
	}
	if cfg.Name != existing.Name {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: connector name is immutable", ErrInvalidConfig)
	}

	updated := cfg.Clone()
	updated.ID = existing.ID
	updated.Version = existing.Version + 1
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = r.now().UTC()
	r.data.Connectors[connectorID] = updated

	if err := r.save(); err != nil {
		r.data.Connectors[connectorID] = existing
		r.mu.Unlock()
		return nil, err
	}
	result := updated.Clone()
	r.mu.Unlock()

	r.publish(ctx, Event{Type: EventConnectorUpdated, ConnectorID: connectorID, Name: result.Name})
	return result, nil
}

// Get returns the connector with the given id.
func (r *Registry) Get(connectorID string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.data.Connectors[connectorID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, connectorID)
	}
	return cfg.Clone(), nil
}

// List returns all connectors sorted by name.
func (r *Registry) List() []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Config, 0, len(r.data.Connectors))
	for _, cfg := range r.data.Connectors {
		out = append(out, cfg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Deregister removes a connector. Model bindings referencing it survive
// and resolve to ErrModelUnavailable until explicitly undeployed, so
// in-flight requests fail cleanly rather than observing a dangling
// lookup.
func (r *Registry) Deregister(ctx context.Context, connectorID string) error {
	r.mu.Lock()
	cfg, ok := r.data.Connectors[connectorID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConnector, connectorID)
	}
	delete(r.data.Connectors, connectorID)

	if err := r.save(); err != nil {
		r.data.Connectors[connectorID] = cfg
		r.mu.Unlock()
		return err
	}
	name := cfg.Name
	r.mu.Unlock()

	r.publish(ctx, Event{Type: EventConnectorDeregistered, ConnectorID: connectorID, Name: name})
	return nil
}

// Deploy binds a registered connector to a new logical model identifier.
// The name labels the deployment; pipelines reference the returned model
// id.
func (r *Registry) Deploy(ctx context.Context, connectorID, name string) (string, error) {
	if name != "" && !namePattern.MatchString(name) {
		return "", fmt.Errorf("%w: model name %q", ErrInvalidConfig, name)
	}

	r.mu.Lock()
	cfg, ok := r.data.Connectors[connectorID]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownConnector, connectorID)
	}
	if name == "" {
		name = cfg.Name
	}

	binding := &Binding{
		ModelID:     uuid.New().String(),
		Name:        name,
		ConnectorID: connectorID,
		CreatedAt:   r.now().UTC(),
	}
	r.data.Models[binding.ModelID] = binding

	if err := r.save(); err != nil {
		delete(r.data.Models, binding.ModelID)
		r.mu.Unlock()
		return "", err
	}
	r.mu.Unlock()

	r.publish(ctx, Event{Type: EventModelDeployed, ConnectorID: connectorID, ModelID: binding.ModelID, Name: name})
	return binding.ModelID, nil
}

// Resolve returns the connector config backing a deployed model. The
// returned config is a copy; mutating it does not affect registry state.
func (r *Registry) Resolve(modelID string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	binding, ok := r.data.Models[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	cfg, ok := r.data.Connectors[binding.ConnectorID]
	if !ok {
		return nil, fmt.Errorf("%w: model %s references deregistered connector %s",
			ErrModelUnavailable, modelID, binding.ConnectorID)
	}
	return cfg.Clone(), nil
}

// GetModel returns the binding for a deployed model.
func (r *Registry) GetModel(modelID string) (*Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	binding, ok := r.data.Models[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	b := *binding
	return &b, nil
}

// ListModels returns all model bindings sorted by name.
func (r *Registry) ListModels() []*Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Binding, 0, len(r.data.Models))
	for _, binding := range r.data.Models {
		b := *binding
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Undeploy removes a model binding. Requests referencing the model fail
// with ErrUnknownModel afterwards.
func (r *Registry) Undeploy(ctx context.Context, modelID string) error {
	r.mu.Lock()
	binding, ok := r.data.Models[modelID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	delete(r.data.Models, modelID)

	if err := r.save(); err != nil {
		r.data.Models[modelID] = binding
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.publish(ctx, Event{Type: EventModelUndeployed, ConnectorID: binding.ConnectorID, ModelID: modelID, Name: binding.Name})
	return nil
}

// Reload replaces in-memory state with the store's contents. Used at
// startup and by the hot-reload watcher. A missing state file resets to
// empty.
func (r *Registry) Reload() error {
	if r.store == nil {
		return nil
	}

	loaded, err := r.store.Load()
	if err != nil {
		return err
	}
	if loaded == nil {
		loaded = newState()
	}
	if err := r.validateState(loaded); err != nil {
		return err
	}

	r.mu.Lock()
	r.data = loaded
	r.mu.Unlock()
	return nil
}

// validateState checks externally edited state against the registration
// contract before it replaces the in-memory table. A rejected file leaves
// the previous state serving; deferring the check to request time would
// surface hand-edit mistakes as failures on live rerank calls instead.
func (r *Registry) validateState(st *state) error {
	for id, cfg := range st.Connectors {
		if cfg == nil || cfg.ID == "" || !namePattern.MatchString(cfg.ID) {
			return fmt.Errorf("%w: connector entry %q has missing or invalid id", ErrStateCorrupted, id)
		}
		if cfg.ID != id {
			return fmt.Errorf("%w: connector entry %q carries mismatched id %q", ErrStateCorrupted, id, cfg.ID)
		}
		if err := r.validate(cfg); err != nil {
			return fmt.Errorf("%w: connector %q: %v", ErrStateCorrupted, id, err)
		}
	}
	for id, binding := range st.Models {
		if binding == nil || binding.ModelID == "" || !namePattern.MatchString(binding.ModelID) {
			return fmt.Errorf("%w: model entry %q has missing or invalid id", ErrStateCorrupted, id)
		}
		if binding.ModelID != id {
			return fmt.Errorf("%w: model entry %q carries mismatched id %q", ErrStateCorrupted, id, binding.ModelID)
		}
		if binding.Name == "" || !namePattern.MatchString(binding.Name) {
			return fmt.Errorf("%w: model %q has invalid name %q", ErrStateCorrupted, id, binding.Name)
		}
		if binding.ConnectorID == "" {
			return fmt.Errorf("%w: model %q has no connector reference", ErrStateCorrupted, id)
		}
	}
	return nil
}

// save persists current state. Callers hold the write lock.
func (r *Registry) save() error {
	if r.store == nil {
		return nil
	}
	return r.store.Save(r.data)
}

// publish emits a lifecycle event. Sink failures are swallowed; the
// registry operation already succeeded.
func (r *Registry) publish(ctx context.Context, ev Event) {
	if r.sink == nil {
		return
	}
	ev.Timestamp = r.now().UTC()
	_ = r.sink.Publish(ctx, ev)
}
