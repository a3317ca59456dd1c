// Package pipeline implements named search pipelines: ordered lists of
// response processors applied to a search response before it is returned
// to the caller.
//
// A pipeline definition is declarative JSON; processors are constructed
// from a factory registry keyed by processor type. Execution is
// copy-on-write over the response: any processor error aborts the run and
// the caller keeps the original response as its fallback.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rerankd/internal/logging"
	"github.com/fyrsmithlabs/rerankd/internal/search"
)

const pipelineInstrumentationName = "github.com/fyrsmithlabs/rerankd/internal/pipeline"

var pipelineTracer = otel.Tracer(pipelineInstrumentationName)

// Errors for pipeline operations.
var (
	ErrUnknownPipeline   = errors.New("unknown pipeline")
	ErrUnknownProcessor  = errors.New("unknown processor type")
	ErrInvalidDefinition = errors.New("invalid pipeline definition")
)

// ResponseProcessor transforms a search response. Implementations must
// not mutate req or resp; they return a new response (or resp unchanged).
type ResponseProcessor interface {
	// Type returns the processor type name used in definitions.
	Type() string

	ProcessResponse(ctx context.Context, req *search.Request, resp *search.Response) (*search.Response, error)
}

// Factory builds a processor from its raw definition config.
type Factory func(cfg json.RawMessage) (ResponseProcessor, error)

// Factories is the processor type registry. Registration happens at
// startup; lookups are concurrent.
type Factories struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactories creates an empty factory registry.
func NewFactories() *Factories {
	return &Factories{factories: make(map[string]Factory)}
}

// Register adds a factory under the given processor type.
func (f *Factories) Register(processorType string, factory Factory) error {
	if processorType == "" {
		return fmt.Errorf("processor type is required")
	}
	if factory == nil {
		return fmt.Errorf("factory is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.factories[processorType]; exists {
		return fmt.Errorf("processor type %q already registered", processorType)
	}
	f.factories[processorType] = factory
	return nil
}

// Build constructs a processor from one definition entry.
func (f *Factories) Build(spec ProcessorSpec) (ResponseProcessor, error) {
	f.mu.RLock()
	factory, ok := f.factories[spec.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, spec.Type)
	}

	proc, err := factory(spec.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %s processor: %v", ErrInvalidDefinition, spec.Type, err)
	}
	return proc, nil
}

// Types returns the registered processor types, sorted.
func (f *Factories) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.factories))
	for name := range f.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ProcessorSpec is one processor entry in a definition.
type ProcessorSpec struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Definition is a named pipeline's declarative form.
type Definition struct {
	Description        string          `json:"description,omitempty"`
	Version            int             `json:"version,omitempty"`
	ResponseProcessors []ProcessorSpec `json:"response_processors"`
	UpdatedAt          time.Time       `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	out := &Definition{
		Description: d.Description,
		Version:     d.Version,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.ResponseProcessors != nil {
		out.ResponseProcessors = make([]ProcessorSpec, len(d.ResponseProcessors))
		for i, spec := range d.ResponseProcessors {
			out.ResponseProcessors[i] = ProcessorSpec{
				Type:   spec.Type,
				Config: append(json.RawMessage(nil), spec.Config...),
			}
		}
	}
	return out
}

// Pipeline is a compiled definition ready to execute.
type Pipeline struct {
	name       string
	definition *Definition
	processors []ResponseProcessor
	logger     *logging.Logger
}

// Compile builds the processor chain for a definition. Every processor
// spec must resolve and validate; a definition that does not compile is
// rejected before it is stored.
// namePattern matches the identifier charset the logging correlation
// layer accepts.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)

func Compile(name string, def *Definition, factories *Factories, logger *logging.Logger) (*Pipeline, error) {
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: pipeline name must be alphanumeric with hyphens, underscores or dots", ErrInvalidDefinition)
	}
	if def == nil || len(def.ResponseProcessors) == 0 {
		return nil, fmt.Errorf("%w: at least one response processor is required", ErrInvalidDefinition)
	}

	processors := make([]ResponseProcessor, 0, len(def.ResponseProcessors))
	for i, spec := range def.ResponseProcessors {
		proc, err := factories.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("processor %d: %w", i, err)
		}
		processors = append(processors, proc)
	}

	return &Pipeline{
		name:       name,
		definition: def.Clone(),
		processors: processors,
		logger:     logger,
	}, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Definition returns a copy of the compiled definition.
func (p *Pipeline) Definition() *Definition {
	return p.definition.Clone()
}

// Execute runs the processor chain over a copy of the response. The
// input response is never mutated; on any processor error the caller's
// original remains valid as a fallback.
func (p *Pipeline) Execute(ctx context.Context, req *search.Request, resp *search.Response) (*search.Response, error) {
	ctx = logging.WithPipeline(ctx, p.name)
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("pipeline.name", p.name),
		attribute.Int("processor_count", len(p.processors)),
	)

	start := time.Now()
	current := resp.Clone()
	for i, proc := range p.processors {
		next, err := proc.ProcessResponse(ctx, req, current)
		if err != nil {
			err = fmt.Errorf("pipeline %q processor %d (%s): %w", p.name, i, proc.Type(), err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		current = next
	}
	span.SetStatus(codes.Ok, "")

	if p.logger != nil {
		p.logger.Debug(ctx, "pipeline executed",
			zap.String("pipeline", p.name),
			zap.Int("processors", len(p.processors)),
			zap.Int("hits", len(current.Hits.Hits)),
			zap.Duration("duration", time.Since(start)),
		)
	}
	return current, nil
}
