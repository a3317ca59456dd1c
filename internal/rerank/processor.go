package rerank

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rerankd/internal/connector"
	"github.com/fyrsmithlabs/rerankd/internal/logging"
	"github.com/fyrsmithlabs/rerankd/internal/transform"
)

const rerankInstrumentationName = "github.com/fyrsmithlabs/rerankd/internal/rerank"

var rerankTracer = otel.Tracer(rerankInstrumentationName)

// Resolver looks up the connector config behind a deployed model.
// Implemented by connector.Registry.
type Resolver interface {
	Resolve(modelID string) (*connector.Config, error)
}

// Scorer executes one remote scoring call. Implemented by
// scoring.Adapter.
type Scorer interface {
	Score(ctx context.Context, cfg *connector.Config, query string, documents []string) ([]transform.Score, error)
}

// Config is the pipeline-level configuration of a rerank stage.
type Config struct {
	// ModelID names the deployed model to score against.
	ModelID string `json:"model_id"`

	// DocumentFields are extracted from each hit source, in order, and
	// joined by FieldSeparator to form the document text.
	DocumentFields []string `json:"document_fields"`

	// FieldSeparator joins multiple field values. Default: single space.
	FieldSeparator string `json:"field_separator,omitempty"`
}

// modelIDPattern matches the identifier charset the logging correlation
// layer accepts.
var modelIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)

// Validate checks the stage configuration.
func (c Config) Validate() error {
	if c.ModelID == "" {
		return fmt.Errorf("model_id is required")
	}
	if !modelIDPattern.MatchString(c.ModelID) {
		return fmt.Errorf("model_id must be alphanumeric with hyphens, underscores or dots")
	}
	if len(c.DocumentFields) == 0 {
		return fmt.Errorf("at least one document field is required")
	}
	return nil
}

// Processor is the rerank pipeline stage. It is stateless across
// invocations; each Rerank call is an independent transaction over
// immutable input.
type Processor struct {
	resolver Resolver
	scorer   Scorer
	logger   *logging.Logger
}

// NewProcessor creates a rerank processor.
func NewProcessor(resolver Resolver, scorer Scorer, logger *logging.Logger) (*Processor, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Processor{resolver: resolver, scorer: scorer, logger: logger}, nil
}

// Rerank scores the batch against the configured model and returns a new
// batch ordered by descending score, ties keeping their original relative
// order. Any failure propagates without mutating the input batch.
func (p *Processor) Rerank(ctx context.Context, batch *Batch, cfg Config, spec ContextSpec) (*Batch, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rerank config: %w", err)
	}

	ctx = logging.WithModelID(ctx, cfg.ModelID)
	ctx, span := rerankTracer.Start(ctx, "Processor.Rerank")
	defer span.End()
	span.SetAttributes(
		attribute.String("model.id", cfg.ModelID),
		attribute.Int("hit_count", len(batch.Hits)),
	)

	out, err := p.rerank(ctx, batch, cfg, spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (p *Processor) rerank(ctx context.Context, batch *Batch, cfg Config, spec ContextSpec) (*Batch, error) {
	query, err := ResolveQuery(batch.Envelope, spec)
	if err != nil {
		return nil, err
	}

	connCfg, err := p.resolver.Resolve(cfg.ModelID)
	if err != nil {
		return nil, err
	}
	// The correlation layer rejects ids outside its charset; a resolver
	// handing back an unvalidated config must fail the request, not the
	// process.
	if !modelIDPattern.MatchString(connCfg.ID) {
		return nil, fmt.Errorf("model %s: connector config has invalid id %q", cfg.ModelID, connCfg.ID)
	}
	ctx = logging.WithConnectorID(ctx, connCfg.ID)

	documents, err := p.buildDocuments(batch.Hits, cfg)
	if err != nil {
		return nil, err
	}

	scores, err := p.scorer.Score(ctx, connCfg, query, documents)
	if err != nil {
		return nil, err
	}

	// Build the reordered result into a fresh batch; the input stays
	// untouched so the caller keeps a usable fallback.
	out := batch.Clone()
	for _, s := range scores {
		out.Hits[s.Index].Score = s.Score
	}
	sort.SliceStable(out.Hits, func(i, j int) bool {
		return out.Hits[i].Score > out.Hits[j].Score
	})
	for i := range out.Hits {
		out.Hits[i].Position = i
	}

	p.logger.Debug(ctx, "batch reranked",
		zap.Int("hits", len(out.Hits)),
		zap.String("model_id", cfg.ModelID),
	)
	return out, nil
}

// buildDocuments extracts the document text for each hit: configured
// fields in listed order, joined by the separator. Index i corresponds to
// hit i.
func (p *Processor) buildDocuments(hits []Hit, cfg Config) ([]string, error) {
	sep := cfg.FieldSeparator
	if sep == "" {
		sep = " "
	}

	documents := make([]string, len(hits))
	for i, hit := range hits {
		values := make([]string, 0, len(cfg.DocumentFields))
		for _, field := range cfg.DocumentFields {
			value, err := extractField(hit.Source, field)
			if err != nil {
				return nil, fmt.Errorf("hit %q: %w", hit.ID, err)
			}
			values = append(values, value)
		}
		documents[i] = strings.Join(values, sep)
	}
	return documents, nil
}
