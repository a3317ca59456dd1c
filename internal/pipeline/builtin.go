package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/rerankd/internal/rerank"
	"github.com/fyrsmithlabs/rerankd/internal/search"
)

// Built-in processor type names.
const (
	TypeRerank       = "rerank"
	TypeTruncateHits = "truncate_hits"
	TypeRenameField  = "rename_field"
)

// RegisterBuiltins wires the built-in processors into a factory registry.
// The rerank processor carries the shared model resolution and scoring
// machinery; the others are self-contained.
func RegisterBuiltins(f *Factories, processor *rerank.Processor) error {
	if processor == nil {
		return fmt.Errorf("rerank processor is required")
	}
	if err := f.Register(TypeRerank, rerankFactory(processor)); err != nil {
		return err
	}
	if err := f.Register(TypeTruncateHits, truncateHitsFactory); err != nil {
		return err
	}
	return f.Register(TypeRenameField, renameFieldFactory)
}

// rerankConfig is the definition-side config of a rerank stage. The query
// context itself is per-request, carried in the search request's
// ext.rerank.query_context block.
type rerankConfig struct {
	ModelID string `json:"model_id"`
	Context struct {
		DocumentFields []string `json:"document_fields"`
		FieldSeparator string   `json:"field_separator,omitempty"`
	} `json:"context"`
}

type rerankStage struct {
	processor *rerank.Processor
	cfg       rerank.Config
}

func rerankFactory(processor *rerank.Processor) Factory {
	return func(raw json.RawMessage) (ResponseProcessor, error) {
		var cfg rerankConfig
		if err := unmarshalStrict(raw, &cfg); err != nil {
			return nil, err
		}
		stage := &rerankStage{
			processor: processor,
			cfg: rerank.Config{
				ModelID:        cfg.ModelID,
				DocumentFields: cfg.Context.DocumentFields,
				FieldSeparator: cfg.Context.FieldSeparator,
			},
		}
		if err := stage.cfg.Validate(); err != nil {
			return nil, err
		}
		return stage, nil
	}
}

func (s *rerankStage) Type() string { return TypeRerank }

func (s *rerankStage) ProcessResponse(ctx context.Context, req *search.Request, resp *search.Response) (*search.Response, error) {
	spec := queryContext(req)

	batch := &rerank.Batch{
		Envelope: req.Body,
		Hits:     make([]rerank.Hit, len(resp.Hits.Hits)),
	}
	for i, hit := range resp.Hits.Hits {
		batch.Hits[i] = rerank.Hit{
			ID:       hit.ID,
			Score:    hit.Score,
			Position: i,
			Source:   hit.Source,
		}
	}

	ranked, err := s.processor.Rerank(ctx, batch, s.cfg, spec)
	if err != nil {
		return nil, err
	}

	// Reattach the ranked order to full search hits. The batch carries
	// only the source, so hits are matched back by id to keep their
	// fields block.
	out := resp.Clone()
	byID := make(map[string][]search.Hit, len(out.Hits.Hits))
	for _, hit := range out.Hits.Hits {
		byID[hit.ID] = append(byID[hit.ID], hit)
	}
	hits := make([]search.Hit, len(ranked.Hits))
	for i, rh := range ranked.Hits {
		queue := byID[rh.ID]
		if len(queue) == 0 {
			return nil, fmt.Errorf("ranked hit %q not present in response", rh.ID)
		}
		hit := queue[0]
		byID[rh.ID] = queue[1:]
		hit.Score = rh.Score
		hits[i] = hit
	}
	out.Hits.Hits = hits
	if len(hits) > 0 {
		out.Hits.MaxScore = hits[0].Score
	}
	return out, nil
}

// queryContext reads the per-request query context from the request's ext
// block.
func queryContext(req *search.Request) rerank.ContextSpec {
	return rerank.ContextSpec{
		QueryText:     req.Ext("rerank.query_context.query_text").String(),
		QueryTextPath: req.Ext("rerank.query_context.query_text_path").String(),
	}
}

// truncateHitsConfig keeps the first target_size hits. Paired after a
// rerank stage it implements the oversample-then-truncate pattern.
type truncateHitsConfig struct {
	TargetSize int `json:"target_size"`
}

type truncateHitsStage struct {
	targetSize int
}

func truncateHitsFactory(raw json.RawMessage) (ResponseProcessor, error) {
	var cfg truncateHitsConfig
	if err := unmarshalStrict(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.TargetSize <= 0 {
		return nil, fmt.Errorf("target_size must be positive, got %d", cfg.TargetSize)
	}
	return &truncateHitsStage{targetSize: cfg.TargetSize}, nil
}

func (s *truncateHitsStage) Type() string { return TypeTruncateHits }

func (s *truncateHitsStage) ProcessResponse(_ context.Context, _ *search.Request, resp *search.Response) (*search.Response, error) {
	if len(resp.Hits.Hits) <= s.targetSize {
		return resp, nil
	}
	out := resp.Clone()
	out.Hits.Hits = out.Hits.Hits[:s.targetSize]
	return out, nil
}

// renameFieldConfig renames a top-level hit source field.
type renameFieldConfig struct {
	Field       string `json:"field"`
	TargetField string `json:"target_field"`
}

type renameFieldStage struct {
	field       string
	targetField string
}

func renameFieldFactory(raw json.RawMessage) (ResponseProcessor, error) {
	var cfg renameFieldConfig
	if err := unmarshalStrict(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Field == "" || cfg.TargetField == "" {
		return nil, fmt.Errorf("field and target_field are required")
	}
	return &renameFieldStage{field: cfg.Field, targetField: cfg.TargetField}, nil
}

func (s *renameFieldStage) Type() string { return TypeRenameField }

func (s *renameFieldStage) ProcessResponse(_ context.Context, _ *search.Request, resp *search.Response) (*search.Response, error) {
	out := resp.Clone()
	for i := range out.Hits.Hits {
		hit := &out.Hits.Hits[i]
		if hit.Source == nil {
			continue
		}
		var source map[string]json.RawMessage
		if err := json.Unmarshal(hit.Source, &source); err != nil {
			return nil, fmt.Errorf("hit %q: source is not an object: %w", hit.ID, err)
		}
		value, ok := source[s.field]
		if !ok {
			continue
		}
		delete(source, s.field)
		source[s.targetField] = value
		data, err := json.Marshal(source)
		if err != nil {
			return nil, fmt.Errorf("hit %q: %w", hit.ID, err)
		}
		hit.Source = data
	}
	return out, nil
}

// unmarshalStrict decodes a processor config rejecting unknown fields, so
// a typo in a definition fails at Put time instead of silently no-op'ing.
func unmarshalStrict(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid processor config: %w", err)
	}
	return nil
}
