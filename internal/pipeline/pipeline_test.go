package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rerankd/internal/connector"
	"github.com/fyrsmithlabs/rerankd/internal/logging"
	"github.com/fyrsmithlabs/rerankd/internal/rerank"
	"github.com/fyrsmithlabs/rerankd/internal/search"
	"github.com/fyrsmithlabs/rerankd/internal/transform"
)

type staticResolver struct{}

func (staticResolver) Resolve(string) (*connector.Config, error) {
	return &connector.Config{ID: "conn-1", Name: "test"}, nil
}

// reverseScorer scores documents so the output order is the reverse of
// the input order.
type reverseScorer struct{}

func (reverseScorer) Score(_ context.Context, _ *connector.Config, _ string, documents []string) ([]transform.Score, error) {
	out := make([]transform.Score, len(documents))
	for i := range documents {
		out[i] = transform.Score{Index: i, Score: float64(i)}
	}
	return out, nil
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, *connector.Config, string, []string) ([]transform.Score, error) {
	return nil, errors.New("upstream down")
}

func newTestFactories(t *testing.T, scorer rerank.Scorer) *Factories {
	t.Helper()
	proc, err := rerank.NewProcessor(staticResolver{}, scorer, logging.NewTestLogger().Logger)
	require.NoError(t, err)
	f := NewFactories()
	require.NoError(t, RegisterBuiltins(f, proc))
	return f
}

func sampleResponse(n int) *search.Response {
	resp := &search.Response{Took: 5, Hits: search.Hits{Total: n}}
	for i := 0; i < n; i++ {
		src, _ := json.Marshal(map[string]string{"text": fmt.Sprintf("document %d", i)})
		resp.Hits.Hits = append(resp.Hits.Hits, search.Hit{
			ID:     fmt.Sprintf("doc-%d", i),
			Score:  float64(n-i) * 0.1,
			Source: src,
			Fields: map[string]any{"position": i},
		})
	}
	if n > 0 {
		resp.Hits.MaxScore = resp.Hits.Hits[0].Score
	}
	return resp
}

func sampleRequest(t *testing.T) *search.Request {
	t.Helper()
	var req search.Request
	body := `{"query":{"match":{"text":"q"}},"ext":{"rerank":{"query_context":{"query_text":"what is q"}}}}`
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	return &req
}

func rerankSpec(t *testing.T) ProcessorSpec {
	t.Helper()
	return ProcessorSpec{
		Type:   TypeRerank,
		Config: json.RawMessage(`{"model_id":"model-1","context":{"document_fields":["text"]}}`),
	}
}

func TestFactoriesUnknownType(t *testing.T) {
	f := newTestFactories(t, reverseScorer{})
	_, err := f.Build(ProcessorSpec{Type: "no_such_processor"})
	require.ErrorIs(t, err, ErrUnknownProcessor)
}

func TestFactoriesDuplicateRegistration(t *testing.T) {
	f := newTestFactories(t, reverseScorer{})
	err := f.Register(TypeRerank, func(json.RawMessage) (ResponseProcessor, error) { return nil, nil })
	require.Error(t, err)
}

func TestFactoriesTypesSorted(t *testing.T) {
	f := newTestFactories(t, reverseScorer{})
	assert.Equal(t, []string{TypeRenameField, TypeRerank, TypeTruncateHits}, f.Types())
}

func TestCompileRejectsEmptyDefinition(t *testing.T) {
	f := newTestFactories(t, reverseScorer{})
	logger := logging.NewTestLogger().Logger

	_, err := Compile("p", &Definition{}, f, logger)
	require.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = Compile("", &Definition{ResponseProcessors: []ProcessorSpec{rerankSpec(t)}}, f, logger)
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestCompileRejectsInvalidProcessorConfig(t *testing.T) {
	f := newTestFactories(t, reverseScorer{})
	def := &Definition{ResponseProcessors: []ProcessorSpec{{
		Type:   TypeRerank,
		Config: json.RawMessage(`{"model_id":""}`),
	}}}
	_, err := Compile("p", def, f, logging.NewTestLogger().Logger)
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestCompileRejectsUnknownConfigKeys(t *testing.T) {
	f := newTestFactories(t, reverseScorer{})
	def := &Definition{ResponseProcessors: []ProcessorSpec{{
		Type:   TypeTruncateHits,
		Config: json.RawMessage(`{"target_szie":3}`),
	}}}
	_, err := Compile("p", def, f, logging.NewTestLogger().Logger)
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestExecuteRerankStage(t *testing.T) {
	f := newTestFactories(t, reverseScorer{})
	def := &Definition{ResponseProcessors: []ProcessorSpec{rerankSpec(t)}}
	p, err := Compile("rerank-only", def, f, logging.NewTestLogger().Logger)
	require.NoError(t, err)

	resp := sampleResponse(3)
	out, err := p.Execute(context.Background(), sampleRequest(t), resp)
	require.NoError(t, err)

	// reverseScorer scores by input index, so the order flips.
	require.Len(t, out.Hits.Hits, 3)
	assert.Equal(t, "doc-2", out.Hits.Hits[0].ID)
	assert.Equal(t, "doc-1", out.Hits.Hits[1].ID)
	assert.Equal(t, "doc-0", out.Hits.Hits[2].ID)
	assert.Equal(t, 2.0, out.Hits.MaxScore)

	// The fields block survives the round trip through the batch.
	assert.Equal(t, map[string]any{"position": 2}, out.Hits.Hits[0].Fields)

	// Input response keeps its original order.
	assert.Equal(t, "doc-0", resp.Hits.Hits[0].ID)
}

func TestExecuteRerankThenTruncate(t *testing.T) {
	f := newTestFactories(t, reverseScorer{})
	def := &Definition{ResponseProcessors: []ProcessorSpec{
		rerankSpec(t),
		{Type: TypeTruncateHits, Config: json.RawMessage(`{"target_size":2}`)},
	}}
	p, err := Compile("oversample", def, f, logging.NewTestLogger().Logger)
	require.NoError(t, err)

	out, err := p.Execute(context.Background(), sampleRequest(t), sampleResponse(5))
	require.NoError(t, err)
	require.Len(t, out.Hits.Hits, 2)
	assert.Equal(t, "doc-4", out.Hits.Hits[0].ID)
	assert.Equal(t, "doc-3", out.Hits.Hits[1].ID)
}

func TestExecuteMissingQueryContext(t *testing.T) {
	f := newTestFactories(t, reverseScorer{})
	def := &Definition{ResponseProcessors: []ProcessorSpec{rerankSpec(t)}}
	p, err := Compile("p", def, f, logging.NewTestLogger().Logger)
	require.NoError(t, err)

	var req search.Request
	require.NoError(t, json.Unmarshal([]byte(`{"query":{"match_all":{}}}`), &req))

	_, err = p.Execute(context.Background(), &req, sampleResponse(2))
	require.ErrorIs(t, err, rerank.ErrMissingQueryContext)
}

func TestExecuteAbortsOnProcessorError(t *testing.T) {
	f := newTestFactories(t, failingScorer{})
	def := &Definition{ResponseProcessors: []ProcessorSpec{
		rerankSpec(t),
		{Type: TypeTruncateHits, Config: json.RawMessage(`{"target_size":1}`)},
	}}
	p, err := Compile("p", def, f, logging.NewTestLogger().Logger)
	require.NoError(t, err)

	resp := sampleResponse(3)
	_, err = p.Execute(context.Background(), sampleRequest(t), resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processor 0 (rerank)")

	// The caller's response is intact and usable as the fallback.
	assert.Len(t, resp.Hits.Hits, 3)
	assert.Equal(t, "doc-0", resp.Hits.Hits[0].ID)
}

func TestTruncateHitsShortResponseUnchanged(t *testing.T) {
	stage, err := truncateHitsFactory(json.RawMessage(`{"target_size":10}`))
	require.NoError(t, err)

	resp := sampleResponse(2)
	out, err := stage.ProcessResponse(context.Background(), nil, resp)
	require.NoError(t, err)
	assert.Len(t, out.Hits.Hits, 2)
}

func TestTruncateHitsRejectsNonPositiveTarget(t *testing.T) {
	_, err := truncateHitsFactory(json.RawMessage(`{"target_size":0}`))
	require.Error(t, err)
}

func TestRenameField(t *testing.T) {
	stage, err := renameFieldFactory(json.RawMessage(`{"field":"text","target_field":"body"}`))
	require.NoError(t, err)

	resp := sampleResponse(2)
	out, err := stage.ProcessResponse(context.Background(), nil, resp)
	require.NoError(t, err)

	var source map[string]string
	require.NoError(t, json.Unmarshal(out.Hits.Hits[0].Source, &source))
	assert.Equal(t, "document 0", source["body"])
	assert.NotContains(t, source, "text")

	// Original hit source is untouched.
	var original map[string]string
	require.NoError(t, json.Unmarshal(resp.Hits.Hits[0].Source, &original))
	assert.Contains(t, original, "text")
}

func TestRenameFieldMissingFieldSkipsHit(t *testing.T) {
	stage, err := renameFieldFactory(json.RawMessage(`{"field":"nope","target_field":"x"}`))
	require.NoError(t, err)

	out, err := stage.ProcessResponse(context.Background(), nil, sampleResponse(1))
	require.NoError(t, err)

	var source map[string]string
	require.NoError(t, json.Unmarshal(out.Hits.Hits[0].Source, &source))
	assert.Contains(t, source, "text")
}
