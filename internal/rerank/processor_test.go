package rerank

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
	"github.com/fyrsmithlabs/rerankd/internal/transform"
)

type fakeResolver struct {
	cfg *connector.Config
	err error
}

func (f *fakeResolver) Resolve(modelID string) (*connector.Config, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cfg, nil
}

type fakeScorer struct {
	scores    []transform.Score
	err       error
	gotQuery  string
	gotDocs   []string
	callCount int
}

func (f *fakeScorer) Score(_ context.Context, _ *connector.Config, query string, documents []string) ([]transform.Score, error) {
	f.callCount++
	f.gotQuery = query
	f.gotDocs = documents
	if f.err != nil {
		return nil, f.err
	}
	if f.scores == nil {
		// Identity: every document keeps its original score slot.
		out := make([]transform.Score, len(documents))
		for i := range documents {
			out[i] = transform.Score{Index: i}
		}
		return out, nil
	}
	return f.scores, nil
}

func newTestProcessor(t *testing.T, scorer *fakeScorer) *Processor {
	t.Helper()
	p, err := NewProcessor(
		&fakeResolver{cfg: &connector.Config{ID: "conn-1", Name: "test"}},
		scorer,
		logging.NewTestLogger().Logger,
	)
	require.NoError(t, err)
	return p
}

func textBatch(texts ...string) *Batch {
	b := &Batch{Envelope: json.RawMessage(`{"query":{"match":{"text":"hello"}}}`)}
	for i, text := range texts {
		src, _ := json.Marshal(map[string]string{"text": text})
		b.Hits = append(b.Hits, Hit{
			ID:       fmt.Sprintf("doc-%d", i),
			Score:    float64(len(texts)-i) * 0.1,
			Position: i,
			Source:   src,
		})
	}
	return b
}

func stageConfig() Config {
	return Config{ModelID: "model-1", DocumentFields: []string{"text"}}
}

func TestRerankTutorialScenario(t *testing.T) {
	// Four documents, query "What is the capital city of America?",
	// model scores [0.0136, 0.0006, 0.9288, 0.0001]. Expected order:
	// doc 2, doc 0, doc 1, doc 3.
	batch := textBatch(
		"Carson City is the capital city of the American state of Nevada.",
		"The Commonwealth of the Northern Mariana Islands is a group of islands in the Pacific Ocean. Its capital is Saipan.",
		"Washington, D.C. is the capital of the United States.",
		"Capital punishment has existed in the United States since before the United States was a country.",
	)

	scorer := &fakeScorer{scores: []transform.Score{
		{Index: 0, Score: 0.0136},
		{Index: 1, Score: 0.0006},
		{Index: 2, Score: 0.9288},
		{Index: 3, Score: 0.0001},
	}}
	p := newTestProcessor(t, scorer)

	out, err := p.Rerank(context.Background(), batch, stageConfig(),
		ContextSpec{QueryText: "What is the capital city of America?"})
	require.NoError(t, err)

	assert.Equal(t, "What is the capital city of America?", scorer.gotQuery)
	require.Len(t, out.Hits, 4)
	assert.Equal(t, []string{"doc-2", "doc-0", "doc-1", "doc-3"}, hitIDs(out))
	assert.Equal(t, 0.9288, out.Hits[0].Score)
	assert.Equal(t, []int{0, 1, 2, 3}, positions(out))
}

func TestRerankStableOnTies(t *testing.T) {
	batch := textBatch("a", "b", "c", "d")
	scorer := &fakeScorer{scores: []transform.Score{
		{Index: 0, Score: 0.5},
		{Index: 1, Score: 0.9},
		{Index: 2, Score: 0.5},
		{Index: 3, Score: 0.5},
	}}
	p := newTestProcessor(t, scorer)

	out, err := p.Rerank(context.Background(), batch, stageConfig(),
		ContextSpec{QueryText: "q"})
	require.NoError(t, err)

	// Equal scores keep input order: 0 before 2 before 3.
	assert.Equal(t, []string{"doc-1", "doc-0", "doc-2", "doc-3"}, hitIDs(out))
}

func TestRerankIdentityScoresPreserveOrder(t *testing.T) {
	batch := textBatch("a", "b", "c")
	// Model echoes each hit's original score.
	scorer := &fakeScorer{scores: []transform.Score{
		{Index: 0, Score: batch.Hits[0].Score},
		{Index: 1, Score: batch.Hits[1].Score},
		{Index: 2, Score: batch.Hits[2].Score},
	}}
	p := newTestProcessor(t, scorer)

	out, err := p.Rerank(context.Background(), batch, stageConfig(),
		ContextSpec{QueryText: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-0", "doc-1", "doc-2"}, hitIDs(out))
}

func TestRerankEmptyBatch(t *testing.T) {
	batch := textBatch()
	scorer := &fakeScorer{scores: []transform.Score{}}
	p := newTestProcessor(t, scorer)

	out, err := p.Rerank(context.Background(), batch, stageConfig(),
		ContextSpec{QueryText: "q"})
	require.NoError(t, err)
	assert.Empty(t, out.Hits)
}

func TestRerankErrorLeavesBatchUntouched(t *testing.T) {
	batch := textBatch("a", "b")
	original := batch.Clone()

	scorer := &fakeScorer{err: errors.New("model exploded")}
	p := newTestProcessor(t, scorer)

	_, err := p.Rerank(context.Background(), batch, stageConfig(),
		ContextSpec{QueryText: "q"})
	require.Error(t, err)

	// The caller's batch is byte-for-byte what it was.
	assert.Equal(t, original, batch)
}

func TestRerankResolverErrorPropagates(t *testing.T) {
	p, err := NewProcessor(
		&fakeResolver{err: connector.ErrUnknownModel},
		&fakeScorer{},
		logging.NewTestLogger().Logger,
	)
	require.NoError(t, err)

	_, err = p.Rerank(context.Background(), textBatch("a"), stageConfig(),
		ContextSpec{QueryText: "q"})
	require.ErrorIs(t, err, connector.ErrUnknownModel)
}

func TestRerankRejectsInvalidConnectorID(t *testing.T) {
	// A resolver serving unvalidated state (a hand-edited file, a broken
	// implementation) must produce a request error, never a panic from
	// the correlation layer.
	for _, id := range []string{"", "has space", "semi;colon"} {
		scorer := &fakeScorer{}
		p, err := NewProcessor(
			&fakeResolver{cfg: &connector.Config{ID: id, Name: "test"}},
			scorer,
			logging.NewTestLogger().Logger,
		)
		require.NoError(t, err)

		_, err = p.Rerank(context.Background(), textBatch("a"), stageConfig(),
			ContextSpec{QueryText: "q"})
		require.Error(t, err, "id %q", id)
		assert.Contains(t, err.Error(), "invalid id")
		assert.Zero(t, scorer.callCount, "no outbound call for id %q", id)
	}
}

func TestRerankConfigValidation(t *testing.T) {
	p := newTestProcessor(t, &fakeScorer{})

	_, err := p.Rerank(context.Background(), textBatch("a"),
		Config{DocumentFields: []string{"text"}}, ContextSpec{QueryText: "q"})
	require.Error(t, err)

	_, err = p.Rerank(context.Background(), textBatch("a"),
		Config{ModelID: "m"}, ContextSpec{QueryText: "q"})
	require.Error(t, err)
}

func TestRerankMultiFieldConcatenation(t *testing.T) {
	src, _ := json.Marshal(map[string]any{
		"title": "Washington",
		"body":  "capital of the United States",
		"year":  1790,
	})
	batch := &Batch{
		Envelope: json.RawMessage(`{}`),
		Hits:     []Hit{{ID: "d1", Source: src}},
	}

	scorer := &fakeScorer{scores: []transform.Score{{Index: 0, Score: 1}}}
	p := newTestProcessor(t, scorer)

	cfg := Config{
		ModelID:        "m",
		DocumentFields: []string{"title", "body", "year"},
		FieldSeparator: " | ",
	}
	_, err := p.Rerank(context.Background(), batch, cfg, ContextSpec{QueryText: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Washington | capital of the United States | 1790"}, scorer.gotDocs)
}

func TestRerankMissingDocumentField(t *testing.T) {
	batch := textBatch("a")
	p := newTestProcessor(t, &fakeScorer{})

	cfg := Config{ModelID: "m", DocumentFields: []string{"nope"}}
	_, err := p.Rerank(context.Background(), batch, cfg, ContextSpec{QueryText: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope"`)
}

func TestRerankNonScalarDocumentField(t *testing.T) {
	src := json.RawMessage(`{"text": {"nested": "object"}}`)
	batch := &Batch{Envelope: json.RawMessage(`{}`), Hits: []Hit{{ID: "d1", Source: src}}}
	p := newTestProcessor(t, &fakeScorer{})

	_, err := p.Rerank(context.Background(), batch, stageConfig(), ContextSpec{QueryText: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a scalar")
}

func hitIDs(b *Batch) []string {
	out := make([]string, len(b.Hits))
	for i, h := range b.Hits {
		out[i] = h.ID
	}
	return out
}

func positions(b *Batch) []int {
	out := make([]int, len(b.Hits))
	for i, h := range b.Hits {
		out[i] = h.Position
	}
	return out
}
