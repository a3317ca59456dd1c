package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryNames(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"cohere", "jina", "scores", "tei", "voyageai"}, r.Names())
}

func TestRegistryUnknownTransform(t *testing.T) {
	r := NewRegistry()

	_, err := r.Pre("nope")
	require.ErrorIs(t, err, ErrUnknownTransform)

	_, err = r.Post("nope")
	require.ErrorIs(t, err, ErrUnknownTransform)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("custom", func(req Request) ([]byte, error) {
		return []byte(`{}`), nil
	}, nil)

	pre, err := r.Pre("custom")
	require.NoError(t, err)
	require.NotNil(t, pre)

	// Only the pre side was registered.
	_, err = r.Post("custom")
	require.ErrorIs(t, err, ErrUnknownTransform)
}

func TestCoherePreProcess(t *testing.T) {
	r := Default()
	pre, err := r.Pre("cohere")
	require.NoError(t, err)

	body, err := pre(Request{
		Query:     "capital city",
		Documents: []string{"doc a", "doc b"},
		Model:     "rerank-v3.5",
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "capital city", decoded["query"])
	assert.Equal(t, "rerank-v3.5", decoded["model"])
	assert.Equal(t, []any{"doc a", "doc b"}, decoded["documents"])
	assert.NotContains(t, decoded, "top_n", "zero TopN must be omitted")
}

func TestCoherePostProcess(t *testing.T) {
	r := Default()
	post, err := r.Post("cohere")
	require.NoError(t, err)

	scores, err := post([]byte(`{"results":[
		{"index":2,"relevance_score":0.9288},
		{"index":0,"relevance_score":0.0136}
	]}`))
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, Score{Index: 2, Score: 0.9288}, scores[0])
	assert.Equal(t, Score{Index: 0, Score: 0.0136}, scores[1])
}

func TestJinaPostProcessIgnoresDocumentText(t *testing.T) {
	r := Default()
	post, err := r.Post("jina")
	require.NoError(t, err)

	scores, err := post([]byte(`{"results":[
		{"index":1,"relevance_score":0.7,"document":{"text":"Washington"}},
		{"index":0,"relevance_score":0.2}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, []Score{{Index: 1, Score: 0.7}, {Index: 0, Score: 0.2}}, scores)
}

func TestTEITransforms(t *testing.T) {
	r := Default()
	pre, err := r.Pre("tei")
	require.NoError(t, err)

	body, err := pre(Request{Query: "q", Documents: []string{"a", "b"}})
	require.NoError(t, err)

	var req teiRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "q", req.Query)
	assert.Equal(t, []string{"a", "b"}, req.Texts)
	assert.True(t, req.Truncate)

	post, err := r.Post("tei")
	require.NoError(t, err)
	scores, err := post([]byte(`[{"index":0,"score":0.1},{"index":1,"score":0.9}]`))
	require.NoError(t, err)
	assert.Equal(t, []Score{{Index: 0, Score: 0.1}, {Index: 1, Score: 0.9}}, scores)
}

func TestVoyageAITransforms(t *testing.T) {
	r := Default()
	pre, err := r.Pre("voyageai")
	require.NoError(t, err)

	body, err := pre(Request{Query: "q", Documents: []string{"a"}, TopN: 5})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, float64(5), decoded["top_k"])

	post, err := r.Post("voyageai")
	require.NoError(t, err)
	scores, err := post([]byte(`{"data":[{"index":0,"relevance_score":0.42}]}`))
	require.NoError(t, err)
	assert.Equal(t, []Score{{Index: 0, Score: 0.42}}, scores)
}

func TestScoresPostSynthesizesIndices(t *testing.T) {
	r := Default()
	post, err := r.Post("scores")
	require.NoError(t, err)

	scores, err := post([]byte(`[0.0136, 0.0006, 0.9288, 0.0001]`))
	require.NoError(t, err)
	assert.Equal(t, []Score{
		{Index: 0, Score: 0.0136},
		{Index: 1, Score: 0.0006},
		{Index: 2, Score: 0.9288},
		{Index: 3, Score: 0.0001},
	}, scores)
}

func TestPostProcessMalformed(t *testing.T) {
	r := Default()
	for _, name := range r.Names() {
		post, err := r.Post(name)
		require.NoError(t, err)

		_, err = post([]byte(`not json`))
		assert.Error(t, err, "transform %q must reject malformed bodies", name)
	}
}

func TestPresets(t *testing.T) {
	presets, err := Presets()
	require.NoError(t, err)

	r := Default()
	for name, preset := range presets {
		assert.NotEmpty(t, preset.Endpoint, "preset %q endpoint", name)

		// Every preset must reference registered transforms.
		_, err := r.Pre(preset.PreProcess)
		assert.NoError(t, err, "preset %q pre_process", name)
		_, err = r.Post(preset.PostProcess)
		assert.NoError(t, err, "preset %q post_process", name)
	}

	cohere, ok := presets["cohere"]
	require.True(t, ok)
	assert.Equal(t, "https://api.cohere.com/v2/rerank", cohere.Endpoint)
}
