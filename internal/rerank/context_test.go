package rerank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveQueryVerbatimText(t *testing.T) {
	query, err := ResolveQuery(nil, ContextSpec{QueryText: "capital of America"})
	require.NoError(t, err)
	assert.Equal(t, "capital of America", query)
}

func TestResolveQueryTextWinsOverPath(t *testing.T) {
	envelope := []byte(`{"query":{"match":{"text":"from the envelope"}}}`)
	spec := ContextSpec{
		QueryText:     "verbatim wins",
		QueryTextPath: "query.match.text",
	}
	query, err := ResolveQuery(envelope, spec)
	require.NoError(t, err)
	assert.Equal(t, "verbatim wins", query)
}

func TestResolveQueryPath(t *testing.T) {
	envelope := []byte(`{"query":{"match":{"text":"what does DNA stand for"}}}`)
	query, err := ResolveQuery(envelope, ContextSpec{QueryTextPath: "query.match.text"})
	require.NoError(t, err)
	assert.Equal(t, "what does DNA stand for", query)
}

func TestResolveQueryEmptySpec(t *testing.T) {
	_, err := ResolveQuery([]byte(`{}`), ContextSpec{})
	require.ErrorIs(t, err, ErrMissingQueryContext)
}

func TestResolveQueryPathNotFound(t *testing.T) {
	_, err := ResolveQuery([]byte(`{"query":{}}`), ContextSpec{QueryTextPath: "query.match.text"})
	require.ErrorIs(t, err, ErrInvalidQueryContext)
}

func TestResolveQueryPathNotAString(t *testing.T) {
	tests := []struct {
		name     string
		envelope string
		path     string
	}{
		{"object leaf", `{"query":{"match":{"text":{"nested":"x"}}}}`, "query.match.text"},
		{"number leaf", `{"size":10}`, "size"},
		{"array leaf", `{"tags":["a","b"]}`, "tags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveQuery([]byte(tt.envelope), ContextSpec{QueryTextPath: tt.path})
			require.ErrorIs(t, err, ErrInvalidQueryContext)
		})
	}
}

func TestExtractFieldScalars(t *testing.T) {
	source := []byte(`{"title":"Washington","year":1790,"active":true,"meta":{"a":1}}`)

	for path, want := range map[string]string{
		"title":  "Washington",
		"year":   "1790",
		"active": "true",
		"meta.a": "1",
	} {
		value, err := extractField(source, path)
		require.NoError(t, err, path)
		assert.Equal(t, want, value, path)
	}
}

func TestExtractFieldMissing(t *testing.T) {
	_, err := extractField([]byte(`{"title":"x"}`), "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
