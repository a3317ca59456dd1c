package scoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rerankd/internal/config"
	"github.com/fyrsmithlabs/rerankd/internal/connector"
	"github.com/fyrsmithlabs/rerankd/internal/logging"
	"github.com/fyrsmithlabs/rerankd/internal/transform"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := NewAdapter(transform.Default(), config.TransportConfig{
		Timeout:      config.Duration(5 * time.Second),
		MaxDocuments: 100,
	}, logging.NewTestLogger().Logger)
	require.NoError(t, err)
	return a
}

func teiConnector(endpoint string) *connector.Config {
	return &connector.Config{
		ID:          "conn-1",
		Name:        "tei-local",
		Version:     1,
		Endpoint:    endpoint,
		PreProcess:  "tei",
		PostProcess: "tei",
	}
}

func TestScoreHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`[{"index":0,"score":0.1},{"index":1,"score":0.9},{"index":2,"score":0.5}]`))
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	scores, err := a.Score(context.Background(), teiConnector(srv.URL), "q", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []transform.Score{
		{Index: 0, Score: 0.1},
		{Index: 1, Score: 0.9},
		{Index: 2, Score: 0.5},
	}, scores)
}

func TestScoreZeroDocumentsSkipsCall(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	scores, err := a.Score(context.Background(), teiConnector(srv.URL), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
	assert.Equal(t, int64(0), calls.Load())
}

func TestScoreAPIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-key", r.Header.Get("X-Api-Key"))
		w.Write([]byte(`[{"index":0,"score":1.0}]`))
	}))
	defer srv.Close()

	cfg := teiConnector(srv.URL)
	cfg.Credentials = connector.Credentials{
		Type:   connector.CredentialAPIKey,
		APIKey: config.Secret("secret-key"),
	}

	a := newTestAdapter(t)
	_, err := a.Score(context.Background(), cfg, "q", []string{"a"})
	require.NoError(t, err)
}

func TestScoreBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"index":0,"score":1.0}]`))
	}))
	defer srv.Close()

	cfg := teiConnector(srv.URL)
	cfg.Credentials = connector.Credentials{
		Type:  connector.CredentialBearer,
		Token: config.Secret("tok-123"),
	}

	a := newTestAdapter(t)
	_, err := a.Score(context.Background(), cfg, "q", []string{"a"})
	require.NoError(t, err)
}

func TestScoreBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "svc", user)
		assert.Equal(t, "pw", pass)
		w.Write([]byte(`[{"index":0,"score":1.0}]`))
	}))
	defer srv.Close()

	cfg := teiConnector(srv.URL)
	cfg.Credentials = connector.Credentials{
		Type:     connector.CredentialBasic,
		Username: "svc",
		Password: config.Secret("pw"),
	}

	a := newTestAdapter(t)
	_, err := a.Score(context.Background(), cfg, "q", []string{"a"})
	require.NoError(t, err)
}

func TestScoreCohereTransform(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.8},{"index":0,"relevance_score":0.2}]}`))
	}))
	defer srv.Close()

	cfg := teiConnector(srv.URL)
	cfg.PreProcess = "cohere"
	cfg.PostProcess = "cohere"

	a := newTestAdapter(t)
	scores, err := a.Score(context.Background(), cfg, "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []transform.Score{{Index: 1, Score: 0.8}, {Index: 0, Score: 0.2}}, scores)
}

func TestScoreEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("  \n"))
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	_, err := a.Score(context.Background(), teiConnector(srv.URL), "q", []string{"a"})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestScoreEmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	_, err := a.Score(context.Background(), teiConnector(srv.URL), "q", []string{"a", "b"})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestScoreMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected": true`))
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	_, err := a.Score(context.Background(), teiConnector(srv.URL), "q", []string{"a"})
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only 3 scores for 4 documents.
		w.Write([]byte(`[{"index":0,"score":0.1},{"index":1,"score":0.2},{"index":2,"score":0.3}]`))
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	_, err := a.Score(context.Background(), teiConnector(srv.URL), "q", []string{"a", "b", "c", "d"})

	var mismatch *IndexMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 4, mismatch.Want)
	assert.Equal(t, 3, mismatch.Got)
}

func TestScoreDuplicateIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"index":0,"score":0.1},{"index":0,"score":0.2}]`))
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	_, err := a.Score(context.Background(), teiConnector(srv.URL), "q", []string{"a", "b"})

	var mismatch *IndexMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Detail, "duplicate index 0")
}

func TestScoreIndexOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"index":0,"score":0.1},{"index":5,"score":0.2}]`))
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	_, err := a.Score(context.Background(), teiConnector(srv.URL), "q", []string{"a", "b"})

	var mismatch *IndexMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Detail, "out of range")
}

func TestScoreHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := newTestAdapter(t)
	_, err := a.Score(context.Background(), teiConnector(srv.URL), "q", []string{"a"})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusServiceUnavailable, te.StatusCode)
	assert.Equal(t, "conn-1", te.ConnectorID)
}

func TestScoreTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(`[{"index":0,"score":1.0}]`))
	}))
	defer srv.Close()

	cfg := teiConnector(srv.URL)
	cfg.Timeout = config.Duration(50 * time.Millisecond)

	a := newTestAdapter(t)
	_, err := a.Score(context.Background(), cfg, "q", []string{"a"})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "cause should be the deadline: %v", err)
}

func TestScoreConnectionRefused(t *testing.T) {
	a := newTestAdapter(t)
	cfg := teiConnector("http://127.0.0.1:1") // nothing listens here

	_, err := a.Score(context.Background(), cfg, "q", []string{"a"})

	var te *TransportError
	require.ErrorAs(t, err, &te)
}

func TestScoreBatchTooLarge(t *testing.T) {
	a, err := NewAdapter(transform.Default(), config.TransportConfig{
		Timeout:      config.Duration(time.Second),
		MaxDocuments: 2,
	}, logging.NewTestLogger().Logger)
	require.NoError(t, err)

	_, err = a.Score(context.Background(), teiConnector("http://localhost:1"), "q", []string{"a", "b", "c"})
	require.ErrorIs(t, err, ErrBatchTooLarge)
}
