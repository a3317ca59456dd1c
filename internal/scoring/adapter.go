// Package scoring dispatches document/query batches to remote reranking
// models and normalizes their responses into ordered (index, score) pairs.
//
// The adapter is the system's sole suspension point: it blocks on external
// I/O under a caller- or connector-supplied timeout, never retries, and
// holds no locks across the call. Everything else about a scoring call is
// pure translation through the connector's transform pair.
package scoring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/rerankd/internal/config"
	"github.com/fyrsmithlabs/rerankd/internal/connector"
	"github.com/fyrsmithlabs/rerankd/internal/logging"
	"github.com/fyrsmithlabs/rerankd/internal/transform"
)

var scoringTracer = otel.Tracer(scoringInstrumentationName)

// Adapter executes scoring calls against remote model services. It is
// stateless across calls aside from connection reuse on the shared HTTP
// client and cached OAuth2 token sources.
type Adapter struct {
	client         *http.Client
	transforms     *transform.Registry
	limiter        *rate.Limiter
	defaultTimeout time.Duration
	maxDocuments   int
	metrics        *Metrics
	logger         *logging.Logger
	tokens         *tokenCache
}

// NewAdapter creates an adapter bounded by the transport configuration.
func NewAdapter(transforms *transform.Registry, cfg config.TransportConfig, logger *logging.Logger) (*Adapter, error) {
	if transforms == nil {
		return nil, fmt.Errorf("transform registry is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	var limiter *rate.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	return &Adapter{
		// No client-level timeout: the per-call deadline comes from the
		// request context so connector overrides apply.
		client:         &http.Client{},
		transforms:     transforms,
		limiter:        limiter,
		defaultTimeout: cfg.Timeout.Duration(),
		maxDocuments:   cfg.MaxDocuments,
		metrics:        NewMetrics(logger.Underlying()),
		logger:         logger,
		tokens:         newTokenCache(),
	}, nil
}

// Score sends the query and ordered documents to the connector's endpoint
// and returns validated (index, score) pairs: exactly len(documents)
// entries whose indices form a permutation of [0, N).
func (a *Adapter) Score(ctx context.Context, cfg *connector.Config, query string, documents []string) ([]transform.Score, error) {
	start := time.Now()
	var callErr error
	defer func() {
		a.metrics.RecordCall(ctx, cfg.Name, time.Since(start), len(documents), callErr)
	}()

	ctx, span := scoringTracer.Start(ctx, "Adapter.Score")
	defer span.End()
	span.SetAttributes(
		attribute.String("connector.id", cfg.ID),
		attribute.String("connector.name", cfg.Name),
		attribute.Int("document_count", len(documents)),
	)

	scores, err := a.score(ctx, cfg, query, documents)
	if err != nil {
		callErr = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return scores, nil
}

func (a *Adapter) score(ctx context.Context, cfg *connector.Config, query string, documents []string) ([]transform.Score, error) {
	// Nothing to score; skip the outbound call entirely.
	if len(documents) == 0 {
		return []transform.Score{}, nil
	}

	if a.maxDocuments > 0 && len(documents) > a.maxDocuments {
		return nil, fmt.Errorf("%w: %d documents, limit %d", ErrBatchTooLarge, len(documents), a.maxDocuments)
	}

	pre, err := a.transforms.Pre(cfg.PreProcess)
	if err != nil {
		return nil, err
	}
	post, err := a.transforms.Post(cfg.PostProcess)
	if err != nil {
		return nil, err
	}

	body, err := pre(transform.Request{
		Query:     query,
		Documents: documents,
		Model:     cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("pre-process transform %q: %w", cfg.PreProcess, err)
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{ConnectorID: cfg.ID, Endpoint: cfg.Endpoint, Cause: err}
		}
	}

	timeout := a.defaultTimeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout.Duration()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if err := a.applyCredentials(req, cfg); err != nil {
		return nil, &TransportError{ConnectorID: cfg.ID, Endpoint: cfg.Endpoint, Cause: err}
	}

	a.logger.Trace(ctx, "scoring request",
		zap.String("endpoint", cfg.Endpoint),
		zap.Int("documents", len(documents)),
		zap.ByteString("body", body),
	)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &TransportError{ConnectorID: cfg.ID, Endpoint: cfg.Endpoint, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{ConnectorID: cfg.ID, Endpoint: cfg.Endpoint, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			ConnectorID: cfg.ID,
			Endpoint:    cfg.Endpoint,
			StatusCode:  resp.StatusCode,
			Cause:       fmt.Errorf("%s", bytes.TrimSpace(raw)),
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: connector %s returned an empty body", ErrEmptyResponse, cfg.ID)
	}

	scores, err := post(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: connector %s: %v", ErrEmptyResponse, cfg.ID, err)
	}

	return a.validate(cfg, len(documents), scores)
}

// validate enforces the scoring contract: one score per submitted
// document, indices a permutation of [0, N). Duplicate indices count as a
// mismatch.
func (a *Adapter) validate(cfg *connector.Config, want int, scores []transform.Score) ([]transform.Score, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: connector %s returned no scores for %d documents", ErrEmptyResponse, cfg.ID, want)
	}
	if len(scores) != want {
		return nil, &IndexMismatchError{ConnectorID: cfg.ID, Want: want, Got: len(scores)}
	}

	seen := make([]bool, want)
	for _, s := range scores {
		if s.Index < 0 || s.Index >= want {
			return nil, &IndexMismatchError{
				ConnectorID: cfg.ID,
				Want:        want,
				Got:         len(scores),
				Detail:      fmt.Sprintf("index %d out of range [0, %d)", s.Index, want),
			}
		}
		if seen[s.Index] {
			return nil, &IndexMismatchError{
				ConnectorID: cfg.ID,
				Want:        want,
				Got:         len(scores),
				Detail:      fmt.Sprintf("duplicate index %d", s.Index),
			}
		}
		seen[s.Index] = true
	}
	return scores, nil
}
