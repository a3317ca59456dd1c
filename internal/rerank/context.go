package rerank

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Errors for query context resolution.
var (
	ErrMissingQueryContext = errors.New("missing query context")
	ErrInvalidQueryContext = errors.New("invalid query context")
)

// ContextSpec selects the query text for a rerank call: either verbatim
// text or a path expression into the original request envelope. When both
// are set, query_text wins.
type ContextSpec struct {
	QueryText     string `json:"query_text,omitempty"`
	QueryTextPath string `json:"query_text_path,omitempty"`
}

// ResolveQuery produces the query string for scoring. Pure function, no
// side effects.
func ResolveQuery(envelope []byte, spec ContextSpec) (string, error) {
	if spec.QueryText != "" {
		return spec.QueryText, nil
	}
	if spec.QueryTextPath == "" {
		return "", fmt.Errorf("%w: one of query_text or query_text_path is required", ErrMissingQueryContext)
	}

	result := gjson.GetBytes(envelope, spec.QueryTextPath)
	if !result.Exists() {
		return "", fmt.Errorf("%w: path %q does not resolve in the request body", ErrInvalidQueryContext, spec.QueryTextPath)
	}
	if result.Type != gjson.String {
		return "", fmt.Errorf("%w: path %q resolves to %s, expected a string leaf", ErrInvalidQueryContext, spec.QueryTextPath, result.Type)
	}
	return result.String(), nil
}

// extractField resolves one document field from a hit source. Missing or
// non-scalar leaves are errors; a silently empty document would skew the
// model's scores.
func extractField(source []byte, path string) (string, error) {
	result := gjson.GetBytes(source, path)
	if !result.Exists() {
		return "", fmt.Errorf("document field %q not found", path)
	}
	switch result.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return result.String(), nil
	default:
		return "", fmt.Errorf("document field %q is not a scalar (got %s)", path, result.Type)
	}
}
