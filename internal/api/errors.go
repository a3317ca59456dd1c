package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/rerankd/internal/connector"
	"github.com/fyrsmithlabs/rerankd/internal/pipeline"
	"github.com/fyrsmithlabs/rerankd/internal/rerank"
	"github.com/fyrsmithlabs/rerankd/internal/scoring"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// httpError maps domain errors onto HTTP status codes:
//
//	400  invalid input (config, definitions, query context)
//	404  unknown connector, model or pipeline
//	409  name conflicts and bindings whose connector is gone
//	422  the remote model violated the scoring contract
//	502  transport failures talking to the remote model
//	504  deadline exceeded
func httpError(c echo.Context, err error) error {
	var (
		transportErr *scoring.TransportError
		mismatchErr  *scoring.IndexMismatchError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &transportErr):
		status = http.StatusBadGateway
	case errors.As(err, &mismatchErr), errors.Is(err, scoring.ErrEmptyResponse):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, connector.ErrNameTaken), errors.Is(err, connector.ErrModelUnavailable):
		status = http.StatusConflict
	case errors.Is(err, connector.ErrUnknownConnector),
		errors.Is(err, connector.ErrUnknownModel),
		errors.Is(err, pipeline.ErrUnknownPipeline):
		status = http.StatusNotFound
	case errors.Is(err, connector.ErrInvalidConfig),
		errors.Is(err, pipeline.ErrInvalidDefinition),
		errors.Is(err, pipeline.ErrUnknownProcessor),
		errors.Is(err, rerank.ErrMissingQueryContext),
		errors.Is(err, rerank.ErrInvalidQueryContext),
		errors.Is(err, scoring.ErrBatchTooLarge):
		status = http.StatusBadRequest
	}

	return c.JSON(status, ErrorResponse{Error: err.Error()})
}
