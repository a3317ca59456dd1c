package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/rerankd/internal/connector"
	"github.com/fyrsmithlabs/rerankd/internal/pipeline"
	"github.com/fyrsmithlabs/rerankd/internal/search"
	"github.com/fyrsmithlabs/rerankd/internal/transform"
)

// CreateConnectorResponse is the response body for POST /api/v1/connectors.
type CreateConnectorResponse struct {
	ConnectorID string `json:"connector_id"`
}

func (s *Server) handleCreateConnector(c echo.Context) error {
	var cfg connector.Config
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	applyPresetDefaults(&cfg)

	id, err := s.connectors.Register(c.Request().Context(), &cfg)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, CreateConnectorResponse{ConnectorID: id})
}

// Connector credentials marshal through config.Secret, so list and get
// responses always carry redacted values.
func (s *Server) handleListConnectors(c echo.Context) error {
	return c.JSON(http.StatusOK, s.connectors.List())
}

func (s *Server) handleGetConnector(c echo.Context) error {
	cfg, err := s.connectors.Get(c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleUpdateConnector(c echo.Context) error {
	var cfg connector.Config
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	// GET responses redact secret values, so a read-modify-write client
	// echoes the sentinel back. Keep the stored secret in that case
	// instead of persisting the literal redaction marker.
	if existing, err := s.connectors.Get(c.Param("id")); err == nil {
		preserveRedactedCredentials(&cfg.Credentials, existing.Credentials)
	}

	updated, err := s.connectors.Update(c.Request().Context(), c.Param("id"), &cfg)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

const redactedSentinel = "[REDACTED]"

func preserveRedactedCredentials(incoming *connector.Credentials, existing connector.Credentials) {
	if incoming.APIKey.Value() == redactedSentinel {
		incoming.APIKey = existing.APIKey
	}
	if incoming.Token.Value() == redactedSentinel {
		incoming.Token = existing.Token
	}
	if incoming.Password.Value() == redactedSentinel {
		incoming.Password = existing.Password
	}
	if incoming.ClientSecret.Value() == redactedSentinel {
		incoming.ClientSecret = existing.ClientSecret
	}
}

func (s *Server) handleDeleteConnector(c echo.Context) error {
	if err := s.connectors.Deregister(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DeployModelRequest is the request body for POST /api/v1/models.
type DeployModelRequest struct {
	ConnectorID string `json:"connector_id"`
	Name        string `json:"name"`
}

// DeployModelResponse is the response body for POST /api/v1/models.
type DeployModelResponse struct {
	ModelID string `json:"model_id"`
}

func (s *Server) handleDeployModel(c echo.Context) error {
	var req DeployModelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	modelID, err := s.connectors.Deploy(c.Request().Context(), req.ConnectorID, req.Name)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusCreated, DeployModelResponse{ModelID: modelID})
}

func (s *Server) handleListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, s.connectors.ListModels())
}

func (s *Server) handleGetModel(c echo.Context) error {
	binding, err := s.connectors.GetModel(c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, binding)
}

func (s *Server) handleUndeployModel(c echo.Context) error {
	if err := s.connectors.Undeploy(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PredictRequest is the request body for POST /api/v1/models/:id/_predict.
// It scores the given texts directly against the deployed model, the
// verification step before wiring the model into a pipeline.
type PredictRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

// PredictResponse is the response body for the predict endpoint.
type PredictResponse struct {
	Scores []transform.Score `json:"scores"`
}

func (s *Server) handlePredict(c echo.Context) error {
	var req PredictRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if len(req.Texts) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "texts field is required")
	}

	cfg, err := s.connectors.Resolve(c.Param("id"))
	if err != nil {
		return httpError(c, err)
	}

	scores, err := s.scorer.Score(c.Request().Context(), cfg, req.Query, req.Texts)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, PredictResponse{Scores: scores})
}

func (s *Server) handlePutPipeline(c echo.Context) error {
	var def pipeline.Definition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	stored, err := s.pipelines.Put(c.Param("name"), &def)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, stored)
}

func (s *Server) handleListPipelines(c echo.Context) error {
	return c.JSON(http.StatusOK, s.pipelines.List())
}

func (s *Server) handleGetPipeline(c echo.Context) error {
	p, err := s.pipelines.Get(c.Param("name"))
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, p.Definition())
}

func (s *Server) handleDeletePipeline(c echo.Context) error {
	if err := s.pipelines.Delete(c.Param("name")); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ExecuteRequest is the request body for POST
// /api/v1/pipelines/:name/_execute: the original search request envelope
// plus the response to post-process.
type ExecuteRequest struct {
	Request  search.Request   `json:"request"`
	Response *search.Response `json:"response"`
}

func (s *Server) handleExecutePipeline(c echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Response == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "response field is required")
	}

	p, err := s.pipelines.Get(c.Param("name"))
	if err != nil {
		return httpError(c, err)
	}

	processed, err := p.Execute(c.Request().Context(), &req.Request, req.Response)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, processed)
}

// applyPresetDefaults fills the endpoint and post-process transform from
// the embedded provider preset matching the connector's pre-process name,
// when those fields were left empty.
func applyPresetDefaults(cfg *connector.Config) {
	presets, err := transform.Presets()
	if err != nil {
		return
	}
	p, ok := presets[cfg.PreProcess]
	if !ok {
		return
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = p.Endpoint
	}
	if cfg.PostProcess == "" {
		cfg.PostProcess = p.PostProcess
	}
}

func (s *Server) handleListPresets(c echo.Context) error {
	presets, err := transform.Presets()
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, presets)
}
