package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/engine"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

// errorResponse is the JSON body of every error.
type errorResponse struct {
	Error string `json:"error"`
}

// statusOf maps engine and pipeline errors to HTTP status codes.
func statusOf(err error) int {
	var (
		httpErr       *echo.HTTPError
		runNotFound   *pipeline.RunNotFoundError
		unknownStage  *pipeline.UnknownStageError
		noDependency  *pipeline.NoDependencyError
		invalid       *pipeline.InvalidTransitionError
		artifactError *pipeline.ArtifactNotFoundError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.As(err, &runNotFound), errors.As(err, &unknownStage), errors.As(err, &noDependency):
		return http.StatusNotFound
	case errors.As(err, &invalid), errors.As(err, &artifactError):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusOf(err)
	msg := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg = http.StatusText(code)
		if m, ok := httpErr.Message.(string); ok {
			msg = m
		}
	}
	if code >= http.StatusInternalServerError {
		ctxlog.FromContext(s.ctx).Error("Request failed.", "path", c.Path(), "error", err)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorResponse{Error: msg})
	}
	if err != nil {
		ctxlog.FromContext(s.ctx).Error("Failed to write error response.", "error", err)
	}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
