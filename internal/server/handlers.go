package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/specialistvlad/pipegraph/internal/ctxlog"
	"github.com/specialistvlad/pipegraph/internal/engine"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
)

const maxHookBody = 1 << 20

type sourceChangeRequest struct {
	Revision  string    `json:"revision"`
	Committer string    `json:"committer"`
	Timestamp time.Time `json:"timestamp"`
}

type triggerRequest struct {
	Revision  string `json:"revision"`
	Committer string `json:"committer"`
}

type statusRequest struct {
	Status   string   `json:"status"`
	Produced []string `json:"produced"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type scheduleResponse struct {
	Cause    string          `json:"cause"`
	Runs     []*pipeline.Run `json:"runs"`
	Queued   []string        `json:"queued"`
	Deferred int             `json:"deferred"`
}

func newScheduleResponse(s *engine.Schedule) scheduleResponse {
	resp := scheduleResponse{Runs: []*pipeline.Run{}, Queued: []string{}}
	if s == nil {
		return resp
	}
	resp.Cause = s.Cause
	resp.Deferred = s.Deferred
	for r := range s.All() {
		resp.Runs = append(resp.Runs, r)
	}
	for _, r := range s.Queued {
		resp.Queued = append(resp.Queued, r.ID)
	}
	return resp
}

func (s *Server) sourceHook(c echo.Context) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxHookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
		}
		return badRequest("cannot read body")
	}
	if s.cfg.WebhookSecret != "" && !verifySignature(s.cfg.WebhookSecret, body, c.Request().Header.Get(SignatureHeader)) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	var req sourceChangeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(fmt.Sprintf("invalid JSON: %v", err))
	}
	if strings.TrimSpace(req.Revision) == "" {
		return badRequest("revision is required")
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	ctx := ctxlog.WithLogger(c.Request().Context(), ctxlog.FromContext(s.ctx))
	sched, err := s.engine.OnSourceChange(ctx, req.Revision, req.Committer, req.Timestamp)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, newScheduleResponse(sched))
}

func (s *Server) triggerStage(c echo.Context) error {
	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Revision) == "" {
		return badRequest("revision is required")
	}
	ctx := ctxlog.WithLogger(c.Request().Context(), ctxlog.FromContext(s.ctx))
	sched, err := s.engine.Trigger(ctx, c.Param("id"), req.Revision, req.Committer)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newScheduleResponse(sched))
}

func (s *Server) listRuns(c echo.Context) error {
	filter := engine.RunFilter{
		StageID:  c.QueryParam("stage"),
		Revision: c.QueryParam("revision"),
		Active:   c.QueryParam("active") == "true",
	}
	if raw := c.QueryParam("status"); raw != "" {
		st, err := pipeline.ParseStatus(raw)
		if err != nil {
			return badRequest(err.Error())
		}
		filter.Status = &st
	}
	runs := s.engine.Runs(filter)
	if runs == nil {
		runs = []*pipeline.Run{}
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) getRun(c echo.Context) error {
	run, err := s.engine.Run(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) runInputs(c echo.Context) error {
	ctx := ctxlog.WithLogger(c.Request().Context(), ctxlog.FromContext(s.ctx))
	inputs, err := s.engine.ResolveInputs(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if inputs == nil {
		inputs = []engine.Input{}
	}
	return c.JSON(http.StatusOK, inputs)
}

func (s *Server) reportStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	status, err := pipeline.ParseStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		return badRequest(err.Error())
	}

	ctx := ctxlog.WithLogger(c.Request().Context(), ctxlog.FromContext(s.ctx))
	id := c.Param("id")
	if status == pipeline.StatusRunning {
		if err := s.engine.OnRunStarted(ctx, id); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
	sched, err := s.engine.OnRunFinished(ctx, id, status, req.Produced...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newScheduleResponse(sched))
}

func (s *Server) cancelRun(c echo.Context) error {
	var req cancelRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return err
		}
	}
	ctx := ctxlog.WithLogger(c.Request().Context(), ctxlog.FromContext(s.ctx))
	sched, err := s.engine.Cancel(ctx, c.Param("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newScheduleResponse(sched))
}
