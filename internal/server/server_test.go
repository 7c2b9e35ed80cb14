package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/pipegraph/internal/engine"
	"github.com/specialistvlad/pipegraph/internal/pipeline"
	"github.com/specialistvlad/pipegraph/internal/testutil"
)

func newTestServer(t *testing.T, secret string) (*Server, *engine.Engine) {
	t.Helper()
	ctx, _ := testutil.Context(t)

	b := pipeline.NewBuilder()
	require.NoError(t, b.RegisterStage(pipeline.Stage{
		ID:       "build",
		Triggers: []pipeline.Trigger{{Kind: pipeline.TriggerSourceChange, Enabled: true}},
	}))
	require.NoError(t, b.RegisterStage(pipeline.Stage{ID: "deploy"}, pipeline.Dependency{StageID: "build"}))
	g, err := b.Build()
	require.NoError(t, err)

	eng := engine.New(ctx, g)
	return New(ctx, eng, Config{WebhookSecret: secret}), eng
}

func do(t *testing.T, s *Server, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, "")
	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}

func TestSourceHook(t *testing.T) {
	t.Run("schedules triggered stages", func(t *testing.T) {
		s, eng := newTestServer(t, "")
		rec := do(t, s, http.MethodPost, "/api/v1/hooks/source", map[string]any{"revision": "abc", "committer": "alice"})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		resp := decode[scheduleResponse](t, rec)
		assert.Equal(t, "vcs", resp.Cause)
		require.Len(t, resp.Runs, 1)
		assert.Equal(t, "build", resp.Runs[0].StageID)
		assert.Equal(t, []string{resp.Runs[0].ID}, resp.Queued)
		assert.Len(t, eng.Runs(engine.RunFilter{}), 1)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		s, _ := newTestServer(t, "")
		rec := do(t, s, http.MethodPost, "/api/v1/hooks/source", map[string]any{"committer": "alice"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "revision is required")

		rec = do(t, s, http.MethodPost, "/api/v1/hooks/source", []byte("{"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects oversized body", func(t *testing.T) {
		s, eng := newTestServer(t, "")
		body := []byte(`{"revision":"abc","committer":"` + strings.Repeat("a", maxHookBody) + `"}`)
		rec := do(t, s, http.MethodPost, "/api/v1/hooks/source", body)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
		assert.Empty(t, eng.Runs(engine.RunFilter{}))
	})

	t.Run("verifies signatures", func(t *testing.T) {
		s, eng := newTestServer(t, "s3cret")
		body := []byte(`{"revision":"abc"}`)

		rec := do(t, s, http.MethodPost, "/api/v1/hooks/source", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = do(t, s, http.MethodPost, "/api/v1/hooks/source", body, SignatureHeader, Sign("wrong", body))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = do(t, s, http.MethodPost, "/api/v1/hooks/source", body, SignatureHeader, "sha256=zz")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, eng.Runs(engine.RunFilter{}))

		rec = do(t, s, http.MethodPost, "/api/v1/hooks/source", body, SignatureHeader, Sign("s3cret", body))
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Len(t, eng.Runs(engine.RunFilter{}), 1)
	})
}

func TestRunLifecycle(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := do(t, s, http.MethodPost, "/api/v1/stages/deploy/trigger", map[string]any{"revision": "abc"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sched := decode[scheduleResponse](t, rec)
	require.Len(t, sched.Runs, 2)
	build, deploy := sched.Runs[0], sched.Runs[1]
	assert.Equal(t, "build", build.StageID)
	assert.Equal(t, "deploy", deploy.StageID)

	rec = do(t, s, http.MethodGet, "/api/v1/runs?stage=deploy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]*pipeline.Run](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, pipeline.StatusPending, runs[0].Status)

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+build.ID+"/status", map[string]any{"status": "running"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+build.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "running runs cannot be canceled")

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+build.ID+"/status", map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+build.ID+"/status", map[string]any{"status": "succeeded", "produced": []string{"out/app.jar"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{deploy.ID}, decode[scheduleResponse](t, rec).Queued)

	// A duplicate report changes nothing.
	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+build.ID+"/status", map[string]any{"status": "failed"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/v1/runs/"+build.ID, nil)
	assert.Equal(t, pipeline.StatusSucceeded, decode[pipeline.Run](t, rec).Status)

	rec = do(t, s, http.MethodGet, "/api/v1/runs/"+deploy.ID+"/inputs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inputs := decode[[]engine.Input](t, rec)
	require.Len(t, inputs, 1)
	assert.Equal(t, build.ID, inputs[0].RunID)

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+deploy.ID+"/cancel", map[string]any{"reason": "release frozen"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/v1/runs/"+deploy.ID, nil)
	got := decode[pipeline.Run](t, rec)
	assert.Equal(t, pipeline.StatusCanceled, got.Status)
	assert.Equal(t, "release frozen", got.Reason)

	rec = do(t, s, http.MethodPost, "/api/v1/runs/"+deploy.ID+"/status", map[string]any{"status": "running"})
	assert.Equal(t, http.StatusConflict, rec.Code, "canceled runs cannot start")

	rec = do(t, s, http.MethodGet, "/api/v1/runs?status=canceled", nil)
	assert.Len(t, decode[[]*pipeline.Run](t, rec), 1)
}

func TestErrorMapping(t *testing.T) {
	s, _ := newTestServer(t, "")

	testCases := []struct {
		name   string
		method string
		target string
		body   any
		code   int
	}{
		{"unknown run", http.MethodGet, "/api/v1/runs/nope", nil, http.StatusNotFound},
		{"unknown run inputs", http.MethodGet, "/api/v1/runs/nope/inputs", nil, http.StatusNotFound},
		{"unknown run report", http.MethodPost, "/api/v1/runs/nope/status", map[string]any{"status": "failed"}, http.StatusNotFound},
		{"unknown status", http.MethodPost, "/api/v1/runs/nope/status", map[string]any{"status": "done"}, http.StatusBadRequest},
		{"unknown stage", http.MethodPost, "/api/v1/stages/nope/trigger", map[string]any{"revision": "abc"}, http.StatusNotFound},
		{"trigger without revision", http.MethodPost, "/api/v1/stages/build/trigger", map[string]any{}, http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/api/v1/runs?status=done", nil, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/nothing", nil, http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, tc.method, tc.target, tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t, "")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte("payload")
	assert.True(t, verifySignature("k", body, Sign("k", body)))
	assert.False(t, verifySignature("k", body, "sha1=abc"))
	assert.False(t, verifySignature("k", []byte("other"), Sign("k", body)))
}
