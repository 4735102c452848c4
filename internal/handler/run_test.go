package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/handler"
	"github.com/sakif/code-runner/internal/language"
	"github.com/sakif/code-runner/internal/model"
	"github.com/sakif/code-runner/internal/repository"
	"github.com/sakif/code-runner/internal/service"
)

// MockRunService implements handler.RunService without touching disk or processes.
type MockRunService struct {
	CapturedReq  service.RunRequest
	CapturedOpts repository.ListOptions
	Calls        int
	ReturnRes    *service.RunResult
	ReturnRun    *model.Run
	ReturnRuns   []model.Run
	ReturnErr    error
}

func (m *MockRunService) Run(_ context.Context, req service.RunRequest) (*service.RunResult, error) {
	m.Calls++
	m.CapturedReq = req
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnRes, nil
}

func (m *MockRunService) Get(_ context.Context, id string) (*model.Run, error) {
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnRun, nil
}

func (m *MockRunService) List(_ context.Context, opts repository.ListOptions) ([]model.Run, error) {
	m.CapturedOpts = opts
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnRuns, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func postRun(h *handler.RunHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.HandleRun(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var res handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	return res
}

func TestRunHandler_HandleRun(t *testing.T) {
	logger := testLogger()

	t.Run("valid execution", func(t *testing.T) {
		mock := &MockRunService{ReturnRes: &service.RunResult{Output: "hello\n", JobID: "job-1", RunID: "run-1"}}
		h := handler.NewRunHandler(mock, logger)

		rr := postRun(h, `{"language":"py","code":"import sys; print(sys.stdin.read().strip())","input":"hello"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		assert.Equal(t, "job-1", rr.Header().Get("X-Job-ID"))
		assert.Equal(t, "run-1", rr.Header().Get("X-Run-ID"))
		assert.JSONEq(t, `{"output":"hello\n"}`, rr.Body.String())

		assert.Equal(t, "py", mock.CapturedReq.Language)
		require.NotNil(t, mock.CapturedReq.Code)
		require.NotNil(t, mock.CapturedReq.Input)
		assert.Equal(t, "hello", *mock.CapturedReq.Input)
	})

	t.Run("absent fields stay nil", func(t *testing.T) {
		mock := &MockRunService{ReturnErr: apperror.ValidationFailed("input", "input is required")}
		h := handler.NewRunHandler(mock, logger)

		rr := postRun(h, `{"code":"x"}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Nil(t, mock.CapturedReq.Input)
		assert.Empty(t, mock.CapturedReq.Language, "defaulting is the service's job")

		res := decodeError(t, rr)
		assert.Equal(t, "input is required", res.Error)
		assert.Equal(t, "validation_error", res.Kind)
		assert.Equal(t, "input", res.Field)
	})

	t.Run("empty input is passed through", func(t *testing.T) {
		mock := &MockRunService{ReturnRes: &service.RunResult{Output: ""}}
		h := handler.NewRunHandler(mock, logger)

		rr := postRun(h, `{"code":"x","input":""}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		require.NotNil(t, mock.CapturedReq.Input)
		assert.Equal(t, "", *mock.CapturedReq.Input)
	})

	t.Run("invalid request body", func(t *testing.T) {
		mock := &MockRunService{}
		h := handler.NewRunHandler(mock, logger)

		rr := postRun(h, `{"invalid_json":`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, 0, mock.Calls, "service must not be called")
		assert.Equal(t, "validation_error", decodeError(t, rr).Kind)
	})

	t.Run("wrong field type", func(t *testing.T) {
		mock := &MockRunService{}
		h := handler.NewRunHandler(mock, logger)

		rr := postRun(h, `{"code":42,"input":""}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, 0, mock.Calls)
	})

	t.Run("body too large", func(t *testing.T) {
		mock := &MockRunService{}
		h := handler.NewRunHandler(mock, logger)

		big := `{"code":"` + strings.Repeat("a", handler.MaxRequestBytes) + `","input":""}`
		rr := postRun(h, big)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
		assert.Equal(t, 0, mock.Calls)
	})

	t.Run("unsupported language", func(t *testing.T) {
		mock := &MockRunService{ReturnErr: apperror.Unsupported("rust")}
		h := handler.NewRunHandler(mock, logger)

		rr := postRun(h, `{"language":"rust","code":"fn main(){}","input":""}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		res := decodeError(t, rr)
		assert.Contains(t, res.Error, "unsupported language")
		assert.Equal(t, "unsupported_language", res.Kind)
	})

	t.Run("compile failure carries diagnostic", func(t *testing.T) {
		diag := "job.cpp: In function 'int main()':\njob.cpp:1:20: error: expected ';' before '}' token\n"
		mock := &MockRunService{ReturnErr: apperror.ExecutionFailed("build", diag, nil)}
		h := handler.NewRunHandler(mock, logger)

		rr := postRun(h, `{"language":"cpp","code":"int main(){return 0}","input":""}`)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		res := decodeError(t, rr)
		assert.Equal(t, diag, res.Error, "diagnostic is returned verbatim")
		assert.Equal(t, "execution_error", res.Kind)
		assert.Equal(t, "build", res.Stage)
	})

	t.Run("infrastructure failure is generic", func(t *testing.T) {
		mock := &MockRunService{ReturnErr: fmt.Errorf("service: materializing job: %w", errors.New("open /data/codes/x.py: no space left on device"))}
		h := handler.NewRunHandler(mock, logger)

		rr := postRun(h, `{"code":"x","input":""}`)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		res := decodeError(t, rr)
		assert.Equal(t, "internal_error", res.Kind)
		assert.NotContains(t, res.Error, "/data/codes")
	})
}

// ============================================================================
// HISTORY
// ============================================================================

func TestRunHandler_HandleListRuns(t *testing.T) {
	logger := testLogger()

	t.Run("passes query to service", func(t *testing.T) {
		mock := &MockRunService{ReturnRuns: []model.Run{{ID: "a", Language: "py", Status: model.RunOK}}}
		h := handler.NewRunHandler(mock, logger)

		req := httptest.NewRequest(http.MethodGet, "/runs?limit=5&offset=10&language=py&status=ok", nil)
		rr := httptest.NewRecorder()
		h.HandleListRuns(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, repository.ListOptions{Limit: 5, Offset: 10, Language: "py", Status: model.RunOK}, mock.CapturedOpts)

		var res handler.ListRunsResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Len(t, res.Runs, 1)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, 10, res.Offset)
	})

	t.Run("defaults", func(t *testing.T) {
		mock := &MockRunService{ReturnRuns: []model.Run{}}
		h := handler.NewRunHandler(mock, logger)

		req := httptest.NewRequest(http.MethodGet, "/runs", nil)
		rr := httptest.NewRecorder()
		h.HandleListRuns(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, service.DefaultListLimit, mock.CapturedOpts.Limit)
		assert.JSONEq(t, `{"runs":[],"limit":20,"offset":0}`, rr.Body.String())
	})

	t.Run("bad limit", func(t *testing.T) {
		h := handler.NewRunHandler(&MockRunService{}, logger)

		req := httptest.NewRequest(http.MethodGet, "/runs?limit=ten", nil)
		rr := httptest.NewRecorder()
		h.HandleListRuns(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "limit", decodeError(t, rr).Field)
	})
}

func TestRunHandler_HandleGetRun(t *testing.T) {
	logger := testLogger()

	newRouter := func(mock *MockRunService) http.Handler {
		r := chi.NewRouter()
		r.Get("/runs/{id}", handler.NewRunHandler(mock, logger).HandleGetRun)
		return r
	}

	t.Run("found", func(t *testing.T) {
		mock := &MockRunService{ReturnRun: &model.Run{ID: "cv37rs3pp9olc6atsptg", JobID: "j", Language: "go", Status: model.RunFailed, Stage: "run"}}

		rr := httptest.NewRecorder()
		newRouter(mock).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/cv37rs3pp9olc6atsptg", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var run model.Run
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
		assert.Equal(t, "cv37rs3pp9olc6atsptg", run.ID)
		assert.Equal(t, "run", run.Stage)
	})

	t.Run("not found", func(t *testing.T) {
		mock := &MockRunService{ReturnErr: apperror.NotFound("run", "nope")}

		rr := httptest.NewRecorder()
		newRouter(mock).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/nope", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "not_found", decodeError(t, rr).Kind)
	})
}

// ============================================================================
// HEALTH
// ============================================================================

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	logger := testLogger()

	t.Run("ok", func(t *testing.T) {
		h := handler.NewHealthHandler([]language.Language{"cpp", "py"}, stubPinger{}, logger)
		rr := httptest.NewRecorder()
		h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"ok","languages":["cpp","py"],"history":"ok"}`, rr.Body.String())
	})

	t.Run("degraded history", func(t *testing.T) {
		h := handler.NewHealthHandler([]language.Language{"py"}, stubPinger{err: errors.New("closed")}, logger)
		rr := httptest.NewRecorder()
		h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"degraded","languages":["py"],"history":"unavailable"}`, rr.Body.String())
	})

	t.Run("no history configured", func(t *testing.T) {
		h := handler.NewHealthHandler([]language.Language{"js"}, nil, logger)
		rr := httptest.NewRecorder()
		h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.JSONEq(t, `{"status":"ok","languages":["js"]}`, rr.Body.String())
	})
}
