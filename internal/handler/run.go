package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/model"
	"github.com/sakif/code-runner/internal/repository"
	"github.com/sakif/code-runner/internal/service"
)

// MaxRequestBytes bounds a POST /run body.
const MaxRequestBytes = 1 << 20

// RunService is what the handlers need from *service.RunService.
type RunService interface {
	Run(ctx context.Context, req service.RunRequest) (*service.RunResult, error)
	Get(ctx context.Context, id string) (*model.Run, error)
	List(ctx context.Context, opts repository.ListOptions) ([]model.Run, error)
}

// RunHandler serves job submission and run history.
type RunHandler struct {
	svc    RunService
	logger *slog.Logger
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(svc RunService, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		svc:    svc,
		logger: logger,
	}
}

// runRequest is the POST /run body. Code and Input are pointers so a field
// that is absent can be told apart from one that is empty.
type runRequest struct {
	Language string  `json:"language"`
	Code     *string `json:"code"`
	Input    *string `json:"input"`
}

// RunResponse is the POST /run success body.
type RunResponse struct {
	Output string `json:"output"`
}

// HandleRun handles POST /run.
//
// The request blocks until the program exits. The job id and history id go
// out as headers so the body stays exactly {"output": ...}.
func (h *RunHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBytes)

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: "request body too large",
				Kind:  "validation_error",
			})
			return
		}
		h.logger.Warn("invalid run request body", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("", "invalid JSON body"))
		return
	}

	result, err := h.svc.Run(r.Context(), service.RunRequest{
		Language: req.Language,
		Code:     req.Code,
		Input:    req.Input,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("X-Job-ID", result.JobID)
	if result.RunID != "" {
		w.Header().Set("X-Run-ID", result.RunID)
	}
	writeJSON(w, http.StatusOK, RunResponse{Output: result.Output})
}

// ListRunsResponse is the GET /runs body.
type ListRunsResponse struct {
	Runs   []model.Run `json:"runs"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// HandleListRuns handles GET /runs?limit=&offset=&language=&status=.
func (h *RunHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(q.Get("limit"), service.DefaultListLimit)
	if err != nil {
		writeError(w, apperror.ValidationFailed("limit", "limit must be an integer"))
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		writeError(w, apperror.ValidationFailed("offset", "offset must be an integer"))
		return
	}

	opts := repository.ListOptions{
		Limit:    limit,
		Offset:   offset,
		Language: q.Get("language"),
		Status:   model.RunStatus(q.Get("status")),
	}

	runs, err := h.svc.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}

	if limit <= 0 {
		limit = service.DefaultListLimit
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{
		Runs:   runs,
		Limit:  min(limit, service.MaxListLimit),
		Offset: max(offset, 0),
	})
}

// HandleGetRun handles GET /runs/{id}.
func (h *RunHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
