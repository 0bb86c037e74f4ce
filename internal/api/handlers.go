package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/yangwenmai/pagesmith/internal/metrics"
	"github.com/yangwenmai/pagesmith/internal/model"
	"github.com/yangwenmai/pagesmith/internal/store"
	"github.com/yangwenmai/pagesmith/internal/worker"
)

// ---------------------------------------------------------------------------
// POST /handle-task
// ---------------------------------------------------------------------------

type taskResponse struct {
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	status := s.acceptTask(w, r)
	metrics.RequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// acceptTask checks the secret, then the round, and hands the task to the
// dispatcher. It returns the status code written. Only the secret is read
// before authentication, so a mistyped field from an unauthenticated caller
// still gets 403.
func (s *Server) acceptTask(w http.ResponseWriter, r *http.Request) int {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return http.StatusRequestEntityTooLarge
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return http.StatusBadRequest
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return http.StatusBadRequest
	}
	var secret string
	_ = json.Unmarshal(envelope["secret"], &secret)
	if !secretMatches(secret, s.opts.Secret) {
		log.Ctx(r.Context()).Warn().Msg("rejected task with invalid secret")
		writeError(w, http.StatusForbidden, "Invalid secret")
		return http.StatusForbidden
	}

	task := &model.TaskRequest{}
	if err := json.Unmarshal(body, task); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid task: %v", err))
		return http.StatusBadRequest
	}
	if err := task.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	}

	id, err := s.opts.Dispatcher.Submit(r.Context(), task)
	if errors.Is(err, worker.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return http.StatusServiceUnavailable
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start task")
		return http.StatusInternalServerError
	}

	writeJSON(w, http.StatusOK, taskResponse{
		Message: acceptMessage(task.Round),
		RunID:   id,
	})
	return http.StatusOK
}

func acceptMessage(round model.Round) string {
	name := "Build"
	if round == model.RoundRevise {
		name = "Revise"
	}
	return fmt.Sprintf("Request for Round %d (%s) received. Process started in the background.", round, name)
}

// secretMatches compares in constant time. An empty configured secret never matches.
func secretMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ---------------------------------------------------------------------------
// GET /runs
// ---------------------------------------------------------------------------

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.RunFilter{
		Task:   q.Get("task"),
		Status: splitComma(q.Get("status")),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	runs, err := s.opts.Runs.ListRuns(r.Context(), filter)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("list runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// ---------------------------------------------------------------------------
// GET /runs/stats
// ---------------------------------------------------------------------------

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.opts.Runs.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count runs")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// ---------------------------------------------------------------------------
// GET /runs/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.opts.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
