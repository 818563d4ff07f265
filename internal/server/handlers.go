package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quietloop/engram/internal/engine"
	"github.com/quietloop/engram/internal/storage"
	"github.com/quietloop/engram/pkg/types"
)

type ingestRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	result, err := s.engine.Ingest(r.Context(), req.Text, req.Source)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	opts := engine.SearchOptions{
		Query:          query,
		Category:       q.Get("category"),
		IncludeHistory: q.Get("include_history") == "true",
		Deep:           q.Get("deep") == "true",
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}

	results, err := s.engine.Search(r.Context(), opts)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleAssembleContext(w http.ResponseWriter, r *http.Request) {
	var req engine.AssembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	block := s.engine.AssembleContext(r.Context(), req)
	writeJSON(w, http.StatusOK, block)
}

func (s *Server) handleListCommitments(w http.ResponseWriter, r *http.Request) {
	var (
		commitments []types.Commitment
		err         error
	)
	switch r.URL.Query().Get("filter") {
	case "", "active":
		commitments, err = s.engine.Commitments().ListActive(r.Context())
	case "due-soon":
		commitments, err = s.engine.Commitments().DueSoon(r.Context())
	case "overdue":
		commitments, err = s.engine.Commitments().Overdue(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "unknown filter")
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"commitments": commitments,
		"count":       len(commitments),
	})
}

type addCommitmentRequest struct {
	Content   string `json:"content"`
	Target    string `json:"target"`
	DuePhrase string `json:"due_phrase"`
}

func (s *Server) handleAddCommitment(w http.ResponseWriter, r *http.Request) {
	var req addCommitmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	c, err := s.engine.Commitments().Add(r.Context(), req.Content, req.Target, req.DuePhrase)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleCompleteCommitment(w http.ResponseWriter, r *http.Request) {
	s.transitionCommitment(w, r, s.engine.Commitments().Complete)
}

func (s *Server) handleCancelCommitment(w http.ResponseWriter, r *http.Request) {
	s.transitionCommitment(w, r, s.engine.Commitments().Cancel)
}

func (s *Server) transitionCommitment(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type captureSnapshotRequest struct {
	Trigger    string `json:"trigger"`
	Resource   string `json:"resource"`
	LastAction string `json:"last_action"`
	NextStep   string `json:"next_step"`
	Session    string `json:"session"`
	Channel    string `json:"channel"`
}

func (s *Server) handleCaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	var req captureSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	trigger := types.SnapshotTrigger(req.Trigger)
	if !trigger.Valid() {
		writeError(w, http.StatusBadRequest, "unknown trigger")
		return
	}
	if req.Session == "" {
		writeError(w, http.StatusBadRequest, "session is required")
		return
	}

	snap, err := s.engine.Snapshots().Capture(r.Context(), engine.CaptureRequest{
		Trigger:    trigger,
		Resource:   req.Resource,
		LastAction: req.LastAction,
		NextStep:   req.NextStep,
		Session:    req.Session,
		Channel:    req.Channel,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleResumeSnapshot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	session := q.Get("session")
	if session == "" {
		writeError(w, http.StatusBadRequest, "session is required")
		return
	}

	resumed, err := s.engine.Snapshots().Resume(r.Context(), session, q.Get("channel"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resumed)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Health(r.Context()))
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.RunConsolidation(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeEngineError maps storage sentinels onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "conflicting concurrent update")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
