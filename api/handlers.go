package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"articlerec/pipeline"

	"go.uber.org/zap"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

func (s *Server) RecommendationsHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "missing article id", http.StatusBadRequest)
		return
	}

	recs := s.recommender.Recommend(r.Context(), id)
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) VectorizeHandler(w http.ResponseWriter, r *http.Request) {
	if s.vectorizer.Running() {
		http.Error(w, pipeline.ErrRunInProgress.Error(), http.StatusConflict)
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		_, err := s.vectorizer.Run(s.ctx)
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			s.logger.Warn("vectorization run already active")
		case err != nil:
			s.logger.Error("vectorization run failed", zap.Error(err))
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Vectorization started"))
}

func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		http.Error(w, "run ledger disabled", http.StatusNotFound)
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.ledger.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read run ledger", zap.Error(err))
		http.Error(w, "failed to read runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
