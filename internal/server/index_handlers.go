package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleIndexStart(w http.ResponseWriter, r *http.Request) {
	job, started := s.jobs.start(s.indexer.Run)
	if !started {
		s.respondJSON(w, http.StatusConflict, map[string]string{
			"error":  "an index job is already running",
			"job_id": job.ID,
		})
		return
	}
	s.logger.Info("index job started", zap.String("job_id", job.ID))
	s.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "state": job.State})
}

func (s *Server) handleIndexGet(w http.ResponseWriter, r *http.Request) {
	e, ok := s.jobs.get(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	job, _ := e.snapshot()
	s.respondJSON(w, http.StatusOK, job)
}

// handleIndexStream sends a "progress" event for every persisted batch, then a final
// "completed" or "error" event, as server-sent events.
func (s *Server) handleIndexStream(w http.ResponseWriter, r *http.Request) {
	e, ok := s.jobs.get(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		job, changed := e.snapshot()
		event := "progress"
		switch job.State {
		case JobCompleted:
			event = "completed"
		case JobFailed:
			event = "error"
		}
		if err := writeEvent(w, event, job); err != nil {
			s.logger.Debug("index stream closed", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		flusher.Flush()
		if job.done() {
			return
		}
		select {
		case <-changed:
		case <-r.Context().Done():
			return
		}
	}
}
