package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/shashin/internal/dataset"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
	"go.uber.org/zap"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query))
	response, err := s.engine.Search(r.Context(), &query, clientIP(r))
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	local, ok := s.source.(*dataset.Local)
	if !ok {
		s.respondError(w, http.StatusNotImplemented, "image serving requires a local dataset")
		return
	}
	path, err := local.Resolve(chi.URLParam(r, "name"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "image not found")
		return
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		w.Header().Set("Content-Type", mt.String())
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	info, err := s.source.Info(r.Context())
	if err != nil {
		s.logger.Error("dataset info failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "interaction log not enabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.storage.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list interactions failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*models.SearchInteraction{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"interactions": list, "total": len(list)})
}

func (s *Server) handleInteractionGet(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "interaction log not enabled")
		return
	}
	in, err := s.storage.GetInteraction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, in)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{
		"store_type":   s.store.Type(),
		"store_size":   s.store.Len(),
		"dimensions":   s.store.Dimensions(),
		"index_active": s.jobs.active(),
	}
	if s.storage != nil {
		n, err := s.storage.CountInteractions(ctx)
		if err != nil {
			s.logger.Error("status: count interactions failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["interactions"] = n
	}
	if info, err := s.source.Info(ctx); err == nil {
		resp["dataset"] = info
	} else {
		s.logger.Warn("status: dataset info failed", zap.Error(err))
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"store_dir":     s.config.Storage.StoreDir,
			"database_path": s.config.Storage.DatabasePath,
			"batch_size":    s.config.Indexing.BatchSize,
			"max_top_k":     s.config.Search.MaxTopK,
		}
		if usage, err := storage.MeasureUsage(s.config.Storage.StoreDir, s.config.Storage.DatabasePath); err == nil {
			resp["disk_usage_bytes"] = usage.Total()
			resp["disk_usage"] = humanize.Bytes(uint64(usage.Total()))
			resp["usage"] = usage
		} else {
			s.logger.Warn("status: disk usage failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vector.ErrInvalidInput), errors.Is(err, vector.ErrDegenerateVector):
		return http.StatusBadRequest
	case errors.Is(err, vector.ErrNotFound), errors.Is(err, dataset.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// clientIP returns the caller address without the port. RealIP middleware has already
// applied X-Forwarded-For / X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func writeEvent(w http.ResponseWriter, event string, data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}
