package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"localdns/pkg/storage"
)

const defaultLogLimit = 100

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListRecords(r.Context())
	if err != nil {
		s.logger.Error("Failed to list records", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	rec, err := s.store.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("Failed to get record", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get record")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req storage.CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.store.CreateRecord(r.Context(), req)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidRecord) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Failed to create record", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create record")
		return
	}

	s.reloadCache(r)
	s.writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req storage.UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated, err := s.store.UpdateRecord(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidRecord) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.logger.Error("Failed to update record", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update record")
		return
	}
	if !updated {
		s.writeError(w, http.StatusNotFound, "record not found")
		return
	}

	s.reloadCache(r)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	deleted, err := s.store.DeleteRecord(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to delete record", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete record")
		return
	}
	if !deleted {
		s.writeError(w, http.StatusNotFound, "record not found")
		return
	}

	s.reloadCache(r)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	logs, err := s.store.RecentLogs(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to fetch query logs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to fetch query logs")
		return
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.ListSettings(r.Context())
	if err != nil {
		s.logger.Error("Failed to list settings", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list settings")
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

type updateSettingRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if strings.TrimSpace(key) == "" {
		s.writeError(w, http.StatusBadRequest, "setting key is required")
		return
	}

	var req updateSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.store.UpdateSetting(r.Context(), key, req.Value); err != nil {
		s.logger.Error("Failed to update setting", "key", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update setting")
		return
	}
	if strings.HasPrefix(key, "upstream_") {
		s.logger.Info("Upstream setting updated, takes effect on restart", "key", key)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("Health check: store unreachable", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, HealthResponse{
		Status:  status,
		Service: "localdns",
		Uptime:  s.uptime(),
		Version: s.version,
	})
}

// pathID parses the {id} path segment, writing a 400 on failure.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid record id")
		return 0, false
	}
	return id, true
}

// reloadCache refreshes the record cache after a mutation. A failed reload
// leaves the previous snapshot serving; the write itself is not rolled
// back.
func (s *Server) reloadCache(r *http.Request) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Reload(r.Context()); err != nil {
		s.logger.Error("Failed to reload record cache", "error", err)
	}
}
