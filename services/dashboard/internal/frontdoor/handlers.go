package frontdoor

import (
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"bwdash/services/dashboard/internal/snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type errorBody struct {
	Error     bool   `json:"error"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type healthBody struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Server    string `json:"server"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
}

type refreshBody struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
}

// handleStats serves the snapshot verbatim, regenerating it first when it is
// missing or older than the staleness threshold.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store.IsStale(s.cfg.StaleAfter) {
		s.logger.Info().Msg("stats file is missing or old, regenerating")
		if _, err := s.store.Regenerate(r.Context(), snapshot.TriggerRequest); err != nil {
			s.logger.Error().Err(err).Msg("error serving stats API")
			s.respondError(w, http.StatusInternalServerError, "Internal server error: "+err.Error())
			return
		}
	}

	data, err := s.store.Read()
	if err != nil {
		s.logger.Error().Err(err).Msg("error serving stats API")
		s.respondError(w, http.StatusInternalServerError, "Internal server error: "+err.Error())
		return
	}

	setAPIHeaders(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, healthBody{
		Status:    "healthy",
		Timestamp: s.timestamp(),
		Server:    s.cfg.ServerName,
		Version:   s.cfg.Version,
		Uptime:    s.hostUptime(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.Regenerate(r.Context(), snapshot.TriggerRefresh)
	if err != nil {
		s.logger.Error().Err(err).Msg("error refreshing stats")
		s.respondError(w, http.StatusInternalServerError, "Failed to refresh stats: "+err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, refreshBody{
		Status:    "success",
		Message:   "Stats refreshed successfully",
		Timestamp: s.timestamp(),
		RunID:     res.RunID.String(),
	})
}

func (s *Server) hostUptime() string {
	d, err := s.uptime()
	if err != nil {
		s.logger.Debug().Err(err).Msg("host uptime unavailable")
		return "Unknown"
	}
	return FormatUptime(d)
}

func (s *Server) timestamp() string {
	return s.now().Format(time.RFC3339Nano)
}

func setAPIHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	setAPIHeaders(w)
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorBody{
		Error:     true,
		Code:      status,
		Message:   message,
		Timestamp: s.timestamp(),
	})
}
