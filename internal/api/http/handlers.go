package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"swarmhub/internal/app"
	"swarmhub/internal/domain"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "engine_stopped", "transfer engine is not running")
	case errors.Is(err, domain.ErrBadSource):
		writeError(w, http.StatusBadRequest, "invalid_source", "source is not a valid magnet link")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrBackendRejected):
		writeError(w, http.StatusUnprocessableEntity, "backend_rejected", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// ---------------------------------------------------------------------------
// /transfers
// ---------------------------------------------------------------------------

type addTransferRequest struct {
	Source   string `json:"source"`
	SavePath string `json:"savePath,omitempty"`
}

type addTransferResponse struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	Name        string             `json:"name"`
	SavePath    string             `json:"savePath"`
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.Statuses())
	case http.MethodPost:
		s.handleAddTransfer(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or POST")
	}
}

func (s *Server) handleAddTransfer(w http.ResponseWriter, r *http.Request) {
	var req addTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "source is required")
		return
	}
	savePath := req.SavePath
	if savePath == "" {
		savePath = s.downloadDir
	}

	h, err := s.engine.Add(req.Source, savePath)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, addTransferResponse{
		Fingerprint: h.Fingerprint(),
		Name:        h.Name(),
		SavePath:    h.SavePath(),
	})
}

// ---------------------------------------------------------------------------
// /transfers/{fingerprint}[/pause|/resume]
// ---------------------------------------------------------------------------

func (s *Server) handleTransferByFingerprint(w http.ResponseWriter, r *http.Request) {
	fp, action := fingerprintFromPath(r.URL.Path)
	if !fp.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed fingerprint")
		return
	}

	if action != "" {
		s.handleTransferAction(w, r, fp, action)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h, ok := s.engine.Handles()[fp]
		if !ok || !h.Valid() {
			writeError(w, http.StatusNotFound, "not_found", "transfer not found")
			return
		}
		writeJSON(w, http.StatusOK, h.Status())
	case http.MethodDelete:
		deleteFiles := r.URL.Query().Get("deleteFiles") == "true"
		if _, ok := s.engine.Handles()[fp]; !ok {
			writeError(w, http.StatusNotFound, "not_found", "transfer not found")
			return
		}
		s.engine.Remove(fp, deleteFiles)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or DELETE")
	}
}

func (s *Server) handleTransferAction(w http.ResponseWriter, r *http.Request, fp domain.Fingerprint, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	h, ok := s.engine.Handles()[fp]
	if !ok || !h.Valid() {
		writeError(w, http.StatusNotFound, "not_found", "transfer not found")
		return
	}
	switch action {
	case "pause":
		h.Pause()
	case "resume":
		h.Resume()
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}
	writeJSON(w, http.StatusOK, h.Status())
}

// ---------------------------------------------------------------------------
// /stats, /bottlenecks
// ---------------------------------------------------------------------------

type statsResponse struct {
	domain.SessionStats
	DownloadRateHuman string `json:"downloadRateHuman"`
	UploadRateHuman   string `json:"uploadRateHuman"`
	Transfers         int    `json:"transfers"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	stats := s.engine.SnapshotSessionStats()
	writeJSON(w, http.StatusOK, statsResponse{
		SessionStats:      stats,
		DownloadRateHuman: domain.FormatSpeed(stats.DownloadRate),
		UploadRateHuman:   domain.FormatSpeed(stats.UploadRate),
		Transfers:         len(s.engine.Handles()),
	})
}

func (s *Server) handleBottlenecks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	if s.bottlenecks == nil {
		writeJSON(w, http.StatusOK, []domain.Bottleneck{})
		return
	}
	out := s.bottlenecks.Bottlenecks()
	if out == nil {
		out = []domain.Bottleneck{}
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------------------------------------------------------------------------
// /profile
// ---------------------------------------------------------------------------

type profileResponse struct {
	Active string `json:"active"`
	Manual string `json:"manual,omitempty"`
}

type profileRequest struct {
	// Manual profile name; empty string returns control to auto-detection.
	Profile string `json:"profile"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.tuner == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "tuning not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, profileResponse{
			Active: s.tuner.CurrentProfile(),
			Manual: s.tuner.ManualProfile(),
		})
	case http.MethodPut:
		var req profileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
			return
		}
		s.tuner.SetManualProfile(strings.ToLower(strings.TrimSpace(req.Profile)))
		writeJSON(w, http.StatusOK, profileResponse{
			Active: s.tuner.CurrentProfile(),
			Manual: s.tuner.ManualProfile(),
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or PUT")
	}
}

// ---------------------------------------------------------------------------
// /settings
// ---------------------------------------------------------------------------

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "settings not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.Get())
	case http.MethodPatch, http.MethodPut:
		var req app.AppSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
			return
		}
		if err := s.settings.Update(req); err != nil {
			writeError(w, http.StatusInternalServerError, "settings_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.settings.Get())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET, PATCH or PUT")
	}
}

// ---------------------------------------------------------------------------
// /healthz
// ---------------------------------------------------------------------------

type healthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.engine.Running() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, Running: s.engine.Running()})
}
