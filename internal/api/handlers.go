package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"scribeline/internal/audit"
	"scribeline/internal/fileutil"
	"scribeline/internal/logging"
	"scribeline/internal/logs"
	"scribeline/internal/services"
	"scribeline/internal/store"
)

type submitRequest struct {
	PatientRef string `json:"patient_ref"`
	Audio      string `json:"audio"`
}

type appointmentView struct {
	ID            string     `json:"id"`
	PatientRef    string     `json:"patient_ref"`
	Status        string     `json:"status"`
	Attempt       int        `json:"attempt"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type eventView struct {
	Seq       int64     `json:"seq"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
	Hash      string    `json:"hash"`
}

type verifyView struct {
	OK        bool   `json:"ok"`
	Events    int64  `json:"events"`
	BrokenSeq int64  `json:"broken_seq,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type statusView struct {
	Running bool                `json:"running"`
	Health  store.HealthSummary `json:"health"`
}

type logsView struct {
	Lines      []string `json:"lines"`
	NextOffset int64    `json:"next_offset"`
}

func toView(appt *store.Appointment) appointmentView {
	return appointmentView{
		ID:            appt.ID,
		PatientRef:    appt.PatientRef,
		Status:        string(appt.Status),
		Attempt:       appt.Attempt,
		LastError:     appt.LastError,
		NextAttemptAt: appt.NextAttemptAt,
		CreatedAt:     appt.CreatedAt,
		UpdatedAt:     appt.UpdatedAt,
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio must be base64")
		return
	}

	appt, err := s.scheduler.Submit(r.Context(), req.PatientRef, audio)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toView(appt))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var statuses []store.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := store.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		statuses = append(statuses, status)
	}

	appts, err := s.store.List(r.Context(), statuses...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]appointmentView, 0, len(appts))
	for _, appt := range appts {
		views = append(views, toView(appt))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	appt, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(appt))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]eventView, 0, 8)
	for event, err := range s.audit.EventsFor(r.Context(), id) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		views = append(views, eventView{
			Seq:       event.Seq,
			Action:    event.Action,
			Details:   event.Details,
			CreatedAt: event.CreatedAt,
			Hash:      event.Hash,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind, ok := store.ParseArtifactKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown artifact kind")
		return
	}

	appt, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	descriptor, err := s.store.ArtifactByKind(r.Context(), id, kind)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	blob, err := os.ReadFile(descriptor.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "artifact blob unavailable")
		return
	}
	if fileutil.ChecksumBytes(blob) != descriptor.Checksum {
		writeServiceError(w, services.Wrap(services.ErrIntegrity, "api", "artifact",
			string(kind)+" artifact checksum mismatch", nil))
		return
	}
	plaintext, err := s.crypto.DecryptArtifact(r.Context(), appt.KeyRef, blob)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if err := s.audit.Append(r.Context(), audit.ActionKeyAccessed, id, string(kind)+" artifact read"); err != nil {
		s.logger.Error("audit append failed on artifact read", logging.Error(err))
		writeError(w, http.StatusInternalServerError, "audit unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(plaintext)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	verified, err := s.audit.Verify(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, verifyView{
			OK:        false,
			Events:    verified,
			BrokenSeq: verified + 1,
			Detail:    services.Message(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, verifyView{OK: true, Events: verified})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	path := s.cfg.DaemonLogPath()
	if path == "" {
		writeError(w, http.StatusNotFound, "file logging is disabled")
		return
	}

	offset := int64(-1)
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		offset = parsed
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	page, err := logs.Tail(path, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "log file unavailable")
		return
	}
	if page.Lines == nil {
		page.Lines = []string{}
	}
	writeJSON(w, http.StatusOK, logsView{Lines: page.Lines, NextOffset: page.NextOffset})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	health, err := s.store.Health(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView{
		Running: s.scheduler.Running(),
		Health:  health,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the failure taxonomy onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch services.Classify(err) {
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindConflict, services.KindDuplicate:
		status = http.StatusConflict
	case services.KindPermanent:
		status = http.StatusBadRequest
	}
	if errors.Is(err, services.ErrIntegrity) {
		status = http.StatusInternalServerError
	}
	writeError(w, status, services.Message(err))
}
