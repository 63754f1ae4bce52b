package forms

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/formforge/platform/pkg/common/errs"
	"github.com/formforge/platform/pkg/common/logger"
	"github.com/formforge/platform/pkg/common/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/forms/{id}/snapshots", h.handlePublishSnapshot).Methods(http.MethodPost)
	r.HandleFunc("/forms/{id}/snapshots", h.handleListSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/forms/{id}/snapshots/{version}", h.handleGetSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/forms/{id}/submissions", h.handleCreateSubmission).Methods(http.MethodPost)
	r.HandleFunc("/forms/{id}/submissions", h.handleListSubmissions).Methods(http.MethodGet)
	r.HandleFunc("/forms/{id}/audit", h.handleListAuditLogs).Methods(http.MethodGet)
	r.HandleFunc("/submissions/{id}", h.handleGetSubmission).Methods(http.MethodGet)
	r.HandleFunc("/submissions/{id}", h.handleReviseSubmission).Methods(http.MethodPut)
	r.HandleFunc("/submissions/{id}/status", h.handleTransitionSubmission).Methods(http.MethodPost)
}

func (h *Handler) handlePublishSnapshot(w http.ResponseWriter, r *http.Request) {
	formID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid form id", http.StatusBadRequest)
		return
	}
	var req models.PublishSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.DisplayName == "" || req.Schema == nil {
		http.Error(w, "display_name and schema are required", http.StatusBadRequest)
		return
	}
	snap, err := h.service.PublishSnapshot(r.Context(), formID, req, resolveActor(r))
	if err != nil {
		writeError(w, err, "failed to publish snapshot")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"snapshot": snap})
}

func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	formID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid form id", http.StatusBadRequest)
		return
	}
	snapshots, err := h.service.ListSnapshots(r.Context(), formID, parseLimit(r, 50))
	if err != nil {
		writeError(w, err, "failed to list snapshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": snapshots})
}

func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	formID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid form id", http.StatusBadRequest)
		return
	}
	snap, err := h.service.ResolveSnapshot(r.Context(), formID, mux.Vars(r)["version"])
	if err != nil {
		writeError(w, err, "failed to get snapshot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshot": snap})
}

func (h *Handler) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	formID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid form id", http.StatusBadRequest)
		return
	}
	var req models.CreateSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	sub, err := h.service.CreateSubmission(r.Context(), formID, req)
	if err != nil {
		writeError(w, err, "failed to create submission")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"submission": sub})
}

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	formID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid form id", http.StatusBadRequest)
		return
	}
	subs, err := h.service.ListSubmissions(r.Context(), formID, parseLimit(r, 50))
	if err != nil {
		writeError(w, err, "failed to list submissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": subs})
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid submission id", http.StatusBadRequest)
		return
	}
	sub, err := h.service.GetSubmission(r.Context(), id)
	if err != nil {
		writeError(w, err, "failed to get submission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"submission": sub})
}

func (h *Handler) handleTransitionSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid submission id", http.StatusBadRequest)
		return
	}
	var req models.TransitionSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}
	sub, err := h.service.TransitionSubmission(r.Context(), id, req.Status, resolveActor(r))
	if err != nil {
		writeError(w, err, "failed to transition submission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"submission": sub})
}

func (h *Handler) handleReviseSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid submission id", http.StatusBadRequest)
		return
	}
	var req models.ReviseSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	sub, err := h.service.ReviseSubmission(r.Context(), id, req.Fields, resolveActor(r))
	if err != nil {
		writeError(w, err, "failed to revise submission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"submission": sub})
}

func (h *Handler) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	formID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid form id", http.StatusBadRequest)
		return
	}
	logs, err := h.service.ListAuditLogs(r.Context(), formID, parseLimit(r, 100))
	if err != nil {
		writeError(w, err, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": logs})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

// resolveActor reads the identity stamped by the gateway; direct
// unauthenticated calls are attributed to "system".
func resolveActor(r *http.Request) string {
	if user := r.Header.Get("X-User-Id"); user != "" {
		return user
	}
	return "system"
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Log.WithError(err).Error(fallback)
		http.Error(w, fallback, status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
