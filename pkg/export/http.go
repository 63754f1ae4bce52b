package export

import (
	"encoding/json"
	"fmt"
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
	r.HandleFunc("/exports", h.handleRequestExport).Methods(http.MethodPost)
	r.HandleFunc("/exports/{id}/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/exports/{id}/result", h.handleResult).Methods(http.MethodGet)
	r.HandleFunc("/exports/{id}/cancel", h.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/forms/{id}/exports", h.handleListJobs).Methods(http.MethodGet)
}

// handleRequestExport answers with the encoded artifact when the export
// ran inline, or 202 plus the job envelope when it went to a worker.
func (h *Handler) handleRequestExport(w http.ResponseWriter, r *http.Request) {
	var req models.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.FormID == uuid.Nil {
		http.Error(w, "form_id is required", http.StatusBadRequest)
		return
	}

	result, job, err := h.service.RequestExport(r.Context(), req, resolveRequester(r))
	if err != nil {
		writeError(w, err, "failed to run export")
		return
	}
	if job != nil {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"job": job})
		return
	}
	writeArtifact(w, req.FormID, result)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, err := h.service.GetStatus(r.Context(), jobID)
	if err != nil {
		writeError(w, err, "failed to get job status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job": job})
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	result, job, err := h.service.GetResult(r.Context(), jobID)
	if err != nil {
		writeError(w, err, "failed to get job result")
		return
	}
	writeArtifact(w, job.FormID, result)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, requested, err := h.service.Cancel(r.Context(), jobID)
	if err != nil {
		writeError(w, err, "failed to cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":              job,
		"cancel_requested": requested,
	})
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	formID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid form id", http.StatusBadRequest)
		return
	}
	jobs, err := h.service.ListJobs(r.Context(), formID, parseLimit(r, 50))
	if err != nil {
		writeError(w, err, "failed to list export jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": jobs})
}

func writeArtifact(w http.ResponseWriter, formID uuid.UUID, result *Result) {
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("submissions-%s.%s", formID, extensionFor(result.Format))))
	if len(result.Warnings) > 0 {
		encoded, err := json.Marshal(result.Warnings)
		if err == nil {
			w.Header().Set("X-Export-Warnings", string(encoded))
		}
	}
	w.Header().Set("X-Export-Rows", strconv.FormatInt(result.Rows, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
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

// resolveRequester reads the identity stamped by the gateway; direct
// unauthenticated calls are attributed to "system".
func resolveRequester(r *http.Request) string {
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
