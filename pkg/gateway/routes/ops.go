package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/formforge/platform/pkg/common/logger"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// OpsHandler serves the operational dashboard: aggregate counts pulled
// straight from the platform tables rather than from the services.
type OpsHandler struct {
	db *gorm.DB
}

type OverviewMetrics struct {
	FormsWithSnapshots   int `json:"formsWithSnapshots"`
	SnapshotsPublished   int `json:"snapshotsPublished"`
	SubmissionsToday     int `json:"submissionsToday"`
	SubmissionsCompleted int `json:"submissionsCompleted"`
	ExportJobsActive     int `json:"exportJobsActive"`
	ExportJobsFailedWeek int `json:"exportJobsFailedWeek"`
}

type ExportJobSummary struct {
	ID            string     `json:"id"`
	FormID        string     `json:"formId"`
	Format        string     `json:"format"`
	Phase         string     `json:"phase"`
	RowsProcessed int64      `json:"rowsProcessed"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

func NewOpsHandler(db *gorm.DB) *OpsHandler {
	return &OpsHandler{db: db}
}

func (h *OpsHandler) Register(r *mux.Router) {
	r.HandleFunc("/ops/overview", h.handleOverview).Methods(http.MethodGet)
	r.HandleFunc("/ops/export-jobs", h.handleRecentJobs).Methods(http.MethodGet)
}

func (h *OpsHandler) handleOverview(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.collectOverview()
	if err != nil {
		logger.Log.WithError(err).Error("failed to collect overview metrics")
		http.Error(w, "failed to collect overview metrics", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}

func (h *OpsHandler) collectOverview() (OverviewMetrics, error) {
	metrics := OverviewMetrics{}

	var forms sql.NullInt64
	if err := h.db.Raw(`
		SELECT COUNT(DISTINCT form_id) FROM form_snapshots
	`).Scan(&forms).Error; err != nil {
		return metrics, err
	}
	if forms.Valid {
		metrics.FormsWithSnapshots = int(forms.Int64)
	}

	var snapshots sql.NullInt64
	if err := h.db.Raw(`
		SELECT COUNT(*) FROM form_snapshots
	`).Scan(&snapshots).Error; err != nil {
		return metrics, err
	}
	if snapshots.Valid {
		metrics.SnapshotsPublished = int(snapshots.Int64)
	}

	var today sql.NullInt64
	if err := h.db.Raw(`
		SELECT COUNT(*)
		FROM form_submissions
		WHERE DATE(submitted_at) = CURRENT_DATE
	`).Scan(&today).Error; err != nil {
		return metrics, err
	}
	if today.Valid {
		metrics.SubmissionsToday = int(today.Int64)
	}

	var completed sql.NullInt64
	if err := h.db.Raw(`
		SELECT COUNT(*)
		FROM form_submissions
		WHERE status = 'completed'
	`).Scan(&completed).Error; err != nil {
		return metrics, err
	}
	if completed.Valid {
		metrics.SubmissionsCompleted = int(completed.Int64)
	}

	var active sql.NullInt64
	if err := h.db.Raw(`
		SELECT COUNT(*)
		FROM export_jobs
		WHERE phase IN ('queued', 'streaming', 'encoding')
	`).Scan(&active).Error; err != nil {
		return metrics, err
	}
	if active.Valid {
		metrics.ExportJobsActive = int(active.Int64)
	}

	var failed sql.NullInt64
	if err := h.db.Raw(`
		SELECT COUNT(*)
		FROM export_jobs
		WHERE phase = 'failed' AND updated_at > NOW() - INTERVAL '7 days'
	`).Scan(&failed).Error; err != nil {
		return metrics, err
	}
	if failed.Valid {
		metrics.ExportJobsFailedWeek = int(failed.Int64)
	}

	return metrics, nil
}

func (h *OpsHandler) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	var rows []struct {
		ID            string     `gorm:"column:id"`
		FormID        string     `gorm:"column:form_id"`
		Format        string     `gorm:"column:format"`
		Phase         string     `gorm:"column:phase"`
		RowsProcessed int64      `gorm:"column:rows_processed"`
		CreatedAt     time.Time  `gorm:"column:created_at"`
		CompletedAt   *time.Time `gorm:"column:completed_at"`
	}

	if err := h.db.WithContext(r.Context()).Raw(`
		SELECT id, form_id, format, phase, rows_processed, created_at, completed_at
		FROM export_jobs
		ORDER BY created_at DESC
		LIMIT 20
	`).Scan(&rows).Error; err != nil {
		logger.Log.WithError(err).Error("failed to list recent export jobs")
		http.Error(w, "failed to list recent export jobs", http.StatusInternalServerError)
		return
	}

	jobs := make([]ExportJobSummary, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, ExportJobSummary{
			ID:            row.ID,
			FormID:        row.FormID,
			Format:        row.Format,
			Phase:         row.Phase,
			RowsProcessed: row.RowsProcessed,
			CreatedAt:     row.CreatedAt,
			CompletedAt:   row.CompletedAt,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}
