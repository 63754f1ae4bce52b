// Package export converts stored form submissions into downloadable
// CSV, JSON, or XLSX artifacts. Small result sets are encoded inline;
// large ones run as tracked background jobs polled by the caller.
package export

import (
	"encoding/json"
	"time"

	"github.com/formforge/platform/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type jobModel struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey;column:id"`
	FormID          uuid.UUID      `gorm:"column:form_id;index"`
	Version         int            `gorm:"column:version"`
	Format          string         `gorm:"column:format"`
	Filters         datatypes.JSON `gorm:"column:filters"`
	Requester       string         `gorm:"column:requester"`
	Phase           string         `gorm:"column:phase;index"`
	RowsProcessed   int64          `gorm:"column:rows_processed"`
	TotalEstimate   int64          `gorm:"column:total_estimate"`
	ByteSize        int64          `gorm:"column:byte_size"`
	ArtifactPath    string         `gorm:"column:artifact_path"`
	Warnings        datatypes.JSON `gorm:"column:warnings"`
	FailureReason   string         `gorm:"column:failure_reason"`
	CancelRequested bool           `gorm:"column:cancel_requested"`
	CreatedAt       time.Time      `gorm:"column:created_at;index"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
	StartedAt       *time.Time     `gorm:"column:started_at"`
	CompletedAt     *time.Time     `gorm:"column:completed_at"`
}

func (jobModel) TableName() string { return "export_jobs" }

func toJob(row *jobModel) models.ExportJob {
	job := models.ExportJob{
		ID:            row.ID,
		FormID:        row.FormID,
		Version:       row.Version,
		Format:        row.Format,
		Requester:     row.Requester,
		Phase:         row.Phase,
		RowsProcessed: row.RowsProcessed,
		TotalEstimate: row.TotalEstimate,
		ByteSize:      row.ByteSize,
		FailureReason: row.FailureReason,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		StartedAt:     row.StartedAt,
		CompletedAt:   row.CompletedAt,
	}
	if len(row.Filters) > 0 {
		_ = json.Unmarshal(row.Filters, &job.Filters)
	}
	if len(row.Warnings) > 0 {
		_ = json.Unmarshal(row.Warnings, &job.Warnings)
	}
	return job
}

// Result is the outcome of a synchronous export, or of a drained
// background pipeline before it is written to the artifact store.
type Result struct {
	Format      string   `json:"format"`
	ContentType string   `json:"content_type"`
	Data        []byte   `json:"-"`
	Rows        int64    `json:"rows"`
	Warnings    []string `json:"warnings,omitempty"`
}
