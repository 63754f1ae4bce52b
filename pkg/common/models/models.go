package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope published to Kafka for every lifecycle change.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // form.snapshot.created, submission.received, export.completed, export.failed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// FormSnapshot is one immutable published version of a form's field
// definitions. Version numbers are strictly increasing per form and a
// snapshot's schema document is never mutated after creation.
type FormSnapshot struct {
	ID        uuid.UUID              `json:"id"`
	FormID    uuid.UUID              `json:"form_id"`
	Version   int                    `json:"version"`
	Name      string                 `json:"name"`
	Schema    map[string]interface{} `json:"schema"`
	CreatedBy string                 `json:"created_by"`
	CreatedAt time.Time              `json:"created_at"`
}

// Submission statuses. Completed is terminal; draft rows are excluded
// from exports unless explicitly requested.
const (
	SubmissionDraft     = "draft"
	SubmissionSubmitted = "submitted"
	SubmissionRevising  = "revising"
	SubmissionCompleted = "completed"
)

type Submission struct {
	ID             uuid.UUID              `json:"id"`
	FormID         uuid.UUID              `json:"form_id"`
	Version        int                    `json:"version"`
	Submitter      string                 `json:"submitter,omitempty"`
	ConfirmationID string                 `json:"confirmation_id,omitempty"`
	Status         string                 `json:"status"`
	Fields         map[string]interface{} `json:"fields"`
	SubmittedAt    time.Time              `json:"submitted_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

type AuditLog struct {
	ID        int64                  `json:"id"`
	FormID    uuid.UUID              `json:"form_id"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	Entity    string                 `json:"entity"`
	EntityID  string                 `json:"entity_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Export job phases. Transitions are monotonic: a job never regresses
// from encoding back to streaming.
const (
	PhaseQueued    = "queued"
	PhaseStreaming = "streaming"
	PhaseEncoding  = "encoding"
	PhaseComplete  = "complete"
	PhaseFailed    = "failed"
	PhaseCancelled = "cancelled"
)

// Export output formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

type ExportJob struct {
	ID            uuid.UUID     `json:"id"`
	FormID        uuid.UUID     `json:"form_id"`
	Version       int           `json:"version"`
	Format        string        `json:"format"`
	Filters       ExportFilters `json:"filters"`
	Requester     string        `json:"requester"`
	Phase         string        `json:"phase"`
	RowsProcessed int64         `json:"rows_processed"`
	TotalEstimate int64         `json:"total_estimate"`
	ByteSize      int64         `json:"byte_size"`
	Warnings      []string      `json:"warnings,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// ExportFilters narrows the submission set included in an export.
// Statuses defaults to every non-draft status when empty.
type ExportFilters struct {
	Statuses      []string   `json:"statuses,omitempty"`
	SubmittedFrom *time.Time `json:"submitted_from,omitempty"`
	SubmittedTo   *time.Time `json:"submitted_to,omitempty"`
	IncludeDrafts bool       `json:"include_drafts,omitempty"`
}

// Request payloads.

type PublishSnapshotRequest struct {
	DisplayName string                 `json:"display_name"`
	Schema      map[string]interface{} `json:"schema"`
}

type CreateSubmissionRequest struct {
	Version   int                    `json:"version,omitempty"` // 0 = latest
	Submitter string                 `json:"submitter,omitempty"`
	Draft     bool                   `json:"draft,omitempty"`
	Fields    map[string]interface{} `json:"fields"`
}

type TransitionSubmissionRequest struct {
	Status string `json:"status"`
}

type ReviseSubmissionRequest struct {
	Fields map[string]interface{} `json:"fields"`
}

type ExportRequest struct {
	FormID  uuid.UUID     `json:"form_id"`
	Version string        `json:"version,omitempty"` // "latest" (default) or a number
	Format  string        `json:"format"`
	Filters ExportFilters `json:"filters"`
	Mode    string        `json:"mode,omitempty"` // "synchronous" or "asynchronous"
}

const (
	ModeSynchronous  = "synchronous"
	ModeAsynchronous = "asynchronous"
)
