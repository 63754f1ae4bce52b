package export

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/formforge/platform/pkg/common/errs"
	"github.com/formforge/platform/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Read models over tables owned by the forms service. The export
// service only ever reads them.

type snapshotRow struct {
	ID        uuid.UUID      `gorm:"column:id"`
	FormID    uuid.UUID      `gorm:"column:form_id"`
	Version   int            `gorm:"column:version"`
	Name      string         `gorm:"column:name"`
	Schema    datatypes.JSON `gorm:"column:schema"`
	CreatedBy string         `gorm:"column:created_by"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (snapshotRow) TableName() string { return "form_snapshots" }

type submissionRow struct {
	ID             uuid.UUID      `gorm:"column:id"`
	FormID         uuid.UUID      `gorm:"column:form_id"`
	Version        int            `gorm:"column:version"`
	Submitter      string         `gorm:"column:submitter"`
	ConfirmationID *string        `gorm:"column:confirmation_id"`
	Status         string         `gorm:"column:status"`
	Fields         datatypes.JSON `gorm:"column:fields"`
	SubmittedAt    time.Time      `gorm:"column:submitted_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (submissionRow) TableName() string { return "form_submissions" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&jobModel{})
}

func (r *Repository) GetSnapshot(ctx context.Context, formID uuid.UUID, version int) (models.FormSnapshot, error) {
	var row snapshotRow
	err := r.db.WithContext(ctx).
		Where("form_id = ? AND version = ?", formID, version).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.FormSnapshot{}, errs.NotFound("snapshot version %d for form %s does not exist", version, formID)
	}
	if err != nil {
		return models.FormSnapshot{}, errs.Storage("failed to read snapshot", err)
	}
	return snapshotFromRow(&row), nil
}

func (r *Repository) GetLatestSnapshot(ctx context.Context, formID uuid.UUID) (models.FormSnapshot, error) {
	var row snapshotRow
	err := r.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("version DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.FormSnapshot{}, errs.NotFound("form %s has no published snapshots", formID)
	}
	if err != nil {
		return models.FormSnapshot{}, errs.Storage("failed to read latest snapshot", err)
	}
	return snapshotFromRow(&row), nil
}

func snapshotFromRow(row *snapshotRow) models.FormSnapshot {
	snap := models.FormSnapshot{
		ID:        row.ID,
		FormID:    row.FormID,
		Version:   row.Version,
		Name:      row.Name,
		CreatedBy: row.CreatedBy,
		CreatedAt: row.CreatedAt,
	}
	if len(row.Schema) > 0 {
		_ = json.Unmarshal(row.Schema, &snap.Schema)
	}
	return snap
}

// Cursor marks the position after the last row of a batch. Keyset
// pagination on (submitted_at, id) keeps each batch a single bounded
// round trip regardless of offset depth.
type Cursor struct {
	After   time.Time
	AfterID uuid.UUID
	valid   bool
}

func (r *Repository) CountSubmissions(ctx context.Context, formID uuid.UUID, version int, filters models.ExportFilters) (int64, error) {
	var count int64
	query := r.filteredSubmissions(ctx, formID, version, filters)
	if err := query.Count(&count).Error; err != nil {
		return 0, errs.Storage("failed to count submissions", err)
	}
	return count, nil
}

func (r *Repository) ReadSubmissionBatch(ctx context.Context, formID uuid.UUID, version int, filters models.ExportFilters, cursor Cursor, limit int) ([]models.Submission, Cursor, error) {
	if limit <= 0 {
		limit = 500
	}
	query := r.filteredSubmissions(ctx, formID, version, filters)
	if cursor.valid {
		query = query.Where(
			"(submitted_at > ?) OR (submitted_at = ? AND id > ?)",
			cursor.After, cursor.After, cursor.AfterID,
		)
	}

	var rows []submissionRow
	err := query.Order("submitted_at ASC, id ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, cursor, errs.Storage("failed to read submission batch", err)
	}

	subs := make([]models.Submission, 0, len(rows))
	for i := range rows {
		subs = append(subs, submissionFromRow(&rows[i]))
	}
	next := cursor
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		next = Cursor{After: last.SubmittedAt, AfterID: last.ID, valid: true}
	}
	return subs, next, nil
}

func (r *Repository) filteredSubmissions(ctx context.Context, formID uuid.UUID, version int, filters models.ExportFilters) *gorm.DB {
	query := r.db.WithContext(ctx).
		Model(&submissionRow{}).
		Where("form_id = ? AND version = ?", formID, version)

	if len(filters.Statuses) > 0 {
		query = query.Where("status IN ?", filters.Statuses)
	} else if !filters.IncludeDrafts {
		query = query.Where("status <> ?", models.SubmissionDraft)
	}
	if filters.SubmittedFrom != nil {
		query = query.Where("submitted_at >= ?", *filters.SubmittedFrom)
	}
	if filters.SubmittedTo != nil {
		query = query.Where("submitted_at <= ?", *filters.SubmittedTo)
	}
	return query
}

func submissionFromRow(row *submissionRow) models.Submission {
	sub := models.Submission{
		ID:          row.ID,
		FormID:      row.FormID,
		Version:     row.Version,
		Submitter:   row.Submitter,
		Status:      row.Status,
		SubmittedAt: row.SubmittedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.ConfirmationID != nil {
		sub.ConfirmationID = *row.ConfirmationID
	}
	if len(row.Fields) > 0 {
		_ = json.Unmarshal(row.Fields, &sub.Fields)
	}
	return sub
}

// Job persistence.

func (r *Repository) CreateJob(ctx context.Context, job models.ExportJob) (models.ExportJob, error) {
	row := &jobModel{
		ID:            job.ID,
		FormID:        job.FormID,
		Version:       job.Version,
		Format:        job.Format,
		Requester:     job.Requester,
		Phase:         job.Phase,
		TotalEstimate: job.TotalEstimate,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	if data, err := json.Marshal(job.Filters); err == nil {
		row.Filters = datatypes.JSON(data)
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.ExportJob{}, errs.Storage("failed to create export job", err)
	}
	return job, nil
}

func (r *Repository) GetJob(ctx context.Context, jobID uuid.UUID) (models.ExportJob, error) {
	var row jobModel
	err := r.db.WithContext(ctx).First(&row, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ExportJob{}, errs.NotFound("export job %s does not exist", jobID)
	}
	if err != nil {
		return models.ExportJob{}, errs.Storage("failed to read export job", err)
	}
	return toJob(&row), nil
}

// SetPhase advances a job's phase. The phase column only moves forward:
// the update is guarded by the set of phases allowed to precede the new
// one, so a stale writer can never regress a job.
func (r *Repository) SetPhase(ctx context.Context, jobID uuid.UUID, phase string, allowedFrom ...string) error {
	updates := map[string]interface{}{
		"phase":      phase,
		"updated_at": time.Now().UTC(),
	}
	if phase == models.PhaseStreaming {
		now := time.Now().UTC()
		updates["started_at"] = now
	}
	query := r.db.WithContext(ctx).Model(&jobModel{}).Where("id = ?", jobID)
	if len(allowedFrom) > 0 {
		query = query.Where("phase IN ?", allowedFrom)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return errs.Storage("failed to update job phase", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.Conflict("job %s is not in a phase that can move to %s", jobID, phase)
	}
	return nil
}

func (r *Repository) SetProgress(ctx context.Context, jobID uuid.UUID, rows int64) error {
	return r.db.WithContext(ctx).Model(&jobModel{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"rows_processed": rows,
		"updated_at":     time.Now().UTC(),
	}).Error
}

func (r *Repository) MarkComplete(ctx context.Context, jobID uuid.UUID, rows, byteSize int64, artifactPath string, warnings []string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"phase":          models.PhaseComplete,
		"rows_processed": rows,
		"byte_size":      byteSize,
		"artifact_path":  artifactPath,
		"updated_at":     now,
		"completed_at":   now,
	}
	if len(warnings) > 0 {
		if data, err := json.Marshal(warnings); err == nil {
			updates["warnings"] = datatypes.JSON(data)
		}
	}
	return r.db.WithContext(ctx).Model(&jobModel{}).Where("id = ?", jobID).Updates(updates).Error
}

func (r *Repository) MarkFailed(ctx context.Context, jobID uuid.UUID, phase, reason string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&jobModel{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"phase":          phase,
		"failure_reason": reason,
		"updated_at":     now,
		"completed_at":   now,
	}).Error
}

// RequestCancel flags a running job for cooperative cancellation. The
// worker checks the flag between batches; terminal jobs are left alone.
func (r *Repository) RequestCancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).Model(&jobModel{}).
		Where("id = ? AND phase IN ?", jobID, []string{models.PhaseQueued, models.PhaseStreaming, models.PhaseEncoding}).
		Updates(map[string]interface{}{
			"cancel_requested": true,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return false, errs.Storage("failed to request cancellation", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) CancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var row jobModel
	err := r.db.WithContext(ctx).Select("cancel_requested").First(&row, "id = ?", jobID).Error
	if err != nil {
		return false, errs.Storage("failed to read cancellation flag", err)
	}
	return row.CancelRequested, nil
}

func (r *Repository) ListJobs(ctx context.Context, formID uuid.UUID, limit int) ([]models.ExportJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []jobModel
	err := r.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errs.Storage("failed to list export jobs", err)
	}
	jobs := make([]models.ExportJob, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, toJob(&rows[i]))
	}
	return jobs, nil
}

// DeleteExpired removes terminal jobs older than the retention window
// and returns their artifact paths so the caller can unlink the files.
func (r *Repository) DeleteExpired(ctx context.Context, olderThan time.Time) ([]string, error) {
	var rows []jobModel
	terminal := []string{models.PhaseComplete, models.PhaseFailed, models.PhaseCancelled}
	err := r.db.WithContext(ctx).
		Where("phase IN ? AND updated_at < ?", terminal, olderThan).
		Find(&rows).Error
	if err != nil {
		return nil, errs.Storage("failed to find expired jobs", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	paths := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
		if row.ArtifactPath != "" {
			paths = append(paths, row.ArtifactPath)
		}
	}
	if err := r.db.WithContext(ctx).Delete(&jobModel{}, "id IN ?", ids).Error; err != nil {
		return nil, errs.Storage("failed to delete expired jobs", err)
	}
	return paths, nil
}
