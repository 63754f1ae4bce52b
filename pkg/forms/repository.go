package forms

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/formforge/platform/pkg/common/errs"
	"github.com/formforge/platform/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrVersionTaken = errors.New("snapshot version already claimed")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type snapshotModel struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey;column:id"`
	FormID    uuid.UUID      `gorm:"column:form_id;uniqueIndex:idx_snapshots_form_version"`
	Version   int            `gorm:"column:version;uniqueIndex:idx_snapshots_form_version"`
	Name      string         `gorm:"column:name"`
	Schema    datatypes.JSON `gorm:"column:schema"`
	CreatedBy string         `gorm:"column:created_by"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (snapshotModel) TableName() string { return "form_snapshots" }

type submissionModel struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey;column:id"`
	FormID         uuid.UUID      `gorm:"column:form_id;index:idx_submissions_form_version;uniqueIndex:idx_submissions_confirmation"`
	Version        int            `gorm:"column:version;index:idx_submissions_form_version"`
	Submitter      string         `gorm:"column:submitter"`
	ConfirmationID *string        `gorm:"column:confirmation_id;uniqueIndex:idx_submissions_confirmation"`
	Status         string         `gorm:"column:status;index"`
	Fields         datatypes.JSON `gorm:"column:fields"`
	SubmittedAt    time.Time      `gorm:"column:submitted_at;index"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (submissionModel) TableName() string { return "form_submissions" }

type auditLogModel struct {
	ID        int64          `gorm:"primaryKey;column:id"`
	FormID    uuid.UUID      `gorm:"column:form_id;index"`
	Actor     string         `gorm:"column:actor"`
	Action    string         `gorm:"column:action"`
	Entity    string         `gorm:"column:entity"`
	EntityID  string         `gorm:"column:entity_id"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func (auditLogModel) TableName() string { return "form_audit_logs" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&snapshotModel{},
		&submissionModel{},
		&auditLogModel{},
	)
}

// InsertSnapshot persists a snapshot at the given version. When a
// concurrent publisher already claimed the version, ErrVersionTaken is
// returned so the caller can recompute and retry.
func (r *Repository) InsertSnapshot(ctx context.Context, snap models.FormSnapshot) (models.FormSnapshot, error) {
	row := &snapshotModel{
		ID:        snap.ID,
		FormID:    snap.FormID,
		Version:   snap.Version,
		Name:      snap.Name,
		CreatedBy: snap.CreatedBy,
		CreatedAt: snap.CreatedAt,
	}
	if snap.Schema != nil {
		if data, err := json.Marshal(snap.Schema); err == nil {
			row.Schema = datatypes.JSON(data)
		}
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return models.FormSnapshot{}, ErrVersionTaken
		}
		return models.FormSnapshot{}, errs.Storage("failed to insert snapshot", err)
	}
	return snap, nil
}

func (r *Repository) MaxVersion(ctx context.Context, formID uuid.UUID) (int, error) {
	var max *int
	err := r.db.WithContext(ctx).
		Model(&snapshotModel{}).
		Where("form_id = ?", formID).
		Select("MAX(version)").
		Scan(&max).Error
	if err != nil {
		return 0, errs.Storage("failed to read snapshot versions", err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *Repository) GetSnapshot(ctx context.Context, formID uuid.UUID, version int) (models.FormSnapshot, error) {
	var row snapshotModel
	err := r.db.WithContext(ctx).
		Where("form_id = ? AND version = ?", formID, version).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.FormSnapshot{}, errs.NotFound("snapshot version %d for form %s does not exist", version, formID)
	}
	if err != nil {
		return models.FormSnapshot{}, errs.Storage("failed to read snapshot", err)
	}
	return toSnapshot(&row), nil
}

func (r *Repository) GetLatestSnapshot(ctx context.Context, formID uuid.UUID) (models.FormSnapshot, error) {
	var row snapshotModel
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
	return toSnapshot(&row), nil
}

func (r *Repository) ListSnapshots(ctx context.Context, formID uuid.UUID, limit int) ([]models.FormSnapshot, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []snapshotModel
	err := r.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("version DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errs.Storage("failed to list snapshots", err)
	}
	snapshots := make([]models.FormSnapshot, 0, len(rows))
	for i := range rows {
		snapshots = append(snapshots, toSnapshot(&rows[i]))
	}
	return snapshots, nil
}

func (r *Repository) CreateSubmission(ctx context.Context, sub models.Submission) (models.Submission, error) {
	row := &submissionModel{
		ID:          sub.ID,
		FormID:      sub.FormID,
		Version:     sub.Version,
		Submitter:   sub.Submitter,
		Status:      sub.Status,
		SubmittedAt: sub.SubmittedAt,
		UpdatedAt:   sub.UpdatedAt,
	}
	if sub.ConfirmationID != "" {
		confirmation := sub.ConfirmationID
		row.ConfirmationID = &confirmation
	}
	if sub.Fields != nil {
		if data, err := json.Marshal(sub.Fields); err == nil {
			row.Fields = datatypes.JSON(data)
		}
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return models.Submission{}, errs.Conflict("confirmation id %s already used for form %s", sub.ConfirmationID, sub.FormID)
		}
		return models.Submission{}, errs.Storage("failed to create submission", err)
	}
	return sub, nil
}

func (r *Repository) GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error) {
	var row submissionModel
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Submission{}, errs.NotFound("submission %s does not exist", id)
	}
	if err != nil {
		return models.Submission{}, errs.Storage("failed to read submission", err)
	}
	return toSubmission(&row), nil
}

// UpdateSubmissionStatus writes a new status. A non-empty
// confirmationID is stored alongside it; the column is never cleared.
func (r *Repository) UpdateSubmissionStatus(ctx context.Context, id uuid.UUID, status string, confirmationID string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if confirmationID != "" {
		updates["confirmation_id"] = confirmationID
	}
	return r.updateSubmission(ctx, id, updates)
}

// UpdateSubmissionFields replaces the stored field values without
// touching the status.
func (r *Repository) UpdateSubmissionFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return errs.Storage("failed to encode submission fields", err)
	}
	return r.updateSubmission(ctx, id, map[string]interface{}{
		"fields":     datatypes.JSON(data),
		"updated_at": time.Now().UTC(),
	})
}

func (r *Repository) updateSubmission(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&submissionModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return errs.Storage("failed to update submission", result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.NotFound("submission %s does not exist", id)
	}
	return nil
}

func (r *Repository) ListSubmissions(ctx context.Context, formID uuid.UUID, limit int) ([]models.Submission, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []submissionModel
	err := r.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("submitted_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errs.Storage("failed to list submissions", err)
	}
	subs := make([]models.Submission, 0, len(rows))
	for i := range rows {
		subs = append(subs, toSubmission(&rows[i]))
	}
	return subs, nil
}

func (r *Repository) AppendAuditLog(ctx context.Context, entry models.AuditLog) error {
	payload, _ := json.Marshal(entry.Payload)
	row := &auditLogModel{
		FormID:    entry.FormID,
		Actor:     entry.Actor,
		Action:    entry.Action,
		Entity:    entry.Entity,
		EntityID:  entry.EntityID,
		Payload:   datatypes.JSON(payload),
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *Repository) ListAuditLogs(ctx context.Context, formID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []auditLogModel
	err := r.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errs.Storage("failed to list audit logs", err)
	}
	logs := make([]models.AuditLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, models.AuditLog{
			ID:        row.ID,
			FormID:    row.FormID,
			Actor:     row.Actor,
			Action:    row.Action,
			Entity:    row.Entity,
			EntityID:  row.EntityID,
			Payload:   jsonMap(row.Payload),
			CreatedAt: row.CreatedAt,
		})
	}
	return logs, nil
}

func toSnapshot(row *snapshotModel) models.FormSnapshot {
	return models.FormSnapshot{
		ID:        row.ID,
		FormID:    row.FormID,
		Version:   row.Version,
		Name:      row.Name,
		Schema:    jsonMap(row.Schema),
		CreatedBy: row.CreatedBy,
		CreatedAt: row.CreatedAt,
	}
}

func toSubmission(row *submissionModel) models.Submission {
	sub := models.Submission{
		ID:          row.ID,
		FormID:      row.FormID,
		Version:     row.Version,
		Submitter:   row.Submitter,
		Status:      row.Status,
		Fields:      jsonMap(row.Fields),
		SubmittedAt: row.SubmittedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.ConfirmationID != nil {
		sub.ConfirmationID = *row.ConfirmationID
	}
	return sub
}

func jsonMap(data datatypes.JSON) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	var result map[string]interface{}
	_ = json.Unmarshal(data, &result)
	return result
}

// isUniqueViolation matches both gorm's translated error and the raw
// driver messages from postgres and sqlite.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
