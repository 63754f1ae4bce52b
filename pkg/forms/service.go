package forms

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/formforge/platform/pkg/common/errs"
	"github.com/formforge/platform/pkg/common/logger"
	"github.com/formforge/platform/pkg/common/models"
	"github.com/formforge/platform/pkg/observability/metrics"
	"github.com/formforge/platform/pkg/schema"
	"github.com/google/uuid"
)

const (
	EventSnapshotCreated   = "form.snapshot.created"
	EventSubmissionCreated = "submission.received"
)

// SchemaValidator gates snapshot publication. The production validator
// is schema.Validator; tests substitute their own.
type SchemaValidator interface {
	Validate(doc schema.Document) []schema.Issue
}

// EventPublisher emits lifecycle events. Nil disables publishing.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	repo       *Repository
	validator  SchemaValidator
	events     EventPublisher
	maxRetries int
}

func NewService(repo *Repository, validator SchemaValidator, events EventPublisher, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{repo: repo, validator: validator, events: events, maxRetries: maxRetries}
}

// PublishSnapshot validates the raw schema document, assigns the next
// version for the form, and persists an immutable snapshot. Version
// allocation relies on the storage-level unique constraint: when a
// concurrent publisher wins the race the version is recomputed, up to
// maxRetries attempts.
func (s *Service) PublishSnapshot(ctx context.Context, formID uuid.UUID, req models.PublishSnapshotRequest, actor string) (models.FormSnapshot, error) {
	if strings.TrimSpace(req.DisplayName) == "" {
		return models.FormSnapshot{}, errs.Validation("display_name must not be empty")
	}

	doc, err := schema.Parse(req.Schema)
	if err != nil {
		return models.FormSnapshot{}, errs.Wrap(errs.KindValidation, "schema document rejected", err)
	}
	if issues := s.validator.Validate(doc); len(issues) > 0 {
		msgs := make([]string, 0, len(issues))
		for _, issue := range issues {
			msgs = append(msgs, issue.String())
		}
		return models.FormSnapshot{}, errs.Validation("schema document invalid: %s", strings.Join(msgs, "; "))
	}

	var snap models.FormSnapshot
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		current, err := s.repo.MaxVersion(ctx, formID)
		if err != nil {
			return models.FormSnapshot{}, err
		}

		snap = models.FormSnapshot{
			ID:        uuid.New(),
			FormID:    formID,
			Version:   current + 1,
			Name:      schema.DeriveName(req.DisplayName),
			Schema:    req.Schema,
			CreatedBy: actor,
			CreatedAt: time.Now().UTC(),
		}
		snap, err = s.repo.InsertSnapshot(ctx, snap)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrVersionTaken) {
			return models.FormSnapshot{}, err
		}
		if attempt == s.maxRetries-1 {
			return models.FormSnapshot{}, errs.Conflict("could not allocate a snapshot version for form %s after %d attempts", formID, s.maxRetries)
		}
	}

	s.audit(ctx, models.AuditLog{
		FormID:   formID,
		Actor:    actor,
		Action:   "snapshot_published",
		Entity:   "snapshot",
		EntityID: snap.ID.String(),
		Payload:  map[string]interface{}{"version": snap.Version, "name": snap.Name},
	})
	metrics.ObserveSnapshotPublished()
	s.publish(ctx, EventSnapshotCreated, map[string]interface{}{
		"form_id": formID.String(),
		"version": snap.Version,
		"name":    snap.Name,
		"schema":  snap.Schema,
	})

	return snap, nil
}

// ResolveSnapshot accepts "latest", an empty selector (treated as
// latest), or an explicit version number.
func (s *Service) ResolveSnapshot(ctx context.Context, formID uuid.UUID, selector string) (models.FormSnapshot, error) {
	selector = strings.TrimSpace(strings.ToLower(selector))
	if selector == "" || selector == "latest" {
		return s.repo.GetLatestSnapshot(ctx, formID)
	}
	version, err := strconv.Atoi(selector)
	if err != nil || version < 1 {
		return models.FormSnapshot{}, errs.Validation("version selector %q is neither \"latest\" nor a positive number", selector)
	}
	return s.repo.GetSnapshot(ctx, formID, version)
}

func (s *Service) ListSnapshots(ctx context.Context, formID uuid.UUID, limit int) ([]models.FormSnapshot, error) {
	return s.repo.ListSnapshots(ctx, formID, limit)
}

// CreateSubmission records a response against a specific snapshot
// version. Submitted field keys must be a subset of the snapshot's
// top-level keys; later schema drift never retroactively invalidates a
// stored submission.
func (s *Service) CreateSubmission(ctx context.Context, formID uuid.UUID, req models.CreateSubmissionRequest) (models.Submission, error) {
	if len(req.Fields) == 0 {
		return models.Submission{}, errs.Validation("fields must not be empty")
	}

	var snap models.FormSnapshot
	var err error
	if req.Version > 0 {
		snap, err = s.repo.GetSnapshot(ctx, formID, req.Version)
	} else {
		snap, err = s.repo.GetLatestSnapshot(ctx, formID)
	}
	if err != nil {
		return models.Submission{}, err
	}

	doc, err := schema.Parse(snap.Schema)
	if err != nil {
		return models.Submission{}, errs.Wrap(errs.KindStorage, "stored snapshot schema unreadable", err)
	}
	known := doc.TopLevelKeys()
	for key := range req.Fields {
		if _, ok := known[key]; !ok {
			return models.Submission{}, errs.Validation("field %q is not defined by form %s version %d", key, formID, snap.Version)
		}
	}

	now := time.Now().UTC()
	id := uuid.New()
	sub := models.Submission{
		ID:          id,
		FormID:      formID,
		Version:     snap.Version,
		Submitter:   req.Submitter,
		Status:      models.SubmissionSubmitted,
		Fields:      req.Fields,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if req.Draft {
		sub.Status = models.SubmissionDraft
	} else {
		sub.ConfirmationID = confirmationID(id)
	}

	sub, err = s.repo.CreateSubmission(ctx, sub)
	if err != nil {
		return models.Submission{}, err
	}

	s.audit(ctx, models.AuditLog{
		FormID:   formID,
		Actor:    actorOrAnonymous(req.Submitter),
		Action:   "submission_created",
		Entity:   "submission",
		EntityID: sub.ID.String(),
		Payload:  map[string]interface{}{"version": sub.Version, "status": sub.Status},
	})
	metrics.ObserveSubmission(sub.Status)
	s.publish(ctx, EventSubmissionCreated, map[string]interface{}{
		"form_id":       formID.String(),
		"submission_id": sub.ID.String(),
		"version":       sub.Version,
		"status":        sub.Status,
	})

	return sub, nil
}

// TransitionSubmission moves a submission through the status machine.
// Terminal submissions are immutable; illegal transitions fail.
func (s *Service) TransitionSubmission(ctx context.Context, id uuid.UUID, target string, actor string) (models.Submission, error) {
	if !ValidStatus(target) {
		return models.Submission{}, errs.Validation("unknown submission status %q", target)
	}

	sub, err := s.repo.GetSubmission(ctx, id)
	if err != nil {
		return models.Submission{}, err
	}
	if IsTerminal(sub.Status) {
		return models.Submission{}, errs.Validation("submission %s is %s and can no longer change", id, sub.Status)
	}
	if !CanTransition(sub.Status, target) {
		return models.Submission{}, errs.Validation("submission cannot move from %s to %s", sub.Status, target)
	}

	// A submission earns its confirmation code the first time it
	// reaches submitted; drafts carry none.
	confirmation := ""
	if target == models.SubmissionSubmitted && sub.ConfirmationID == "" {
		confirmation = confirmationID(sub.ID)
	}

	if err := s.repo.UpdateSubmissionStatus(ctx, id, target, confirmation); err != nil {
		return models.Submission{}, err
	}
	sub.Status = target
	if confirmation != "" {
		sub.ConfirmationID = confirmation
	}

	s.audit(ctx, models.AuditLog{
		FormID:   sub.FormID,
		Actor:    actor,
		Action:   "submission_status_changed",
		Entity:   "submission",
		EntityID: id.String(),
		Payload:  map[string]interface{}{"status": target},
	})

	return sub, nil
}

// ReviseSubmission replaces the field values of a submission that is
// still in a revisable state (draft or revising). Keys are checked
// against the snapshot version the submission was recorded under.
func (s *Service) ReviseSubmission(ctx context.Context, id uuid.UUID, fields map[string]interface{}, actor string) (models.Submission, error) {
	if len(fields) == 0 {
		return models.Submission{}, errs.Validation("fields must not be empty")
	}

	sub, err := s.repo.GetSubmission(ctx, id)
	if err != nil {
		return models.Submission{}, err
	}
	if sub.Status != models.SubmissionDraft && sub.Status != models.SubmissionRevising {
		return models.Submission{}, errs.Validation("submission %s is %s and its fields can no longer change", id, sub.Status)
	}

	snap, err := s.repo.GetSnapshot(ctx, sub.FormID, sub.Version)
	if err != nil {
		return models.Submission{}, err
	}
	doc, err := schema.Parse(snap.Schema)
	if err != nil {
		return models.Submission{}, errs.Wrap(errs.KindStorage, "stored snapshot schema unreadable", err)
	}
	known := doc.TopLevelKeys()
	for key := range fields {
		if _, ok := known[key]; !ok {
			return models.Submission{}, errs.Validation("field %q is not defined by form %s version %d", key, sub.FormID, sub.Version)
		}
	}

	if err := s.repo.UpdateSubmissionFields(ctx, id, fields); err != nil {
		return models.Submission{}, err
	}
	sub.Fields = fields

	s.audit(ctx, models.AuditLog{
		FormID:   sub.FormID,
		Actor:    actor,
		Action:   "submission_revised",
		Entity:   "submission",
		EntityID: id.String(),
		Payload:  map[string]interface{}{"status": sub.Status},
	})

	return sub, nil
}

func (s *Service) GetSubmission(ctx context.Context, id uuid.UUID) (models.Submission, error) {
	return s.repo.GetSubmission(ctx, id)
}

func (s *Service) ListSubmissions(ctx context.Context, formID uuid.UUID, limit int) ([]models.Submission, error) {
	return s.repo.ListSubmissions(ctx, formID, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, formID uuid.UUID, limit int) ([]models.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, formID, limit)
}

func (s *Service) audit(ctx context.Context, entry models.AuditLog) {
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	if err := s.repo.AppendAuditLog(ctx, entry); err != nil {
		logger.Log.WithError(err).Warn("failed to append audit log")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, "forms-service", data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("failed to publish event")
	}
}

// confirmationID derives the short code shown to submitters from the
// submission id: the first eight hex digits, upper-cased. Uniqueness
// per form is enforced by the storage index.
func confirmationID(id uuid.UUID) string {
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

func actorOrAnonymous(submitter string) string {
	if submitter == "" {
		return "anonymous"
	}
	return submitter
}
