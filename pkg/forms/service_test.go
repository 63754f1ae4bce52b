package forms

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/formforge/platform/pkg/common/errs"
	"github.com/formforge/platform/pkg/common/models"
	"github.com/formforge/platform/pkg/schema"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *Repository) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	// One connection serializes writes so concurrent publishes contend
	// on the unique index rather than on sqlite's file lock.
	sqlDB.SetMaxOpenConns(1)

	repo := NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	validator := schema.NewValidator(schema.DefaultCatalog(), 8)
	// Retry budget sized for the concurrency test's worst case.
	return NewService(repo, validator, nil, 10), repo
}

func simpleSchema() map[string]interface{} {
	return map[string]interface{}{
		"fields": []interface{}{
			map[string]interface{}{"key": "name", "type": "text", "required": true},
			map[string]interface{}{"key": "email", "type": "text"},
		},
	}
}

func TestPublishSnapshotAssignsSequentialVersions(t *testing.T) {
	svc, _ := newTestService(t)
	formID := uuid.New()

	for want := 1; want <= 5; want++ {
		snap, err := svc.PublishSnapshot(context.Background(), formID, models.PublishSnapshotRequest{
			DisplayName: "Intake Form",
			Schema:      simpleSchema(),
		}, "tester")
		if err != nil {
			t.Fatalf("publish %d failed: %v", want, err)
		}
		if snap.Version != want {
			t.Fatalf("expected version %d, got %d", want, snap.Version)
		}
		if snap.Name != "intake_form" {
			t.Fatalf("unexpected snapshot name %q", snap.Name)
		}
	}
}

func TestPublishSnapshotConcurrentVersionsAreGapless(t *testing.T) {
	svc, _ := newTestService(t)
	formID := uuid.New()

	const publishers = 8
	var wg sync.WaitGroup
	versions := make(chan int, publishers)
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := svc.PublishSnapshot(context.Background(), formID, models.PublishSnapshotRequest{
				DisplayName: "Race Form",
				Schema:      simpleSchema(),
			}, "tester")
			if err != nil {
				t.Errorf("concurrent publish failed: %v", err)
				return
			}
			versions <- snap.Version
		}()
	}
	wg.Wait()
	close(versions)

	var got []int
	for v := range versions {
		got = append(got, v)
	}
	sort.Ints(got)
	if len(got) != publishers {
		t.Fatalf("expected %d successful publishes, got %d", publishers, len(got))
	}
	for i, v := range got {
		if v != i+1 {
			t.Fatalf("versions not gapless: %v", got)
		}
	}
}

func TestPublishSnapshotRejectsInvalidSchema(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.PublishSnapshot(context.Background(), uuid.New(), models.PublishSnapshotRequest{
		DisplayName: "Broken",
		Schema: map[string]interface{}{
			"fields": []interface{}{
				map[string]interface{}{"key": "priority", "type": "select"},
			},
		},
	}, "tester")
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInsertSnapshotDetectsVersionRace(t *testing.T) {
	_, repo := newTestService(t)
	formID := uuid.New()
	snap := models.FormSnapshot{
		ID:      uuid.New(),
		FormID:  formID,
		Version: 1,
		Name:    "dup",
		Schema:  simpleSchema(),
	}
	if _, err := repo.InsertSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	snap.ID = uuid.New()
	if _, err := repo.InsertSnapshot(context.Background(), snap); err != ErrVersionTaken {
		t.Fatalf("expected ErrVersionTaken, got %v", err)
	}
}

func TestResolveSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	formID := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := svc.PublishSnapshot(context.Background(), formID, models.PublishSnapshotRequest{
			DisplayName: "Versioned",
			Schema:      simpleSchema(),
		}, "tester"); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	latest, err := svc.ResolveSnapshot(context.Background(), formID, "latest")
	if err != nil {
		t.Fatalf("resolve latest failed: %v", err)
	}
	if latest.Version != 3 {
		t.Fatalf("expected latest version 3, got %d", latest.Version)
	}

	second, err := svc.ResolveSnapshot(context.Background(), formID, "2")
	if err != nil {
		t.Fatalf("resolve explicit failed: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("expected version 2, got %d", second.Version)
	}

	if _, err := svc.ResolveSnapshot(context.Background(), formID, "9"); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.ResolveSnapshot(context.Background(), formID, "newest"); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for bad selector, got %v", err)
	}
	if _, err := svc.ResolveSnapshot(context.Background(), uuid.New(), "latest"); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected not found for unknown form, got %v", err)
	}
}

func TestCreateSubmissionChecksFieldKeys(t *testing.T) {
	svc, _ := newTestService(t)
	formID := uuid.New()
	if _, err := svc.PublishSnapshot(context.Background(), formID, models.PublishSnapshotRequest{
		DisplayName: "Contact",
		Schema:      simpleSchema(),
	}, "tester"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	sub, err := svc.CreateSubmission(context.Background(), formID, models.CreateSubmissionRequest{
		Fields: map[string]interface{}{"name": "Ada", "email": "ada@example.com"},
	})
	if err != nil {
		t.Fatalf("submission failed: %v", err)
	}
	if sub.Status != models.SubmissionSubmitted {
		t.Fatalf("expected submitted status, got %s", sub.Status)
	}
	if len(sub.ConfirmationID) != 8 {
		t.Fatalf("expected 8-char confirmation id, got %q", sub.ConfirmationID)
	}

	_, err = svc.CreateSubmission(context.Background(), formID, models.CreateSubmissionRequest{
		Fields: map[string]interface{}{"name": "Ada", "unknown_field": true},
	})
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for unknown key, got %v", err)
	}
}

func TestCreateSubmissionDraftHasNoConfirmation(t *testing.T) {
	svc, _ := newTestService(t)
	formID := uuid.New()
	if _, err := svc.PublishSnapshot(context.Background(), formID, models.PublishSnapshotRequest{
		DisplayName: "Contact",
		Schema:      simpleSchema(),
	}, "tester"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	sub, err := svc.CreateSubmission(context.Background(), formID, models.CreateSubmissionRequest{
		Draft:  true,
		Fields: map[string]interface{}{"name": "Draft"},
	})
	if err != nil {
		t.Fatalf("draft submission failed: %v", err)
	}
	if sub.Status != models.SubmissionDraft {
		t.Fatalf("expected draft status, got %s", sub.Status)
	}
	if sub.ConfirmationID != "" {
		t.Fatalf("draft should have no confirmation id, got %q", sub.ConfirmationID)
	}
}

func TestTransitionDraftAssignsConfirmation(t *testing.T) {
	svc, _ := newTestService(t)
	formID := uuid.New()
	if _, err := svc.PublishSnapshot(context.Background(), formID, models.PublishSnapshotRequest{
		DisplayName: "Contact",
		Schema:      simpleSchema(),
	}, "tester"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	draft, err := svc.CreateSubmission(context.Background(), formID, models.CreateSubmissionRequest{
		Draft:  true,
		Fields: map[string]interface{}{"name": "Draft"},
	})
	if err != nil {
		t.Fatalf("draft submission failed: %v", err)
	}

	sub, err := svc.TransitionSubmission(context.Background(), draft.ID, models.SubmissionSubmitted, "reviewer")
	if err != nil {
		t.Fatalf("draft->submitted failed: %v", err)
	}
	if sub.ConfirmationID == "" {
		t.Fatal("submitted submission should carry a confirmation id")
	}

	stored, err := svc.GetSubmission(context.Background(), draft.ID)
	if err != nil {
		t.Fatalf("get submission failed: %v", err)
	}
	if stored.ConfirmationID != sub.ConfirmationID {
		t.Fatalf("confirmation id not persisted: got %q, want %q", stored.ConfirmationID, sub.ConfirmationID)
	}

	// Bouncing through revising keeps the original code.
	if _, err := svc.TransitionSubmission(context.Background(), draft.ID, models.SubmissionRevising, "reviewer"); err != nil {
		t.Fatalf("submitted->revising failed: %v", err)
	}
	again, err := svc.TransitionSubmission(context.Background(), draft.ID, models.SubmissionSubmitted, "reviewer")
	if err != nil {
		t.Fatalf("revising->submitted failed: %v", err)
	}
	if again.ConfirmationID != sub.ConfirmationID {
		t.Fatalf("confirmation id changed on resubmission: got %q, want %q", again.ConfirmationID, sub.ConfirmationID)
	}
}

func TestReviseSubmissionReplacesFields(t *testing.T) {
	svc, _ := newTestService(t)
	formID := uuid.New()
	if _, err := svc.PublishSnapshot(context.Background(), formID, models.PublishSnapshotRequest{
		DisplayName: "Contact",
		Schema:      simpleSchema(),
	}, "tester"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	sub, err := svc.CreateSubmission(context.Background(), formID, models.CreateSubmissionRequest{
		Fields: map[string]interface{}{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("submission failed: %v", err)
	}

	// Submissions are immutable while submitted.
	if _, err := svc.ReviseSubmission(context.Background(), sub.ID, map[string]interface{}{"name": "Grace"}, "reviewer"); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for submitted revision, got %v", err)
	}

	if _, err := svc.TransitionSubmission(context.Background(), sub.ID, models.SubmissionRevising, "reviewer"); err != nil {
		t.Fatalf("submitted->revising failed: %v", err)
	}

	if _, err := svc.ReviseSubmission(context.Background(), sub.ID, map[string]interface{}{"badge": "007"}, "reviewer"); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for unknown field key, got %v", err)
	}

	revised, err := svc.ReviseSubmission(context.Background(), sub.ID, map[string]interface{}{"name": "Grace", "email": "grace@example.com"}, "reviewer")
	if err != nil {
		t.Fatalf("revision failed: %v", err)
	}
	if revised.Fields["name"] != "Grace" {
		t.Fatalf("unexpected revised fields %v", revised.Fields)
	}

	stored, err := svc.GetSubmission(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get submission failed: %v", err)
	}
	if stored.Fields["email"] != "grace@example.com" {
		t.Fatalf("revision not persisted: %v", stored.Fields)
	}
	if stored.Status != models.SubmissionRevising {
		t.Fatalf("revision must not change status, got %s", stored.Status)
	}
}

func TestTransitionSubmissionEnforcesMachine(t *testing.T) {
	svc, _ := newTestService(t)
	formID := uuid.New()
	if _, err := svc.PublishSnapshot(context.Background(), formID, models.PublishSnapshotRequest{
		DisplayName: "Contact",
		Schema:      simpleSchema(),
	}, "tester"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	sub, err := svc.CreateSubmission(context.Background(), formID, models.CreateSubmissionRequest{
		Fields: map[string]interface{}{"name": "Ada"},
	})
	if err != nil {
		t.Fatalf("submission failed: %v", err)
	}

	if _, err := svc.TransitionSubmission(context.Background(), sub.ID, models.SubmissionDraft, "reviewer"); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for submitted->draft, got %v", err)
	}

	if _, err := svc.TransitionSubmission(context.Background(), sub.ID, models.SubmissionCompleted, "reviewer"); err != nil {
		t.Fatalf("submitted->completed failed: %v", err)
	}

	// Completed is terminal.
	if _, err := svc.TransitionSubmission(context.Background(), sub.ID, models.SubmissionRevising, "reviewer"); !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error for terminal submission, got %v", err)
	}
}
