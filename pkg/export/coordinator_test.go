package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/formforge/platform/pkg/common/errs"
	"github.com/formforge/platform/pkg/common/models"
	"github.com/formforge/platform/pkg/schema"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestCoordinator(t *testing.T, opts Options) (*Service, *Repository, *gorm.DB) {
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
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&jobModel{}, &snapshotRow{}, &submissionRow{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo := NewRepository(db)
	reader := NewReader(repo, 2, 3, time.Millisecond)
	if opts.ArtifactDir == "" {
		opts.ArtifactDir = t.TempDir()
	}
	if opts.SyncTimeout == 0 {
		opts.SyncTimeout = 5 * time.Second
	}
	svc, err := NewService(repo, reader, nil, nil, nil, opts)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return svc, repo, db
}

func seedSnapshot(t *testing.T, db *gorm.DB, formID uuid.UUID) {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"fields": []interface{}{
			map[string]interface{}{"key": "name", "type": "text"},
			map[string]interface{}{"key": "email", "type": "text"},
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal schema: %v", err)
	}
	row := snapshotRow{
		ID:        uuid.New(),
		FormID:    formID,
		Version:   1,
		Name:      "contact_form",
		Schema:    datatypes.JSON(raw),
		CreatedBy: "tester",
		CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed snapshot: %v", err)
	}
}

func seedSubmissions(t *testing.T, db *gorm.DB, formID uuid.UUID, n int, status string) {
	t.Helper()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		fields, err := json.Marshal(map[string]interface{}{
			"name":  fmt.Sprintf("person-%03d", i),
			"email": fmt.Sprintf("p%03d@example.com", i),
		})
		if err != nil {
			t.Fatalf("failed to marshal fields: %v", err)
		}
		row := submissionRow{
			ID:          uuid.New(),
			FormID:      formID,
			Version:     1,
			Submitter:   "tester",
			Status:      status,
			Fields:      datatypes.JSON(fields),
			SubmittedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("failed to seed submission: %v", err)
		}
	}
}

func waitForTerminal(t *testing.T, svc *Service, jobID uuid.UUID) models.ExportJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.GetStatus(context.Background(), jobID)
		if err != nil {
			t.Fatalf("status poll failed: %v", err)
		}
		switch job.Phase {
		case models.PhaseComplete, models.PhaseFailed, models.PhaseCancelled:
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal phase in time")
	return models.ExportJob{}
}

func TestRequestExportInlineCSV(t *testing.T) {
	svc, _, db := newTestCoordinator(t, Options{SyncRowLimit: 100})
	formID := uuid.New()
	seedSnapshot(t, db, formID)
	seedSubmissions(t, db, formID, 2, models.SubmissionCompleted)
	seedSubmissions(t, db, formID, 1, models.SubmissionDraft)

	result, job, err := svc.RequestExport(context.Background(), models.ExportRequest{
		FormID: formID,
		Format: models.FormatCSV,
	}, "tester")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if job != nil {
		t.Fatal("small export should have run inline")
	}
	if result.Rows != 2 {
		t.Fatalf("expected 2 non-draft rows, got %d", result.Rows)
	}

	records, err := csv.NewReader(bytes.NewReader(result.Data)).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid csv: %v", err)
	}
	if len(records) != 3 || records[0][0] != "name" || records[0][1] != "email" {
		t.Fatalf("unexpected csv output %v", records)
	}
}

func TestRequestExportEscalatesLargeSets(t *testing.T) {
	svc, _, db := newTestCoordinator(t, Options{SyncRowLimit: 1})
	formID := uuid.New()
	seedSnapshot(t, db, formID)
	seedSubmissions(t, db, formID, 5, models.SubmissionCompleted)

	result, job, err := svc.RequestExport(context.Background(), models.ExportRequest{
		FormID: formID,
		Format: models.FormatCSV,
	}, "tester")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if result != nil {
		t.Fatal("large export should not have run inline")
	}
	if job.Phase != models.PhaseQueued {
		t.Fatalf("expected queued job, got %q", job.Phase)
	}
	if job.TotalEstimate != 5 {
		t.Fatalf("expected estimate 5, got %d", job.TotalEstimate)
	}

	final := waitForTerminal(t, svc, job.ID)
	if final.Phase != models.PhaseComplete {
		t.Fatalf("expected completed job, got %q (%s)", final.Phase, final.FailureReason)
	}
	if final.RowsProcessed != 5 {
		t.Fatalf("expected 5 rows processed, got %d", final.RowsProcessed)
	}

	download, _, err := svc.GetResult(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("result fetch failed: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(download.Data)).ReadAll()
	if err != nil {
		t.Fatalf("artifact is not valid csv: %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("expected header plus 5 rows, got %d records", len(records))
	}
}

func TestRequestExportExplicitAsyncMode(t *testing.T) {
	svc, _, db := newTestCoordinator(t, Options{SyncRowLimit: 100})
	formID := uuid.New()
	seedSnapshot(t, db, formID)
	seedSubmissions(t, db, formID, 1, models.SubmissionCompleted)

	result, job, err := svc.RequestExport(context.Background(), models.ExportRequest{
		FormID: formID,
		Format: models.FormatJSON,
		Mode:   models.ModeAsynchronous,
	}, "tester")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if result != nil || job == nil {
		t.Fatal("explicit async mode must always produce a job")
	}
	waitForTerminal(t, svc, job.ID)
}

func TestRequestExportRejectsUnknownFormat(t *testing.T) {
	svc, _, db := newTestCoordinator(t, Options{})
	formID := uuid.New()
	seedSnapshot(t, db, formID)

	_, _, err := svc.RequestExport(context.Background(), models.ExportRequest{
		FormID: formID,
		Format: "parquet",
	}, "tester")
	if !errs.Is(err, errs.KindUnsupportedFormat) {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestRequestExportUnknownFormIsNotFound(t *testing.T) {
	svc, _, _ := newTestCoordinator(t, Options{})
	_, _, err := svc.RequestExport(context.Background(), models.ExportRequest{
		FormID: uuid.New(),
		Format: models.FormatCSV,
	}, "tester")
	if !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestRequestExportBadVersionSelector(t *testing.T) {
	svc, _, db := newTestCoordinator(t, Options{})
	formID := uuid.New()
	seedSnapshot(t, db, formID)

	_, _, err := svc.RequestExport(context.Background(), models.ExportRequest{
		FormID:  formID,
		Version: "newest",
		Format:  models.FormatCSV,
	}, "tester")
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRequestExportXLSXRowCap(t *testing.T) {
	svc, _, db := newTestCoordinator(t, Options{XLSXRowCap: 1})
	formID := uuid.New()
	seedSnapshot(t, db, formID)
	seedSubmissions(t, db, formID, 2, models.SubmissionCompleted)

	_, _, err := svc.RequestExport(context.Background(), models.ExportRequest{
		FormID: formID,
		Format: models.FormatXLSX,
	}, "tester")
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCancelledJobProducesNoArtifact(t *testing.T) {
	svc, repo, db := newTestCoordinator(t, Options{})
	formID := uuid.New()
	seedSnapshot(t, db, formID)
	seedSubmissions(t, db, formID, 3, models.SubmissionCompleted)

	now := time.Now().UTC()
	job, err := repo.CreateJob(context.Background(), models.ExportJob{
		ID:        uuid.New(),
		FormID:    formID,
		Version:   1,
		Format:    models.FormatCSV,
		Phase:     models.PhaseQueued,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	if _, err := repo.RequestCancel(context.Background(), job.ID); err != nil {
		t.Fatalf("failed to request cancel: %v", err)
	}

	snap, err := repo.GetSnapshot(context.Background(), formID, 1)
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	doc, err := schema.Parse(snap.Schema)
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}
	svc.run(job, doc)

	final, err := repo.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("failed to read job: %v", err)
	}
	if final.Phase != models.PhaseCancelled {
		t.Fatalf("expected cancelled phase, got %q", final.Phase)
	}

	if _, _, err := svc.GetResult(context.Background(), job.ID); !errs.Is(err, errs.KindCancelled) {
		t.Fatalf("expected cancelled error from result fetch, got %v", err)
	}
	if _, err := os.Stat(jobArtifactPath(svc.opts.ArtifactDir, final)); !os.IsNotExist(err) {
		t.Fatal("cancelled job must not leave an artifact behind")
	}
}

func TestGetResultBeforeCompletionConflicts(t *testing.T) {
	svc, repo, _ := newTestCoordinator(t, Options{})
	now := time.Now().UTC()
	job, err := repo.CreateJob(context.Background(), models.ExportJob{
		ID:        uuid.New(),
		FormID:    uuid.New(),
		Version:   1,
		Format:    models.FormatCSV,
		Phase:     models.PhaseQueued,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	if _, _, err := svc.GetResult(context.Background(), job.ID); !errs.Is(err, errs.KindConflict) {
		t.Fatalf("expected conflict for unfinished job, got %v", err)
	}
}

func TestCancelTerminalJobReportsPhase(t *testing.T) {
	svc, repo, _ := newTestCoordinator(t, Options{})
	now := time.Now().UTC()
	job, err := repo.CreateJob(context.Background(), models.ExportJob{
		ID:        uuid.New(),
		FormID:    uuid.New(),
		Version:   1,
		Format:    models.FormatCSV,
		Phase:     models.PhaseQueued,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	if err := repo.SetPhase(context.Background(), job.ID, models.PhaseStreaming, models.PhaseQueued); err != nil {
		t.Fatalf("failed to advance phase: %v", err)
	}
	if err := repo.MarkComplete(context.Background(), job.ID, 0, 0, "", nil); err != nil {
		t.Fatalf("failed to complete job: %v", err)
	}

	got, requested, err := svc.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if requested {
		t.Fatal("terminal job must not accept a cancel request")
	}
	if got.Phase != models.PhaseComplete {
		t.Fatalf("expected completed phase, got %q", got.Phase)
	}
}

func TestSweepExpiredRemovesJobAndArtifact(t *testing.T) {
	svc, repo, db := newTestCoordinator(t, Options{Retention: time.Hour})
	now := time.Now().UTC()
	job, err := repo.CreateJob(context.Background(), models.ExportJob{
		ID:        uuid.New(),
		FormID:    uuid.New(),
		Version:   1,
		Format:    models.FormatCSV,
		Phase:     models.PhaseQueued,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	path := jobArtifactPath(svc.opts.ArtifactDir, job)
	if err := os.WriteFile(path, []byte("name,email\n"), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	if err := repo.SetPhase(context.Background(), job.ID, models.PhaseStreaming, models.PhaseQueued); err != nil {
		t.Fatalf("failed to advance phase: %v", err)
	}
	if err := repo.MarkComplete(context.Background(), job.ID, 1, 11, path, nil); err != nil {
		t.Fatalf("failed to complete job: %v", err)
	}

	stale := now.Add(-2 * time.Hour)
	if err := db.Model(&jobModel{}).Where("id = ?", job.ID).Update("updated_at", stale).Error; err != nil {
		t.Fatalf("failed to age job: %v", err)
	}

	svc.SweepExpired(context.Background())

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expired artifact was not removed")
	}
	if _, err := repo.GetJob(context.Background(), job.ID); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected job to be deleted, got %v", err)
	}
}
