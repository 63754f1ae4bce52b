package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
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
	EventExportCompleted = "export.completed"
	EventExportFailed    = "export.failed"
)

// EventPublisher emits export lifecycle events. Nil disables publishing.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Options struct {
	ArtifactDir  string
	SyncRowLimit int64
	SyncTimeout  time.Duration
	MaxWorkers   int
	XLSXRowCap   int64
	Retention    time.Duration
}

// Service coordinates export requests: it resolves the target snapshot,
// decides between inline and background execution, and owns every write
// to a job's status row.
type Service struct {
	repo      *Repository
	reader    *Reader
	cache     *SnapshotCache
	progress  *ProgressStore
	events    EventPublisher
	opts      Options
	workerSem chan struct{}
}

func NewService(repo *Repository, reader *Reader, cache *SnapshotCache, progress *ProgressStore, events EventPublisher, opts Options) (*Service, error) {
	if opts.SyncRowLimit <= 0 {
		opts.SyncRowLimit = 2000
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.XLSXRowCap <= 0 {
		opts.XLSXRowCap = 100000
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.ArtifactDir == "" {
		opts.ArtifactDir = os.TempDir()
	}
	if err := os.MkdirAll(opts.ArtifactDir, 0o755); err != nil {
		return nil, err
	}
	return &Service{
		repo:      repo,
		reader:    reader,
		cache:     cache,
		progress:  progress,
		events:    events,
		opts:      opts,
		workerSem: make(chan struct{}, opts.MaxWorkers),
	}, nil
}

// RequestExport validates the request and either encodes inline
// (synchronous) or enqueues a background job. When the caller leaves the
// mode open, an estimated row count over the sync limit forces the
// asynchronous path so one large export cannot pin a request thread.
// Exactly one of the two return values is set on success.
func (s *Service) RequestExport(ctx context.Context, req models.ExportRequest, requester string) (*Result, *models.ExportJob, error) {
	if req.Mode != "" && req.Mode != models.ModeSynchronous && req.Mode != models.ModeAsynchronous {
		return nil, nil, errs.Validation("mode %q is neither synchronous nor asynchronous", req.Mode)
	}

	snap, err := s.resolveSnapshot(ctx, req.FormID, req.Version)
	if err != nil {
		return nil, nil, err
	}
	doc, err := schema.Parse(snap.Schema)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindStorage, "stored snapshot schema unreadable", err)
	}
	// Probes the format before any storage work.
	if _, err := NewEncoder(req.Format, doc); err != nil {
		return nil, nil, err
	}

	estimate, err := s.repo.CountSubmissions(ctx, req.FormID, snap.Version, req.Filters)
	if err != nil {
		return nil, nil, err
	}
	if req.Format == models.FormatXLSX && estimate > s.opts.XLSXRowCap {
		return nil, nil, errs.Validation("xlsx exports are capped at %d rows; %d match the filters (use csv or json)", s.opts.XLSXRowCap, estimate)
	}

	async := req.Mode == models.ModeAsynchronous || estimate > s.opts.SyncRowLimit
	if !async {
		result, err := s.runSync(ctx, snap, doc, req)
		return result, nil, err
	}

	now := time.Now().UTC()
	job := models.ExportJob{
		ID:            uuid.New(),
		FormID:        req.FormID,
		Version:       snap.Version,
		Format:        req.Format,
		Filters:       req.Filters,
		Requester:     requester,
		Phase:         models.PhaseQueued,
		TotalEstimate: estimate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	job, err = s.repo.CreateJob(ctx, job)
	if err != nil {
		return nil, nil, err
	}
	metrics.ObserveJobQueued()
	go s.run(job, doc)
	return nil, &job, nil
}

func (s *Service) resolveSnapshot(ctx context.Context, formID uuid.UUID, selector string) (models.FormSnapshot, error) {
	selector = strings.TrimSpace(strings.ToLower(selector))
	if selector == "" || selector == "latest" {
		// Immutable versions cache well; "latest" never does.
		snap, err := s.repo.GetLatestSnapshot(ctx, formID)
		if err != nil {
			return models.FormSnapshot{}, err
		}
		s.cache.Put(ctx, snap)
		return snap, nil
	}

	version, err := strconv.Atoi(selector)
	if err != nil || version < 1 {
		return models.FormSnapshot{}, errs.Validation("version selector %q is neither \"latest\" nor a positive number", selector)
	}
	if snap, ok := s.cache.Get(ctx, formID, version); ok {
		return snap, nil
	}
	snap, err := s.repo.GetSnapshot(ctx, formID, version)
	if err != nil {
		return models.FormSnapshot{}, err
	}
	s.cache.Put(ctx, snap)
	return snap, nil
}

// runSync executes the whole pipeline inline under a hard wall-clock
// timeout. On expiry the caller gets a timeout error, never partial
// bytes.
func (s *Service) runSync(ctx context.Context, snap models.FormSnapshot, doc schema.Document, req models.ExportRequest) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SyncTimeout)
	defer cancel()

	enc, err := NewEncoder(req.Format, doc)
	if err != nil {
		return nil, err
	}

	rows, err := s.reader.Stream(ctx, req.FormID, snap.Version, req.Filters, nil, func(batch []models.Submission) error {
		for i := range batch {
			if err := enc.WriteRecord(batch[i]); err != nil {
				return errs.Wrap(errs.KindEncoding, "failed to encode submission", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := enc.Finish()
	if err != nil {
		return nil, errs.Wrap(errs.KindEncoding, "failed to finalize output", err)
	}
	metrics.ObserveExportCompleted(rows)
	return &Result{
		Format:      req.Format,
		ContentType: enc.ContentType(),
		Data:        data,
		Rows:        rows,
		Warnings:    enc.Warnings(),
	}, nil
}

// run drives one background job to a terminal phase. It is the only
// writer of the job's status row while the job is live; progress flows
// from the streaming loop over a channel to a single updater goroutine
// rather than through shared fields.
func (s *Service) run(job models.ExportJob, doc schema.Document) {
	s.workerSem <- struct{}{}
	defer func() { <-s.workerSem }()

	ctx := context.Background()
	log := logger.Log.WithField("job_id", job.ID.String())

	if err := s.repo.SetPhase(ctx, job.ID, models.PhaseStreaming, models.PhaseQueued); err != nil {
		log.WithError(err).Error("failed to mark job streaming")
		s.fail(ctx, job, models.PhaseFailed, "could not start streaming")
		return
	}

	progressCh := make(chan int64, 1)
	updaterDone := make(chan struct{})
	go func() {
		defer close(updaterDone)
		for rows := range progressCh {
			if err := s.repo.SetProgress(ctx, job.ID, rows); err != nil {
				log.WithError(err).Warn("failed to persist job progress")
			}
			s.progress.Set(ctx, job.ID, rows)
		}
	}()

	enc, err := NewEncoder(job.Format, doc)
	if err != nil {
		close(progressCh)
		<-updaterDone
		s.fail(ctx, job, models.PhaseFailed, err.Error())
		return
	}

	cancelled := func() bool {
		flagged, err := s.repo.CancelRequested(ctx, job.ID)
		return err == nil && flagged
	}

	var streamed int64
	rows, err := s.reader.Stream(ctx, job.FormID, job.Version, job.Filters, cancelled, func(batch []models.Submission) error {
		for i := range batch {
			if err := enc.WriteRecord(batch[i]); err != nil {
				return errs.Wrap(errs.KindEncoding, "failed to encode submission", err)
			}
		}
		streamed += int64(len(batch))
		select {
		case progressCh <- streamed:
		default:
			// Progress is advisory; never stall the stream on it.
		}
		return nil
	})
	close(progressCh)
	<-updaterDone

	if err != nil {
		if errs.Is(err, errs.KindCancelled) {
			log.Info("export job cancelled")
			s.fail(ctx, job, models.PhaseCancelled, "cancelled by requester")
			return
		}
		log.WithError(err).Error("export job streaming failed")
		s.fail(ctx, job, models.PhaseFailed, err.Error())
		return
	}

	if err := s.repo.SetPhase(ctx, job.ID, models.PhaseEncoding, models.PhaseStreaming); err != nil {
		log.WithError(err).Error("failed to mark job encoding")
		s.fail(ctx, job, models.PhaseFailed, "could not start encoding")
		return
	}

	data, err := enc.Finish()
	if err != nil {
		log.WithError(err).Error("export job encoding failed")
		s.fail(ctx, job, models.PhaseFailed, err.Error())
		return
	}

	path := filepath.Join(s.opts.ArtifactDir, fmt.Sprintf("%s.%s", job.ID, enc.FileExtension()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.WithError(err).Error("failed to write export artifact")
		s.fail(ctx, job, models.PhaseFailed, "could not persist artifact")
		return
	}

	if err := s.repo.MarkComplete(ctx, job.ID, rows, int64(len(data)), path, enc.Warnings()); err != nil {
		log.WithError(err).Error("failed to mark job complete")
		return
	}
	s.progress.Set(ctx, job.ID, rows)
	metrics.ObserveExportCompleted(rows)
	s.publish(ctx, EventExportCompleted, map[string]interface{}{
		"job_id":  job.ID.String(),
		"form_id": job.FormID.String(),
		"format":  job.Format,
		"rows":    rows,
		"bytes":   len(data),
	})
	log.WithField("rows", rows).Info("export job complete")
}

func (s *Service) fail(ctx context.Context, job models.ExportJob, phase, reason string) {
	if err := s.repo.MarkFailed(ctx, job.ID, phase, reason); err != nil {
		logger.Log.WithError(err).Error("failed to mark export job failed")
	}
	s.progress.Clear(ctx, job.ID)
	metrics.ObserveExportFailed()
	s.publish(ctx, EventExportFailed, map[string]interface{}{
		"job_id":  job.ID.String(),
		"form_id": job.FormID.String(),
		"phase":   phase,
		"reason":  reason,
	})
}

// GetStatus reports the job's phase and progress. The total estimate is
// fixed at job creation, so progress can read over 100% when new
// submissions arrive mid-export; that approximation is accepted.
func (s *Service) GetStatus(ctx context.Context, jobID uuid.UUID) (models.ExportJob, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return models.ExportJob{}, err
	}
	if job.Phase == models.PhaseStreaming || job.Phase == models.PhaseEncoding {
		if rows, ok := s.progress.Get(ctx, jobID); ok && rows > job.RowsProcessed {
			job.RowsProcessed = rows
		}
	}
	return job, nil
}

// GetResult returns the finished artifact. It is idempotent: polling
// again after a successful read returns the same bytes until the
// retention sweep removes the job. Failed or cancelled jobs never
// expose partial output.
func (s *Service) GetResult(ctx context.Context, jobID uuid.UUID) (*Result, models.ExportJob, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, models.ExportJob{}, err
	}

	switch job.Phase {
	case models.PhaseComplete:
	case models.PhaseCancelled:
		return nil, job, errs.Cancelled("export job %s was cancelled", jobID)
	case models.PhaseFailed:
		return nil, job, errs.Conflict("export job %s failed: %s", jobID, job.FailureReason)
	default:
		return nil, job, errs.Conflict("export job %s is still %s", jobID, job.Phase)
	}

	artifact, err := s.fetchArtifact(job)
	if err != nil {
		return nil, job, err
	}
	return artifact, job, nil
}

func (s *Service) fetchArtifact(job models.ExportJob) (*Result, error) {
	data, err := os.ReadFile(jobArtifactPath(s.opts.ArtifactDir, job))
	if err != nil {
		return nil, errs.Storage("export artifact unavailable", err)
	}
	return &Result{
		Format:      job.Format,
		ContentType: contentTypeFor(job.Format),
		Data:        data,
		Rows:        job.RowsProcessed,
		Warnings:    job.Warnings,
	}, nil
}

// Cancel requests cooperative cancellation. The in-flight batch is
// allowed to finish; the returned job reflects the phase at call time,
// so an already-terminal job is reported rather than re-cancelled.
func (s *Service) Cancel(ctx context.Context, jobID uuid.UUID) (models.ExportJob, bool, error) {
	requested, err := s.repo.RequestCancel(ctx, jobID)
	if err != nil {
		return models.ExportJob{}, false, err
	}
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return models.ExportJob{}, false, err
	}
	return job, requested, nil
}

func (s *Service) ListJobs(ctx context.Context, formID uuid.UUID, limit int) ([]models.ExportJob, error) {
	return s.repo.ListJobs(ctx, formID, limit)
}

// SweepExpired deletes jobs past the retention window together with
// their artifacts. Mains run it on a ticker.
func (s *Service) SweepExpired(ctx context.Context) {
	paths, err := s.repo.DeleteExpired(ctx, time.Now().UTC().Add(-s.opts.Retention))
	if err != nil {
		logger.Log.WithError(err).Error("retention sweep failed")
		return
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Log.WithError(err).WithField("path", path).Warn("failed to remove expired artifact")
		}
	}
	if len(paths) > 0 {
		logger.Log.WithField("count", len(paths)).Info("expired export artifacts removed")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, "export-service", data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("failed to publish event")
	}
}

func jobArtifactPath(dir string, job models.ExportJob) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%s", job.ID, extensionFor(job.Format)))
}

func extensionFor(format string) string {
	return format
}

func contentTypeFor(format string) string {
	switch format {
	case models.FormatCSV:
		return "text/csv; charset=utf-8"
	case models.FormatJSON:
		return "application/json"
	case models.FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
