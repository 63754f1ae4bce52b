package export

import (
	"context"
	"time"

	"github.com/formforge/platform/pkg/common/errs"
	"github.com/formforge/platform/pkg/common/logger"
	"github.com/formforge/platform/pkg/common/models"
	"github.com/google/uuid"
)

// SubmissionSource is the storage surface the stream reader pulls from.
// *Repository implements it; tests use in-memory fakes.
type SubmissionSource interface {
	CountSubmissions(ctx context.Context, formID uuid.UUID, version int, filters models.ExportFilters) (int64, error)
	ReadSubmissionBatch(ctx context.Context, formID uuid.UUID, version int, filters models.ExportFilters, cursor Cursor, limit int) ([]models.Submission, Cursor, error)
}

// Reader streams submissions out of storage in bounded batches. The
// consumer pulls the next batch only after it finished the previous
// one, which bounds memory regardless of total row count. A stream is
// finite and not restartable; callers re-create one per export.
type Reader struct {
	source    SubmissionSource
	batchSize int
	retries   int
	baseDelay time.Duration
}

func NewReader(source SubmissionSource, batchSize, retries int, baseDelay time.Duration) *Reader {
	if batchSize <= 0 {
		batchSize = 500
	}
	if retries <= 0 {
		retries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	return &Reader{source: source, batchSize: batchSize, retries: retries, baseDelay: baseDelay}
}

// Stream reads every matching submission in storage order (submitted_at
// then id, ascending) and hands each batch to fn. Batches already given
// to fn are never retracted: a mid-stream failure means the caller must
// discard whatever output it produced.
//
// cancelled is polled between batches; the in-flight batch finishes.
// Returns the number of rows streamed.
func (r *Reader) Stream(ctx context.Context, formID uuid.UUID, version int, filters models.ExportFilters, cancelled func() bool, fn func(batch []models.Submission) error) (int64, error) {
	var total int64
	var cursor Cursor

	for {
		if err := ctx.Err(); err != nil {
			if err == context.DeadlineExceeded {
				return total, errs.Timeout("export timed out after %d rows", total)
			}
			return total, errs.Cancelled("export interrupted after %d rows", total)
		}
		if cancelled != nil && cancelled() {
			return total, errs.Cancelled("export cancelled after %d rows", total)
		}

		batch, next, err := r.readBatchWithRetry(ctx, formID, version, filters, cursor)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		if err := fn(batch); err != nil {
			return total, err
		}
		total += int64(len(batch))
		cursor = next

		if len(batch) < r.batchSize {
			return total, nil
		}
	}
}

// readBatchWithRetry retries transient storage failures at the batch
// level only, with exponential backoff, before escalating.
func (r *Reader) readBatchWithRetry(ctx context.Context, formID uuid.UUID, version int, filters models.ExportFilters, cursor Cursor) ([]models.Submission, Cursor, error) {
	var lastErr error
	delay := r.baseDelay

	for attempt := 0; attempt < r.retries; attempt++ {
		batch, next, err := r.source.ReadSubmissionBatch(ctx, formID, version, filters, cursor, r.batchSize)
		if err == nil {
			return batch, next, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt == r.retries-1 {
			break
		}
		logger.Log.WithError(err).WithField("attempt", attempt+1).Warn("submission batch read failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, cursor, errs.Timeout("export timed out waiting to retry a batch read")
		}
		delay *= 2
		if delay > 2*time.Second {
			delay = 2 * time.Second
		}
	}
	return nil, cursor, errs.Wrap(errs.KindStorage, "submission batch read failed after retries", lastErr)
}
