package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/formforge/platform/pkg/common/errs"
	"github.com/formforge/platform/pkg/common/models"
	"github.com/google/uuid"
)

// fakeSource serves a fixed, pre-sorted submission slice and can be
// told to fail the next N reads.
type fakeSource struct {
	subs     []models.Submission
	failNext int
	reads    int
}

func (f *fakeSource) CountSubmissions(_ context.Context, _ uuid.UUID, _ int, _ models.ExportFilters) (int64, error) {
	return int64(len(f.subs)), nil
}

func (f *fakeSource) ReadSubmissionBatch(_ context.Context, _ uuid.UUID, _ int, _ models.ExportFilters, cursor Cursor, limit int) ([]models.Submission, Cursor, error) {
	f.reads++
	if f.failNext > 0 {
		f.failNext--
		return nil, cursor, errors.New("transient storage hiccup")
	}

	start := 0
	if cursor.valid {
		for i, sub := range f.subs {
			if sub.ID == cursor.AfterID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.subs) {
		end = len(f.subs)
	}
	batch := f.subs[start:end]
	next := cursor
	if len(batch) > 0 {
		last := batch[len(batch)-1]
		next = Cursor{After: last.SubmittedAt, AfterID: last.ID, valid: true}
	}
	return batch, next, nil
}

func orderedSubmissions(n int) []models.Submission {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	subs := make([]models.Submission, 0, n)
	for i := 0; i < n; i++ {
		subs = append(subs, models.Submission{
			ID:          uuid.New(),
			FormID:      uuid.New(),
			Version:     1,
			Status:      models.SubmissionCompleted,
			Fields:      map[string]interface{}{"name": fmt.Sprintf("person-%03d", i), "email": fmt.Sprintf("p%03d@example.com", i)},
			SubmittedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return subs
}

func encodeAll(t *testing.T, subs []models.Submission, batchSize int) []byte {
	t.Helper()
	reader := NewReader(&fakeSource{subs: subs}, batchSize, 3, time.Millisecond)
	enc, err := NewEncoder(models.FormatCSV, contactDoc(t))
	if err != nil {
		t.Fatalf("failed to build encoder: %v", err)
	}
	rows, err := reader.Stream(context.Background(), uuid.New(), 1, models.ExportFilters{}, nil, func(batch []models.Submission) error {
		for i := range batch {
			if err := enc.WriteRecord(batch[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if rows != int64(len(subs)) {
		t.Fatalf("expected %d rows, got %d", len(subs), rows)
	}
	data, err := enc.Finish()
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	return data
}

func TestStreamOutputIndependentOfBatchSize(t *testing.T) {
	subs := orderedSubmissions(47)
	small := encodeAll(t, subs, 1)
	medium := encodeAll(t, subs, 10)
	large := encodeAll(t, subs, 500)

	if !bytes.Equal(small, medium) || !bytes.Equal(medium, large) {
		t.Fatal("encoded output differs across batch sizes")
	}
}

func TestStreamRetriesTransientFailures(t *testing.T) {
	source := &fakeSource{subs: orderedSubmissions(5), failNext: 2}
	reader := NewReader(source, 500, 3, time.Millisecond)

	rows, err := reader.Stream(context.Background(), uuid.New(), 1, models.ExportFilters{}, nil, func([]models.Submission) error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected retries to absorb failures, got %v", err)
	}
	if rows != 5 {
		t.Fatalf("expected 5 rows, got %d", rows)
	}
}

func TestStreamFailsAfterRetryBudget(t *testing.T) {
	source := &fakeSource{subs: orderedSubmissions(5), failNext: 3}
	reader := NewReader(source, 500, 3, time.Millisecond)

	_, err := reader.Stream(context.Background(), uuid.New(), 1, models.ExportFilters{}, nil, func([]models.Submission) error {
		return nil
	})
	if !errs.Is(err, errs.KindStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestStreamHonoursCancellationBetweenBatches(t *testing.T) {
	subs := orderedSubmissions(30)
	reader := NewReader(&fakeSource{subs: subs}, 10, 3, time.Millisecond)

	var batches int
	cancelled := func() bool { return batches >= 1 }
	rows, err := reader.Stream(context.Background(), uuid.New(), 1, models.ExportFilters{}, cancelled, func(batch []models.Submission) error {
		batches++
		return nil
	})
	if !errs.Is(err, errs.KindCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	// The in-flight batch finishes; nothing after it starts.
	if batches != 1 || rows != 10 {
		t.Fatalf("expected exactly one delivered batch of 10, got %d batches / %d rows", batches, rows)
	}
}

func TestStreamReportsDeadlineAsTimeout(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	reader := NewReader(&fakeSource{subs: orderedSubmissions(5)}, 500, 3, time.Millisecond)
	_, err := reader.Stream(ctx, uuid.New(), 1, models.ExportFilters{}, nil, func([]models.Submission) error {
		return nil
	})
	if !errs.Is(err, errs.KindTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
