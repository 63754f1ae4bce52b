package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	exportJobsQueued     atomic.Int64
	exportsCompleted     atomic.Int64
	exportsFailed        atomic.Int64
	exportRows           atomic.Int64
	snapshotsPublished   atomic.Int64
	submissionsReceived  atomic.Int64
	submissionsCompleted atomic.Int64
)

func Init() {}

func ObserveJobQueued() {
	exportJobsQueued.Add(1)
}

func ObserveExportCompleted(rows int64) {
	exportsCompleted.Add(1)
	exportRows.Add(rows)
}

func ObserveExportFailed() {
	exportsFailed.Add(1)
}

func ObserveSnapshotPublished() {
	snapshotsPublished.Add(1)
}

func ObserveSubmission(status string) {
	submissionsReceived.Add(1)
	if status == "completed" {
		submissionsCompleted.Add(1)
	}
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP formforge_export_jobs_queued_total Number of background export jobs accepted since start.\n")
	fmt.Fprintf(w, "# TYPE formforge_export_jobs_queued_total counter\n")
	fmt.Fprintf(w, "formforge_export_jobs_queued_total %d\n", exportJobsQueued.Load())

	fmt.Fprintf(w, "# HELP formforge_exports_completed_total Number of exports (inline and background) finished successfully since start.\n")
	fmt.Fprintf(w, "# TYPE formforge_exports_completed_total counter\n")
	fmt.Fprintf(w, "formforge_exports_completed_total %d\n", exportsCompleted.Load())

	fmt.Fprintf(w, "# HELP formforge_exports_failed_total Number of export jobs that ended failed or cancelled since start.\n")
	fmt.Fprintf(w, "# TYPE formforge_exports_failed_total counter\n")
	fmt.Fprintf(w, "formforge_exports_failed_total %d\n", exportsFailed.Load())

	fmt.Fprintf(w, "# HELP formforge_export_rows_total Number of submission rows written to export output since start.\n")
	fmt.Fprintf(w, "# TYPE formforge_export_rows_total counter\n")
	fmt.Fprintf(w, "formforge_export_rows_total %d\n", exportRows.Load())

	fmt.Fprintf(w, "# HELP formforge_form_snapshots_published_total Number of form schema snapshots published since start.\n")
	fmt.Fprintf(w, "# TYPE formforge_form_snapshots_published_total counter\n")
	fmt.Fprintf(w, "formforge_form_snapshots_published_total %d\n", snapshotsPublished.Load())

	fmt.Fprintf(w, "# HELP formforge_submissions_received_total Number of submissions accepted since start.\n")
	fmt.Fprintf(w, "# TYPE formforge_submissions_received_total counter\n")
	fmt.Fprintf(w, "formforge_submissions_received_total %d\n", submissionsReceived.Load())

	fmt.Fprintf(w, "# HELP formforge_submissions_completed_total Number of submissions that reached the completed status since start.\n")
	fmt.Fprintf(w, "# TYPE formforge_submissions_completed_total counter\n")
	fmt.Fprintf(w, "formforge_submissions_completed_total %d\n", submissionsCompleted.Load())
}
