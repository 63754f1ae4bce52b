package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/formforge/platform/pkg/common/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func newTestRouter(t *testing.T, svc *Service) *mux.Router {
	t.Helper()
	router := mux.NewRouter()
	NewHandler(svc).Register(router)
	return router
}

func TestHandleRequestExportInlineDownload(t *testing.T) {
	svc, _, db := newTestCoordinator(t, Options{SyncRowLimit: 100})
	formID := uuid.New()
	seedSnapshot(t, db, formID)
	seedSubmissions(t, db, formID, 2, models.SubmissionCompleted)
	router := newTestRouter(t, svc)

	body, _ := json.Marshal(models.ExportRequest{FormID: formID, Format: models.FormatCSV})
	req := httptest.NewRequest(http.MethodPost, "/exports", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rows := rec.Header().Get("X-Export-Rows"); rows != "2" {
		t.Fatalf("unexpected row header %q", rows)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("name,email\n")) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestHandleRequestExportAsyncReturnsJob(t *testing.T) {
	svc, _, db := newTestCoordinator(t, Options{SyncRowLimit: 1})
	formID := uuid.New()
	seedSnapshot(t, db, formID)
	seedSubmissions(t, db, formID, 3, models.SubmissionCompleted)
	router := newTestRouter(t, svc)

	body, _ := json.Marshal(models.ExportRequest{FormID: formID, Format: models.FormatCSV})
	req := httptest.NewRequest(http.MethodPost, "/exports", bytes.NewReader(body))
	req.Header.Set("X-User-Id", "analyst-7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Job models.ExportJob `json:"job"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response is not json: %v", err)
	}
	if payload.Job.ID == uuid.Nil || payload.Job.Phase != models.PhaseQueued {
		t.Fatalf("unexpected job envelope %+v", payload.Job)
	}
	if payload.Job.Requester != "analyst-7" {
		t.Fatalf("requester not taken from gateway identity header: %q", payload.Job.Requester)
	}
	waitForTerminal(t, svc, payload.Job.ID)

	statusReq := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/exports/%s/status", payload.Job.ID), nil)
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)
	if statusRec.Code != http.StatusOK {
		t.Fatalf("status poll failed with %d", statusRec.Code)
	}

	resultReq := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/exports/%s/result", payload.Job.ID), nil)
	resultRec := httptest.NewRecorder()
	router.ServeHTTP(resultRec, resultReq)
	if resultRec.Code != http.StatusOK {
		t.Fatalf("result fetch failed with %d: %s", resultRec.Code, resultRec.Body.String())
	}
}

func TestHandleStatusUnknownJobIs404(t *testing.T) {
	svc, _, _ := newTestCoordinator(t, Options{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/exports/%s/status", uuid.New()), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRequestExportUnsupportedFormatIs400(t *testing.T) {
	svc, _, db := newTestCoordinator(t, Options{})
	formID := uuid.New()
	seedSnapshot(t, db, formID)
	router := newTestRouter(t, svc)

	body, _ := json.Marshal(models.ExportRequest{FormID: formID, Format: "parquet"})
	req := httptest.NewRequest(http.MethodPost, "/exports", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
