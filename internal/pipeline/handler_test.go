package pipeline

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"docrecon-backend/internal/shared/server/respond"
)

func setupRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, _ := newTestService(nil, nil)
	router := gin.New()
	NewHandler(svc).RegisterRoutes(router.Group("/api/v1"))
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func ingestDocument(t *testing.T, router *gin.Engine) string {
	t.Helper()
	resp := doJSON(t, router, http.MethodPost, "/api/v1/ingest", map[string]string{
		"filename":       "invoice.txt",
		"mime_type":      "text/plain",
		"base64_content": base64.StdEncoding.EncodeToString([]byte("id: 123\namount: 100.00\n")),
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, body %s", resp.Code, resp.Body.String())
	}
	var out struct {
		DocumentID string `json:"document_id"`
		State      string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode ingest response: %v", err)
	}
	if out.State != "HIL_REQUIRED" {
		t.Fatalf("ingest state = %s", out.State)
	}
	if out.DocumentID == "" {
		t.Fatalf("expected document_id")
	}
	return out.DocumentID
}

func TestIngestEndpoint(t *testing.T) {
	router, _ := setupRouter(t)
	ingestDocument(t, router)
}

func TestIngestEndpointRejectsBadBase64(t *testing.T) {
	router, _ := setupRouter(t)
	resp := doJSON(t, router, http.MethodPost, "/api/v1/ingest", map[string]string{
		"filename":       "invoice.txt",
		"base64_content": "!!!not-base64!!!",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.Code)
	}
	var out respond.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if out.Error.Code != ErrorCodeValidation {
		t.Fatalf("error code = %s", out.Error.Code)
	}
}

func TestHilRoundTrip(t *testing.T) {
	router, _ := setupRouter(t)
	docID := ingestDocument(t, router)

	resp := doJSON(t, router, http.MethodGet, "/api/v1/hil/"+docID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get hil status = %d", resp.Code)
	}
	var view struct {
		State   string `json:"state"`
		Payload Record `json:"payload"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode hil view: %v", err)
	}
	if view.State != "HIL_REQUIRED" || len(view.Payload) == 0 {
		t.Fatalf("unexpected view: %+v", view)
	}

	resp = doJSON(t, router, http.MethodPut, "/api/v1/hil/"+docID, map[string]any{
		"corrected": map[string]any{
			"vendor": map[string]any{"value": "ACME Corp"},
		},
		"reviewer": "alice",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("put hil status = %d, body %s", resp.Code, resp.Body.String())
	}
	var confirmed struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&confirmed); err != nil {
		t.Fatalf("decode confirm response: %v", err)
	}
	if confirmed.State != "HIL_CONFIRMED" {
		t.Fatalf("state = %s", confirmed.State)
	}

	// Confirming again conflicts.
	resp = doJSON(t, router, http.MethodPut, "/api/v1/hil/"+docID, map[string]any{
		"corrected": map[string]any{},
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("second confirm status = %d", resp.Code)
	}
}

func TestHilUnknownDocument(t *testing.T) {
	router, _ := setupRouter(t)
	resp := doJSON(t, router, http.MethodGet, "/api/v1/hil/missing", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d", resp.Code)
	}
}

func TestFullPipelineOverHTTP(t *testing.T) {
	router, _ := setupRouter(t)
	docID := ingestDocument(t, router)

	resp := doJSON(t, router, http.MethodPut, "/api/v1/hil/"+docID, map[string]any{
		"corrected": map[string]any{},
		"reviewer":  "alice",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("confirm status = %d", resp.Code)
	}

	resp = doJSON(t, router, http.MethodPost, "/api/v1/fetch/"+docID, map[string]any{})
	if resp.Code != http.StatusOK {
		t.Fatalf("fetch status = %d, body %s", resp.Code, resp.Body.String())
	}
	var fetched struct {
		State          string   `json:"state"`
		Status         string   `json:"status"`
		FetchedSummary []string `json:"fetched_summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode fetch response: %v", err)
	}
	if fetched.State != "FETCHED" || fetched.Status != FetchStatusCompleted {
		t.Fatalf("unexpected fetch response: %+v", fetched)
	}
	if len(fetched.FetchedSummary) != 1 {
		t.Fatalf("fetched_summary = %v", fetched.FetchedSummary)
	}

	resp = doJSON(t, router, http.MethodPost, "/api/v1/reconcile/"+docID, map[string]any{"strategy": "loose"})
	if resp.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d, body %s", resp.Code, resp.Body.String())
	}
	var recon struct {
		State        string  `json:"state"`
		ScoreOverall float64 `json:"score_overall"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&recon); err != nil {
		t.Fatalf("decode reconcile response: %v", err)
	}
	if recon.State != "FINAL_REVIEW" {
		t.Fatalf("reconcile state = %s, want FINAL_REVIEW", recon.State)
	}
	if recon.ScoreOverall != 1.0 {
		t.Fatalf("score = %v", recon.ScoreOverall)
	}

	resp = doJSON(t, router, http.MethodPost, "/api/v1/finalize/"+docID, map[string]string{
		"decision": "APPROVED",
		"decider":  "bob",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("finalize status = %d, body %s", resp.Code, resp.Body.String())
	}

	// Finalizing twice conflicts with ALREADY_FINALIZED.
	resp = doJSON(t, router, http.MethodPost, "/api/v1/finalize/"+docID, map[string]string{
		"decision": "REJECTED",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("second finalize status = %d", resp.Code)
	}
	var conflict respond.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
		t.Fatalf("decode conflict body: %v", err)
	}
	if conflict.Error.Code != ErrorCodeAlreadyFinalized {
		t.Fatalf("error code = %s", conflict.Error.Code)
	}

	resp = doJSON(t, router, http.MethodGet, "/api/v1/reports/"+docID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("report status = %d", resp.Code)
	}
	var report struct {
		State string `json:"state"`
		Audit []any  `json:"audit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.State != "APPROVED" {
		t.Fatalf("report state = %s", report.State)
	}
	if len(report.Audit) != 5 {
		t.Fatalf("audit entries = %d, want 5", len(report.Audit))
	}
}

func TestFetchWrongStateConflicts(t *testing.T) {
	router, _ := setupRouter(t)
	docID := ingestDocument(t, router)

	resp := doJSON(t, router, http.MethodPost, "/api/v1/fetch/"+docID, map[string]any{})
	if resp.Code != http.StatusConflict {
		t.Fatalf("status = %d", resp.Code)
	}
	var out respond.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Error.Code != ErrorCodeInvalidState {
		t.Fatalf("error code = %s", out.Error.Code)
	}
}

func TestFinalizeRejectsBadDecision(t *testing.T) {
	router, _ := setupRouter(t)
	docID := ingestDocument(t, router)

	resp := doJSON(t, router, http.MethodPost, "/api/v1/finalize/"+docID, map[string]string{
		"decision": "MAYBE",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.Code)
	}
}
