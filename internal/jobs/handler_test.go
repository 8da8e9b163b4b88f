package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"salesops-backend/internal/agent"
)

func setupRouter(t *testing.T, runner Runner) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, _, _ := newTestService(t, runner)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))
	return r, svc
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(resp.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, resp.Body.String())
	}
	return env
}

func TestHandlerSubmitReturnsAccepted(t *testing.T) {
	r, svc := setupRouter(t, &countingRunner{outcome: func(int) agent.Outcome { return successOutput(`{"dealScore": 9}`) }})

	resp := doJSON(r, http.MethodPost, "/api/v1/jobs", `{"entityType":"deal","entityId":"d-1","entityName":"Acme"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var job Job
	if err := json.Unmarshal(resp.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.ID == "" || job.Version != 1 || job.Status != StatusPending {
		t.Fatalf("unexpected job %+v", job)
	}
	if got := resp.Header().Get("Location"); got != "/api/v1/jobs/"+job.ID {
		t.Fatalf("unexpected Location %q", got)
	}
	svc.Wait()

	resp = doJSON(r, http.MethodGet, "/api/v1/jobs/"+job.ID, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var fetched Job
	if err := json.Unmarshal(resp.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if fetched.Status != StatusComplete || fetched.Result["dealScore"] != 9.0 {
		t.Fatalf("unexpected fetched job %+v", fetched)
	}
}

func TestHandlerSubmitWithRetryOptions(t *testing.T) {
	r, svc := setupRouter(t, &countingRunner{outcome: func(int) agent.Outcome { return successOutput(`{}`) }})

	resp := doJSON(r, http.MethodPost, "/api/v1/jobs", `{"entityType":"Contact","entityId":"c-1","entityName":"Ada","maxRetries":4}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	svc.Wait()
	var job Job
	if err := json.Unmarshal(resp.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.EntityType != EntityContact || job.RetryConfig == nil || job.RetryConfig.MaxRetries != 4 || job.RetryConfig.InitialDelayMs != 1000 {
		t.Fatalf("unexpected retry config %+v", job.RetryConfig)
	}
}

func TestHandlerSubmitValidationError(t *testing.T) {
	r, _ := setupRouter(t, &countingRunner{})

	resp := doJSON(r, http.MethodPost, "/api/v1/jobs", `{"entityType":"lead","entityId":"x","entityName":"X"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if env := decodeError(t, resp); env.Error.Code != "validation_error" {
		t.Fatalf("unexpected error code %q", env.Error.Code)
	}

	resp = doJSON(r, http.MethodPost, "/api/v1/jobs", `{not json`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.Code)
	}
}

func TestHandlerBatchRejectsOversized(t *testing.T) {
	r, svc := setupRouter(t, &countingRunner{})

	items := make([]string, 0, 51)
	for i := 0; i < 51; i++ {
		items = append(items, fmt.Sprintf(`{"entityType":"deal","entityId":"d-%d","entityName":"D"}`, i))
	}
	resp := doJSON(r, http.MethodPost, "/api/v1/jobs/batch", `{"jobs":[`+strings.Join(items, ",")+`]}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	timeline, err := svc.Timeline(context.Background(), EntityDeal, "d-0", 0)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(timeline) != 0 {
		t.Fatalf("expected no jobs, got %d", len(timeline))
	}
}

func TestHandlerBatchAccepted(t *testing.T) {
	r, svc := setupRouter(t, &countingRunner{outcome: func(int) agent.Outcome { return successOutput(`{}`) }})

	body := `{"jobs":[{"entityType":"deal","entityId":"d-1","entityName":"A"},{"entityType":"company","entityId":"co-1","entityName":"B"}]}`
	resp := doJSON(r, http.MethodPost, "/api/v1/jobs/batch", body)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	svc.Wait()
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(out.Jobs))
	}
}

func TestHandlerGetUnknownJob(t *testing.T) {
	r, _ := setupRouter(t, &countingRunner{})
	resp := doJSON(r, http.MethodGet, "/api/v1/jobs/nope", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestHandlerCancelTerminalJobConflicts(t *testing.T) {
	r, svc := setupRouter(t, &countingRunner{outcome: func(int) agent.Outcome { return successOutput(`{}`) }})

	job, err := svc.Submit(context.Background(), dealRequest("d-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	svc.Wait()

	resp := doJSON(r, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	if env := decodeError(t, resp); env.Error.Code != "not_cancellable" {
		t.Fatalf("unexpected error code %q", env.Error.Code)
	}
}

func TestHandlerTimeline(t *testing.T) {
	r, svc := setupRouter(t, &countingRunner{outcome: func(call int) agent.Outcome {
		return successOutput(fmt.Sprintf(`{"dealScore": %d}`, call*10))
	}})
	for i := 0; i < 2; i++ {
		if _, err := svc.Submit(context.Background(), dealRequest("d-1")); err != nil {
			t.Fatalf("submit: %v", err)
		}
		svc.Wait()
	}

	resp := doJSON(r, http.MethodGet, "/api/v1/entities/deal/d-1/jobs", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var items []map[string]any
	if err := json.NewDecoder(bytes.NewReader(resp.Body.Bytes())).Decode(&items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0]["version"] != 2.0 || items[0]["score"] != 20.0 || items[0]["hasChanges"] != true {
		t.Fatalf("unexpected newest item %+v", items[0])
	}
	if items[0]["summary"] != "Score increased by 10 (from 10 to 20)." {
		t.Fatalf("unexpected summary %v", items[0]["summary"])
	}

	resp = doJSON(r, http.MethodGet, "/api/v1/entities/lead/x/jobs", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown entity type, got %d", resp.Code)
	}
}
