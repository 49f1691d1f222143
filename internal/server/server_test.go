package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/civicflow/civicflow/internal/agents"
	"github.com/civicflow/civicflow/internal/cityconfig"
	"github.com/civicflow/civicflow/internal/explain"
	"github.com/civicflow/civicflow/internal/insights"
	"github.com/civicflow/civicflow/internal/orchestrator"
	"github.com/civicflow/civicflow/internal/similarity"
	"github.com/civicflow/civicflow/internal/storage/memory"
	"github.com/civicflow/civicflow/internal/types"
)

func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator) {
	t.Helper()
	store := memory.New()

	dispatcher := agents.NewDispatcher(agents.DispatcherConfig{})
	rules := agents.NewRulesProvider()
	dispatcher.Register(rules.Classifier())
	dispatcher.Register(rules.PriorityScorer())
	engine, err := similarity.NewEngine(similarity.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	detector, err := agents.NewDuplicateDetector(engine, store)
	if err != nil {
		t.Fatalf("NewDuplicateDetector: %v", err)
	}
	dispatcher.Register(detector)

	cfg := orchestrator.DefaultConfig()
	cfg.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	orch, err := orchestrator.New(store, cityconfig.NewRegistry(), dispatcher, cfg)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	explainer, err := explain.NewExplainer(store, nil)
	if err != nil {
		t.Fatalf("NewExplainer: %v", err)
	}
	reports, err := insights.NewGenerator(store, nil, insights.DefaultConfig())
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return New(orch, explainer, reports), orch
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "civicflow") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSubmitAndTrack(t *testing.T) {
	srv, orch := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/issues", map[string]any{
		"city_id":  "bengaluru",
		"text":     "The streetlight near the school gate has been broken for a week",
		"language": "en",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit = %d: %s", rec.Code, rec.Body.String())
	}
	var ack submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.IssueID == "" || ack.WorkflowID == "" {
		t.Fatalf("ack = %+v, want tracking IDs", ack)
	}
	if ack.Status != string(types.StatusReceived) {
		t.Errorf("ack status = %q, want received", ack.Status)
	}
	found := false
	for _, f := range ack.MissingFields {
		if f == "location" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing_fields = %v, want location prompted", ack.MissingFields)
	}

	orch.Wait()

	rec = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/v1/cities/bengaluru/issues/%s", ack.IssueID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get issue = %d: %s", rec.Code, rec.Body.String())
	}
	var issue types.Issue
	if err := json.Unmarshal(rec.Body.Bytes(), &issue); err != nil {
		t.Fatalf("decode issue: %v", err)
	}
	if issue.Status != types.StatusProcessed {
		t.Errorf("issue status = %q after processing", issue.Status)
	}
	if issue.Classification == nil || issue.Classification.Domain != "Electricity/Street Lighting" {
		t.Errorf("classification = %+v", issue.Classification)
	}

	rec = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/v1/cities/bengaluru/workflows/%s", ack.WorkflowID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get workflow = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/v1/cities/bengaluru/issues/%s/trail", ack.IssueID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get trail = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/v1/cities/bengaluru/issues/%s/explanation", ack.IssueID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("explanation = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Your complaint was received") {
		t.Errorf("explanation body = %s", rec.Body.String())
	}
}

func TestSubmitRejectsEmptyText(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/issues", map[string]any{
		"city_id": "bengaluru",
		"text":    "   ",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("submit = %d, want 400", rec.Code)
	}
}

func TestGetUnknownIssue(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/cities/bengaluru/issues/cf-404", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get = %d, want 404", rec.Code)
	}
}

func TestPutConfigValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	// A threshold outside [0,1] must be rejected
	rec := doJSON(t, srv, http.MethodPut, "/api/v1/cities/bengaluru/config", map[string]any{
		"default_threshold": 1.5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid config = %d, want 400: %s", rec.Code, rec.Body.String())
	}

	// A valid partial update lands on top of the defaults
	rec = doJSON(t, srv, http.MethodPut, "/api/v1/cities/bengaluru/config", map[string]any{
		"similarity_threshold": 0.8,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("valid config = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/cities/bengaluru/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get config = %d", rec.Code)
	}
	var cfg cityconfig.WorkflowConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.SimilarityThreshold != 0.8 {
		t.Errorf("similarity_threshold = %v, want 0.8", cfg.SimilarityThreshold)
	}
}

func TestOverrideEndpoint(t *testing.T) {
	srv, orch := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/issues", map[string]any{
		"city_id":  "bengaluru",
		"text":     "Streetlight broken near the school",
		"language": "en",
	})
	var ack submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	orch.Wait()

	rec = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/cities/bengaluru/issues/%s/override", ack.IssueID), map[string]any{
			"administrator": "commissioner@bengaluru",
			"field":         "severity",
			"new_value":     "4",
			"justification": "field inspection found exposed wiring",
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("override = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet,
		fmt.Sprintf("/api/v1/cities/bengaluru/issues/%s", ack.IssueID), nil)
	var issue types.Issue
	if err := json.Unmarshal(rec.Body.Bytes(), &issue); err != nil {
		t.Fatalf("decode issue: %v", err)
	}
	if issue.Priority == nil || issue.Priority.Severity != 4 {
		t.Errorf("severity = %+v after override", issue.Priority)
	}
}

func TestRetryRequiresEscalatedWorkflow(t *testing.T) {
	srv, orch := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/issues", map[string]any{
		"city_id":  "bengaluru",
		"text":     "Streetlight broken",
		"language": "en",
	})
	var ack submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	orch.Wait()

	rec = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/cities/bengaluru/workflows/%s/retry", ack.WorkflowID), nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("retry on completed workflow = %d, want 409: %s", rec.Code, rec.Body.String())
	}

	// Naming the agent in the body goes through the same state gate
	rec = doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/v1/cities/bengaluru/workflows/%s/retry", ack.WorkflowID),
		map[string]any{"agent_type": "classifier"})
	if rec.Code != http.StatusConflict {
		t.Errorf("retry with agent_type = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestWeeklyReportEndpoint(t *testing.T) {
	srv, orch := newTestServer(t)

	for i := 0; i < 3; i++ {
		doJSON(t, srv, http.MethodPost, "/api/v1/issues", map[string]any{
			"city_id":  "bengaluru",
			"text":     fmt.Sprintf("Pothole number %d on the main road", i),
			"language": "en",
		})
	}
	orch.Wait()

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/cities/bengaluru/reports/weekly", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("weekly report = %d: %s", rec.Code, rec.Body.String())
	}
	var report insights.WeeklyReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.TotalIssues != 3 {
		t.Errorf("total = %d, want 3", report.TotalIssues)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/cities/bengaluru/reports/emerging", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("emerging report = %d", rec.Code)
	}
}
