// Package server exposes the workflow system over HTTP: citizen intake,
// issue and workflow lookup, the audit trail and its citizen-readable
// explanation, city configuration, overrides, and reports.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/civicflow/civicflow/internal/cityconfig"
	"github.com/civicflow/civicflow/internal/explain"
	"github.com/civicflow/civicflow/internal/insights"
	"github.com/civicflow/civicflow/internal/orchestrator"
	"github.com/civicflow/civicflow/internal/types"
)

// Server is the HTTP API for the workflow system
type Server struct {
	orch      *orchestrator.Orchestrator
	explainer *explain.Explainer
	reports   *insights.Generator
	router    chi.Router
}

// New creates a server with all routes registered
func New(orch *orchestrator.Orchestrator, explainer *explain.Explainer, reports *insights.Generator) *Server {
	s := &Server{
		orch:      orch,
		explainer: explainer,
		reports:   reports,
		router:    chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/api/v1/health", s.handleHealth)

	// Citizen surface
	s.router.Post("/api/v1/issues", s.handleSubmit)
	s.router.Get("/api/v1/cities/{city}/issues/{id}", s.handleGetIssue)
	s.router.Get("/api/v1/cities/{city}/issues/{id}/trail", s.handleGetTrail)
	s.router.Get("/api/v1/cities/{city}/issues/{id}/explanation", s.handleExplain)

	// Administrator surface
	s.router.Get("/api/v1/cities/{city}/workflows/{id}", s.handleGetWorkflow)
	s.router.Post("/api/v1/cities/{city}/workflows/{id}/retry", s.handleRetry)
	s.router.Post("/api/v1/cities/{city}/issues/{id}/override", s.handleOverride)
	s.router.Get("/api/v1/cities/{city}/config", s.handleGetConfig)
	s.router.Put("/api/v1/cities/{city}/config", s.handlePutConfig)

	// Reports
	s.router.Get("/api/v1/cities/{city}/reports/weekly", s.handleWeeklyReport)
	s.router.Get("/api/v1/cities/{city}/reports/emerging", s.handleEmergingReport)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "civicflow",
	})
}

// submitResponse acknowledges an accepted complaint. MissingFields asks
// the citizen for optional detail; processing is already underway.
type submitResponse struct {
	IssueID       string   `json:"issue_id"`
	WorkflowID    string   `json:"workflow_id"`
	Status        string   `json:"status"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var intake types.Intake
	if err := json.NewDecoder(r.Body).Decode(&intake); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	issue, validation, err := s.orch.Submit(r.Context(), &intake)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Acknowledge first, process in the background; the workflow must
	// outlive this request
	s.orch.ProcessAsync(context.Background(), issue.CityID, issue.ID)

	resp := submitResponse{
		IssueID:    issue.ID,
		WorkflowID: issue.WorkflowID,
		Status:     string(issue.Status),
	}
	if validation != nil {
		resp.MissingFields = validation.MissingFields
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := s.orch.GetIssue(r.Context(), chi.URLParam(r, "city"), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	state, err := s.orch.GetWorkflowStatus(r.Context(), chi.URLParam(r, "city"), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := s.explainer.GetDecisionAuditTrail(r.Context(), chi.URLParam(r, "city"), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("lang")
	text, err := s.explainer.ExplainIssue(r.Context(), chi.URLParam(r, "city"), chi.URLParam(r, "id"), lang)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"explanation": text})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")
	workflowID := chi.URLParam(r, "id")
	// The body is optional; naming the agent guards against retrying a
	// different step than the administrator was looking at
	var req struct {
		AgentType types.AgentType `json:"agent_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.orch.RetryFailedAgent(r.Context(), city, workflowID, req.AgentType); err != nil {
		if types.NeedsIntervention(err) {
			// The retry itself ran but the step failed again
			state, stErr := s.orch.GetWorkflowStatus(r.Context(), city, workflowID)
			if stErr == nil {
				writeJSON(w, http.StatusOK, state)
				return
			}
		}
		writeDomainError(w, err)
		return
	}
	state, err := s.orch.GetWorkflowStatus(r.Context(), city, workflowID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var override types.Override
	if err := json.NewDecoder(r.Body).Decode(&override); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	override.IssueID = chi.URLParam(r, "id")
	if err := s.orch.RecordOverride(r.Context(), chi.URLParam(r, "city"), &override); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"override_id": override.ID})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.CityConfig(chi.URLParam(r, "city")))
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")
	// Decode over the defaults so a partial config stays valid
	cfg := cityconfig.DefaultConfig(city)
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config body: "+err.Error())
		return
	}
	cfg.CityID = city
	if err := s.orch.CustomizeWorkflow(cfg); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleWeeklyReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.reports.WeeklyReport(r.Context(), chi.URLParam(r, "city"), time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEmergingReport(w http.ResponseWriter, r *http.Request) {
	emerging, err := s.reports.IdentifyEmergingIssues(r.Context(), chi.URLParam(r, "city"), time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if emerging == nil {
		emerging = []insights.EmergingIssue{}
	}
	writeJSON(w, http.StatusOK, emerging)
}

// writeDomainError maps the error taxonomy onto HTTP status codes
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case types.IsCallerError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
