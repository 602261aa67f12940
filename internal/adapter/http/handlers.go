// Package http is the transport layer: it parses request envelopes,
// dispatches into the service layer, and maps coded errors to statuses.
package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/approval"
	"github.com/resflow/toolplane/internal/domain/audit"
	"github.com/resflow/toolplane/internal/domain/tool"
	"github.com/resflow/toolplane/internal/middleware"
	"github.com/resflow/toolplane/internal/port/database"
	"github.com/resflow/toolplane/internal/registry"
	"github.com/resflow/toolplane/internal/service"
)

const defaultBodyLimit = 1 << 20 // 1 MiB

// Server holds the handler dependencies.
type Server struct {
	exec      *service.Executor
	approvals *service.ApprovalService
	audit     *service.AuditService
	registry  *registry.Registry
	ready     func(ctx context.Context) error
	log       *slog.Logger
	bodyLimit int64
}

func NewServer(exec *service.Executor, approvals *service.ApprovalService,
	auditSvc *service.AuditService, reg *registry.Registry,
	ready func(ctx context.Context) error, log *slog.Logger) *Server {
	return &Server{
		exec:      exec,
		approvals: approvals,
		audit:     auditSvc,
		registry:  reg,
		ready:     ready,
		log:       log,
		bodyLimit: defaultBodyLimit,
	}
}

// handleExecute is POST /api/v1/tools/execute: the single entry point for
// tool invocation in both plan and execute mode.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.bodyLimit))
	if err != nil {
		writeCoded(w, domain.E(domain.CodeInvalidBody, "could not read request body: %v", err))
		return
	}

	req, derr := parseEnvelope(body)
	if derr != nil {
		writeCoded(w, derr)
		return
	}

	identity := middleware.IdentityFromContext(r.Context())
	result := s.exec.Handle(r.Context(), identity, req)

	switch resp := result.(type) {
	case *tool.Response:
		status := http.StatusOK
		if !resp.OK && resp.Error != nil {
			status = statusFor(resp.Error.Code)
		}
		writeJSON(w, status, resp)
	case *tool.PlanResponse:
		writeJSON(w, http.StatusOK, resp)
	default:
		s.log.Error("executor returned unexpected response type", "tool", req.Tool)
		writeCoded(w, domain.E(domain.CodeInternalError, "internal error"))
	}
}

// handleListTools is GET /api/v1/tools with optional category,
// includeDeprecated, and projection=minimal query parameters.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	defs := s.registry.List(q.Get("category"), q.Get("includeDeprecated") == "true")
	if defs == nil {
		defs = []tool.Definition{}
	}

	if q.Get("projection") == "minimal" {
		type minimal struct {
			Name        string    `json:"name"`
			Category    string    `json:"category"`
			Description string    `json:"description"`
			Risk        tool.Risk `json:"risk"`
			Deprecated  bool      `json:"deprecated,omitempty"`
		}
		out := make([]minimal, 0, len(defs))
		for _, d := range defs {
			out = append(out, minimal{
				Name:        d.Name,
				Category:    d.Category,
				Description: d.Description,
				Risk:        d.Risk,
				Deprecated:  d.Deprecated,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"tools": out})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": defs})
}

// handleGetTool is GET /api/v1/tools/{name}.
func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	t, err := s.registry.Lookup(urlParam(r, "name"))
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t.Definition)
}

func (s *Server) handleCreateApproval(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.RequestedBy == "" {
		if identity := middleware.IdentityFromContext(r.Context()); identity != nil {
			req.RequestedBy = identity.KeyID
		}
	}

	ar, err := s.approvals.Create(r.Context(), req)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ar)
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	status := approval.Status(r.URL.Query().Get("status"))
	list, err := s.approvals.List(r.Context(), status)
	if err != nil {
		writeCoded(w, err)
		return
	}
	if list == nil {
		list = []approval.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	ar, err := s.approvals.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ar)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ApprovedBy string `json:"approvedBy"`
	}
	if !s.readJSON(w, r, &body) {
		return
	}

	ar, err := s.approvals.Approve(r.Context(), urlParam(r, "id"), body.ApprovedBy)
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ar)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	ar, err := s.approvals.Reject(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ar)
}

func (s *Server) handleExecuteApproval(w http.ResponseWriter, r *http.Request) {
	resp, err := s.approvals.Execute(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeCoded(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.AuditFilter{
		RequestID: q.Get("requestId"),
		Tool:      q.Get("tool"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeCoded(w, domain.E(domain.CodeValidationError, "limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	entries, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeCoded(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness: the process is up and its datastore
// answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable", "reason": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// readJSON decodes a size-limited JSON body, writing the coded error on
// failure.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeCoded(w, domain.E(domain.CodeInvalidBody, "invalid request body: %v", err))
		return false
	}
	return true
}
