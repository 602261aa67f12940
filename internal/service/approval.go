package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/approval"
	"github.com/resflow/toolplane/internal/domain/tool"
	"github.com/resflow/toolplane/internal/port/database"
	"github.com/resflow/toolplane/internal/port/eventlog"
	"github.com/resflow/toolplane/internal/registry"
)

// ApprovalService drives the approval request lifecycle:
// pending -> approved -> executed, with rejected and expired as terminal
// exits. Every transition is checked against the state machine table
// before any write.
type ApprovalService struct {
	store    database.Store
	registry *registry.Registry
	exec     *Executor
	sink     eventlog.Sink
	log      *slog.Logger
	ttl      time.Duration

	now func() time.Time
}

// NewApprovalService creates the approval workflow service.
func NewApprovalService(store database.Store, reg *registry.Registry, exec *Executor,
	sink eventlog.Sink, log *slog.Logger, ttl time.Duration) *ApprovalService {
	return &ApprovalService{
		store:    store,
		registry: reg,
		exec:     exec,
		sink:     sink,
		log:      log,
		ttl:      ttl,
		now:      time.Now,
	}
}

// CreateRequest is the direct creation form of an approval request,
// used when an operator opens the gate before the first execute call.
type CreateRequest struct {
	RequestID   string         `json:"requestId"`
	Tool        string         `json:"tool"`
	Payload     map[string]any `json:"payload"`
	RequestedBy string         `json:"requestedBy"`
}

// Create opens a pending approval request for a gated tool.
func (s *ApprovalService) Create(ctx context.Context, req CreateRequest) (*approval.Request, error) {
	if req.RequestID == "" {
		return nil, domain.E(domain.CodeValidationError, "requestId is required")
	}
	if req.RequestedBy == "" {
		return nil, domain.E(domain.CodeValidationError, "requestedBy is required")
	}
	t, err := s.registry.Lookup(req.Tool)
	if err != nil {
		return nil, err
	}
	if !t.RequiresApproval {
		return nil, domain.E(domain.CodeValidationError,
			"tool %s does not require approval", req.Tool).
			WithHelp("invoke it directly via POST /api/v1/tools/execute")
	}
	if err := s.registry.ValidateInput(req.Tool, req.Payload); err != nil {
		return nil, err
	}

	hash, err := approval.HashPayload(req.Payload)
	if err != nil {
		return nil, domain.E(domain.CodeInvalidBody, "payload is not hashable: %v", err)
	}
	now := s.now().UTC()
	ar := &approval.Request{
		ID:          uuid.NewString(),
		RequestID:   req.RequestID,
		Tool:        req.Tool,
		Payload:     req.Payload,
		PayloadHash: hash,
		Status:      approval.StatusPending,
		RequestedBy: req.RequestedBy,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.store.CreateApproval(ctx, ar); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.E(domain.CodeInvalidTransition,
				"an approval request for %s already exists", req.RequestID).
				WithHelp("list it via GET /api/v1/requests?requestId=%s", req.RequestID)
		}
		return nil, err
	}

	s.emit(ctx, "approval.created", ar)
	s.log.Info("approval request created", "approvalRequest", ar.ID, "tool", ar.Tool, "requestedBy", ar.RequestedBy)
	return ar, nil
}

// Get returns one approval request.
func (s *ApprovalService) Get(ctx context.Context, id string) (*approval.Request, error) {
	ar, err := s.store.GetApproval(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.E(domain.CodeNotFound, "approval request %s not found", id)
		}
		return nil, err
	}
	return ar, nil
}

// List returns approval requests, optionally filtered by status.
func (s *ApprovalService) List(ctx context.Context, status approval.Status) ([]approval.Request, error) {
	return s.store.ListApprovals(ctx, status)
}

// Approve transitions a pending, unexpired request to approved,
// recording the approver identity.
func (s *ApprovalService) Approve(ctx context.Context, id, approvedBy string) (*approval.Request, error) {
	if approvedBy == "" {
		return nil, domain.E(domain.CodeValidationError, "approvedBy is required")
	}
	ar, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.lazyExpire(ctx, ar); err != nil {
		return nil, err
	}
	if err := approval.ValidateTransition(ar.Status, approval.StatusApproved); err != nil {
		return nil, err
	}

	at := s.now().UTC()
	if err := s.store.ApproveApproval(ctx, id, approvedBy, at); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Raced with another transition; re-read for the real status.
			return nil, s.transitionConflict(ctx, id, approval.StatusApproved)
		}
		return nil, err
	}
	ar.Status = approval.StatusApproved
	ar.ApprovedBy = approvedBy
	ar.ApprovedAt = at

	s.emit(ctx, "approval.approved", ar)
	s.log.Info("approval request approved", "approvalRequest", id, "approvedBy", approvedBy)
	return ar, nil
}

// Reject terminally rejects a pending request.
func (s *ApprovalService) Reject(ctx context.Context, id string) (*approval.Request, error) {
	ar, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.lazyExpire(ctx, ar); err != nil {
		return nil, err
	}
	if err := approval.ValidateTransition(ar.Status, approval.StatusRejected); err != nil {
		return nil, err
	}

	if err := s.store.RejectApproval(ctx, id); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, s.transitionConflict(ctx, id, approval.StatusRejected)
		}
		return nil, err
	}
	ar.Status = approval.StatusRejected

	s.emit(ctx, "approval.rejected", ar)
	s.log.Info("approval request rejected", "approvalRequest", id)
	return ar, nil
}

// Execute runs the tool behind an approved, unexpired request. The
// payload hash is re-verified first; a mismatch aborts before the tool
// runs. A tool-level failure still reaches executed with the error
// recorded; only transition and integrity failures block the state.
func (s *ApprovalService) Execute(ctx context.Context, id string) (*tool.Response, error) {
	ar, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.lazyExpire(ctx, ar); err != nil {
		return nil, err
	}
	if err := approval.ValidateTransition(ar.Status, approval.StatusExecuted); err != nil {
		return nil, err
	}
	if err := ar.VerifyPayload(); err != nil {
		return nil, err
	}

	resp := s.exec.RunApproved(ctx, ar)

	// Transient pre-invocation failures leave the request approved so the
	// operator can retry execution.
	if resp.Error != nil {
		switch resp.Error.Code {
		case domain.CodeExecutionError, domain.CodeInternalError:
		default:
			return nil, resp.Error
		}
	}

	execErr := ""
	if resp.Error != nil {
		execErr = resp.Error.Error()
	}
	if err := s.store.MarkApprovalExecuted(ctx, id, resp.Result, execErr, s.now().UTC()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A concurrent executor got there first; its cached response is
			// what this caller just replayed.
			s.log.Info("approval already marked executed", "approvalRequest", id)
			return resp, nil
		}
		s.log.Warn("mark approval executed", "approvalRequest", id, "error", err)
		return resp, nil
	}

	s.emit(ctx, "approval.executed", ar)
	return resp, nil
}

// lazyExpire transitions an overdue request to expired and returns
// REQUEST_EXPIRED. Requests still inside their window pass through.
func (s *ApprovalService) lazyExpire(ctx context.Context, ar *approval.Request) error {
	if !ar.ExpiredAt(s.now()) {
		return nil
	}
	if err := s.store.MarkApprovalExpired(ctx, ar.ID); err != nil && !errors.Is(err, domain.ErrConflict) {
		s.log.Warn("mark approval expired", "approvalRequest", ar.ID, "error", err)
	}
	ar.Status = approval.StatusExpired
	return domain.E(domain.CodeRequestExpired,
		"approval request %s expired at %s", ar.ID, ar.ExpiresAt.Format(time.RFC3339)).
		WithHelp("create a new approval request and have it re-approved")
}

// transitionConflict re-reads the request after a raced write and
// reports the observed status.
func (s *ApprovalService) transitionConflict(ctx context.Context, id string, to approval.Status) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return domain.E(domain.CodeInvalidTransition,
		"cannot transition approval request from %q to %q", current.Status, to)
}

func (s *ApprovalService) emit(ctx context.Context, eventType string, ar *approval.Request) {
	ev := eventlog.Event{
		Type:      eventType,
		RequestID: ar.RequestID,
		Tool:      ar.Tool,
		Actor:     ar.RequestedBy,
		Outcome:   string(ar.Status),
		At:        s.now().UTC(),
		Fields:    map[string]any{"approvalRequest": ar.ID},
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.sink.Emit(emitCtx, ev); err != nil {
			s.log.Warn("emit approval event", "type", eventType, "approvalRequest", ar.ID, "error", err)
		}
	}()
}

// StartSweeper spawns a goroutine that expires overdue requests every
// interval, so stale pending requests do not depend on someone touching
// them. Returns a cancel function.
func (s *ApprovalService) StartSweeper(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				expired, err := s.store.ExpireOverdueApprovals(ctx, s.now())
				if err != nil {
					s.log.Warn("expire overdue approvals", "error", err)
					continue
				}
				if expired > 0 {
					s.log.Info("expired overdue approvals", "count", expired)
				}
			}
		}
	}()
	return cancel
}
