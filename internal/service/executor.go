// Package service implements the control plane business logic: the
// execution pipeline, the approval workflow, and audit queries.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/resflow/toolplane/internal/adapter/otel"
	"github.com/resflow/toolplane/internal/auth"
	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/approval"
	"github.com/resflow/toolplane/internal/domain/audit"
	"github.com/resflow/toolplane/internal/domain/tool"
	"github.com/resflow/toolplane/internal/port/cache"
	"github.com/resflow/toolplane/internal/port/calendar"
	"github.com/resflow/toolplane/internal/port/database"
	"github.com/resflow/toolplane/internal/port/eventlog"
	"github.com/resflow/toolplane/internal/registry"
)

// Version is stamped into response _meta so cached replays identify the
// envelope revision that produced them.
const Version = "1"

// ExecutorConfig carries the tunables and the deployment's dependency
// inventory used for plan readiness.
type ExecutorConfig struct {
	LockTTL      time.Duration
	Retention    time.Duration
	ApprovalTTL  time.Duration
	Dependencies map[string]bool // external dependency name -> configured
	Secrets      map[string]bool // secret name -> present
}

// Executor orchestrates the execution pipeline: registry gate, scope
// check, approval gate, idempotency replay, locking, invocation, audit.
type Executor struct {
	registry *registry.Registry
	store    database.Store
	cache    cache.Cache
	sink     eventlog.Sink
	cal      calendar.Client
	metrics  *otel.Metrics
	log      *slog.Logger
	cfg      ExecutorConfig

	now func() time.Time
}

// NewExecutor creates the executor. metrics may be nil when telemetry is
// disabled; sink and cache must be non-nil.
func NewExecutor(reg *registry.Registry, store database.Store, c cache.Cache,
	sink eventlog.Sink, cal calendar.Client, metrics *otel.Metrics,
	log *slog.Logger, cfg ExecutorConfig) *Executor {
	return &Executor{
		registry: reg,
		store:    store,
		cache:    c,
		sink:     sink,
		cal:      cal,
		metrics:  metrics,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Handle runs the pipeline for one normalized request. It returns
// *tool.PlanResponse for plan mode and *tool.Response otherwise; the
// transport layer maps the embedded error code to an HTTP status.
func (e *Executor) Handle(ctx context.Context, identity *auth.Identity, req tool.ExecutionRequest) any {
	start := e.now()
	if e.metrics != nil {
		e.metrics.ExecutionsStarted.Add(ctx, 1)
	}

	t, err := e.registry.Lookup(req.Tool)
	if err != nil {
		return e.deny(ctx, req, start, domain.AsError(err))
	}

	if !auth.HasScope(identity.Scopes, t.Scope()) {
		return e.deny(ctx, req, start,
			domain.E(domain.CodeForbidden, "credential lacks scope %q required by %s", t.Scope(), req.Tool).
				WithDetails(map[string]any{"requiredScope": t.Scope()}).
				WithHelp("request a credential holding %s or a covering wildcard", t.Scope()))
	}

	// Plan mode is read-only, so it bypasses the approval gate: simulating
	// a gated tool must not create approval records.
	if req.Mode == tool.ModePlan {
		return e.plan(ctx, req, t, start)
	}

	if t.RequiresApproval && !req.Approved {
		return e.approvalGate(ctx, req, t, start)
	}

	return e.execute(ctx, req, t, start)
}

// RunApproved executes a tool on behalf of an approved request, skipping
// the scope and approval gates that the review process already cleared.
func (e *Executor) RunApproved(ctx context.Context, ar *approval.Request) *tool.Response {
	req := tool.ExecutionRequest{
		RequestID: ar.RequestID,
		Tool:      ar.Tool,
		Payload:   ar.Payload,
		Mode:      tool.ModeExecute,
		Approved:  true,
		Actor:     tool.Actor{Type: "operator", ID: ar.ApprovedBy},
	}
	start := e.now()
	t, err := e.registry.Lookup(ar.Tool)
	if err != nil {
		return e.deny(ctx, req, start, domain.AsError(err))
	}
	return e.execute(ctx, req, t, start)
}

// execute is steps 7-9 of the pipeline: idempotency replay, lock,
// defensive validation, invocation, audit, result caching.
func (e *Executor) execute(ctx context.Context, req tool.ExecutionRequest, t *registry.Tool, start time.Time) *tool.Response {
	if cached, ok := e.cachedResponse(ctx, req.RequestID); ok {
		cached.Meta.Cached = true
		if e.metrics != nil {
			e.metrics.CacheHits.Add(ctx, 1)
		}
		e.log.Info("idempotent replay", "requestId", req.RequestID, "tool", req.Tool)
		return cached
	}

	acquired, err := e.store.AcquireLock(ctx, req.RequestID, e.cfg.LockTTL)
	if err != nil {
		e.log.Error("acquire lock", "requestId", req.RequestID, "error", err)
		return e.deny(ctx, req, start, domain.E(domain.CodeInternalError, "internal error"))
	}
	if !acquired {
		return e.deny(ctx, req, start,
			domain.E(domain.CodeRequestInProgress, "request %s is already executing", req.RequestID).
				WithHelp("retry with the same requestId once the in-flight execution completes"))
	}
	defer func() {
		if err := e.store.ReleaseLock(context.WithoutCancel(ctx), req.RequestID); err != nil {
			e.log.Warn("release lock", "requestId", req.RequestID, "error", err)
		}
	}()

	// The transport already validated the payload; this guards direct
	// callers such as approval execution. Validation failures are not
	// cached so the caller can fix the payload and reuse the requestId.
	if err := e.registry.ValidateInput(req.Tool, req.Payload); err != nil {
		return e.deny(ctx, req, start, domain.AsError(err))
	}

	if t.Deprecated {
		e.log.Warn("deprecated tool invoked", "tool", req.Tool, "replacedBy", t.ReplacedBy)
	}

	result, invokeErr := e.invoke(ctx, t, req)

	end := e.now()
	resp := &tool.Response{
		OK:         invokeErr == nil,
		RequestID:  req.RequestID,
		Tool:       req.Tool,
		DryRun:     req.DryRun,
		Result:     result,
		ExecutedAt: end.UTC(),
		DurationMs: end.Sub(start).Milliseconds(),
		Meta:       tool.Meta{Version: Version},
	}
	if invokeErr != nil {
		resp.Error = domain.AsError(invokeErr)
	} else {
		for _, warning := range e.registry.ValidateOutput(req.Tool, result) {
			e.log.Warn("tool output violates declared schema", "tool", req.Tool, "violation", warning)
		}
	}

	e.cacheResponse(ctx, resp)
	e.record(ctx, req, resp)
	return resp
}

// invoke runs the tool handler with panic containment. Uncoded handler
// errors are normalized to EXECUTION_ERROR; a panic becomes INTERNAL_ERROR
// with no handler detail leaked.
func (e *Executor) invoke(ctx context.Context, t *registry.Tool, req tool.ExecutionRequest) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tool handler panicked", "tool", req.Tool, "requestId", req.RequestID, "panic", r)
			result = nil
			err = domain.E(domain.CodeInternalError, "internal error")
		}
	}()

	ec := registry.ExecContext{
		Store:     e.store,
		Calendar:  e.cal,
		DryRun:    req.DryRun,
		RequestID: req.RequestID,
		Actor:     req.Actor,
		Log:       e.log,
	}
	result, err = t.Handler(ctx, ec, req.Payload)
	if err != nil {
		var coded *domain.Error
		if !errors.As(err, &coded) {
			err = domain.E(domain.CodeExecutionError, "%s failed: %v", req.Tool, err)
		}
	}
	return result, err
}

// approvalGate creates (or reuses) the pending approval request for a
// gated tool and returns the approval-required rejection.
func (e *Executor) approvalGate(ctx context.Context, req tool.ExecutionRequest, t *registry.Tool, start time.Time) *tool.Response {
	ar, err := e.pendingApproval(ctx, req)
	if err != nil {
		coded := domain.AsError(err)
		if coded.Code == domain.CodeInternalError {
			e.log.Error("approval gate", "requestId", req.RequestID, "error", err)
		}
		return e.deny(ctx, req, start, coded)
	}

	e.emit(ctx, eventlog.Event{
		Type:      "approval.created",
		RequestID: req.RequestID,
		Tool:      req.Tool,
		Actor:     req.Actor.String(),
		Outcome:   string(audit.OutcomeApprovalRequired),
		Fields:    map[string]any{"approvalRequest": ar.ID, "expiresAt": ar.ExpiresAt},
	})

	denial := domain.E(domain.CodeForbidden, "tool %s requires approval before execution", req.Tool).
		WithDetails(map[string]any{
			"approvalRequest": ar.ID,
			"status":          ar.Status,
			"expiresAt":       ar.ExpiresAt,
		}).
		WithHelp("have an approver POST /api/v1/requests/%s/approve, then POST /api/v1/requests/%s/execute", ar.ID, ar.ID)
	return e.denyWithOutcome(ctx, req, start, denial, audit.OutcomeApprovalRequired)
}

// pendingApproval returns the live pending request for this requestId,
// creating one if none exists. A concurrent creator winning the insert
// race is resolved by re-reading.
func (e *Executor) pendingApproval(ctx context.Context, req tool.ExecutionRequest) (*approval.Request, error) {
	existing, err := e.store.GetApprovalByRequestID(ctx, req.RequestID)
	switch {
	case err == nil:
		if existing.Status == approval.StatusPending && !existing.ExpiredAt(e.now()) {
			return existing, nil
		}
		return nil, domain.E(domain.CodeForbidden,
			"approval request for %s is %s", req.RequestID, existing.Status).
			WithDetails(map[string]any{"approvalRequest": existing.ID, "status": existing.Status}).
			WithHelp("resubmit with a new requestId to open a fresh approval request")
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, err
	}

	hash, err := approval.HashPayload(req.Payload)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	ar := &approval.Request{
		ID:          uuid.NewString(),
		RequestID:   req.RequestID,
		Tool:        req.Tool,
		Payload:     req.Payload,
		PayloadHash: hash,
		Status:      approval.StatusPending,
		RequestedBy: req.Actor.String(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.cfg.ApprovalTTL),
	}
	if err := e.store.CreateApproval(ctx, ar); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the insert race; the winner's record is authoritative.
			return e.pendingApproval(ctx, req)
		}
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ApprovalsCreated.Add(ctx, 1)
	}
	e.log.Info("approval request created", "approvalRequest", ar.ID, "requestId", req.RequestID, "tool", req.Tool)
	return ar, nil
}

// deny builds a failure envelope for a request that never reached the
// tool. Denials are audited but never cached, so a corrected retry with
// the same requestId is possible.
func (e *Executor) deny(ctx context.Context, req tool.ExecutionRequest, start time.Time, coded *domain.Error) *tool.Response {
	return e.denyWithOutcome(ctx, req, start, coded, audit.OutcomeDenied)
}

func (e *Executor) denyWithOutcome(ctx context.Context, req tool.ExecutionRequest, start time.Time, coded *domain.Error, outcome audit.Outcome) *tool.Response {
	if e.metrics != nil && outcome == audit.OutcomeDenied {
		e.metrics.ExecutionsDenied.Add(ctx, 1)
	}
	end := e.now()
	resp := &tool.Response{
		OK:         false,
		RequestID:  req.RequestID,
		Tool:       req.Tool,
		DryRun:     req.DryRun,
		Error:      coded,
		ExecutedAt: end.UTC(),
		DurationMs: end.Sub(start).Milliseconds(),
		Meta:       tool.Meta{Version: Version},
	}
	e.audit(ctx, req, resp, outcome)
	return resp
}

// record audits and emits the outcome of a completed execution.
func (e *Executor) record(ctx context.Context, req tool.ExecutionRequest, resp *tool.Response) {
	outcome := audit.OutcomeOK
	if resp.Error != nil {
		outcome = audit.OutcomeError
	}
	if e.metrics != nil {
		if resp.Error != nil {
			e.metrics.ExecutionsFailed.Add(ctx, 1)
		} else {
			e.metrics.ExecutionsCompleted.Add(ctx, 1)
		}
		e.metrics.ExecutionDuration.Record(ctx, float64(resp.DurationMs)/1000)
	}
	e.audit(ctx, req, resp, outcome)
	e.emit(ctx, eventlog.Event{
		Type:      "tool.executed",
		RequestID: req.RequestID,
		Tool:      req.Tool,
		Actor:     req.Actor.String(),
		Outcome:   string(outcome),
		Fields:    map[string]any{"dryRun": req.DryRun, "durationMs": resp.DurationMs},
	})
}

// audit appends the trail entry. Audit failures are logged and swallowed;
// they never alter the primary response.
func (e *Executor) audit(ctx context.Context, req tool.ExecutionRequest, resp *tool.Response, outcome audit.Outcome) {
	entry := &audit.Entry{
		RequestID:  req.RequestID,
		Tool:       req.Tool,
		Args:       audit.Redact(req.Payload),
		Actor:      req.Actor.String(),
		Outcome:    outcome,
		DurationMs: resp.DurationMs,
	}
	if resp.Error != nil {
		entry.Error = resp.Error.Error()
	} else {
		entry.Summary = summarize(resp.Result)
	}
	if err := e.store.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		e.log.Warn("append audit entry", "requestId", req.RequestID, "error", err)
	}
}

// emit publishes an event without blocking the request path. Publish
// failures are logged and swallowed.
func (e *Executor) emit(ctx context.Context, ev eventlog.Event) {
	ev.At = e.now().UTC()
	go func() {
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.sink.Emit(emitCtx, ev); err != nil {
			e.log.Warn("emit event", "type", ev.Type, "requestId", ev.RequestID, "error", err)
		}
	}()
}

// cachedResponse looks for a completed execution in the tiered cache,
// then the durable store (backfilling the cache on a store hit).
func (e *Executor) cachedResponse(ctx context.Context, requestID string) (*tool.Response, bool) {
	data, ok, err := e.cache.Get(ctx, requestID)
	if err != nil {
		e.log.Warn("idempotency cache read", "requestId", requestID, "error", err)
	}
	if !ok {
		data, ok, err = e.store.GetCachedResponse(ctx, requestID)
		if err != nil {
			e.log.Warn("idempotency store read", "requestId", requestID, "error", err)
			return nil, false
		}
		if ok {
			_ = e.cache.Set(ctx, requestID, data, e.cfg.Retention)
		}
	}
	if !ok {
		return nil, false
	}

	var resp tool.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		e.log.Warn("corrupt cached response", "requestId", requestID, "error", err)
		return nil, false
	}
	return &resp, true
}

// cacheResponse persists the envelope under the requestId. The durable
// store insert is first-finisher-wins; cache write failures only cost a
// later replay a store round trip.
func (e *Executor) cacheResponse(ctx context.Context, resp *tool.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		e.log.Error("marshal response for cache", "requestId", resp.RequestID, "error", err)
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.store.StoreResponse(ctx, resp.RequestID, data, e.now().Add(e.cfg.Retention)); err != nil {
		e.log.Warn("store idempotent response", "requestId", resp.RequestID, "error", err)
	}
	if err := e.cache.Set(ctx, resp.RequestID, data, e.cfg.Retention); err != nil {
		e.log.Warn("cache idempotent response", "requestId", resp.RequestID, "error", err)
	}
}

// StartIdempotencyPurge spawns a goroutine that deletes expired cached
// responses every interval. Returns a cancel function.
func (e *Executor) StartIdempotencyPurge(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := e.store.PurgeExpiredResponses(ctx, e.now())
				if err != nil {
					e.log.Warn("purge expired responses", "error", err)
					continue
				}
				if purged > 0 {
					e.log.Info("purged expired responses", "count", purged)
				}
			}
		}
	}()
	return cancel
}

// summarize produces the short audit summary of a successful result.
func summarize(result any) string {
	if result == nil {
		return "ok"
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "ok"
	}
	const maxSummary = 200
	s := string(data)
	if len(s) > maxSummary {
		s = s[:maxSummary] + "..."
	}
	return s
}
