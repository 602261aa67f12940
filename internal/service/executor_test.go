package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/resflow/toolplane/internal/auth"
	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/domain/approval"
	"github.com/resflow/toolplane/internal/domain/audit"
	"github.com/resflow/toolplane/internal/domain/tool"
	"github.com/resflow/toolplane/internal/registry"
)

type testEnv struct {
	exec      *Executor
	store     *mockStore
	cache     *mockCache
	sink      *mockSink
	sideCalls *atomic.Int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := registry.New()
	var sideCalls atomic.Int64

	mustRegister(t, reg, tool.Definition{
		Name:          "inventory.touch",
		Category:      "inventory",
		Description:   "Mutating test tool.",
		Mutates:       true,
		Risk:          tool.RiskMedium,
		RequiredScope: "inventory.write",
		InputSchema: map[string]any{
			"type":                 "object",
			"required":             []any{"item"},
			"properties":           map[string]any{"item": map[string]any{"type": "string"}, "skipNotify": map[string]any{"type": "boolean"}},
			"additionalProperties": true,
		},
		Steps: []tool.StepSpec{
			{Name: "update-stock", Description: "write the stock row", EstimateMs: 50},
			{Name: "notify-ops", Description: "send the notification", SkipOption: "skipNotify", External: "notifier", EstimateMs: 200},
		},
		Dependencies:    []string{"notifier"},
		RequiredSecrets: []string{"NOTIFIER_TOKEN"},
	}, func(_ context.Context, _ registry.ExecContext, payload map[string]any) (any, error) {
		sideCalls.Add(1)
		return map[string]any{"item": payload["item"], "touched": true}, nil
	})

	mustRegister(t, reg, tool.Definition{
		Name:          "inventory.inspect",
		Category:      "inventory",
		Description:   "Read-only test tool.",
		Risk:          tool.RiskLow,
		RequiredScope: "inventory.read",
	}, func(_ context.Context, _ registry.ExecContext, _ map[string]any) (any, error) {
		return map[string]any{"status": "fine"}, nil
	})

	mustRegister(t, reg, tool.Definition{
		Name:             "tenant.wipe",
		Category:         "tenant",
		Description:      "Gated destructive test tool.",
		Mutates:          true,
		Risk:             tool.RiskHigh,
		RequiresApproval: true,
		RequiredScope:    "tenant.write",
	}, func(_ context.Context, _ registry.ExecContext, _ map[string]any) (any, error) {
		sideCalls.Add(1)
		return map[string]any{"wiped": true}, nil
	})

	mustRegister(t, reg, tool.Definition{
		Name:          "inventory.explode",
		Category:      "inventory",
		Description:   "Failing test tool.",
		Risk:          tool.RiskLow,
		RequiredScope: "inventory.write",
	}, func(_ context.Context, _ registry.ExecContext, payload map[string]any) (any, error) {
		if payload["panic"] == true {
			panic("boom")
		}
		return nil, errors.New("downstream unavailable")
	})

	mustRegister(t, reg, tool.Definition{
		Name:          "inventory.recount",
		Category:      "inventory",
		Description:   "Deprecated test tool.",
		Mutates:       true,
		Risk:          tool.RiskLow,
		Deprecated:    true,
		ReplacedBy:    "inventory.touch",
		RequiredScope: "inventory.write",
	}, func(_ context.Context, _ registry.ExecContext, _ map[string]any) (any, error) {
		sideCalls.Add(1)
		return map[string]any{"recounted": true}, nil
	})

	reg.Seal()

	store := newMockStore()
	cache := newMockCache()
	sink := &mockSink{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	exec := NewExecutor(reg, store, cache, sink, nil, nil, log, ExecutorConfig{
		LockTTL:      5 * time.Minute,
		Retention:    7 * 24 * time.Hour,
		ApprovalTTL:  24 * time.Hour,
		Dependencies: map[string]bool{"notifier": true},
		Secrets:      map[string]bool{"NOTIFIER_TOKEN": false},
	})

	return &testEnv{exec: exec, store: store, cache: cache, sink: sink, sideCalls: &sideCalls}
}

func mustRegister(t *testing.T, reg *registry.Registry, def tool.Definition, h registry.Handler) {
	t.Helper()
	if err := reg.Register(def, h); err != nil {
		t.Fatalf("register %s: %v", def.Name, err)
	}
}

func writerIdentity() *auth.Identity {
	return &auth.Identity{KeyID: "key_writer", Scopes: []string{"inventory.write", "tenant.write"}, Class: "default"}
}

func execRequest(requestID, toolName string, payload map[string]any) tool.ExecutionRequest {
	return tool.ExecutionRequest{
		RequestID: requestID,
		Tool:      toolName,
		Payload:   payload,
		Mode:      tool.ModeExecute,
		Actor:     tool.Actor{Type: "service", ID: "test"},
	}
}

func asResponse(t *testing.T, v any) *tool.Response {
	t.Helper()
	resp, ok := v.(*tool.Response)
	if !ok {
		t.Fatalf("expected *tool.Response, got %T", v)
	}
	return resp
}

func TestExecute_Success(t *testing.T) {
	env := newTestEnv(t)

	resp := asResponse(t, env.exec.Handle(context.Background(), writerIdentity(),
		execRequest("req-1", "inventory.touch", map[string]any{"item": "widget"})))

	if !resp.OK {
		t.Fatalf("expected ok, got error %v", resp.Error)
	}
	if resp.Meta.Cached {
		t.Error("first execution must not be flagged cached")
	}
	if resp.Meta.Version != Version {
		t.Errorf("meta version = %q, want %q", resp.Meta.Version, Version)
	}
	if env.sideCalls.Load() != 1 {
		t.Errorf("side effects = %d, want 1", env.sideCalls.Load())
	}
	outcomes := env.store.auditOutcomes("req-1")
	if len(outcomes) != 1 || outcomes[0] != audit.OutcomeOK {
		t.Errorf("audit outcomes = %v, want [ok]", outcomes)
	}
}

func TestExecute_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := writerIdentity()

	first := asResponse(t, env.exec.Handle(ctx, id,
		execRequest("req-2", "inventory.touch", map[string]any{"item": "widget"})))

	// Divergent payload on retry still replays the first result.
	second := asResponse(t, env.exec.Handle(ctx, id,
		execRequest("req-2", "inventory.touch", map[string]any{"item": "gadget"})))

	if !second.Meta.Cached {
		t.Fatal("second call must be flagged cached")
	}
	if env.sideCalls.Load() != 1 {
		t.Fatalf("side effects = %d, want exactly 1", env.sideCalls.Load())
	}
	gotFirst := first.Result.(map[string]any)["item"]
	gotSecond := second.Result.(map[string]any)["item"]
	if gotFirst != "widget" || gotSecond != "widget" {
		t.Errorf("replayed result diverged: first=%v second=%v", gotFirst, gotSecond)
	}
}

func TestExecute_ReplayFromStoreWhenCacheCold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := writerIdentity()

	env.exec.Handle(ctx, id, execRequest("req-3", "inventory.touch", map[string]any{"item": "widget"}))

	// Simulate an instance restart losing the in-process cache.
	env.cache.data = map[string][]byte{}

	resp := asResponse(t, env.exec.Handle(ctx, id,
		execRequest("req-3", "inventory.touch", map[string]any{"item": "widget"})))
	if !resp.Meta.Cached {
		t.Fatal("store-backed replay must be flagged cached")
	}
	if env.sideCalls.Load() != 1 {
		t.Fatalf("side effects = %d, want 1", env.sideCalls.Load())
	}
}

func TestExecute_LockConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Another executor holds the lock.
	if ok, _ := env.store.AcquireLock(ctx, "req-4", time.Minute); !ok {
		t.Fatal("setup: lock not acquired")
	}

	resp := asResponse(t, env.exec.Handle(ctx, writerIdentity(),
		execRequest("req-4", "inventory.touch", map[string]any{"item": "widget"})))

	if resp.OK || resp.Error.Code != domain.CodeRequestInProgress {
		t.Fatalf("expected REQUEST_IN_PROGRESS, got %+v", resp.Error)
	}
	if env.sideCalls.Load() != 0 {
		t.Error("tool must not run while the lock is held")
	}
}

func TestExecute_ConcurrentSameRequestID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := writerIdentity()

	const callers = 4
	var wg sync.WaitGroup
	results := make([]*tool.Response, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = env.exec.Handle(ctx, id,
				execRequest("req-5", "inventory.touch", map[string]any{"item": "widget"})).(*tool.Response)
		}(i)
	}
	wg.Wait()

	if n := env.sideCalls.Load(); n != 1 {
		t.Fatalf("side effects = %d, want exactly 1", n)
	}
	for _, resp := range results {
		if resp == nil {
			t.Fatal("caller did not get an execution response")
		}
		if resp.OK {
			continue
		}
		if resp.Error.Code != domain.CodeRequestInProgress {
			t.Errorf("loser got %s, want REQUEST_IN_PROGRESS", resp.Error.Code)
		}
	}
}

func TestExecute_ScopeEnforcement(t *testing.T) {
	env := newTestEnv(t)
	reader := &auth.Identity{KeyID: "key_reader", Scopes: []string{"inventory.read"}, Class: "default"}

	resp := asResponse(t, env.exec.Handle(context.Background(), reader,
		execRequest("req-6", "inventory.touch", map[string]any{"item": "widget"})))

	if resp.OK || resp.Error.Code != domain.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %+v", resp.Error)
	}
	details := resp.Error.Details.(map[string]any)
	if details["requiredScope"] != "inventory.write" {
		t.Errorf("details = %v, must name the required scope", details)
	}
	if env.sideCalls.Load() != 0 {
		t.Error("tool must not run without the required scope")
	}
	outcomes := env.store.auditOutcomes("req-6")
	if len(outcomes) != 1 || outcomes[0] != audit.OutcomeDenied {
		t.Errorf("audit outcomes = %v, want [denied]", outcomes)
	}
}

func TestExecute_WildcardScope(t *testing.T) {
	env := newTestEnv(t)
	wild := &auth.Identity{KeyID: "key_wild", Scopes: []string{"inventory.*"}, Class: "default"}
	ctx := context.Background()

	write := asResponse(t, env.exec.Handle(ctx, wild,
		execRequest("req-7", "inventory.touch", map[string]any{"item": "widget"})))
	if !write.OK {
		t.Fatalf("inventory.* should cover inventory.write: %v", write.Error)
	}

	read := asResponse(t, env.exec.Handle(ctx, wild,
		execRequest("req-8", "inventory.inspect", nil)))
	if !read.OK {
		t.Fatalf("inventory.* should cover inventory.read: %v", read.Error)
	}
}

func TestExecute_RegistryGate(t *testing.T) {
	env := newTestEnv(t)

	resp := asResponse(t, env.exec.Handle(context.Background(), writerIdentity(),
		execRequest("req-9", "inventory.vanish", nil)))

	if resp.OK || resp.Error.Code != domain.CodeToolNotInRegistry {
		t.Fatalf("expected TOOL_NOT_IN_REGISTRY, got %+v", resp.Error)
	}
}

func TestExecute_ApprovalGating(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := writerIdentity()
	req := execRequest("req-10", "tenant.wipe", map[string]any{"slug": "acme"})

	resp := asResponse(t, env.exec.Handle(ctx, id, req))

	if resp.OK || resp.Error.Code != domain.CodeForbidden {
		t.Fatalf("expected FORBIDDEN approval-required, got %+v", resp.Error)
	}
	if env.sideCalls.Load() != 0 {
		t.Fatal("gated tool must not run without approval")
	}
	pending, _ := env.store.ListApprovals(ctx, approval.StatusPending)
	if len(pending) != 1 || pending[0].RequestID != "req-10" {
		t.Fatalf("pending approvals = %+v, want exactly one for req-10", pending)
	}

	// A retry reuses the pending request instead of opening a second one.
	env.exec.Handle(ctx, id, req)
	pending, _ = env.store.ListApprovals(ctx, approval.StatusPending)
	if len(pending) != 1 {
		t.Fatalf("pending approvals after retry = %d, want 1", len(pending))
	}

	outcomes := env.store.auditOutcomes("req-10")
	for _, o := range outcomes {
		if o != audit.OutcomeApprovalRequired {
			t.Errorf("audit outcome = %s, want approval_required", o)
		}
	}
}

func TestExecute_ApprovedBypassesGate(t *testing.T) {
	env := newTestEnv(t)
	req := execRequest("req-11", "tenant.wipe", map[string]any{"slug": "acme"})
	req.Approved = true

	resp := asResponse(t, env.exec.Handle(context.Background(), writerIdentity(), req))
	if !resp.OK {
		t.Fatalf("approved execution failed: %v", resp.Error)
	}
	if env.sideCalls.Load() != 1 {
		t.Errorf("side effects = %d, want 1", env.sideCalls.Load())
	}
}

func TestExecute_InputValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := asResponse(t, env.exec.Handle(context.Background(), writerIdentity(),
		execRequest("req-12", "inventory.touch", map[string]any{"skipNotify": true})))

	if resp.OK || resp.Error.Code != domain.CodeArgsValidation {
		t.Fatalf("expected ARGS_VALIDATION_ERROR, got %+v", resp.Error)
	}
	// Validation failures are not cached; a corrected retry must run.
	fixed := asResponse(t, env.exec.Handle(context.Background(), writerIdentity(),
		execRequest("req-12", "inventory.touch", map[string]any{"item": "widget"})))
	if !fixed.OK || fixed.Meta.Cached {
		t.Fatalf("corrected retry should execute fresh, got %+v", fixed)
	}
}

func TestExecute_ToolErrorIsCached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := writerIdentity()

	resp := asResponse(t, env.exec.Handle(ctx, id, execRequest("req-13", "inventory.explode", nil)))
	if resp.OK || resp.Error.Code != domain.CodeExecutionError {
		t.Fatalf("expected EXECUTION_ERROR, got %+v", resp.Error)
	}

	replay := asResponse(t, env.exec.Handle(ctx, id, execRequest("req-13", "inventory.explode", nil)))
	if !replay.Meta.Cached {
		t.Error("failed executions replay from cache like successes")
	}
	if replay.Error == nil || replay.Error.Code != domain.CodeExecutionError {
		t.Errorf("replayed error = %+v, want EXECUTION_ERROR", replay.Error)
	}
}

func TestExecute_PanicBecomesInternalError(t *testing.T) {
	env := newTestEnv(t)

	resp := asResponse(t, env.exec.Handle(context.Background(), writerIdentity(),
		execRequest("req-14", "inventory.explode", map[string]any{"panic": true})))

	if resp.OK || resp.Error.Code != domain.CodeInternalError {
		t.Fatalf("expected INTERNAL_ERROR, got %+v", resp.Error)
	}
	if resp.Error.Message != "internal error" {
		t.Errorf("panic detail leaked: %q", resp.Error.Message)
	}
	// The lock must be released even after a panic.
	if acquired, _ := env.store.AcquireLock(context.Background(), "req-14", time.Minute); !acquired {
		t.Error("lock still held after panicked execution")
	}
}

func TestExecute_DeprecatedToolStillRuns(t *testing.T) {
	env := newTestEnv(t)

	resp := asResponse(t, env.exec.Handle(context.Background(), writerIdentity(),
		execRequest("req-15", "inventory.recount", nil)))
	if !resp.OK {
		t.Fatalf("deprecated tool should remain invocable: %v", resp.Error)
	}
}

func TestPlan_Purity(t *testing.T) {
	env := newTestEnv(t)
	req := execRequest("req-16", "inventory.touch", map[string]any{"item": "widget", "skipNotify": true})
	req.Mode = tool.ModePlan

	out := env.exec.Handle(context.Background(), writerIdentity(), req)
	plan, ok := out.(*tool.PlanResponse)
	if !ok {
		t.Fatalf("expected *tool.PlanResponse, got %T", out)
	}
	if !plan.OK || plan.Plan == nil {
		t.Fatalf("plan failed: %+v", plan)
	}

	// Zero datastore writes.
	if env.store.storeResponseCalls != 0 {
		t.Error("plan mode stored a response")
	}
	if len(env.store.locks) != 0 {
		t.Error("plan mode acquired a lock")
	}
	if len(env.store.approvals) != 0 {
		t.Error("plan mode created an approval request")
	}
	if env.sideCalls.Load() != 0 {
		t.Error("plan mode invoked the tool")
	}

	// willExecute honors the skip option.
	steps := map[string]tool.PlanStep{}
	for _, s := range plan.Plan.Steps {
		steps[s.Name] = s
	}
	if !steps["update-stock"].WillExecute {
		t.Error("update-stock should execute")
	}
	if steps["notify-ops"].WillExecute {
		t.Error("notify-ops should be skipped via skipNotify")
	}
	if plan.Plan.Timing.EstimatedMs != 50 {
		t.Errorf("estimatedMs = %d, want 50 (skipped step excluded)", plan.Plan.Timing.EstimatedMs)
	}
}

func TestPlan_Readiness(t *testing.T) {
	env := newTestEnv(t)
	req := execRequest("req-17", "inventory.touch", map[string]any{"item": "widget"})
	req.Mode = tool.ModePlan

	plan := env.exec.Handle(context.Background(), writerIdentity(), req).(*tool.PlanResponse)

	// The notifier dependency is configured, but NOTIFIER_TOKEN is not.
	if plan.Plan.Readiness.Ready {
		t.Error("readiness should report the missing secret")
	}
	want := "secret:NOTIFIER_TOKEN"
	found := false
	for _, m := range plan.Plan.Readiness.Missing {
		if m == want {
			found = true
		}
	}
	if !found {
		t.Errorf("missing = %v, want to contain %q", plan.Plan.Readiness.Missing, want)
	}
}

func TestPlan_GatedToolDoesNotCreateApproval(t *testing.T) {
	env := newTestEnv(t)
	req := execRequest("req-18", "tenant.wipe", map[string]any{"slug": "acme"})
	req.Mode = tool.ModePlan

	out := env.exec.Handle(context.Background(), writerIdentity(), req)
	if _, ok := out.(*tool.PlanResponse); !ok {
		t.Fatalf("expected plan response for gated tool, got %T", out)
	}
	if len(env.store.approvals) != 0 {
		t.Error("planning a gated tool must not open an approval request")
	}
}
