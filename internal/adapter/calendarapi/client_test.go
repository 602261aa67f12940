package calendarapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/resflow/toolplane/internal/adapter/calendarapi"
	"github.com/resflow/toolplane/internal/port/calendar"
	"github.com/resflow/toolplane/internal/resilience"
)

func TestResync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/resync" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		auth := r.Header.Get("Authorization")
		if auth != "Bearer test-token" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req struct {
			TenantSlug string `json:"tenantSlug"`
			Full       bool   `json:"full"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.TenantSlug != "acme-spa" || !req.Full {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(calendar.ResyncReport{
			TenantSlug:   "acme-spa",
			EventsPushed: 12,
			EventsPulled: 3,
			Conflicts:    1,
		})
	}))
	defer srv.Close()

	client := calendarapi.NewClient(srv.URL, "test-token")
	report, err := client.Resync(context.Background(), "acme-spa", true)
	if err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	if report.EventsPushed != 12 || report.Conflicts != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestResync_FillsTenantSlug(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"eventsPushed":1}`))
	}))
	defer srv.Close()

	client := calendarapi.NewClient(srv.URL, "")
	report, err := client.Resync(context.Background(), "acme-spa", false)
	if err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	if report.TenantSlug != "acme-spa" {
		t.Fatalf("tenantSlug = %q, want acme-spa", report.TenantSlug)
	}
}

func TestResync_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream"}`))
	}))
	defer srv.Close()

	client := calendarapi.NewClient(srv.URL, "test-token")
	if _, err := client.Resync(context.Background(), "acme-spa", false); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := calendarapi.NewClient(srv.URL, "")
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestBreakerRejectsWhenOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := calendarapi.NewClient(srv.URL, "")
	client.SetBreaker(resilience.NewBreaker(2, time.Minute))
	ctx := context.Background()

	// Two failures trip the breaker.
	_, _ = client.Resync(ctx, "acme-spa", false)
	_, _ = client.Resync(ctx, "acme-spa", false)

	_, err := client.Resync(ctx, "acme-spa", false)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
