package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/merchlane/ordercore/internal/domain"
	"github.com/merchlane/ordercore/internal/services"
)

func TestHealthzReportsLiveness(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	handlers := NewHealthHandlers(nil, WithHealthClock(func() time.Time { return now }))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handlers.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["status"] != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %v", body["status"])
	}
	if body["timestamp"] != "2024-03-15T09:30:00Z" {
		t.Fatalf("unexpected timestamp: %v", body["timestamp"])
	}
}

func TestReadyzReportsDependencyChecks(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	system := &routerStubSystemService{
		report: services.SystemHealthReport{
			Status:      domain.HealthStatusDegraded,
			Version:     "1.4.0",
			Environment: "staging",
			Uptime:      90 * time.Second,
			GeneratedAt: now,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
				"pubsub":    {Status: domain.HealthStatusDegraded, Error: "publish timeout"},
			},
		},
	}
	handlers := NewHealthHandlers(system)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected degraded report to stay 200, got %d", rr.Code)
	}

	var resp healthReportPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %s", resp.Status)
	}
	if resp.Version != "1.4.0" || resp.Environment != "staging" {
		t.Fatalf("unexpected build info: %#v", resp)
	}
	if resp.Uptime != "1m30s" {
		t.Fatalf("unexpected uptime: %s", resp.Uptime)
	}
	if check, ok := resp.Checks["firestore"]; !ok || check.LatencyMS != 12 {
		t.Fatalf("unexpected firestore check: %#v", resp.Checks)
	}
	if check, ok := resp.Checks["pubsub"]; !ok || check.Error != "publish timeout" {
		t.Fatalf("unexpected pubsub check: %#v", resp.Checks)
	}
}

func TestReadyzErrorStatusReturns503(t *testing.T) {
	system := &routerStubSystemService{
		report: services.SystemHealthReport{Status: domain.HealthStatusError},
	}
	handlers := NewHealthHandlers(system)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestReadyzCollectFailureReturns503(t *testing.T) {
	system := &routerStubSystemService{err: errors.New("firestore unavailable")}
	handlers := NewHealthHandlers(system)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "health_check_failed" {
		t.Fatalf("expected health_check_failed error, got %v", body["error"])
	}
}

func TestReadyzWithoutSystemService(t *testing.T) {
	handlers := NewHealthHandlers(nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
