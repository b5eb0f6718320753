package handlers

import (
	"net/http"
	"time"

	domain "github.com/merchlane/ordercore/internal/domain"
	"github.com/merchlane/ordercore/internal/platform/httpx"
	"github.com/merchlane/ordercore/internal/services"
)

// HealthHandlers serves liveness and readiness probes. Healthz answers from
// process state only; Readyz collects dependency checks through the system
// service.
type HealthHandlers struct {
	system services.SystemService
	clock  func() time.Time
}

// NewHealthHandlers constructs health endpoints. A nil system service leaves
// Readyz reporting liveness only.
func NewHealthHandlers(system services.SystemService, opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		system: system,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthOption customises health handler construction.
type HealthOption func(*HealthHandlers)

// WithHealthClock overrides the clock used in health payloads.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type healthReportPayload struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commit_sha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime,omitempty"`
	GeneratedAt string                        `json:"generated_at,omitempty"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    domain.HealthStatusOK,
		"timestamp": h.clock().UTC().Format(time.RFC3339),
	})
}

// Readyz reports dependency readiness; a degraded report still returns 200 so
// traffic keeps flowing while operators investigate.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, healthReportPayload{Status: domain.HealthStatusOK})
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_check_failed", "failed to collect dependency status", http.StatusServiceUnavailable))
		return
	}

	payload := healthReportPayload{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		GeneratedAt: formatTime(report.GeneratedAt),
	}
	if report.Uptime > 0 {
		payload.Uptime = report.Uptime.String()
	}
	if len(report.Checks) > 0 {
		payload.Checks = make(map[string]healthCheckPayload, len(report.Checks))
		for name, check := range report.Checks {
			payload.Checks[name] = healthCheckPayload{
				Status:    check.Status,
				Detail:    check.Detail,
				Error:     check.Error,
				LatencyMS: check.Latency.Milliseconds(),
			}
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}
