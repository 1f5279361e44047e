package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kartline/api/internal/platform/httpx"
	"github.com/kartline/api/internal/services"
)

const defaultReadinessTimeout = 5 * time.Second

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	build   services.BuildInfo
	system  services.SystemService
	clock   func() time.Time
	timeout time.Duration
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata echoed by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) { h.build = info }
}

// WithHealthSystemService sets the probes behind /readyz. Without one /readyz always answers ready.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) { h.system = svc }
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthTimeout bounds a whole readiness request.
func WithHealthTimeout(d time.Duration) HealthOption {
	return func(h *HealthHandlers) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now, timeout: defaultReadinessTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type buildPayload struct {
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
}

type livenessPayload struct {
	Status string `json:"status"`
	buildPayload
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

type probePayload struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

type readinessPayload struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
	buildPayload
	Uptime    string         `json:"uptime,omitempty"`
	CheckedAt string         `json:"checkedAt,omitempty"`
	Checks    []probePayload `json:"checks"`
	Error     string         `json:"error,omitempty"`
}

// Healthz answers as long as the process serves HTTP; it never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, livenessPayload{
		Status:       services.ProbeOK,
		buildPayload: buildOf(h.build),
		Uptime:       now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp:    now.Format(time.RFC3339),
	})
}

// Readyz answers 503 only when a critical probe is down.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if h.system == nil {
		httpx.WriteJSON(w, http.StatusOK, readinessPayload{
			Status:       services.ProbeOK,
			Ready:        true,
			buildPayload: buildOf(h.build),
			Checks:       []probePayload{},
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	report, err := h.system.Readiness(ctx)
	if err != nil {
		logHandlerError(r.Context(), "readiness probe failed", err)
		httpx.WriteJSON(w, http.StatusServiceUnavailable, readinessPayload{
			Status:       services.ProbeDown,
			buildPayload: buildOf(h.build),
			Checks:       []probePayload{},
			Error:        err.Error(),
		})
		return
	}

	payload := readinessPayload{
		Status:       report.Status,
		Ready:        report.Ready,
		buildPayload: buildOf(report.Build),
		Uptime:       report.Uptime.Truncate(time.Second).String(),
		CheckedAt:    report.CheckedAt.UTC().Format(time.RFC3339),
		Checks:       make([]probePayload, 0, len(report.Probes)),
	}
	for _, probe := range report.Probes {
		payload.Checks = append(payload.Checks, probePayload{
			Name:      probe.Name,
			Status:    probe.Status,
			Critical:  probe.Critical,
			Error:     probe.Error,
			LatencyMS: probe.Latency.Milliseconds(),
		})
	}

	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, payload)
}

func buildOf(info services.BuildInfo) buildPayload {
	return buildPayload{Version: info.Version, CommitSHA: info.CommitSHA, Environment: info.Environment}
}
