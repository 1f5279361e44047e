package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kartline/api/internal/platform/auth"
	"github.com/kartline/api/internal/platform/httpx"
	"github.com/kartline/api/internal/platform/requestctx"
)

const (
	defaultCleanupBatch = 200
	maxCleanupBatch     = 1000
)

// ExpiredKeyCleaner removes expired idempotency reservations.
type ExpiredKeyCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// MaintenanceHandlers exposes internal housekeeping endpoints invoked by the scheduler.
type MaintenanceHandlers struct {
	keys  ExpiredKeyCleaner
	clock func() time.Time
}

// NewMaintenanceHandlers constructs the /internal handler group.
func NewMaintenanceHandlers(keys ExpiredKeyCleaner, clock func() time.Time) *MaintenanceHandlers {
	if clock == nil {
		clock = time.Now
	}
	return &MaintenanceHandlers{keys: keys, clock: clock}
}

// Routes wires the maintenance endpoints onto the provided router.
func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/idempotency:cleanup", h.cleanupIdempotency)
}

type cleanupResponse struct {
	Removed int    `json:"removed"`
	RanAt   string `json:"ranAt"`
}

func (h *MaintenanceHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.keys == nil {
		serviceUnavailable(w, r, "idempotency")
		return
	}

	limit := defaultCleanupBatch
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = min(parsed, maxCleanupBatch)
	}

	now := h.clock().UTC()
	removed, err := h.keys.CleanupExpired(ctx, now, limit)
	if err != nil {
		logHandlerError(ctx, "idempotency cleanup failed", err)
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "unable to clean up idempotency keys", http.StatusServiceUnavailable))
		return
	}
	fields := []zap.Field{zap.Int("removed", removed), zap.Int("limit", limit)}
	if caller, ok := auth.ServiceIdentityFromContext(ctx); ok {
		fields = append(fields, zap.String("caller", caller.Email))
	}
	requestctx.Logger(ctx).Info("idempotency keys cleaned", fields...)
	httpx.WriteJSON(w, http.StatusOK, cleanupResponse{Removed: removed, RanAt: now.Format(time.RFC3339)})
}
