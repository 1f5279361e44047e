package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kartline/api/internal/platform/auth"
	"github.com/kartline/api/internal/platform/httpx"
	"github.com/kartline/api/internal/platform/requestctx"
	"github.com/kartline/api/internal/services"
)

const defaultMaxBodyBytes = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// HandlerOption customises the settings shared by every handler group.
type HandlerOption func(*handlerSettings)

type handlerSettings struct {
	adminRoles   []string
	maxBodyBytes int64
	money        services.MoneyFormatter
}

// WithAdminRoles sets the token roles that grant administrator access.
func WithAdminRoles(roles ...string) HandlerOption {
	return func(s *handlerSettings) {
		cleaned := make([]string, 0, len(roles))
		for _, role := range roles {
			if role = strings.TrimSpace(role); role != "" {
				cleaned = append(cleaned, role)
			}
		}
		if len(cleaned) > 0 {
			s.adminRoles = cleaned
		}
	}
}

// WithMaxBodyBytes caps JSON request bodies. Larger bodies are rejected with 413.
func WithMaxBodyBytes(limit int64) HandlerOption {
	return func(s *handlerSettings) {
		if limit > 0 {
			s.maxBodyBytes = limit
		}
	}
}

// WithMoneyFormatter sets the formatter used for the display amounts in responses.
func WithMoneyFormatter(f services.MoneyFormatter) HandlerOption {
	return func(s *handlerSettings) {
		s.money = f
	}
}

func newHandlerSettings(opts []HandlerOption) handlerSettings {
	settings := handlerSettings{
		adminRoles:   []string{auth.RoleAdmin},
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	return settings
}

// caller resolves the authenticated actor. It writes a 401 and returns false when none is present.
func (s handlerSettings) caller(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return services.Actor{
		UserID:  strings.TrimSpace(identity.UID),
		IsAdmin: identity.HasAnyRole(s.adminRoles...),
	}, true
}

// decodeBody reads at most maxBodyBytes and decodes the JSON body into dst, rejecting unknown fields.
// It writes the error response itself and returns false on failure.
func (s handlerSettings) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decode(w, r, dst, true)
}

// decodeLenientBody is decodeBody without the unknown-field check. Checkout clients post saved
// address-book documents and cart echoes that carry keys the order does not use.
func (s handlerSettings) decodeLenientBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decode(w, r, dst, false)
}

func (s handlerSettings) decode(w http.ResponseWriter, r *http.Request, dst any, strict bool) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, s.maxBodyBytes)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// writeServiceError maps service sentinel errors onto the HTTP error taxonomy.
// Business conflicts are client errors and answer 400.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrProductInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderConflict),
		errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderForbidden),
		errors.Is(err, services.ErrProductForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "you are not allowed to perform this action", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrCartUnavailable),
		errors.Is(err, services.ErrProductUnavailable):
		logHandlerError(ctx, "dependency unavailable", err)
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "a backing service is unavailable, retry later", http.StatusServiceUnavailable))
	default:
		logHandlerError(ctx, "unhandled service error", err)
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

func logHandlerError(ctx context.Context, message string, err error) {
	requestctx.Logger(ctx).Error(message,
		zap.Error(err),
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("trace_id", requestctx.TraceID(ctx)),
	)
}

func serviceUnavailable(w http.ResponseWriter, r *http.Request, name string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}
