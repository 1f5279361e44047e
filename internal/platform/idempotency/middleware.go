package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kartline/api/internal/platform/auth"
	"github.com/kartline/api/internal/platform/httpx"
)

// ReplayHeader marks responses served from a stored entry.
const ReplayHeader = "Idempotent-Replayed"

type options struct {
	header   string
	ttl      time.Duration
	optional bool
	clock    func() time.Time
	logger   *zap.Logger
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*options)

// WithHeader sets the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

// WithTTL sets how long a key stays bound.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithOptionalKey passes requests without a key straight through instead of answering 400.
func WithOptionalKey() MiddlewareOption {
	return func(o *options) { o.optional = true }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger for store failures.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Middleware guards POST, PUT, PATCH and DELETE requests. Keys are scoped to the caller so two
// shoppers can never collide. Only 2xx and 4xx responses are stored; a 5xx releases the key so the
// client can retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := options{header: "Idempotency-Key", ttl: DefaultTTL, clock: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			default:
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get(o.header))
			if clientKey == "" {
				if o.optional {
					next.ServeHTTP(w, r)
					return
				}
				reject(w, r, http.StatusBadRequest, "idempotency_key_required", o.header+" header is required")
				return
			}
			if len(clientKey) > 255 {
				reject(w, r, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key must be at most 255 characters")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				reject(w, r, http.StatusBadRequest, "invalid_request", "unable to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := caller(r.Context()) + ":" + clientKey
			now := o.clock().UTC()
			replay, err := store.Claim(r.Context(), key, fingerprint(r, body), now, now.Add(o.ttl))
			switch {
			case errors.Is(err, ErrKeyReused):
				reject(w, r, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key was used with a different request")
				return
			case errors.Is(err, ErrInFlight):
				w.Header().Set("Retry-After", "1")
				reject(w, r, http.StatusConflict, "idempotency_in_progress", "a request with this idempotency key is still in progress")
				return
			case err != nil:
				o.logger.Error("idempotency claim failed", zap.Error(err))
				reject(w, r, http.StatusServiceUnavailable, "idempotency_unavailable", "unable to check idempotency key, retry later")
				return
			case replay != nil:
				for name, values := range replay.Header {
					w.Header()[name] = values
				}
				w.Header().Set(ReplayHeader, "true")
				w.WriteHeader(replay.Status)
				_, _ = w.Write(replay.Body)
				return
			}

			var captured bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			// The response has already gone out, so persistence failures are only logged.
			ctx := context.WithoutCancel(r.Context())
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := store.Forget(ctx, key); err != nil {
					o.logger.Warn("idempotency key release failed", zap.Error(err))
				}
				return
			}
			entry := Entry{
				Status:    status,
				Header:    w.Header().Clone(),
				Body:      captured.Bytes(),
				ExpiresAt: now.Add(o.ttl),
			}
			if err := store.Finish(ctx, key, entry); err != nil {
				o.logger.Warn("idempotency response not stored", zap.Int("status", status), zap.Error(err))
				_ = store.Forget(ctx, key)
			}
		})
	}
}

func caller(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return "uid/" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "svc/" + svc.Subject
	}
	return "anonymous"
}

func fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	_, _ = io.WriteString(h, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery+"\n")
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func reject(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}
