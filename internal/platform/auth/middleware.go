package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/kartline/api/internal/platform/httpx"
	"github.com/kartline/api/internal/platform/requestctx"
)

const defaultVerifyTimeout = 5 * time.Second

// ErrTokenExpired and ErrTokenInvalid let verifiers other than the Admin SDK report failures that
// map onto the same responses as the SDK's own errors.
var (
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens into Identity values on the request context.
type Authenticator struct {
	verifier TokenVerifier
	logger   *zap.Logger
	timeout  time.Duration
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithAuthLogger sets the logger used for rejected tokens.
func WithAuthLogger(logger *zap.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithVerificationTimeout bounds each VerifyIDToken call.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator around verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, logger: zap.NewNop(), timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer token. When roles are given the
// identity must hold at least one of them.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	required := normaliseRoles(roles)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			token, err := a.verifier.VerifyIDToken(ctx, raw)
			cancel()
			if err != nil {
				a.logger.Debug("firebase token rejected", zap.Error(err))
				respondVerificationError(w, r, err)
				return
			}

			identity := identityFromToken(token)
			requestctx.Annotate(r.Context(), zap.String("uid", identity.UID))
			if len(required) > 0 && !identity.HasAnyRole(required...) {
				respondAuthError(w, r, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			ctx = WithIdentity(r.Context(), identity)
			ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(zap.String("uid", identity.UID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole checks the identity an earlier RequireFirebaseAuth placed on the context, so nested
// route groups do not verify the same token twice.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	required := normaliseRoles(roles)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok || identity == nil {
				respondAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "request is not authenticated")
				return
			}
			if len(required) > 0 && !identity.HasAnyRole(required...) {
				respondAuthError(w, r, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normaliseRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			out = append(out, role)
		}
	}
	return out
}

// identityFromToken grants RoleUser to every verified token and RoleAdmin when the custom claims
// carry role "admin", a roles list containing "admin", or admin: true.
func identityFromToken(token *firebaseauth.Token) *Identity {
	claims := token.Claims
	identity := &Identity{UID: token.UID, Roles: []string{RoleUser}}
	if email, ok := claims["email"].(string); ok {
		identity.Email = strings.TrimSpace(email)
	}
	if verified, ok := claims["email_verified"].(bool); ok {
		identity.EmailVerified = verified
	}

	var granted []string
	switch v := claims["role"].(type) {
	case string:
		granted = append(granted, v)
	case []interface{}:
		granted = append(granted, stringsOf(v)...)
	}
	if list, ok := claims["roles"].([]interface{}); ok {
		granted = append(granted, stringsOf(list)...)
	}
	if flag, ok := claims["admin"].(bool); ok && flag {
		granted = append(granted, RoleAdmin)
	}
	for _, role := range granted {
		role = normaliseRole(role)
		if role != "" && !slices.Contains(identity.Roles, role) {
			identity.Roles = append(identity.Roles, role)
		}
	}
	return identity
}

func stringsOf(values []interface{}) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if s, ok := value.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

func respondVerificationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		respondAuthError(w, r, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		respondAuthError(w, r, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
	default:
		respondAuthError(w, r, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
	}
}
