package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the key set.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing the key set.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const (
	defaultJWKSTTL        = time.Hour
	defaultJWKSMinRefresh = 30 * time.Second
	jwksFetchTimeout      = 5 * time.Second
)

// JWKSCache fetches Google's signing keys and keeps them until the Cache-Control max-age runs out.
// An unknown kid forces a refetch, at most once per minRefresh.
type JWKSCache struct {
	url        string
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time
	minRefresh time.Duration

	mu          sync.Mutex
	keys        map[string]jose.JSONWebKey
	expiresAt   time.Time
	lastFetched time.Time
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// NewJWKSCache constructs a cache for the key set served at url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     zap.NewNop(),
		now:        time.Now,
		minRefresh: defaultJWKSMinRefresh,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// WithJWKSHTTPClient overrides the HTTP client used to fetch the key set.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSLogger sets the logger for refresh diagnostics.
func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSClock injects a time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// Key returns the public key for kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stale := len(c.keys) == 0 || !now.Before(c.expiresAt)
	if stale {
		if err := c.refreshLocked(ctx, now); err != nil {
			return nil, err
		}
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	if !stale && now.Sub(c.lastFetched) >= c.minRefresh {
		if err := c.refreshLocked(ctx, now); err != nil {
			return nil, err
		}
		if jwk, ok := c.keys[kid]; ok {
			return jwk.Key, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) refreshLocked(ctx context.Context, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultJWKSTTL
	}
	c.keys = keys
	c.lastFetched = now
	c.expiresAt = now.Add(ttl)
	c.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)), zap.Duration("ttl", ttl))
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// ServiceIdentity is the verified caller of an /internal route, typically Cloud Scheduler.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to ctx.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by RequireServiceToken.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// ServiceTokenPolicy lists what a Google-signed OIDC token must carry to reach /internal routes.
// An empty ServiceAccounts list accepts any verified email.
type ServiceTokenPolicy struct {
	Audience        string
	Issuers         []string
	ServiceAccounts []string
}

type serviceClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// OIDCValidator verifies Google-signed OIDC tokens against a JWKSCache.
type OIDCValidator struct {
	keys   *JWKSCache
	logger *zap.Logger
	now    func() time.Time
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// NewOIDCValidator constructs a validator over keys.
func NewOIDCValidator(keys *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{keys: keys, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithOIDCLogger sets the logger for rejected tokens.
func WithOIDCLogger(logger *zap.Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCClock injects the time source used for expiry checks.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// Verify parses and validates raw against policy.
func (v *OIDCValidator) Verify(ctx context.Context, raw string, policy ServiceTokenPolicy) (*ServiceIdentity, error) {
	if v == nil || v.keys == nil {
		return nil, fmt.Errorf("%w: validator not configured", ErrJWKSFetchFailed)
	}
	claims := &serviceClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithoutClaimsValidation())
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, err
	}

	now := v.now()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, errors.New("token expired")
	}
	if !claims.VerifyIssuedAt(now.Add(time.Minute), false) {
		return nil, errors.New("token issued in the future")
	}
	if !claims.VerifyAudience(policy.Audience, true) {
		return nil, fmt.Errorf("audience mismatch: %v", claims.Audience)
	}
	if len(policy.Issuers) > 0 && !containsFold(policy.Issuers, claims.Issuer) {
		return nil, fmt.Errorf("issuer %q not allowed", claims.Issuer)
	}
	if len(policy.ServiceAccounts) > 0 {
		if !claims.EmailVerified || !containsFold(policy.ServiceAccounts, claims.Email) {
			return nil, fmt.Errorf("service account %q not allowed", claims.Email)
		}
	}
	return &ServiceIdentity{Subject: claims.Subject, Email: claims.Email, Issuer: claims.Issuer}, nil
}

// RequireServiceToken rejects requests without a valid bearer token for policy.
// Key set outages surface as 503 so the scheduler retries.
func (v *OIDCValidator) RequireServiceToken(policy ServiceTokenPolicy) func(http.Handler) http.Handler {
	policy.Audience = strings.TrimSpace(policy.Audience)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if policy.Audience == "" {
				respondAuthError(w, r, http.StatusServiceUnavailable, "verification_unavailable", "oidc audience not configured")
				return
			}
			raw, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "oidc token missing")
				return
			}
			identity, err := v.Verify(r.Context(), raw, policy)
			if err != nil {
				v.logger.Warn("oidc token rejected", zap.Error(err))
				if errors.Is(err, ErrJWKSFetchFailed) {
					respondAuthError(w, r, http.StatusServiceUnavailable, "verification_unavailable", "oidc verification unavailable")
					return
				}
				respondAuthError(w, r, http.StatusUnauthorized, "invalid_token", "oidc token verification failed")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(r.Context(), identity)))
		})
	}
}

func containsFold(values []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, value := range values {
		if strings.EqualFold(strings.TrimSpace(value), target) {
			return true
		}
	}
	return false
}
