// Package config loads runtime settings from .env files, the process environment and Secret Manager.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultOIDCJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	googleIssuer       = "https://accounts.google.com"
	iapIssuer          = "https://cloud.google.com/iap"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Pricing     PricingConfig
	Checkout    CheckoutConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
}

// FirebaseConfig stores Firebase project settings. CredentialsJSON may be a secret reference.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
	CheckRevoked    bool
}

// FirestoreConfig defaults ProjectID to the Firebase project.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig names the order archive bucket. Empty disables archiving.
type StorageConfig struct {
	OrderArchiveBucket string
}

type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	EmulatorHost     string
}

// PricingConfig holds the shipping rule and display settings. Amounts are minor units.
type PricingConfig struct {
	FreeShippingThreshold int64
	FlatShippingRate      int64
	Currency              string
	Locale                string
}

// CheckoutConfig bounds checkout retries after a concurrent cart change and sets the order
// number prefix.
type CheckoutConfig struct {
	MaxAttempts       int
	OrderNumberPrefix string
}

// RateLimitConfig sets per-caller budgets. DefaultPerWindow applies to every request,
// AuthPerWindow additionally to signed-in routes.
type RateLimitConfig struct {
	Window           time.Duration
	DefaultPerWindow int
	AuthPerWindow    int
}

type SecurityConfig struct {
	Environment string
	AdminRoles  []string
	OIDC        OIDCConfig
}

// OIDCConfig controls verification of the Google-signed tokens Cloud Scheduler sends to
// /internal. Audiences maps an environment name to its audience and is consulted when
// Audience is empty.
type OIDCConfig struct {
	JWKSURL         string
	Audience        string
	Audiences       map[string]string
	Issuers         []string
	ServiceAccounts []string
}

type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError lists every missing, malformed or out-of-range field.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid or missing fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: ".env", useSystemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile overrides the dotenv path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names config fields, such as "Firebase.CredentialsJSON", that must resolve
// to a non-empty secret.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// Load reads configuration. Precedence is explicit map, then process environment, then the
// dotenv file, then defaults.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	src, err := newSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", "8080"),
			ReadTimeout:  src.duration("API_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: src.duration("API_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  src.duration("API_SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxBodyBytes: src.integer64("API_SERVER_MAX_BODY_BYTES", 1<<20),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: src.str("API_FIREBASE_CREDENTIALS_FILE", ""),
			CredentialsJSON: src.str("API_FIREBASE_CREDENTIALS_JSON", ""),
			CheckRevoked:    src.boolean("API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			OrderArchiveBucket: src.str("API_STORAGE_ORDER_ARCHIVE_BUCKET", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        src.str("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: src.str("API_PUBSUB_ORDER_EVENTS_TOPIC", "order-events"),
			EmulatorHost:     src.str("API_PUBSUB_EMULATOR_HOST", ""),
		},
		Pricing: PricingConfig{
			FreeShippingThreshold: src.integer64("API_PRICING_FREE_SHIPPING_THRESHOLD", 50000),
			FlatShippingRate:      src.integer64("API_PRICING_FLAT_SHIPPING_RATE", 4000),
			Currency:              strings.ToUpper(src.str("API_PRICING_CURRENCY", "INR")),
			Locale:                src.str("API_PRICING_LOCALE", "en-IN"),
		},
		Checkout: CheckoutConfig{
			MaxAttempts:       src.integer("API_CHECKOUT_MAX_ATTEMPTS", 3),
			OrderNumberPrefix: src.str("API_CHECKOUT_ORDER_NUMBER_PREFIX", "KL"),
		},
		RateLimits: RateLimitConfig{
			Window:           src.duration("API_RATELIMIT_WINDOW", 15*time.Minute),
			DefaultPerWindow: src.integer("API_RATELIMIT_DEFAULT_PER_WINDOW", 100),
			AuthPerWindow:    src.integer("API_RATELIMIT_AUTH_PER_WINDOW", 30),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(src.str("API_SECURITY_ENVIRONMENT", "local")),
			AdminRoles:  src.list("API_SECURITY_ADMIN_ROLES", "admin"),
			OIDC: OIDCConfig{
				JWKSURL:         src.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:        src.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences:       src.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:         src.list("API_SECURITY_OIDC_ISSUERS", googleIssuer, iapIssuer),
				ServiceAccounts: src.list("API_SECURITY_OIDC_SERVICE_ACCOUNTS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("API_IDEMPOTENCY_HEADER", "Idempotency-Key"),
			TTL:              src.duration("API_IDEMPOTENCY_TTL", 24*time.Hour),
			CleanupInterval:  src.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour),
			CleanupBatchSize: src.integer("API_IDEMPOTENCY_CLEANUP_BATCH", 200),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := map[string]string{}
	if err := resolveSecretField(ctx, options.secret, "Firebase.CredentialsJSON", &cfg.Firebase.CredentialsJSON, resolved); err != nil {
		return Config{}, err
	}

	if invalid := append(src.malformed, validate(cfg)...); len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}
	if missing := missingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func validate(cfg Config) []string {
	checks := []struct {
		field string
		ok    bool
	}{
		{"Server.Port", cfg.Server.Port != ""},
		{"Server.MaxBodyBytes", cfg.Server.MaxBodyBytes > 0},
		{"Firebase.ProjectID", cfg.Firebase.ProjectID != ""},
		{"Firestore.ProjectID", cfg.Firestore.ProjectID != ""},
		{"Pricing.FreeShippingThreshold", cfg.Pricing.FreeShippingThreshold >= 0},
		{"Pricing.FlatShippingRate", cfg.Pricing.FlatShippingRate >= 0},
		{"Pricing.Currency", len(cfg.Pricing.Currency) == 3},
		{"Checkout.MaxAttempts", cfg.Checkout.MaxAttempts > 0},
		{"RateLimits.Window", cfg.RateLimits.Window > 0},
		{"RateLimits.DefaultPerWindow", cfg.RateLimits.DefaultPerWindow > 0},
		{"RateLimits.AuthPerWindow", cfg.RateLimits.AuthPerWindow > 0},
		{"Idempotency.Header", strings.TrimSpace(cfg.Idempotency.Header) != ""},
		{"Idempotency.TTL", cfg.Idempotency.TTL > 0},
		{"Idempotency.CleanupInterval", cfg.Idempotency.CleanupInterval > 0},
		{"Idempotency.CleanupBatchSize", cfg.Idempotency.CleanupBatchSize > 0},
	}
	var invalid []string
	for _, c := range checks {
		if !c.ok {
			invalid = append(invalid, c.field)
		}
	}
	return invalid
}
