// Package secrets resolves secret:// configuration references against Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "github.com/kartline/api/internal/platform/secrets"

	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceFallback = "fallback"
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (accessor, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves references such as secret://firebase-credentials?version=3. Values are cached
// for a TTL. When Secret Manager is unreachable or denies access the fetcher reads a local dotenv
// file whose keys are secret names with dashes replaced by underscores.
type Fetcher struct {
	client     accessor
	ownsClient bool
	logger     *zap.Logger
	clock      func() time.Time

	project  string
	pins     map[string]string
	cacheTTL time.Duration

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cachedSecret

	resolutions metric.Int64Counter
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type fetcherConfig struct {
	logger       *zap.Logger
	clock        func() time.Time
	project      string
	pins         map[string]string
	cacheTTL     time.Duration
	fallbackPath string
	meter        metric.Meter
	client       accessor
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithProject sets the project used for references that do not name one.
func WithProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.project = strings.TrimSpace(projectID)
	}
}

// WithVersionPins pins secret names to explicit versions instead of "latest".
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) {
		cfg.pins = make(map[string]string, len(pins))
		for name, version := range pins {
			cfg.pins[name] = version
		}
	}
}

// WithFallbackFile overrides the local fallback file path. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithCacheTTL controls how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if ttl > 0 {
			cfg.cacheTTL = ttl
		}
	}
}

// WithClock overrides the time source used for cache expiry.
func WithClock(clock func() time.Time) Option {
	return func(cfg *fetcherConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithMeter injects the meter used for the resolution counter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) {
		cfg.meter = m
	}
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

func withClient(client accessor) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is logged and the
// fetcher runs on the fallback file alone.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		clock:        time.Now,
		cacheTTL:     defaultCacheTTL,
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}

	resolutions, err := cfg.meter.Int64Counter(
		"secrets.resolutions",
		metric.WithDescription("Secret resolutions by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register metric: %w", err)
	}

	f := &Fetcher{
		client:       cfg.client,
		logger:       cfg.logger,
		clock:        cfg.clock,
		project:      cfg.project,
		pins:         cfg.pins,
		cacheTTL:     cfg.cacheTTL,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cachedSecret),
		resolutions:  resolutions,
	}
	if f.client == nil && f.project != "" {
		client, err := newSecretManagerClient(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager unavailable; using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// Resolve returns the value behind ref. It satisfies config.SecretResolverFunc.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	if parsed.version == "" {
		parsed.version = f.pinnedVersion(parsed.name)
	}
	if parsed.project == "" {
		parsed.project = f.project
	}

	key := parsed.resourceName()
	now := f.clock()
	if value, ok := f.cached(key, now); ok {
		f.record(ctx, sourceCache)
		return value, nil
	}

	if f.client != nil && parsed.project != "" {
		value, err := f.access(ctx, key)
		if err == nil {
			f.store(key, value, now)
			f.record(ctx, sourceRemote)
			return value, nil
		}
		if !fallbackEligible(err) {
			return "", fmt.Errorf("secrets: access %s: %w", parsed.name, err)
		}
		f.logger.Warn("secrets: secret manager refused access; trying fallback file",
			zap.String("secret", parsed.name), zap.Error(err))
	}

	value, ok := f.lookupFallback(parsed.name)
	if !ok {
		return "", fmt.Errorf("secrets: %s not found", parsed.name)
	}
	f.store(key, value, now)
	f.record(ctx, sourceFallback)
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, name string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx,
		&secretmanagerpb.AccessSecretVersionRequest{Name: name},
		gax.WithRetry(func() gax.Retryer {
			return gax.OnCodes([]codes.Code{codes.Unavailable, codes.ResourceExhausted}, gax.Backoff{
				Initial:    100 * time.Millisecond,
				Max:        2 * time.Second,
				Multiplier: 2,
			})
		}),
	)
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) pinnedVersion(name string) string {
	if version := strings.TrimSpace(f.pins[name]); version != "" {
		return version
	}
	return "latest"
}

func (f *Fetcher) cached(key string, now time.Time) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	if !ok || !now.Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) store(key, value string, now time.Time) {
	f.mu.Lock()
	f.cache[key] = cachedSecret{value: value, expiresAt: now.Add(f.cacheTTL)}
	f.mu.Unlock()
}

func (f *Fetcher) lookupFallback(name string) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("secrets: unreadable fallback file", zap.String("path", f.fallbackPath), zap.Error(err))
			}
			return
		}
		f.fallback = values
	})
	value, ok := f.fallback[fallbackKey(name)]
	return value, ok
}

func (f *Fetcher) record(ctx context.Context, source string) {
	f.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// ParseVersionPins reads "name=version" pairs separated by commas. Malformed pairs are skipped.
func ParseVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		name, version, ok := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(name, "secret://"), "sm://"))
		version = strings.TrimSpace(version)
		if !ok || name == "" || version == "" {
			continue
		}
		pins[name] = version
	}
	return pins
}

type reference struct {
	name    string
	version string
	project string
}

func (r reference) resourceName() string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", r.project, r.name, r.version)
}

func parseReference(ref string) (reference, error) {
	trimmed := strings.TrimSpace(ref)
	if strings.HasPrefix(trimmed, "sm://") {
		trimmed = "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" || strings.Contains(name, "/") {
		return reference{}, fmt.Errorf("secrets: invalid secret name %q", name)
	}
	query := u.Query()
	return reference{
		name:    name,
		version: strings.TrimSpace(query.Get("version")),
		project: strings.TrimSpace(query.Get("project")),
	}, nil
}

func fallbackKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
