package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/kartline/api/internal/handlers"
	"github.com/kartline/api/internal/platform/auth"
	"github.com/kartline/api/internal/platform/config"
	pfirestore "github.com/kartline/api/internal/platform/firestore"
	"github.com/kartline/api/internal/platform/idempotency"
	"github.com/kartline/api/internal/platform/jobs"
	"github.com/kartline/api/internal/platform/observability"
	"github.com/kartline/api/internal/platform/secrets"
	platformstorage "github.com/kartline/api/internal/platform/storage"
	firestoreRepo "github.com/kartline/api/internal/repositories/firestore"
	"github.com/kartline/api/internal/services"
)

const meterName = "github.com/kartline/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	clientOpts := googleClientOptions(cfg)

	var firestoreOpts []pfirestore.ProviderOption
	if strings.TrimSpace(cfg.Firestore.EmulatorHost) == "" {
		firestoreOpts = append(firestoreOpts, pfirestore.WithClientOptions(clientOpts...))
	}
	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, firestoreOpts...)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	pubsubOpts := clientOpts
	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
		_ = os.Setenv("PUBSUB_EMULATOR_HOST", host)
		pubsubOpts = nil
	}
	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, pubsubOpts...)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	orderTopic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
	defer orderTopic.Stop()
	eventPublisher, err := jobs.NewPubSubOrderEventPublisher(orderTopic)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	var (
		storageClient *cloudstorage.Client
		archiver      services.OrderArchiver
	)
	if bucket := strings.TrimSpace(cfg.Storage.OrderArchiveBucket); bucket != "" {
		storageClient, err = cloudstorage.NewClient(ctx, clientOpts...)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		orderArchiver, err := platformstorage.NewOrderArchiver(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise order archiver", zap.Error(err))
		}
		archiver = orderArchiver
	} else {
		logger.Info("order archive bucket not configured; snapshots disabled")
	}

	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		Probes: readinessProbes(firestoreProvider, eventPublisher, storageClient, cfg.Storage.OrderArchiveBucket),
		Build:  buildInfo,
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise readiness probes", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		idempotency.RunJanitor(janitorCtx, idempotencyStore, cfg.Idempotency.CleanupInterval,
			cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithAuthLogger(logger.Named("auth")))

	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	cartRepo, err := firestoreRepo.NewCartRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}

	money, err := services.NewMoneyFormatter(cfg.Pricing.Currency, cfg.Pricing.Locale)
	if err != nil {
		logger.Fatal("failed to initialise money formatter", zap.Error(err))
	}
	shipping := services.ShippingPolicy{
		FreeThreshold: cfg.Pricing.FreeShippingThreshold,
		FlatRate:      cfg.Pricing.FlatShippingRate,
	}
	orderMetrics := observability.NewOrderMetrics(otel.GetMeterProvider().Meter(meterName), logger.Named("metrics"))

	orderNumbers, err := services.NewOrderNumberService(services.OrderNumberServiceDeps{
		Prefix: cfg.Checkout.OrderNumberPrefix,
	})
	if err != nil {
		logger.Fatal("failed to initialise order number service", zap.Error(err))
	}

	productService, err := services.NewProductService(services.ProductServiceDeps{
		Products: productRepo,
		Clock:    time.Now,
		Logger:   observability.EventLogger(logger.Named("product"), "product log"),
	})
	if err != nil {
		logger.Fatal("failed to initialise product service", zap.Error(err))
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Repository:  cartRepo,
		Products:    productRepo,
		MaxAttempts: cfg.Checkout.MaxAttempts,
		Clock:       time.Now,
		Logger:      observability.EventLogger(logger.Named("cart"), "cart log"),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      orderRepo,
		Carts:       cartRepo,
		Products:    productRepo,
		Numbers:     orderNumbers,
		Events:      eventPublisher,
		Archiver:    archiver,
		Metrics:     orderMetrics,
		Shipping:    shipping,
		MaxAttempts: cfg.Checkout.MaxAttempts,
		Clock:       time.Now,
		Logger:      observability.EventLogger(logger.Named("order"), "order log"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	handlerOpts := []handlers.HandlerOption{
		handlers.WithAdminRoles(cfg.Security.AdminRoles...),
		handlers.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		handlers.WithMoneyFormatter(money),
	}
	orderHandlers := handlers.NewOrderHandlers(orderService, handlerOpts...)
	cartHandlers := handlers.NewCartHandlers(cartService, handlerOpts...)
	adminHandlers := handlers.NewAdminHandlers(orderService, productService, handlerOpts...)
	maintenanceHandlers := handlers.NewMaintenanceHandlers(idempotencyStore, time.Now)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware(otel.GetTracerProvider(), projectID),
		observability.RequestLogger(logger.Named("http")),
		observability.Recoverer(logger.Named("http")),
		handlers.RateLimit(cfg.RateLimits.DefaultPerWindow, cfg.RateLimits.Window, time.Now),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAuthMiddleware(authenticator.RequireFirebaseAuth()),
		handlers.WithProtectedMiddlewares(
			handlers.RateLimit(cfg.RateLimits.AuthPerWindow, cfg.RateLimits.Window, time.Now),
			idempotencyMiddleware,
		),
		handlers.WithAdminMiddlewares(auth.RequireRole(cfg.Security.AdminRoles...)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts,
			handlers.WithInternalMiddlewares(oidcMiddleware),
			handlers.WithInternalRoutes(maintenanceHandlers.Routes),
		)
	} else {
		logger.Warn("auth: OIDC JWKS not configured; internal maintenance routes disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("kartline api listening",
			zap.String("version", buildInfo.Version),
			zap.String("environment", buildInfo.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopJanitor()
	<-janitorDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func googleClientOptions(cfg config.Config) []option.ClientOption {
	switch {
	case strings.TrimSpace(cfg.Firebase.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.Firebase.CredentialsJSON))}
	case strings.TrimSpace(cfg.Firebase.CredentialsFile) != "":
		return []option.ClientOption{option.WithCredentialsFile(cfg.Firebase.CredentialsFile)}
	default:
		return nil
	}
}

// readinessProbes lists the /readyz checks. Only Firestore is critical: checkout commits without
// Pub/Sub or the archive bucket.
func readinessProbes(store *pfirestore.Provider, events *jobs.PubSubOrderEventPublisher, storageClient *cloudstorage.Client, bucket string) []services.Probe {
	probes := []services.Probe{
		{Name: "firestore", Critical: true, Check: store.Ping},
		{Name: "pubsub", Timeout: time.Second, Check: events.Check},
	}
	if storageClient != nil && strings.TrimSpace(bucket) != "" {
		probes = append(probes, services.Probe{
			Name:    "storage",
			Timeout: time.Second,
			Check:   platformstorage.BucketCheck(storageClient, bucket),
		})
	}
	return probes
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" {
		return nil
	}
	if strings.TrimSpace(oidc.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	if len(oidc.ServiceAccounts) == 0 {
		logger.Warn("auth: no scheduler service accounts configured; any verified Google identity is accepted")
	}

	keys := auth.NewJWKSCache(oidc.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(keys, auth.WithOIDCLogger(logger))
	return validator.RequireServiceToken(auth.ServiceTokenPolicy{
		Audience:        oidc.Audience,
		Issuers:         oidc.Issuers,
		ServiceAccounts: oidc.ServiceAccounts,
	})
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	project := strings.TrimSpace(env["API_SECRET_PROJECT_ID"])
	if project == "" {
		project = strings.TrimSpace(env["API_FIREBASE_PROJECT_ID"])
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
		secrets.WithVersionPins(secrets.ParseVersionPins(env["API_SECRET_VERSION_PINS"])),
	}
	if path := strings.TrimSpace(env["API_SECRET_FALLBACK_FILE"]); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if file := strings.TrimSpace(env["API_FIREBASE_CREDENTIALS_FILE"]); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve before startup. Service account JSON
// is only required when it is configured as a secret reference.
func requiredSecretNames(env map[string]string) []string {
	raw := strings.TrimSpace(env["API_FIREBASE_CREDENTIALS_JSON"])
	if strings.HasPrefix(raw, "secret://") || strings.HasPrefix(raw, "sm://") {
		return []string{"Firebase.CredentialsJSON"}
	}
	return nil
}
