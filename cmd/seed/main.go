// Command seed loads a YAML product catalog into Firestore for local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kartline/api/internal/platform/config"
	pfirestore "github.com/kartline/api/internal/platform/firestore"
	"github.com/kartline/api/internal/platform/observability"
	firestoreRepo "github.com/kartline/api/internal/repositories/firestore"
	"github.com/kartline/api/internal/services"
)

func main() {
	catalogPath := flag.String("catalog", "cmd/seed/testdata/catalog.yaml", "path to the YAML catalog")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall import timeout")
	flag.Parse()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("seed")

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	products, err := loadCatalogFile(*catalogPath)
	if err != nil {
		logger.Fatal("failed to load catalog", zap.String("path", *catalogPath), zap.Error(err))
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	repo, err := firestoreRepo.NewProductRepository(provider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	productService, err := services.NewProductService(services.ProductServiceDeps{
		Products: repo,
		Clock:    time.Now,
		Logger:   observability.EventLogger(logger, "seed log"),
	})
	if err != nil {
		logger.Fatal("failed to initialise product service", zap.Error(err))
	}

	imported, err := productService.ImportCatalog(ctx, products)
	if err != nil {
		logger.Fatal("catalog import failed", zap.Int("imported", imported), zap.Error(err))
	}
	logger.Info("catalog imported", zap.Int("products", imported), zap.String("path", *catalogPath))
}
