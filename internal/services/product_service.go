package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kartline/api/internal/repositories"
)

var (
	// ErrProductInvalidInput signals the caller provided invalid arguments.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound indicates the product could not be located.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductForbidden indicates the caller may not administer products.
	ErrProductForbidden = errors.New("product: forbidden")
	// ErrProductUnavailable indicates the catalog store could not be reached.
	ErrProductUnavailable = errors.New("product: unavailable")
)

// ProductServiceDeps bundles the collaborators required to construct a product service.
type ProductServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type productService struct {
	repo   repositories.ProductRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewProductService wires dependencies into a concrete ProductService implementation.
func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	if deps.Products == nil {
		return nil, errors.New("product service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &productService{
		repo: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *productService) GetProduct(ctx context.Context, productID string) (Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

// UpdateStock overwrites the product's stock level. Only administrators may call it.
func (s *productService) UpdateStock(ctx context.Context, cmd UpdateStockCommand) (Product, error) {
	if !cmd.Actor.IsAdmin {
		return Product{}, fmt.Errorf("%w: admin role required", ErrProductForbidden)
	}
	id := strings.TrimSpace(cmd.ProductID)
	if id == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	if cmd.Stock < 0 {
		return Product{}, fmt.Errorf("%w: stock must be a non-negative integer", ErrProductInvalidInput)
	}

	updated, err := s.repo.SetStock(ctx, id, cmd.Stock, s.clock())
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "product.stock.updated", map[string]any{
		"product": id,
		"stock":   cmd.Stock,
		"actor":   strings.TrimSpace(cmd.Actor.UserID),
	})
	return updated, nil
}

// ImportCatalog validates every product before writing any of them, then upserts them in order.
func (s *productService) ImportCatalog(ctx context.Context, products []Product) (int, error) {
	if len(products) == 0 {
		return 0, fmt.Errorf("%w: catalog is empty", ErrProductInvalidInput)
	}

	seen := make(map[string]struct{}, len(products))
	cleaned := make([]Product, 0, len(products))
	for i, product := range products {
		product.ID = strings.TrimSpace(product.ID)
		product.Name = strings.TrimSpace(product.Name)
		product.Category = strings.TrimSpace(product.Category)
		switch {
		case product.ID == "":
			return 0, fmt.Errorf("%w: product %d: id is required", ErrProductInvalidInput, i)
		case product.Name == "":
			return 0, fmt.Errorf("%w: product %s: name is required", ErrProductInvalidInput, product.ID)
		case product.Price < 0:
			return 0, fmt.Errorf("%w: product %s: price must be >= 0", ErrProductInvalidInput, product.ID)
		case product.Stock < 0:
			return 0, fmt.Errorf("%w: product %s: stock must be >= 0", ErrProductInvalidInput, product.ID)
		}
		if _, dup := seen[product.ID]; dup {
			return 0, fmt.Errorf("%w: product %s listed twice", ErrProductInvalidInput, product.ID)
		}
		seen[product.ID] = struct{}{}
		cleaned = append(cleaned, product)
	}

	now := s.clock()
	imported := 0
	for _, product := range cleaned {
		if product.CreatedAt.IsZero() {
			product.CreatedAt = now
		}
		product.UpdatedAt = now
		if _, err := s.repo.Upsert(ctx, product); err != nil {
			return imported, fmt.Errorf("import %s: %w", product.ID, s.mapRepositoryError(err))
		}
		imported++
	}

	s.logger(ctx, "product.catalog.imported", map[string]any{"count": imported})
	return imported, nil
}

func (s *productService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrProductInvalidInput, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrProductUnavailable, err)
		}
	}
	return err
}

var _ ProductService = (*productService)(nil)
