package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/kartline/api/internal/domain"
)

func newProductFixture(t *testing.T) (ProductService, *stubProductRepository) {
	t.Helper()
	repo := &stubProductRepository{products: map[string]domain.Product{
		"prod_a": {ID: "prod_a", Name: "Steel Bottle", Price: 10000, Stock: 5},
	}}
	svc, err := NewProductService(ProductServiceDeps{
		Products: repo,
		Clock:    func() time.Time { return time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new product service: %v", err)
	}
	return svc, repo
}

func TestProductServiceGetProduct(t *testing.T) {
	svc, _ := newProductFixture(t)
	ctx := context.Background()

	product, err := svc.GetProduct(ctx, " prod_a ")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Name != "Steel Bottle" {
		t.Fatalf("unexpected product %+v", product)
	}
	if _, err := svc.GetProduct(ctx, "ghost"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.GetProduct(ctx, ""); !errors.Is(err, ErrProductInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestProductServiceUpdateStock(t *testing.T) {
	svc, repo := newProductFixture(t)
	ctx := context.Background()

	updated, err := svc.UpdateStock(ctx, UpdateStockCommand{ProductID: "prod_a", Stock: 12, Actor: adminActor})
	if err != nil {
		t.Fatalf("update stock: %v", err)
	}
	if updated.Stock != 12 || repo.stockSet["prod_a"] != 12 {
		t.Fatalf("expected stock 12, got %+v", updated)
	}

	cases := []struct {
		name string
		cmd  UpdateStockCommand
		want error
	}{
		{"non admin", UpdateStockCommand{ProductID: "prod_a", Stock: 1, Actor: Actor{UserID: "user_1"}}, ErrProductForbidden},
		{"negative", UpdateStockCommand{ProductID: "prod_a", Stock: -1, Actor: adminActor}, ErrProductInvalidInput},
		{"missing id", UpdateStockCommand{Stock: 1, Actor: adminActor}, ErrProductInvalidInput},
		{"unknown product", UpdateStockCommand{ProductID: "ghost", Stock: 1, Actor: adminActor}, ErrProductNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.UpdateStock(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestProductServiceImportCatalog(t *testing.T) {
	svc, repo := newProductFixture(t)
	ctx := context.Background()

	count, err := svc.ImportCatalog(ctx, []Product{
		{ID: "prod_b", Name: " Tote Bag ", Price: 2500, Stock: 10},
		{ID: "prod_c", Name: "Desk Lamp", Price: 89900, Stock: 2},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 imported, got %d", count)
	}
	if got := repo.products["prod_b"]; got.Name != "Tote Bag" || got.CreatedAt.IsZero() {
		t.Fatalf("expected trimmed and stamped product, got %+v", got)
	}

	_, err = svc.ImportCatalog(ctx, []Product{
		{ID: "prod_d", Name: "Mug", Price: 500, Stock: 1},
		{ID: "prod_d", Name: "Mug again", Price: 500, Stock: 1},
	})
	if !errors.Is(err, ErrProductInvalidInput) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, ok := repo.products["prod_d"]; ok {
		t.Fatalf("expected nothing written for rejected catalog")
	}

	if _, err := svc.ImportCatalog(ctx, []Product{{ID: "prod_e", Name: "Pen", Price: -1}}); !errors.Is(err, ErrProductInvalidInput) {
		t.Fatalf("expected negative price rejection, got %v", err)
	}
}
