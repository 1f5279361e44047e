package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/kartline/api/internal/domain"
	pfirestore "github.com/kartline/api/internal/platform/firestore"
	"github.com/kartline/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads catalog documents and maintains their stock counters.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewCollection[productDocument](provider, productsCollection)
	return &ProductRepository{provider: provider, base: base}, nil
}

// FindByID loads a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindMany loads the requested products in one round trip. Missing products are omitted.
func (r *ProductRepository) FindMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(productIDs))
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, client.Collection(productsCollection).Doc(id))
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.getAll", err)
	}
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		doc, err := decodeProduct(snap)
		if err != nil {
			return nil, err
		}
		result[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return result, nil
}

// SetStock overwrites the stock counter of an existing product.
func (r *ProductRepository) SetStock(ctx context.Context, productID string, stock int, now time.Time) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	if stock < 0 {
		return domain.Product{}, fmt.Errorf("product repository: stock must be >= 0, got %d", stock)
	}

	var updated domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.Doc(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := decodeProduct(snap)
		if err != nil {
			return err
		}
		doc.Stock = stock
		doc.UpdatedAt = now.UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: doc.Stock},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}); err != nil {
			return err
		}
		updated = doc.toDomain(productID)
		return nil
	})
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.setStock", err)
	}
	return updated, nil
}

// Upsert writes the full product document, preserving the original creation time.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	if product.Stock < 0 {
		return domain.Product{}, fmt.Errorf("product repository: stock must be >= 0, got %d", product.Stock)
	}
	if product.Price < 0 {
		return domain.Product{}, fmt.Errorf("product repository: price must be >= 0, got %d", product.Price)
	}

	now := product.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var saved domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.Doc(ctx, productID)
		if err != nil {
			return err
		}
		createdAt := product.CreatedAt.UTC()
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			existing, decodeErr := decodeProduct(snap)
			if decodeErr != nil {
				return decodeErr
			}
			if !existing.CreatedAt.IsZero() {
				createdAt = existing.CreatedAt
			}
		case codes.NotFound:
		default:
			return err
		}
		if createdAt.IsZero() {
			createdAt = now
		}

		doc := newProductDocument(product)
		doc.CreatedAt = createdAt
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain(productID)
		return nil
	})
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.upsert", err)
	}
	return saved, nil
}

type productDocument struct {
	Name        string    `firestore:"name"`
	Description string    `firestore:"description,omitempty"`
	Category    string    `firestore:"category,omitempty"`
	Price       int64     `firestore:"price"`
	Stock       int       `firestore:"stock"`
	Image       string    `firestore:"image,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func newProductDocument(product domain.Product) productDocument {
	return productDocument{
		Name:        strings.TrimSpace(product.Name),
		Description: strings.TrimSpace(product.Description),
		Category:    strings.TrimSpace(product.Category),
		Price:       product.Price,
		Stock:       product.Stock,
		Image:       strings.TrimSpace(product.Image),
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		Name:        strings.TrimSpace(d.Name),
		Description: strings.TrimSpace(d.Description),
		Category:    strings.TrimSpace(d.Category),
		Price:       d.Price,
		Stock:       d.Stock,
		Image:       strings.TrimSpace(d.Image),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func decodeProduct(snap *firestore.DocumentSnapshot) (productDocument, error) {
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return productDocument{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
	}
	return doc, nil
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
