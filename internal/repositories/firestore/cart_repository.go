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

const (
	cartCollection = "carts"
)

// CartRepository persists one cart document per user, keyed by user ID.
type CartRepository struct {
	base     *pfirestore.Collection[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository stores carts in the "carts" collection.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("carts: firestore provider is nil")
	}
	return &CartRepository{
		base:     pfirestore.NewCollection[cartDocument](provider, cartCollection),
		provider: provider,
	}, nil
}

var errCartRepositoryUnset = errors.New("carts: repository not initialised")

// cartKey validates the receiver and returns the document id for userID.
func (r *CartRepository) cartKey(userID string) (string, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return "", errCartRepositoryUnset
	}
	key := strings.TrimSpace(userID)
	if key == "" {
		return "", errors.New("carts: user id is empty")
	}
	return key, nil
}

// GetCart loads the cart for the given user. A user without a cart document gets an empty cart at version 0.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	uid, err := r.cartKey(userID)
	if err != nil {
		return domain.Cart{}, err
	}
	stored, err := r.base.Get(ctx, uid)
	var classified repositories.RepositoryError
	switch {
	case err == nil:
		return stored.Data.toDomain(uid), nil
	case errors.As(err, &classified) && classified.IsNotFound():
		return emptyCart(uid), nil
	default:
		return domain.Cart{}, err
	}
}

// SaveItems replaces the cart lines inside a transaction guarded by expectedVersion.
func (r *CartRepository) SaveItems(ctx context.Context, userID string, items []domain.CartItem, expectedVersion int64, now time.Time) (domain.Cart, error) {
	uid, err := r.cartKey(userID)
	if err != nil {
		return domain.Cart{}, err
	}
	now = now.UTC()

	var result domain.Cart
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.Doc(ctx, uid)
		if err != nil {
			return err
		}
		current, exists, err := readCart(tx, ref)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return repositories.NewCheckoutError(
				repositories.CheckoutErrorCartVersionMismatch,
				fmt.Sprintf("cart %s is at version %d, expected %d", uid, current.Version, expectedVersion),
				nil,
			)
		}

		doc := cartDocument{
			Items:     newCartItemDocuments(items),
			Version:   current.Version + 1,
			CreatedAt: current.CreatedAt,
			UpdatedAt: now,
		}
		if !exists || doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = doc.toDomain(uid)
		return nil
	})
	if err != nil {
		return domain.Cart{}, wrapCheckoutError("carts.saveItems", err)
	}
	return result, nil
}

// readCart loads the cart document inside a transaction. A missing document yields version 0.
func readCart(tx *firestore.Transaction, ref *firestore.DocumentRef) (cartDocument, bool, error) {
	snap, err := tx.Get(ref)
	switch status.Code(err) {
	case codes.OK:
	case codes.NotFound:
		return cartDocument{}, false, nil
	default:
		return cartDocument{}, false, err
	}
	var doc cartDocument
	if err := snap.DataTo(&doc); err != nil {
		return cartDocument{}, false, fmt.Errorf("decode cart %s: %w", ref.ID, err)
	}
	return doc, true, nil
}

func emptyCart(userID string) domain.Cart {
	return domain.Cart{
		ID:     userID,
		UserID: userID,
		Items:  []domain.CartItem{},
	}
}

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	Version   int64              `firestore:"version"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
	Price     int64  `firestore:"price"`
}

func newCartItemDocuments(items []domain.CartItem) []cartItemDocument {
	lines := make([]cartItemDocument, len(items))
	for i, line := range items {
		lines[i] = cartItemDocument{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity, Price: line.Price}
	}
	return lines
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	cart := emptyCart(userID)
	for _, line := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity, Price: line.Price})
	}
	cart.Version = d.Version
	cart.CreatedAt, cart.UpdatedAt = d.CreatedAt, d.UpdatedAt
	return cart
}

func wrapCheckoutError(op string, err error) error {
	if err == nil {
		return nil
	}
	var checkoutErr *repositories.CheckoutError
	if errors.As(err, &checkoutErr) {
		if checkoutErr.Op == "" {
			checkoutErr.Op = op
		}
		return checkoutErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.CartRepository = (*CartRepository)(nil)
