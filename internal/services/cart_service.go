package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/kartline/api/internal/domain"
	"github.com/kartline/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
)

const defaultCartAttempts = 3

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the product or cart line does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to stock limits or concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// CartServiceDeps wires the repositories consulted by cart operations.
type CartServiceDeps struct {
	Repository  repositories.CartRepository
	Products    repositories.ProductRepository
	MaxAttempts int
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
}

type cartService struct {
	repo        repositories.CartRepository
	products    repositories.ProductRepository
	maxAttempts int
	now         func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// cartMutation edits a copy of the cart lines. It runs again on every retry.
type cartMutation func(ctx context.Context, items []domain.CartItem) ([]domain.CartItem, error)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultCartAttempts
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		repo:        deps.Repository,
		products:    deps.Products,
		maxAttempts: attempts,
		now:         func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

// GetCart returns the user's cart, or an empty cart at version 0 when none exists.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return normaliseCart(cart, uid), nil
}

// AddItem merges quantity into the product's line, creating the line and the cart when absent.
func (s *cartService) AddItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	uid, productID, err := validateCartItemCommand(cmd.UserID, cmd.ProductID)
	if err != nil {
		return Cart{}, err
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	return s.mutate(ctx, uid, "cart.item.added", func(ctx context.Context, items []domain.CartItem) ([]domain.CartItem, error) {
		product, err := s.loadProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		idx := indexOfCartItem(items, productID)
		merged := cmd.Quantity
		if idx >= 0 {
			merged += items[idx].Quantity
		}
		if err := checkCartStock(product, merged); err != nil {
			return nil, err
		}
		if idx >= 0 {
			items[idx].Quantity = merged
			items[idx].Price = product.Price
			return items, nil
		}
		return append(items, domain.CartItem{ProductID: product.ID, Quantity: merged, Price: product.Price}), nil
	})
}

// UpdateItem sets the quantity of an existing line.
func (s *cartService) UpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	uid, productID, err := validateCartItemCommand(cmd.UserID, cmd.ProductID)
	if err != nil {
		return Cart{}, err
	}
	if cmd.Quantity < 1 {
		return Cart{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	return s.mutate(ctx, uid, "cart.item.updated", func(ctx context.Context, items []domain.CartItem) ([]domain.CartItem, error) {
		idx := indexOfCartItem(items, productID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: product %s is not in the cart", ErrCartNotFound, productID)
		}
		product, err := s.loadProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		if err := checkCartStock(product, cmd.Quantity); err != nil {
			return nil, err
		}
		items[idx].Quantity = cmd.Quantity
		items[idx].Price = product.Price
		return items, nil
	})
}

// RemoveItem drops the product's line. Removing an absent line is a no-op.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	uid, productID, err := validateCartItemCommand(cmd.UserID, cmd.ProductID)
	if err != nil {
		return Cart{}, err
	}

	return s.mutate(ctx, uid, "cart.item.removed", func(_ context.Context, items []domain.CartItem) ([]domain.CartItem, error) {
		idx := indexOfCartItem(items, productID)
		if idx < 0 {
			return items, nil
		}
		return append(items[:idx], items[idx+1:]...), nil
	})
}

// ClearCart empties the cart and bumps its version.
func (s *cartService) ClearCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	return s.mutate(ctx, uid, "cart.cleared", func(context.Context, []domain.CartItem) ([]domain.CartItem, error) {
		return []domain.CartItem{}, nil
	})
}

// mutate reads the cart, applies fn and saves against the version it read, retrying on a stale version.
func (s *cartService) mutate(ctx context.Context, uid, event string, fn cartMutation) (Cart, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.repo.GetCart(ctx, uid)
		if err != nil {
			return Cart{}, s.translateRepoError(err)
		}

		items, err := fn(ctx, cloneCartItems(current.Items))
		if err != nil {
			return Cart{}, err
		}

		saved, err := s.repo.SaveItems(ctx, uid, items, current.Version, s.now())
		if err == nil {
			s.logger(ctx, event, map[string]any{
				"userId":  uid,
				"version": saved.Version,
				"lines":   len(saved.Items),
			})
			return normaliseCart(saved, uid), nil
		}
		if _, stale := repositories.AsCheckoutError(err, repositories.CheckoutErrorCartVersionMismatch); !stale {
			return Cart{}, s.translateRepoError(err)
		}
		s.logger(ctx, "cart.save.retry", map[string]any{
			"userId":  uid,
			"attempt": attempt,
		})
	}
	return Cart{}, fmt.Errorf("%w: cart changed concurrently, please retry", ErrCartConflict)
}

func (s *cartService) loadProduct(ctx context.Context, productID string) (domain.Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Product{}, fmt.Errorf("%w: product %s not found", ErrCartNotFound, productID)
		}
		return domain.Product{}, s.translateRepoError(err)
	}
	return product, nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrCartUnavailable, err)
		}
	}
	return err
}

func checkCartStock(product domain.Product, quantity int) error {
	if quantity > product.Stock {
		return fmt.Errorf("%w: insufficient stock for %s: available %d, requested %d", ErrCartConflict, product.Name, product.Stock, quantity)
	}
	return nil
}

func validateCartItemCommand(userID, productID string) (string, string, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return "", "", fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return "", "", fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	return uid, pid, nil
}

func normaliseCart(cart domain.Cart, userID string) domain.Cart {
	if cart.ID == "" {
		cart.ID = userID
	}
	if cart.UserID == "" {
		cart.UserID = userID
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return cart
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func cloneCartItems(items []domain.CartItem) []domain.CartItem {
	if len(items) == 0 {
		return []domain.CartItem{}
	}
	out := make([]domain.CartItem, len(items))
	copy(out, items)
	return out
}

func indexOfCartItem(items []domain.CartItem, productID string) int {
	for i, item := range items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}
