package repositories

import (
	"context"
	"time"

	domain "github.com/kartline/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository reads catalog records and maintains their stock counters.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// FindMany returns the products that exist; missing IDs are absent from the map.
	FindMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	SetStock(ctx context.Context, productID string, stock int, now time.Time) (domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
}

// CartRepository owns the per-user cart document. Writes are guarded by the cart version.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	// SaveItems replaces the cart lines when the stored version equals expectedVersion
	// (0 for a cart that does not exist yet) and returns the cart with its bumped version.
	SaveItems(ctx context.Context, userID string, items []domain.CartItem, expectedVersion int64, now time.Time) (domain.Cart, error)
}

// OrderRepository persists order snapshots. Placement and transitions are transactional.
type OrderRepository interface {
	PlaceOrder(ctx context.Context, placement OrderPlacement) (domain.Order, error)
	ApplyTransition(ctx context.Context, transition OrderTransition) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	List(ctx context.Context, filter OrderListFilter) (domain.NumberedPage[domain.Order], error)
}

// OrderPlacement is the validated checkout the repository commits in one transaction:
// it creates the order, decrements stock for every line and empties the cart.
// When Numbering is set the order number is drawn from its sequence in the same transaction, so
// an aborted checkout never consumes a number.
type OrderPlacement struct {
	Order               domain.Order
	ExpectedCartVersion int64
	Now                 time.Time
	Numbering           *OrderNumbering
}

// OrderNumbering names the sequence (first value 1) an order number comes from and renders a value.
type OrderNumbering struct {
	Sequence string
	Format   func(value int64) string
}

// OrderTransition applies Mutate to the stored order inside a transaction.
// When the mutated status is Cancelled the repository restores stock for every line.
type OrderTransition struct {
	OrderID string
	Mutate  func(current domain.Order) (domain.Order, error)
	Now     time.Time
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status *domain.OrderStatus
	Page   int
	Limit  int
}
