package services

import (
	"context"
	"time"

	domain "github.com/kartline/api/internal/domain"
	"github.com/kartline/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Product             = domain.Product
	Cart                = domain.Cart
	CartItem            = domain.CartItem
	Order               = domain.Order
	OrderLine           = domain.OrderLine
	OrderStatus         = domain.OrderStatus
	OrderStatusProgress = domain.OrderStatusProgress
	ShippingAddress     = domain.ShippingAddress
	PaymentMethod       = domain.PaymentMethod
	PaymentStatus       = domain.PaymentStatus
)

// OrderService turns carts into orders and drives the order status lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListMyOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.NumberedPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	GetStatusProgress(ctx context.Context, cmd GetOrderCommand) (OrderStatusProgress, error)
}

// CartService manages the per-user cart that feeds checkout.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) (Cart, error)
}

// ProductService exposes the catalog reads and stock administration used around checkout.
type ProductService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	UpdateStock(ctx context.Context, cmd UpdateStockCommand) (Product, error)
	ImportCatalog(ctx context.Context, products []Product) (int, error)
}

// OrderNumberService describes the yearly sequence and format of the number printed on invoices.
type OrderNumberService interface {
	Numbering(now time.Time) repositories.OrderNumbering
}

// SystemService runs the dependency probes behind /readyz.
type SystemService interface {
	Readiness(ctx context.Context) (ReadinessReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderArchiver stores an immutable copy of a committed order outside the primary store.
type OrderArchiver interface {
	ArchiveOrder(ctx context.Context, order Order) error
}

// OrderMetrics records order lifecycle counters.
type OrderMetrics interface {
	OrderCreated(ctx context.Context, method PaymentMethod, total int64)
	StatusChanged(ctx context.Context, from, to OrderStatus)
	CheckoutConflict(ctx context.Context, reason string)
}

// Actor identifies the authenticated caller of an operation.
type Actor struct {
	UserID  string
	IsAdmin bool
}

// Command and DTO definitions ------------------------------------------------

// CreateOrderCommand carries checkout input. PaymentMethod may be empty, which selects COD.
type CreateOrderCommand struct {
	UserID          string
	ShippingAddress ShippingAddress
	PaymentMethod   string
}

type GetOrderCommand struct {
	OrderID string
	Actor   Actor
}

// ListOrdersCommand pages through every order for administrators. Status is optional.
type ListOrdersCommand struct {
	Actor  Actor
	Status string
	Page   int
	Limit  int
}

// OrderStatusTransitionCommand requests an admin status change. PaymentStatus is optional.
type OrderStatusTransitionCommand struct {
	OrderID       string
	TargetStatus  string
	PaymentStatus string
	Reason        string
	Actor         Actor
}

type UpsertCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

type RemoveCartItemCommand struct {
	UserID    string
	ProductID string
}

type UpdateStockCommand struct {
	ProductID string
	Stock     int
	Actor     Actor
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	PaymentStatus  string
	TotalPrice     int64
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}
