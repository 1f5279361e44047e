package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// NumberedPage packages list results for page/limit style listings used by admin surfaces.
type NumberedPage[T any] struct {
	Items      []T
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// Product is the catalog record consulted during cart and checkout flows.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    string
	Price       int64
	Stock       int
	Image       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CartItem is a single cart line. Price is a snapshot taken when the line was last touched.
type CartItem struct {
	ProductID string
	Quantity  int
	Price     int64
}

// Cart aggregates the mutable shopping cart state for a user.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SnapshotTotal sums the cart using the stored price snapshots.
func (c Cart) SnapshotTotal() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// ShippingAddress is copied onto the order at checkout time.
type ShippingAddress struct {
	FullName string
	Mobile   string
	Street   string
	City     string
	State    string
	Pincode  string
}

// PaymentMethod enumerates how the customer intends to pay.
type PaymentMethod string

const (
	PaymentMethodCOD  PaymentMethod = "COD"
	PaymentMethodUPI  PaymentMethod = "UPI"
	PaymentMethodCard PaymentMethod = "Card"
)

// PaymentStatus is a flag only; no gateway settles it.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "Pending"
	PaymentStatusPaid    PaymentStatus = "Paid"
)

// OrderLine is a frozen copy of the product taken at commit time.
type OrderLine struct {
	ProductID string
	Name      string
	UnitPrice int64
	Quantity  int
	Image     string
}

// Order is the immutable record of a completed checkout. Only the status fields change.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []OrderLine
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	Status          OrderStatus
	ItemsPrice      int64
	ShippingPrice   int64
	TotalPrice      int64
	CartVersion     int64
	CancelReason    string
	StockRestoredAt *time.Time
	CreatedAt       time.Time
	StatusUpdatedAt time.Time
}

// StatusStep is one entry of the customer facing progress tracker.
type StatusStep struct {
	Step      int
	Label     string
	Completed bool
	Active    bool
}

// OrderStatusProgress projects an order onto the forward status sequence.
type OrderStatusProgress struct {
	OrderID         string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	StatusUpdatedAt time.Time
	Steps           []StatusStep
}
