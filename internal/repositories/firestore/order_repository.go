package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/kartline/api/internal/domain"
	pfirestore "github.com/kartline/api/internal/platform/firestore"
	"github.com/kartline/api/internal/platform/pagination"
	"github.com/kartline/api/internal/repositories"
)

const (
	ordersCollection = "orders"

	defaultOrderPageSize = 20
	maxOrderPageSize     = 50
)

// OrderRepository stores order snapshots and performs the stock-affecting order transactions.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	products *pfirestore.Collection[productDocument]
	carts    *pfirestore.Collection[cartDocument]
	numbers  sequenceCounter
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		carts:    pfirestore.NewCollection[cartDocument](provider, cartCollection),
		numbers:  newSequenceCounter(provider),
	}, nil
}

// PlaceOrder commits the order in a single transaction. The cart version, product existence,
// unit prices and stock levels are re-checked against the transaction snapshot before any write.
func (r *OrderRepository) PlaceOrder(ctx context.Context, placement repositories.OrderPlacement) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	order := placement.Order
	order.Items = append([]domain.OrderLine(nil), order.Items...)
	orderID := strings.TrimSpace(order.ID)
	userID := strings.TrimSpace(order.UserID)
	if orderID == "" {
		return domain.Order{}, errors.New("order placement: order id is required")
	}
	if userID == "" {
		return domain.Order{}, errors.New("order placement: user id is required")
	}
	if len(order.Items) == 0 {
		return domain.Order{}, repositories.NewCheckoutError(repositories.CheckoutErrorCartEmpty, "order placement: at least one line is required", nil)
	}
	numbering := placement.Numbering
	if numbering != nil && (numbering.Format == nil || !validSequenceName(numbering.Sequence)) {
		return domain.Order{}, fmt.Errorf("order placement: invalid numbering for sequence %q", numbering.Sequence)
	}

	now := placement.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var placed domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cartRef, err := r.carts.Doc(ctx, userID)
		if err != nil {
			return err
		}
		orderRef, err := r.orders.Doc(ctx, orderID)
		if err != nil {
			return err
		}

		cart, _, err := readCart(tx, cartRef)
		if err != nil {
			return err
		}
		if cart.Version != placement.ExpectedCartVersion {
			return repositories.NewCheckoutError(
				repositories.CheckoutErrorCartVersionMismatch,
				fmt.Sprintf("cart %s is at version %d, expected %d", userID, cart.Version, placement.ExpectedCartVersion),
				nil,
			)
		}
		if len(cart.Items) == 0 {
			return repositories.NewCheckoutError(repositories.CheckoutErrorCartEmpty, "cart is empty", nil)
		}

		requested := make(map[string]int, len(order.Items))
		var productOrder []string
		for _, line := range order.Items {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" {
				return repositories.NewCheckoutError(repositories.CheckoutErrorProductNotFound, "order line is missing product id", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewCheckoutError(repositories.CheckoutErrorUnknown, fmt.Sprintf("quantity for %s must be > 0", productID), nil)
			}
			if _, ok := requested[productID]; !ok {
				productOrder = append(productOrder, productID)
			}
			requested[productID] += line.Quantity
		}

		refs := make(map[string]*firestore.DocumentRef, len(productOrder))
		products := make(map[string]productDocument, len(productOrder))
		for _, productID := range productOrder {
			ref, err := r.products.Doc(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return &repositories.CheckoutError{
						Code:      repositories.CheckoutErrorProductNotFound,
						Message:   fmt.Sprintf("product %s not found", productID),
						ProductID: productID,
						Err:       err,
					}
				}
				return err
			}
			doc, err := decodeProduct(snap)
			if err != nil {
				return err
			}
			refs[productID] = ref
			products[productID] = doc
		}

		for i, line := range order.Items {
			productID := strings.TrimSpace(line.ProductID)
			doc := products[productID]
			if doc.Price != line.UnitPrice {
				return &repositories.CheckoutError{
					Code:        repositories.CheckoutErrorProductChanged,
					Message:     fmt.Sprintf("price of %s changed from %d to %d", doc.Name, line.UnitPrice, doc.Price),
					ProductID:   productID,
					ProductName: doc.Name,
				}
			}
			order.Items[i].Name = doc.Name
			order.Items[i].Image = doc.Image
		}
		for _, productID := range productOrder {
			doc := products[productID]
			if doc.Stock < requested[productID] {
				return repositories.NewInsufficientStockError(productID, doc.Name, doc.Stock, requested[productID])
			}
		}

		var number *sequenceClaim
		if numbering != nil {
			claim, err := r.numbers.claim(ctx, tx, numbering.Sequence)
			if err != nil {
				return err
			}
			number = &claim
			order.OrderNumber = numbering.Format(claim.value)
		}

		order.ID = orderID
		order.UserID = userID
		order.CartVersion = cart.Version
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		if order.StatusUpdatedAt.IsZero() {
			order.StatusUpdatedAt = order.CreatedAt
		}

		orderDoc := newOrderDocument(order)
		if err := tx.Create(orderRef, orderDoc); err != nil {
			return err
		}
		if number != nil {
			if err := number.store(tx, now); err != nil {
				return err
			}
		}
		for _, productID := range productOrder {
			if err := tx.Update(refs[productID], []firestore.Update{
				{Path: "stock", Value: products[productID].Stock - requested[productID]},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		if err := tx.Set(cartRef, cartDocument{
			Items:     []cartItemDocument{},
			Version:   cart.Version + 1,
			CreatedAt: cart.CreatedAt,
			UpdatedAt: now,
		}); err != nil {
			return err
		}

		placed = orderDoc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, placementError(orderID, err)
	}
	return placed, nil
}

// placementError classifies a failed checkout transaction. Create is buffered until commit, so an
// order id collision surfaces as AlreadyExists on the commit rather than inside the callback.
func placementError(orderID string, err error) error {
	if status.Code(err) == codes.AlreadyExists {
		if _, ok := repositories.AsCheckoutError(err, ""); !ok {
			return &repositories.CheckoutError{
				Op:      "orders.place",
				Code:    repositories.CheckoutErrorOrderExists,
				Message: fmt.Sprintf("order %s already exists", orderID),
				Err:     err,
			}
		}
	}
	return wrapCheckoutError("orders.place", err)
}

// ApplyTransition runs the mutation against the stored order inside a transaction.
// Moving into Cancelled puts every line's quantity back on products that still exist.
func (r *OrderRepository) ApplyTransition(ctx context.Context, transition repositories.OrderTransition) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(transition.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order transition: order id is required")
	}
	if transition.Mutate == nil {
		return domain.Order{}, errors.New("order transition: mutate func is required")
	}
	now := transition.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.Doc(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var current orderDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		before := current.toDomain(orderID)
		next, err := transition.Mutate(before)
		if err != nil {
			return err
		}
		next.ID = orderID

		type restock struct {
			ref   *firestore.DocumentRef
			stock int
		}
		var restocks []restock
		if next.Status == domain.OrderStatusCancelled && before.Status != domain.OrderStatusCancelled && before.StockRestoredAt == nil {
			quantities := make(map[string]int, len(before.Items))
			var productOrder []string
			for _, line := range before.Items {
				if _, ok := quantities[line.ProductID]; !ok {
					productOrder = append(productOrder, line.ProductID)
				}
				quantities[line.ProductID] += line.Quantity
			}
			for _, productID := range productOrder {
				productRef, err := r.products.Doc(ctx, productID)
				if err != nil {
					return err
				}
				productSnap, err := tx.Get(productRef)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						continue
					}
					return err
				}
				doc, err := decodeProduct(productSnap)
				if err != nil {
					return err
				}
				restocks = append(restocks, restock{ref: productRef, stock: doc.Stock + quantities[productID]})
			}
			restoredAt := now
			next.StockRestoredAt = &restoredAt
		}

		for _, item := range restocks {
			if err := tx.Update(item.ref, []firestore.Update{
				{Path: "stock", Value: item.stock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		doc := newOrderDocument(next)
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.transition", err)
	}
	return updated, nil
}

// FindByID loads a single order snapshot.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByUser returns the user's orders newest first using a createdAt/document-id cursor.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	pageSize := pagination.ClampPageSize(pager.PageSize, defaultOrderPageSize, maxOrderPageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.listByUser", err)
	}

	query := client.Collection(ordersCollection).
		Where("userId", "==", userID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		query = query.StartAfter(cursor.CreatedAt, client.Collection(ordersCollection).Doc(cursor.ID))
	}

	orders, err := collectOrders(ctx, query, "orders.listByUser")
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	var nextToken string
	if len(orders) > pageSize {
		orders = orders[:pageSize]
		last := orders[len(orders)-1]
		nextToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// List returns a numbered page of all orders newest first, optionally narrowed to one status.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.NumberedPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.NumberedPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	limit := pagination.ClampPageSize(filter.Limit, defaultOrderPageSize, maxOrderPageSize)
	page := filter.Page
	if page < 1 {
		page = 1
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.NumberedPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	base := client.Collection(ordersCollection).Query
	if filter.Status != nil {
		base = base.Where("status", "==", string(*filter.Status))
	}

	results, err := base.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return domain.NumberedPage[domain.Order]{}, pfirestore.WrapError("orders.count", err)
	}
	total := 0
	if value, ok := results["total"].(*firestorepb.Value); ok && value != nil {
		total = int(value.GetIntegerValue())
	}

	orders := []domain.Order{}
	offset := (page - 1) * limit
	if offset < total {
		query := base.OrderBy("createdAt", firestore.Desc).Offset(offset).Limit(limit)
		orders, err = collectOrders(ctx, query, "orders.list")
		if err != nil {
			return domain.NumberedPage[domain.Order]{}, err
		}
	}

	return domain.NumberedPage[domain.Order]{
		Items:      orders,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}, nil
}

func collectOrders(ctx context.Context, query firestore.Query, op string) ([]domain.Order, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	orders := []domain.Order{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError(op, err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}
	return orders, nil
}

type orderDocument struct {
	OrderNumber     string                  `firestore:"orderNumber,omitempty"`
	UserID          string                  `firestore:"userId"`
	Items           []orderLineDocument     `firestore:"items"`
	ShippingAddress shippingAddressDocument `firestore:"shippingAddress"`
	PaymentMethod   string                  `firestore:"paymentMethod"`
	PaymentStatus   string                  `firestore:"paymentStatus"`
	Status          string                  `firestore:"status"`
	ItemsPrice      int64                   `firestore:"itemsPrice"`
	ShippingPrice   int64                   `firestore:"shippingPrice"`
	TotalPrice      int64                   `firestore:"totalPrice"`
	CartVersion     int64                   `firestore:"cartVersion"`
	CancelReason    string                  `firestore:"cancelReason,omitempty"`
	StockRestoredAt *time.Time              `firestore:"stockRestoredAt,omitempty"`
	CreatedAt       time.Time               `firestore:"createdAt"`
	StatusUpdatedAt time.Time               `firestore:"statusUpdatedAt"`
}

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"price"`
	Quantity  int    `firestore:"quantity"`
	Image     string `firestore:"image,omitempty"`
}

type shippingAddressDocument struct {
	FullName string `firestore:"fullName"`
	Mobile   string `firestore:"mobile"`
	Street   string `firestore:"street"`
	City     string `firestore:"city"`
	State    string `firestore:"state"`
	Pincode  string `firestore:"pincode"`
}

func newOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Items))
	for _, line := range order.Items {
		lines = append(lines, orderLineDocument{
			ProductID: strings.TrimSpace(line.ProductID),
			Name:      strings.TrimSpace(line.Name),
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Image:     strings.TrimSpace(line.Image),
		})
	}
	var restoredAt *time.Time
	if order.StockRestoredAt != nil {
		value := order.StockRestoredAt.UTC()
		restoredAt = &value
	}
	addr := order.ShippingAddress
	return orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		Items:       lines,
		ShippingAddress: shippingAddressDocument{
			FullName: addr.FullName,
			Mobile:   addr.Mobile,
			Street:   addr.Street,
			City:     addr.City,
			State:    addr.State,
			Pincode:  addr.Pincode,
		},
		PaymentMethod:   string(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),
		Status:          string(order.Status),
		ItemsPrice:      order.ItemsPrice,
		ShippingPrice:   order.ShippingPrice,
		TotalPrice:      order.TotalPrice,
		CartVersion:     order.CartVersion,
		CancelReason:    strings.TrimSpace(order.CancelReason),
		StockRestoredAt: restoredAt,
		CreatedAt:       order.CreatedAt.UTC(),
		StatusUpdatedAt: order.StatusUpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, 0, len(d.Items))
	for _, line := range d.Items {
		lines = append(lines, domain.OrderLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Image:     line.Image,
		})
	}
	var restoredAt *time.Time
	if d.StockRestoredAt != nil {
		value := d.StockRestoredAt.UTC()
		restoredAt = &value
	}
	return domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		UserID:      d.UserID,
		Items:       lines,
		ShippingAddress: domain.ShippingAddress{
			FullName: d.ShippingAddress.FullName,
			Mobile:   d.ShippingAddress.Mobile,
			Street:   d.ShippingAddress.Street,
			City:     d.ShippingAddress.City,
			State:    d.ShippingAddress.State,
			Pincode:  d.ShippingAddress.Pincode,
		},
		PaymentMethod:   domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:   domain.PaymentStatus(d.PaymentStatus),
		Status:          domain.OrderStatus(d.Status),
		ItemsPrice:      d.ItemsPrice,
		ShippingPrice:   d.ShippingPrice,
		TotalPrice:      d.TotalPrice,
		CartVersion:     d.CartVersion,
		CancelReason:    d.CancelReason,
		StockRestoredAt: restoredAt,
		CreatedAt:       d.CreatedAt.UTC(),
		StatusUpdatedAt: d.StatusUpdatedAt.UTC(),
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
