package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"maps"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/kartline/api/internal/domain"
	"github.com/kartline/api/internal/platform/pagination"
	"github.com/kartline/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"
	orderEventCancelled     = "order.cancelled"

	defaultCheckoutAttempts = 3
	defaultAdminPageLimit   = 20
	maxAdminPageLimit       = 50
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderProductNotFound indicates a cart line references a product that no longer exists.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates stock shortfalls or a cart that kept changing during checkout.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the caller may not access or modify the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderUnavailable indicates the backing store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Numbers     OrderNumberService
	Events      OrderEventPublisher
	Archiver    OrderArchiver
	Metrics     OrderMetrics
	Shipping    ShippingPolicy
	MaxAttempts int
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	carts       repositories.CartRepository
	products    repositories.ProductRepository
	numbers     OrderNumberService
	events      OrderEventPublisher
	archiver    OrderArchiver
	metrics     OrderMetrics
	shipping    ShippingPolicy
	maxAttempts int
	sanitizer   *bluemonday.Policy
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}

	shipping := deps.Shipping
	if shipping == (ShippingPolicy{}) {
		shipping = DefaultShippingPolicy()
	}
	if err := shipping.Validate(); err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultCheckoutAttempts
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:      deps.Orders,
		carts:       deps.Carts,
		products:    deps.Products,
		numbers:     deps.Numbers,
		events:      deps.Events,
		archiver:    deps.Archiver,
		metrics:     deps.Metrics,
		shipping:    shipping,
		maxAttempts: attempts,
		sanitizer:   bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	address, err := s.normaliseAddress(cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}

	method := domain.PaymentMethodCOD
	if raw := strings.TrimSpace(cmd.PaymentMethod); raw != "" {
		parsed, ok := domain.ParsePaymentMethod(raw)
		if !ok {
			return Order{}, fmt.Errorf("%w: payment method must be one of COD, UPI, Card", ErrOrderInvalidInput)
		}
		method = parsed
	}

	orderID := s.newID()

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		cart, err := s.carts.GetCart(ctx, userID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		if len(cart.Items) == 0 {
			return Order{}, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
		}

		lines, err := s.priceCart(ctx, cart)
		if err != nil {
			return Order{}, err
		}

		now := s.now()
		totals := s.shipping.Quote(lines)
		paymentStatus := domain.InitialPaymentStatus(method)
		order := Order{
			ID:              orderID,
			UserID:          userID,
			Items:           lines,
			ShippingAddress: address,
			PaymentMethod:   method,
			PaymentStatus:   paymentStatus,
			Status:          domain.OrderStatusPlaced,
			ItemsPrice:      totals.ItemsPrice,
			ShippingPrice:   totals.ShippingPrice,
			TotalPrice:      totals.TotalPrice,
			CreatedAt:       now,
			StatusUpdatedAt: now,
		}

		placement := repositories.OrderPlacement{
			Order:               order,
			ExpectedCartVersion: cart.Version,
			Now:                 now,
		}
		if s.numbers != nil {
			numbering := s.numbers.Numbering(now)
			placement.Numbering = &numbering
		}
		placed, err := s.orders.PlaceOrder(ctx, placement)
		if err == nil {
			s.afterCreate(ctx, placed)
			return placed, nil
		}

		checkoutErr, ok := repositories.AsCheckoutError(err, "")
		if !ok || !retryableCheckout(checkoutErr.Code) {
			return Order{}, s.mapCheckoutError(err)
		}
		lastErr = err
		if s.metrics != nil {
			s.metrics.CheckoutConflict(ctx, string(checkoutErr.Code))
		}
		s.logger(ctx, "order.checkout.retry", map[string]any{
			"userId":  userID,
			"attempt": attempt,
			"reason":  string(checkoutErr.Code),
		})
	}

	return Order{}, s.mapCheckoutError(lastErr)
}

// priceCart rebuilds the order lines from the live catalog, validating existence then stock.
func (s *orderService) priceCart(ctx context.Context, cart Cart) ([]OrderLine, error) {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindMany(ctx, ids)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	requested := make(map[string]int, len(cart.Items))
	lines := make([]OrderLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s no longer exists", ErrOrderProductNotFound, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
		lines = append(lines, OrderLine{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  item.Quantity,
			Image:     product.Image,
		})
	}

	for _, item := range cart.Items {
		product := products[item.ProductID]
		if want := requested[item.ProductID]; want > product.Stock {
			return nil, fmt.Errorf("%w: insufficient stock for %s: available %d, requested %d", ErrOrderConflict, product.Name, product.Stock, want)
		}
	}
	return lines, nil
}

func (s *orderService) afterCreate(ctx context.Context, order Order) {
	if s.metrics != nil {
		s.metrics.OrderCreated(ctx, order.PaymentMethod, order.TotalPrice)
	}
	s.archive(ctx, order)
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		TotalPrice:    order.TotalPrice,
		ActorID:       order.UserID,
		OccurredAt:    order.CreatedAt,
		Metadata: map[string]any{
			"paymentMethod": string(order.PaymentMethod),
			"lines":         len(order.Items),
		},
	})
	s.logger(ctx, "order.created", map[string]any{
		"order":       order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"total":       order.TotalPrice,
	})
}

// archive stores a snapshot of the order in its current status. Failures are logged, never returned.
func (s *orderService) archive(ctx context.Context, order Order) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveOrder(ctx, order); err != nil {
		s.logger(ctx, "order.archive.failed", map[string]any{
			"order":  order.ID,
			"status": string(order.Status),
			"error":  err.Error(),
		})
	}
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	orderID, err := parseOrderID(cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !cmd.Actor.IsAdmin && order.UserID != strings.TrimSpace(cmd.Actor.UserID) {
		return Order{}, fmt.Errorf("%w: order %s belongs to another user", ErrOrderForbidden, orderID)
	}
	return order, nil
}

func (s *orderService) ListMyOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if pager.PageSize < 0 {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: page size must be positive", ErrOrderInvalidInput)
	}

	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.NumberedPage[Order], error) {
	if !cmd.Actor.IsAdmin {
		return domain.NumberedPage[Order]{}, fmt.Errorf("%w: admin role required", ErrOrderForbidden)
	}

	filter := repositories.OrderListFilter{Page: cmd.Page, Limit: cmd.Limit}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultAdminPageLimit
	}
	if filter.Limit > maxAdminPageLimit {
		filter.Limit = maxAdminPageLimit
	}
	if raw := strings.TrimSpace(cmd.Status); raw != "" {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			return domain.NumberedPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, raw)
		}
		filter.Status = &status
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.NumberedPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	if !cmd.Actor.IsAdmin {
		return Order{}, fmt.Errorf("%w: admin role required", ErrOrderForbidden)
	}
	orderID, err := parseOrderID(cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	target, ok := domain.ParseOrderStatus(cmd.TargetStatus)
	if !ok {
		return Order{}, fmt.Errorf("%w: status must be one of Placed, Packed, Out for Delivery, Delivered, Cancelled", ErrOrderInvalidInput)
	}

	var paymentOverride *PaymentStatus
	if raw := strings.TrimSpace(cmd.PaymentStatus); raw != "" {
		parsed, ok := domain.ParsePaymentStatus(raw)
		if !ok {
			return Order{}, fmt.Errorf("%w: payment status must be Pending or Paid", ErrOrderInvalidInput)
		}
		paymentOverride = &parsed
	}

	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)
	var previous OrderStatus
	var mutateErr error

	updated, err := s.orders.ApplyTransition(ctx, repositories.OrderTransition{
		OrderID: orderID,
		Now:     now,
		Mutate: func(current Order) (Order, error) {
			previous = current.Status
			if !current.Status.CanAdvanceTo(target) {
				mutateErr = fmt.Errorf("%w: cannot move order from %s to %s", ErrOrderInvalidState, current.Status, target)
				return Order{}, mutateErr
			}
			current.Status = target
			current.StatusUpdatedAt = now
			switch {
			case target == domain.OrderStatusDelivered:
				current.PaymentStatus = domain.PaymentStatusPaid
			case paymentOverride != nil:
				current.PaymentStatus = *paymentOverride
			}
			if target == domain.OrderStatusCancelled {
				current.CancelReason = reason
			}
			return current, nil
		},
	})
	if err != nil {
		if mutateErr != nil && errors.Is(err, ErrOrderInvalidState) {
			return Order{}, mutateErr
		}
		return Order{}, s.mapRepositoryError(err)
	}

	if s.metrics != nil {
		s.metrics.StatusChanged(ctx, previous, updated.Status)
	}
	s.archive(ctx, updated)

	eventType := orderEventStatusChanged
	metadata := map[string]any{}
	if updated.Status == domain.OrderStatusCancelled {
		eventType = orderEventCancelled
		if reason != "" {
			metadata["reason"] = reason
		}
		if updated.StockRestoredAt != nil {
			metadata["stockRestoredAt"] = updated.StockRestoredAt.Format(time.RFC3339Nano)
		}
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		PaymentStatus:  string(updated.PaymentStatus),
		TotalPrice:     updated.TotalPrice,
		ActorID:        strings.TrimSpace(cmd.Actor.UserID),
		OccurredAt:     now,
		Metadata:       metadata,
	})
	s.logger(ctx, "order.status.changed", map[string]any{
		"order": updated.ID,
		"from":  string(previous),
		"to":    string(updated.Status),
		"actor": strings.TrimSpace(cmd.Actor.UserID),
	})

	return updated, nil
}

func (s *orderService) GetStatusProgress(ctx context.Context, cmd GetOrderCommand) (OrderStatusProgress, error) {
	order, err := s.GetOrder(ctx, cmd)
	if err != nil {
		return OrderStatusProgress{}, err
	}
	return OrderStatusProgress{
		OrderID:         order.ID,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		StatusUpdatedAt: order.StatusUpdatedAt,
		Steps:           domain.StatusProgress(order.Status),
	}, nil
}

// normaliseAddress strips markup and checks the required fields in display order.
func (s *orderService) normaliseAddress(addr ShippingAddress) (ShippingAddress, error) {
	clean := ShippingAddress{
		FullName: s.sanitize(addr.FullName),
		Mobile:   s.sanitize(addr.Mobile),
		Street:   s.sanitize(addr.Street),
		City:     s.sanitize(addr.City),
		State:    s.sanitize(addr.State),
		Pincode:  s.sanitize(addr.Pincode),
	}
	required := []struct {
		field string
		value string
	}{
		{"fullName", clean.FullName},
		{"mobile", clean.Mobile},
		{"street", clean.Street},
		{"city", clean.City},
		{"state", clean.State},
		{"pincode", clean.Pincode},
	}
	for _, entry := range required {
		if entry.value == "" {
			return ShippingAddress{}, fmt.Errorf("%w: shipping address %s is required", ErrOrderInvalidInput, entry.field)
		}
	}
	return clean, nil
}

func (s *orderService) sanitize(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
}

func (s *orderService) mapCheckoutError(err error) error {
	if err == nil {
		return nil
	}
	if checkoutErr, ok := repositories.AsCheckoutError(err, ""); ok {
		switch checkoutErr.Code {
		case repositories.CheckoutErrorCartEmpty:
			return fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
		case repositories.CheckoutErrorProductNotFound:
			return fmt.Errorf("%w: product %s no longer exists", ErrOrderProductNotFound, checkoutErr.ProductID)
		case repositories.CheckoutErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrOrderConflict, checkoutErr.Message)
		case repositories.CheckoutErrorCartVersionMismatch, repositories.CheckoutErrorProductChanged:
			return fmt.Errorf("%w: cart changed during checkout, please retry", ErrOrderConflict)
		case repositories.CheckoutErrorOrderExists:
			return fmt.Errorf("%w: %s", ErrOrderConflict, checkoutErr.Message)
		}
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func retryableCheckout(code repositories.CheckoutErrorCode) bool {
	switch code {
	case repositories.CheckoutErrorCartVersionMismatch,
		repositories.CheckoutErrorCartEmpty,
		repositories.CheckoutErrorProductNotFound,
		repositories.CheckoutErrorInsufficientStock,
		repositories.CheckoutErrorProductChanged:
		return true
	}
	return false
}

func parseOrderID(raw string) (string, error) {
	orderID := strings.TrimSpace(raw)
	if orderID == "" {
		return "", fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if _, err := ulid.ParseStrict(orderID); err != nil {
		return "", fmt.Errorf("%w: malformed order id %q", ErrOrderInvalidInput, orderID)
	}
	return orderID, nil
}
