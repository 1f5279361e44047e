//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/kartline/api/internal/domain"
	"github.com/kartline/api/internal/repositories"
)

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "order-test")

	products, err := NewProductRepository(provider)
	if err != nil {
		t.Fatalf("new product repository: %v", err)
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		t.Fatalf("new cart repository: %v", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Second)
	if _, err := products.Upsert(ctx, domain.Product{ID: "prod_kettle", Name: "Kettle", Price: 10000, Stock: 5, UpdatedAt: now}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	cart, err := carts.SaveItems(ctx, "user_1", []domain.CartItem{{ProductID: "prod_kettle", Quantity: 2, Price: 9000}}, 0, now)
	if err != nil {
		t.Fatalf("save cart: %v", err)
	}
	if cart.Version != 1 {
		t.Fatalf("expected cart version 1, got %d", cart.Version)
	}

	if _, err := carts.SaveItems(ctx, "user_1", nil, 0, now); err == nil {
		t.Fatalf("expected stale cart version to be rejected")
	} else if _, ok := repositories.AsCheckoutError(err, repositories.CheckoutErrorCartVersionMismatch); !ok {
		t.Fatalf("expected version mismatch, got %v", err)
	}

	order := domain.Order{
		ID:            "01JORDERTEST0000000000000A",
		UserID:        "user_1",
		Items:         []domain.OrderLine{{ProductID: "prod_kettle", Name: "Kettle", UnitPrice: 10000, Quantity: 2}},
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPlaced,
		ItemsPrice:    20000,
		ShippingPrice: 4000,
		TotalPrice:    24000,
	}

	stale := order
	stale.Items = []domain.OrderLine{{ProductID: "prod_kettle", UnitPrice: 9000, Quantity: 2}}
	if _, err := orders.PlaceOrder(ctx, repositories.OrderPlacement{Order: stale, ExpectedCartVersion: 1, Now: now}); err == nil {
		t.Fatalf("expected price drift to abort placement")
	} else if _, ok := repositories.AsCheckoutError(err, repositories.CheckoutErrorProductChanged); !ok {
		t.Fatalf("expected product changed, got %v", err)
	}

	greedy := order
	greedy.Items = []domain.OrderLine{{ProductID: "prod_kettle", UnitPrice: 10000, Quantity: 9}}
	if _, err := orders.PlaceOrder(ctx, repositories.OrderPlacement{Order: greedy, ExpectedCartVersion: 1, Now: now}); err == nil {
		t.Fatalf("expected insufficient stock")
	} else if shortfall, ok := repositories.AsCheckoutError(err, repositories.CheckoutErrorInsufficientStock); !ok {
		t.Fatalf("expected insufficient stock, got %v", err)
	} else if shortfall.Available != 5 || shortfall.Requested != 9 {
		t.Fatalf("unexpected shortfall details %+v", shortfall)
	}

	placed, err := orders.PlaceOrder(ctx, repositories.OrderPlacement{Order: order, ExpectedCartVersion: 1, Now: now})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if placed.CartVersion != 1 || placed.TotalPrice != 24000 {
		t.Fatalf("unexpected placed order %+v", placed)
	}

	kettle, err := products.FindByID(ctx, "prod_kettle")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if kettle.Stock != 3 {
		t.Fatalf("expected stock 3 after placement, got %d", kettle.Stock)
	}

	cleared, err := carts.GetCart(ctx, "user_1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cleared.Items) != 0 || cleared.Version != 2 {
		t.Fatalf("expected empty cart at version 2, got %+v", cleared)
	}

	if _, err := orders.PlaceOrder(ctx, repositories.OrderPlacement{Order: order, ExpectedCartVersion: 2, Now: now}); err == nil {
		t.Fatalf("expected empty cart to abort a second placement")
	} else if _, ok := repositories.AsCheckoutError(err, repositories.CheckoutErrorCartEmpty); !ok {
		t.Fatalf("expected cart empty, got %v", err)
	}

	cancelled, err := orders.ApplyTransition(ctx, repositories.OrderTransition{
		OrderID: placed.ID,
		Now:     now.Add(time.Minute),
		Mutate: func(current domain.Order) (domain.Order, error) {
			current.Status = domain.OrderStatusCancelled
			current.StatusUpdatedAt = now.Add(time.Minute)
			return current, nil
		},
	})
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if cancelled.StockRestoredAt == nil {
		t.Fatalf("expected stock restored timestamp")
	}

	kettle, err = products.FindByID(ctx, "prod_kettle")
	if err != nil {
		t.Fatalf("find product after cancel: %v", err)
	}
	if kettle.Stock != 5 {
		t.Fatalf("expected stock 5 after cancel, got %d", kettle.Stock)
	}

	errTerminal := errors.New("terminal")
	if _, err := orders.ApplyTransition(ctx, repositories.OrderTransition{
		OrderID: placed.ID,
		Mutate: func(current domain.Order) (domain.Order, error) {
			return domain.Order{}, errTerminal
		},
	}); !errors.Is(err, errTerminal) {
		t.Fatalf("expected mutate error to propagate, got %v", err)
	}

	if _, err := orders.FindByID(ctx, "missing"); err == nil {
		t.Fatalf("expected not found")
	} else {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			t.Fatalf("expected not found repository error, got %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		extra := order
		extra.ID = fmt.Sprintf("01JORDERTEST00000000000%03d", i)
		extra.CreatedAt = now.Add(time.Duration(i+1) * time.Hour)
		extra.Status = domain.OrderStatusPlaced
		if _, err := orders.orders.Set(ctx, extra.ID, newOrderDocument(extra)); err != nil {
			t.Fatalf("seed order %d: %v", i, err)
		}
	}

	first, err := orders.ListByUser(ctx, "user_1", domain.Pagination{PageSize: 2})
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(first.Items) != 2 || first.NextPageToken == "" {
		t.Fatalf("expected two orders and a next token, got %d %q", len(first.Items), first.NextPageToken)
	}
	if !first.Items[0].CreatedAt.After(first.Items[1].CreatedAt) {
		t.Fatalf("expected newest first")
	}
	second, err := orders.ListByUser(ctx, "user_1", domain.Pagination{PageSize: 2, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("list by user page 2: %v", err)
	}
	if len(second.Items) != 2 || second.NextPageToken != "" {
		t.Fatalf("expected final page with two orders, got %d %q", len(second.Items), second.NextPageToken)
	}

	placedStatus := domain.OrderStatusPlaced
	page, err := orders.List(ctx, repositories.OrderListFilter{Status: &placedStatus, Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if page.Total != 3 || page.TotalPages != 2 || len(page.Items) != 2 {
		t.Fatalf("unexpected admin page %+v", page)
	}
}

type orderRepositories struct {
	products *ProductRepository
	carts    *CartRepository
	orders   *OrderRepository
}

func newOrderRepositories(t *testing.T, prefix string) orderRepositories {
	t.Helper()
	provider := newEmulatorProvider(t, prefix)
	products, err := NewProductRepository(provider)
	require.NoError(t, err)
	carts, err := NewCartRepository(provider)
	require.NoError(t, err)
	orders, err := NewOrderRepository(provider)
	require.NoError(t, err)
	return orderRepositories{products: products, carts: carts, orders: orders}
}

func yearNumbering(year int) *repositories.OrderNumbering {
	return &repositories.OrderNumbering{
		Sequence: fmt.Sprintf("orders-%04d", year),
		Format:   func(v int64) string { return fmt.Sprintf("KL-%04d-%06d", year, v) },
	}
}

func TestOrderRepositoryShortfallOnLaterLineLeavesEveryProductUntouched(t *testing.T) {
	repos := newOrderRepositories(t, "order-atomic")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := repos.products.Upsert(ctx, domain.Product{ID: "prod_bottle", Name: "Bottle", Price: 10000, Stock: 5, UpdatedAt: now})
	require.NoError(t, err)
	_, err = repos.products.Upsert(ctx, domain.Product{ID: "prod_mug", Name: "Mug", Price: 2500, Stock: 1, UpdatedAt: now})
	require.NoError(t, err)
	cart, err := repos.carts.SaveItems(ctx, "user_multi", []domain.CartItem{
		{ProductID: "prod_bottle", Quantity: 2, Price: 10000},
		{ProductID: "prod_mug", Quantity: 3, Price: 2500},
	}, 0, now)
	require.NoError(t, err)

	order := domain.Order{
		ID:     "01JORDERMULTI000000000000A",
		UserID: "user_multi",
		Items: []domain.OrderLine{
			{ProductID: "prod_bottle", UnitPrice: 10000, Quantity: 2},
			{ProductID: "prod_mug", UnitPrice: 2500, Quantity: 3},
		},
		PaymentMethod: domain.PaymentMethodCOD,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusPlaced,
		ItemsPrice:    27500,
		ShippingPrice: 4000,
		TotalPrice:    31500,
	}
	_, err = repos.orders.PlaceOrder(ctx, repositories.OrderPlacement{
		Order: order, ExpectedCartVersion: cart.Version, Now: now, Numbering: yearNumbering(2026),
	})
	shortfall, ok := repositories.AsCheckoutError(err, repositories.CheckoutErrorInsufficientStock)
	require.True(t, ok, "expected insufficient stock, got %v", err)
	assert.Equal(t, "prod_mug", shortfall.ProductID)
	assert.Equal(t, 1, shortfall.Available)
	assert.Equal(t, 3, shortfall.Requested)

	bottle, err := repos.products.FindByID(ctx, "prod_bottle")
	require.NoError(t, err)
	assert.Equal(t, 5, bottle.Stock, "first line must not be decremented")
	mug, err := repos.products.FindByID(ctx, "prod_mug")
	require.NoError(t, err)
	assert.Equal(t, 1, mug.Stock)

	kept, err := repos.carts.GetCart(ctx, "user_multi")
	require.NoError(t, err)
	assert.Len(t, kept.Items, 2)
	assert.Equal(t, cart.Version, kept.Version)
	_, err = repos.orders.FindByID(ctx, order.ID)
	require.Error(t, err)

	// The aborted checkout must not have spent a number.
	order.Items = order.Items[:1]
	cart, err = repos.carts.SaveItems(ctx, "user_multi", []domain.CartItem{{ProductID: "prod_bottle", Quantity: 2, Price: 10000}}, cart.Version, now)
	require.NoError(t, err)
	placed, err := repos.orders.PlaceOrder(ctx, repositories.OrderPlacement{
		Order: order, ExpectedCartVersion: cart.Version, Now: now, Numbering: yearNumbering(2026),
	})
	require.NoError(t, err)
	assert.Equal(t, "KL-2026-000001", placed.OrderNumber)
	stored, err := repos.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "KL-2026-000001", stored.OrderNumber)

	// Reusing the id is rejected at commit and leaves stock and the sequence alone.
	cart, err = repos.carts.SaveItems(ctx, "user_multi", []domain.CartItem{{ProductID: "prod_bottle", Quantity: 1, Price: 10000}}, placed.CartVersion+1, now)
	require.NoError(t, err)
	order.Items = []domain.OrderLine{{ProductID: "prod_bottle", UnitPrice: 10000, Quantity: 1}}
	_, err = repos.orders.PlaceOrder(ctx, repositories.OrderPlacement{
		Order: order, ExpectedCartVersion: cart.Version, Now: now, Numbering: yearNumbering(2026),
	})
	_, ok = repositories.AsCheckoutError(err, repositories.CheckoutErrorOrderExists)
	require.True(t, ok, "expected order exists, got %v", err)
	bottle, err = repos.products.FindByID(ctx, "prod_bottle")
	require.NoError(t, err)
	assert.Equal(t, 3, bottle.Stock)
}

func TestOrderRepositoryConcurrentCheckoutsGetConsecutiveNumbers(t *testing.T) {
	repos := newOrderRepositories(t, "order-numbers")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	now := time.Now().UTC().Truncate(time.Second)

	_, err := repos.products.Upsert(ctx, domain.Product{ID: "prod_tea", Name: "Tea", Price: 500, Stock: 100, UpdatedAt: now})
	require.NoError(t, err)

	const shoppers = 4
	versions := make([]int64, shoppers)
	for i := 0; i < shoppers; i++ {
		cart, err := repos.carts.SaveItems(ctx, fmt.Sprintf("shopper_%d", i), []domain.CartItem{{ProductID: "prod_tea", Quantity: 1, Price: 500}}, 0, now)
		require.NoError(t, err)
		versions[i] = cart.Version
	}

	numbers := make([]string, shoppers)
	var wg sync.WaitGroup
	for i := 0; i < shoppers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			placed, err := repos.orders.PlaceOrder(ctx, repositories.OrderPlacement{
				Order: domain.Order{
					ID:            fmt.Sprintf("01JORDERCONC00000000000%03d", idx),
					UserID:        fmt.Sprintf("shopper_%d", idx),
					Items:         []domain.OrderLine{{ProductID: "prod_tea", UnitPrice: 500, Quantity: 1}},
					PaymentMethod: domain.PaymentMethodCOD,
					PaymentStatus: domain.PaymentStatusPending,
					Status:        domain.OrderStatusPlaced,
				},
				ExpectedCartVersion: versions[idx],
				Now:                 now,
				Numbering:           yearNumbering(2027),
			})
			if err != nil {
				t.Errorf("place order %d: %v", idx, err)
				return
			}
			numbers[idx] = placed.OrderNumber
		}(i)
	}
	wg.Wait()

	sort.Strings(numbers)
	for i, number := range numbers {
		assert.Equal(t, fmt.Sprintf("KL-2027-%06d", i+1), number)
	}

	_, err = repos.orders.PlaceOrder(ctx, repositories.OrderPlacement{
		Order:     domain.Order{ID: "x", UserID: "shopper_0", Items: []domain.OrderLine{{ProductID: "prod_tea", UnitPrice: 500, Quantity: 1}}},
		Numbering: &repositories.OrderNumbering{Sequence: "bad/name", Format: func(int64) string { return "" }},
	})
	require.Error(t, err)
}
