package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/kartline/api/internal/domain"
	"github.com/kartline/api/internal/platform/auth"
	"github.com/kartline/api/internal/services"
)

type stubProductService struct {
	getFn    func(context.Context, string) (services.Product, error)
	stockFn  func(context.Context, services.UpdateStockCommand) (services.Product, error)
	importFn func(context.Context, []services.Product) (int, error)
}

func (s *stubProductService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return services.Product{}, services.ErrProductNotFound
}

func (s *stubProductService) UpdateStock(ctx context.Context, cmd services.UpdateStockCommand) (services.Product, error) {
	if s.stockFn != nil {
		return s.stockFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubProductService) ImportCatalog(ctx context.Context, products []services.Product) (int, error) {
	if s.importFn != nil {
		return s.importFn(ctx, products)
	}
	return len(products), nil
}

func newAdminRouter(orders services.OrderService, products services.ProductService) chi.Router {
	handler := NewAdminHandlers(orders, products)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func TestAdminHandlersRejectNonAdmin(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, &stubProductService{})

	paths := []struct {
		method string
		path   string
		body   string
	}{
		{method: http.MethodGet, path: "/admin/orders"},
		{method: http.MethodGet, path: "/admin/products/prod-a"},
		{method: http.MethodPut, path: "/admin/products/prod-a/stock", body: `{"stock":3}`},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			req := withUser(httptest.NewRequest(p.method, p.path, strings.NewReader(p.body)), "user-1", auth.RoleUser)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d", rr.Code)
			}
		})
	}
}

func TestAdminHandlersListOrders(t *testing.T) {
	now := time.Date(2024, 4, 2, 12, 0, 0, 0, time.UTC)
	var captured services.ListOrdersCommand
	orders := &stubOrderService{
		listFn: func(_ context.Context, cmd services.ListOrdersCommand) (domain.NumberedPage[services.Order], error) {
			captured = cmd
			return domain.NumberedPage[services.Order]{
				Items:      []services.Order{sampleOrder(now)},
				Page:       1,
				Limit:      10,
				Total:      1,
				TotalPages: 1,
			}, nil
		},
	}
	router := newAdminRouter(orders, &stubProductService{})

	req := withUser(httptest.NewRequest(http.MethodGet, "/admin/orders?status=Placed&limit=10", nil), "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.Status != "Placed" || captured.Limit != 10 || !captured.Actor.IsAdmin {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp adminOrderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Orders) != 1 || resp.Orders[0].ID != "ord_123" {
		t.Fatalf("unexpected orders %+v", resp.Orders)
	}
}

func TestAdminHandlersUpdateOrderStatus(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	orders := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusCancelled}, nil
		},
	}
	router := newAdminRouter(orders, &stubProductService{})

	body := `{"status":"Cancelled","reason":"customer called"}`
	req := withUser(httptest.NewRequest(http.MethodPut, "/admin/orders/ord_9/status", strings.NewReader(body)), "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_9" || captured.TargetStatus != "Cancelled" || captured.Reason != "customer called" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestAdminHandlersUpdateStock(t *testing.T) {
	var captured services.UpdateStockCommand
	products := &stubProductService{
		stockFn: func(_ context.Context, cmd services.UpdateStockCommand) (services.Product, error) {
			captured = cmd
			return services.Product{ID: cmd.ProductID, Name: "Kettle", Price: 10000, Stock: cmd.Stock}, nil
		},
	}
	router := newAdminRouter(&stubOrderService{}, products)

	req := withUser(httptest.NewRequest(http.MethodPut, "/admin/products/prod-a/stock", strings.NewReader(`{"stock":0}`)), "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prod-a" || captured.Stock != 0 || !captured.Actor.IsAdmin {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Product.ID != "prod-a" || resp.Product.Stock != 0 {
		t.Fatalf("unexpected product %+v", resp.Product)
	}
}

func TestAdminHandlersUpdateStockRequiresValue(t *testing.T) {
	products := &stubProductService{
		stockFn: func(context.Context, services.UpdateStockCommand) (services.Product, error) {
			t.Fatal("service must not be called without stock")
			return services.Product{}, nil
		},
	}
	router := newAdminRouter(&stubOrderService{}, products)

	req := withUser(httptest.NewRequest(http.MethodPut, "/admin/products/prod-a/stock", strings.NewReader(`{}`)), "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminHandlersUpdateStockErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "negative", err: fmt.Errorf("%w: stock must be zero or greater", services.ErrProductInvalidInput), status: http.StatusBadRequest},
		{name: "missing", err: services.ErrProductNotFound, status: http.StatusNotFound},
		{name: "down", err: services.ErrProductUnavailable, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			products := &stubProductService{
				stockFn: func(context.Context, services.UpdateStockCommand) (services.Product, error) {
					return services.Product{}, tc.err
				},
			}
			router := newAdminRouter(&stubOrderService{}, products)

			req := withUser(httptest.NewRequest(http.MethodPut, "/admin/products/prod-a/stock", strings.NewReader(`{"stock":-1}`)), "admin-1", auth.RoleAdmin)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestAdminHandlersGetProduct(t *testing.T) {
	products := &stubProductService{
		getFn: func(_ context.Context, id string) (services.Product, error) {
			return services.Product{ID: id, Name: "Kettle", Price: 129900, Stock: 4}, nil
		},
	}
	router := newAdminRouter(&stubOrderService{}, products)

	req := withUser(httptest.NewRequest(http.MethodGet, "/admin/products/prod-a", nil), "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Product.Price != 129900 || resp.Product.Stock != 4 {
		t.Fatalf("unexpected product %+v", resp.Product)
	}
}

func TestAdminHandlersGetProductNotFound(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, &stubProductService{})

	req := withUser(httptest.NewRequest(http.MethodGet, "/admin/products/missing", nil), "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "product_not_found" {
		t.Fatalf("expected product_not_found, got %s", code)
	}
}
