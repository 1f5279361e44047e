package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kartline/api/internal/platform/httpx"
	"github.com/kartline/api/internal/services"
)

// AdminHandlers serves the back-office order listing and stock management endpoints.
// The router guards the group with the admin role; handlers re-check the actor.
type AdminHandlers struct {
	orders   services.OrderService
	products services.ProductService
	handlerSettings
}

// NewAdminHandlers constructs the /admin handler group.
func NewAdminHandlers(orders services.OrderService, products services.ProductService, opts ...HandlerOption) *AdminHandlers {
	return &AdminHandlers{
		orders:          orders,
		products:        products,
		handlerSettings: newHandlerSettings(opts),
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Put("/orders/{orderID}/status", h.updateOrderStatus)
	r.Get("/products/{productID}", h.getProduct)
	r.Put("/products/{productID}/stock", h.updateStock)
}

type updateStockRequest struct {
	Stock *int `json:"stock"`
}

func (h *AdminHandlers) admin(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	actor, ok := h.caller(w, r)
	if !ok {
		return services.Actor{}, false
	}
	if !actor.IsAdmin {
		httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return services.Actor{}, false
	}
	return actor, true
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	writeAdminOrderPage(w, r, h.orders, actor, h.handlerSettings)
}

func (h *AdminHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	delegate := &OrderHandlers{orders: h.orders, handlerSettings: h.handlerSettings}
	delegate.updateStatus(w, r)
}

func (h *AdminHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(w, r, "product")
		return
	}
	if _, ok := h.admin(w, r); !ok {
		return
	}
	product, err := h.products.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, productResponse{Product: h.buildProductPayload(product)})
}

func (h *AdminHandlers) updateStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		serviceUnavailable(w, r, "product")
		return
	}
	actor, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req updateStockRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "stock is required", http.StatusBadRequest))
		return
	}
	product, err := h.products.UpdateStock(ctx, services.UpdateStockCommand{
		ProductID: chi.URLParam(r, "productID"),
		Stock:     *req.Stock,
		Actor:     actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, productResponse{Product: h.buildProductPayload(product)})
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
	Price        int64  `json:"price"`
	PriceDisplay string `json:"priceDisplay"`
	Stock        int    `json:"stock"`
	Image        string `json:"image,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

func (s handlerSettings) buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:           product.ID,
		Name:         product.Name,
		Description:  product.Description,
		Category:     product.Category,
		Price:        product.Price,
		PriceDisplay: s.money.Format(product.Price),
		Stock:        product.Stock,
		Image:        product.Image,
		UpdatedAt:    formatTime(product.UpdatedAt),
	}
}
