package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kartline/api/internal/platform/httpx"
	"github.com/kartline/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes checkout, order reads and the admin status workflow.
type OrderHandlers struct {
	orders services.OrderService
	handlerSettings
}

// NewOrderHandlers constructs the /orders handler group.
func NewOrderHandlers(orders services.OrderService, opts ...HandlerOption) *OrderHandlers {
	return &OrderHandlers{
		orders:          orders,
		handlerSettings: newHandlerSettings(opts),
	}
}

// Routes registers the /orders endpoints. Authentication is applied by the router group.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/my", h.listMyOrders)
	r.Get("/all/list", h.listAllOrders)
	r.Put("/status/{orderID}", h.updateStatus)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/status", h.getStatusProgress)
}

type createOrderRequest struct {
	ShippingAddress *shippingAddressPayload `json:"shippingAddress"`
	PaymentMethod   string                  `json:"paymentMethod"`
}

type updateStatusRequest struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	Reason        string `json:"reason"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !h.decodeLenientBody(w, r, &req) {
		return
	}
	var address services.ShippingAddress
	if req.ShippingAddress != nil {
		address = req.ShippingAddress.toModel()
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:          actor.UserID,
		ShippingAddress: address,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: h.buildOrderPayload(order)})
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	pageSize := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pageSize must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.orders.ListMyOrders(ctx, actor.UserID, services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("pageToken")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, h.buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Orders:        items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) listAllOrders(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	writeAdminOrderPage(w, r, h.orders, actor, h.handlerSettings)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(order)})
}

func (h *OrderHandlers) getStatusProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}

	progress, err := h.orders.GetStatusProgress(ctx, services.GetOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	steps := make([]statusStepPayload, 0, len(progress.Steps))
	for _, step := range progress.Steps {
		steps = append(steps, statusStepPayload{
			Step:      step.Step,
			Label:     step.Label,
			Completed: step.Completed,
			Active:    step.Active,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, statusProgressResponse{
		OrderID:         progress.OrderID,
		OrderStatus:     string(progress.Status),
		PaymentStatus:   string(progress.PaymentStatus),
		StatusUpdatedAt: formatTime(progress.StatusUpdatedAt),
		Steps:           steps,
	})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return
	}

	var req updateStatusRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	updated, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:       chi.URLParam(r, "orderID"),
		TargetStatus:  req.Status,
		PaymentStatus: req.PaymentStatus,
		Reason:        req.Reason,
		Actor:         actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: h.buildOrderPayload(updated)})
}

// writeAdminOrderPage serves the page/limit listing shared by /orders/all/list and /admin/orders.
func writeAdminOrderPage(w http.ResponseWriter, r *http.Request, orders services.OrderService, actor services.Actor, settings handlerSettings) {
	ctx := r.Context()
	query := r.URL.Query()

	page, err := optionalIntParam(query.Get("page"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page must be an integer", http.StatusBadRequest))
		return
	}
	limit, err := optionalIntParam(query.Get("limit"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
		return
	}

	result, err := orders.ListOrders(ctx, services.ListOrdersCommand{
		Actor:  actor,
		Status: query.Get("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, settings.buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, adminOrderListResponse{
		Orders:     items,
		Page:       result.Page,
		Limit:      result.Limit,
		Total:      result.Total,
		TotalPages: result.TotalPages,
	})
}

func optionalIntParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

type shippingAddressPayload struct {
	FullName string `json:"fullName"`
	Mobile   string `json:"mobile"`
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
}

func (p shippingAddressPayload) toModel() services.ShippingAddress {
	return services.ShippingAddress{
		FullName: p.FullName,
		Mobile:   p.Mobile,
		Street:   p.Street,
		City:     p.City,
		State:    p.State,
		Pincode:  p.Pincode,
	}
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type adminOrderListResponse struct {
	Orders     []orderPayload `json:"orders"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	Total      int            `json:"total"`
	TotalPages int            `json:"totalPages"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"orderNumber,omitempty"`
	UserID          string                 `json:"userId"`
	Items           []orderItemPayload     `json:"orderItems"`
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	PaymentStatus   string                 `json:"paymentStatus"`
	OrderStatus     string                 `json:"orderStatus"`
	ItemsPrice      int64                  `json:"itemsPrice"`
	ShippingPrice   int64                  `json:"shippingPrice"`
	TotalPrice      int64                  `json:"totalPrice"`
	Currency        string                 `json:"currency"`
	Display         orderDisplayPayload    `json:"display"`
	CancelReason    string                 `json:"cancelReason,omitempty"`
	CreatedAt       string                 `json:"createdAt"`
	StatusUpdatedAt string                 `json:"statusUpdatedAt"`
}

type orderDisplayPayload struct {
	ItemsPrice    string `json:"itemsPrice"`
	ShippingPrice string `json:"shippingPrice"`
	TotalPrice    string `json:"totalPrice"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Image     string `json:"image,omitempty"`
}

type statusProgressResponse struct {
	OrderID         string              `json:"orderId"`
	OrderStatus     string              `json:"orderStatus"`
	PaymentStatus   string              `json:"paymentStatus"`
	StatusUpdatedAt string              `json:"statusUpdatedAt"`
	Steps           []statusStepPayload `json:"steps"`
}

type statusStepPayload struct {
	Step      int    `json:"step"`
	Label     string `json:"label"`
	Completed bool   `json:"completed"`
	Active    bool   `json:"active"`
}

func (s handlerSettings) buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Image:     line.Image,
		})
	}
	addr := order.ShippingAddress
	return orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Items:       items,
		ShippingAddress: shippingAddressPayload{
			FullName: addr.FullName,
			Mobile:   addr.Mobile,
			Street:   addr.Street,
			City:     addr.City,
			State:    addr.State,
			Pincode:  addr.Pincode,
		},
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		OrderStatus:   string(order.Status),
		ItemsPrice:    order.ItemsPrice,
		ShippingPrice: order.ShippingPrice,
		TotalPrice:    order.TotalPrice,
		Currency:      s.money.Currency(),
		Display: orderDisplayPayload{
			ItemsPrice:    s.money.Format(order.ItemsPrice),
			ShippingPrice: s.money.Format(order.ShippingPrice),
			TotalPrice:    s.money.Format(order.TotalPrice),
		},
		CancelReason:    order.CancelReason,
		CreatedAt:       formatTime(order.CreatedAt),
		StatusUpdatedAt: formatTime(order.StatusUpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
