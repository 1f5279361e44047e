package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kartline/api/internal/platform/httpx"
	"github.com/kartline/api/internal/services"
)

// CartHandlers exposes the caller's cart.
type CartHandlers struct {
	carts services.CartService
	handlerSettings
}

// NewCartHandlers constructs the /cart handler group.
func NewCartHandlers(carts services.CartService, opts ...HandlerOption) *CartHandlers {
	return &CartHandlers{
		carts:           carts,
		handlerSettings: newHandlerSettings(opts),
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(r.Context(), actor.UserID)
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req addCartItemRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	cart, err := h.carts.AddItem(r.Context(), services.UpsertCartItemCommand{
		UserID:    actor.UserID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	cart, err := h.carts.UpdateItem(r.Context(), services.UpsertCartItemCommand{
		UserID:    actor.UserID,
		ProductID: chi.URLParam(r, "productID"),
		Quantity:  req.Quantity,
	})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), services.RemoveCartItemCommand{
		UserID:    actor.UserID,
		ProductID: chi.URLParam(r, "productID"),
	})
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		serviceUnavailable(w, r, "cart")
		return
	}
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	cart, err := h.carts.ClearCart(r.Context(), actor.UserID)
	h.respond(w, r, cart, err)
}

func (h *CartHandlers) respond(w http.ResponseWriter, r *http.Request, cart services.Cart, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("ETag", cartETag(cart))
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: h.buildCartPayload(cart)})
}

// cartETag exposes the optimistic version; a changed cart always has a different tag.
func cartETag(cart services.Cart) string {
	return fmt.Sprintf(`W/"%s-%s"`, strings.TrimSpace(cart.UserID), strconv.FormatInt(cart.Version, 10))
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	UserID        string            `json:"userId"`
	Version       int64             `json:"version"`
	Items         []cartItemPayload `json:"items"`
	ItemsCount    int               `json:"itemsCount"`
	SnapshotTotal int64             `json:"snapshotTotal"`
	Currency      string            `json:"currency"`
	Display       string            `json:"snapshotTotalDisplay"`
	UpdatedAt     string            `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

func (s handlerSettings) buildCartPayload(cart services.Cart) cartPayload {
	items := make([]cartItemPayload, 0, len(cart.Items))
	count := 0
	for _, item := range cart.Items {
		items = append(items, cartItemPayload{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
		count += item.Quantity
	}
	total := cart.SnapshotTotal()
	return cartPayload{
		UserID:        cart.UserID,
		Version:       cart.Version,
		Items:         items,
		ItemsCount:    count,
		SnapshotTotal: total,
		Currency:      s.money.Currency(),
		Display:       s.money.Format(total),
		UpdatedAt:     formatTime(cart.UpdatedAt),
	}
}
