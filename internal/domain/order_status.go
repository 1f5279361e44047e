package domain

import "strings"

// OrderStatus tracks fulfilment progress for an order.
type OrderStatus string

const (
	OrderStatusPlaced         OrderStatus = "Placed"
	OrderStatusPacked         OrderStatus = "Packed"
	OrderStatusOutForDelivery OrderStatus = "Out for Delivery"
	OrderStatusDelivered      OrderStatus = "Delivered"
	OrderStatusCancelled      OrderStatus = "Cancelled"
)

// forwardStatuses is the fixed sequence admins move orders along.
var forwardStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusPacked,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
}

// ForwardStatuses returns a copy of the forward fulfilment sequence.
func ForwardStatuses() []OrderStatus {
	out := make([]OrderStatus, len(forwardStatuses))
	copy(out, forwardStatuses)
	return out
}

// Index reports the position of the status in the forward sequence, or -1 when it is not part of it.
func (s OrderStatus) Index() int {
	for i, candidate := range forwardStatuses {
		if candidate == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// IsValid reports whether the status is a known value.
func (s OrderStatus) IsValid() bool {
	return s == OrderStatusCancelled || s.Index() >= 0
}

// CanAdvanceTo reports whether moving from s to next is a legal admin transition.
// Forward moves may skip steps; backward and same-state moves are rejected.
// Cancelled is reachable from every non-terminal state.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	current := s.Index()
	requested := next.Index()
	if current < 0 || requested < 0 {
		return false
	}
	return requested > current
}

// ParseOrderStatus matches the raw value case-insensitively against known statuses.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	normalized := strings.Join(strings.Fields(raw), " ")
	if normalized == "" {
		return "", false
	}
	for _, candidate := range append(ForwardStatuses(), OrderStatusCancelled) {
		if strings.EqualFold(string(candidate), normalized) {
			return candidate, true
		}
	}
	return "", false
}

// ParsePaymentMethod matches the raw value case-insensitively against supported methods.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, candidate := range []PaymentMethod{PaymentMethodCOD, PaymentMethodUPI, PaymentMethodCard} {
		if strings.EqualFold(string(candidate), trimmed) {
			return candidate, true
		}
	}
	return "", false
}

// ParsePaymentStatus matches the raw value case-insensitively against payment statuses.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	trimmed := strings.TrimSpace(raw)
	for _, candidate := range []PaymentStatus{PaymentStatusPending, PaymentStatusPaid} {
		if strings.EqualFold(string(candidate), trimmed) {
			return candidate, true
		}
	}
	return "", false
}

// InitialPaymentStatus returns Pending for cash on delivery and Paid otherwise.
func InitialPaymentStatus(method PaymentMethod) PaymentStatus {
	if method == PaymentMethodCOD {
		return PaymentStatusPending
	}
	return PaymentStatusPaid
}

// StatusProgress projects the order status onto the forward sequence.
func StatusProgress(status OrderStatus) []StatusStep {
	current := status.Index()
	steps := make([]StatusStep, len(forwardStatuses))
	for i, candidate := range forwardStatuses {
		steps[i] = StatusStep{
			Step:      i + 1,
			Label:     string(candidate),
			Completed: current >= 0 && i <= current,
			Active:    current >= 0 && i == current,
		}
	}
	return steps
}
