package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/kartline/api/internal/services"
)

const orderMetricNamespace = "github.com/kartline/api/internal/services/orders"

// OrderMetrics records order lifecycle counters through OpenTelemetry.
type OrderMetrics struct {
	created     metric.Int64Counter
	revenue     metric.Int64Counter
	transitions metric.Int64Counter
	conflicts   metric.Int64Counter
}

// NewOrderMetrics registers the order instruments on the meter, or on the global provider when nil.
// Instruments that fail to register are logged and replaced by no-ops.
func NewOrderMetrics(meter metric.Meter, logger *zap.Logger) *OrderMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(orderMetricNamespace)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	counter := func(name, unit, description string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithUnit(unit), metric.WithDescription(description))
		if err != nil {
			logger.Warn("metrics: unable to register counter", zap.String("name", name), zap.Error(err))
			return nil
		}
		return c
	}

	return &OrderMetrics{
		created:     counter("orders.created", "{order}", "Orders committed by checkout"),
		revenue:     counter("orders.revenue", "{minor_unit}", "Order totals committed by checkout"),
		transitions: counter("orders.transitions", "{transition}", "Admin order status transitions"),
		conflicts:   counter("orders.checkout_conflicts", "{attempt}", "Checkout attempts retried after a transactional conflict"),
	}
}

func (m *OrderMetrics) OrderCreated(ctx context.Context, method services.PaymentMethod, total int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("payment_method", string(method)))
	if m.created != nil {
		m.created.Add(ctx, 1, attrs)
	}
	if m.revenue != nil && total > 0 {
		m.revenue.Add(ctx, total, attrs)
	}
}

func (m *OrderMetrics) StatusChanged(ctx context.Context, from, to services.OrderStatus) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *OrderMetrics) CheckoutConflict(ctx context.Context, reason string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

var _ services.OrderMetrics = (*OrderMetrics)(nil)
