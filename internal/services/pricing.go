package services

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// DefaultFreeShippingThreshold is the items subtotal (minor units) from which shipping is free.
	DefaultFreeShippingThreshold int64 = 50000
	// DefaultFlatShippingRate is charged below the free shipping threshold (minor units).
	DefaultFlatShippingRate int64 = 4000

	defaultCurrency = "INR"
	defaultLocale   = "en-IN"
)

// ShippingPolicy decides the shipping charge from the items subtotal.
type ShippingPolicy struct {
	FreeThreshold int64
	FlatRate      int64
}

// DefaultShippingPolicy returns the storefront's standard policy.
func DefaultShippingPolicy() ShippingPolicy {
	return ShippingPolicy{FreeThreshold: DefaultFreeShippingThreshold, FlatRate: DefaultFlatShippingRate}
}

// Validate rejects negative amounts.
func (p ShippingPolicy) Validate() error {
	if p.FreeThreshold < 0 {
		return fmt.Errorf("shipping policy: free threshold must be >= 0, got %d", p.FreeThreshold)
	}
	if p.FlatRate < 0 {
		return fmt.Errorf("shipping policy: flat rate must be >= 0, got %d", p.FlatRate)
	}
	return nil
}

// ShippingFor returns 0 when itemsPrice reaches the threshold, otherwise the flat rate.
func (p ShippingPolicy) ShippingFor(itemsPrice int64) int64 {
	if itemsPrice >= p.FreeThreshold {
		return 0
	}
	return p.FlatRate
}

// OrderTotals is the price breakdown stored on an order.
type OrderTotals struct {
	ItemsPrice    int64
	ShippingPrice int64
	TotalPrice    int64
}

// Quote prices the lines with their unit prices and applies the shipping policy.
func (p ShippingPolicy) Quote(lines []OrderLine) OrderTotals {
	var items int64
	for _, line := range lines {
		items += line.UnitPrice * int64(line.Quantity)
	}
	shipping := p.ShippingFor(items)
	return OrderTotals{
		ItemsPrice:    items,
		ShippingPrice: shipping,
		TotalPrice:    items + shipping,
	}
}

// MoneyFormatter renders minor-unit amounts for display in a fixed currency and locale.
type MoneyFormatter struct {
	unit    currency.Unit
	printer *message.Printer
	scale   int
}

// NewMoneyFormatter builds a formatter for an ISO 4217 currency code and a BCP 47 locale.
func NewMoneyFormatter(currencyCode, locale string) (MoneyFormatter, error) {
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	if code == "" {
		code = defaultCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return MoneyFormatter{}, fmt.Errorf("money formatter: currency %q: %w", code, err)
	}

	loc := strings.TrimSpace(locale)
	if loc == "" {
		loc = defaultLocale
	}
	tag, err := language.Parse(loc)
	if err != nil {
		return MoneyFormatter{}, fmt.Errorf("money formatter: locale %q: %w", loc, err)
	}

	scale, _ := currency.Standard.Rounding(unit)
	return MoneyFormatter{
		unit:    unit,
		printer: message.NewPrinter(tag),
		scale:   scale,
	}, nil
}

// Currency returns the ISO code of the formatter's currency.
func (f MoneyFormatter) Currency() string {
	if f.printer == nil {
		return defaultCurrency
	}
	return f.unit.String()
}

// Format renders the minor-unit amount with the currency symbol, e.g. "₹ 499.99".
func (f MoneyFormatter) Format(minor int64) string {
	if f.printer == nil {
		return fmt.Sprintf("%s %d", defaultCurrency, minor)
	}
	major := float64(minor)
	for i := 0; i < f.scale; i++ {
		major /= 10
	}
	return f.printer.Sprint(currency.Symbol(f.unit.Amount(major)))
}
