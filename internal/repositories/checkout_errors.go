package repositories

import (
	"errors"
	"fmt"
)

// CheckoutErrorCode enumerates business failures raised inside order and cart transactions.
type CheckoutErrorCode string

const (
	// CheckoutErrorUnknown represents an unspecified failure.
	CheckoutErrorUnknown CheckoutErrorCode = "checkout_unknown"
	// CheckoutErrorCartVersionMismatch indicates the cart changed after it was validated.
	CheckoutErrorCartVersionMismatch CheckoutErrorCode = "checkout_cart_version_mismatch"
	// CheckoutErrorCartEmpty indicates the cart holds no lines at commit time.
	CheckoutErrorCartEmpty CheckoutErrorCode = "checkout_cart_empty"
	// CheckoutErrorProductNotFound indicates a referenced product no longer exists.
	CheckoutErrorProductNotFound CheckoutErrorCode = "checkout_product_not_found"
	// CheckoutErrorInsufficientStock indicates requested quantity exceeds live stock.
	CheckoutErrorInsufficientStock CheckoutErrorCode = "checkout_insufficient_stock"
	// CheckoutErrorProductChanged indicates a product price moved between pricing and commit.
	CheckoutErrorProductChanged CheckoutErrorCode = "checkout_product_changed"
	// CheckoutErrorOrderExists indicates the order document id is already taken.
	CheckoutErrorOrderExists CheckoutErrorCode = "checkout_order_exists"
)

// CheckoutError wraps checkout failures with machine readable codes and the offending line.
type CheckoutError struct {
	Op          string
	Code        CheckoutErrorCode
	Message     string
	ProductID   string
	ProductName string
	Available   int
	Requested   int
	Err         error
}

// Error implements the error interface.
func (e *CheckoutError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CheckoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCheckoutError constructs a typed checkout error.
func NewCheckoutError(code CheckoutErrorCode, message string, err error) *CheckoutError {
	if message == "" {
		message = string(code)
	}
	return &CheckoutError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError describes a stock shortfall for a single line.
func NewInsufficientStockError(productID, name string, available, requested int) *CheckoutError {
	label := name
	if label == "" {
		label = productID
	}
	return &CheckoutError{
		Code:        CheckoutErrorInsufficientStock,
		Message:     fmt.Sprintf("insufficient stock for %s: available %d, requested %d", label, available, requested),
		ProductID:   productID,
		ProductName: name,
		Available:   available,
		Requested:   requested,
	}
}

// AsCheckoutError extracts a CheckoutError with the given code from err.
func AsCheckoutError(err error, code CheckoutErrorCode) (*CheckoutError, bool) {
	var checkoutErr *CheckoutError
	if !errors.As(err, &checkoutErr) || checkoutErr == nil {
		return nil, false
	}
	if code != "" && checkoutErr.Code != code {
		return nil, false
	}
	return checkoutErr, true
}
