package firestore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/kartline/api/internal/platform/firestore"
	"github.com/kartline/api/internal/repositories"
)

func TestPlacementErrorReportsOrderIDCollisionFromCommit(t *testing.T) {
	commitErr := pfirestore.WrapError("transaction", status.Error(codes.AlreadyExists, "document already exists"))

	err := placementError("01HZX3Y8N6V9Q2J4K5M7P8R9ST", commitErr)

	checkoutErr, ok := repositories.AsCheckoutError(err, repositories.CheckoutErrorOrderExists)
	require.True(t, ok, "expected order-exists checkout error, got %v", err)
	assert.Equal(t, "orders.place", checkoutErr.Op)
	assert.Contains(t, checkoutErr.Message, "01HZX3Y8N6V9Q2J4K5M7P8R9ST")
	assert.Equal(t, codes.AlreadyExists, status.Code(errors.Unwrap(checkoutErr)))
}

func TestPlacementErrorKeepsBusinessAndStoreErrors(t *testing.T) {
	shortfall := repositories.NewInsufficientStockError("prod_b", "Mug", 1, 3)
	err := placementError("order-1", shortfall)
	got, ok := repositories.AsCheckoutError(err, repositories.CheckoutErrorInsufficientStock)
	require.True(t, ok)
	assert.Equal(t, "orders.place", got.Op)

	unavailable := placementError("order-1", status.Error(codes.Unavailable, "backend down"))
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, unavailable, &repoErr)
	assert.True(t, repoErr.IsUnavailable())
	_, ok = repositories.AsCheckoutError(unavailable, "")
	assert.False(t, ok)
}

func TestValidSequenceName(t *testing.T) {
	assert.True(t, validSequenceName("orders-2026"))
	assert.False(t, validSequenceName("  "))
	assert.False(t, validSequenceName("orders/2026"))
}
