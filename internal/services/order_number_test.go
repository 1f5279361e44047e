package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderNumberingPerYear(t *testing.T) {
	svc, err := NewOrderNumberService(OrderNumberServiceDeps{})
	require.NoError(t, err)

	dec := svc.Numbering(time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, "orders-2025", dec.Sequence)
	assert.Equal(t, "KL-2025-000001", dec.Format(1))
	assert.Equal(t, "KL-2025-123456", dec.Format(123456))

	jan := svc.Numbering(time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC))
	assert.Equal(t, "orders-2026", jan.Sequence)
	assert.Equal(t, "KL-2026-000042", jan.Format(42))
}

func TestOrderNumberingUsesUTCYear(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	svc, err := NewOrderNumberService(OrderNumberServiceDeps{Prefix: " kx "})
	require.NoError(t, err)

	numbering := svc.Numbering(time.Date(2026, 1, 1, 2, 0, 0, 0, ist))
	assert.Equal(t, "orders-2025", numbering.Sequence)
	assert.Equal(t, "KX-2025-000001", numbering.Format(1))
}

func TestOrderNumberServiceRejectsBadPrefix(t *testing.T) {
	for _, prefix := range []string{"K L", "KL-", "ÖR"} {
		_, err := NewOrderNumberService(OrderNumberServiceDeps{Prefix: prefix})
		assert.Error(t, err, prefix)
	}
}
