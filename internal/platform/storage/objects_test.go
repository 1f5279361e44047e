package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderSnapshotObject(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	object, err := orderSnapshotObject("01HZX3Y8N6V9Q2J4K5M7P8R9ST", "Out for Delivery", time.Date(2025, 4, 1, 2, 0, 0, 0, ist))
	require.NoError(t, err)
	assert.Equal(t, "orders/2025/03/01HZX3Y8N6V9Q2J4K5M7P8R9ST/out-for-delivery.json", object, "partition uses the UTC month")
}

func TestOrderSnapshotObjectRejects(t *testing.T) {
	created := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	cases := map[string]struct {
		orderID, status string
		created         time.Time
	}{
		"traversal id":   {orderID: "../bad", status: "Placed", created: created},
		"slash id":       {orderID: "a/b", status: "Placed", created: created},
		"empty id":       {orderID: " ", status: "Placed", created: created},
		"empty status":   {orderID: "01HZX", status: "", created: created},
		"no create time": {orderID: "01HZX", status: "Placed"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := orderSnapshotObject(tc.orderID, tc.status, tc.created)
			assert.Error(t, err)
		})
	}
}
