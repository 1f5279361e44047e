package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	domain "github.com/kartline/api/internal/domain"
	"github.com/kartline/api/internal/services"
)

type capturedObject struct {
	bucket   string
	object   string
	data     []byte
	metadata map[string]string
}

func TestOrderArchiverWritesSnapshot(t *testing.T) {
	var captured []capturedObject
	archiver, err := NewOrderArchiverWithWriter("kartline-orders", func(_ context.Context, bucket, object string, data []byte, metadata map[string]string) error {
		captured = append(captured, capturedObject{bucket: bucket, object: object, data: data, metadata: metadata})
		return nil
	})
	if err != nil {
		t.Fatalf("NewOrderArchiverWithWriter: %v", err)
	}

	created := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	order := services.Order{
		ID:              "01HZX3Y8N6V9Q2J4K5M7P8R9ST",
		OrderNumber:     "KL-2025-000001",
		UserID:          "user_1",
		Items:           []domain.OrderLine{{ProductID: "prod_a", Name: "Steel Bottle", UnitPrice: 10000, Quantity: 2}},
		PaymentMethod:   domain.PaymentMethodCOD,
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.OrderStatusPlaced,
		ItemsPrice:      20000,
		ShippingPrice:   4000,
		TotalPrice:      24000,
		CreatedAt:       created,
		StatusUpdatedAt: created,
	}

	if err := archiver.ArchiveOrder(context.Background(), order); err != nil {
		t.Fatalf("ArchiveOrder: %v", err)
	}

	if len(captured) != 1 {
		t.Fatalf("expected one object, got %d", len(captured))
	}
	obj := captured[0]
	if obj.bucket != "kartline-orders" || obj.object != "orders/2025/03/01HZX3Y8N6V9Q2J4K5M7P8R9ST/placed.json" {
		t.Fatalf("unexpected destination %s/%s", obj.bucket, obj.object)
	}
	if obj.metadata["orderNumber"] != "KL-2025-000001" || obj.metadata["status"] != "Placed" {
		t.Fatalf("unexpected metadata %v", obj.metadata)
	}

	var snapshot orderSnapshot
	if err := json.Unmarshal(obj.data, &snapshot); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snapshot.TotalPrice != 24000 || len(snapshot.Items) != 1 || snapshot.Items[0].UnitPrice != 10000 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestOrderArchiverPropagatesWriteErrors(t *testing.T) {
	archiver, err := NewOrderArchiverWithWriter("bucket", func(context.Context, string, string, []byte, map[string]string) error {
		return errors.New("forbidden")
	})
	if err != nil {
		t.Fatalf("NewOrderArchiverWithWriter: %v", err)
	}

	err = archiver.ArchiveOrder(context.Background(), services.Order{ID: "order_1", Status: domain.OrderStatusPacked, CreatedAt: time.Now()})
	if err == nil {
		t.Fatalf("expected write error")
	}
}

func TestNewOrderArchiverValidatesInput(t *testing.T) {
	if _, err := NewOrderArchiverWithWriter(" ", func(context.Context, string, string, []byte, map[string]string) error { return nil }); err == nil {
		t.Fatalf("expected bucket error")
	}
	if _, err := NewOrderArchiverWithWriter("bucket", nil); err == nil {
		t.Fatalf("expected writer error")
	}
	if _, err := NewOrderArchiver(nil, "bucket"); err == nil {
		t.Fatalf("expected client error")
	}
}
