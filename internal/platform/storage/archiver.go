package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kartline/api/internal/services"
)

// ObjectWriter stores data under bucket/object unless the object already exists.
type ObjectWriter func(ctx context.Context, bucket, object string, data []byte, metadata map[string]string) error

// OrderArchiver writes immutable JSON snapshots of orders to Cloud Storage.
// Each status an order enters gets its own object, so the bucket holds the order's full history.
type OrderArchiver struct {
	bucket  string
	write   ObjectWriter
	marshal func(any) ([]byte, error)
}

// NewOrderArchiver constructs an archiver writing through the Cloud Storage client.
func NewOrderArchiver(client *gcs.Client, bucket string) (*OrderArchiver, error) {
	if client == nil {
		return nil, errors.New("order archiver: client is required")
	}
	return NewOrderArchiverWithWriter(bucket, gcsObjectWriter(client))
}

// NewOrderArchiverWithWriter constructs an archiver over a custom writer.
func NewOrderArchiverWithWriter(bucket string, write ObjectWriter) (*OrderArchiver, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if write == nil {
		return nil, errors.New("order archiver: writer is required")
	}
	return &OrderArchiver{bucket: bucket, write: write, marshal: json.Marshal}, nil
}

var errInvalidBucket = errors.New("storage: bucket name is required")

type orderSnapshot struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"orderNumber,omitempty"`
	UserID          string              `json:"userId"`
	Items           []orderSnapshotLine `json:"items"`
	ShippingAddress orderSnapshotAddress `json:"shippingAddress"`
	PaymentMethod   string              `json:"paymentMethod"`
	PaymentStatus   string              `json:"paymentStatus"`
	Status          string              `json:"status"`
	ItemsPrice      int64               `json:"itemsPrice"`
	ShippingPrice   int64               `json:"shippingPrice"`
	TotalPrice      int64               `json:"totalPrice"`
	CancelReason    string              `json:"cancelReason,omitempty"`
	StockRestoredAt *time.Time          `json:"stockRestoredAt,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	StatusUpdatedAt time.Time           `json:"statusUpdatedAt"`
}

type orderSnapshotLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Image     string `json:"image,omitempty"`
}

type orderSnapshotAddress struct {
	FullName string `json:"fullName"`
	Mobile   string `json:"mobile"`
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
}

// ArchiveOrder stores the order under its current status. Re-archiving the same status is a no-op.
func (a *OrderArchiver) ArchiveOrder(ctx context.Context, order services.Order) error {
	if a == nil || a.write == nil {
		return errors.New("order archiver: not initialised")
	}

	object, err := orderSnapshotObject(order.ID, string(order.Status), order.CreatedAt)
	if err != nil {
		return err
	}

	data, err := a.marshal(newOrderSnapshot(order))
	if err != nil {
		return fmt.Errorf("marshal order snapshot: %w", err)
	}

	metadata := map[string]string{
		"orderId": order.ID,
		"userId":  order.UserID,
		"status":  string(order.Status),
	}
	if order.OrderNumber != "" {
		metadata["orderNumber"] = order.OrderNumber
	}

	if err := a.write(ctx, a.bucket, object, data, metadata); err != nil {
		return fmt.Errorf("archive order %s: %w", order.ID, err)
	}
	return nil
}

func newOrderSnapshot(order services.Order) orderSnapshot {
	lines := make([]orderSnapshotLine, 0, len(order.Items))
	for _, line := range order.Items {
		lines = append(lines, orderSnapshotLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Image:     line.Image,
		})
	}
	return orderSnapshot{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Items:       lines,
		ShippingAddress: orderSnapshotAddress{
			FullName: order.ShippingAddress.FullName,
			Mobile:   order.ShippingAddress.Mobile,
			Street:   order.ShippingAddress.Street,
			City:     order.ShippingAddress.City,
			State:    order.ShippingAddress.State,
			Pincode:  order.ShippingAddress.Pincode,
		},
		PaymentMethod:   string(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),
		Status:          string(order.Status),
		ItemsPrice:      order.ItemsPrice,
		ShippingPrice:   order.ShippingPrice,
		TotalPrice:      order.TotalPrice,
		CancelReason:    order.CancelReason,
		StockRestoredAt: order.StockRestoredAt,
		CreatedAt:       order.CreatedAt.UTC(),
		StatusUpdatedAt: order.StatusUpdatedAt.UTC(),
	}
}

// gcsObjectWriter creates objects with a does-not-exist precondition so snapshots are never overwritten.
func gcsObjectWriter(client *gcs.Client) ObjectWriter {
	return func(ctx context.Context, bucket, object string, data []byte, metadata map[string]string) error {
		obj := client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
		w := obj.NewWriter(ctx)
		w.ContentType = "application/json"
		w.Metadata = metadata
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
				return nil
			}
			return err
		}
		return nil
	}
}

// BucketCheck reports whether the archive bucket is reachable. Used by readiness probes.
// A runtime identity that may write objects but not read bucket metadata still counts as reachable.
func BucketCheck(client *gcs.Client, bucket string) func(context.Context) error {
	handle := client.Bucket(bucket)
	return func(ctx context.Context) error {
		_, err := handle.Attrs(ctx)
		if err == nil || status.Code(err) == codes.PermissionDenied {
			return nil
		}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
			return nil
		}
		return err
	}
}

var _ services.OrderArchiver = (*OrderArchiver)(nil)
