package storage

import (
	"fmt"
	"strings"
	"time"
)

// orderSnapshotObject names the archive object for an order entering status. Objects are
// partitioned by the order's creation month so bucket lifecycle rules can age out whole months,
// e.g. orders/2025/03/01HZX.../out-for-delivery.json.
func orderSnapshotObject(orderID, status string, createdAt time.Time) (string, error) {
	id := strings.TrimSpace(orderID)
	slug := strings.ToLower(strings.Join(strings.Fields(status), "-"))
	for name, segment := range map[string]string{"order id": id, "status": slug} {
		if segment == "" {
			return "", fmt.Errorf("storage: %s is required", name)
		}
		if strings.ContainsAny(segment, `/\`) || strings.Contains(segment, "..") {
			return "", fmt.Errorf("storage: %s %q is not a safe object segment", name, segment)
		}
	}
	if createdAt.IsZero() {
		return "", fmt.Errorf("storage: order %s has no creation time", id)
	}
	created := createdAt.UTC()
	return fmt.Sprintf("orders/%04d/%02d/%s/%s.json", created.Year(), int(created.Month()), id, slug), nil
}
