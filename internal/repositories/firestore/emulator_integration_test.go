//go:build integration

package firestore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	pconfig "github.com/kartline/api/internal/platform/config"
	pfirestore "github.com/kartline/api/internal/platform/firestore"
)

// newEmulatorProvider connects to the emulator named by FIRESTORE_EMULATOR_HOST, e.g. after
// `gcloud emulators firestore start --host-port=127.0.0.1:8787`. Each test gets its own project so
// runs never see each other's documents.
func newEmulatorProvider(t *testing.T, prefix string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano()),
		EmulatorHost: host,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func TestProviderPingEmptyProject(t *testing.T) {
	provider := newEmulatorProvider(t, "ping")
	if err := provider.Ping(context.Background()); err != nil {
		t.Fatalf("Ping on an empty project: %v", err)
	}
}
