package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errors map[string]error
	calls  map[string]int
	closed bool
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: map[string]string{},
		errors: map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if err, ok := f.errors[req.GetName()]; ok {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretClient) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	client := newFakeSecretClient()
	resource := "projects/kartline-dev/secrets/firebase-credentials/versions/latest"
	client.values[resource] = `{"type":"service_account"}`

	fetcher, err := NewFetcher(ctx,
		withClient(client),
		WithProject("kartline-dev"),
		WithLogger(zap.NewNop()),
		WithClock(func() time.Time { return now }),
		WithCacheTTL(time.Minute),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://firebase-credentials")
		if err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
		if got != `{"type":"service_account"}` {
			t.Fatalf("unexpected value %q", got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote call, got %d", calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := fetcher.Resolve(ctx, "sm://firebase-credentials"); err != nil {
		t.Fatalf("Resolve after expiry: %v", err)
	}
	if calls := client.callCount(resource); calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", calls)
	}
}

func TestResolveHonoursVersionAndProjectOverrides(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/kartline-dev/secrets/oidc-audience/versions/4"] = "pinned"
	client.values["projects/other/secrets/oidc-audience/versions/7"] = "explicit"

	fetcher, err := NewFetcher(ctx,
		withClient(client),
		WithProject("kartline-dev"),
		WithVersionPins(map[string]string{"oidc-audience": "4"}),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "secret://oidc-audience")
	if err != nil || got != "pinned" {
		t.Fatalf("expected pinned value, got %q err=%v", got, err)
	}
	got, err = fetcher.Resolve(ctx, "secret://oidc-audience?version=7&project=other")
	if err != nil || got != "explicit" {
		t.Fatalf("expected explicit value, got %q err=%v", got, err)
	}
}

func TestResolveFallsBackWhenAccessDenied(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("firebase_credentials=local-json\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := newFakeSecretClient()
	client.errors["projects/kartline-dev/secrets/firebase-credentials/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		withClient(client),
		WithProject("kartline-dev"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "secret://firebase-credentials")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local-json" {
		t.Fatalf("expected fallback value, got %q", got)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("missing_secret=should-not-be-used\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	fetcher, err := NewFetcher(ctx,
		withClient(newFakeSecretClient()),
		WithProject("kartline-dev"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	if _, err := fetcher.Resolve(ctx, "secret://missing-secret"); status.Code(errors.Unwrap(err)) != codes.NotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("firebase_credentials=offline\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	fetcher, err := NewFetcher(ctx, WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://firebase-credentials")
	if err != nil || got != "offline" {
		t.Fatalf("expected offline value, got %q err=%v", got, err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://unknown"); err == nil {
		t.Fatal("expected error for unknown secret")
	}
}

func TestResolveRejectsMalformedReferences(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	for _, ref := range []string{"", "https://example.com/x", "secret://", "secret://a/b"} {
		if _, err := fetcher.Resolve(context.Background(), ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
}

func TestParseVersionPins(t *testing.T) {
	pins := ParseVersionPins(" firebase-credentials=3, sm://oidc-audience = 2 ,broken, =5,empty=")
	if len(pins) != 2 {
		t.Fatalf("expected two pins, got %v", pins)
	}
	if pins["firebase-credentials"] != "3" || pins["oidc-audience"] != "2" {
		t.Fatalf("unexpected pins %v", pins)
	}
}
