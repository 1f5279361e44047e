// Package firestore owns the process-wide Firestore client and the small helpers the catalogue,
// cart and order repositories are built on.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kartline/api/internal/platform/config"
)

const (
	dialTimeout       = 10 * time.Second
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
	emulatorHostEnv   = "FIRESTORE_EMULATOR_HOST"
)

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider dials Firestore on first use and hands the same client to every repository.
type Provider struct {
	cfg  config.FirestoreConfig
	opts []option.ClientOption

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithClientOptions adds client options, typically credentials. They are ignored when an emulator
// host is configured.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.opts = append(p.opts, opts...)
	}
}

// NewProvider returns a Provider for cfg. No connection is made until Client is called.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client, dialling it on the first call.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.client != nil {
		return p.client, nil
	}

	projectID := strings.TrimSpace(p.cfg.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT"))
	}
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}

	opts := p.opts
	if host := p.emulatorHost(); host != "" {
		opts = []option.ClientOption{
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	p.client = client
	return client, nil
}

// Close releases the client. Later Client calls fail with ErrProviderClosed.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()
	if client == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (p *Provider) emulatorHost() string {
	if host := strings.TrimSpace(p.cfg.EmulatorHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv(emulatorHostEnv))
}

// TxOption customises RunTransaction.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts caps how often Firestore retries a contended transaction.
func WithTxAttempts(n int) TxOption {
	return func(s *txSettings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithTxTimeout bounds the whole transaction including retries.
func WithTxTimeout(d time.Duration) TxOption {
	return func(s *txSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// RunTransaction runs fn in a read-write transaction. Checkout, cancellation and stock edits all
// go through here so that every read inside fn sees one consistent snapshot.
func (p *Provider) RunTransaction(ctx context.Context, fn func(context.Context, *firestore.Transaction) error, opts ...TxOption) error {
	settings := txSettings{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(&settings)
	}

	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, settings.timeout)
	defer cancel()
	return WrapError("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(settings.attempts)))
}

// Ping lists at most one collection. It is the readiness probe for the primary store.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collections(ctx).Next()
	if err == nil || errors.Is(err, iterator.Done) {
		return nil
	}
	return WrapError("ping", err)
}
