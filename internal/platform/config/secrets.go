package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// SecretResolver resolves secret:// references, normally against Secret Manager.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errNoSecretResolver = errors.New("secret resolver not configured")

// SecretError reports a reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved to nothing. Error and RedactedNames only
// expose short hashes of the field names so the message is safe to log.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("config: missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the sorted hashes of the missing field names.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// resolveSecretField replaces *field with the secret it references and records the result under
// name. Plain values are recorded as they are.
func resolveSecretField(ctx context.Context, resolver SecretResolver, name string, field *string, resolved map[string]string) error {
	ref, ok := secretReference(*field)
	if !ok {
		resolved[name] = strings.TrimSpace(*field)
		return nil
	}
	if resolver == nil {
		return &SecretError{Ref: ref, Err: errNoSecretResolver}
	}
	value, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return &SecretError{Ref: ref, Err: err}
	}
	*field = value
	resolved[name] = strings.TrimSpace(value)
	return nil
}

// secretReference recognises secret:// and the older sm:// scheme and normalises to secret://.
func secretReference(value string) (string, bool) {
	value = strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(value, "secret://"):
		return value, true
	case strings.HasPrefix(value, "sm://"):
		return "secret://" + strings.TrimPrefix(value, "sm://"), true
	default:
		return "", false
	}
}

func missingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := map[string]bool{}
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
