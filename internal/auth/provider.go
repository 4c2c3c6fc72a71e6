package auth

import (
	"context"
	"errors"
	"os"
	"strings"
)

// ErrNoCredential indicates no session credential is currently available.
// The connection manager treats this as "stay disconnected, attempt nothing".
var ErrNoCredential = errors.New("no credential available")

// CredentialProvider supplies the bearer token used to open the push
// transport and to authenticate oracle fetches. It is passed explicitly
// rather than read from ambient global state so callers can substitute a
// fake in tests or swap the session source at runtime.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticProvider returns a fixed token.
type StaticProvider struct {
	token string
}

// NewStaticProvider creates a provider for a known token. An empty token
// yields ErrNoCredential on every call.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: strings.TrimSpace(token)}
}

// Token returns the configured token
func (p *StaticProvider) Token(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", ErrNoCredential
	}
	return p.token, nil
}

// EnvProvider reads the token from an environment variable on every call,
// so a session refreshed by an external process is picked up without a
// restart.
type EnvProvider struct {
	key string
}

// NewEnvProvider creates a provider backed by the named environment variable
func NewEnvProvider(key string) *EnvProvider {
	return &EnvProvider{key: key}
}

// Token returns the current value of the environment variable
func (p *EnvProvider) Token(ctx context.Context) (string, error) {
	token := strings.TrimSpace(os.Getenv(p.key))
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// ProviderFunc adapts a function into a CredentialProvider
type ProviderFunc func(ctx context.Context) (string, error)

// Token executes f(ctx)
func (f ProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
