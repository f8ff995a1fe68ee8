// Package identity resolves opaque session tokens to principals. The engine
// never mints tokens; it only asks who a token belongs to.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gavelhouse/settlement/internal/config"
)

// ErrInvalidToken means the token is unknown or expired.
var ErrInvalidToken = errors.New("invalid session token")

// Principal is an authenticated caller.
type Principal struct {
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
}

// Resolver maps a session token to a principal.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Principal, error)
}

// HTTPResolver asks an external identity provider over HTTP.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
}

// NewHTTPResolver returns a resolver backed by the provider at endpoint.
func NewHTTPResolver(endpoint string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Resolve calls the provider with the token as a bearer credential.
func (r *HTTPResolver) Resolve(ctx context.Context, token string) (Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return Principal{}, fmt.Errorf("building identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return Principal{}, fmt.Errorf("calling identity provider: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Principal{}, ErrInvalidToken
	default:
		return Principal{}, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var p Principal
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Principal{}, fmt.Errorf("decoding identity response: %w", err)
	}
	if p.UserID == "" {
		return Principal{}, ErrInvalidToken
	}
	return p, nil
}

// StaticResolver resolves tokens from a fixed map. Used for tests and local
// development.
type StaticResolver struct {
	tokens map[string]Principal
}

// NewStaticResolver builds a resolver from the configured token map.
func NewStaticResolver(tokens map[string]config.StaticToken) *StaticResolver {
	m := make(map[string]Principal, len(tokens))
	for token, st := range tokens {
		m[token] = Principal{UserID: st.UserID, Admin: st.Admin}
	}
	return &StaticResolver{tokens: m}
}

// Resolve looks the token up in the static map.
func (r *StaticResolver) Resolve(_ context.Context, token string) (Principal, error) {
	p, ok := r.tokens[token]
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	return p, nil
}

// FromConfig picks the resolver the configuration selects.
func FromConfig(cfg config.IdentityConfig) Resolver {
	if cfg.Endpoint != "" {
		return NewHTTPResolver(cfg.Endpoint, cfg.Timeout)
	}
	return NewStaticResolver(cfg.Static)
}
