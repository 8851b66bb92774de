// Package guard implements the two access-control checks the gateway
// enforces: a constant-time producer API-key comparison, and a
// consumer bearer/query token scoped to a stream key, grounded on the
// orchestrator's cmd/gateway/internal/middleware/auth.go (token
// extraction from header-or-query) and tinistream's auth/api_key.rs and
// auth/client_token.rs.
package guard

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/fa-sharp/streamgate/internal/apierr"
	"github.com/fa-sharp/streamgate/internal/token"
)

// ProducerGuard validates the shared X-API-KEY header against a
// configured constant, using a constant-time comparison to avoid
// leaking key material through timing, mirroring the crypto/subtle
// usage in the orchestrator's own auth package.
type ProducerGuard struct {
	apiKey []byte
}

// NewProducerGuard builds a guard comparing against apiKey.
func NewProducerGuard(apiKey string) *ProducerGuard {
	return &ProducerGuard{apiKey: []byte(apiKey)}
}

// Check validates the request's X-API-KEY header.
func (g *ProducerGuard) Check(r *http.Request) error {
	got := r.Header.Get("X-API-KEY")
	if got == "" {
		return apierr.New(apierr.KindUnauthorized, "missing API key")
	}
	if subtle.ConstantTimeCompare([]byte(got), g.apiKey) != 1 {
		return apierr.New(apierr.KindUnauthorized, "invalid API key")
	}
	return nil
}

// ConsumerGuard validates a bearer token scoped to a stream key. The
// token may arrive in the Authorization header or, because browser
// EventSource cannot set headers, in a "token" query parameter.
type ConsumerGuard struct {
	tokens *token.Service
}

// NewConsumerGuard builds a guard backed by the given token service.
func NewConsumerGuard(tokens *token.Service) *ConsumerGuard {
	return &ConsumerGuard{tokens: tokens}
}

// Check validates the request's bearer token against the given stream
// key.
func (g *ConsumerGuard) Check(r *http.Request, key string) error {
	tok := extractToken(r)
	if tok == "" {
		return apierr.New(apierr.KindUnauthorized, "missing token")
	}
	return g.tokens.ValidateClientToken(tok, key)
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
	}
	return r.URL.Query().Get("token")
}
