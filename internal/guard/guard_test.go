package guard

import (
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fa-sharp/streamgate/internal/token"
)

func TestProducerGuardAcceptsCorrectKey(t *testing.T) {
	g := NewProducerGuard("secret123")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-KEY", "secret123")
	require.NoError(t, g.Check(req))
}

func TestProducerGuardRejectsWrongKey(t *testing.T) {
	g := NewProducerGuard("secret123")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-KEY", "wrong")
	require.Error(t, g.Check(req))
}

func TestProducerGuardRejectsMissingKey(t *testing.T) {
	g := NewProducerGuard("secret123")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Error(t, g.Check(req))
}

func newTokenService(t *testing.T) *token.Service {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	svc, err := token.New(key)
	require.NoError(t, err)
	return svc
}

func TestConsumerGuardAcceptsBearerHeader(t *testing.T) {
	svc := newTokenService(t)
	g := NewConsumerGuard(svc)

	tok, err := svc.MintClientToken("mykey", 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/?key=mykey", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	require.NoError(t, g.Check(req, "mykey"))
}

func TestConsumerGuardAcceptsQueryToken(t *testing.T) {
	svc := newTokenService(t)
	g := NewConsumerGuard(svc)

	tok, err := svc.MintClientToken("mykey", 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/?key=mykey&token="+tok, nil)
	require.NoError(t, g.Check(req, "mykey"))
}

func TestConsumerGuardRejectsWrongScope(t *testing.T) {
	svc := newTokenService(t)
	g := NewConsumerGuard(svc)

	tok, err := svc.MintClientToken("mykey", 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/?key=other", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	require.Error(t, g.Check(req, "other"))
}

func TestConsumerGuardRejectsMissingToken(t *testing.T) {
	svc := newTokenService(t)
	g := NewConsumerGuard(svc)

	req := httptest.NewRequest(http.MethodGet, "/?key=mykey", nil)
	require.Error(t, g.Check(req, "mykey"))
}
