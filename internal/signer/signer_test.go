package signer

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecorate_AttachesCurrentToken(t *testing.T) {
	t.Parallel()

	tok := "A1"
	s := New(TokenSourceFunc(func() string { return tok }))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	used := s.Decorate(req)
	require.Equal(t, "A1", used)
	require.Equal(t, "Bearer A1", req.Header.Get(HeaderAuthorization))

	// Токен читается в момент отправки, а не при создании подписчика.
	tok = "A2"
	req2 := httptest.NewRequest(http.MethodGet, "/products", nil)
	s.Decorate(req2)
	require.Equal(t, "Bearer A2", req2.Header.Get(HeaderAuthorization))
}

func TestDecorate_KeepsExplicitHeader(t *testing.T) {
	t.Parallel()

	s := New(TokenSourceFunc(func() string { return "A1" }))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.Header.Set(HeaderAuthorization, "Bearer explicit")

	used := s.Decorate(req)
	require.Equal(t, "explicit", used)
	require.Equal(t, "Bearer explicit", req.Header.Get(HeaderAuthorization))
}

func TestDecorate_NoToken_SendsUnauthenticated(t *testing.T) {
	t.Parallel()

	s := New(TokenSourceFunc(func() string { return "" }))

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	require.Empty(t, s.Decorate(req))
	require.Empty(t, req.Header.Get(HeaderAuthorization))

	var nilSigner *Signer
	require.Empty(t, nilSigner.Decorate(req))
}

func TestTokenFromHeader(t *testing.T) {
	t.Parallel()

	require.Equal(t, "A1", TokenFromHeader("Bearer A1"))
	require.Equal(t, "", TokenFromHeader("Basic dXNlcg=="))
	require.Equal(t, "", TokenFromHeader(""))
}
