// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers bearer token mode, anonymous header mode and context propagation

package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, verifier TokenVerifier, req *http.Request) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var got *Identity
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := httptest.NewRecorder()
	HTTPAuthMiddleware(verifier, logger)(handler).ServeHTTP(rec, req)
	return rec, got
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/reservations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(RequesterHeader, "mallory")

	rec, id := serve(t, verifier, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, id)
	assert.Equal(t, "alice", id.RequesterID, "the header is ignored when tokens are required")
	assert.Equal(t, MethodJWT, id.Method)
}

func TestHTTPAuthMiddleware_TokenErrors(t *testing.T) {
	verifier := newTestVerifier(t)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "empty token", header: "Bearer "},
		{name: "invalid token", header: "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/reservations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec, id := serve(t, verifier, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Nil(t, id)
		})
	}
}

func TestHTTPAuthMiddleware_AnonymousMode(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/reservations", nil)
	req.Header.Set(RequesterHeader, " bob ")

	rec, id := serve(t, nil, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, id)
	assert.Equal(t, "bob", id.RequesterID)
	assert.Equal(t, MethodHeader, id.Method)

	rec, id = serve(t, nil, httptest.NewRequest(http.MethodGet, "/api/reservations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, id)
}

func TestContext_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))
	assert.Panics(t, func() { MustFromContext(ctx) })

	ctx = WithIdentity(ctx, &Identity{RequesterID: "alice", Method: MethodJWT})
	assert.Equal(t, "alice", MustFromContext(ctx).RequesterID)
}
