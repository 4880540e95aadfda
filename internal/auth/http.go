// ABOUTME: HTTP middleware identifying the requester of API calls
// ABOUTME: Verifies a bearer JWT when configured, otherwise trusts the X-Requester-ID header

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// RequesterHeader names the requester in anonymous mode.
const RequesterHeader = "X-Requester-ID"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// HTTPAuthMiddleware attaches the requester Identity to the request context.
// With a verifier, a valid bearer token is required and its sub claim is the
// requester. Without one, the X-Requester-ID header is required instead.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id *Identity
			if verifier != nil {
				token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
				if errMsg != "" {
					http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
					return
				}
				requesterID, err := verifier.Verify(token)
				if err != nil {
					logger.Debug("rejected token", "error", err, "remote", r.RemoteAddr)
					http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
					return
				}
				id = &Identity{RequesterID: requesterID, Method: MethodJWT}
			} else {
				requesterID := strings.TrimSpace(r.Header.Get(RequesterHeader))
				if requesterID == "" {
					http.Error(w, `{"error":"missing `+RequesterHeader+` header"}`, http.StatusUnauthorized)
					return
				}
				id = &Identity{RequesterID: requesterID, Method: MethodHeader}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
