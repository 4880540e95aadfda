// ABOUTME: Requester tokens: HS256 JWTs whose subject is the requester ID
// ABOUTME: Verified by the HTTP middleware and minted by the token command

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest accepted HS256 signing secret.
const MinSecretLength = 32

// tokenIssuer is stamped into minted tokens.
const tokenIssuer = "coven-actuator"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// TokenVerifier resolves a bearer token to a requester ID.
type TokenVerifier interface {
	Verify(tokenString string) (requesterID string, err error)
}

// requesterClaims is the token payload. Only sub and exp are required.
type requesterClaims struct {
	jwt.RegisteredClaims
}

// JWTVerifier signs and checks requester tokens with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify returns the requester named by a valid, unexpired token.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims requesterClaims
	_, err := v.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate mints a token for requesterID valid for ttl.
func (v *JWTVerifier) Generate(requesterID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := requesterClaims{jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   requesterID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
