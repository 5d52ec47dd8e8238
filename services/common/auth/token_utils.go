package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrSecretNotConfigured = errors.New("JWT secret not configured")

// Identity is the authenticated caller as carried by an access token.
type Identity struct {
	Email string
	Name  string
	Role  string
}

// TokenVerifier validates HMAC signed access tokens.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &TokenVerifier{}
	}
	return &TokenVerifier{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (v *TokenVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// ParseAndValidateToken parses a JWT and returns its claims. If expectedType
// is non-empty the "typ" claim must match it.
func (v *TokenVerifier) ParseAndValidateToken(tokenStr, expectedType string) (jwt.MapClaims, error) {
	if !v.Enabled() {
		return nil, ErrSecretNotConfigured
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if expectedType != "" {
		if typ, ok := claims["typ"].(string); !ok || typ != expectedType {
			return nil, fmt.Errorf("invalid token type")
		}
	}
	return claims, nil
}

// Identify validates an access token and extracts the caller identity. The
// role claim is optional; callers resolve it elsewhere when it is empty.
func (v *TokenVerifier) Identify(tokenStr string) (Identity, error) {
	claims, err := v.ParseAndValidateToken(tokenStr, "access")
	if err != nil {
		return Identity{}, err
	}
	email, _ := claims["email"].(string)
	if strings.TrimSpace(email) == "" {
		return Identity{}, fmt.Errorf("token has no email claim")
	}
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)
	return Identity{Email: strings.ToLower(strings.TrimSpace(email)), Name: name, Role: role}, nil
}

// Issue signs an access token for id. It exists for local tooling and tests;
// production tokens come from the identity provider.
func (v *TokenVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrSecretNotConfigured
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"typ":   "access",
		"email": id.Email,
		"name":  id.Name,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if id.Role != "" {
		claims["role"] = id.Role
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
