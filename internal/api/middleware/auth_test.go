package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("admin", "secret", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		return []byte("secret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("parse: %v", err)
	}

	claims := parsed.Claims.(jwt.MapClaims)
	if sub, _ := claims["sub"].(string); sub != "admin" {
		t.Fatalf("sub = %q", sub)
	}
	exp, _ := claims["exp"].(float64)
	if time.Unix(int64(exp), 0).Before(time.Now().Add(50 * time.Minute)) {
		t.Fatal("expiry too early")
	}
}

func TestGenerateJWTRejectedWithWrongSecret(t *testing.T) {
	token, err := GenerateJWT("admin", "secret", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		return []byte("other"), nil
	})
	if err == nil && parsed.Valid {
		t.Fatal("token must not validate under a different secret")
	}
}
