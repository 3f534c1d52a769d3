// Package middleware holds the huma-level request middlewares: bearer-token
// authentication for the operator API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const subjectKey contextKey = "subject"

// GetSubject returns the authenticated subject, or "" outside an
// authenticated request.
func GetSubject(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey).(string)
	return v
}

// GenerateJWT signs a token for the subject with an HS256 signature.
func GenerateJWT(subject, secret string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiry).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Auth validates the Bearer token and stashes the subject in the request
// context.
func Auth(jwtSecret string) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		auth := ctx.Header("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeUnauthorized(ctx, "authentication required")
			return
		}

		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			writeUnauthorized(ctx, "invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeUnauthorized(ctx, "invalid claims")
			return
		}
		subject, _ := claims["sub"].(string)

		echoCtx := humaecho.Unwrap(ctx)
		r := echoCtx.Request()
		echoCtx.SetRequest(r.WithContext(context.WithValue(r.Context(), subjectKey, subject)))
		next(ctx)
	}
}

func writeUnauthorized(ctx huma.Context, msg string) {
	ctx.SetStatus(http.StatusUnauthorized)
	ctx.SetHeader("Content-Type", "application/json")
	_ = json.NewEncoder(ctx.BodyWriter()).Encode(huma.ErrorModel{
		Title:  http.StatusText(http.StatusUnauthorized),
		Status: http.StatusUnauthorized,
		Detail: msg,
	})
}
