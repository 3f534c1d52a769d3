package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/alzaio/anyvideodownload/internal/api/middleware"
)

// AuthHandler authenticates the single operator account configured at
// startup. The password is hashed once so login compares against a bcrypt
// digest, never the raw config value.
type AuthHandler struct {
	username     string
	passwordHash []byte
	jwtSecret    string
	jwtExpiry    time.Duration
}

func NewAuthHandler(username, password, jwtSecret string, jwtExpiry time.Duration) (*AuthHandler, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return nil, err
	}
	return &AuthHandler{
		username:     username,
		passwordHash: hash,
		jwtSecret:    jwtSecret,
		jwtExpiry:    jwtExpiry,
	}, nil
}

type LoginInput struct {
	Body struct {
		Username string `json:"username" minLength:"1" doc:"Username"`
		Password string `json:"password" minLength:"1" doc:"Password"`
	}
}

type LoginDTO struct {
	Token     string `json:"token" doc:"JWT token"`
	ExpiresIn int    `json:"expires_in" doc:"Token lifetime in seconds"`
}

func (h *AuthHandler) Login(ctx context.Context, input *LoginInput) (*DataOutput[LoginDTO], error) {
	if input.Body.Username != h.username {
		return nil, huma.Error401Unauthorized("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword(h.passwordHash, []byte(input.Body.Password)); err != nil {
		return nil, huma.Error401Unauthorized("invalid username or password")
	}

	token, err := middleware.GenerateJWT(h.username, h.jwtSecret, h.jwtExpiry)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to generate token")
	}

	return OK(LoginDTO{
		Token:     token,
		ExpiresIn: int(h.jwtExpiry.Seconds()),
	}), nil
}
