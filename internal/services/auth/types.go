package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrSessionNotFound = errors.New("session not found")
	ErrRefreshNotFound = errors.New("refresh token not found")
	ErrProvider        = errors.New("identity provider error")
)

type SessionRecord struct {
	SID       string
	UserID    int64
	Email     string
	ExpiresAt time.Time
}

type AccessClaims struct {
	UserID    int64
	SID       string
	Email     string
	ExpiresAt time.Time
}

type Me struct {
	ID        int64
	Email     string
	Name      string
	AvatarURL string
}

type AuthResult struct {
	AccessToken   string
	RefreshToken  string
	AccessExpires time.Time
	Me            Me
}

func NewRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
