package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pgrepo "github.com/lucaszub/background-remover/internal/repo/postgres"
)

// SessionStore keeps refresh sessions. Implemented by the redis session
// repository.
type SessionStore interface {
	Create(ctx context.Context, session SessionRecord, refreshToken string, ttl time.Duration) error
	GetSession(ctx context.Context, sid string) (SessionRecord, error)
	GetByRefreshToken(ctx context.Context, refreshToken string) (SessionRecord, error)
	RotateRefresh(ctx context.Context, sid, oldToken, newToken string, ttl time.Duration) error
	DeleteSession(ctx context.Context, sid string) error
	DeleteAllForUser(ctx context.Context, userID int64) error
}

// UserStore persists user accounts keyed by the OAuth subject.
type UserStore interface {
	Get(ctx context.Context, userID int64) (pgrepo.UserRecord, error)
	UpsertBySubject(ctx context.Context, subject, email, name, avatarURL string) (pgrepo.UserRecord, error)
}

// IdentityProvider exchanges an authorization code for a user profile.
type IdentityProvider interface {
	Exchange(ctx context.Context, code, redirectURI string) (Profile, error)
}

type Service struct {
	jwt        *JWTManager
	sessions   SessionStore
	users      UserStore
	provider   IdentityProvider
	refreshTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(jwt *JWTManager, sessions SessionStore, users UserStore, provider IdentityProvider, refreshTTL time.Duration, logger *zap.Logger) *Service {
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		jwt:        jwt,
		sessions:   sessions,
		users:      users,
		provider:   provider,
		refreshTTL: refreshTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// ExchangeCode completes the OAuth sign-in: exchanges the authorization
// code, upserts the user and opens a fresh session.
func (s *Service) ExchangeCode(ctx context.Context, code, redirectURI string) (AuthResult, error) {
	if strings.TrimSpace(code) == "" {
		return AuthResult{}, ErrInvalidInput
	}
	if s.provider == nil || s.users == nil || s.sessions == nil || s.jwt == nil {
		return AuthResult{}, fmt.Errorf("auth service is not fully configured")
	}

	profile, err := s.provider.Exchange(ctx, code, redirectURI)
	if err != nil {
		if errors.Is(err, ErrProvider) || errors.Is(err, ErrInvalidInput) {
			return AuthResult{}, err
		}
		return AuthResult{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	user, err := s.users.UpsertBySubject(ctx, profile.Subject, profile.Email, profile.Name, profile.AvatarURL)
	if err != nil {
		return AuthResult{}, fmt.Errorf("upsert user: %w", err)
	}

	return s.openSession(ctx, user)
}

// Refresh rotates the refresh token and issues a new access token. The
// presented token is consumed whether or not the rotation succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return AuthResult{}, ErrInvalidInput
	}

	session, err := s.sessions.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshNotFound) || errors.Is(err, ErrSessionNotFound) {
			return AuthResult{}, ErrUnauthorized
		}
		return AuthResult{}, fmt.Errorf("load session by refresh token: %w", err)
	}

	user, err := s.users.Get(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrUserNotFound) {
			_ = s.sessions.DeleteSession(ctx, session.SID)
			return AuthResult{}, ErrUnauthorized
		}
		return AuthResult{}, fmt.Errorf("load user: %w", err)
	}

	newRefresh, err := NewRefreshToken()
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.sessions.RotateRefresh(ctx, session.SID, refreshToken, newRefresh, s.refreshTTL); err != nil {
		if errors.Is(err, ErrRefreshNotFound) || errors.Is(err, ErrSessionNotFound) {
			return AuthResult{}, ErrUnauthorized
		}
		return AuthResult{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	access, expiresAt, err := s.jwt.GenerateAccessToken(user.ID, session.SID, user.Email)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		AccessToken:   access,
		RefreshToken:  newRefresh,
		AccessExpires: expiresAt,
		Me: Me{
			ID:        user.ID,
			Email:     user.Email,
			Name:      user.Name,
			AvatarURL: user.AvatarURL,
		},
	}, nil
}

func (s *Service) Logout(ctx context.Context, sid string) error {
	if strings.TrimSpace(sid) == "" {
		return ErrInvalidInput
	}
	if err := s.sessions.DeleteSession(ctx, sid); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return ErrInvalidInput
	}
	if err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// ValidateAccessToken checks the signature and confirms the session is
// still alive, so a logout invalidates outstanding access tokens too.
func (s *Service) ValidateAccessToken(ctx context.Context, raw string) (Identity, error) {
	claims, err := s.jwt.ParseAccessToken(raw)
	if err != nil {
		return Identity{}, ErrUnauthorized
	}

	session, err := s.sessions.GetSession(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Identity{}, ErrUnauthorized
		}
		return Identity{}, fmt.Errorf("load session: %w", err)
	}
	if session.UserID != claims.UserID {
		return Identity{}, ErrUnauthorized
	}

	return Identity{
		UserID: claims.UserID,
		SID:    claims.SID,
		Email:  claims.Email,
	}, nil
}

// Me returns the profile of an authenticated user.
func (s *Service) Me(ctx context.Context, userID int64) (Me, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrUserNotFound) {
			return Me{}, ErrUnauthorized
		}
		return Me{}, fmt.Errorf("load user: %w", err)
	}

	return Me{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}, nil
}

func (s *Service) openSession(ctx context.Context, user pgrepo.UserRecord) (AuthResult, error) {
	sid := uuid.NewString()
	refresh, err := NewRefreshToken()
	if err != nil {
		return AuthResult{}, err
	}

	session := SessionRecord{
		SID:       sid,
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: s.now().UTC().Add(s.refreshTTL),
	}
	if err := s.sessions.Create(ctx, session, refresh, s.refreshTTL); err != nil {
		return AuthResult{}, fmt.Errorf("create session: %w", err)
	}

	access, expiresAt, err := s.jwt.GenerateAccessToken(user.ID, sid, user.Email)
	if err != nil {
		_ = s.sessions.DeleteSession(ctx, sid)
		return AuthResult{}, err
	}

	s.logger.Info("session opened", zap.Int64("user_id", user.ID))

	return AuthResult{
		AccessToken:   access,
		RefreshToken:  refresh,
		AccessExpires: expiresAt,
		Me: Me{
			ID:        user.ID,
			Email:     user.Email,
			Name:      user.Name,
			AvatarURL: user.AvatarURL,
		},
	}, nil
}
