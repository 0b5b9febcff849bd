package auth_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	pgrepo "github.com/lucaszub/background-remover/internal/repo/postgres"
	redrepo "github.com/lucaszub/background-remover/internal/repo/redis"
	authsvc "github.com/lucaszub/background-remover/internal/services/auth"
)

type fakeUserStore struct {
	nextID int64
	users  map[string]pgrepo.UserRecord
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]pgrepo.UserRecord{}}
}

func (s *fakeUserStore) Get(_ context.Context, userID int64) (pgrepo.UserRecord, error) {
	for _, user := range s.users {
		if user.ID == userID {
			return user, nil
		}
	}
	return pgrepo.UserRecord{}, pgrepo.ErrUserNotFound
}

func (s *fakeUserStore) UpsertBySubject(_ context.Context, subject, email, name, avatarURL string) (pgrepo.UserRecord, error) {
	if user, ok := s.users[subject]; ok {
		user.Email = email
		user.Name = name
		user.AvatarURL = avatarURL
		s.users[subject] = user
		return user, nil
	}
	s.nextID++
	user := pgrepo.UserRecord{ID: s.nextID, Subject: subject, Email: email, Name: name, AvatarURL: avatarURL}
	s.users[subject] = user
	return user, nil
}

type fakeProvider struct {
	profiles map[string]authsvc.Profile
}

func (p *fakeProvider) Exchange(_ context.Context, code, _ string) (authsvc.Profile, error) {
	profile, ok := p.profiles[code]
	if !ok {
		return authsvc.Profile{}, fmt.Errorf("%w: unknown code", authsvc.ErrProvider)
	}
	return profile, nil
}

func TestExchangeCodeOpensSession(t *testing.T) {
	svc, _, cleanup := newAuthServiceForTest(t)
	defer cleanup()

	ctx := context.Background()
	res, err := svc.ExchangeCode(ctx, "code-alice", "https://app.example/callback")
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}

	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", res)
	}
	if res.Me.Email != "alice@example.com" {
		t.Fatalf("unexpected profile email %q", res.Me.Email)
	}

	identity, err := svc.ValidateAccessToken(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("validate access token: %v", err)
	}
	if identity.UserID != res.Me.ID {
		t.Fatalf("identity user id %d does not match profile id %d", identity.UserID, res.Me.ID)
	}
}

func TestExchangeCodeReusesAccount(t *testing.T) {
	svc, users, cleanup := newAuthServiceForTest(t)
	defer cleanup()

	ctx := context.Background()
	first, err := svc.ExchangeCode(ctx, "code-alice", "")
	if err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	second, err := svc.ExchangeCode(ctx, "code-alice", "")
	if err != nil {
		t.Fatalf("second exchange: %v", err)
	}

	if first.Me.ID != second.Me.ID {
		t.Fatalf("same subject should map to one account, got %d and %d", first.Me.ID, second.Me.ID)
	}
	if len(users.users) != 1 {
		t.Fatalf("expected one stored user, got %d", len(users.users))
	}
}

func TestRefreshRotation(t *testing.T) {
	svc, _, cleanup := newAuthServiceForTest(t)
	defer cleanup()

	ctx := context.Background()
	login, err := svc.ExchangeCode(ctx, "code-alice", "")
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}

	if _, err := svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, authsvc.ErrUnauthorized) {
		t.Fatalf("old refresh token should be unauthorized, got err=%v", err)
	}

	if _, err := svc.ValidateAccessToken(ctx, refreshed.AccessToken); err != nil {
		t.Fatalf("new access token validation failed: %v", err)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	svc, _, cleanup := newAuthServiceForTest(t)
	defer cleanup()

	ctx := context.Background()
	login, err := svc.ExchangeCode(ctx, "code-alice", "")
	if err != nil {
		t.Fatalf("exchange code: %v", err)
	}

	identity, err := svc.ValidateAccessToken(ctx, login.AccessToken)
	if err != nil {
		t.Fatalf("validate access token before logout: %v", err)
	}

	if err := svc.Logout(ctx, identity.SID); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := svc.ValidateAccessToken(ctx, login.AccessToken); !errors.Is(err, authsvc.ErrUnauthorized) {
		t.Fatalf("access token should be unauthorized after logout, got err=%v", err)
	}
}

func TestLogoutAllInvalidatesEverySession(t *testing.T) {
	svc, _, cleanup := newAuthServiceForTest(t)
	defer cleanup()

	ctx := context.Background()
	first, err := svc.ExchangeCode(ctx, "code-alice", "")
	if err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	second, err := svc.ExchangeCode(ctx, "code-alice", "")
	if err != nil {
		t.Fatalf("second exchange: %v", err)
	}

	if err := svc.LogoutAll(ctx, first.Me.ID); err != nil {
		t.Fatalf("logout all: %v", err)
	}

	for i, token := range []string{first.AccessToken, second.AccessToken} {
		if _, err := svc.ValidateAccessToken(ctx, token); !errors.Is(err, authsvc.ErrUnauthorized) {
			t.Fatalf("session %d should be unauthorized after logout all, got err=%v", i, err)
		}
	}
}

func TestExchangeCodeUnknownCode(t *testing.T) {
	svc, _, cleanup := newAuthServiceForTest(t)
	defer cleanup()

	if _, err := svc.ExchangeCode(context.Background(), "nope", ""); !errors.Is(err, authsvc.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func newAuthServiceForTest(t *testing.T) (*authsvc.Service, *fakeUserStore, func()) {
	t.Helper()

	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	sessions := redrepo.NewSessionRepo(client)
	users := newFakeUserStore()
	provider := &fakeProvider{profiles: map[string]authsvc.Profile{
		"code-alice": {Subject: "sub-alice", Email: "alice@example.com", Name: "Alice", AvatarURL: "https://cdn.example/a.png"},
	}}

	jwtManager := authsvc.NewJWTManager("test-secret", 15*time.Minute)
	svc := authsvc.NewService(jwtManager, sessions, users, provider, 45*24*time.Hour, nil)

	cleanup := func() {
		_ = client.Close()
		mini.Close()
	}
	return svc, users, cleanup
}
