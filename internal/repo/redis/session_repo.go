package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	authsvc "github.com/lucaszub/background-remover/internal/services/auth"
)

const (
	sessionPrefix      = "sessions:"
	refreshPrefix      = "refresh:"
	userSessionsPrefix = "user_sessions:"
)

// SessionRepo stores refresh sessions. The session hash is the source of
// truth; the refresh key is a pointer back to its sid so a presented
// refresh token resolves in one lookup.
type SessionRepo struct {
	client *goredis.Client
}

func NewSessionRepo(client *goredis.Client) *SessionRepo {
	return &SessionRepo{client: client}
}

func (r *SessionRepo) Create(ctx context.Context, session authsvc.SessionRecord, refreshToken string, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if strings.TrimSpace(session.SID) == "" || strings.TrimSpace(refreshToken) == "" || session.UserID <= 0 {
		return authsvc.ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	fields := map[string]interface{}{
		"user_id":    session.UserID,
		"email":      session.Email,
		"refresh":    refreshToken,
		"expires_at": session.ExpiresAt.Unix(),
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(session.SID), fields)
	pipe.Expire(ctx, sessionKey(session.SID), ttl)
	pipe.Set(ctx, refreshKey(refreshToken), session.SID, ttl)
	pipe.SAdd(ctx, userSessionsKey(session.UserID), session.SID)
	pipe.Expire(ctx, userSessionsKey(session.UserID), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create redis session: %w", err)
	}

	return nil
}

func (r *SessionRepo) GetSession(ctx context.Context, sid string) (authsvc.SessionRecord, error) {
	if r.client == nil {
		return authsvc.SessionRecord{}, fmt.Errorf("redis client is nil")
	}

	values, err := r.client.HGetAll(ctx, sessionKey(sid)).Result()
	if err != nil {
		return authsvc.SessionRecord{}, fmt.Errorf("get session hash: %w", err)
	}
	if len(values) == 0 {
		return authsvc.SessionRecord{}, authsvc.ErrSessionNotFound
	}

	session, err := parseSessionRecord(values)
	if err != nil {
		return authsvc.SessionRecord{}, err
	}
	session.SID = sid
	return session, nil
}

func (r *SessionRepo) GetByRefreshToken(ctx context.Context, refreshToken string) (authsvc.SessionRecord, error) {
	if r.client == nil {
		return authsvc.SessionRecord{}, fmt.Errorf("redis client is nil")
	}

	sid, err := r.client.Get(ctx, refreshKey(refreshToken)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return authsvc.SessionRecord{}, authsvc.ErrRefreshNotFound
		}
		return authsvc.SessionRecord{}, fmt.Errorf("resolve refresh token: %w", err)
	}

	session, err := r.GetSession(ctx, sid)
	if err != nil {
		if errors.Is(err, authsvc.ErrSessionNotFound) {
			return authsvc.SessionRecord{}, authsvc.ErrRefreshNotFound
		}
		return authsvc.SessionRecord{}, err
	}

	return session, nil
}

// RotateRefresh swaps the refresh token atomically. The old pointer is
// deleted first inside the pipeline so a replayed old token misses.
func (r *SessionRepo) RotateRefresh(ctx context.Context, sid, oldToken, newToken string, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if strings.TrimSpace(newToken) == "" {
		return authsvc.ErrInvalidInput
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	session, err := r.GetByRefreshToken(ctx, oldToken)
	if err != nil {
		return err
	}
	if sid != "" && sid != session.SID {
		return authsvc.ErrRefreshNotFound
	}

	expiresAt := time.Now().UTC().Add(ttl)

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, refreshKey(oldToken))
	pipe.Set(ctx, refreshKey(newToken), session.SID, ttl)
	pipe.HSet(ctx, sessionKey(session.SID), map[string]interface{}{
		"refresh":    newToken,
		"expires_at": expiresAt.Unix(),
	})
	pipe.Expire(ctx, sessionKey(session.SID), ttl)
	pipe.Expire(ctx, userSessionsKey(session.UserID), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}

	return nil
}

func (r *SessionRepo) DeleteSession(ctx context.Context, sid string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if strings.TrimSpace(sid) == "" {
		return nil
	}

	values, err := r.client.HGetAll(ctx, sessionKey(sid)).Result()
	if err != nil {
		return fmt.Errorf("load session for delete: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sid))
	if token := values["refresh"]; token != "" {
		pipe.Del(ctx, refreshKey(token))
	}
	if raw, ok := values["user_id"]; ok {
		if userID, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil && userID > 0 {
			pipe.SRem(ctx, userSessionsKey(userID), sid)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}

func (r *SessionRepo) DeleteAllForUser(ctx context.Context, userID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if userID <= 0 {
		return authsvc.ErrInvalidInput
	}

	sids, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}

	for _, sid := range sids {
		if err := r.DeleteSession(ctx, sid); err != nil {
			return err
		}
	}

	if err := r.client.Del(ctx, userSessionsKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete user sessions key: %w", err)
	}

	return nil
}

func parseSessionRecord(values map[string]string) (authsvc.SessionRecord, error) {
	userID, err := strconv.ParseInt(values["user_id"], 10, 64)
	if err != nil || userID <= 0 {
		return authsvc.SessionRecord{}, authsvc.ErrUnauthorized
	}

	expiresUnix, err := strconv.ParseInt(values["expires_at"], 10, 64)
	if err != nil {
		return authsvc.SessionRecord{}, authsvc.ErrUnauthorized
	}

	return authsvc.SessionRecord{
		UserID:    userID,
		Email:     values["email"],
		ExpiresAt: time.Unix(expiresUnix, 0).UTC(),
	}, nil
}

func sessionKey(sid string) string {
	return sessionPrefix + sid
}

func refreshKey(token string) string {
	return refreshPrefix + token
}

func userSessionsKey(userID int64) string {
	return userSessionsPrefix + strconv.FormatInt(userID, 10)
}
