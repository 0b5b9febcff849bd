package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepo struct {
	pool *pgxpool.Pool
}

type UserRecord struct {
	ID        int64
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Get(ctx context.Context, userID int64) (UserRecord, error) {
	if userID <= 0 {
		return UserRecord{}, fmt.Errorf("invalid user id")
	}
	if r.pool == nil {
		return UserRecord{}, fmt.Errorf("postgres pool is nil")
	}

	var user UserRecord
	err := r.pool.QueryRow(ctx, `
SELECT id, subject, email, display_name, avatar_url
FROM users
WHERE id = $1
`, userID).Scan(&user.ID, &user.Subject, &user.Email, &user.Name, &user.AvatarURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

// UpsertBySubject creates or refreshes the user row keyed by the OAuth
// provider subject. Profile fields follow whatever the provider returned
// on the latest sign-in.
func (r *UserRepo) UpsertBySubject(ctx context.Context, subject, email, name, avatarURL string) (UserRecord, error) {
	if strings.TrimSpace(subject) == "" {
		return UserRecord{}, fmt.Errorf("oauth subject is required")
	}
	if r.pool == nil {
		return UserRecord{}, fmt.Errorf("postgres pool is nil")
	}

	var user UserRecord
	err := r.pool.QueryRow(ctx, `
INSERT INTO users (subject, email, display_name, avatar_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
ON CONFLICT (subject) DO UPDATE SET
	email = EXCLUDED.email,
	display_name = EXCLUDED.display_name,
	avatar_url = EXCLUDED.avatar_url,
	updated_at = NOW()
RETURNING id, subject, email, display_name, avatar_url
`, subject, email, name, avatarURL).Scan(&user.ID, &user.Subject, &user.Email, &user.Name, &user.AvatarURL)
	if err != nil {
		return UserRecord{}, fmt.Errorf("upsert user by subject: %w", err)
	}

	return user, nil
}
