package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrQuotaNotFound     = errors.New("quota record not found")
	ErrQuotaLimitReached = errors.New("quota limit reached")
)

type QuotaRepo struct {
	pool *pgxpool.Pool
}

type QuotaRecord struct {
	UserID         int64
	DailyUsed      int
	DailyLimit     int
	DailyResetAt   time.Time
	MonthlyUsed    int
	MonthlyLimit   *int
	MonthlyResetAt time.Time
	Plan           string
	IsActive       bool
}

func NewQuotaRepo(pool *pgxpool.Pool) *QuotaRepo {
	return &QuotaRepo{pool: pool}
}

const quotaColumns = `
user_id,
daily_used,
daily_limit,
daily_reset_at,
monthly_used,
monthly_limit,
monthly_reset_at,
plan,
is_active
`

func (r *QuotaRepo) Get(ctx context.Context, userID int64) (QuotaRecord, error) {
	if userID <= 0 {
		return QuotaRecord{}, fmt.Errorf("invalid quota lookup payload")
	}
	if r.pool == nil {
		return QuotaRecord{}, fmt.Errorf("postgres pool is nil")
	}

	var rec QuotaRecord
	err := r.pool.QueryRow(ctx, `
SELECT `+quotaColumns+`
FROM user_quotas
WHERE user_id = $1
`, userID).Scan(
		&rec.UserID,
		&rec.DailyUsed,
		&rec.DailyLimit,
		&rec.DailyResetAt,
		&rec.MonthlyUsed,
		&rec.MonthlyLimit,
		&rec.MonthlyResetAt,
		&rec.Plan,
		&rec.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QuotaRecord{}, ErrQuotaNotFound
		}
		return QuotaRecord{}, fmt.Errorf("get quota record: %w", err)
	}

	return rec, nil
}

// Create inserts a zeroed record with the given plan defaults. Concurrent
// creates for the same user collapse onto the row that won the insert.
func (r *QuotaRepo) Create(ctx context.Context, rec QuotaRecord) (QuotaRecord, error) {
	if rec.UserID <= 0 || rec.DailyLimit <= 0 {
		return QuotaRecord{}, fmt.Errorf("invalid quota create payload")
	}
	if r.pool == nil {
		return QuotaRecord{}, fmt.Errorf("postgres pool is nil")
	}

	var out QuotaRecord
	err := r.pool.QueryRow(ctx, `
INSERT INTO user_quotas (
	user_id,
	daily_used,
	daily_limit,
	daily_reset_at,
	monthly_used,
	monthly_limit,
	monthly_reset_at,
	plan,
	is_active,
	created_at,
	updated_at
) VALUES ($1, 0, $2, $3, 0, $4, $5, $6, TRUE, NOW(), NOW())
ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
RETURNING `+quotaColumns+`
`, rec.UserID, rec.DailyLimit, rec.DailyResetAt.UTC(), rec.MonthlyLimit, rec.MonthlyResetAt.UTC(), rec.Plan).Scan(
		&out.UserID,
		&out.DailyUsed,
		&out.DailyLimit,
		&out.DailyResetAt,
		&out.MonthlyUsed,
		&out.MonthlyLimit,
		&out.MonthlyResetAt,
		&out.Plan,
		&out.IsActive,
	)
	if err != nil {
		return QuotaRecord{}, fmt.Errorf("create quota record: %w", err)
	}

	return out, nil
}

// ResetWindows zeroes whichever counters have a stored boundary older than
// the current window start and advances the boundary in the same statement,
// so crossing a boundary resets the counter exactly once no matter how many
// concurrent checks observe the stale row.
func (r *QuotaRepo) ResetWindows(ctx context.Context, userID int64, dayStart, monthStart time.Time) (QuotaRecord, error) {
	if userID <= 0 {
		return QuotaRecord{}, fmt.Errorf("invalid quota reset payload")
	}
	if r.pool == nil {
		return QuotaRecord{}, fmt.Errorf("postgres pool is nil")
	}

	var rec QuotaRecord
	err := r.pool.QueryRow(ctx, `
UPDATE user_quotas SET
	daily_used = CASE WHEN daily_reset_at < $2 THEN 0 ELSE daily_used END,
	daily_reset_at = CASE WHEN daily_reset_at < $2 THEN $2 ELSE daily_reset_at END,
	monthly_used = CASE WHEN monthly_reset_at < $3 THEN 0 ELSE monthly_used END,
	monthly_reset_at = CASE WHEN monthly_reset_at < $3 THEN $3 ELSE monthly_reset_at END,
	updated_at = NOW()
WHERE user_id = $1
RETURNING `+quotaColumns+`
`, userID, dayStart.UTC(), monthStart.UTC()).Scan(
		&rec.UserID,
		&rec.DailyUsed,
		&rec.DailyLimit,
		&rec.DailyResetAt,
		&rec.MonthlyUsed,
		&rec.MonthlyLimit,
		&rec.MonthlyResetAt,
		&rec.Plan,
		&rec.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QuotaRecord{}, ErrQuotaNotFound
		}
		return QuotaRecord{}, fmt.Errorf("reset quota windows: %w", err)
	}

	return rec, nil
}

// ConsumeWithLimit increments both counters in a single guarded UPDATE and
// appends the usage event in the same transaction. The WHERE clause is the
// only admission check, so concurrent requests cannot overcount.
func (r *QuotaRepo) ConsumeWithLimit(ctx context.Context, userID int64, ev UsageEventRecord) (QuotaRecord, error) {
	if userID <= 0 {
		return QuotaRecord{}, fmt.Errorf("invalid quota consume payload")
	}
	if r.pool == nil {
		return QuotaRecord{}, fmt.Errorf("postgres pool is nil")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return QuotaRecord{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var rec QuotaRecord
	err = tx.QueryRow(ctx, `
UPDATE user_quotas SET
	daily_used = daily_used + 1,
	monthly_used = monthly_used + 1,
	updated_at = NOW()
WHERE user_id = $1
  AND is_active
  AND daily_used < daily_limit
  AND (monthly_limit IS NULL OR monthly_used < monthly_limit)
RETURNING `+quotaColumns+`
`, userID).Scan(
		&rec.UserID,
		&rec.DailyUsed,
		&rec.DailyLimit,
		&rec.DailyResetAt,
		&rec.MonthlyUsed,
		&rec.MonthlyLimit,
		&rec.MonthlyResetAt,
		&rec.Plan,
		&rec.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QuotaRecord{}, ErrQuotaLimitReached
		}
		return QuotaRecord{}, fmt.Errorf("consume quota with limit: %w", err)
	}

	uid := userID
	ev.UserID = &uid
	if err := insertUsageEvent(ctx, tx, ev); err != nil {
		return QuotaRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return QuotaRecord{}, fmt.Errorf("commit transaction: %w", err)
	}

	return rec, nil
}
