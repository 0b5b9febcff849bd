package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsageRepo struct {
	pool *pgxpool.Pool
}

type UsageEventRecord struct {
	UserID       *int64
	IP           string
	UserAgent    string
	FileSize     int64
	FileType     string
	ProcessingMS int64
	UsedAt       time.Time
}

type UsageStats struct {
	TotalUsage          int
	AverageFileSize     float64
	AverageProcessingMS float64
	UsageByDay          map[string]int
}

func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

const insertUsageEventSQL = `
INSERT INTO usage_events (
	user_id,
	ip,
	user_agent,
	file_size,
	file_type,
	processing_ms,
	used_at,
	created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
`

func insertUsageEvent(ctx context.Context, tx pgx.Tx, ev UsageEventRecord) error {
	usedAt := ev.UsedAt.UTC()
	if usedAt.IsZero() {
		usedAt = time.Now().UTC()
	}

	var uid any
	if ev.UserID != nil && *ev.UserID > 0 {
		uid = *ev.UserID
	}

	if _, err := tx.Exec(ctx, insertUsageEventSQL, uid, ev.IP, ev.UserAgent, ev.FileSize, ev.FileType, ev.ProcessingMS, usedAt); err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}

	return nil
}

func (r *UsageRepo) Insert(ctx context.Context, ev UsageEventRecord) error {
	if r.pool == nil {
		return nil
	}

	usedAt := ev.UsedAt.UTC()
	if usedAt.IsZero() {
		usedAt = time.Now().UTC()
	}

	var uid any
	if ev.UserID != nil && *ev.UserID > 0 {
		uid = *ev.UserID
	}

	if _, err := r.pool.Exec(ctx, insertUsageEventSQL, uid, ev.IP, ev.UserAgent, ev.FileSize, ev.FileType, ev.ProcessingMS, usedAt); err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}

	return nil
}

func (r *UsageRepo) Stats(ctx context.Context, userID int64, since time.Time) (UsageStats, error) {
	if userID <= 0 {
		return UsageStats{}, fmt.Errorf("invalid usage stats payload")
	}
	if r.pool == nil {
		return UsageStats{UsageByDay: map[string]int{}}, nil
	}

	stats := UsageStats{UsageByDay: map[string]int{}}

	err := r.pool.QueryRow(ctx, `
SELECT
	COUNT(*),
	COALESCE(AVG(file_size), 0),
	COALESCE(AVG(processing_ms), 0)
FROM usage_events
WHERE user_id = $1 AND used_at >= $2
`, userID, since.UTC()).Scan(&stats.TotalUsage, &stats.AverageFileSize, &stats.AverageProcessingMS)
	if err != nil {
		return UsageStats{}, fmt.Errorf("aggregate usage stats: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
SELECT to_char(used_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
FROM usage_events
WHERE user_id = $1 AND used_at >= $2
GROUP BY day
ORDER BY day
`, userID, since.UTC())
	if err != nil {
		return UsageStats{}, fmt.Errorf("query usage by day: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day string
		var count int
		if err := rows.Scan(&day, &count); err != nil {
			return UsageStats{}, fmt.Errorf("scan usage day: %w", err)
		}
		stats.UsageByDay[day] = count
	}

	if rows.Err() != nil {
		return UsageStats{}, fmt.Errorf("iterate usage days: %w", rows.Err())
	}

	return stats, nil
}
