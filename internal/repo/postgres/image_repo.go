package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrImageNotFound = errors.New("image not found")

type ImageRepo struct {
	pool *pgxpool.Pool
}

type ImageRecord struct {
	ID           string
	UserID       int64
	Title        string
	Tags         []string
	IsFavorite   bool
	OriginalKey  string
	ProcessedKey string
	ThumbnailKey string
	OriginalName string
	FileSize     int64
	ContentType  string
	Width        int
	Height       int
	ProcessingMS int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ImageListFilter struct {
	Search        string
	Tags          []string
	FavoritesOnly bool
	Offset        int
	Limit         int
}

type ImagePatch struct {
	Title      *string
	Tags       *[]string
	IsFavorite *bool
}

func NewImageRepo(pool *pgxpool.Pool) *ImageRepo {
	return &ImageRepo{pool: pool}
}

const imageColumns = `
id,
user_id,
title,
tags,
is_favorite,
original_key,
processed_key,
thumbnail_key,
original_name,
file_size,
content_type,
width,
height,
processing_ms,
created_at,
updated_at
`

func scanImage(row pgx.Row) (ImageRecord, error) {
	var rec ImageRecord
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Title,
		&rec.Tags,
		&rec.IsFavorite,
		&rec.OriginalKey,
		&rec.ProcessedKey,
		&rec.ThumbnailKey,
		&rec.OriginalName,
		&rec.FileSize,
		&rec.ContentType,
		&rec.Width,
		&rec.Height,
		&rec.ProcessingMS,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

func (r *ImageRepo) Insert(ctx context.Context, rec ImageRecord) (ImageRecord, error) {
	if rec.ID == "" || rec.UserID <= 0 || rec.OriginalKey == "" || rec.ProcessedKey == "" {
		return ImageRecord{}, fmt.Errorf("invalid image insert payload")
	}
	if r.pool == nil {
		return ImageRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	row := r.pool.QueryRow(ctx, `
INSERT INTO user_images (
	id,
	user_id,
	title,
	tags,
	is_favorite,
	original_key,
	processed_key,
	thumbnail_key,
	original_name,
	file_size,
	content_type,
	width,
	height,
	processing_ms,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
RETURNING `+imageColumns+`
`,
		rec.ID,
		rec.UserID,
		rec.Title,
		rec.Tags,
		rec.IsFavorite,
		rec.OriginalKey,
		rec.ProcessedKey,
		rec.ThumbnailKey,
		rec.OriginalName,
		rec.FileSize,
		rec.ContentType,
		rec.Width,
		rec.Height,
		rec.ProcessingMS,
	)

	out, err := scanImage(row)
	if err != nil {
		return ImageRecord{}, fmt.Errorf("insert image record: %w", err)
	}

	return out, nil
}

// Get scopes the lookup to the owner. A foreign or missing id both come
// back as ErrImageNotFound so callers cannot distinguish the two.
func (r *ImageRepo) Get(ctx context.Context, userID int64, id string) (ImageRecord, error) {
	if userID <= 0 || strings.TrimSpace(id) == "" {
		return ImageRecord{}, ErrImageNotFound
	}
	if r.pool == nil {
		return ImageRecord{}, fmt.Errorf("postgres pool is nil")
	}

	row := r.pool.QueryRow(ctx, `
SELECT `+imageColumns+`
FROM user_images
WHERE id = $1 AND user_id = $2
`, id, userID)

	rec, err := scanImage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ImageRecord{}, ErrImageNotFound
		}
		return ImageRecord{}, fmt.Errorf("get image record: %w", err)
	}

	return rec, nil
}

func (r *ImageRepo) List(ctx context.Context, userID int64, filter ImageListFilter) ([]ImageRecord, int, error) {
	if userID <= 0 {
		return nil, 0, fmt.Errorf("invalid image list payload")
	}
	if r.pool == nil {
		return nil, 0, fmt.Errorf("postgres pool is nil")
	}
	if filter.Limit <= 0 {
		filter.Limit = 12
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	where := []string{"user_id = $1"}
	args := []any{userID}

	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR original_name ILIKE $%d)", n, n))
	}
	if len(filter.Tags) > 0 {
		args = append(args, filter.Tags)
		where = append(where, fmt.Sprintf("tags @> $%d", len(args)))
	}
	if filter.FavoritesOnly {
		where = append(where, "is_favorite")
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM user_images WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count image records: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
SELECT %s
FROM user_images
WHERE %s
ORDER BY created_at DESC
LIMIT $%d OFFSET $%d
`, imageColumns, whereClause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list image records: %w", err)
	}
	defer rows.Close()

	records := make([]ImageRecord, 0)
	for rows.Next() {
		rec, err := scanImage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan image record: %w", err)
		}
		records = append(records, rec)
	}

	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("iterate image records: %w", rows.Err())
	}

	return records, total, nil
}

func (r *ImageRepo) Update(ctx context.Context, userID int64, id string, patch ImagePatch) (ImageRecord, error) {
	if userID <= 0 || strings.TrimSpace(id) == "" {
		return ImageRecord{}, ErrImageNotFound
	}
	if r.pool == nil {
		return ImageRecord{}, fmt.Errorf("postgres pool is nil")
	}

	sets := []string{"updated_at = NOW()"}
	args := []any{id, userID}

	if patch.Title != nil {
		args = append(args, *patch.Title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	if patch.Tags != nil {
		tags := *patch.Tags
		if tags == nil {
			tags = []string{}
		}
		args = append(args, tags)
		sets = append(sets, fmt.Sprintf("tags = $%d", len(args)))
	}
	if patch.IsFavorite != nil {
		args = append(args, *patch.IsFavorite)
		sets = append(sets, fmt.Sprintf("is_favorite = $%d", len(args)))
	}

	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
UPDATE user_images
SET %s
WHERE id = $1 AND user_id = $2
RETURNING %s
`, strings.Join(sets, ", "), imageColumns), args...)

	rec, err := scanImage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ImageRecord{}, ErrImageNotFound
		}
		return ImageRecord{}, fmt.Errorf("update image record: %w", err)
	}

	return rec, nil
}

func (r *ImageRepo) Delete(ctx context.Context, userID int64, id string) (ImageRecord, error) {
	if userID <= 0 || strings.TrimSpace(id) == "" {
		return ImageRecord{}, ErrImageNotFound
	}
	if r.pool == nil {
		return ImageRecord{}, fmt.Errorf("postgres pool is nil")
	}

	row := r.pool.QueryRow(ctx, `
DELETE FROM user_images
WHERE id = $1 AND user_id = $2
RETURNING `+imageColumns+`
`, id, userID)

	rec, err := scanImage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ImageRecord{}, ErrImageNotFound
		}
		return ImageRecord{}, fmt.Errorf("delete image record: %w", err)
	}

	return rec, nil
}
