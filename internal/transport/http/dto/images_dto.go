package dto

import "time"

type ImageResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Tags         []string  `json:"tags"`
	IsFavorite   bool      `json:"is_favorite"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	ProcessedURL string    `json:"processed_url,omitempty"`
	OriginalURL  string    `json:"original_url,omitempty"`
	OriginalName string    `json:"original_name"`
	FileSize     int64     `json:"file_size"`
	ContentType  string    `json:"content_type"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	ProcessingMS int64     `json:"processing_ms"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ImageListResponse struct {
	Images     []ImageResponse `json:"images"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalCount int             `json:"totalCount"`
	TotalPages int             `json:"totalPages"`
	HasNext    bool            `json:"hasNext"`
	HasPrev    bool            `json:"hasPrev"`
}

type ImageUpdateRequest struct {
	Title      *string   `json:"title"`
	Tags       *[]string `json:"tags"`
	IsFavorite *bool     `json:"is_favorite"`
}

type ImageDeleteResponse struct {
	OK bool `json:"ok"`
}
