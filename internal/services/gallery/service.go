package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pgrepo "github.com/lucaszub/background-remover/internal/repo/postgres"
	"github.com/lucaszub/background-remover/internal/services/storage"
)

var (
	ErrValidation = errors.New("gallery validation failed")
	ErrNotFound   = errors.New("image not found")
)

const (
	defaultPageSize = 12
	maxPageSize     = 50
	maxTitleLength  = 200
	maxTags         = 20
)

// ImageStore persists gallery records. Ownership is part of every query,
// so a foreign record behaves exactly like a missing one.
type ImageStore interface {
	Insert(ctx context.Context, rec pgrepo.ImageRecord) (pgrepo.ImageRecord, error)
	Get(ctx context.Context, userID int64, id string) (pgrepo.ImageRecord, error)
	List(ctx context.Context, userID int64, filter pgrepo.ImageListFilter) ([]pgrepo.ImageRecord, int, error)
	Update(ctx context.Context, userID int64, id string, patch pgrepo.ImagePatch) (pgrepo.ImageRecord, error)
	Delete(ctx context.Context, userID int64, id string) (pgrepo.ImageRecord, error)
}

// ObjectGateway is the slice of the storage service the gallery needs.
type ObjectGateway interface {
	UploadOriginal(ctx context.Context, userID int64, imageID, contentType string, data []byte) (storage.UploadResult, error)
	UploadProcessed(ctx context.Context, userID int64, imageID string, data []byte) (storage.UploadResult, error)
	UploadThumbnail(ctx context.Context, userID int64, imageID string, processed []byte) (storage.UploadResult, storage.Thumbnail, error)
	Dimensions(data []byte) (int, int)
	SignedURL(ctx context.Context, key string) (string, error)
	DeleteAll(ctx context.Context, keys ...string)
}

// SaveInput carries one finished processing into the gallery.
type SaveInput struct {
	UserID       int64
	OriginalName string
	ContentType  string
	Original     []byte
	Processed    []byte
	ProcessingMS int64
}

// Image is a record with its signed URLs resolved. OriginalURL is only
// populated on single-image reads.
type Image struct {
	Record       pgrepo.ImageRecord
	ThumbnailURL string
	ProcessedURL string
	OriginalURL  string
}

// Page is one slice of the gallery listing.
type Page struct {
	Images     []Image
	Page       int
	Limit      int
	TotalCount int
	TotalPages int
	HasNext    bool
	HasPrev    bool
}

// ListQuery mirrors the gallery filters exposed over HTTP.
type ListQuery struct {
	Page          int
	Limit         int
	Search        string
	Tags          []string
	FavoritesOnly bool
}

// UpdateInput is a partial edit; nil fields stay untouched.
type UpdateInput struct {
	Title      *string
	Tags       *[]string
	IsFavorite *bool
}

type Service struct {
	images  ImageStore
	objects ObjectGateway
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(images ImageStore, objects ObjectGateway, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		images:  images,
		objects: objects,
		logger:  logger,
		now:     time.Now,
	}
}

// SaveProcessed uploads the three objects concurrently and inserts the
// record once all uploads landed. A failed upload rolls the others back.
func (s *Service) SaveProcessed(ctx context.Context, in SaveInput) (pgrepo.ImageRecord, error) {
	if in.UserID <= 0 || len(in.Original) == 0 || len(in.Processed) == 0 {
		return pgrepo.ImageRecord{}, ErrValidation
	}
	if s.images == nil || s.objects == nil {
		return pgrepo.ImageRecord{}, fmt.Errorf("gallery service is not fully configured")
	}

	imageID := uuid.NewString()

	var (
		wg           sync.WaitGroup
		originalRes  storage.UploadResult
		processedRes storage.UploadResult
		thumbRes     storage.UploadResult
		errs         [3]error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		originalRes, errs[0] = s.objects.UploadOriginal(ctx, in.UserID, imageID, in.ContentType, in.Original)
	}()
	go func() {
		defer wg.Done()
		processedRes, errs[1] = s.objects.UploadProcessed(ctx, in.UserID, imageID, in.Processed)
	}()
	go func() {
		defer wg.Done()
		thumbRes, _, errs[2] = s.objects.UploadThumbnail(ctx, in.UserID, imageID, in.Processed)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			s.objects.DeleteAll(ctx, originalRes.Key, processedRes.Key, thumbRes.Key)
			return pgrepo.ImageRecord{}, fmt.Errorf("upload gallery objects: %w", err)
		}
	}

	width, height := s.objects.Dimensions(in.Processed)
	title := defaultTitle(in.OriginalName)

	rec, err := s.images.Insert(ctx, pgrepo.ImageRecord{
		ID:           imageID,
		UserID:       in.UserID,
		Title:        title,
		Tags:         []string{},
		OriginalKey:  originalRes.Key,
		ProcessedKey: processedRes.Key,
		ThumbnailKey: thumbRes.Key,
		OriginalName: in.OriginalName,
		FileSize:     int64(len(in.Original)),
		ContentType:  in.ContentType,
		Width:        width,
		Height:       height,
		ProcessingMS: in.ProcessingMS,
	})
	if err != nil {
		s.objects.DeleteAll(ctx, originalRes.Key, processedRes.Key, thumbRes.Key)
		return pgrepo.ImageRecord{}, fmt.Errorf("insert gallery record: %w", err)
	}

	return rec, nil
}

func (s *Service) List(ctx context.Context, userID int64, query ListQuery) (Page, error) {
	if userID <= 0 {
		return Page{}, ErrValidation
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	records, total, err := s.images.List(ctx, userID, pgrepo.ImageListFilter{
		Search:        strings.TrimSpace(query.Search),
		Tags:          normalizeTags(query.Tags),
		FavoritesOnly: query.FavoritesOnly,
		Offset:        (page - 1) * limit,
		Limit:         limit,
	})
	if err != nil {
		return Page{}, fmt.Errorf("list gallery records: %w", err)
	}

	images := make([]Image, 0, len(records))
	for _, rec := range records {
		images = append(images, s.resolveURLs(ctx, rec, false))
	}

	totalPages := (total + limit - 1) / limit
	return Page{
		Images:     images,
		Page:       page,
		Limit:      limit,
		TotalCount: total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}, nil
}

func (s *Service) Get(ctx context.Context, userID int64, id string) (Image, error) {
	rec, err := s.load(ctx, userID, id)
	if err != nil {
		return Image{}, err
	}
	return s.resolveURLs(ctx, rec, true), nil
}

func (s *Service) Update(ctx context.Context, userID int64, id string, in UpdateInput) (Image, error) {
	if userID <= 0 || !validID(id) {
		return Image{}, ErrNotFound
	}
	if in.Title == nil && in.Tags == nil && in.IsFavorite == nil {
		return Image{}, ErrValidation
	}
	if in.Title != nil {
		trimmed := strings.TrimSpace(*in.Title)
		if trimmed == "" || len(trimmed) > maxTitleLength {
			return Image{}, ErrValidation
		}
		in.Title = &trimmed
	}
	if in.Tags != nil {
		tags := normalizeTags(*in.Tags)
		if len(tags) > maxTags {
			return Image{}, ErrValidation
		}
		in.Tags = &tags
	}

	rec, err := s.images.Update(ctx, userID, id, pgrepo.ImagePatch{
		Title:      in.Title,
		Tags:       in.Tags,
		IsFavorite: in.IsFavorite,
	})
	if err != nil {
		if errors.Is(err, pgrepo.ErrImageNotFound) {
			return Image{}, ErrNotFound
		}
		return Image{}, fmt.Errorf("update gallery record: %w", err)
	}

	return s.resolveURLs(ctx, rec, false), nil
}

// Delete removes the record first and then the stored objects. Storage
// leftovers are logged, not surfaced, so a half-deleted image cannot get
// stuck in the gallery.
func (s *Service) Delete(ctx context.Context, userID int64, id string) error {
	if userID <= 0 || !validID(id) {
		return ErrNotFound
	}

	rec, err := s.images.Delete(ctx, userID, id)
	if err != nil {
		if errors.Is(err, pgrepo.ErrImageNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete gallery record: %w", err)
	}

	if s.objects != nil {
		s.objects.DeleteAll(ctx, rec.OriginalKey, rec.ProcessedKey, rec.ThumbnailKey)
	}
	return nil
}

func (s *Service) load(ctx context.Context, userID int64, id string) (pgrepo.ImageRecord, error) {
	if userID <= 0 || !validID(id) {
		return pgrepo.ImageRecord{}, ErrNotFound
	}

	rec, err := s.images.Get(ctx, userID, id)
	if err != nil {
		if errors.Is(err, pgrepo.ErrImageNotFound) {
			return pgrepo.ImageRecord{}, ErrNotFound
		}
		return pgrepo.ImageRecord{}, fmt.Errorf("load gallery record: %w", err)
	}
	return rec, nil
}

func (s *Service) resolveURLs(ctx context.Context, rec pgrepo.ImageRecord, includeOriginal bool) Image {
	img := Image{Record: rec}
	if s.objects == nil {
		return img
	}

	img.ThumbnailURL = s.signOrEmpty(ctx, rec.ThumbnailKey)
	img.ProcessedURL = s.signOrEmpty(ctx, rec.ProcessedKey)
	if includeOriginal {
		img.OriginalURL = s.signOrEmpty(ctx, rec.OriginalKey)
	}
	return img
}

func (s *Service) signOrEmpty(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}
	url, err := s.objects.SignedURL(ctx, key)
	if err != nil {
		s.logger.Warn("sign object url", zap.String("key", key), zap.Error(err))
		return ""
	}
	return url
}

func defaultTitle(originalName string) string {
	name := strings.TrimSpace(originalName)
	if dot := strings.LastIndex(name, "."); dot > 0 {
		name = name[:dot]
	}
	if name == "" {
		return "Untitled"
	}
	if len(name) > maxTitleLength {
		name = name[:maxTitleLength]
	}
	return name
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
