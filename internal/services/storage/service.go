package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrValidation = errors.New("storage validation failed")

// ObjectStore is the bucket the gateway writes into. Implemented by
// S3Store; tests swap in a map-backed fake.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}

// UploadResult describes the stored original, its generated thumbnail and
// the dimensions read from the processed output.
type UploadResult struct {
	Key         string
	ContentType string
	Size        int64
}

type Service struct {
	store   ObjectStore
	codec   Codec
	signTTL time.Duration
	logger  *zap.Logger
}

func NewService(store ObjectStore, codec Codec, signTTL time.Duration, logger *zap.Logger) *Service {
	if codec == nil {
		codec = PassthroughCodec{}
	}
	if signTTL <= 0 {
		signTTL = 2 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:   store,
		codec:   codec,
		signTTL: signTTL,
		logger:  logger,
	}
}

func (s *Service) EnsureBucket(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("object store is not configured")
	}
	return s.store.EnsureBucket(ctx)
}

// UploadOriginal stores the uploaded source image under the owner prefix.
func (s *Service) UploadOriginal(ctx context.Context, userID int64, imageID, contentType string, data []byte) (UploadResult, error) {
	if userID <= 0 || imageID == "" || len(data) == 0 {
		return UploadResult{}, ErrValidation
	}

	key := OriginalKey(userID, imageID, contentType)
	if err := s.put(ctx, key, data, contentType); err != nil {
		return UploadResult{}, err
	}

	return UploadResult{Key: key, ContentType: contentType, Size: int64(len(data))}, nil
}

// UploadProcessed stores the background-removed PNG.
func (s *Service) UploadProcessed(ctx context.Context, userID int64, imageID string, data []byte) (UploadResult, error) {
	if userID <= 0 || imageID == "" || len(data) == 0 {
		return UploadResult{}, ErrValidation
	}

	key := ProcessedKey(userID, imageID)
	if err := s.put(ctx, key, data, "image/png"); err != nil {
		return UploadResult{}, err
	}

	return UploadResult{Key: key, ContentType: "image/png", Size: int64(len(data))}, nil
}

// UploadThumbnail builds the preview from the processed output and stores
// it. Codec trouble degrades to a passthrough copy instead of failing.
func (s *Service) UploadThumbnail(ctx context.Context, userID int64, imageID string, processed []byte) (UploadResult, Thumbnail, error) {
	if userID <= 0 || imageID == "" || len(processed) == 0 {
		return UploadResult{}, Thumbnail{}, ErrValidation
	}

	thumb, err := s.codec.Thumbnail(processed, "image/png")
	if err != nil {
		s.logger.Warn("build thumbnail, storing passthrough copy", zap.Error(err))
		thumb = passthroughThumbnail(processed, "image/png")
	}

	key := ThumbnailKey(userID, imageID, thumb.Ext)
	if err := s.put(ctx, key, thumb.Data, thumb.ContentType); err != nil {
		return UploadResult{}, Thumbnail{}, err
	}

	return UploadResult{Key: key, ContentType: thumb.ContentType, Size: int64(len(thumb.Data))}, thumb, nil
}

// Dimensions reads the pixel size of the processed output.
func (s *Service) Dimensions(data []byte) (int, int) {
	return s.codec.Dimensions(data)
}

// SignedURL issues a short-lived read-only link for one stored object.
func (s *Service) SignedURL(ctx context.Context, key string) (string, error) {
	if s.store == nil {
		return "", fmt.Errorf("object store is not configured")
	}
	if key == "" {
		return "", ErrValidation
	}
	return s.store.PresignGet(ctx, key, s.signTTL)
}

// DeleteAll removes every given object plus the alternate-extension
// variant of any thumbnail key. Objects that are already gone are
// skipped; other failures are logged and do not block the rest.
func (s *Service) DeleteAll(ctx context.Context, keys ...string) {
	if s.store == nil {
		return
	}

	seen := map[string]struct{}{}
	for _, key := range keys {
		if key == "" {
			continue
		}
		for _, candidate := range append([]string{key}, thumbnailAlternates(key)...) {
			if _, done := seen[candidate]; done {
				continue
			}
			seen[candidate] = struct{}{}
			if err := s.store.Remove(ctx, candidate); err != nil {
				s.logger.Warn("remove stored object", zap.String("key", candidate), zap.Error(err))
			}
		}
	}
}

func (s *Service) put(ctx context.Context, key string, data []byte, contentType string) error {
	if s.store == nil {
		return fmt.Errorf("object store is not configured")
	}
	if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func OriginalKey(userID int64, imageID, contentType string) string {
	return objectKey("originals", userID, imageID+"_original."+extForContentType(contentType))
}

func ProcessedKey(userID int64, imageID string) string {
	return objectKey("processed", userID, imageID+"_processed.png")
}

func ThumbnailKey(userID int64, imageID, ext string) string {
	if ext == "" {
		ext = "jpg"
	}
	return objectKey("thumbnails", userID, imageID+"_thumb."+ext)
}

func objectKey(prefix string, userID int64, name string) string {
	return path.Join(prefix, strconv.FormatInt(userID, 10), name)
}

// thumbnailAlternates returns the other extensions a thumbnail may have
// been stored under, so deletes catch previews written by either codec.
func thumbnailAlternates(key string) []string {
	dir, file := path.Split(key)
	if !strings.HasPrefix(key, "thumbnails/") || !strings.Contains(file, "_thumb.") {
		return nil
	}

	base := file[:strings.LastIndex(file, ".")]
	var alternates []string
	for _, ext := range []string{"jpg", "png", "webp"} {
		candidate := dir + base + "." + ext
		if candidate != key {
			alternates = append(alternates, candidate)
		}
	}
	return alternates
}
