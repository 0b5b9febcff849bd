package removal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	pgrepo "github.com/lucaszub/background-remover/internal/repo/postgres"
	"github.com/lucaszub/background-remover/internal/services/gallery"
	"github.com/lucaszub/background-remover/internal/services/quota"
)

var (
	ErrValidation      = errors.New("removal validation failed")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrUpstream        = errors.New("processing service failed")
)

const DefaultMaxUploadBytes = 10 << 20

var allowedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
}

// QuotaLedger admits or denies one processing.
type QuotaLedger interface {
	Check(ctx context.Context, id quota.Identity) (quota.Snapshot, error)
	Consume(ctx context.Context, id quota.Identity, meta quota.UsageMeta) (quota.Snapshot, error)
}

// Processor is the external background removal engine.
type Processor interface {
	Process(ctx context.Context, filename, contentType string, data []byte) ([]byte, error)
}

// GallerySaver archives a finished processing for authenticated users.
type GallerySaver interface {
	SaveProcessed(ctx context.Context, in gallery.SaveInput) (pgrepo.ImageRecord, error)
}

// Input is one upload to process.
type Input struct {
	Identity    quota.Identity
	Filename    string
	ContentType string
	Data        []byte
	UserAgent   string
}

// Output carries the processed PNG plus the quota state to surface in
// response headers.
type Output struct {
	Processed []byte
	Quota     quota.Snapshot
	SavedID   string
}

type Service struct {
	ledger    QuotaLedger
	processor Processor
	saver     GallerySaver
	maxBytes  int64
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(ledger QuotaLedger, processor Processor, saver GallerySaver, maxBytes int64, logger *zap.Logger) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		ledger:    ledger,
		processor: processor,
		saver:     saver,
		maxBytes:  maxBytes,
		logger:    logger,
		now:       time.Now,
	}
}

// Remove validates the upload, checks the quota, calls the processing
// service and charges the quota only after a successful result. For
// authenticated users the result is archived in the gallery; an archive
// failure never loses the processed image.
func (s *Service) Remove(ctx context.Context, in Input) (Output, error) {
	if err := s.validate(in); err != nil {
		return Output{}, err
	}
	if s.ledger == nil || s.processor == nil {
		return Output{}, fmt.Errorf("removal service is not fully configured")
	}

	snap, err := s.ledger.Check(ctx, in.Identity)
	if err != nil {
		return Output{}, fmt.Errorf("check quota: %w", err)
	}
	if !snap.CanUse {
		return Output{Quota: snap}, ErrQuotaExceeded
	}

	started := s.now()
	processed, err := s.processor.Process(ctx, in.Filename, in.ContentType, in.Data)
	if err != nil {
		if errors.Is(err, ErrUpstream) || errors.Is(err, ErrValidation) {
			return Output{Quota: snap}, err
		}
		return Output{Quota: snap}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	processingMS := s.now().Sub(started).Milliseconds()

	snap, err = s.ledger.Consume(ctx, in.Identity, quota.UsageMeta{
		IP:           in.Identity.IP,
		UserAgent:    in.UserAgent,
		FileSize:     int64(len(in.Data)),
		FileType:     in.ContentType,
		ProcessingMS: processingMS,
	})
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			return Output{Quota: snap}, ErrQuotaExceeded
		}
		return Output{}, fmt.Errorf("consume quota: %w", err)
	}

	out := Output{Processed: processed, Quota: snap}

	if in.Identity.Kind == quota.KindUser && s.saver != nil {
		rec, saveErr := s.saver.SaveProcessed(ctx, gallery.SaveInput{
			UserID:       in.Identity.UserID,
			OriginalName: in.Filename,
			ContentType:  in.ContentType,
			Original:     in.Data,
			Processed:    processed,
			ProcessingMS: processingMS,
		})
		if saveErr != nil {
			s.logger.Warn("archive processed image",
				zap.Int64("user_id", in.Identity.UserID),
				zap.Error(saveErr))
		} else {
			out.SavedID = rec.ID
		}
	}

	return out, nil
}

func (s *Service) validate(in Input) error {
	if len(in.Data) == 0 {
		return ErrValidation
	}
	if _, ok := allowedTypes[in.ContentType]; !ok {
		return ErrUnsupportedType
	}
	if int64(len(in.Data)) > s.maxBytes {
		return ErrFileTooLarge
	}
	return nil
}

// MaxBytes reports the configured upload ceiling.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}
