package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"go.uber.org/zap"
)

const (
	thumbnailMaxWidth  = 300
	thumbnailMaxHeight = 300
	thumbnailQuality   = 80
)

// Thumbnail is the encoded preview plus the metadata the record keeps.
type Thumbnail struct {
	Data        []byte
	ContentType string
	Ext         string
	Width       int
	Height      int
}

// Codec turns an uploaded image into a preview and reads its dimensions.
// The passthrough variant keeps the gallery working when real image
// processing is unavailable.
type Codec interface {
	Thumbnail(data []byte, contentType string) (Thumbnail, error)
	Dimensions(data []byte) (width, height int)
}

// ImageCodec decodes JPEG, PNG, GIF and WebP and scales previews down to
// fit 300x300 without enlarging. Images it cannot decode pass through
// unchanged instead of failing the upload.
type ImageCodec struct {
	logger *zap.Logger
}

func NewImageCodec(logger *zap.Logger) *ImageCodec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageCodec{logger: logger}
}

func (c *ImageCodec) Thumbnail(data []byte, contentType string) (Thumbnail, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		c.logger.Warn("decode image for thumbnail, passing through", zap.Error(err))
		return passthroughThumbnail(data, contentType), nil
	}

	bounds := src.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), thumbnailMaxWidth, thumbnailMaxHeight)

	scaled := src
	if width != bounds.Dx() || height != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		scaled = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return Thumbnail{}, fmt.Errorf("encode thumbnail: %w", err)
	}

	return Thumbnail{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Ext:         "jpg",
		Width:       width,
		Height:      height,
	}, nil
}

func (c *ImageCodec) Dimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fallbackWidth, fallbackHeight
	}
	return cfg.Width, cfg.Height
}

// Values reported when the real dimensions cannot be read.
const (
	fallbackWidth  = 800
	fallbackHeight = 600
)

// PassthroughCodec stores the original bytes as their own preview.
type PassthroughCodec struct{}

func (PassthroughCodec) Thumbnail(data []byte, contentType string) (Thumbnail, error) {
	return passthroughThumbnail(data, contentType), nil
}

func (PassthroughCodec) Dimensions([]byte) (int, int) {
	return fallbackWidth, fallbackHeight
}

func passthroughThumbnail(data []byte, contentType string) Thumbnail {
	return Thumbnail{
		Data:        data,
		ContentType: contentType,
		Ext:         extForContentType(contentType),
		Width:       fallbackWidth,
		Height:      fallbackHeight,
	}
}

// fitWithin shrinks the source box to fit the bounds while keeping the
// aspect ratio. Images already inside the bounds keep their size.
func fitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return maxWidth, maxHeight
	}
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}

	ratioW := float64(maxWidth) / float64(width)
	ratioH := float64(maxHeight) / float64(height)
	ratio := ratioW
	if ratioH < ratio {
		ratio = ratioH
	}

	scaledW := int(float64(width) * ratio)
	scaledH := int(float64(height) * ratio)
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}
	return scaledW, scaledH
}

func extForContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "bin"
	}
}
