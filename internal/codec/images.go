// Package codec converts webhook payloads into chat content: markdown
// rendering, content filters and image preparation.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/tjfontaine/hass-matrix-gateway/internal/core/domain"
	"github.com/tjfontaine/hass-matrix-gateway/internal/core/ports"
)

// ImageProcessor decodes base64 image payloads and builds thumbnails.
type ImageProcessor struct {
	maxSize   int // Maximum allowed decoded image size in bytes
	maxPixels int // Maximum width*height declared by the image header
}

var _ ports.ImageProcessor = (*ImageProcessor)(nil)

// ImageProcessorOption configures the image processor.
type ImageProcessorOption func(*ImageProcessor)

// WithMaxSize sets the maximum allowed image size.
func WithMaxSize(maxSize int) ImageProcessorOption {
	return func(p *ImageProcessor) {
		p.maxSize = maxSize
	}
}

// WithMaxPixels caps the pixel count an image header may declare. Decoding
// allocates the full pixel buffer, so the cap bounds memory per request.
func WithMaxPixels(maxPixels int) ImageProcessorOption {
	return func(p *ImageProcessor) {
		p.maxPixels = maxPixels
	}
}

// NewImageProcessor creates a new image processor.
func NewImageProcessor(opts ...ImageProcessorOption) *ImageProcessor {
	p := &ImageProcessor{
		maxSize:   20 * 1024 * 1024, // 20MB default max
		maxPixels: 40_000_000,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare decodes img. Malformed input is reported as domain.ErrInvalidImage.
func (p *ImageProcessor) Prepare(img *domain.Image) (*domain.PreparedImage, error) {
	if !img.HasContent() {
		return nil, domain.ErrMissingImageContent
	}

	content, declared := img.Content, img.ContentType
	if strings.HasPrefix(content, "data:") {
		var err error
		content, declared, err = parseDataURL(content, declared)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
		}
	}

	data, err := decodeBase64(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	if len(data) > p.maxSize {
		return nil, fmt.Errorf("%w: image too large: %d bytes (max %d)", domain.ErrInvalidImage, len(data), p.maxSize)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image dimensions %dx%d", domain.ErrInvalidImage, cfg.Width, cfg.Height)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(p.maxPixels) {
		return nil, fmt.Errorf("%w: image too large: %dx%d pixels (max %d)", domain.ErrInvalidImage, cfg.Width, cfg.Height, p.maxPixels)
	}

	mediaType := normalizeMediaType(declared)
	if !isSupportedMediaType(mediaType) {
		mediaType = "image/" + format
	}

	prepared := &domain.PreparedImage{
		Name:     imageName(img.Name, format),
		Data:     data,
		MimeType: mediaType,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}

	if size := img.ThumbnailSize; size > 0 && (cfg.Width > size || cfg.Height > size) {
		thumb, err := thumbnail(data, format, size)
		if err != nil {
			return nil, fmt.Errorf("%w: thumbnail: %v", domain.ErrInvalidImage, err)
		}
		thumb.Name = "thumbnail-" + prepared.Name
		prepared.Thumbnail = thumb
	}

	return prepared, nil
}

// thumbnail scales the image so its longest side is size pixels.
func thumbnail(data []byte, format string, size int) (*domain.PreparedImage, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	thumbW, thumbH := size, size
	if w >= h {
		thumbH = max(h*size/w, 1)
	} else {
		thumbW = max(w*size/h, 1)
	}

	dst := image.NewRGBA(image.Rect(0, 0, thumbW, thumbH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	mimeType := "image/jpeg"
	if format == "png" || format == "gif" {
		mimeType = "image/png"
		err = png.Encode(&buf, dst)
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 75})
	}
	if err != nil {
		return nil, err
	}

	return &domain.PreparedImage{
		Data:     buf.Bytes(),
		MimeType: mimeType,
		Width:    thumbW,
		Height:   thumbH,
	}, nil
}

// parseDataURL splits a data URL into its base64 payload and media type.
func parseDataURL(url, fallbackType string) (string, string, error) {
	// Format: data:image/jpeg;base64,/9j/4AAQSkZ...
	content := url[len("data:"):]

	commaIdx := strings.Index(content, ",")
	if commaIdx == -1 {
		return "", "", fmt.Errorf("invalid data URL: missing comma separator")
	}

	metadata := content[:commaIdx]
	data := content[commaIdx+1:]

	parts := strings.Split(metadata, ";")
	isBase64 := false
	for _, part := range parts[1:] {
		if part == "base64" {
			isBase64 = true
			break
		}
	}
	if !isBase64 {
		return "", "", fmt.Errorf("data URL must be base64 encoded")
	}

	mediaType := parts[0]
	if mediaType == "" {
		mediaType = fallbackType
	}
	return data, mediaType, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// imageName returns name, or a default with an extension matching format.
func imageName(name, format string) string {
	if name != "" {
		return name
	}
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	return "image." + ext
}

// isSupportedMediaType checks if the media type is one we can decode.
func isSupportedMediaType(mediaType string) bool {
	switch normalizeMediaType(mediaType) {
	case "image/jpeg", "image/png", "image/gif", "image/webp", "image/tiff":
		return true
	default:
		return false
	}
}

// normalizeMediaType normalizes the media type to a standard format.
func normalizeMediaType(mediaType string) string {
	mainType := strings.Split(mediaType, ";")[0]
	mainType = strings.TrimSpace(strings.ToLower(mainType))

	// Normalize image/jpg to image/jpeg
	if mainType == "image/jpg" {
		return "image/jpeg"
	}
	return mainType
}
