package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	"telegram-image-editor/internal/domain"
	"telegram-image-editor/internal/domain/ports/adapter"
)

const (
	startQuality  = 95
	qualityStep   = 10
	minQuality    = 10
	resizeQuality = 85
)

var supportedMIME = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/webp": "webp",
}

var _ adapter.ImageProcessor = (*Processor)(nil)

// Processor validates uploads and re-encodes them as JPEG.
type Processor struct {
	maxBytes  int
	maxPixels int
	log       zerolog.Logger
}

func NewProcessor(maxBytes, maxMegapixels int, logger *zerolog.Logger) *Processor {
	return &Processor{
		maxBytes:  maxBytes,
		maxPixels: maxMegapixels * 1_000_000,
		log:       logger.With().Str("component", "ImageProcessor").Logger(),
	}
}

func invalid(reason string, args ...any) error {
	return &domain.ValidationError{Field: "image", Reason: fmt.Sprintf(reason, args...)}
}

func (p *Processor) Validate(data []byte) (adapter.ImageInfo, error) {
	if len(data) == 0 {
		return adapter.ImageInfo{}, invalid("empty file")
	}
	if p.maxBytes > 0 && len(data) > p.maxBytes {
		return adapter.ImageInfo{}, invalid("image too large: %.1fMB (max: %dMB)",
			float64(len(data))/(1024*1024), p.maxBytes/(1024*1024))
	}
	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return adapter.ImageInfo{}, invalid("invalid file type: %s", mime.String())
	}
	format, ok := supportedMIME[mime.String()]
	if !ok {
		return adapter.ImageInfo{}, invalid("unsupported format: %s (supported: JPEG, PNG, WEBP)", mime.Extension())
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return adapter.ImageInfo{}, invalid("invalid image file: %v", err)
	}
	if pixels := cfg.Width * cfg.Height; p.maxPixels > 0 && pixels > p.maxPixels {
		return adapter.ImageInfo{}, invalid("image too large: %d pixels (max: %d pixels)", pixels, p.maxPixels)
	}
	return adapter.ImageInfo{
		Format:    format,
		MIME:      mime.String(),
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: len(data),
	}, nil
}

// Optimize flattens transparency onto white and searches JPEG quality
// downwards; when that is not enough it shrinks the image in 10% steps.
func (p *Processor) Optimize(data []byte, c adapter.ImageConstraints) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	img := flatten(src)

	for q := startQuality; q > minQuality; q -= qualityStep {
		out, err := encodeJPEG(img, q)
		if err != nil {
			return nil, err
		}
		if c.MaxBytes <= 0 || len(out) <= c.MaxBytes {
			p.log.Debug().Int("bytes", len(out)).Int("quality", q).Msg("image optimized")
			return out, nil
		}
	}

	p.log.Warn().Int("max_bytes", c.MaxBytes).Msg("image still too large after quality reduction, resizing")
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for step := 9; step >= 2; step-- {
		nw, nh := w*step/10, h*step/10
		if nw < 1 || nh < 1 {
			break
		}
		out, err := encodeJPEG(imaging.Resize(img, nw, nh, imaging.Lanczos), resizeQuality)
		if err != nil {
			return nil, err
		}
		if len(out) <= c.MaxBytes {
			p.log.Debug().Int("width", nw).Int("height", nh).Int("bytes", len(out)).Msg("image resized")
			return out, nil
		}
	}
	return nil, fmt.Errorf("unable to optimize image to %d bytes", c.MaxBytes)
}

func flatten(src image.Image) image.Image {
	b := src.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, src, image.Pt(0, 0), 1.0)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
