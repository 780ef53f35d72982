package assets

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// EmbeddingJPEGQuality is used when an asset has to be re-encoded.
const EmbeddingJPEGQuality = 90

// PrepareForEmbedding returns image bytes whose longest edge is at most
// maxEdge. Images already within bounds are returned unchanged; larger ones
// are scaled with Catmull-Rom and re-encoded as JPEG.
func PrepareForEmbedding(data []byte, maxEdge int) ([]byte, error) {
	if maxEdge <= 0 {
		return data, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= maxEdge && cfg.Height <= maxEdge {
		return data, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	w, h := scaledDimensions(bounds.Dx(), bounds.Dy(), maxEdge)

	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: EmbeddingJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}

	log.Debug().
		Str("format", format).
		Int("origWidth", bounds.Dx()).
		Int("origHeight", bounds.Dy()).
		Int("newWidth", w).
		Int("newHeight", h).
		Int("outputSize", buf.Len()).
		Msg("Analysis asset downscaled for embedding")
	return buf.Bytes(), nil
}

// scaledDimensions fits width x height inside maxEdge keeping aspect ratio.
func scaledDimensions(width, height, maxEdge int) (int, int) {
	if width <= maxEdge && height <= maxEdge {
		return width, height
	}
	if width >= height {
		h := int(float64(height) * float64(maxEdge) / float64(width))
		if h < 1 {
			h = 1
		}
		return maxEdge, h
	}
	w := int(float64(width) * float64(maxEdge) / float64(height))
	if w < 1 {
		w = 1
	}
	return w, maxEdge
}

// EXIF is the subset of capture metadata used to enrich caption hints.
type EXIF struct {
	TakenAt     *time.Time
	CameraMake  string
	CameraModel string
}

// ReadEXIF extracts capture time and camera from the asset bytes.
// Date priority: DateTimeOriginal, then CreateDate, then ModifyDate.
func ReadEXIF(data []byte) (*EXIF, error) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	out := &EXIF{
		CameraMake:  strings.TrimSpace(exifData.Make),
		CameraModel: strings.TrimSpace(exifData.Model),
	}
	for _, t := range []time.Time{exifData.DateTimeOriginal(), exifData.CreateDate(), exifData.ModifyDate()} {
		if !t.IsZero() {
			taken := t
			out.TakenAt = &taken
			break
		}
	}
	return out, nil
}
