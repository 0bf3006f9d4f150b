package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultThumbnailWidth is the maximum edge of rendered thumbnails.
const DefaultThumbnailWidth = 320

// ImageThumbnailer renders still images into a bounded JPEG.
type ImageThumbnailer struct {
	MaxEdge int
	Quality int
}

// NewImageThumbnailer returns a thumbnailer with the default size and quality.
func NewImageThumbnailer() *ImageThumbnailer {
	return &ImageThumbnailer{MaxEdge: DefaultThumbnailWidth, Quality: 80}
}

func (t *ImageThumbnailer) Thumbnail(ctx context.Context, data []byte, contentType string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if IsVideo(contentType) {
		return nil, ErrUnsupportedMedia
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupportedMedia
		}
		return nil, fmt.Errorf("storage: decode image: %w", err)
	}
	return encodeThumbnail(src, t.MaxEdge, t.Quality)
}

func encodeThumbnail(src image.Image, maxEdge, quality int) ([]byte, error) {
	if maxEdge <= 0 {
		maxEdge = DefaultThumbnailWidth
	}
	if quality <= 0 {
		quality = 80
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, ErrUnsupportedMedia
	}
	if w > maxEdge || h > maxEdge {
		if w >= h {
			h = max(1, h*maxEdge/w)
			w = maxEdge
		} else {
			w = max(1, w*maxEdge/h)
			h = maxEdge
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("storage: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// MediaThumbnailer sends video to Video (when set) and everything else to Image.
type MediaThumbnailer struct {
	Image Thumbnailer
	Video Thumbnailer
}

func (m MediaThumbnailer) Thumbnail(ctx context.Context, data []byte, contentType string) ([]byte, error) {
	if IsVideo(contentType) {
		if m.Video == nil {
			return nil, ErrUnsupportedMedia
		}
		return m.Video.Thumbnail(ctx, data, contentType)
	}
	if m.Image == nil {
		return nil, ErrUnsupportedMedia
	}
	return m.Image.Thumbnail(ctx, data, contentType)
}
