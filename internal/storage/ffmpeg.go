package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strings"
	"time"
)

// FFmpegThumbnailer grabs the first frame of a video with the ffmpeg binary.
type FFmpegThumbnailer struct {
	bin     string
	timeout time.Duration
	image   *ImageThumbnailer
}

// NewFFmpegThumbnailer resolves bin on PATH. It returns nil when ffmpeg is
// not installed so callers can fall back to video records without thumbnails.
func NewFFmpegThumbnailer(bin string) *FFmpegThumbnailer {
	if strings.TrimSpace(bin) == "" {
		bin = "ffmpeg"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil
	}
	return &FFmpegThumbnailer{bin: resolved, timeout: 30 * time.Second, image: NewImageThumbnailer()}
}

func (f *FFmpegThumbnailer) Thumbnail(ctx context.Context, data []byte, contentType string) ([]byte, error) {
	if f == nil {
		return nil, ErrUnsupportedMedia
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	src, err := os.CreateTemp("", "mediarecon-video-*")
	if err != nil {
		return nil, fmt.Errorf("storage: temp video: %w", err)
	}
	defer os.Remove(src.Name())
	if _, err := src.Write(data); err != nil {
		src.Close()
		return nil, fmt.Errorf("storage: write temp video: %w", err)
	}
	if err := src.Close(); err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin,
		"-hide_banner", "-loglevel", "error",
		"-i", src.Name(),
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png", "-",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("storage: ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	frame, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("storage: decode video frame: %w", err)
	}
	return encodeThumbnail(frame, f.image.MaxEdge, f.image.Quality)
}
