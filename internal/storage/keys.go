package storage

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"mediarecon/internal/domain"
)

// Key prefixes by how the media was produced.
const (
	PrefixGenerated = "generated"
	PrefixEdited    = "edited"
	PrefixUpscaled  = "upscaled"
	PrefixVideos    = "videos"
)

var promptMarkers = []struct {
	marker string
	prefix string
}{
	{"[edit]", PrefixEdited},
	{"[edited]", PrefixEdited},
	{"[upscale]", PrefixUpscaled},
	{"[upscaled]", PrefixUpscaled},
}

// ClassifyOperation picks the key prefix for a record. The structured
// operation type wins; prompt markers are consulted only for records stored
// as plain generations.
func ClassifyOperation(op domain.OperationType, prompt string, kind domain.Kind) string {
	if kind == domain.KindVideo {
		return PrefixVideos
	}
	switch op {
	case domain.OperationVideo:
		return PrefixVideos
	case domain.OperationEdited:
		return PrefixEdited
	case domain.OperationUpscaled:
		return PrefixUpscaled
	}
	normalized := cases.Fold().String(norm.NFKC.String(strings.TrimSpace(prompt)))
	for _, m := range promptMarkers {
		if strings.HasPrefix(normalized, m.marker) {
			return m.prefix
		}
	}
	return PrefixGenerated
}

// MediaKey returns <prefix>/<userID>/<recordID>_<index>.<ext>.
func MediaKey(prefix, userID, recordID string, index int, ext string) string {
	return fmt.Sprintf("%s/%s/%s_%d.%s", prefix, userID, recordID, index, strings.TrimPrefix(ext, "."))
}

// ThumbnailKey returns thumbnails/<prefix>/<userID>/<recordID>_<index>.jpg.
func ThumbnailKey(prefix, userID, recordID string, index int) string {
	return "thumbnails/" + MediaKey(prefix, userID, recordID, index, "jpg")
}

var extByContentType = map[string]string{
	"image/png":       "png",
	"image/jpeg":      "jpg",
	"image/jpg":       "jpg",
	"image/webp":      "webp",
	"image/gif":       "gif",
	"video/mp4":       "mp4",
	"video/webm":      "webm",
	"video/quicktime": "mov",
}

var knownExt = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "webp": true, "gif": true,
	"mp4": true, "webm": true, "mov": true,
}

// Extension derives the object extension from the source URL path, then the
// response content type, then the record kind.
func Extension(rawURL, contentType string, kind domain.Kind) string {
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
		if knownExt[ext] {
			if ext == "jpeg" {
				return "jpg"
			}
			return ext
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if ext, ok := extByContentType[strings.ToLower(mediaType)]; ok {
			return ext
		}
	}
	if kind == domain.KindVideo {
		return "mp4"
	}
	return "png"
}

// ContentTypeFor returns the content type stored alongside an object with ext.
func ContentTypeFor(ext string) string {
	for ct, e := range extByContentType {
		if e == ext && ct != "image/jpg" {
			return ct
		}
	}
	return "application/octet-stream"
}

// IsVideo reports whether contentType describes video media.
func IsVideo(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(contentType), "video/")
	}
	return strings.HasPrefix(strings.ToLower(mediaType), "video/")
}
