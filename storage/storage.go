package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// ObjectStore is a flat key/blob store.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// YouTubeAudioKey is where prepared audio for a YouTube job is stored.
func YouTubeAudioKey(jobID string) string {
	return fmt.Sprintf("youtube/%s.mp3", jobID)
}

// UploadKey returns a fresh key for an uploaded audio file, keeping its extension.
func UploadKey(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("audios/%s.%s", uuid.New().String(), ext)
}

// ImageKey is where a generated image for a job is stored.
func ImageKey(jobID, imageID, ext string) string {
	return fmt.Sprintf("images/%s/%s.%s", jobID, imageID, ext)
}

// ContentType guesses a MIME type for audio keys from their extension.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".flac":
		return "audio/flac"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "application/octet-stream"
}
