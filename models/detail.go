package models

import (
	"strings"
	"time"
)

// Segment is one timed piece of a transcript as produced by a speech engine.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Detail struct {
	ID                string    `json:"id"`
	JobID             string    `json:"job_id"`
	FormattedText     string    `json:"formatted_text"`
	Segments          []Segment `json:"segments"`
	Language          string    `json:"language"`
	WordCount         int       `json:"word_count"`
	ProcessingSeconds float64   `json:"processing_seconds"`
	Confidence        string    `json:"confidence,omitempty"`
	Dialogue          string    `json:"dialogue,omitempty"`
	ImagePrompt       string    `json:"image_prompt,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// JoinSegments concatenates segment texts with single spaces. Segment text is
// trimmed first and empty segments are dropped; the segments are not modified.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// WordCount counts whitespace separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

type ImageType string

const (
	ImageUploaded   ImageType = "uploaded"
	ImageGenerated  ImageType = "generated"
	ImageThumbnail  ImageType = "thumbnail"
	ImageScreenshot ImageType = "screenshot"
)

func (t ImageType) Valid() bool {
	switch t {
	case ImageUploaded, ImageGenerated, ImageThumbnail, ImageScreenshot:
		return true
	}
	return false
}

type Image struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Type        ImageType `json:"type"`
	FileKey     string    `json:"file_key"`
	MimeType    string    `json:"mime_type,omitempty"`
	FileSize    int64     `json:"file_size,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
