package enrich

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// Processor derives optional extras from a finished transcript.
type Processor interface {
	// FormatDialogue rewrites a transcript as "Speaker1: ...; Speaker2: ..." turns.
	FormatDialogue(ctx context.Context, text string) (string, error)
	// ImagePrompt describes a scene for the dialogue. It falls back to a
	// generic prompt rather than failing.
	ImagePrompt(ctx context.Context, dialogue string) string
	GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error)
}

type GeneratedImage struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// FallbackPrompt is used when no prompt could be generated.
func FallbackPrompt(text string) string {
	return fmt.Sprintf("A scene depicting: %s...", truncate(text, 200))
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
