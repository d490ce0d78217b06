package validation

import (
	"testing"

	"github.com/nijaru/transcribe-pipeline/errors"
	"github.com/nijaru/transcribe-pipeline/models"
)

func TestValidateURL(t *testing.T) {
	validator := NewValidator([]string{"local"})

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{
			name:    "Empty URL",
			url:     "",
			wantErr: true,
		},
		{
			name:    "JavaScript URL",
			url:     "javascript:alert(1)",
			wantErr: true,
		},
		{
			name:    "Invalid URL format",
			url:     "not-a-url",
			wantErr: true,
		},
		{
			name:    "Non-HTTP scheme",
			url:     "ftp://youtube.com/watch?v=abc",
			wantErr: true,
		},
		{
			name:    "Lookalike domain",
			url:     "https://notyoutube.com/watch?v=abc",
			wantErr: true,
		},
		{
			name:    "Valid YouTube URL",
			url:     "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			wantErr: false,
		},
		{
			name:    "Short link",
			url:     "https://youtu.be/dQw4w9WgXcQ",
			wantErr: false,
		},
		{
			name:    "Channel URL",
			url:     "https://m.youtube.com/@someone/shorts",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsInvalidInput(err) {
				t.Errorf("expected invalid input error, got %v", err)
			}
		})
	}
}

func TestValidateLanguageAndEngine(t *testing.T) {
	v := NewValidator([]string{"local", "openai"})

	for _, lang := range []string{"", "auto", "en", "pt-BR", "yue"} {
		if err := v.ValidateLanguage(lang); err != nil {
			t.Errorf("ValidateLanguage(%q) unexpected error: %v", lang, err)
		}
	}
	for _, lang := range []string{"English", "e", "en_US"} {
		if err := v.ValidateLanguage(lang); err == nil {
			t.Errorf("ValidateLanguage(%q) expected error", lang)
		}
	}

	if err := v.ValidateEngine("openai"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v.ValidateEngine("deepgram"); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestValidateCrawl(t *testing.T) {
	v := NewValidator([]string{"local"})

	base := func() *models.Crawl {
		c := &models.Crawl{ChannelURL: "https://www.youtube.com/@someone"}
		c.ApplyDefaults()
		return c
	}

	if err := v.ValidateCrawl(base()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tooMany := base()
	tooMany.MaxVideos = MaxCrawlVideos + 1
	if err := v.ValidateCrawl(tooMany); err == nil {
		t.Error("expected error for max_videos over limit")
	}

	badType := base()
	badType.VideoType = "reels"
	if err := v.ValidateCrawl(badType); err == nil {
		t.Error("expected error for unknown video type")
	}
}
