package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/nijaru/transcribe-pipeline/errors"
	"github.com/nijaru/transcribe-pipeline/models"
)

// MaxCrawlVideos caps how many children a single crawl may create.
const MaxCrawlVideos = 500

var languagePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z]{2,4})?$`)

type Validator struct {
	engines map[string]bool
}

// NewValidator accepts the given engine tags for submissions.
func NewValidator(engines []string) *Validator {
	v := &Validator{engines: make(map[string]bool, len(engines))}
	for _, e := range engines {
		v.engines[e] = true
	}
	return v
}

// ValidateURL performs URL validation
func (v *Validator) ValidateURL(urlStr string) error {
	const op = "Validator.ValidateURL"

	if urlStr == "" {
		return errors.InvalidInput(op, nil, "URL is required")
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return errors.InvalidInput(op, err, "Invalid URL format")
	}

	// Protocol validation
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.InvalidInput(op, nil, "URL must use HTTP or HTTPS")
	}

	// Domain validation
	host := strings.ToLower(parsedURL.Hostname())
	if host != "youtube.com" && !strings.HasSuffix(host, ".youtube.com") &&
		host != "youtu.be" {
		return errors.InvalidInput(op, nil, "Only YouTube URLs are supported")
	}

	return nil
}

func (v *Validator) ValidateLanguage(lang string) error {
	const op = "Validator.ValidateLanguage"

	if lang == "" || lang == models.DefaultLanguage || languagePattern.MatchString(lang) {
		return nil
	}
	return errors.InvalidInput(op, nil, fmt.Sprintf("Unsupported language %q", lang))
}

func (v *Validator) ValidateEngine(engine string) error {
	const op = "Validator.ValidateEngine"

	if engine == "" || v.engines[engine] {
		return nil
	}
	return errors.InvalidInput(op, nil, fmt.Sprintf("Unknown transcription engine %q", engine))
}

// ValidateCrawl checks a crawl request after defaults have been applied.
func (v *Validator) ValidateCrawl(c *models.Crawl) error {
	const op = "Validator.ValidateCrawl"

	if err := v.ValidateURL(c.ChannelURL); err != nil {
		return err
	}
	if c.MaxVideos < 1 || c.MaxVideos > MaxCrawlVideos {
		return errors.InvalidInput(op, nil, fmt.Sprintf("max_videos must be between 1 and %d", MaxCrawlVideos))
	}
	if !c.VideoType.Valid() {
		return errors.InvalidInput(op, nil, "video_type must be one of shorts, videos, all")
	}
	if err := v.ValidateLanguage(c.Language); err != nil {
		return err
	}
	return v.ValidateEngine(c.Engine)
}
