package media

import (
	"fmt"
	"strings"
)

type FetchErrorKind string

const (
	FetchBlocked          FetchErrorKind = "blocked"
	FetchRateLimited      FetchErrorKind = "rate_limited"
	FetchUnavailable      FetchErrorKind = "unavailable"
	FetchAgeRestricted    FetchErrorKind = "age_restricted"
	FetchRegionRestricted FetchErrorKind = "region_restricted"
	FetchUnknown          FetchErrorKind = "unknown"
)

var fetchMessages = map[FetchErrorKind]string{
	FetchBlocked:          "YouTube blocked the download request. Please try again later.",
	FetchRateLimited:      "YouTube rate limit reached. Please try again later.",
	FetchUnavailable:      "This video is unavailable. It may be private or removed.",
	FetchAgeRestricted:    "This video is age-restricted and cannot be downloaded.",
	FetchRegionRestricted: "This video is not available in the server's region.",
	FetchUnknown:          "Failed to download audio from YouTube.",
}

// Message is the user-facing cause for the kind.
func (k FetchErrorKind) Message() string {
	if msg, ok := fetchMessages[k]; ok {
		return msg
	}
	return fetchMessages[FetchUnknown]
}

// Transient reports whether a later retry might succeed.
func (k FetchErrorKind) Transient() bool {
	return k == FetchBlocked || k == FetchRateLimited || k == FetchUnknown
}

// FetchError is a classified failure from the media fetcher.
type FetchError struct {
	Kind FetchErrorKind
	Raw  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("fetch %s: %s", e.Kind, e.Raw)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s", e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func NewFetchError(raw string, err error) *FetchError {
	return &FetchError{Kind: Classify(raw), Raw: strings.TrimSpace(raw), Err: err}
}

// Order matters: age and region checks must run before the generic
// "sign in" and "not available" patterns.
var classifiers = []struct {
	kind     FetchErrorKind
	patterns []string
}{
	{FetchAgeRestricted, []string{
		"confirm your age",
		"age-restricted",
		"age restricted",
		"inappropriate for some users",
	}},
	{FetchRegionRestricted, []string{
		"not available in your country",
		"blocked it in your country",
		"geo restriction",
		"geo-restricted",
		"not made this video available in your country",
	}},
	{FetchRateLimited, []string{
		"http error 429",
		"too many requests",
		"rate limit",
		"rate-limit",
	}},
	{FetchBlocked, []string{
		"not a bot",
		"sign in to confirm",
		"http error 403",
		"forbidden",
		"blocked",
	}},
	{FetchUnavailable, []string{
		"video unavailable",
		"private video",
		"has been removed",
		"this video is not available",
		"video is not available",
		"does not exist",
		"account associated with this video has been terminated",
		"http error 404",
	}},
}

// Classify maps raw downloader output to a fetch error kind.
func Classify(raw string) FetchErrorKind {
	text := strings.ToLower(raw)
	for _, c := range classifiers {
		for _, p := range c.patterns {
			if strings.Contains(text, p) {
				return c.kind
			}
		}
	}
	return FetchUnknown
}
