package models

import "time"

type VideoType string

const (
	VideoTypeShorts VideoType = "shorts"
	VideoTypeVideos VideoType = "videos"
	VideoTypeAll    VideoType = "all"
)

const (
	DefaultMaxVideos = 50
	// ShortMaxSeconds is the longest duration still counted as a short.
	ShortMaxSeconds = 60
)

func (v VideoType) Valid() bool {
	switch v {
	case VideoTypeShorts, VideoTypeVideos, VideoTypeAll:
		return true
	}
	return false
}

// Matches applies the crawl filter to an item duration in seconds.
func (v VideoType) Matches(durationSeconds float64) bool {
	switch v {
	case VideoTypeShorts:
		return durationSeconds <= ShortMaxSeconds
	case VideoTypeVideos:
		return durationSeconds > ShortMaxSeconds
	default:
		return true
	}
}

type Crawl struct {
	ID               string    `json:"id"`
	ChannelURL       string    `json:"channel_url"`
	Language         string    `json:"language"`
	Engine           string    `json:"engine"`
	MaxVideos        int       `json:"max_videos"`
	VideoType        VideoType `json:"video_type"`
	TotalVideosFound int       `json:"total_videos_found"`
	TotalJobsCreated int       `json:"total_jobs_created"`
	Status           Status    `json:"status"`
	Error            string    `json:"error,omitempty"`
	Version          int64     `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ApplyDefaults fills zero values with the crawl defaults.
func (c *Crawl) ApplyDefaults() {
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.MaxVideos <= 0 {
		c.MaxVideos = DefaultMaxVideos
	}
	if c.VideoType == "" {
		c.VideoType = VideoTypeShorts
	}
	if c.Status == "" {
		c.Status = StatusQueued
	}
}
