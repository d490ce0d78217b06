package media

import (
	"context"
	"os"
	"strings"

	"github.com/nijaru/transcribe-pipeline/models"
)

// Fetcher downloads audio for a source URL and lists the items of a channel
// or playlist. Fetch failures are returned as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (*Audio, error)
	List(ctx context.Context, channelURL string, max int) ([]Item, error)
}

// Audio is a downloaded audio file owned by the caller until Close, which
// removes it and its temporary directory.
type Audio struct {
	Path            string
	Title           string
	DurationSeconds float64
	dir             string
}

func NewAudio(path, dir, title string, duration float64) *Audio {
	return &Audio{Path: path, Title: title, DurationSeconds: duration, dir: dir}
}

func (a *Audio) Open() (*os.File, error) {
	return os.Open(a.Path)
}

func (a *Audio) Close() error {
	if a.dir != "" {
		return os.RemoveAll(a.dir)
	}
	return os.Remove(a.Path)
}

type Item struct {
	ID              string  `json:"id"`
	URL             string  `json:"url"`
	Title           string  `json:"title"`
	DurationSeconds float64 `json:"duration"`
}

var channelTabs = []string{"/videos", "/shorts", "/streams", "/playlists", "/featured"}

// ChannelListURL points a bare channel URL at the tab matching the filter.
// Playlist URLs and URLs that already name a tab are returned unchanged.
func ChannelListURL(channelURL string, videoType models.VideoType) string {
	u := strings.TrimRight(channelURL, "/")
	if strings.Contains(u, "list=") || strings.Contains(u, "/playlist") {
		return channelURL
	}
	for _, tab := range channelTabs {
		if strings.HasSuffix(u, tab) {
			return channelURL
		}
	}
	switch videoType {
	case models.VideoTypeShorts:
		return u + "/shorts"
	case models.VideoTypeVideos:
		return u + "/videos"
	}
	return channelURL
}
