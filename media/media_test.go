package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nijaru/transcribe-pipeline/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want FetchErrorKind
	}{
		{"bot check", "ERROR: [youtube] abc: Sign in to confirm you're not a bot.", FetchBlocked},
		{"forbidden", "ERROR: unable to download video data: HTTP Error 403: Forbidden", FetchBlocked},
		{"rate limited", "ERROR: Unable to download webpage: HTTP Error 429: Too Many Requests", FetchRateLimited},
		{"private", "ERROR: [youtube] abc: Private video. Sign in if you've been granted access", FetchUnavailable},
		{"removed", "ERROR: [youtube] abc: Video unavailable. This video has been removed by the uploader", FetchUnavailable},
		{"age", "ERROR: [youtube] abc: Sign in to confirm your age. This video may be inappropriate for some users.", FetchAgeRestricted},
		{"region", "ERROR: [youtube] abc: The uploader has not made this video available in your country", FetchRegionRestricted},
		{"other", "ERROR: ffprobe and ffmpeg not found", FetchUnknown},
		{"empty", "", FetchUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.raw))
		})
	}
}

func TestFetchErrorKinds(t *testing.T) {
	assert.True(t, FetchRateLimited.Transient())
	assert.True(t, FetchBlocked.Transient())
	assert.False(t, FetchUnavailable.Transient())
	assert.False(t, FetchAgeRestricted.Transient())
	assert.False(t, FetchRegionRestricted.Transient())
	assert.Equal(t, FetchUnknown.Message(), FetchErrorKind("other").Message())
	assert.Contains(t, FetchRateLimited.Message(), "rate limit")
}

func TestParseListing(t *testing.T) {
	data := []byte(`{
		"id": "UC123",
		"entries": [
			{"id": "a1", "url": "https://www.youtube.com/shorts/a1", "title": "Short", "duration": 30},
			{"id": "b2", "url": "b2", "title": "Long", "duration": 600.5},
			{"id": "tab", "entries": [{"id": "c3", "title": "Nested", "duration": null}]},
			{"url": "https://www.youtube.com/watch?v=none"}
		]
	}`)

	items, err := parseListing(data)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, Item{ID: "a1", URL: "https://www.youtube.com/shorts/a1", Title: "Short", DurationSeconds: 30}, items[0])
	assert.Equal(t, "https://www.youtube.com/watch?v=b2", items[1].URL)
	assert.Equal(t, 600.5, items[1].DurationSeconds)
	assert.Equal(t, "c3", items[2].ID)
	assert.Equal(t, 0.0, items[2].DurationSeconds)
}

func TestChannelListURL(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/@chan/shorts", ChannelListURL("https://www.youtube.com/@chan/", models.VideoTypeShorts))
	assert.Equal(t, "https://www.youtube.com/@chan/videos", ChannelListURL("https://www.youtube.com/@chan", models.VideoTypeVideos))
	assert.Equal(t, "https://www.youtube.com/@chan", ChannelListURL("https://www.youtube.com/@chan", models.VideoTypeAll))
	assert.Equal(t, "https://www.youtube.com/@chan/streams", ChannelListURL("https://www.youtube.com/@chan/streams", models.VideoTypeShorts))
	assert.Equal(t, "https://www.youtube.com/playlist?list=PL1", ChannelListURL("https://www.youtube.com/playlist?list=PL1", models.VideoTypeShorts))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func newTestYtDlp(t *testing.T, script string) *YtDlp {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewYtDlp(YtDlpConfig{
		Path:              writeScript(t, script),
		TempDir:           t.TempDir(),
		RequestsPerMinute: 6000,
		BurstSize:         10,
	}, log)
}

func TestYtDlpFetch(t *testing.T) {
	y := newTestYtDlp(t, `
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-o" ]; then out="$2"; shift; fi
  shift
done
f=$(echo "$out" | sed 's/%(ext)s/mp3/')
printf 'ID3' > "$f"
echo '{"id":"abc","title":"Test Video","duration":42}'
`)

	audio, err := y.Fetch(context.Background(), "https://www.youtube.com/watch?v=abc")
	require.NoError(t, err)
	assert.Equal(t, "Test Video", audio.Title)
	assert.Equal(t, 42.0, audio.DurationSeconds)

	data, err := os.ReadFile(audio.Path)
	require.NoError(t, err)
	assert.Equal(t, "ID3", string(data))

	require.NoError(t, audio.Close())
	_, err = os.Stat(audio.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestYtDlpFetchClassifiesFailure(t *testing.T) {
	y := newTestYtDlp(t, `
echo "ERROR: Unable to download webpage: HTTP Error 429: Too Many Requests" >&2
exit 1
`)

	_, err := y.Fetch(context.Background(), "https://www.youtube.com/watch?v=abc")
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, FetchRateLimited, fetchErr.Kind)

	entries, err := os.ReadDir(y.config.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "download directory should be removed on failure")
}

func TestYtDlpList(t *testing.T) {
	y := newTestYtDlp(t, `
cat <<'EOF'
{"entries": [
  {"id": "a", "title": "A", "duration": 20},
  {"id": "b", "title": "B", "duration": 90},
  {"id": "c", "title": "C", "duration": 45}
]}
EOF
`)

	items, err := y.List(context.Background(), "https://www.youtube.com/@chan/shorts", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "https://www.youtube.com/watch?v=a", items[0].URL)
}
