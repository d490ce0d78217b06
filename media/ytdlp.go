package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type YtDlpConfig struct {
	Path              string
	TempDir           string
	RequestsPerMinute int
	BurstSize         int
	ExtraArgs         []string
}

// YtDlp implements Fetcher by running the yt-dlp binary. Calls share one
// rate limiter so a worker pool does not hammer YouTube.
type YtDlp struct {
	config  YtDlpConfig
	limiter *rate.Limiter
	log     *logrus.Logger
}

var _ Fetcher = (*YtDlp)(nil)

func NewYtDlp(cfg YtDlpConfig, log *logrus.Logger) *YtDlp {
	if cfg.Path == "" {
		cfg.Path = "yt-dlp"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 20
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	return &YtDlp{
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute)/60, cfg.BurstSize),
		log:     log,
	}
}

type videoInfo struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Duration *float64 `json:"duration"`
}

func (y *YtDlp) Fetch(ctx context.Context, locator string) (*Audio, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(y.config.TempDir, "fetch-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create download directory")
	}

	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
		"-j", "--no-simulate",
	}
	args = append(args, y.config.ExtraArgs...)
	args = append(args, locator)

	stdout, err := y.run(ctx, args)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	var info videoInfo
	if line := lastJSONLine(stdout); line != nil {
		if err := json.Unmarshal(line, &info); err != nil {
			y.log.WithError(err).WithField("url", locator).Warn("Failed to parse yt-dlp metadata")
		}
	}

	path, err := findAudio(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, &FetchError{Kind: FetchUnknown, Err: err}
	}

	var duration float64
	if info.Duration != nil {
		duration = *info.Duration
	}
	return NewAudio(path, dir, info.Title, duration), nil
}

type listing struct {
	Entries []listingEntry `json:"entries"`
}

type listingEntry struct {
	ID       string         `json:"id"`
	URL      string         `json:"url"`
	Title    string         `json:"title"`
	Duration *float64       `json:"duration"`
	Entries  []listingEntry `json:"entries"`
}

func (y *YtDlp) List(ctx context.Context, channelURL string, max int) ([]Item, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	args := []string{"--flat-playlist", "-J", "--no-warnings"}
	if max > 0 {
		args = append(args, "--playlist-end", strconv.Itoa(max))
	}
	args = append(args, y.config.ExtraArgs...)
	args = append(args, channelURL)

	stdout, err := y.run(ctx, args)
	if err != nil {
		return nil, err
	}

	items, err := parseListing(stdout)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	return items, nil
}

// run executes yt-dlp and classifies a failure from its stderr.
func (y *YtDlp) run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, y.config.Path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	y.log.WithField("args", strings.Join(args, " ")).Debug("Running yt-dlp")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		raw := stderr.String()
		y.log.WithError(err).WithField("stderr", raw).Error("yt-dlp failed")
		return nil, NewFetchError(raw, err)
	}
	return stdout.Bytes(), nil
}

func parseListing(data []byte) ([]Item, error) {
	var l listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, errors.Wrap(err, "failed to parse channel listing")
	}

	var items []Item
	var walk func(entries []listingEntry)
	walk = func(entries []listingEntry) {
		for _, e := range entries {
			if len(e.Entries) > 0 {
				walk(e.Entries)
				continue
			}
			if e.ID == "" {
				continue
			}
			item := Item{ID: e.ID, URL: e.URL, Title: e.Title}
			if item.URL == "" || !strings.HasPrefix(item.URL, "http") {
				item.URL = fmt.Sprintf("https://www.youtube.com/watch?v=%s", e.ID)
			}
			if e.Duration != nil {
				item.DurationSeconds = *e.Duration
			}
			items = append(items, item)
		}
	}
	walk(l.Entries)
	return items, nil
}

func lastJSONLine(out []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if line := bytes.TrimSpace(lines[i]); len(line) > 0 && line[0] == '{' {
			return line
		}
	}
	return nil
}

func findAudio(dir string) (string, error) {
	if p := filepath.Join(dir, "audio.mp3"); fileExists(p) {
		return p, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "audio.") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", errors.New("no audio file produced")
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
