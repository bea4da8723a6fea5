// Package ytdlp acquires source videos by shelling out to the yt-dlp binary.
package ytdlp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultBinary = "yt-dlp"

// formatSelector prefers an mp4 container so the result plays without
// remuxing; the trailing fallbacks accept whatever the source offers.
const formatSelector = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// VideoInfo is the subset of yt-dlp's info json the result event needs.
type VideoInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Duration    float64  `json:"duration"`
	WebpageURL  string   `json:"webpage_url"`
	Timestamp   int64    `json:"timestamp"`
	Extractor   string   `json:"extractor"`
	Tags        []string `json:"tags"`
}

// Result holds the artifacts of one acquisition. All paths live under Dir;
// Cleanup removes the whole directory.
type Result struct {
	Dir           string
	VideoPath     string
	ThumbnailPath string
	Info          VideoInfo
}

// Cleanup removes the acquisition directory and everything in it.
func (r *Result) Cleanup() error {
	return os.RemoveAll(r.Dir)
}

// Downloader runs yt-dlp in a fresh temp directory per job and locates the
// artifacts it wrote.
type Downloader struct {
	binary string
	logger *slog.Logger

	// run is swapped in tests to write fixture artifacts instead of
	// invoking the binary.
	run func(ctx context.Context, dir, url string) error
}

// NewDownloader creates a downloader using the yt-dlp binary from PATH.
func NewDownloader(logger *slog.Logger) *Downloader {
	d := &Downloader{binary: defaultBinary, logger: logger}
	d.run = d.execute
	return d
}

// Download acquires the video, its thumbnail and its metadata into a fresh
// temp directory. The caller owns the directory via Result.Cleanup, on both
// the success and the failure path of whatever it does next.
func (d *Downloader) Download(ctx context.Context, url string) (*Result, error) {
	dir, err := os.MkdirTemp("", "video-archive-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	d.logger.Info("Downloading video",
		slog.String("url", url),
		slog.String("dir", dir),
	)

	if err := d.run(ctx, dir, url); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("yt-dlp failed for %s: %w", url, err)
	}

	result, err := collectArtifacts(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	d.logger.Info("Download complete",
		slog.String("video", filepath.Base(result.VideoPath)),
		slog.String("title", result.Info.Title),
	)
	return result, nil
}

func (d *Downloader) execute(ctx context.Context, dir, url string) error {
	path, err := exec.LookPath(d.binary)
	if err != nil {
		return fmt.Errorf("%s not found in PATH: %w", d.binary, err)
	}

	cmd := exec.CommandContext(ctx, path,
		"-f", formatSelector,
		"--write-info-json",
		"--write-thumbnail",
		url,
	)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, lastLine(output))
	}
	return nil
}

// collectArtifacts locates the downloaded files by extension. yt-dlp names
// them after the video title, which is not predictable up front.
func collectArtifacts(dir string) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read work directory: %w", err)
	}

	result := &Result{Dir: dir}
	var infoPath string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		switch {
		case strings.HasSuffix(entry.Name(), ".info.json"):
			infoPath = path
		case strings.HasSuffix(entry.Name(), ".mp4"):
			result.VideoPath = path
		case strings.HasSuffix(entry.Name(), ".webp"):
			result.ThumbnailPath = path
		}
	}

	if result.VideoPath == "" {
		return nil, fmt.Errorf("no video file in %s", dir)
	}
	if infoPath == "" {
		return nil, fmt.Errorf("no info json in %s", dir)
	}

	data, err := os.ReadFile(infoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read video metadata: %w", err)
	}
	if err := json.Unmarshal(data, &result.Info); err != nil {
		return nil, fmt.Errorf("failed to parse video metadata: %w", err)
	}

	return result, nil
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
