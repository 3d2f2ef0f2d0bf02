package ingest

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
)

// resolveSourceURL turns YouTube links into a direct media URL via yt-dlp.
// Other URLs are returned unchanged. Resolved URLs expire, so this runs on
// every ffmpeg start.
func resolveSourceURL(ctx context.Context, raw string) (string, error) {
	if !isYouTubeURL(raw) {
		return raw, nil
	}

	cmd := exec.CommandContext(ctx, "yt-dlp",
		"--get-url",
		"--format", "best[height<=1080]",
		"--no-playlist",
		raw,
	)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w", err)
	}

	// yt-dlp may print separate video and audio URLs; the first is video.
	first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return "", fmt.Errorf("yt-dlp returned empty URL")
	}
	return first, nil
}

func isYouTubeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == "youtube.com" || host == "youtu.be" || host == "m.youtube.com"
}
