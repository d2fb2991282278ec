// Package maintenance runs the periodic housekeeping tasks: sweeping
// orphaned render temp directories and checking for yt-dlp updates.
package maintenance

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"autoclipper/internal/telemetry"
)

// staleAge is how old an abandoned temp directory must be before the sweep
// removes it; directories younger than this may belong to a live render.
const staleAge = 6 * time.Hour

// SweepTempDirs removes render temp directories older than staleAge under
// each root. Returns how many were removed.
func SweepTempDirs(roots ...string) int {
	removed := 0
	cutoff := time.Now().Add(-staleAge)
	for _, root := range roots {
		matches, _ := filepath.Glob(filepath.Join(root, "*", ".autoclipper-render-*"))
		direct, _ := filepath.Glob(filepath.Join(root, ".autoclipper-render-*"))
		for _, dir := range append(matches, direct...) {
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				log.Warn().Err(err).Str("dir", dir).Msg("sweep temp dir")
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		telemetry.Event("temp_sweep", map[string]string{"removed": strconv.Itoa(removed)})
		log.Info().Int("removed", removed).Msg("swept stale render temp dirs")
	}
	return removed
}

const ytdlpReleaseAPI = "https://api.github.com/repos/yt-dlp/yt-dlp/releases/latest"

// YtDlpUpdater compares the installed yt-dlp version against the latest
// GitHub release tag.
type YtDlpUpdater struct {
	Binary string
	client *http.Client
}

// NewYtDlpUpdater probes the yt-dlp binary on PATH.
func NewYtDlpUpdater() *YtDlpUpdater {
	return &YtDlpUpdater{Binary: "yt-dlp", client: &http.Client{Timeout: 8 * time.Second}}
}

// InstalledVersion returns the local binary's version, or "" when the
// binary is absent or broken.
func (u *YtDlpUpdater) InstalledVersion(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, u.Binary, "--version").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// LatestReleaseTag fetches the newest release tag, or "" on any failure.
func (u *YtDlpUpdater) LatestReleaseTag(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ytdlpReleaseAPI, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "autoclipper")
	resp, err := u.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	var payload struct {
		TagName string `json:"tag_name"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.TagName)
}

// CheckYtDlp logs when the installed yt-dlp lags the latest release. Network
// failures are silent; the check reruns on the next tick.
func (u *YtDlpUpdater) CheckYtDlp(ctx context.Context) {
	latest := u.LatestReleaseTag(ctx)
	if latest == "" {
		return
	}
	current := u.InstalledVersion(ctx)
	if current == "" || current != latest {
		log.Info().Str("installed", current).Str("latest", latest).Msg("yt-dlp update available")
		telemetry.Event("ytdlp_outdated", map[string]string{"installed": current, "latest": latest})
	}
}
