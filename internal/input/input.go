// Package input validates and canonicalizes a raw job source: a YouTube URL
// or a local media file.
package input

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"autoclipper/internal/sanitize"
)

// Source types.
const (
	TypeYouTube = "youtube"
	TypeLocal   = "local"
)

var youtubeHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
	"youtu.be":        true,
	"www.youtu.be":    true,
}

var allowedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
}

var videoIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{6,20}$`)

// Source is a validated, canonical job input.
type Source struct {
	SourceType      string
	RawInput        string
	NormalizedInput string
	DisplayName     string
	LocalPath       string
}

// Normalizer validates raw inputs. Zero value uses the 25 GiB local cap.
type Normalizer struct {
	MaxLocalFileBytes int64
}

// NewNormalizer returns a Normalizer with the default local-file size cap.
func NewNormalizer() *Normalizer {
	return &Normalizer{MaxLocalFileBytes: 25 << 30}
}

// Normalize canonicalizes raw into a typed Source. Every precondition
// violation yields an invalid_input error.
func (n *Normalizer) Normalize(raw string) (*Source, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("invalid_input: input source cannot be empty")
	}
	if host, ok := youtubeHost(trimmed); ok {
		normalized, err := normalizeYouTubeURL(trimmed, host)
		if err != nil {
			return nil, err
		}
		return &Source{
			SourceType:      TypeYouTube,
			RawInput:        raw,
			NormalizedInput: normalized,
			DisplayName:     sanitize.Filename(normalized, "youtube_video"),
		}, nil
	}
	return n.normalizeLocal(trimmed, raw)
}

func (n *Normalizer) normalizeLocal(path, raw string) (*Source, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("invalid_input: local file does not exist: %s", path)
	}
	if info.IsDir() || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("invalid_input: input must be a regular file: %s", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("invalid_input: unsupported file extension %q", ext)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("invalid_input: local file is empty")
	}
	max := n.MaxLocalFileBytes
	if max <= 0 {
		max = 25 << 30
	}
	if info.Size() > max {
		return nil, fmt.Errorf("invalid_input: local file exceeds max supported size")
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid_input: %v", err)
	}
	stem := strings.TrimSuffix(filepath.Base(resolved), filepath.Ext(resolved))
	return &Source{
		SourceType:      TypeLocal,
		RawInput:        raw,
		NormalizedInput: resolved,
		DisplayName:     sanitize.Filename(stem, "local_video"),
		LocalPath:       resolved,
	}, nil
}

func youtubeHost(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Host)
	return host, youtubeHosts[host]
}

func normalizeYouTubeURL(raw, host string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid_input: %v", err)
	}
	var videoID string
	if strings.HasSuffix(host, "youtu.be") {
		videoID = strings.Trim(u.Path, "/")
	} else {
		videoID = u.Query().Get("v")
	}
	if !videoIDRE.MatchString(videoID) {
		return "", fmt.Errorf("invalid_input: invalid YouTube video ID")
	}
	return "https://www.youtube.com/watch?v=" + videoID, nil
}
