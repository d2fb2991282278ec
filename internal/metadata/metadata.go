// Package metadata builds per-platform publishing metadata for a clip, with
// deterministic fallbacks when no LLM provider is reachable.
package metadata

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"autoclipper/internal/provider"
	"autoclipper/internal/sanitize"
)

// Platforms receiving metadata, in emission order.
var Platforms = []string{"youtube", "tiktok", "instagram", "facebook"}

// Platform is the finished metadata for one target platform.
type Platform struct {
	Title    string   `json:"title"`
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
	Filename string   `json:"filename"`
}

// Generator produces platform metadata. MaxTitleChars floors at 20.
type Generator struct {
	MaxTitleChars int
}

// NewGenerator returns a Generator with an 80-character title cap.
func NewGenerator() *Generator {
	return &Generator{MaxTitleChars: 80}
}

// GenerateForPlatforms returns metadata for every platform, consulting p
// when non-nil. Provider errors downgrade to fallbacks.
func (g *Generator) GenerateForPlatforms(ctx context.Context, transcript, baseTitle string, p provider.Provider, clipIndex int) map[string]Platform {
	out := make(map[string]Platform, len(Platforms))
	for _, platform := range Platforms {
		out[platform] = g.generateSingle(ctx, platform, transcript, baseTitle, p, clipIndex)
	}
	return out
}

func (g *Generator) generateSingle(ctx context.Context, platform, transcript, baseTitle string, p provider.Provider, clipIndex int) Platform {
	var payload *provider.Metadata
	if p != nil {
		var err error
		payload, err = p.GenerateMetadata(ctx, transcript, platform)
		if err != nil {
			log.Debug().Err(err).Str("platform", platform).Msg("metadata provider fell back to defaults")
			payload = nil
		}
	}

	title := ""
	caption := ""
	var hashtags []string
	if payload != nil {
		title = strings.TrimSpace(payload.Title)
		caption = strings.TrimSpace(payload.Caption)
		hashtags = normalizeHashtags(payload.Hashtags)
	}
	if title == "" {
		title = fallbackTitle(baseTitle, platform)
	}
	if caption == "" {
		caption = fallbackCaption(transcript, platform)
	}
	if len(hashtags) == 0 {
		hashtags = fallbackHashtags(platform)
	}

	maxChars := g.MaxTitleChars
	if maxChars < 20 {
		maxChars = 20
	}
	if len(title) > maxChars {
		title = strings.TrimSpace(title[:maxChars])
	}
	if title == "" {
		title = fallbackTitle(baseTitle, platform)
	}
	return Platform{
		Title:    title,
		Caption:  caption,
		Hashtags: hashtags,
		Filename: buildFilename(title, platform, clipIndex),
	}
}

func fallbackTitle(baseTitle, platform string) string {
	stem := strings.TrimSpace(strings.ReplaceAll(sanitize.Filename(baseTitle, "clip"), "_", " "))
	return fmt.Sprintf("%s | %s", stem, strings.ToUpper(platform))
}

func fallbackCaption(transcript, platform string) string {
	trimmed := strings.Join(strings.Fields(transcript), " ")
	if len(trimmed) > 180 {
		trimmed = strings.TrimSpace(trimmed[:180])
	}
	if trimmed == "" {
		trimmed = "Auto generated clip."
	}
	return fmt.Sprintf("%s\n\n#%s #autoclipper", trimmed, platform)
}

func normalizeHashtags(raw []string) []string {
	var clean []string
	for _, item := range raw {
		token := strings.ReplaceAll(strings.TrimSpace(item), " ", "")
		if token == "" {
			continue
		}
		token = sanitize.Filename(strings.ReplaceAll(token, "#", ""), "")
		if token == "" {
			continue
		}
		clean = append(clean, "#"+strings.ToLower(token))
		if len(clean) == 12 {
			break
		}
	}
	return clean
}

func fallbackHashtags(platform string) []string {
	return []string{"#" + platform, "#shorts", "#autoclipper"}
}

func buildFilename(title, platform string, clipIndex int) string {
	return fmt.Sprintf("%02d_%s_%s.mp4",
		clipIndex, sanitize.Filename(platform, "platform"), sanitize.Filename(title, "clip"))
}
