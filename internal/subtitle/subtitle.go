// Package subtitle emits word-timed karaoke subtitles in ASS v4+ format.
package subtitle

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"autoclipper/internal/transcribe"
)

// Style describes the single karaoke style written to every file.
type Style struct {
	Name            string
	FontName        string
	FontSize        int
	PrimaryColour   string
	SecondaryColour string
	OutlineColour   string
	BackColour      string
	Bold            int
	Italic          int
	Alignment       int
	MarginV         int
}

// DefaultStyle is the house karaoke look: bottom-centered white-on-outline
// with yellow sweep.
var DefaultStyle = Style{
	Name:            "Karaoke",
	FontName:        "Arial",
	FontSize:        64,
	PrimaryColour:   "&H00FFFFFF",
	SecondaryColour: "&H0000FFFF",
	OutlineColour:   "&H00000000",
	BackColour:      "&H64000000",
	Bold:            1,
	Italic:          0,
	Alignment:       2,
	MarginV:         90,
}

// ErrEmptyInput is returned when there are no words to emit.
var ErrEmptyInput = errors.New("words cannot be empty for subtitle generation")

// Generator writes ASS subtitle files.
type Generator struct {
	style Style
}

// NewGenerator returns a Generator using DefaultStyle.
func NewGenerator() *Generator {
	return &Generator{style: DefaultStyle}
}

// GenerateASS writes one dialogue event per group of groupSize consecutive
// words, each word carrying a {\k<centiseconds>} karaoke tag. Returns the
// output path.
func (g *Generator) GenerateASS(words []transcribe.Word, outputPath string, groupSize int) (string, error) {
	if len(words) == 0 {
		return "", ErrEmptyInput
	}
	if groupSize < 1 {
		groupSize = 1
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", err
	}

	sorted := append([]transcribe.Word(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var events []string
	for i := 0; i < len(sorted); i += groupSize {
		end := i + groupSize
		if end > len(sorted) {
			end = len(sorted)
		}
		group := sorted[i:end]
		parts := make([]string, 0, len(group))
		for _, w := range group {
			cs := int(math.Round((w.End - w.Start) * 100))
			if cs < 1 {
				cs = 1
			}
			parts = append(parts, fmt.Sprintf("{\\k%d}%s", cs, w.Word))
		}
		events = append(events, fmt.Sprintf("Dialogue: 0,%s,%s,%s,,0,0,0,,%s",
			FormatTime(group[0].Start), FormatTime(group[len(group)-1].End), g.style.Name, strings.Join(parts, " ")))
	}

	if err := os.WriteFile(outputPath, []byte(g.document(events)), 0o644); err != nil {
		return "", err
	}
	return outputPath, nil
}

func (g *Generator) document(events []string) string {
	s := g.style
	header := []string{
		"[Script Info]",
		"ScriptType: v4.00+",
		"Collisions: Normal",
		"PlayResX: 1080",
		"PlayResY: 1920",
		"",
		"[V4+ Styles]",
		"Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, " +
			"Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, " +
			"Alignment, MarginL, MarginR, MarginV, Encoding",
		fmt.Sprintf("Style: %s,%s,%d,%s,%s,%s,%s,%d,%d,0,0,100,100,0,0,1,2,1,%d,40,40,%d,1",
			s.Name, s.FontName, s.FontSize, s.PrimaryColour, s.SecondaryColour,
			s.OutlineColour, s.BackColour, s.Bold, s.Italic, s.Alignment, s.MarginV),
		"",
		"[Events]",
		"Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text",
	}
	return strings.Join(append(header, events...), "\n") + "\n"
}

// FormatTime renders seconds as the ASS H:MM:SS.cs timestamp.
func FormatTime(sec float64) string {
	totalCS := int(math.Round(sec * 100))
	if totalCS < 0 {
		totalCS = 0
	}
	cs := totalCS % 100
	totalSeconds := totalCS / 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, cs)
}
