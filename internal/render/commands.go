package render

import (
	"fmt"
	"strings"

	"autoclipper/internal/faceseg"
)

// CommandBuilder synthesizes ffmpeg invocations for the target short-form
// resolution.
type CommandBuilder struct {
	Width  int
	Height int
	Preset string
}

// NewCommandBuilder returns a builder targeting 1080x1920 with the given
// encoder preset ("veryfast" when empty).
func NewCommandBuilder(preset string) *CommandBuilder {
	if preset == "" {
		preset = "veryfast"
	}
	return &CommandBuilder{Width: 1080, Height: 1920, Preset: preset}
}

// SegmentCommand builds the encode command for one segment decision.
func (b *CommandBuilder) SegmentCommand(sourceVideo string, seg faceseg.SegmentDecision, outputPath string) []string {
	if seg.Mode == faceseg.ModePortrait {
		return b.portraitCommand(sourceVideo, seg, outputPath)
	}
	return b.landscapeBlurCommand(sourceVideo, seg, outputPath)
}

func (b *CommandBuilder) portraitCommand(sourceVideo string, seg faceseg.SegmentDecision, outputPath string) []string {
	cropFilter := fmt.Sprintf(
		"crop='min(iw,ih*9/16)':'min(ih,iw*16/9)':"+
			"x='max(0,min(iw-ow,%.6f*iw-ow/2))':"+
			"y='max(0,min(ih-oh,%.6f*ih-oh/2))',"+
			"scale=%d:%d,setsar=1",
		seg.CropCenterX, seg.CropCenterY, b.Width, b.Height)
	return []string{
		"ffmpeg", "-y",
		"-ss", fmt.Sprintf("%.3f", seg.Start),
		"-to", fmt.Sprintf("%.3f", seg.End),
		"-i", sourceVideo,
		"-vf", cropFilter,
		"-c:v", "libx264",
		"-preset", b.Preset,
		"-crf", "21",
		"-c:a", "aac",
		outputPath,
	}
}

func (b *CommandBuilder) landscapeBlurCommand(sourceVideo string, seg faceseg.SegmentDecision, outputPath string) []string {
	filterComplex := fmt.Sprintf(
		"[0:v]scale=%d:%d:force_original_aspect_ratio=increase,boxblur=20:10[bg];"+
			"[0:v]scale=%d:%d:force_original_aspect_ratio=decrease[fg];"+
			"[bg][fg]overlay=(W-w)/2:(H-h)/2,setsar=1[v]",
		b.Width, b.Height, b.Width, b.Height)
	return []string{
		"ffmpeg", "-y",
		"-ss", fmt.Sprintf("%.3f", seg.Start),
		"-to", fmt.Sprintf("%.3f", seg.End),
		"-i", sourceVideo,
		"-filter_complex", filterComplex,
		"-map", "[v]",
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", b.Preset,
		"-crf", "22",
		"-c:a", "aac",
		outputPath,
	}
}

// ConcatCommand builds the stream-copy concat over a manifest file.
func (b *CommandBuilder) ConcatCommand(concatFile, outputPath string) []string {
	return []string{
		"ffmpeg", "-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatFile,
		"-c", "copy",
		outputPath,
	}
}

// SubtitleBurnCommand builds the ASS burn-in re-encode.
func (b *CommandBuilder) SubtitleBurnCommand(sourceVideo, subtitlePath, outputPath string) []string {
	subtitleExpr := strings.ReplaceAll(strings.ReplaceAll(subtitlePath, "\\", "/"), ":", "\\:")
	return []string{
		"ffmpeg", "-y",
		"-i", sourceVideo,
		"-vf", fmt.Sprintf("ass='%s'", subtitleExpr),
		"-c:v", "libx264",
		"-preset", b.Preset,
		"-c:a", "aac",
		outputPath,
	}
}
