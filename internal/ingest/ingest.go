// Package ingest materializes a job's working directory with standardized
// source files: source_video.mp4 and source_audio.wav.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"autoclipper/internal/input"
)

// Media describes the ingested artifacts for one job.
type Media struct {
	JobID           string
	SourceType      string
	WorkingDir      string
	SourceVideoPath string
	SourceAudioPath string
	Title           string
}

// Runner executes an external command, returning its captured stdout. On
// failure the error carries the command's stderr.
type Runner func(ctx context.Context, argv []string) (string, error)

// Ingester downloads or transcodes a source into the job working dir under
// downloadsRoot. yt-dlp handles YouTube sources; ffmpeg normalizes codecs
// and extracts audio.
type Ingester struct {
	downloadsRoot string
	ytdlpBinary   string
	run           Runner
}

// NewIngester returns an Ingester rooted at downloadsRoot.
func NewIngester(downloadsRoot string) *Ingester {
	return &Ingester{downloadsRoot: downloadsRoot, ytdlpBinary: "yt-dlp", run: runCommand}
}

// SetRunner replaces the command runner; test hook.
func (g *Ingester) SetRunner(run Runner) { g.run = run }

// Ingest produces the working directory for jobID from src. Re-running the
// stage overwrites prior artifacts, so a crashed ingest is safe to repeat.
func (g *Ingester) Ingest(ctx context.Context, jobID string, src *input.Source) (*Media, error) {
	jobDir := filepath.Join(g.downloadsRoot, jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("ingest_failed: %w", err)
	}
	videoOut := filepath.Join(jobDir, "source_video.mp4")
	audioOut := filepath.Join(jobDir, "source_audio.wav")

	var title string
	var err error
	switch src.SourceType {
	case input.TypeYouTube:
		title, err = g.ingestYouTube(ctx, src.NormalizedInput, jobDir, videoOut)
	case input.TypeLocal:
		title, err = g.ingestLocal(ctx, src, videoOut)
	default:
		err = fmt.Errorf("unsupported source type %q", src.SourceType)
	}
	if err != nil {
		return nil, fmt.Errorf("ingest_failed: %w", err)
	}
	if err := g.extractAudio(ctx, videoOut, audioOut); err != nil {
		return nil, fmt.Errorf("ingest_failed: %w", err)
	}
	return &Media{
		JobID:           jobID,
		SourceType:      src.SourceType,
		WorkingDir:      jobDir,
		SourceVideoPath: videoOut,
		SourceAudioPath: audioOut,
		Title:           title,
	}, nil
}

func (g *Ingester) ingestLocal(ctx context.Context, src *input.Source, videoOut string) (string, error) {
	if src.LocalPath == "" {
		return "", fmt.Errorf("local path is required for local ingestion")
	}
	if strings.EqualFold(filepath.Ext(src.LocalPath), ".mp4") {
		if err := copyFile(src.LocalPath, videoOut); err != nil {
			return "", err
		}
		return src.DisplayName, nil
	}
	argv := []string{
		"ffmpeg", "-y",
		"-i", src.LocalPath,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-c:a", "aac",
		videoOut,
	}
	if _, err := g.run(ctx, argv); err != nil {
		return "", err
	}
	return src.DisplayName, nil
}

func (g *Ingester) ingestYouTube(ctx context.Context, youtubeURL, jobDir, videoOut string) (string, error) {
	outTmpl := filepath.Join(jobDir, "yt_source.%(ext)s")
	argv := []string{
		g.ytdlpBinary,
		"--quiet", "--no-progress",
		"--format", "bestvideo[height<=1080]+bestaudio/best",
		"--merge-output-format", "mp4",
		"--print", "after_move:title",
		"--output", outTmpl,
		youtubeURL,
	}
	stdout, err := g.run(ctx, argv)
	if err != nil {
		return "", err
	}
	title := printedTitle(stdout)

	downloaded, _ := filepath.Glob(filepath.Join(jobDir, "yt_source*.mp4"))
	sort.Strings(downloaded)
	if len(downloaded) == 0 {
		fallback, _ := filepath.Glob(filepath.Join(jobDir, "yt_source*"))
		sort.Strings(fallback)
		if len(fallback) == 0 {
			return "", fmt.Errorf("yt-dlp did not produce output file")
		}
		if _, err := g.run(ctx, []string{"ffmpeg", "-y", "-i", fallback[len(fallback)-1], videoOut}); err != nil {
			return "", err
		}
	} else if err := os.Rename(downloaded[len(downloaded)-1], videoOut); err != nil {
		return "", err
	}
	return title, nil
}

// printedTitle extracts the --print after_move:title output: the last
// non-empty stdout line.
func printedTitle(stdout string) string {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "youtube_video"
}

func (g *Ingester) extractAudio(ctx context.Context, videoPath, audioOut string) error {
	argv := []string{
		"ffmpeg", "-y",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		audioOut,
	}
	_, err := g.run(ctx, argv)
	return err
}

func runCommand(ctx context.Context, argv []string) (string, error) {
	log.Debug().Strs("argv", argv).Msg("running ingest command")
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
