// Package render orchestrates ffmpeg into per-segment encodes, concat, and
// subtitle burn-in.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"autoclipper/internal/faceseg"
)

// ErrNoSegments is returned when a render is requested with no decisions.
var ErrNoSegments = errors.New("render_failed: segments cannot be empty")

// Runner executes an external command, returning its captured stderr.
// Injected in tests.
type Runner func(ctx context.Context, argv []string) (string, error)

// Renderer drives segment render -> concat -> subtitle burn.
type Renderer struct {
	builder *CommandBuilder
	run     Runner
}

// NewRenderer returns a Renderer shelling out to ffmpeg.
func NewRenderer(builder *CommandBuilder) *Renderer {
	if builder == nil {
		builder = NewCommandBuilder("")
	}
	return &Renderer{builder: builder, run: runCommand}
}

// SetRunner replaces the command runner; test hook.
func (r *Renderer) SetRunner(run Runner) { r.run = run }

// RenderClip produces outputPath from sourceVideo according to segments,
// optionally burning in the subtitle file. All intermediates live in a
// unique temp directory next to the output, removed on exit.
func (r *Renderer) RenderClip(ctx context.Context, sourceVideo string, segments []faceseg.SegmentDecision, outputPath, subtitlePath string) error {
	if len(segments) == 0 {
		return ErrNoSegments
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	tempDir := filepath.Join(filepath.Dir(outputPath), ".autoclipper-render-"+uuid.NewString())
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(tempDir)

	segmentPaths, err := r.renderSegments(ctx, sourceVideo, segments, tempDir)
	if err != nil {
		return err
	}
	concatOutput := filepath.Join(tempDir, "concat.mp4")
	if err := r.concatSegments(ctx, segmentPaths, concatOutput, tempDir); err != nil {
		return err
	}
	if subtitlePath == "" {
		return copyFile(concatOutput, outputPath)
	}
	argv := r.builder.SubtitleBurnCommand(concatOutput, subtitlePath, outputPath)
	return r.exec(ctx, argv)
}

func (r *Renderer) renderSegments(ctx context.Context, sourceVideo string, segments []faceseg.SegmentDecision, tempDir string) ([]string, error) {
	paths := make([]string, 0, len(segments))
	for i, seg := range segments {
		target := filepath.Join(tempDir, fmt.Sprintf("segment_%03d.mp4", i))
		if err := r.exec(ctx, r.builder.SegmentCommand(sourceVideo, seg, target)); err != nil {
			return nil, err
		}
		paths = append(paths, target)
	}
	return paths, nil
}

func (r *Renderer) concatSegments(ctx context.Context, segmentPaths []string, outputPath, tempDir string) error {
	manifest := filepath.Join(tempDir, "concat.txt")
	var b strings.Builder
	for _, p := range segmentPaths {
		fmt.Fprintf(&b, "file '%s'\n", filepath.ToSlash(p))
	}
	if err := os.WriteFile(manifest, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return r.exec(ctx, r.builder.ConcatCommand(manifest, outputPath))
}

func (r *Renderer) exec(ctx context.Context, argv []string) error {
	stderr, err := r.run(ctx, argv)
	if err != nil {
		return fmt.Errorf("render_failed: %s: %w: %s", strings.Join(argv, " "), err, head(stderr, 400))
	}
	return nil
}

func runCommand(ctx context.Context, argv []string) (string, error) {
	log.Debug().Strs("argv", argv).Msg("running render command")
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

func head(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
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
