// Package pipeline implements the per-stage media work the job controller
// drives: ingest, transcribe, and render (hook scoring, face analysis,
// subtitles, encode, metadata).
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"autoclipper/internal/db"
	"autoclipper/internal/faceseg"
	"autoclipper/internal/hooks"
	"autoclipper/internal/ingest"
	"autoclipper/internal/input"
	"autoclipper/internal/metadata"
	"autoclipper/internal/provider"
	"autoclipper/internal/render"
	"autoclipper/internal/subtitle"
	"autoclipper/internal/transcribe"
)

// maxClipSeconds bounds the fallback clip window when no hook is selected.
const maxClipSeconds = 45.0

// Pipeline wires the media collaborators for one service instance. Stage
// methods are invoked by queue workers, one job at a time per job id.
type Pipeline struct {
	store    *sql.DB
	clipsDir string

	normalizer  *input.Normalizer
	ingester    *ingest.Ingester
	transcriber transcribe.Transcriber
	detector    hooks.Detector
	analyzer    *faceseg.Analyzer
	renderer    *render.Renderer
	subtitles   *subtitle.Generator
	metadata    *metadata.Generator
	provider    provider.Provider

	mu    sync.Mutex
	state map[string]*jobState
}

// jobState carries artifacts across stages within one run. On resume the
// fields are reconstructed from the working directory instead.
type jobState struct {
	media *ingest.Media
	words []transcribe.Word
}

// Config holds the collaborators; nil fields get defaults.
type Config struct {
	Store         *sql.DB
	DownloadsRoot string
	ClipsDir      string
	Transcriber   transcribe.Transcriber
	Provider      provider.Provider
	FFmpegPreset  string
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		store:       cfg.Store,
		clipsDir:    cfg.ClipsDir,
		normalizer:  input.NewNormalizer(),
		ingester:    ingest.NewIngester(cfg.DownloadsRoot),
		transcriber: cfg.Transcriber,
		analyzer:    faceseg.NewAnalyzer(),
		renderer:    render.NewRenderer(render.NewCommandBuilder(cfg.FFmpegPreset)),
		subtitles:   subtitle.NewGenerator(),
		metadata:    metadata.NewGenerator(),
		provider:    cfg.Provider,
		state:       make(map[string]*jobState),
	}
}

// Ingester exposes the ingester for test runner injection.
func (p *Pipeline) Ingester() *ingest.Ingester { return p.ingester }

// Renderer exposes the renderer for test runner injection.
func (p *Pipeline) Renderer() *render.Renderer { return p.renderer }

// RunStage executes one named stage for job. Unknown stages are an error.
func (p *Pipeline) RunStage(ctx context.Context, stage string, job *db.Job) error {
	switch stage {
	case "ingest":
		return p.stageIngest(ctx, job)
	case "transcribe":
		return p.stageTranscribe(ctx, job)
	case "render":
		return p.stageRender(ctx, job)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// Release drops any cached per-job state; called when a job leaves the
// running set.
func (p *Pipeline) Release(jobID string) {
	p.mu.Lock()
	delete(p.state, jobID)
	p.mu.Unlock()
}

func (p *Pipeline) jobState(jobID string) *jobState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.state[jobID]
	if !ok {
		st = &jobState{}
		p.state[jobID] = st
	}
	return st
}

func (p *Pipeline) stageIngest(ctx context.Context, job *db.Job) error {
	src, err := p.normalizer.Normalize(job.SourceURL)
	if err != nil {
		return err
	}
	media, err := p.ingester.Ingest(ctx, job.ID, src)
	if err != nil {
		return err
	}
	p.jobState(job.ID).media = media
	return nil
}

func (p *Pipeline) stageTranscribe(ctx context.Context, job *db.Job) error {
	st := p.jobState(job.ID)
	media, err := p.mediaFor(job, st)
	if err != nil {
		return err
	}
	if p.transcriber == nil {
		return fmt.Errorf("transcribe_failed: no transcriber configured")
	}
	words, err := p.transcriber.Transcribe(ctx, media.SourceAudioPath)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return fmt.Errorf("transcribe_failed: transcriber returned no words")
	}
	st.words = words
	return nil
}

func (p *Pipeline) stageRender(ctx context.Context, job *db.Job) error {
	st := p.jobState(job.ID)
	media, err := p.mediaFor(job, st)
	if err != nil {
		return err
	}
	words, err := p.wordsFor(media, st)
	if err != nil {
		return err
	}

	transcript := transcriptText(words)
	selected := p.selectHook(ctx, words, transcript)
	clipStart, clipEnd := resolveClipWindow(words, selected)

	segments, err := p.analyzer.Analyze(nil, clipStart, clipEnd)
	if err != nil {
		return fmt.Errorf("render_failed: %w", err)
	}

	clipWords := wordsWithin(words, clipStart, clipEnd)
	subtitlePath := filepath.Join(media.WorkingDir, "clip_01.ass")
	if _, err := p.subtitles.GenerateASS(clipWords, subtitlePath, 4); err != nil {
		return fmt.Errorf("render_failed: %w", err)
	}

	clipPath := filepath.Join(media.WorkingDir, "clip_01.mp4")
	if err := p.renderer.RenderClip(ctx, media.SourceVideoPath, segments, clipPath, subtitlePath); err != nil {
		return err
	}

	meta := p.metadata.GenerateForPlatforms(ctx, transcript, media.Title, p.provider, 1)
	return p.recordClip(ctx, job, clipPath, segments, selected, clipEnd-clipStart, meta)
}

// mediaFor returns the cached ingest artifacts, or reconstructs them from
// the deterministic working-dir layout after a resume skipped the ingest
// stage.
func (p *Pipeline) mediaFor(job *db.Job, st *jobState) (*ingest.Media, error) {
	if st.media != nil {
		return st.media, nil
	}
	workingDir := filepath.Dir(job.CheckpointPath)
	if job.CheckpointPath == "" {
		return nil, fmt.Errorf("no working directory recorded for job %s", job.ID)
	}
	videoPath := filepath.Join(workingDir, "source_video.mp4")
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("ingest artifacts missing for job %s: %w", job.ID, err)
	}
	st.media = &ingest.Media{
		JobID:           job.ID,
		SourceType:      job.SourceType,
		WorkingDir:      workingDir,
		SourceVideoPath: videoPath,
		SourceAudioPath: filepath.Join(workingDir, "source_audio.wav"),
		Title:           job.ID,
	}
	return st.media, nil
}

// wordsFor returns the cached transcript, or re-reads the transcriber's
// JSON sidecar after a resume skipped the transcribe stage.
func (p *Pipeline) wordsFor(media *ingest.Media, st *jobState) ([]transcribe.Word, error) {
	if len(st.words) > 0 {
		return st.words, nil
	}
	sidecar := strings.TrimSuffix(media.SourceAudioPath, filepath.Ext(media.SourceAudioPath)) + ".transcript.json"
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return nil, fmt.Errorf("transcribe_failed: transcript missing on resume: %w", err)
	}
	words, err := transcribe.ParseWhisperJSON(data)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("transcribe_failed: empty transcript on resume")
	}
	st.words = words
	return words, nil
}

func (p *Pipeline) selectHook(ctx context.Context, words []transcribe.Word, transcript string) *hooks.Candidate {
	if p.provider == nil {
		return nil
	}
	llmHooks, err := p.provider.GenerateHooks(ctx, transcript, 10)
	if err != nil {
		log.Debug().Err(err).Msg("hook provider unavailable; selecting no hook")
		return nil
	}
	candidates := p.detector.Detect(words, llmHooks, 1, 0)
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}

func (p *Pipeline) recordClip(ctx context.Context, job *db.Job, clipPath string, segments []faceseg.SegmentDecision, selected *hooks.Candidate, durationSec float64, meta map[string]metadata.Platform) error {
	mode := db.ModeLandscape
	for _, seg := range segments {
		if seg.Mode == faceseg.ModePortrait {
			mode = db.ModePortrait
			break
		}
	}
	score := 0
	if selected != nil {
		score = selected.ViralScore
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return db.InsertClip(ctx, p.store, &db.Clip{
		ID:           strings.ReplaceAll(uuid.NewString(), "-", ""),
		JobID:        job.ID,
		FilePath:     clipPath,
		Mode:         mode,
		ViralScore:   score,
		DurationSec:  int(math.Round(durationSec)),
		MetadataJSON: string(metaJSON),
	})
}

func transcriptText(words []transcribe.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.Word)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func resolveClipWindow(words []transcribe.Word, selected *hooks.Candidate) (float64, float64) {
	if selected != nil {
		return selected.Start, selected.End
	}
	start, end := words[0].Start, words[0].End
	for _, w := range words[1:] {
		start = math.Min(start, w.Start)
		end = math.Max(end, w.End)
	}
	if end-start > maxClipSeconds {
		end = start + maxClipSeconds
	}
	return start, end
}

func wordsWithin(words []transcribe.Word, start, end float64) []transcribe.Word {
	var within []transcribe.Word
	for _, w := range words {
		if w.Start >= start && w.End <= end {
			within = append(within, w)
		}
	}
	if len(within) == 0 {
		return words
	}
	return within
}
