// Package jobs drives a job through its staged state machine, keeping the
// checkpoint file, the database row, and the progress hub coherent.
package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"autoclipper/internal/checkpoint"
	"autoclipper/internal/db"
	"autoclipper/internal/hub"
	"autoclipper/internal/queue"
	"autoclipper/internal/telemetry"
)

// Stage is one coarse pipeline step with its target progress percentage.
type Stage struct {
	Name           string
	TargetProgress int
}

// DefaultStages is the outer stage contract. Checkpoints written against
// this list stay resumable across releases.
var DefaultStages = []Stage{
	{Name: "ingest", TargetProgress: 20},
	{Name: "transcribe", TargetProgress: 55},
	{Name: "render", TargetProgress: 100},
}

// StageRunner executes the media work behind one named stage.
type StageRunner interface {
	RunStage(ctx context.Context, stage string, job *db.Job) error
	Release(jobID string)
}

// Controller runs jobs popped from the queue. One Controller serves all
// workers; per-job state lives in the StageRunner.
type Controller struct {
	store    *sql.DB
	ckpt     *checkpoint.Store
	queue    *queue.Manager
	hub      *hub.Hub
	runner   StageRunner
	clipsDir string
	stages   []Stage
}

// NewController wires a Controller over the shared components.
func NewController(store *sql.DB, ckpt *checkpoint.Store, q *queue.Manager, h *hub.Hub, runner StageRunner, clipsDir string) *Controller {
	return &Controller{
		store:    store,
		ckpt:     ckpt,
		queue:    q,
		hub:      h,
		runner:   runner,
		clipsDir: clipsDir,
		stages:   DefaultStages,
	}
}

// Process executes one job run from its current checkpoint to a terminal
// state. It is installed as the queue processor.
func (c *Controller) Process(ctx context.Context, jobID string) error {
	defer c.runner.Release(jobID)

	checkpointPath := c.ckpt.PathFor(jobID)
	cp, err := c.ckpt.Load(jobID)
	if err != nil {
		return err
	}
	lastProgress := 0
	cpStage := ""
	if cp != nil {
		lastProgress = cp.ProgressPct
		cpStage = cp.CurrentStage
	}

	startProgress := lastProgress
	if startProgress < 5 {
		startProgress = 5
	}
	job, err := db.UpdateJobStatus(ctx, c.store, jobID, db.JobUpdate{
		Status:         db.StatusRunning,
		CurrentStage:   strPtr("started"),
		ProgressPct:    &startProgress,
		CheckpointPath: &checkpointPath,
	})
	if err != nil {
		return err
	}
	if job == nil {
		log.Warn().Str("job", jobID).Msg("job row vanished before start")
		return nil
	}
	c.publish(jobID, db.StatusRunning, startProgress, "started", "Job started")

	startIndex := c.resumeIndex(cpStage, lastProgress)
	if startIndex > 0 {
		stage := cpStage
		if stage == "" {
			stage = "resume"
		}
		c.publish(jobID, db.StatusRunning, lastProgress, stage, "Resuming from checkpoint")
	}

	for _, stage := range c.stages[startIndex:] {
		if c.queue.IsCancelRequested(jobID) {
			return c.markCanceled(ctx, jobID, lastProgress)
		}

		if _, err := c.ckpt.Save(jobID, checkpoint.Record{
			JobID:        jobID,
			Status:       db.StatusRunning,
			CurrentStage: stage.Name,
			ProgressPct:  stage.TargetProgress,
			UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return c.markFailed(ctx, jobID, lastProgress, checkpointPath, err)
		}

		job, err = db.UpdateJobStatus(ctx, c.store, jobID, db.JobUpdate{
			Status:         db.StatusRunning,
			CurrentStage:   strPtr(stage.Name),
			ProgressPct:    &stage.TargetProgress,
			CheckpointPath: &checkpointPath,
		})
		if err != nil {
			return c.markFailed(ctx, jobID, lastProgress, checkpointPath, err)
		}
		c.publish(jobID, db.StatusRunning, stage.TargetProgress, stage.Name, "")

		if err := c.runner.RunStage(ctx, stage.Name, job); err != nil {
			if ctx.Err() != nil {
				// Shutdown mid-stage: leave the row and checkpoint intact so
				// recovery re-enqueues the job on next boot.
				return ctx.Err()
			}
			return c.markFailed(ctx, jobID, lastProgress, checkpointPath, err)
		}
		lastProgress = stage.TargetProgress
	}

	return c.finalize(ctx, jobID)
}

// resumeIndex locates the first stage to execute given the last persisted
// stage and progress. Stages are only skipped when their progress target was
// durably recorded.
func (c *Controller) resumeIndex(cpStage string, cpProgress int) int {
	idx := -1
	for i, s := range c.stages {
		if s.Name == cpStage {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0
	}
	start := idx
	if cpProgress >= c.stages[idx].TargetProgress {
		start = idx + 1
	}
	if start > len(c.stages)-1 {
		start = len(c.stages) - 1
	}
	return start
}

func (c *Controller) finalize(ctx context.Context, jobID string) error {
	count, err := db.CountClipsByJob(ctx, c.store, jobID)
	if err != nil {
		return err
	}
	if count == 0 {
		clip := &db.Clip{
			ID:            newID(),
			JobID:         jobID,
			FilePath:      filepath.Join(c.clipsDir, jobID+"_clip_001.mp4"),
			ThumbnailPath: filepath.Join(c.clipsDir, jobID+"_clip_001.jpg"),
			Mode:          db.ModePortrait,
			MetadataJSON:  `{"generated_by":"fallback"}`,
		}
		if err := db.InsertClip(ctx, c.store, clip); err != nil {
			return err
		}
	}

	done := 100
	if _, err := db.UpdateJobStatus(ctx, c.store, jobID, db.JobUpdate{
		Status:       db.StatusDone,
		CurrentStage: strPtr("completed"),
		ProgressPct:  &done,
	}); err != nil {
		return err
	}
	if err := db.ClearJobError(ctx, c.store, jobID); err != nil {
		return err
	}
	if err := c.ckpt.Delete(jobID); err != nil {
		log.Warn().Err(err).Str("job", jobID).Msg("delete checkpoint")
	}
	c.publish(jobID, db.StatusDone, 100, "completed", "Job completed")
	telemetry.Event("job_done", map[string]string{"job": jobID})
	return nil
}

// markCanceled records the cooperative cancellation observed at a stage
// boundary. The checkpoint is retained for inspection.
func (c *Controller) markCanceled(ctx context.Context, jobID string, progress int) error {
	if _, err := db.UpdateJobStatus(ctx, c.store, jobID, db.JobUpdate{
		Status:       db.StatusCanceled,
		CurrentStage: strPtr("canceled"),
		ProgressPct:  &progress,
		ErrorMsg:     strPtr("Canceled by user"),
	}); err != nil {
		return err
	}
	c.publish(jobID, db.StatusCanceled, progress, "canceled", "Job canceled")
	return nil
}

// markFailed records a stage failure, retaining the checkpoint on disk.
func (c *Controller) markFailed(ctx context.Context, jobID string, progress int, checkpointPath string, cause error) error {
	msg := cause.Error()
	if _, err := db.UpdateJobStatus(ctx, c.store, jobID, db.JobUpdate{
		Status:         db.StatusFailed,
		CurrentStage:   strPtr("failed"),
		ProgressPct:    &progress,
		ErrorMsg:       &msg,
		CheckpointPath: &checkpointPath,
	}); err != nil {
		log.Error().Err(err).Str("job", jobID).Msg("record failure")
	}
	c.publish(jobID, db.StatusFailed, progress, "failed", msg)
	log.Error().Err(cause).Str("job", jobID).Msg("job processing failed")
	return fmt.Errorf("job %s failed: %w", jobID, cause)
}

func (c *Controller) publish(jobID, status string, progress int, stage, message string) {
	c.hub.Publish(jobID, hub.NewEvent(jobID, status, progress, stage, message))
}

func strPtr(s string) *string { return &s }
