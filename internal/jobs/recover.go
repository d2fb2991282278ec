package jobs

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"autoclipper/internal/db"
)

// NewID returns a fresh opaque job/clip identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newID() string { return NewID() }

// Recover re-enqueues every job left in a non-terminal status by a previous
// run. Rows are reset to queued with their stage and progress intact so the
// resume policy picks up from the checkpoint. Returns the number of jobs
// re-enqueued.
func (c *Controller) Recover(ctx context.Context) (int, error) {
	resumable, err := db.ListJobsByStatus(ctx, c.store, db.StatusPending, db.StatusQueued, db.StatusRunning)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, job := range resumable {
		stage := job.CurrentStage
		if stage == "" {
			stage = "queued"
		}
		checkpointPath := c.ckpt.PathFor(job.ID)
		if _, err := db.UpdateJobStatus(ctx, c.store, job.ID, db.JobUpdate{
			Status:         db.StatusQueued,
			CurrentStage:   &stage,
			ProgressPct:    &job.ProgressPct,
			CheckpointPath: &checkpointPath,
		}); err != nil {
			log.Error().Err(err).Str("job", job.ID).Msg("reset resumable job")
			continue
		}
		if c.queue.Enqueue(job.ID) {
			recovered++
		}
	}
	if recovered > 0 {
		log.Info().Int("count", recovered).Msg("recovered resumable jobs into queue")
	}
	return recovered, nil
}
