package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Job statuses. A job is terminal once done or canceled; failed jobs keep
// their checkpoint and need an explicit reset before they run again.
const (
	StatusPending  = "pending"
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// Source types accepted on job creation.
const (
	SourceYouTube = "youtube"
	SourceLocal   = "local"
)

// Clip render modes.
const (
	ModePortrait  = "portrait"
	ModeLandscape = "landscape"
)

// Job is a durable clip-generation job row.
type Job struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id,omitempty"`
	SourceURL      string    `json:"source_url"`
	SourceType     string    `json:"source_type"`
	Status         string    `json:"status"`
	ProgressPct    int       `json:"progress_pct"`
	CurrentStage   string    `json:"current_stage"`
	ErrorMsg       string    `json:"error_msg"`
	CheckpointPath string    `json:"checkpoint_path"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Clip is a rendered output belonging to a job.
type Clip struct {
	ID            string    `json:"id"`
	JobID         string    `json:"job_id"`
	FilePath      string    `json:"file_path"`
	ThumbnailPath string    `json:"thumbnail_path"`
	Mode          string    `json:"mode"`
	ViralScore    int       `json:"viral_score"`
	DurationSec   int       `json:"duration_sec"`
	MetadataJSON  string    `json:"metadata_json"`
	CreatedAt     time.Time `json:"created_at"`
}

// JobUpdate carries the optional fields of a status update. Nil pointers
// leave the column untouched.
type JobUpdate struct {
	Status         string
	CurrentStage   *string
	ProgressPct    *int
	ErrorMsg       *string
	CheckpointPath *string
}

func validStatus(s string) bool {
	switch s {
	case StatusPending, StatusQueued, StatusRunning, StatusDone, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

const jobColumns = `id, IFNULL(user_id, ''), source_url, source_type, status, progress_pct,
IFNULL(current_stage, ''), IFNULL(error_msg, ''), IFNULL(checkpoint_path, ''), created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	if err := row.Scan(&j.ID, &j.UserID, &j.SourceURL, &j.SourceType, &j.Status, &j.ProgressPct,
		&j.CurrentStage, &j.ErrorMsg, &j.CheckpointPath, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

// InsertJob creates a new job row.
func InsertJob(ctx context.Context, db *sql.DB, j *Job) error {
	if j.SourceType != SourceYouTube && j.SourceType != SourceLocal {
		return fmt.Errorf("invalid source_type %q", j.SourceType)
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	var userID any
	if j.UserID != "" {
		userID = j.UserID
	}
	_, err := db.ExecContext(ctx, `INSERT INTO jobs(id, user_id, source_url, source_type, status, progress_pct, current_stage, checkpoint_path)
VALUES(?,?,?,?,?,?,?,?)`,
		j.ID, userID, j.SourceURL, j.SourceType, j.Status, j.ProgressPct, j.CurrentStage, j.CheckpointPath)
	return err
}

// GetJob returns the job with the given id, or nil if absent.
func GetJob(ctx context.Context, db *sql.DB, id string) (*Job, error) {
	j, err := scanJob(db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// ListJobs returns jobs ordered by latest update. Timestamps have one-second
// resolution; ties are broken by the most recently inserted row first.
func ListJobs(ctx context.Context, db *sql.DB, limit, offset int) ([]Job, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY updated_at DESC, created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest update first.
func ListJobsByStatus(ctx context.Context, db *sql.DB, statuses ...string) ([]Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, 0, len(statuses))
	for i, s := range statuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, s)
	}
	rows, err := db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status IN (`+placeholders+`) ORDER BY updated_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus applies a status update and advances updated_at. It returns
// the refreshed row, or nil if the job does not exist.
func UpdateJobStatus(ctx context.Context, db *sql.DB, id string, upd JobUpdate) (*Job, error) {
	if !validStatus(upd.Status) {
		return nil, fmt.Errorf("invalid status %q", upd.Status)
	}
	query := `UPDATE jobs SET status=?, updated_at=CURRENT_TIMESTAMP`
	args := []any{upd.Status}
	if upd.CurrentStage != nil {
		query += `, current_stage=?`
		args = append(args, *upd.CurrentStage)
	}
	if upd.ProgressPct != nil {
		pct := *upd.ProgressPct
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		query += `, progress_pct=?`
		args = append(args, pct)
	}
	if upd.ErrorMsg != nil {
		query += `, error_msg=?`
		args = append(args, *upd.ErrorMsg)
	}
	if upd.CheckpointPath != nil {
		query += `, checkpoint_path=?`
		args = append(args, *upd.CheckpointPath)
	}
	query += ` WHERE id=?`
	args = append(args, id)
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return nil, err
	}
	return GetJob(ctx, db, id)
}

// ClearJobError nulls the error column; used when a job reaches done.
func ClearJobError(ctx context.Context, db *sql.DB, id string) error {
	_, err := db.ExecContext(ctx, `UPDATE jobs SET error_msg=NULL, updated_at=CURRENT_TIMESTAMP WHERE id=?`, id)
	return err
}

const clipColumns = `id, job_id, file_path, IFNULL(thumbnail_path, ''), mode, viral_score, duration_sec, metadata_json, created_at`

func scanClip(row interface{ Scan(...any) error }) (*Clip, error) {
	var c Clip
	if err := row.Scan(&c.ID, &c.JobID, &c.FilePath, &c.ThumbnailPath, &c.Mode, &c.ViralScore,
		&c.DurationSec, &c.MetadataJSON, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertClip creates a clip row.
func InsertClip(ctx context.Context, db *sql.DB, c *Clip) error {
	if c.Mode != ModePortrait && c.Mode != ModeLandscape {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.MetadataJSON == "" {
		c.MetadataJSON = "{}"
	}
	if c.ViralScore < 0 {
		c.ViralScore = 0
	}
	if c.DurationSec < 0 {
		c.DurationSec = 0
	}
	_, err := db.ExecContext(ctx, `INSERT INTO clips(id, job_id, file_path, thumbnail_path, mode, viral_score, duration_sec, metadata_json)
VALUES(?,?,?,?,?,?,?,?)`,
		c.ID, c.JobID, c.FilePath, c.ThumbnailPath, c.Mode, c.ViralScore, c.DurationSec, c.MetadataJSON)
	return err
}

// GetClip returns the clip with the given id, or nil if absent.
func GetClip(ctx context.Context, db *sql.DB, id string) (*Clip, error) {
	c, err := scanClip(db.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ClipsByJob returns a job's clips oldest first.
func ClipsByJob(ctx context.Context, db *sql.DB, jobID string) ([]Clip, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE job_id=? ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	clips := []Clip{}
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, *c)
	}
	return clips, rows.Err()
}

// CountClipsByJob reports how many clips a job has produced.
func CountClipsByJob(ctx context.Context, db *sql.DB, jobID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM clips WHERE job_id=?`, jobID).Scan(&n)
	return n, err
}
