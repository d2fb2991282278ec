package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"
)

var testDBCounter atomic.Int64

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	name := fmt.Sprintf("file:dbtest%d?mode=memory&cache=shared", testDBCounter.Add(1))
	db, err := sql.Open("sqlite", name)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestInsertAndGetJob(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	job := &Job{ID: "j1", SourceURL: "https://www.youtube.com/watch?v=abc123def45", SourceType: SourceYouTube, CurrentStage: "created"}
	if err := InsertJob(ctx, db, job); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := GetJob(ctx, db, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Status != StatusPending || got.SourceType != SourceYouTube {
		t.Fatalf("got %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", got)
	}

	missing, err := GetJob(ctx, db, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing job: %+v, %v", missing, err)
	}
}

func TestInsertJobRejectsBadSourceType(t *testing.T) {
	db := openTestDB(t)
	err := InsertJob(context.Background(), db, &Job{ID: "j1", SourceURL: "x", SourceType: "ftp"})
	if err == nil {
		t.Fatal("expected source_type rejection")
	}
}

func TestUpdateJobStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := InsertJob(ctx, db, &Job{ID: "j1", SourceURL: "x", SourceType: SourceLocal}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	stage := "ingest"
	pct := 20
	msg := "boom"
	got, err := UpdateJobStatus(ctx, db, "j1", JobUpdate{Status: StatusFailed, CurrentStage: &stage, ProgressPct: &pct, ErrorMsg: &msg})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != StatusFailed || got.CurrentStage != "ingest" || got.ProgressPct != 20 || got.ErrorMsg != "boom" {
		t.Fatalf("got %+v", got)
	}

	if _, err := UpdateJobStatus(ctx, db, "j1", JobUpdate{Status: "weird"}); err == nil {
		t.Fatal("invalid status accepted")
	}

	over := 150
	got, err = UpdateJobStatus(ctx, db, "j1", JobUpdate{Status: StatusRunning, ProgressPct: &over})
	if err != nil {
		t.Fatalf("update clamp: %v", err)
	}
	if got.ProgressPct != 100 {
		t.Fatalf("progress %d want clamped 100", got.ProgressPct)
	}

	missing, err := UpdateJobStatus(ctx, db, "ghost", JobUpdate{Status: StatusQueued})
	if err != nil || missing != nil {
		t.Fatalf("missing update: %+v, %v", missing, err)
	}
}

func TestClearJobError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := InsertJob(ctx, db, &Job{ID: "j1", SourceURL: "x", SourceType: SourceLocal}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	msg := "err"
	if _, err := UpdateJobStatus(ctx, db, "j1", JobUpdate{Status: StatusFailed, ErrorMsg: &msg}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := ClearJobError(ctx, db, "j1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ := GetJob(ctx, db, "j1")
	if got.ErrorMsg != "" {
		t.Fatalf("error not cleared: %q", got.ErrorMsg)
	}
}

func TestListJobsByStatus(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i, status := range []string{StatusPending, StatusRunning, StatusDone, StatusFailed} {
		id := fmt.Sprintf("j%d", i)
		if err := InsertJob(ctx, db, &Job{ID: id, SourceURL: "x", SourceType: SourceLocal}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := UpdateJobStatus(ctx, db, id, JobUpdate{Status: status}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	got, err := ListJobsByStatus(ctx, db, StatusPending, StatusQueued, StatusRunning)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d jobs want 2: %+v", len(got), got)
	}
}

func TestClipsCascadeAndCount(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := InsertJob(ctx, db, &Job{ID: "j1", SourceURL: "x", SourceType: SourceLocal}); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	if err := InsertClip(ctx, db, &Clip{ID: "c1", JobID: "j1", FilePath: "/tmp/c1.mp4", Mode: ModePortrait, ViralScore: 70, DurationSec: 30}); err != nil {
		t.Fatalf("insert clip: %v", err)
	}
	if err := InsertClip(ctx, db, &Clip{ID: "c2", JobID: "j1", FilePath: "/tmp/c2.mp4", Mode: ModeLandscape}); err != nil {
		t.Fatalf("insert clip2: %v", err)
	}
	if err := InsertClip(ctx, db, &Clip{ID: "c3", JobID: "j1", FilePath: "/tmp/c3.mp4", Mode: "square"}); err == nil {
		t.Fatal("invalid mode accepted")
	}

	clips, err := ClipsByJob(ctx, db, "j1")
	if err != nil || len(clips) != 2 {
		t.Fatalf("clips %+v, %v", clips, err)
	}
	if clips[0].MetadataJSON != "{}" && clips[1].MetadataJSON != "{}" {
		t.Fatalf("metadata default missing: %+v", clips)
	}
	n, err := CountClipsByJob(ctx, db, "j1")
	if err != nil || n != 2 {
		t.Fatalf("count %d, %v", n, err)
	}

	if _, err := db.Exec(`DELETE FROM jobs WHERE id='j1'`); err != nil {
		t.Fatalf("delete job: %v", err)
	}
	n, err = CountClipsByJob(ctx, db, "j1")
	if err != nil || n != 0 {
		t.Fatalf("cascade delete left %d clips, %v", n, err)
	}
}

func TestGetClip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := InsertJob(ctx, db, &Job{ID: "j1", SourceURL: "x", SourceType: SourceLocal}); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	if err := InsertClip(ctx, db, &Clip{ID: "c1", JobID: "j1", FilePath: "/tmp/c1.mp4", Mode: ModePortrait}); err != nil {
		t.Fatalf("insert clip: %v", err)
	}
	got, err := GetClip(ctx, db, "c1")
	if err != nil || got == nil || got.FilePath != "/tmp/c1.mp4" {
		t.Fatalf("got %+v, %v", got, err)
	}
	missing, err := GetClip(ctx, db, "ghost")
	if err != nil || missing != nil {
		t.Fatalf("missing clip: %+v, %v", missing, err)
	}
}
