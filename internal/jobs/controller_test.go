package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"autoclipper/internal/checkpoint"
	dbpkg "autoclipper/internal/db"
	"autoclipper/internal/hub"
	"autoclipper/internal/queue"
)

var testDBCounter atomic.Int64

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", fmt.Sprintf("file:ctrltest%d?mode=memory&cache=shared", testDBCounter.Add(1)))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if err := dbpkg.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeRunner struct {
	mu     sync.Mutex
	stages []string
	failOn string
	block  chan struct{} // when non-nil, stages wait here
}

func (f *fakeRunner) RunStage(ctx context.Context, stage string, job *dbpkg.Job) error {
	f.mu.Lock()
	f.stages = append(f.stages, stage)
	fail := f.failOn == stage
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if fail {
		return errors.New("stage exploded")
	}
	return nil
}

func (f *fakeRunner) Release(jobID string) {}

func (f *fakeRunner) ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stages...)
}

type captureSub struct {
	mu     sync.Mutex
	events []hub.Event
}

func (c *captureSub) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev, ok := v.(hub.Event); ok {
		c.events = append(c.events, ev)
	}
	return nil
}

func (c *captureSub) all() []hub.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hub.Event(nil), c.events...)
}

type testEnv struct {
	db     *sql.DB
	ckpt   *checkpoint.Store
	queue  *queue.Manager
	hub    *hub.Hub
	runner *fakeRunner
	sub    *captureSub
	ctrl   *Controller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		db:     openTestDB(t),
		ckpt:   checkpoint.NewStore(t.TempDir()),
		queue:  queue.NewManager(1),
		hub:    hub.New(),
		runner: &fakeRunner{},
		sub:    &captureSub{},
	}
	env.ctrl = NewController(env.db, env.ckpt, env.queue, env.hub, env.runner, t.TempDir())
	return env
}

func (e *testEnv) insertJob(t *testing.T, id string) {
	t.Helper()
	err := dbpkg.InsertJob(context.Background(), e.db, &dbpkg.Job{
		ID: id, SourceURL: "local://a.mp4", SourceType: dbpkg.SourceLocal, CurrentStage: "created",
	})
	if err != nil {
		t.Fatalf("insert job: %v", err)
	}
}

func TestProcessHappyPath(t *testing.T) {
	env := newTestEnv(t)
	env.insertJob(t, "job1")
	env.hub.Connect("job1", env.sub)

	if err := env.ctrl.Process(context.Background(), "job1"); err != nil {
		t.Fatalf("process: %v", err)
	}

	if got := env.runner.ran(); len(got) != 3 || got[0] != "ingest" || got[1] != "transcribe" || got[2] != "render" {
		t.Fatalf("stages %v", got)
	}

	job, _ := dbpkg.GetJob(context.Background(), env.db, "job1")
	if job.Status != dbpkg.StatusDone || job.ProgressPct != 100 || job.CurrentStage != "completed" || job.ErrorMsg != "" {
		t.Fatalf("job %+v", job)
	}

	if cp, _ := env.ckpt.Load("job1"); cp != nil {
		t.Fatalf("checkpoint not deleted: %+v", cp)
	}
	if n, _ := dbpkg.CountClipsByJob(context.Background(), env.db, "job1"); n != 1 {
		t.Fatalf("fabricated clip count %d", n)
	}

	events := env.sub.all()
	if len(events) == 0 {
		t.Fatal("no events published")
	}
	last := 0
	for _, ev := range events {
		if ev.ProgressPct < last {
			t.Fatalf("progress regressed: %+v", events)
		}
		last = ev.ProgressPct
	}
	final := events[len(events)-1]
	if final.Status != dbpkg.StatusDone || final.ProgressPct != 100 {
		t.Fatalf("final event %+v", final)
	}
	if events[0].CurrentStage != "started" || events[0].ProgressPct != 5 {
		t.Fatalf("first event %+v", events[0])
	}
}

func TestProcessResumeSkipsCompletedStage(t *testing.T) {
	env := newTestEnv(t)
	env.insertJob(t, "job1")
	if _, err := env.ckpt.Save("job1", checkpoint.Record{
		JobID: "job1", Status: dbpkg.StatusRunning, CurrentStage: "ingest", ProgressPct: 20,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	env.hub.Connect("job1", env.sub)

	if err := env.ctrl.Process(context.Background(), "job1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := env.runner.ran(); len(got) != 2 || got[0] != "transcribe" || got[1] != "render" {
		t.Fatalf("stages %v want [transcribe render]", got)
	}

	var sawResume bool
	for _, ev := range env.sub.all() {
		if ev.Message == "Resuming from checkpoint" {
			sawResume = true
			if ev.ProgressPct != 20 {
				t.Fatalf("resume event progress %d want 20", ev.ProgressPct)
			}
		}
	}
	if !sawResume {
		t.Fatal("no resume event published")
	}
}

func TestProcessResumeReexecutesIncompleteStage(t *testing.T) {
	env := newTestEnv(t)
	env.insertJob(t, "job1")
	if _, err := env.ckpt.Save("job1", checkpoint.Record{
		JobID: "job1", Status: dbpkg.StatusRunning, CurrentStage: "transcribe", ProgressPct: 30,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	if err := env.ctrl.Process(context.Background(), "job1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := env.runner.ran(); len(got) != 2 || got[0] != "transcribe" || got[1] != "render" {
		t.Fatalf("stages %v want [transcribe render]", got)
	}
}

func TestProcessUnknownCheckpointStageStartsFromTop(t *testing.T) {
	env := newTestEnv(t)
	env.insertJob(t, "job1")
	if _, err := env.ckpt.Save("job1", checkpoint.Record{
		JobID: "job1", CurrentStage: "mystery", ProgressPct: 90,
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}
	if err := env.ctrl.Process(context.Background(), "job1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := env.runner.ran(); len(got) != 3 || got[0] != "ingest" {
		t.Fatalf("stages %v want full run", got)
	}
}

func TestProcessFailureRetainsCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	env.insertJob(t, "job1")
	env.runner.failOn = "transcribe"
	env.hub.Connect("job1", env.sub)

	if err := env.ctrl.Process(context.Background(), "job1"); err == nil {
		t.Fatal("expected stage failure to propagate")
	}

	job, _ := dbpkg.GetJob(context.Background(), env.db, "job1")
	if job.Status != dbpkg.StatusFailed || job.CurrentStage != "failed" {
		t.Fatalf("job %+v", job)
	}
	if job.ErrorMsg == "" {
		t.Fatal("error message missing")
	}
	if job.ProgressPct != 20 {
		t.Fatalf("progress %d want last completed stage target 20", job.ProgressPct)
	}
	if cp, _ := env.ckpt.Load("job1"); cp == nil {
		t.Fatal("checkpoint deleted on failure")
	}

	events := env.sub.all()
	final := events[len(events)-1]
	if final.Status != dbpkg.StatusFailed {
		t.Fatalf("final event %+v", final)
	}
}

func TestCancelWhileRunningObservedAtBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.insertJob(t, "job1")
	env.hub.Connect("job1", env.sub)

	block := make(chan struct{})
	env.runner.block = block
	env.queue.SetProcessor(env.ctrl.Process)
	env.queue.Start(context.Background())
	defer env.queue.Stop()

	env.queue.Enqueue("job1")
	waitFor(t, func() bool { return len(env.runner.ran()) == 1 }, "ingest started")
	if !env.queue.Cancel("job1") {
		t.Fatal("cancel not accepted")
	}
	env.runner.mu.Lock()
	env.runner.block = nil
	env.runner.mu.Unlock()
	close(block)

	waitFor(t, func() bool {
		job, _ := dbpkg.GetJob(context.Background(), env.db, "job1")
		return job != nil && job.Status == dbpkg.StatusCanceled
	}, "canceled status")

	if got := env.runner.ran(); len(got) != 1 {
		t.Fatalf("stages after cancel %v want only ingest", got)
	}
	job, _ := dbpkg.GetJob(context.Background(), env.db, "job1")
	if job.ProgressPct != 20 {
		t.Fatalf("progress %d want pre-cancel stage target 20", job.ProgressPct)
	}
	if cp, _ := env.ckpt.Load("job1"); cp == nil {
		t.Fatal("checkpoint should be retained after cancel")
	}

	var final hub.Event
	waitFor(t, func() bool {
		events := env.sub.all()
		if len(events) == 0 {
			return false
		}
		final = events[len(events)-1]
		return final.Status == dbpkg.StatusCanceled
	}, "canceled event")
	if final.ProgressPct != 20 {
		t.Fatalf("canceled event progress %d want 20", final.ProgressPct)
	}
}

func TestShutdownMidStageLeavesRowResumable(t *testing.T) {
	env := newTestEnv(t)
	env.insertJob(t, "job1")
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	env.runner.block = block

	done := make(chan error, 1)
	go func() { done <- env.ctrl.Process(ctx, "job1") }()
	waitFor(t, func() bool { return len(env.runner.ran()) == 1 }, "ingest started")
	cancel()
	close(block)
	if err := <-done; err == nil {
		t.Fatal("expected context error")
	}

	job, _ := dbpkg.GetJob(context.Background(), env.db, "job1")
	if job.Status != dbpkg.StatusRunning {
		t.Fatalf("status %s want running (resumable)", job.Status)
	}
	if cp, _ := env.ckpt.Load("job1"); cp == nil {
		t.Fatal("checkpoint missing after shutdown")
	}
}

func TestRecoverReenqueuesNonTerminalJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	statuses := map[string]string{
		"p": dbpkg.StatusPending,
		"q": dbpkg.StatusQueued,
		"r": dbpkg.StatusRunning,
		"d": dbpkg.StatusDone,
		"f": dbpkg.StatusFailed,
	}
	for id, status := range statuses {
		env.insertJob(t, id)
		pct := 20
		if _, err := dbpkg.UpdateJobStatus(ctx, env.db, id, dbpkg.JobUpdate{Status: status, ProgressPct: &pct}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	recovered, err := env.ctrl.Recover(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 3 {
		t.Fatalf("recovered %d want 3", recovered)
	}
	snap := env.queue.SnapshotState()
	if len(snap.Pending) != 3 {
		t.Fatalf("pending %v", snap.Pending)
	}
	for _, id := range []string{"p", "q", "r"} {
		job, _ := dbpkg.GetJob(ctx, env.db, id)
		if job.Status != dbpkg.StatusQueued {
			t.Fatalf("job %s status %s want queued", id, job.Status)
		}
		if job.ProgressPct != 20 {
			t.Fatalf("job %s progress reset: %d", id, job.ProgressPct)
		}
		if job.CheckpointPath != env.ckpt.PathFor(id) {
			t.Fatalf("job %s checkpoint path %q", id, job.CheckpointPath)
		}
	}
	for _, id := range []string{"d", "f"} {
		job, _ := dbpkg.GetJob(ctx, env.db, id)
		if job.Status == dbpkg.StatusQueued {
			t.Fatalf("terminal job %s re-enqueued", id)
		}
	}
}

func TestProcessMissingRowIsNoop(t *testing.T) {
	env := newTestEnv(t)
	if err := env.ctrl.Process(context.Background(), "ghost"); err != nil {
		t.Fatalf("process ghost: %v", err)
	}
	if got := env.runner.ran(); len(got) != 0 {
		t.Fatalf("stages %v for missing row", got)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", msg)
}
