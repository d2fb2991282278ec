// Package queue implements the in-process job scheduler: a FIFO pending
// list, a bounded pool of workers, and cooperative cancellation.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"autoclipper/internal/telemetry"
)

// Processor executes one job to completion. It is invoked by a worker
// goroutine; errors are logged and never kill the pool.
type Processor func(ctx context.Context, jobID string) error

// Snapshot is a copy of the scheduler's transient state.
type Snapshot struct {
	Pending  []string `json:"pending"`
	Running  []string `json:"running"`
	Canceled []string `json:"canceled"`
}

// Manager schedules jobs at bounded concurrency. One mutex guards the three
// collections; it is never held across processor execution or sleeps.
type Manager struct {
	maxConcurrent int

	mu       sync.Mutex
	pending  []string
	running  map[string]struct{}
	canceled map[string]struct{}

	processor Processor

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewManager creates a Manager running at most maxConcurrent jobs at once.
// Values below 1 are raised to 1.
func NewManager(maxConcurrent int) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Manager{
		maxConcurrent: maxConcurrent,
		running:       make(map[string]struct{}),
		canceled:      make(map[string]struct{}),
	}
}

// SetProcessor installs the per-job execution function. It must be called
// before Start.
func (m *Manager) SetProcessor(p Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		log.Error().Msg("SetProcessor called after Start; ignored")
		return
	}
	m.processor = p
}

// Start spawns the worker pool. Calling Start twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	for i := 0; i < m.maxConcurrent; i++ {
		m.wg.Add(1)
		go m.workerLoop(runCtx, i)
	}
}

// Stop signals the workers to exit and waits for them. Jobs mid-stage keep
// their DB row and checkpoint for resume on next boot.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()
	cancel()
	m.wg.Wait()
}

// Enqueue appends the job to the pending list. It returns false, leaving
// state unchanged, when the id is already pending or running.
func (m *Manager) Enqueue(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[jobID]; ok {
		return false
	}
	for _, id := range m.pending {
		if id == jobID {
			return false
		}
	}
	m.pending = append(m.pending, jobID)
	log.Info().Str("job", jobID).Int("pending", len(m.pending)).Msg("job enqueued")
	return true
}

// Cancel removes a pending job outright, or marks a running job for
// cooperative cancellation observed at its next stage boundary. Returns
// false when the job is in neither set.
func (m *Manager) Cancel(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.pending {
		if id == jobID {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			log.Info().Str("job", jobID).Msg("canceled pending job")
			return true
		}
	}
	if _, ok := m.running[jobID]; ok {
		m.canceled[jobID] = struct{}{}
		log.Info().Str("job", jobID).Msg("marked running job for cancellation")
		return true
	}
	return false
}

// Reorder moves a pending job to newIndex, clamped to the list bounds.
// Returns false when the job is not pending.
func (m *Manager) Reorder(jobID string, newIndex int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := -1
	for i, id := range m.pending {
		if id == jobID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false
	}
	rest := append(append([]string{}, m.pending[:pos]...), m.pending[pos+1:]...)
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(rest) {
		newIndex = len(rest)
	}
	m.pending = append(rest[:newIndex:newIndex], append([]string{jobID}, rest[newIndex:]...)...)
	log.Info().Str("job", jobID).Int("index", newIndex).Msg("reordered pending job")
	return true
}

// IsCancelRequested reports whether a running job has been marked for
// cancellation. Cheap enough to poll between stages.
func (m *Manager) IsCancelRequested(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.canceled[jobID]
	return ok
}

// SnapshotState copies the three collections under the lock.
func (m *Manager) SnapshotState() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := Snapshot{
		Pending:  append([]string{}, m.pending...),
		Running:  make([]string, 0, len(m.running)),
		Canceled: make([]string, 0, len(m.canceled)),
	}
	for id := range m.running {
		snap.Running = append(snap.Running, id)
	}
	for id := range m.canceled {
		snap.Canceled = append(snap.Canceled, id)
	}
	return snap
}

func (m *Manager) dequeue() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return "", false
	}
	jobID := m.pending[0]
	m.pending = m.pending[1:]
	m.running[jobID] = struct{}{}
	return jobID, true
}

func (m *Manager) markDone(jobID string) {
	m.mu.Lock()
	delete(m.running, jobID)
	delete(m.canceled, jobID)
	m.mu.Unlock()
}

const idleSleep = 200 * time.Millisecond

func (m *Manager) workerLoop(ctx context.Context, worker int) {
	defer m.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		jobID, ok := m.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
			continue
		}

		started := time.Now()
		m.runOne(ctx, worker, jobID)
		m.markDone(jobID)
		log.Info().Int("worker", worker).Str("job", jobID).
			Dur("elapsed", time.Since(started)).Msg("job finished")
		telemetry.Event("queue_job_done", map[string]string{"job": jobID})
	}
}

func (m *Manager) runOne(ctx context.Context, worker int, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("worker", worker).Str("job", jobID).Interface("panic", r).Msg("processor panicked")
		}
	}()
	if m.processor == nil {
		log.Warn().Str("job", jobID).Msg("no processor registered")
		return
	}
	if err := m.processor(ctx, jobID); err != nil {
		log.Error().Err(err).Int("worker", worker).Str("job", jobID).Msg("queue worker failed")
	}
}
