// jobs.go - Background batch jobs with progress and cancellation

package batch

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

// JobState is the lifecycle state of a background batch.
type JobState string

const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobCancelled JobState = "cancelled"
)

// maxFinishedJobs bounds how many finished jobs are kept for polling.
const maxFinishedJobs = 50

// JobSnapshot is a point-in-time copy of a job.
type JobSnapshot struct {
	ID         string    `json:"id"`
	State      JobState  `json:"state"`
	Options    Options   `json:"options"`
	Progress   Progress  `json:"progress"`
	Report     *Report   `json:"report,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

type job struct {
	snapshot JobSnapshot
	cancel   context.CancelFunc
}

// JobManager runs batches in the background, one goroutine per job. The
// engine serializes the actual generations.
type JobManager struct {
	driver *Driver
	logger *slog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	jobs   map[string]*job
	order  []string
	closed bool

	prepared func() // test hook, runs between prepare and registration
}

// NewJobManager creates a manager that runs jobs with driver.
func NewJobManager(driver *Driver, logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = common.DiscardLogger()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &JobManager{
		driver: driver,
		logger: logger.With("component", "batch_jobs"),
		ctx:    ctx,
		stop:   stop,
		jobs:   make(map[string]*job),
	}
}

// Start validates opts and starts the batch in the background. Invalid
// options are returned here, before a job exists.
func (m *JobManager) Start(opts Options) (JobSnapshot, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return JobSnapshot{}, apperrors.NewCancelledError("start_batch", context.Canceled)
	}
	m.mu.Unlock()

	jc := common.NewJobContext(m.driver.logger, "batch")
	plan, err := m.driver.prepare(jc, opts)
	if err != nil {
		return JobSnapshot{}, err
	}

	if m.prepared != nil {
		m.prepared()
	}

	ctx, cancel := context.WithCancel(m.ctx)
	j := &job{
		snapshot: JobSnapshot{
			ID:        jc.JobID,
			State:     JobRunning,
			Options:   opts,
			Progress:  Progress{Total: len(plan.files)},
			CreatedAt: time.Now(),
		},
		cancel: cancel,
	}

	m.mu.Lock()
	// Close may have run while the plan was prepared.
	if m.closed {
		m.mu.Unlock()
		cancel()
		return JobSnapshot{}, apperrors.NewCancelledError("start_batch", context.Canceled)
	}
	m.jobs[j.snapshot.ID] = j
	m.order = append(m.order, j.snapshot.ID)
	m.pruneLocked()
	snap := j.snapshot
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()
		report := m.driver.execute(ctx, jc, plan, opts, func(p Progress) {
			m.mu.Lock()
			j.snapshot.Progress = p
			m.mu.Unlock()
		})

		m.mu.Lock()
		j.snapshot.Report = report
		j.snapshot.FinishedAt = time.Now()
		j.snapshot.State = JobCompleted
		if report.Cancelled {
			j.snapshot.State = JobCancelled
		}
		m.mu.Unlock()
	}()

	m.logger.Info("batch job started", "job_id", snap.ID, "files", snap.Progress.Total)
	return snap, nil
}

// Get returns a snapshot of job id.
func (m *JobManager) Get(id string) (JobSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return JobSnapshot{}, false
	}
	return j.snapshot, true
}

// List returns snapshots of all known jobs, newest first.
func (m *JobManager) List() []JobSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobSnapshot, 0, len(m.order))
	for _, id := range slices.Backward(m.order) {
		out = append(out, m.jobs[id].snapshot)
	}
	return out
}

// Cancel asks job id to stop after the current file. It reports whether the
// job exists.
func (m *JobManager) Cancel(id string) bool {
	m.mu.Lock()
	j, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	j.cancel()
	m.logger.Info("batch job cancel requested", "job_id", id)
	return true
}

// Wait blocks until every running job has finished.
func (m *JobManager) Wait() {
	m.wg.Wait()
}

// Close cancels all jobs and waits for them.
func (m *JobManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()
	m.wg.Wait()
}

// pruneLocked drops the oldest finished jobs beyond maxFinishedJobs.
func (m *JobManager) pruneLocked() {
	finished := 0
	for _, id := range m.order {
		if m.jobs[id].snapshot.State != JobRunning {
			finished++
		}
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if finished > maxFinishedJobs && m.jobs[id].snapshot.State != JobRunning {
			delete(m.jobs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}
