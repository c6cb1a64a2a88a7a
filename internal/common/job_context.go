// job_context.go - Per-job step tracking and logging

package common

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobContext tracks one unit of work (a recognition or a batch run) with
// step timings, all logged under the same job id.
type JobContext struct {
	JobID     string
	Kind      string
	StartTime time.Time

	mu               sync.Mutex
	steps            []StepLog
	currentStep      string
	currentStepStart time.Time
	logger           *slog.Logger
}

// StepLog represents a single processing step
type StepLog struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Duration  int64     `json:"duration_ms"`
	Status    string    `json:"status"` // "success", "failed", "skipped"
	Details   string    `json:"details,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewJobContext creates a job context with a fresh id.
func NewJobContext(logger *slog.Logger, kind string) *JobContext {
	if logger == nil {
		logger = DiscardLogger()
	}
	id := uuid.New().String()
	jc := &JobContext{
		JobID:     id,
		Kind:      kind,
		StartTime: time.Now(),
		logger:    logger.With("job_id", id, "kind", kind),
	}
	jc.logger.Debug("job started")
	return jc
}

// Logger returns the job-scoped logger.
func (jc *JobContext) Logger() *slog.Logger {
	return jc.logger
}

// StartStep begins tracking a new processing step
func (jc *JobContext) StartStep(name string) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	jc.currentStep = name
	jc.currentStepStart = time.Now()
	jc.logger.Debug("step started", "step", name)
}

// EndStep completes the current step and records timing
func (jc *JobContext) EndStep(status, details string, err error) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	if jc.currentStep == "" {
		return
	}

	duration := time.Since(jc.currentStepStart)
	step := StepLog{
		Name:      jc.currentStep,
		StartTime: jc.currentStepStart,
		Duration:  duration.Milliseconds(),
		Status:    status,
		Details:   details,
	}
	if err != nil {
		step.Error = err.Error()
		jc.logger.Warn("step failed", "step", step.Name, "duration", duration, "error", err)
	} else {
		jc.logger.Debug("step finished", "step", step.Name, "status", status, "duration", duration)
	}

	jc.steps = append(jc.steps, step)
	jc.currentStep = ""
}

// Steps returns a copy of the completed steps.
func (jc *JobContext) Steps() []StepLog {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	out := make([]StepLog, len(jc.steps))
	copy(out, jc.steps)
	return out
}

// GetSummary returns a final summary of the job and logs it.
func (jc *JobContext) GetSummary() map[string]any {
	jc.mu.Lock()
	defer jc.mu.Unlock()

	total := time.Since(jc.StartTime)
	breakdown := make(map[string]int64, len(jc.steps))
	failed := 0
	for _, step := range jc.steps {
		breakdown[step.Name] += step.Duration
		if step.Status == "failed" {
			failed++
		}
	}

	jc.logger.Info("job finished", "duration", total, "steps", len(jc.steps), "failed_steps", failed)

	return map[string]any{
		"job_id":            jc.JobID,
		"kind":              jc.Kind,
		"total_duration_ms": total.Milliseconds(),
		"step_breakdown":    breakdown,
		"total_steps":       len(jc.steps),
		"failed_steps":      failed,
	}
}
