// driver.go - Batch recognition over a folder or a file list

package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/metrics"
	"github.com/bosocmputer/glm_ocr_desk/internal/ocr"
	"github.com/bosocmputer/glm_ocr_desk/internal/storage"
)

// Recognizer is the part of the OCR engine a batch run needs.
type Recognizer interface {
	IsLoaded() bool
	RecognizeFile(ctx context.Context, path string, promptType ocr.PromptType, maxNewTokens int) (*ocr.Result, error)
}

// Options describes one batch run. Either Directory or Files must be set;
// when both are, the explicit files come first.
type Options struct {
	Directory      string           `json:"directory"`
	Files          []string         `json:"files,omitempty"`
	Recursive      bool             `json:"recursive"`
	PromptType     ocr.PromptType   `json:"prompt_type"`
	OutputFormat   ocr.OutputFormat `json:"output_format"`
	OutputDir      string           `json:"output_dir"`
	FilenameFormat string           `json:"filename_format"`
	DateFormat     string           `json:"date_format"`
	MaxNewTokens   int              `json:"max_new_tokens"`
}

// FileStatus is the outcome of one input file.
type FileStatus string

const (
	StatusSucceeded FileStatus = "succeeded"
	StatusFailed    FileStatus = "failed"
)

// FileResult records one attempted input.
type FileResult struct {
	Input     string         `json:"input"`
	Output    string         `json:"output,omitempty"`
	Status    FileStatus     `json:"status"`
	Code      apperrors.Code `json:"code,omitempty"`
	Error     string         `json:"error,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
}

// Report summarizes a finished (or cancelled) run. Files never attempted
// because of cancellation are not in Results.
type Report struct {
	JobID      string       `json:"job_id"`
	Total      int          `json:"total"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Cancelled  bool         `json:"cancelled"`
	Results    []FileResult `json:"results"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// Failures returns the failed entries.
func (r *Report) Failures() []FileResult {
	var out []FileResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Progress is reported after every attempted file.
type Progress struct {
	Current int        `json:"current"`
	Total   int        `json:"total"`
	Last    FileResult `json:"last"`
}

// ProgressFunc receives progress updates on the driver's goroutine.
type ProgressFunc func(Progress)

// Driver runs batches against a Recognizer.
type Driver struct {
	engine  Recognizer
	logger  *slog.Logger
	metrics *metrics.Metrics
	history storage.History
	now     func() time.Time
}

// DriverOption customises a Driver.
type DriverOption func(*Driver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

// WithMetrics counts processed files.
func WithMetrics(m *metrics.Metrics) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// WithHistory records every successful file.
func WithHistory(h storage.History) DriverOption {
	return func(d *Driver) { d.history = h }
}

// WithClock replaces time.Now for {date} and result timestamps.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) { d.now = now }
}

// NewDriver creates a batch driver.
func NewDriver(engine Recognizer, opts ...DriverOption) *Driver {
	d := &Driver{engine: engine, logger: common.DiscardLogger(), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run processes every discovered file. Per-file failures are recorded in the
// report and never stop the run. Cancelling ctx stops the run between files
// and returns the partial report with Cancelled set. The returned error is
// only for problems with the options themselves.
func (d *Driver) Run(ctx context.Context, opts Options, progress ProgressFunc) (*Report, error) {
	job := common.NewJobContext(d.logger, "batch")
	return d.run(ctx, job, opts, progress)
}

func (d *Driver) run(ctx context.Context, job *common.JobContext, opts Options, progress ProgressFunc) (*Report, error) {
	plan, err := d.prepare(job, opts)
	if err != nil {
		return nil, err
	}
	return d.execute(ctx, job, plan, opts, progress), nil
}

func (d *Driver) execute(ctx context.Context, job *common.JobContext, plan *plan, opts Options, progress ProgressFunc) *Report {
	logger := job.Logger()
	report := &Report{
		JobID:     job.JobID,
		Total:     len(plan.files),
		Results:   make([]FileResult, 0, len(plan.files)),
		StartedAt: d.now(),
	}
	logger.Info("batch started", "files", len(plan.files), "output_dir", opts.OutputDir, "prompt_type", opts.PromptType)

	job.StartStep("recognize")
	for i, path := range plan.files {
		if ctx.Err() != nil {
			report.Cancelled = true
			logger.Info("batch cancelled", "processed", i, "total", len(plan.files))
			break
		}

		res := d.processFile(ctx, job, path, opts, plan.names)
		// A generation abandoned by cancellation is not a file failure.
		if res.Code == apperrors.CodeCancelled {
			report.Cancelled = true
			logger.Info("batch cancelled", "processed", i, "total", len(plan.files))
			break
		}
		report.Results = append(report.Results, res)
		if res.Status == StatusSucceeded {
			report.Succeeded++
		} else {
			report.Failed++
		}
		d.metrics.IncrementBatchFiles(string(res.Status))

		if progress != nil {
			progress(Progress{Current: i + 1, Total: len(plan.files), Last: res})
		}
	}
	job.EndStep("success", fmt.Sprintf("%d succeeded, %d failed", report.Succeeded, report.Failed), nil)

	report.FinishedAt = d.now()
	summary := job.GetSummary()
	logger.Info("batch finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"cancelled", report.Cancelled,
		"total_duration_ms", summary["total_duration_ms"])
	return report
}

type plan struct {
	files []string
	names *NameTemplate
}

func (d *Driver) prepare(job *common.JobContext, opts Options) (*plan, error) {
	job.StartStep("prepare")
	p, err := d.validate(opts)
	if err != nil {
		job.EndStep("failed", "", err)
		return nil, err
	}
	job.EndStep("success", fmt.Sprintf("%d files", len(p.files)), nil)
	return p, nil
}

func (d *Driver) validate(opts Options) (*plan, error) {
	if opts.Directory == "" && len(opts.Files) == 0 {
		return nil, apperrors.NewInvalidArgumentError("a batch needs a directory or a list of files")
	}
	if !opts.PromptType.Valid() {
		return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("unknown prompt type %q", opts.PromptType))
	}
	if _, err := ocr.ParseOutputFormat(string(opts.OutputFormat)); err != nil {
		return nil, err
	}
	if opts.MaxNewTokens <= 0 {
		return nil, apperrors.NewInvalidArgumentError("max_new_tokens must be positive")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, apperrors.NewInvalidArgumentError("output directory is required")
	}
	names, err := NewNameTemplate(opts.FilenameFormat, opts.DateFormat)
	if err != nil {
		return nil, err
	}
	if !d.engine.IsLoaded() {
		return nil, apperrors.NewModelNotLoadedError()
	}

	files := FilterSupported(opts.Files)
	if opts.Directory != "" {
		found, err := Discover(opts.Directory, opts.Recursive)
		if err != nil {
			return nil, err
		}
		files = FilterSupported(append(files, found...))
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, apperrors.NewIOError("create_output_dir", opts.OutputDir, err)
	}
	return &plan{files: files, names: names}, nil
}

func (d *Driver) processFile(ctx context.Context, job *common.JobContext, path string, opts Options, names *NameTemplate) FileResult {
	start := time.Now()
	res := FileResult{Input: path}
	fail := func(err error) FileResult {
		res.Status = StatusFailed
		res.Code = apperrors.CodeOf(err)
		res.Error = err.Error()
		res.Duration = time.Since(start)
		job.Logger().Warn("file failed", "input", path, "code", res.Code, "error", err)
		return res
	}

	result, err := d.engine.RecognizeFile(ctx, path, opts.PromptType, opts.MaxNewTokens)
	if err != nil {
		return fail(err)
	}

	at := d.now()
	content, err := ocr.Format(result.Text, opts.OutputFormat, ocr.Metadata{
		Source:     path,
		Timestamp:  at,
		PromptType: opts.PromptType,
	})
	if err != nil {
		return fail(err)
	}

	out, err := writeOutput(opts.OutputDir, names.Render(path, at, opts.OutputFormat), content)
	if err != nil {
		return fail(err)
	}

	res.Status = StatusSucceeded
	res.Output = out
	res.Truncated = result.Truncated
	res.Duration = time.Since(start)
	job.Logger().Debug("file done", "input", path, "output", out, "duration", res.Duration)

	if d.history != nil {
		rec := storage.Record{
			JobID:      job.JobID,
			Source:     path,
			PromptType: string(opts.PromptType),
			Provider:   result.Provider,
			Text:       result.Text,
			Truncated:  result.Truncated,
			Cached:     result.Cached,
			DurationMS: res.Duration.Milliseconds(),
			CreatedAt:  at.UTC(),
		}
		if err := d.history.Save(context.WithoutCancel(ctx), rec); err != nil {
			job.Logger().Warn("failed to save history record", "error", err)
		}
	}
	return res
}
