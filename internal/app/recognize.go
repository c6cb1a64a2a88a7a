// recognize.go - Single-image, clipboard and QR recognition

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/internal/batch"
	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	"github.com/bosocmputer/glm_ocr_desk/internal/ocr"
	"github.com/bosocmputer/glm_ocr_desk/internal/processor"
	"github.com/bosocmputer/glm_ocr_desk/internal/qr"
	"github.com/bosocmputer/glm_ocr_desk/internal/storage"
)

// ErrNoImage means pasted data held no image. Callers treat it as a no-op.
var ErrNoImage = errors.New("clipboard holds no image")

// RecognizeRequest holds per-request choices; zero values take the
// configured defaults.
type RecognizeRequest struct {
	Source       string           `json:"source"`
	PromptType   ocr.PromptType   `json:"prompt_type"`
	OutputFormat ocr.OutputFormat `json:"output_format"`
	MaxNewTokens int              `json:"max_new_tokens"`
}

// Recognition is a formatted result.
type Recognition struct {
	JobID        string           `json:"job_id"`
	Source       string           `json:"source"`
	PromptType   ocr.PromptType   `json:"prompt_type"`
	OutputFormat ocr.OutputFormat `json:"output_format"`
	Text         string           `json:"text"`
	Formatted    string           `json:"formatted"`
	HTML         string           `json:"html,omitempty"`
	Provider     string           `json:"provider"`
	Truncated    bool             `json:"truncated"`
	Cached       bool             `json:"cached"`
	DurationMS   int64            `json:"duration_ms"`
	Steps        []common.StepLog `json:"steps,omitempty"`
}

func (a *App) fillDefaults(req *RecognizeRequest) error {
	settings, err := a.Settings()
	if err != nil {
		return err
	}
	if req.PromptType == "" {
		req.PromptType = ocr.PromptType(settings.OCR.PromptType)
	}
	if req.OutputFormat == "" {
		req.OutputFormat = ocr.OutputFormat(settings.OCR.OutputFormat)
	}
	format, err := ocr.ParseOutputFormat(string(req.OutputFormat))
	if err != nil {
		return err
	}
	req.OutputFormat = format
	if _, err := ocr.ParsePromptType(string(req.PromptType)); err != nil {
		return err
	}
	if req.MaxNewTokens == 0 {
		req.MaxNewTokens = settings.Model.MaxNewTokens
	}
	if req.Source == "" {
		req.Source = "upload"
	}
	return nil
}

// Recognize runs one image through the engine and formats the result.
func (a *App) Recognize(ctx context.Context, data []byte, req RecognizeRequest) (*Recognition, error) {
	if err := a.fillDefaults(&req); err != nil {
		return nil, err
	}
	job := common.NewJobContext(a.logger, "recognize")
	logger := job.Logger()

	job.StartStep("recognize")
	result, err := a.Engine().RecognizeBytes(ctx, data, req.Source, req.PromptType, req.MaxNewTokens)
	if err != nil {
		job.EndStep("failed", "", err)
		job.GetSummary()
		return nil, err
	}
	job.EndStep("success", result.Provider, nil)

	job.StartStep("format")
	now := time.Now()
	formatted, err := ocr.Format(result.Text, req.OutputFormat, ocr.Metadata{Source: req.Source, Timestamp: now, PromptType: req.PromptType})
	if err != nil {
		job.EndStep("failed", "", err)
		return nil, err
	}
	rec := &Recognition{
		JobID:        job.JobID,
		Source:       req.Source,
		PromptType:   req.PromptType,
		OutputFormat: req.OutputFormat,
		Text:         result.Text,
		Formatted:    formatted,
		Provider:     result.Provider,
		Truncated:    result.Truncated,
		Cached:       result.Cached,
	}
	// Document and table output is Markdown; render it for the result view.
	if req.PromptType == ocr.DocumentParsing || req.PromptType == ocr.TableRecognition {
		if html, err := ocr.RenderHTML(result.Text); err == nil {
			rec.HTML = html
		} else {
			logger.Warn("markdown rendering failed", "error", err)
		}
	}
	job.EndStep("success", string(req.OutputFormat), nil)

	summary := job.GetSummary()
	if ms, ok := summary["total_duration_ms"].(int64); ok {
		rec.DurationMS = ms
	}
	rec.Steps = job.Steps()

	a.saveHistory(ctx, storage.Record{
		JobID:      job.JobID,
		Source:     req.Source,
		PromptType: string(req.PromptType),
		Provider:   result.Provider,
		Text:       result.Text,
		Truncated:  result.Truncated,
		Cached:     result.Cached,
		DurationMS: rec.DurationMS,
		CreatedAt:  now.UTC(),
	})
	return rec, nil
}

// RecognizeClipboard handles pasted bytes. Empty or non-image data gives
// ErrNoImage rather than a failure.
func (a *App) RecognizeClipboard(ctx context.Context, data []byte, req RecognizeRequest) (*Recognition, error) {
	if len(data) == 0 {
		return nil, ErrNoImage
	}
	if _, err := processor.DecodeImage(data, "clipboard"); err != nil {
		a.logger.Debug("pasted data is not an image", "bytes", len(data), "error", err)
		return nil, ErrNoImage
	}
	req.Source = "clipboard"
	return a.Recognize(ctx, data, req)
}

// QRRecognition combines decoded QR codes with text recognition of the same
// image, for pictures that carry both.
type QRRecognition struct {
	Codes []qr.Code `json:"codes"`
	Text  string    `json:"text"`
	// TextError is set when text recognition ran and failed.
	TextError string `json:"text_error,omitempty"`
	// Combined is the text shown to the user.
	Combined string `json:"combined"`
}

// RecognizeQR decodes QR codes and, when the model is loaded, also runs text
// recognition. It works without a model, and a failed text recognition keeps
// the codes.
func (a *App) RecognizeQR(ctx context.Context, data []byte, source string) (*QRRecognition, error) {
	img, err := processor.DecodeImage(data, source)
	if err != nil {
		return nil, err
	}
	codes, err := qr.Decode(img)
	if err != nil {
		return nil, err
	}

	out := &QRRecognition{Codes: codes}
	var parts []string
	if s := qr.FormatResults(codes); s != "" {
		parts = append(parts, s)
	}

	engine := a.Engine()
	if engine.IsLoaded() {
		settings, err := a.Settings()
		if err != nil {
			return nil, err
		}
		res, err := engine.Recognize(ctx, img, ocr.TextRecognition, settings.Model.MaxNewTokens)
		switch {
		case err != nil:
			// The codes are still worth showing.
			a.logger.Warn("text recognition failed in QR mode", "source", source, "codes", len(codes), "error", err)
			out.TextError = err.Error()
		case strings.TrimSpace(res.Text) != "":
			out.Text = res.Text
			parts = append(parts, "[Text Recognition Result]\n"+res.Text)
		}
	}
	out.Combined = strings.Join(parts, "\n\n")
	return out, nil
}

// StartBatch starts a background batch; empty options take configured defaults.
func (a *App) StartBatch(opts batch.Options) (batch.JobSnapshot, error) {
	if err := a.batchDefaults(&opts); err != nil {
		return batch.JobSnapshot{}, err
	}
	return a.jobs.Start(opts)
}

// RunBatch runs a batch in the foreground (command line use).
func (a *App) RunBatch(ctx context.Context, opts batch.Options, progress batch.ProgressFunc) (*batch.Report, error) {
	if err := a.batchDefaults(&opts); err != nil {
		return nil, err
	}
	return a.driver.Run(ctx, opts, progress)
}

func (a *App) batchDefaults(opts *batch.Options) error {
	settings, err := a.Settings()
	if err != nil {
		return err
	}
	if opts.PromptType == "" {
		opts.PromptType = ocr.PromptType(settings.OCR.PromptType)
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = ocr.OutputFormat(settings.OCR.OutputFormat)
	}
	// Aliases such as "md" are normalized; unknown names fail in the driver.
	if format, err := ocr.ParseOutputFormat(string(opts.OutputFormat)); err == nil {
		opts.OutputFormat = format
	}
	if opts.OutputDir == "" {
		opts.OutputDir = settings.Batch.OutputDir
	}
	if opts.FilenameFormat == "" {
		opts.FilenameFormat = settings.Batch.FilenameFormat
	}
	if opts.DateFormat == "" {
		opts.DateFormat = settings.Batch.DateFormat
	}
	if opts.MaxNewTokens == 0 {
		opts.MaxNewTokens = settings.Model.MaxNewTokens
	}
	return nil
}

// Recent returns the newest history records.
func (a *App) Recent(ctx context.Context, limit int) ([]storage.Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	records, err := a.history.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return records, nil
}

func (a *App) saveHistory(ctx context.Context, rec storage.Record) {
	if err := a.history.Save(context.WithoutCancel(ctx), rec); err != nil {
		a.logger.Warn("failed to save history record", "error", err)
	}
}
