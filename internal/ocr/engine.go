// engine.go - OCR engine: model lifecycle and serialized recognition

package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/internal/ai"
	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/metrics"
	"github.com/bosocmputer/glm_ocr_desk/internal/processor"
	"github.com/bosocmputer/glm_ocr_desk/internal/storage"
)

// State is the engine's model lifecycle state.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// ProviderBuilder creates a provider for a resolved configuration.
type ProviderBuilder func(cfg ai.ProviderConfig) (ai.VisionProvider, error)

// Config configures an Engine.
type Config struct {
	Provider        ai.ProviderConfig // Device is filled in by Load
	RequestedDevice string            // auto, cpu, cuda, cuda:N
	Probe           ai.AcceleratorProbe
	Build           ProviderBuilder
	Preprocess      processor.Options
	Cache           *storage.ResultCache
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// Result is one recognition.
type Result struct {
	Text       string        `json:"text"`
	PromptType PromptType    `json:"prompt_type"`
	Provider   string        `json:"provider"`
	Truncated  bool          `json:"truncated"`
	Cached     bool          `json:"cached"`
	Duration   time.Duration `json:"duration_ns"`
}

// Status is a snapshot of the engine state.
type Status struct {
	State    State        `json:"state"`
	Error    string       `json:"error,omitempty"`
	Hint     string       `json:"hint,omitempty"`
	Model    *ai.LoadInfo `json:"model,omitempty"`
	LoadedAt time.Time    `json:"loaded_at,omitzero"`
}

// Engine owns one vision provider. Load must succeed before Recognize; at
// most one generation runs at a time.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	lifecycle sync.Mutex // serializes Load and Unload
	slot      chan struct{}
	inflight  sync.WaitGroup

	mu       sync.Mutex
	state    State
	lastErr  error
	provider ai.VisionProvider
	info     *ai.LoadInfo
	loadedAt time.Time
}

// NewEngine creates an unloaded engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = common.DiscardLogger()
	}
	if cfg.Build == nil {
		cfg.Build = ai.CreateVisionProvider
	}
	if cfg.Provider.Logger == nil {
		cfg.Provider.Logger = cfg.Logger
	}
	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "engine"),
		slot:   make(chan struct{}, 1),
		state:  StateUnloaded,
	}
}

// Load resolves the device, creates the provider and loads it. Calling Load
// on a loaded engine does nothing.
func (e *Engine) Load(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	if e.state == StateReady {
		e.mu.Unlock()
		return nil
	}
	e.state = StateLoading
	e.lastErr = nil
	e.mu.Unlock()

	start := time.Now()
	provider, info, err := e.load(ctx)
	if err != nil {
		e.mu.Lock()
		e.state = StateFailed
		e.lastErr = err
		e.mu.Unlock()
		e.logger.Error("model load failed", "error", err)
		return err
	}

	e.mu.Lock()
	e.provider = provider
	e.info = info
	e.state = StateReady
	e.loadedAt = time.Now()
	e.mu.Unlock()

	e.cfg.Metrics.SetModelLoaded(true)
	e.cfg.Metrics.ObserveModelLoad(time.Since(start))
	e.logger.Info("model loaded", "provider", info.Provider, "model", info.Model, "device", info.Device, "duration", time.Since(start))
	return nil
}

func (e *Engine) load(ctx context.Context) (ai.VisionProvider, *ai.LoadInfo, error) {
	device, err := ai.ResolveDevice(e.cfg.RequestedDevice, e.cfg.Probe)
	if err != nil {
		return nil, nil, err
	}
	pc := e.cfg.Provider
	pc.Device = device

	provider, err := e.cfg.Build(pc)
	if err != nil {
		return nil, nil, err
	}
	info, err := provider.Load(ctx)
	if err != nil {
		_ = provider.Close()
		if apperrors.CodeOf(err) == apperrors.CodeUnknown {
			err = apperrors.NewModelLoadError(pc.Location.Value, "provider failed to load", err)
		}
		return nil, nil, err
	}
	if info.Device == "" {
		info.Device = device
	}
	return provider, info, nil
}

// Unload waits for the in-flight generation, then releases the provider.
func (e *Engine) Unload() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.slot <- struct{}{}
	defer func() { <-e.slot }()

	e.mu.Lock()
	provider := e.provider
	e.provider = nil
	e.info = nil
	e.state = StateUnloaded
	e.lastErr = nil
	e.mu.Unlock()

	e.cfg.Metrics.SetModelLoaded(false)
	if provider == nil {
		return nil
	}
	e.logger.Info("model unloaded")
	return provider.Close()
}

// Close unloads the model and waits for background generations to finish.
func (e *Engine) Close() error {
	err := e.Unload()
	e.inflight.Wait()
	return err
}

// IsLoaded reports whether Recognize can be called.
func (e *Engine) IsLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateReady
}

// Status returns a snapshot of the lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Status{State: e.state, Model: e.info, LoadedAt: e.loadedAt}
	if e.state != StateReady {
		s.LoadedAt = time.Time{}
	}
	if e.lastErr != nil {
		s.Error = e.lastErr.Error()
		s.Hint = apperrors.HintOf(e.lastErr)
	}
	return s
}

// RecognizeFile loads the image at path and recognizes it.
func (e *Engine) RecognizeFile(ctx context.Context, path string, promptType PromptType, maxNewTokens int) (*Result, error) {
	if err := e.checkRequest(promptType, maxNewTokens); err != nil {
		return nil, err
	}
	img, err := processor.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return e.Recognize(ctx, img, promptType, maxNewTokens)
}

// RecognizeBytes decodes in-memory image data and recognizes it.
func (e *Engine) RecognizeBytes(ctx context.Context, data []byte, source string, promptType PromptType, maxNewTokens int) (*Result, error) {
	if err := e.checkRequest(promptType, maxNewTokens); err != nil {
		return nil, err
	}
	img, err := processor.DecodeImage(data, source)
	if err != nil {
		return nil, err
	}
	return e.Recognize(ctx, img, promptType, maxNewTokens)
}

// Recognize runs the model on img. If ctx ends while the generation is
// running, Recognize returns a cancelled error at once and the generation's
// result is discarded; the next generation still waits for it to finish.
func (e *Engine) Recognize(ctx context.Context, img image.Image, promptType PromptType, maxNewTokens int) (*Result, error) {
	if err := e.checkRequest(promptType, maxNewTokens); err != nil {
		return nil, err
	}
	if !e.IsLoaded() {
		return nil, apperrors.NewModelNotLoadedError()
	}

	encoded, err := processor.EncodePNG(processor.Preprocess(img, e.cfg.Preprocess))
	if err != nil {
		return nil, apperrors.NewInferenceError("failed to prepare image", err)
	}

	prompt := promptType.Prompt()
	key := storage.ResultKey(encoded, prompt, maxNewTokens)
	if text, ok := e.cfg.Cache.Get(key); ok {
		e.cfg.Metrics.IncrementCacheHits()
		e.cfg.Metrics.ObserveRecognition(string(promptType), "cached", 0)
		return &Result{Text: text, PromptType: promptType, Provider: e.providerName(), Cached: true}, nil
	}

	// select picks at random when both cases are ready.
	if err := ctx.Err(); err != nil {
		e.cfg.Metrics.ObserveRecognition(string(promptType), "cancelled", 0)
		return nil, apperrors.NewCancelledError("recognize", err)
	}
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		e.cfg.Metrics.ObserveRecognition(string(promptType), "cancelled", 0)
		return nil, apperrors.NewCancelledError("recognize", ctx.Err())
	}

	e.mu.Lock()
	provider := e.provider
	e.mu.Unlock()
	if provider == nil {
		<-e.slot
		return nil, apperrors.NewModelNotLoadedError()
	}

	type outcome struct {
		gen *ai.Generation
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer func() { <-e.slot }()
		gen, err := provider.Generate(context.WithoutCancel(ctx), ai.GenerateRequest{
			Image:        encoded,
			MIMEType:     "image/png",
			Prompt:       prompt,
			MaxNewTokens: maxNewTokens,
		})
		done <- outcome{gen, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			e.cfg.Metrics.ObserveRecognition(string(promptType), "failed", 0)
			if apperrors.CodeOf(out.err) == apperrors.CodeUnknown {
				out.err = apperrors.NewInferenceError("generation failed", out.err)
			}
			return nil, out.err
		}
		elapsed := time.Since(start)
		e.cfg.Metrics.ObserveRecognition(string(promptType), "success", elapsed)
		if out.gen.Truncated {
			e.logger.Warn("generation hit max_new_tokens, output is truncated", "max_new_tokens", maxNewTokens)
		}
		e.cfg.Cache.Set(key, out.gen.Text)
		return &Result{
			Text:       out.gen.Text,
			PromptType: promptType,
			Provider:   provider.Name(),
			Truncated:  out.gen.Truncated,
			Duration:   elapsed,
		}, nil
	case <-ctx.Done():
		e.cfg.Metrics.ObserveRecognition(string(promptType), "cancelled", 0)
		return nil, apperrors.NewCancelledError("recognize", ctx.Err())
	}
}

func (e *Engine) checkRequest(promptType PromptType, maxNewTokens int) error {
	if !promptType.Valid() {
		return apperrors.NewInvalidArgumentError(fmt.Sprintf("unknown prompt type %q", promptType))
	}
	if maxNewTokens <= 0 {
		return apperrors.NewInvalidArgumentError(fmt.Sprintf("max_new_tokens must be positive, got %d", maxNewTokens))
	}
	return nil
}

func (e *Engine) providerName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.info != nil {
		return e.info.Provider
	}
	return ""
}

// ModelInfo describes the loaded model and the host.
type ModelInfo struct {
	Status   Status      `json:"status"`
	Location string      `json:"location"`
	Device   string      `json:"requested_device"`
	DType    string      `json:"dtype"`
	Prompts  []string    `json:"prompt_types"`
	Host     ai.HostInfo `json:"host"`
}

// Info returns model and host information.
func (e *Engine) Info() ModelInfo {
	prompts := make([]string, 0, len(PromptTypes()))
	for _, p := range PromptTypes() {
		prompts = append(prompts, string(p))
	}
	return ModelInfo{
		Status:   e.Status(),
		Location: e.cfg.Provider.Location.Value,
		Device:   e.cfg.RequestedDevice,
		DType:    e.cfg.Provider.DType,
		Prompts:  prompts,
		Host:     ai.DescribeHost(e.cfg.Probe),
	}
}
