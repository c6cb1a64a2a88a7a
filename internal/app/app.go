// app.go - Application controller: owns configuration, engine, jobs and history

package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/configs"
	"github.com/bosocmputer/glm_ocr_desk/internal/ai"
	"github.com/bosocmputer/glm_ocr_desk/internal/batch"
	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/metrics"
	"github.com/bosocmputer/glm_ocr_desk/internal/ocr"
	"github.com/bosocmputer/glm_ocr_desk/internal/processor"
	"github.com/bosocmputer/glm_ocr_desk/internal/ratelimit"
	"github.com/bosocmputer/glm_ocr_desk/internal/storage"
)

// Options configures New.
type Options struct {
	ConfigPath string
	BaseDir    string
	Logger     *slog.Logger
	Probe      ai.AcceleratorProbe
	Build      ocr.ProviderBuilder // nil means ai.CreateVisionProvider
	History    storage.History     // nil means derived from history.mongo_uri
}

// App wires every component together. One App exists per process.
type App struct {
	store   *configs.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	cache   *storage.ResultCache
	history storage.History
	jobs    *batch.JobManager
	driver  *batch.Driver
	probe   ai.AcceleratorProbe
	build   ocr.ProviderBuilder
	limiter *ratelimit.Limiter

	configWarning error

	loadMu   sync.Mutex // serializes LoadModel
	mu       sync.RWMutex
	engine   *ocr.Engine
	location configs.ModelLocation
	loadErr  error

	loading sync.WaitGroup
}

// New loads configuration and builds every component. Configuration that
// fails validation is fatal; an unparsable override file is only a warning
// (see ConfigWarning). The model is not loaded.
func New(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = common.DiscardLogger()
	}
	configs.LoadEnv()

	var storeOpts []configs.Option
	if opts.BaseDir != "" {
		storeOpts = append(storeOpts, configs.WithBaseDir(opts.BaseDir))
	}
	store, warning, err := configs.Load(opts.ConfigPath, storeOpts...)
	if err != nil {
		return nil, err
	}
	if warning != nil {
		logger.Warn("configuration override ignored", "error", warning, "hint", apperrors.HintOf(warning))
	}
	settings, err := store.Settings()
	if err != nil {
		return nil, err
	}

	m, err := metrics.New()
	if err != nil {
		return nil, err
	}

	a := &App{
		store:         store,
		logger:        logger,
		metrics:       m,
		cache:         storage.NewResultCache(time.Duration(settings.OCR.CacheTTLSec) * time.Second),
		probe:         opts.Probe,
		build:         opts.Build,
		limiter:       ratelimit.DefaultGeminiLimiter(),
		configWarning: warning,
	}

	a.history = opts.History
	if a.history == nil {
		a.history = a.openHistory(ctx, settings.History)
	}

	a.driver = batch.NewDriver(engineRef{a},
		batch.WithLogger(logger.With("component", "batch")),
		batch.WithMetrics(m),
		batch.WithHistory(a.history),
	)
	a.jobs = batch.NewJobManager(a.driver, logger)

	a.engine = a.newEngine(settings)
	return a, nil
}

func (a *App) openHistory(ctx context.Context, hs configs.HistorySettings) storage.History {
	if hs.MongoURI == "" {
		return storage.NewMemoryHistory(100)
	}
	h, err := storage.NewMongoHistory(ctx, hs.MongoURI, hs.Database, hs.Collection)
	if err != nil {
		a.logger.Warn("history database unavailable, keeping history in memory", "error", err)
		return storage.NewMemoryHistory(100)
	}
	a.logger.Info("history stored in MongoDB", "database", hs.Database, "collection", hs.Collection)
	return h
}

// newEngine resolves the model location and creates an unloaded engine.
// A resolution failure is remembered and reported on Load.
func (a *App) newEngine(settings *configs.Settings) *ocr.Engine {
	location, err := a.store.ResolveModelPath()
	a.location, a.loadErr = location, err
	if err != nil {
		a.logger.Error("model resolution failed", "error", err, "hint", apperrors.HintOf(err))
	} else {
		a.logger.Info("model resolved", "kind", location.Kind, "location", location.Value)
	}

	enhance, _ := processor.ParseEnhanceMode(settings.OCR.Enhance)
	return ocr.NewEngine(ocr.Config{
		Provider:        providerConfig(settings, location, a.limiter),
		RequestedDevice: settings.Model.Device,
		Probe:           a.probe,
		Build:           a.build,
		Preprocess:      processor.Options{MaxEdge: settings.OCR.MaxImageEdge, Enhance: enhance},
		Cache:           a.cache,
		Metrics:         a.metrics,
		Logger:          a.logger,
	})
}

func providerConfig(s *configs.Settings, location configs.ModelLocation, limiter *ratelimit.Limiter) ai.ProviderConfig {
	retry := ai.DefaultRetryConfig
	retry.MaxAttempts = s.Model.RetryAttempts
	return ai.ProviderConfig{
		Provider:       s.Model.Provider,
		Location:       location,
		DType:          s.Model.TorchDType,
		Quantization:   s.Model.Quantization,
		LocalOnly:      s.Model.UseLocalOnly,
		Endpoint:       s.Model.Endpoint,
		ServedName:     s.Model.ServedName,
		RuntimeCommand: s.Model.RuntimeCommand,
		RequestTimeout: s.Model.RequestTimeout(),
		LoadTimeout:    s.Model.LoadTimeout(),
		GeminiAPIKey:   configs.GeminiAPIKey(),
		GeminiModel:    s.Model.GeminiModel,
		Limiter:        limiter,
		TesseractLang:  s.OCR.TesseractLang,
		Retry:          retry,
	}
}

// Store returns the configuration store.
func (a *App) Store() *configs.Store { return a.store }

// Metrics returns the metrics collector.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Jobs returns the batch job manager.
func (a *App) Jobs() *batch.JobManager { return a.jobs }

// History returns the recognition history.
func (a *App) History() storage.History { return a.history }

// ConfigWarning is the problem found in the override file, if any.
func (a *App) ConfigWarning() error { return a.configWarning }

// Engine returns the current engine.
func (a *App) Engine() *ocr.Engine {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine
}

// Settings returns a validated snapshot of the current configuration.
func (a *App) Settings() (*configs.Settings, error) {
	return a.store.Settings()
}

// LoadModel loads the model. When no model is loaded the engine is first
// rebuilt from the current configuration, so edits made since startup apply.
func (a *App) LoadModel(ctx context.Context) error {
	a.loadMu.Lock()
	defer a.loadMu.Unlock()

	a.mu.Lock()
	if state := a.engine.Status().State; state == ocr.StateUnloaded || state == ocr.StateFailed {
		settings, err := a.store.Settings()
		if err != nil {
			a.loadErr = err
			a.mu.Unlock()
			return err
		}
		// The old engine holds no provider, so closing it does not block.
		_ = a.engine.Close()
		a.engine = a.newEngine(settings)
	}
	engine, resolveErr := a.engine, a.loadErr
	a.mu.Unlock()

	if resolveErr != nil {
		return resolveErr
	}
	err := engine.Load(ctx)

	a.mu.Lock()
	a.loadErr = err
	a.mu.Unlock()
	return err
}

// LoadInBackground starts LoadModel without blocking. Failures show up in Status.
func (a *App) LoadInBackground(ctx context.Context) {
	a.loading.Add(1)
	go func() {
		defer a.loading.Done()
		if err := a.LoadModel(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("background model load failed", "error", err)
		}
	}()
}

// UnloadModel releases the model.
func (a *App) UnloadModel() error {
	return a.Engine().Unload()
}

// Status is what the front end polls.
type Status struct {
	Model         ocr.Status            `json:"model"`
	Location      configs.ModelLocation `json:"location"`
	ConfigWarning string                `json:"config_warning,omitempty"`
	RunningJobs   int                   `json:"running_jobs"`
}

// Status reports model and job state.
func (a *App) Status() Status {
	a.mu.RLock()
	engine, location, loadErr := a.engine, a.location, a.loadErr
	a.mu.RUnlock()

	st := Status{Model: engine.Status(), Location: location}
	if st.Model.State == ocr.StateUnloaded && loadErr != nil {
		st.Model.State = ocr.StateFailed
		st.Model.Error = loadErr.Error()
		st.Model.Hint = apperrors.HintOf(loadErr)
	}
	if a.configWarning != nil {
		st.ConfigWarning = a.configWarning.Error()
	}
	for _, j := range a.jobs.List() {
		if j.State == batch.JobRunning {
			st.RunningJobs++
		}
	}
	return st
}

// Close stops jobs, waits for loading, unloads the model and closes history.
func (a *App) Close(ctx context.Context) error {
	a.jobs.Close()
	a.loading.Wait()
	err := a.Engine().Close()
	if herr := a.history.Close(ctx); herr != nil && err == nil {
		err = herr
	}
	a.cache.Clear()
	return err
}

// engineRef lets the batch driver always use the current engine.
type engineRef struct{ a *App }

func (r engineRef) IsLoaded() bool { return r.a.Engine().IsLoaded() }

func (r engineRef) RecognizeFile(ctx context.Context, path string, pt ocr.PromptType, maxNewTokens int) (*ocr.Result, error) {
	return r.a.Engine().RecognizeFile(ctx, path, pt, maxNewTokens)
}
