// gemini.go - Gemini vision provider (remote; unavailable in local-only mode)

package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/ratelimit"
)

// GeminiProvider sends the image and task prompt to the Gemini API.
type GeminiProvider struct {
	cfg     ProviderConfig
	logger  *slog.Logger
	limiter *ratelimit.Limiter

	mu     sync.Mutex
	client *genai.Client
	opts   []option.ClientOption
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(cfg ProviderConfig, opts ...option.ClientOption) (*GeminiProvider, error) {
	if cfg.GeminiAPIKey == "" && len(opts) == 0 {
		return nil, apperrors.NewConfigError("create_provider", "GEMINI_API_KEY is not set", nil).
			WithHint("export GEMINI_API_KEY or add it to .env")
	}
	if cfg.GeminiModel == "" {
		cfg.GeminiModel = "gemini-2.5-flash"
	}
	if cfg.Logger == nil {
		cfg.Logger = common.DiscardLogger()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.DefaultGeminiLimiter()
	}
	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithAPIKey(cfg.GeminiAPIKey)}
	}
	return &GeminiProvider{
		cfg:     cfg,
		logger:  cfg.Logger.With("provider", ProviderGemini),
		limiter: limiter,
		opts:    opts,
	}, nil
}

// Name returns "gemini"
func (g *GeminiProvider) Name() string {
	return ProviderGemini
}

// Load initializes the Gemini client
func (g *GeminiProvider) Load(ctx context.Context) (*LoadInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		client, err := genai.NewClient(ctx, g.opts...)
		if err != nil {
			return nil, apperrors.NewModelLoadError("", "failed to create Gemini client", err)
		}
		g.client = client
	}
	g.logger.Info("gemini client ready", "model", g.cfg.GeminiModel)
	return &LoadInfo{
		Provider: ProviderGemini,
		Model:    g.cfg.GeminiModel,
		Device:   "remote",
	}, nil
}

// Generate calls the Gemini API with the actual image (with retry logic)
func (g *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client == nil {
		return nil, apperrors.NewModelNotLoadedError()
	}

	model := client.GenerativeModel(g.cfg.GeminiModel)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: ptr(int32(req.MaxNewTokens)),
		Temperature:     ptrFloat(0),
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}

	start := time.Now()
	resp, err := withRetry(ctx, g.cfg.Retry, g.logger, ProviderGemini, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if g.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
			defer cancel()
		}
		return model.GenerateContent(ctx,
			genai.Text(geminiInstruction(req.Prompt)),
			genai.Blob{MIMEType: mimeType, Data: req.Image},
		)
	})
	if err != nil {
		return nil, apperrors.NewInferenceError("gemini generation failed", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, apperrors.NewInferenceError("no candidates returned from Gemini API", nil)
	}
	candidate := resp.Candidates[0]

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	gen := &Generation{
		Text:      strings.TrimSpace(text.String()),
		Model:     g.cfg.GeminiModel,
		Truncated: candidate.FinishReason == genai.FinishReasonMaxTokens,
		Duration:  time.Since(start),
	}
	if resp.UsageMetadata != nil {
		gen.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		gen.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return gen, nil
}

// Close releases the Gemini client
func (g *GeminiProvider) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

// geminiInstruction expands the model's terse task tag into an instruction a
// general model follows.
func geminiInstruction(task string) string {
	return fmt.Sprintf(`%s
Read everything in the image from top to bottom, left to right.
Return ONLY the result of the task above, with no commentary.
Tables as Markdown tables, formulas as LaTeX.`, task)
}

func ptr(i int32) *int32 {
	return &i
}

func ptrFloat(f float32) *float32 {
	return &f
}
