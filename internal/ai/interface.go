// interface.go - Vision provider interface for the engine's model backends

package ai

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/configs"
	"github.com/bosocmputer/glm_ocr_desk/internal/ratelimit"
)

// VisionProvider is one way of running the vision-language model. The engine
// owns a provider and never calls Generate concurrently on it.
type VisionProvider interface {
	// Name returns the provider name ("runtime", "gemini", "tesseract")
	Name() string

	// Load prepares the provider. It may be slow (process start, readiness wait).
	Load(ctx context.Context) (*LoadInfo, error)

	// Generate runs one image+prompt generation.
	Generate(ctx context.Context, req GenerateRequest) (*Generation, error)

	// Close releases everything Load acquired. Safe to call more than once.
	Close() error
}

// GenerateRequest is the input of one generation.
type GenerateRequest struct {
	Image        []byte // encoded image, normally PNG
	MIMEType     string
	Prompt       string
	MaxNewTokens int
}

// Generation is the provider's answer.
type Generation struct {
	Text         string
	Model        string
	Truncated    bool // generation stopped at MaxNewTokens
	PromptTokens int
	OutputTokens int
	Duration     time.Duration
}

// LoadInfo describes what Load ended up with.
type LoadInfo struct {
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	Device   string            `json:"device"`
	Details  map[string]string `json:"details,omitempty"`
}

// ProviderConfig contains configuration for every provider; each one reads
// the fields it needs.
type ProviderConfig struct {
	Provider string

	// Model
	Location     configs.ModelLocation
	Device       string // already resolved: "cpu", "cuda" or "cuda:N"
	DType        string
	Quantization string
	LocalOnly    bool

	// Runtime configuration
	Endpoint       string
	ServedName     string
	RuntimeCommand []string
	RequestTimeout time.Duration
	LoadTimeout    time.Duration
	HTTPClient     *http.Client

	// Gemini configuration
	GeminiAPIKey string
	GeminiModel  string
	Limiter      *ratelimit.Limiter

	// Tesseract configuration
	TesseractLang string

	Retry  RetryConfig
	Logger *slog.Logger
}
