// factory.go - Vision provider factory

package ai

import (
	"fmt"

	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

// Provider names accepted in model.provider.
const (
	ProviderRuntime   = "runtime"
	ProviderGemini    = "gemini"
	ProviderTesseract = "tesseract"
)

// CreateVisionProvider creates a provider based on configuration
func CreateVisionProvider(cfg ProviderConfig) (VisionProvider, error) {
	if cfg.Logger == nil {
		cfg.Logger = common.DiscardLogger()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig
	}

	switch cfg.Provider {
	case ProviderRuntime, "":
		cfg.Logger.Debug("creating runtime provider", "endpoint", cfg.Endpoint)
		return NewRuntimeProvider(cfg), nil

	case ProviderGemini:
		if cfg.LocalOnly {
			return nil, apperrors.NewConfigError("create_provider", "the gemini provider sends images to a remote service and cannot be used with model.use_local_only", nil).
				WithHint("set model.provider to runtime or tesseract, or set model.use_local_only to false")
		}
		cfg.Logger.Debug("creating gemini provider", "model", cfg.GeminiModel)
		provider, err := NewGeminiProvider(cfg)
		if err != nil {
			return nil, err
		}
		return provider, nil

	case ProviderTesseract:
		cfg.Logger.Debug("creating tesseract provider", "lang", cfg.TesseractLang)
		return NewTesseractProvider(cfg)

	default:
		return nil, apperrors.NewConfigError("create_provider", fmt.Sprintf("unsupported provider: %s (supported: runtime, gemini, tesseract)", cfg.Provider), nil)
	}
}
