//go:build tesseract

// tesseract.go - Offline Tesseract provider (built with -tags tesseract)

package ai

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

// TesseractProvider recognises plain text with the local Tesseract engine. It
// ignores the task prompt: every prompt type yields the page text.
type TesseractProvider struct {
	cfg ProviderConfig

	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseractProvider creates a new Tesseract provider
func NewTesseractProvider(cfg ProviderConfig) (VisionProvider, error) {
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.Logger == nil {
		cfg.Logger = common.DiscardLogger()
	}
	return &TesseractProvider{cfg: cfg}, nil
}

// Name returns "tesseract"
func (t *TesseractProvider) Name() string {
	return ProviderTesseract
}

// Load creates the Tesseract client and selects the languages.
func (t *TesseractProvider) Load(ctx context.Context) (*LoadInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		client := gosseract.NewClient()
		langs := strings.Split(t.cfg.TesseractLang, "+")
		if err := client.SetLanguage(langs...); err != nil {
			client.Close()
			return nil, apperrors.NewModelLoadError("", "tesseract rejected language "+t.cfg.TesseractLang, err)
		}
		t.client = client
	}
	return &LoadInfo{
		Provider: ProviderTesseract,
		Model:    "tesseract",
		Device:   "cpu",
		Details:  map[string]string{"lang": t.cfg.TesseractLang},
	}, nil
}

// Generate runs Tesseract on the image.
func (t *TesseractProvider) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, apperrors.NewModelNotLoadedError()
	}

	start := time.Now()
	if err := t.client.SetImageFromBytes(req.Image); err != nil {
		return nil, apperrors.NewInferenceError("tesseract could not read the image", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return nil, apperrors.NewInferenceError("tesseract recognition failed", err)
	}
	return &Generation{
		Text:     strings.TrimSpace(text),
		Model:    "tesseract",
		Duration: time.Since(start),
	}, nil
}

// Close releases the Tesseract client
func (t *TesseractProvider) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
