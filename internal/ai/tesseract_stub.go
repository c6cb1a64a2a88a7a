//go:build !tesseract

// tesseract_stub.go - Placeholder when built without Tesseract support

package ai

import (
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

// NewTesseractProvider reports that this binary has no Tesseract support.
func NewTesseractProvider(cfg ProviderConfig) (VisionProvider, error) {
	return nil, apperrors.NewConfigError("create_provider", "this build has no Tesseract support", nil).
		WithHint("rebuild with `go build -tags tesseract` (needs libtesseract) or choose another model.provider")
}
