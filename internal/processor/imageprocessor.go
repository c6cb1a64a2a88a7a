// imageprocessor.go - Image loading and preprocessing for better OCR accuracy

package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

// DefaultMaxEdge is the longest edge an image may have before it is scaled down.
const DefaultMaxEdge = 4096

// SupportedExtensions is the image allow-list, lower case with the leading dot.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif", ".webp", ".tif", ".tiff"}

// IsSupportedImage reports whether path has an allowed image extension (case-insensitive).
func IsSupportedImage(path string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(path)))
}

// EnhanceMode defines the level of image enhancement applied before recognition
type EnhanceMode string

const (
	EnhanceNone       EnhanceMode = "none"
	EnhanceLight      EnhanceMode = "light"
	EnhanceStandard   EnhanceMode = "standard"
	EnhanceAggressive EnhanceMode = "aggressive"
	// EnhanceAuto picks light/standard/aggressive from a quick quality estimate.
	EnhanceAuto EnhanceMode = "auto"
)

// ParseEnhanceMode validates a configured enhancement name. Empty means none.
func ParseEnhanceMode(s string) (EnhanceMode, error) {
	switch m := EnhanceMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return EnhanceNone, nil
	case EnhanceNone, EnhanceLight, EnhanceStandard, EnhanceAggressive, EnhanceAuto:
		return m, nil
	default:
		return "", apperrors.NewInvalidArgumentError(fmt.Sprintf("unknown enhance mode %q", s))
	}
}

// Options controls Preprocess.
type Options struct {
	MaxEdge int
	Enhance EnhanceMode
}

// LoadImage opens and decodes an image file. A file that cannot be opened is
// an IOError; one that opens but does not decode is an UnsupportedFormatError.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewIOError("open_image", path, err)
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.NewUnsupportedFormatError(path, err.Error())
	}
	return img, nil
}

// DecodeImage decodes in-memory image bytes; source only labels errors.
func DecodeImage(data []byte, source string) (image.Image, error) {
	if len(data) == 0 {
		return nil, apperrors.NewUnsupportedFormatError(source, "empty image data")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.NewUnsupportedFormatError(source, err.Error())
	}
	return img, nil
}

// Preprocess scales img so its longest edge is at most opts.MaxEdge (aspect
// ratio preserved, Lanczos), then applies the requested enhancement.
// Transparent areas are flattened onto white.
func Preprocess(img image.Image, opts Options) image.Image {
	maxEdge := opts.MaxEdge
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxEdge || bounds.Dy() > maxEdge {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}

	switch opts.Enhance {
	case EnhanceLight:
		img = applyLightEnhancement(img)
	case EnhanceStandard:
		img = applyStandardEnhancement(img)
	case EnhanceAggressive:
		img = applyAggressiveEnhancement(img)
	case EnhanceAuto:
		// Adaptive processing based on quality score
		qualityScore := AnalyzeImageQuality(img)
		if qualityScore < 50 {
			img = applyAggressiveEnhancement(img)
		} else if qualityScore < 75 {
			img = applyStandardEnhancement(img)
		} else {
			img = applyLightEnhancement(img)
		}
	}

	b := img.Bounds()
	background := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}

// EncodePNG encodes img losslessly; this is what providers receive.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode processed image: %w", err)
	}
	return buf.Bytes(), nil
}

// AnalyzeImageQuality analyzes image and returns quality score (0-100)
func AnalyzeImageQuality(img image.Image) float64 {
	bounds := img.Bounds()

	var totalBrightness float64
	var minBrightness float64 = 255
	var maxBrightness float64 = 0
	pixelCount := 0

	// Sample pixels (every 10th pixel for performance)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 10 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 10 {
			r, g, b, _ := img.At(x, y).RGBA()
			brightness := (float64(r>>8) + float64(g>>8) + float64(b>>8)) / 3.0

			totalBrightness += brightness
			if brightness < minBrightness {
				minBrightness = brightness
			}
			if brightness > maxBrightness {
				maxBrightness = brightness
			}
			pixelCount++
		}
	}
	if pixelCount == 0 {
		return 0
	}

	avgBrightness := totalBrightness / float64(pixelCount)
	contrast := maxBrightness - minBrightness

	// Ideal: avgBrightness = 128, contrast = 200+
	brightnessScore := 100.0 - math.Abs(avgBrightness-128.0)/1.28
	contrastScore := math.Min(contrast/2.0, 100.0)

	// Weight: 40% brightness, 60% contrast
	return (brightnessScore * 0.4) + (contrastScore * 0.6)
}

// applyLightEnhancement for good quality images
func applyLightEnhancement(img image.Image) image.Image {
	result := imaging.Sharpen(img, 2.0)
	result = imaging.AdjustContrast(result, 30)
	result = imaging.Grayscale(result)
	result = imaging.AdjustContrast(result, 20)
	return imaging.AdjustGamma(result, 1.05)
}

// applyStandardEnhancement for medium quality images
func applyStandardEnhancement(img image.Image) image.Image {
	result := imaging.Sharpen(img, 3.0)
	result = imaging.AdjustContrast(result, 45)
	result = imaging.AdjustBrightness(result, 15)
	result = imaging.Grayscale(result)
	result = imaging.AdjustContrast(result, 35)
	return imaging.AdjustGamma(result, 1.15)
}

// applyAggressiveEnhancement for poor quality images
func applyAggressiveEnhancement(img image.Image) image.Image {
	result := imaging.Sharpen(img, 4.0)
	result = imaging.AdjustContrast(result, 60)
	result = imaging.AdjustBrightness(result, 25)
	result = imaging.Grayscale(result)

	// Adaptive-like threshold via high contrast
	result = imaging.AdjustContrast(result, 55)
	result = imaging.AdjustGamma(result, 1.3)

	// Morphological-like operation via blur + sharpen
	result = imaging.Blur(result, 0.5)
	result = imaging.Sharpen(result, 2.5)

	return imaging.AdjustContrast(result, 20)
}
