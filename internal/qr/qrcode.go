// qrcode.go - QR code decoding and generation

package qr

import (
	"fmt"
	"image"
	"strings"

	"github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/qrcode"
	goqrcode "github.com/skip2/go-qrcode"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

const (
	// DefaultSize is the generated image edge in pixels.
	DefaultSize = 256
	// MaxSize bounds generated images.
	MaxSize = 2048
	// MaxTextLength is the most a version 40 code holds at medium recovery.
	MaxTextLength = 2331
)

// Code is one decoded symbol.
type Code struct {
	Data string `json:"data"`
	Type string `json:"type"`
}

// Decode finds every QR code in img. An image without codes gives an empty
// slice and no error.
func Decode(img image.Image) ([]Code, error) {
	if img == nil {
		return nil, apperrors.NewInvalidArgumentError("no image to decode")
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, apperrors.NewUnsupportedFormatError("", fmt.Sprintf("cannot binarize image: %v", err))
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}

	results, err := multiqr.NewQRCodeMultiReader().DecodeMultiple(bmp, hints)
	if err != nil || len(results) == 0 {
		// The multi reader misses some single, tightly cropped codes.
		single, serr := qrcode.NewQRCodeReader().Decode(bmp, hints)
		if serr != nil {
			// NotFound, checksum and format exceptions all mean no readable code.
			return []Code{}, nil
		}
		results = []*gozxing.Result{single}
	}

	codes := make([]Code, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		text := strings.ToValidUTF8(r.GetText(), "�")
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		codes = append(codes, Code{Data: text, Type: "QRCODE"})
	}
	return codes, nil
}

// FormatResults renders decoded codes for the result view. No codes gives "".
func FormatResults(codes []Code) string {
	if len(codes) == 0 {
		return ""
	}
	lines := make([]string, 0, len(codes)+1)
	lines = append(lines, "[QR Code Results]")
	for i, c := range codes {
		lines = append(lines, fmt.Sprintf("QR code %d: %s", i+1, c.Data))
	}
	return strings.Join(lines, "\n")
}

// Encode renders text as a black-on-white PNG of size x size pixels.
func Encode(text string, size int) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.NewInvalidArgumentError("text to encode must not be empty")
	}
	if len(text) > MaxTextLength {
		return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("text is too long for a QR code (%d bytes, max %d)", len(text), MaxTextLength))
	}
	if size <= 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("size must be at most %d", MaxSize))
	}

	png, err := goqrcode.Encode(text, goqrcode.Medium, size)
	if err != nil {
		return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("cannot encode text: %v", err))
	}
	return png, nil
}
