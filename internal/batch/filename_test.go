package batch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/ocr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameTemplateRender(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		date     string
		input    string
		format   ocr.OutputFormat
		expected string
	}{
		{"default", "[OCR]_{name}_{date}", "%Y%m%d_%H%M%S", "/in/a.png", ocr.FormatText, "[OCR]_a_20260314_092653.txt"},
		{"json", "{name}", "%Y", "/in/receipt.scan.jpg", ocr.FormatJSON, "receipt.scan.json"},
		{"markdown", "{date}-{name}", "%Y-%m-%d", "b.tiff", ocr.FormatMarkdown, "2026-03-14-b.md"},
		{"empty pattern", "", "", "x.png", ocr.FormatText, "[OCR]_x_20260314_092653.txt"},
		{"separators in date", "{name}_{date}", "%Y/%m/%d %H:%M", "x.png", ocr.FormatText, "x_2026-03-14 09-26.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nt, err := NewNameTemplate(tt.pattern, tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, nt.Render(tt.input, fixedNow, tt.format))
		})
	}
}

func TestNameTemplateInvalidDate(t *testing.T) {
	_, err := NewNameTemplate("{name}", "%Q")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestWriteOutputCollisionSuffix(t *testing.T) {
	dir := t.TempDir()

	first, err := writeOutput(dir, "[OCR]_a.txt", "one")
	require.NoError(t, err)
	second, err := writeOutput(dir, "[OCR]_a.txt", "two")
	require.NoError(t, err)
	third, err := writeOutput(dir, "[OCR]_a.txt", "three")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "[OCR]_a.txt"), first)
	assert.Equal(t, filepath.Join(dir, "[OCR]_a_1.txt"), second)
	assert.Equal(t, filepath.Join(dir, "[OCR]_a_2.txt"), third)

	body, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(body))
}

func TestWriteOutputUnwritable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := writeOutput(blocker, "x.txt", "y")
	assert.ErrorIs(t, err, apperrors.ErrIO)
}

// shortWriter writes half of the content and then fails, like a full disk.
type shortWriter struct{ f *os.File }

func (w shortWriter) WriteString(s string) (int, error) {
	n, _ := w.f.WriteString(s[:len(s)/2])
	return n, errors.New("no space left on device")
}

func (w shortWriter) Close() error { return w.f.Close() }

func TestWriteOutputRemovesPartialFile(t *testing.T) {
	orig := createOutput
	t.Cleanup(func() { createOutput = orig })
	createOutput = func(path string) (outputFile, error) {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return nil, err
		}
		return shortWriter{f}, nil
	}

	dir := t.TempDir()
	_, err := writeOutput(dir, "page.txt", "recognized text")
	require.ErrorIs(t, err, apperrors.ErrIO)
	assert.Contains(t, err.Error(), "no space left on device")
	assert.NoFileExists(t, filepath.Join(dir, "page.txt"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
