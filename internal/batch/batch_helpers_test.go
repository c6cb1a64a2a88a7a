package batch

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/internal/ocr"
	"github.com/bosocmputer/glm_ocr_desk/internal/processor"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// fakeRecognizer decodes the file for real and answers with its base name.
type fakeRecognizer struct {
	unloaded bool
	onCall   func(path string)
	mu       sync.Mutex
	seen     []string
}

func (f *fakeRecognizer) IsLoaded() bool { return !f.unloaded }

func (f *fakeRecognizer) RecognizeFile(ctx context.Context, path string, pt ocr.PromptType, _ int) (*ocr.Result, error) {
	f.mu.Lock()
	f.seen = append(f.seen, path)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(path)
	}
	if _, err := processor.LoadImage(path); err != nil {
		return nil, err
	}
	return &ocr.Result{Text: "text of " + filepath.Base(path), PromptType: pt, Provider: "fake"}, nil
}

func (f *fakeRecognizer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func defaultOptions(dir, out string) Options {
	return Options{
		Directory:      dir,
		PromptType:     ocr.TextRecognition,
		OutputFormat:   ocr.FormatText,
		OutputDir:      out,
		FilenameFormat: "[OCR]_{name}_{date}",
		DateFormat:     "%Y%m%d_%H%M%S",
		MaxNewTokens:   256,
	}
}
