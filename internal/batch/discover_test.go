package batch

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.PNG"), "x")
	writeFile(t, filepath.Join(dir, "a.jpg"), "x")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	writeFile(t, filepath.Join(dir, "scan.tiff"), "x")
	writeFile(t, filepath.Join(dir, "sub", "c.webp"), "x")
	writeFile(t, filepath.Join(dir, "sub", "deeper", "d.bmp"), "x")

	flat, err := Discover(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.jpg"),
		filepath.Join(dir, "b.PNG"),
		filepath.Join(dir, "scan.tiff"),
	}, flat)

	all, err := Discover(dir, true)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Contains(t, all, filepath.Join(dir, "sub", "deeper", "d.bmp"))
	assert.IsNonDecreasing(t, all)
}

func TestDiscoverErrors(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "missing"), false)
	assert.ErrorIs(t, err, apperrors.ErrIO)

	file := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Discover(file, false)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestFilterSupported(t *testing.T) {
	got := FilterSupported([]string{"b.png", "a.txt", "c.JPEG", "b.png", "d"})
	assert.Equal(t, []string{"b.png", "c.JPEG"}, got)
}
