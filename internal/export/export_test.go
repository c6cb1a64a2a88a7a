package export

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/hub"
	"github.com/bosocmputer/glm_ocr_desk/internal/modelstore"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repo = "zai-org/GLM-OCR"

func modelFiles() []string {
	return append([]string{"model.safetensors"}, modelstore.RequiredFiles...)
}

// fakeCache lays out <cache>/models--zai-org--GLM-OCR/snapshots/<rev>.
func fakeCache(t *testing.T, files ...string) string {
	t.Helper()
	cache := t.TempDir()
	snap := filepath.Join(modelstore.CacheRepoDir(cache, repo), "snapshots", "0123abcd")
	require.NoError(t, os.MkdirAll(snap, 0o755))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(snap, f), []byte("data:"+f), 0o644))
	}
	return cache
}

func TestExportModelFromCache(t *testing.T) {
	cache := fakeCache(t, modelFiles()...)
	dest := filepath.Join(t.TempDir(), "models", "GLM-OCR")

	res, err := NewExporter(nil, nil).ExportModel(context.Background(), ModelOptions{Repo: repo, Dest: dest, CacheDir: cache, LocalOnly: true})
	require.NoError(t, err)

	assert.Equal(t, SourceCache, res.Source)
	assert.Len(t, res.Files, 4)
	assert.Positive(t, res.TotalBytes)
	require.NoError(t, modelstore.Verify(dest))

	// No staging directories are left next to the model.
	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExportModelRefusesOverwriteWithoutForce(t *testing.T) {
	cache := fakeCache(t, modelFiles()...)
	dest := filepath.Join(t.TempDir(), "GLM-OCR")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	marker := filepath.Join(dest, "keep.me")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	e := NewExporter(nil, nil)
	_, err := e.ExportModel(context.Background(), ModelOptions{Repo: repo, Dest: dest, CacheDir: cache})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	assert.Contains(t, apperrors.HintOf(err), "--force")
	assert.FileExists(t, marker)

	_, err = e.ExportModel(context.Background(), ModelOptions{Repo: repo, Dest: dest, CacheDir: cache, Force: true})
	require.NoError(t, err)
	assert.NoFileExists(t, marker)
	assert.FileExists(t, filepath.Join(dest, "config.json"))
}

func TestExportModelIncompleteSnapshot(t *testing.T) {
	cache := fakeCache(t, "config.json", "model.safetensors")
	dest := filepath.Join(t.TempDir(), "GLM-OCR")

	_, err := NewExporter(nil, nil).ExportModel(context.Background(), ModelOptions{Repo: repo, Dest: dest, CacheDir: cache})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrModelLoad)
	assert.Contains(t, err.Error(), "tokenizer.json")
	assert.NoDirExists(t, dest)
}

func TestExportModelLocalOnlyWithoutCache(t *testing.T) {
	_, err := NewExporter(nil, nil).ExportModel(context.Background(), ModelOptions{
		Repo: repo, Dest: filepath.Join(t.TempDir(), "GLM-OCR"), CacheDir: t.TempDir(), LocalOnly: true,
	})
	assert.ErrorIs(t, err, apperrors.ErrModelLoad)
	assert.NotEmpty(t, apperrors.HintOf(err))
}

func TestExportModelDownloads(t *testing.T) {
	mt := httpmock.NewMockTransport()
	siblings := make([]map[string]string, 0)
	for _, f := range modelFiles() {
		siblings = append(siblings, map[string]string{"rfilename": f})
	}
	listing, err := json.Marshal(map[string]any{"id": repo, "siblings": siblings})
	require.NoError(t, err)
	mt.RegisterResponder("GET", "https://hub.test/api/models/zai-org/GLM-OCR/revision/main",
		httpmock.NewBytesResponder(http.StatusOK, listing))
	mt.RegisterResponder("GET", `=~^https://hub\.test/zai-org/GLM-OCR/resolve/main/`,
		httpmock.NewStringResponder(http.StatusOK, "{}"))

	client := hub.NewClient(
		hub.WithEndpoint("https://hub.test"),
		hub.WithHTTPClient(&http.Client{Transport: mt}),
		hub.WithRetry(2, time.Millisecond),
	)
	dest := filepath.Join(t.TempDir(), "GLM-OCR")
	res, err := NewExporter(client, nil).ExportModel(context.Background(), ModelOptions{Repo: repo, Dest: dest, CacheDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, SourceHub, res.Source)
	assert.NoError(t, modelstore.Verify(dest))
	assert.Equal(t, 1+len(modelFiles()), mt.GetTotalCallCount())
}

func TestCreateBundle(t *testing.T) {
	cache := fakeCache(t, modelFiles()...)
	binDir := t.TempDir()
	launcher := filepath.Join(binDir, "glm-ocr-desk")
	require.NoError(t, os.WriteFile(launcher, []byte("#!/bin/sh\n"), 0o644))

	dir := filepath.Join(t.TempDir(), "GLM-OCR-Portable")
	res, err := NewExporter(nil, nil).CreateBundle(context.Background(), BundleOptions{
		Dir: dir, Repo: repo, CacheDir: cache, LocalOnly: true, Binaries: []string{launcher},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"glm-ocr-desk"}, res.Binaries)

	for _, p := range []string{"README.txt", "start.sh", "start.bat", "config.json", "bin/glm-ocr-desk", "models/GLM-OCR/config.json"} {
		assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(p)))
	}
	assert.DirExists(t, filepath.Join(dir, "output"))

	info, err := os.Stat(filepath.Join(dir, "start.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "start.sh is executable")

	raw, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	var cfg map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &cfg))
	assert.Equal(t, true, cfg["model"]["use_local_only"])
	assert.Equal(t, "models/GLM-OCR", cfg["model"]["local_path"])
	assert.Equal(t, "./output", cfg["batch"]["output_dir"])

	script, err := os.ReadFile(filepath.Join(dir, "start.sh"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(script), "./bin/glm-ocr-desk --config ./config.json"))

	// A second run needs --force.
	_, err = NewExporter(nil, nil).CreateBundle(context.Background(), BundleOptions{Dir: dir, Repo: repo, CacheDir: cache})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}
