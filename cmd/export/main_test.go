package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/modelstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeCache(t *testing.T) string {
	t.Helper()
	cache := t.TempDir()
	snap := filepath.Join(modelstore.CacheRepoDir(cache, "zai-org/GLM-OCR"), "snapshots", "feedbeef")
	require.NoError(t, os.MkdirAll(snap, 0o755))
	for _, f := range append([]string{"model.safetensors"}, modelstore.RequiredFiles...) {
		require.NoError(t, os.WriteFile(filepath.Join(snap, f), []byte("{}"), 0o644))
	}
	return cache
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := rootCommand(&out, &errOut)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "config.json"), "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestExportModelCommand(t *testing.T) {
	cache := fakeCache(t)
	dest := filepath.Join(t.TempDir(), "models", "GLM-OCR")

	out, err := run(t, "model", "--cache-dir", cache, "--local-only", "--dest", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "Model exported")
	require.NoError(t, modelstore.Verify(dest))

	_, err = run(t, "model", "--cache-dir", cache, "--local-only", "--dest", dest)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = run(t, "model", "--cache-dir", cache, "--local-only", "--dest", dest, "--force")
	assert.NoError(t, err)
}

func TestExportModelWithoutCacheOffline(t *testing.T) {
	_, err := run(t, "model", "--cache-dir", t.TempDir(), "--local-only", "--dest", filepath.Join(t.TempDir(), "m"))
	assert.ErrorIs(t, err, apperrors.ErrModelLoad)
}

func TestBundleCommand(t *testing.T) {
	cache := fakeCache(t)
	dir := filepath.Join(t.TempDir(), "portable")
	bin := filepath.Join(t.TempDir(), "glm-ocr-desk")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o644))

	out, err := run(t, "bundle", "--cache-dir", cache, "--local-only", "--dir", dir, "--bin", bin)
	require.NoError(t, err)
	assert.Contains(t, out, "Bundle created")

	for _, p := range []string{"models/GLM-OCR/config.json", "output", "bin/glm-ocr-desk", "config.json", "README.txt", "start.sh", "start.bat"} {
		_, err := os.Stat(filepath.Join(dir, p))
		assert.NoError(t, err, p)
	}
}
