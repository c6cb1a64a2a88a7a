package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	c := &cli{stdout: &out, stderr: &errOut}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err = root.Execute()
	_ = c.close()
	return out.String(), errOut.String(), err
}

func TestConfigSetGetRoundTrip(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.json")

	_, _, err := execute(t, "--config", cfg, "config", "set", "ocr.output_format", "markdown")
	require.NoError(t, err)
	_, _, err = execute(t, "--config", cfg, "config", "set", "model.max_new_tokens", "512")
	require.NoError(t, err)

	out, _, err := execute(t, "--config", cfg, "config", "get", "ocr.output_format")
	require.NoError(t, err)
	assert.Equal(t, `"markdown"`, strings.TrimSpace(out))

	out, _, err = execute(t, "--config", cfg, "config", "get", "model.max_new_tokens")
	require.NoError(t, err)
	assert.Equal(t, "512", strings.TrimSpace(out))

	out, _, err = execute(t, "--config", cfg, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, cfg, strings.TrimSpace(out))
}

func TestConfigSetRejectsInvalidValue(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.json")

	_, _, err := execute(t, "--config", cfg, "config", "set", "model.device", "tpu")
	assert.ErrorIs(t, err, apperrors.ErrConfig)
	_, statErr := os.Stat(cfg)
	assert.True(t, os.IsNotExist(statErr))
}

func TestConfigGetUnknownPath(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.json")
	_, _, err := execute(t, "--config", cfg, "config", "get", "ui.missing")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestQREncodeThenDecode(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.json")
	png := filepath.Join(dir, "code.png")

	_, _, err := execute(t, "--config", cfg, "qr", "encode", "pay to 1234", "-o", png)
	require.NoError(t, err)

	out, _, err := execute(t, "--config", cfg, "qr", "decode", png)
	require.NoError(t, err)
	assert.Contains(t, out, "[QR Code Results]")
	assert.Contains(t, out, "pay to 1234")
}

func TestRecognizeMissingFile(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.json")
	_, _, err := execute(t, "--config", cfg, "recognize", filepath.Join(t.TempDir(), "nope.png"))
	assert.ErrorIs(t, err, apperrors.ErrIO)
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, float64(3), parseValue("3"))
	assert.Equal(t, []any{"a", "b"}, parseValue(`["a","b"]`))
	assert.Equal(t, "zai-org/GLM-OCR", parseValue("zai-org/GLM-OCR"))
}
