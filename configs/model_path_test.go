package configs

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBase returns <tmp>/app, so that <tmp>/models plays the role of ../models.
func newBase(t *testing.T) (root, base string) {
	t.Helper()
	root = t.TempDir()
	base = filepath.Join(root, "app")
	require.NoError(t, os.MkdirAll(base, 0o755))
	return root, base
}

func TestResolveModelOrder(t *testing.T) {
	t.Run("explicit local_path wins", func(t *testing.T) {
		root, base := newBase(t)
		explicit := filepath.Join(root, "weights")
		require.NoError(t, os.MkdirAll(explicit, 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(base, "models", "GLM-OCR"), 0o755))

		loc, err := ResolveModel("zai-org/GLM-OCR", explicit, true, base)
		require.NoError(t, err)
		assert.Equal(t, LocationLocal, loc.Kind)
		assert.Equal(t, explicit, loc.Value)
	})

	t.Run("./models before ../models", func(t *testing.T) {
		root, base := newBase(t)
		require.NoError(t, os.MkdirAll(filepath.Join(base, "models", "GLM-OCR"), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(root, "models", "GLM-OCR"), 0o755))

		loc, err := ResolveModel("zai-org/GLM-OCR", "", true, base)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "models", "GLM-OCR"), loc.Value)
	})

	t.Run("../models", func(t *testing.T) {
		root, base := newBase(t)
		require.NoError(t, os.MkdirAll(filepath.Join(root, "models", "GLM-OCR"), 0o755))

		loc, err := ResolveModel("zai-org/GLM-OCR", "", true, base)
		require.NoError(t, err)
		assert.True(t, loc.IsLocal())
		assert.Equal(t, filepath.Join(base, "..", "models", "GLM-OCR"), loc.Value)
	})

	t.Run("missing local_path falls through", func(t *testing.T) {
		_, base := newBase(t)
		require.NoError(t, os.MkdirAll(filepath.Join(base, "models", "GLM-OCR"), 0o755))

		loc, err := ResolveModel("zai-org/GLM-OCR", filepath.Join(base, "nowhere"), false, base)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "models", "GLM-OCR"), loc.Value)
	})

	t.Run("a file is not a model directory", func(t *testing.T) {
		_, base := newBase(t)
		require.NoError(t, os.MkdirAll(filepath.Join(base, "models"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(base, "models", "GLM-OCR"), []byte("x"), 0o644))

		loc, err := ResolveModel("zai-org/GLM-OCR", "", false, base)
		require.NoError(t, err)
		assert.Equal(t, LocationRemote, loc.Kind)
	})
}

func TestResolveModelLocalOnlyFails(t *testing.T) {
	_, base := newBase(t)

	loc, err := ResolveModel("zai-org/GLM-OCR", filepath.Join(base, "custom"), true, base)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrModelResolution)
	assert.Len(t, loc.Checked, 3)
	for _, checked := range loc.Checked {
		assert.Contains(t, err.Error(), checked)
	}
	assert.NotEmpty(t, apperrors.HintOf(err))
}

func TestResolveModelRemoteFallback(t *testing.T) {
	_, base := newBase(t)

	loc, err := ResolveModel("zai-org/GLM-OCR", "", false, base)
	require.NoError(t, err)
	assert.Equal(t, LocationRemote, loc.Kind)
	assert.Equal(t, "zai-org/GLM-OCR", loc.Value)
}

func TestStoreResolveModelPath(t *testing.T) {
	root, base := newBase(t)
	store, _, err := Load(filepath.Join(root, "config.json"), WithBaseDir(base))
	require.NoError(t, err)

	require.NoError(t, store.Set("model.use_local_only", true))
	_, err = store.ResolveModelPath()
	assert.ErrorIs(t, err, apperrors.ErrModelResolution)

	require.NoError(t, os.MkdirAll(filepath.Join(base, "models", "GLM-OCR"), 0o755))
	loc, err := store.ResolveModelPath()
	require.NoError(t, err)
	assert.Equal(t, LocationLocal, loc.Kind)
}

func TestModelLeafName(t *testing.T) {
	assert.Equal(t, "GLM-OCR", ModelLeafName("zai-org/GLM-OCR"))
	assert.Equal(t, "GLM-OCR", ModelLeafName("GLM-OCR"))
}
