package hub

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://hub.test"

func newMockClient(t *testing.T, opts ...Option) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	base := []Option{
		WithEndpoint(testEndpoint),
		WithHTTPClient(&http.Client{Transport: mt}),
		WithRetry(3, time.Millisecond),
	}
	return NewClient(append(base, opts...)...), mt
}

const repoListing = `{
  "id": "zai-org/GLM-OCR",
  "sha": "abc123",
  "siblings": [
    {"rfilename": ".gitattributes"},
    {"rfilename": "config.json"},
    {"rfilename": "tokenizer.json"},
    {"rfilename": "preprocessor_config.json"},
    {"rfilename": "model-00001-of-00001.safetensors"},
    {"rfilename": "extra/chat_template.jinja"}
  ]
}`

func TestInfo(t *testing.T) {
	c, mt := newMockClient(t, WithToken("hf_secret"))
	mt.RegisterResponder("GET", testEndpoint+"/api/models/zai-org/GLM-OCR/revision/main",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer hf_secret", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK, repoListing), nil
		})

	info, err := c.Info(context.Background(), "zai-org/GLM-OCR")
	require.NoError(t, err)
	assert.Equal(t, "abc123", info.SHA)
	assert.Len(t, info.Siblings, 6)
}

func TestDownloadSnapshot(t *testing.T) {
	c, mt := newMockClient(t)
	mt.RegisterResponder("GET", testEndpoint+"/api/models/zai-org/GLM-OCR/revision/main",
		httpmock.NewStringResponder(http.StatusOK, repoListing))
	mt.RegisterResponder("GET", `=~^https://hub\.test/zai-org/GLM-OCR/resolve/main/`,
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewStringResponse(http.StatusOK, "body of "+req.URL.Path), nil
		})

	dest := filepath.Join(t.TempDir(), "GLM-OCR")
	var seen []string
	err := c.Download(context.Background(), "zai-org/GLM-OCR", dest, func(file string, i, n int) {
		seen = append(seen, file)
		assert.Equal(t, 5, n)
	})
	require.NoError(t, err)

	assert.NotContains(t, seen, ".gitattributes")
	assert.Len(t, seen, 5)
	body, err := os.ReadFile(filepath.Join(dest, "extra", "chat_template.jinja"))
	require.NoError(t, err)
	assert.Equal(t, "body of /zai-org/GLM-OCR/resolve/main/extra/chat_template.jinja", string(body))

	// No temporary files are left behind.
	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".part-")
	}
}

func TestDownloadRetriesAreBounded(t *testing.T) {
	c, mt := newMockClient(t)
	mt.RegisterResponder("GET", testEndpoint+"/zai-org/GLM-OCR/resolve/main/config.json",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy"))

	dest := filepath.Join(t.TempDir(), "config.json")
	_, err := c.DownloadFile(context.Background(), "zai-org/GLM-OCR", "config.json", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrModelLoad)
	assert.Equal(t, 3, mt.GetTotalCallCount())
	assert.NoFileExists(t, dest)
}

func TestDownloadRecoversAfterTransientFailure(t *testing.T) {
	c, mt := newMockClient(t)
	calls := 0
	mt.RegisterResponder("GET", testEndpoint+"/zai-org/GLM-OCR/resolve/main/config.json",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(http.StatusBadGateway, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"model_type":"glm"}`), nil
		})

	dest := filepath.Join(t.TempDir(), "config.json")
	n, err := c.DownloadFile(context.Background(), "zai-org/GLM-OCR", "config.json", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(`{"model_type":"glm"}`)), n)
	assert.Equal(t, 2, calls)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		status int
		hint   string
	}{
		{http.StatusUnauthorized, "HF_TOKEN"},
		{http.StatusNotFound, "model.name"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c, mt := newMockClient(t)
			mt.RegisterResponder("GET", testEndpoint+"/api/models/zai-org/private/revision/main",
				httpmock.NewStringResponder(tt.status, ""))

			_, err := c.Info(context.Background(), "zai-org/private")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrModelLoad)
			assert.Contains(t, apperrors.HintOf(err), tt.hint)
			assert.Equal(t, 1, mt.GetTotalCallCount())
		})
	}
}

func TestDownloadCancelled(t *testing.T) {
	c, mt := newMockClient(t, WithRetry(5, time.Hour))
	mt.RegisterResponder("GET", testEndpoint+"/zai-org/GLM-OCR/resolve/main/config.json",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.DownloadFile(ctx, "zai-org/GLM-OCR", "config.json", filepath.Join(t.TempDir(), "config.json"))
	assert.ErrorIs(t, err, apperrors.ErrCancelled)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestSafeJoin(t *testing.T) {
	dir := t.TempDir()
	p, err := safeJoin(dir, "sub/file.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "file.json"), p)

	for _, bad := range []string{"../escape", "/etc/passwd", "a/../../b"} {
		_, err := safeJoin(dir, bad)
		assert.ErrorIs(t, err, apperrors.ErrModelLoad, bad)
	}
}
