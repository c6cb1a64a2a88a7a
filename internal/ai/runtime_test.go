package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/configs"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/modelstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiple: 2}

func modelDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "GLM-OCR")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range append([]string{"model-00001.safetensors"}, modelstore.RequiredFiles...) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	return dir
}

// fakeRuntime serves /v1/models and /v1/chat/completions.
type fakeRuntime struct {
	served       []string
	modelsStatus int
	reply        func(req chatRequest) (int, any)
	completions  atomic.Int32
	lastRequest  atomic.Value
}

func (f *fakeRuntime) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		if f.modelsStatus != 0 {
			w.WriteHeader(f.modelsStatus)
			return
		}
		var resp modelsResponse
		for _, id := range f.served {
			resp.Data = append(resp.Data, struct {
				ID string `json:"id"`
			}{ID: id})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.completions.Add(1)
		var req chatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.lastRequest.Store(req)
		status, body := f.reply(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}

func completion(text, finish string) map[string]any {
	return map[string]any{
		"model": "glm-ocr",
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": text},
			"finish_reason": finish,
		}},
		"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 7},
	}
}

func newRuntime(t *testing.T, fake *fakeRuntime, mutate func(*ProviderConfig)) *RuntimeProvider {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg := ProviderConfig{
		Provider:       ProviderRuntime,
		Location:       configs.ModelLocation{Kind: configs.LocationLocal, Value: modelDir(t)},
		Device:         "cpu",
		DType:          "float16",
		Endpoint:       srv.URL + "/v1",
		RequestTimeout: 2 * time.Second,
		LoadTimeout:    2 * time.Second,
		Retry:          fastRetry,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewRuntimeProvider(cfg)
}

func TestRuntimeLoadAndGenerate(t *testing.T) {
	fake := &fakeRuntime{
		served: []string{"glm-ocr"},
		reply: func(req chatRequest) (int, any) {
			return http.StatusOK, completion("  Hello 世界 \n", "stop")
		},
	}
	p := newRuntime(t, fake, nil)
	t.Cleanup(func() { _ = p.Close() })

	info, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "glm-ocr", info.Model)
	assert.Equal(t, "cpu", info.Device)
	assert.Equal(t, "float32", info.Details["dtype"])

	gen, err := p.Generate(context.Background(), GenerateRequest{
		Image:        []byte{0x89, 'P', 'N', 'G'},
		Prompt:       "Text Recognition:",
		MaxNewTokens: 2048,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello 世界", gen.Text)
	assert.False(t, gen.Truncated)
	assert.Equal(t, 120, gen.PromptTokens)
	assert.Equal(t, 7, gen.OutputTokens)

	req := fake.lastRequest.Load().(chatRequest)
	assert.Equal(t, "glm-ocr", req.Model)
	assert.Equal(t, 2048, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Content, 2)
	assert.Equal(t, "image_url", req.Messages[0].Content[0].Type)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content[0].ImageURL.URL, "data:image/png;base64,"))
	assert.Equal(t, "Text Recognition:", req.Messages[0].Content[1].Text)
}

func TestRuntimeReportsTruncation(t *testing.T) {
	fake := &fakeRuntime{
		served: []string{"glm-ocr"},
		reply: func(chatRequest) (int, any) {
			return http.StatusOK, completion("partial", "length")
		},
	}
	p := newRuntime(t, fake, nil)
	_, err := p.Load(context.Background())
	require.NoError(t, err)

	gen, err := p.Generate(context.Background(), GenerateRequest{Image: []byte("x"), Prompt: "Text Recognition:", MaxNewTokens: 4})
	require.NoError(t, err)
	assert.True(t, gen.Truncated)
	assert.Equal(t, "partial", gen.Text)
}

func TestRuntimeGenerateBeforeLoad(t *testing.T) {
	p := newRuntime(t, &fakeRuntime{}, nil)
	_, err := p.Generate(context.Background(), GenerateRequest{Image: []byte("x")})
	assert.ErrorIs(t, err, apperrors.ErrModelNotLoaded)
}

func TestRuntimeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	fake := &fakeRuntime{
		served: []string{"glm-ocr"},
		reply: func(chatRequest) (int, any) {
			if calls.Add(1) < 3 {
				return http.StatusServiceUnavailable, map[string]any{"error": map[string]any{"message": "warming up"}}
			}
			return http.StatusOK, completion("ok", "stop")
		},
	}
	p := newRuntime(t, fake, nil)
	_, err := p.Load(context.Background())
	require.NoError(t, err)

	gen, err := p.Generate(context.Background(), GenerateRequest{Image: []byte("x"), MaxNewTokens: 8})
	require.NoError(t, err)
	assert.Equal(t, "ok", gen.Text)
	assert.EqualValues(t, 3, fake.completions.Load())
}

func TestRuntimeDoesNotRetryBadRequest(t *testing.T) {
	fake := &fakeRuntime{
		served: []string{"glm-ocr"},
		reply: func(chatRequest) (int, any) {
			return http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "max_tokens too large"}}
		},
	}
	p := newRuntime(t, fake, nil)
	_, err := p.Load(context.Background())
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), GenerateRequest{Image: []byte("x"), MaxNewTokens: 1 << 20})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInference)
	assert.Contains(t, err.Error(), "max_tokens too large")
	assert.EqualValues(t, 1, fake.completions.Load())
}

func TestRuntimeLoadFailures(t *testing.T) {
	t.Run("incomplete model directory", func(t *testing.T) {
		fake := &fakeRuntime{served: []string{"glm-ocr"}}
		p := newRuntime(t, fake, func(cfg *ProviderConfig) {
			dir := t.TempDir()
			cfg.Location = configs.ModelLocation{Kind: configs.LocationLocal, Value: dir}
		})
		_, err := p.Load(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrModelLoad)
		assert.Contains(t, err.Error(), "config.json")
	})

	t.Run("remote endpoint in local-only mode", func(t *testing.T) {
		p := newRuntime(t, &fakeRuntime{}, func(cfg *ProviderConfig) {
			cfg.LocalOnly = true
			cfg.Endpoint = "http://10.20.30.40:8000/v1"
		})
		_, err := p.Load(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrModelLoad)
		assert.Contains(t, apperrors.HintOf(err), "127.0.0.1")
	})

	t.Run("runtime never becomes ready", func(t *testing.T) {
		fake := &fakeRuntime{modelsStatus: http.StatusServiceUnavailable}
		p := newRuntime(t, fake, func(cfg *ProviderConfig) {
			cfg.LoadTimeout = 300 * time.Millisecond
		})
		start := time.Now()
		_, err := p.Load(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrModelLoad)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("served name not offered", func(t *testing.T) {
		fake := &fakeRuntime{served: []string{"other-model"}}
		p := newRuntime(t, fake, func(cfg *ProviderConfig) {
			cfg.ServedName = "glm-ocr"
		})
		_, err := p.Load(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrModelLoad)
		assert.Contains(t, err.Error(), "other-model")
	})
}

func TestRuntimeManagedProcessExitsEarly(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no shell available")
	}
	fake := &fakeRuntime{modelsStatus: http.StatusServiceUnavailable}
	p := newRuntime(t, fake, func(cfg *ProviderConfig) {
		cfg.RuntimeCommand = []string{sh, "-c", "echo starting {model} on {device}; exit 3"}
		cfg.LoadTimeout = 30 * time.Second
	})

	start := time.Now()
	_, err = p.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrModelLoad)
	assert.Contains(t, err.Error(), "exited")
	assert.Less(t, time.Since(start), 10*time.Second)
	require.NoError(t, p.Close())
}

func TestExpandRuntimeCommand(t *testing.T) {
	got := ExpandRuntimeCommand(
		[]string{"vllm", "serve", "{model}", "--device={device}", "--dtype", "{dtype}", "--quant={quantization}"},
		map[string]string{"model": "/m/GLM-OCR", "device": "cuda", "dtype": "float16", "quantization": "none"},
	)
	assert.Equal(t, []string{"vllm", "serve", "/m/GLM-OCR", "--device=cuda", "--dtype", "float16", "--quant=none"}, got)
}

func TestRequireLoopback(t *testing.T) {
	for _, ok := range []string{"http://127.0.0.1:8000/v1", "http://localhost:1234", "http://[::1]:8000/v1", "http://127.8.9.1"} {
		assert.NoError(t, requireLoopback(ok), ok)
	}
	for _, bad := range []string{"https://api.example.com/v1", "http://192.168.1.2:8000/v1"} {
		assert.ErrorIs(t, requireLoopback(bad), apperrors.ErrModelLoad, bad)
	}
	assert.ErrorIs(t, requireLoopback("not a url"), apperrors.ErrConfig)
}

func TestLogWriterSplitsLines(t *testing.T) {
	w := newLogWriter(discard())
	n, err := w.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "sec", w.buf.String())
	_, _ = w.Write([]byte("ond\r\n"))
	assert.Zero(t, w.buf.Len())
}
