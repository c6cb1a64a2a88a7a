// runtime.go - Local inference runtime client (OpenAI-compatible chat completions)

package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/modelstore"
)

const readinessInterval = 500 * time.Millisecond

// RuntimeProvider talks to a local inference server (vLLM, SGLang,
// llama.cpp server...) that serves the model over the OpenAI API. With a
// runtime command configured it also starts and stops that server.
type RuntimeProvider struct {
	cfg    ProviderConfig
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	exited    chan struct{}
	modelName string
}

// NewRuntimeProvider creates a new runtime provider
func NewRuntimeProvider(cfg ProviderConfig) *RuntimeProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 300 * time.Second
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = common.DiscardLogger()
	}
	return &RuntimeProvider{
		cfg:    cfg,
		client: client,
		logger: cfg.Logger.With("provider", ProviderRuntime),
	}
}

// Name returns "runtime"
func (r *RuntimeProvider) Name() string {
	return ProviderRuntime
}

// OpenAI-compatible request/response structures
type chatImageURL struct {
	URL string `json:"url"`
}

type chatContentPart struct {
	Type     string        `json:"type"` // "image_url" or "text"
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string            `json:"role"`
	Content []chatContentPart `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

type runtimeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Load checks the model files, enforces local-only networking, starts the
// runtime if configured and waits until it serves the model.
func (r *RuntimeProvider) Load(ctx context.Context) (*LoadInfo, error) {
	loc := r.cfg.Location
	if loc.IsLocal() {
		if err := modelstore.Verify(loc.Value); err != nil {
			return nil, err
		}
	}
	if r.cfg.LocalOnly {
		if err := requireLoopback(r.cfg.Endpoint); err != nil {
			return nil, err
		}
	}

	if len(r.cfg.RuntimeCommand) > 0 {
		if err := r.startRuntime(); err != nil {
			return nil, err
		}
	}

	loadCtx, cancel := context.WithTimeout(ctx, r.cfg.LoadTimeout)
	defer cancel()
	name, err := r.waitReady(loadCtx)
	if err != nil {
		r.stopRuntime()
		return nil, err
	}

	r.mu.Lock()
	r.modelName = name
	r.mu.Unlock()

	r.logger.Info("runtime ready", "endpoint", r.cfg.Endpoint, "served_model", name, "device", r.cfg.Device)
	return &LoadInfo{
		Provider: ProviderRuntime,
		Model:    name,
		Device:   r.cfg.Device,
		Details: map[string]string{
			"endpoint":     r.cfg.Endpoint,
			"location":     loc.Value,
			"dtype":        EffectiveDType(r.cfg.Device, r.cfg.DType),
			"quantization": r.cfg.Quantization,
			"managed":      fmt.Sprint(len(r.cfg.RuntimeCommand) > 0),
		},
	}, nil
}

// Generate sends one chat-completions request with the image as a data URL.
func (r *RuntimeProvider) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	r.mu.Lock()
	model := r.modelName
	r.mu.Unlock()
	if model == "" {
		return nil, apperrors.NewModelNotLoadedError()
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContentPart{
				{Type: "image_url", ImageURL: &chatImageURL{URL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(req.Image)}},
				{Type: "text", Text: req.Prompt},
			},
		}},
		MaxTokens: req.MaxNewTokens,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	resp, err := withRetry(ctx, r.cfg.Retry, r.logger, ProviderRuntime, func(ctx context.Context) (*chatResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()
		return r.callChatCompletions(callCtx, payload)
	})
	if err != nil {
		return nil, apperrors.NewInferenceError("runtime generation failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.NewInferenceError("runtime returned no choices", nil)
	}

	choice := resp.Choices[0]
	return &Generation{
		Text:         strings.TrimSpace(choice.Message.Content),
		Model:        resp.Model,
		Truncated:    choice.FinishReason == "length",
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(start),
	}, nil
}

// Close stops a runtime this provider started.
func (r *RuntimeProvider) Close() error {
	r.mu.Lock()
	r.modelName = ""
	r.mu.Unlock()
	r.stopRuntime()
	return nil
}

// callChatCompletions makes HTTP request to the chat completions endpoint
func (r *RuntimeProvider) callChatCompletions(ctx context.Context, payload []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint("chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp runtimeErrorResponse
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: errorResp.Error.Message}
		}
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse completion response: %w", err)
	}
	return &out, nil
}

// waitReady polls /models until the runtime answers, the started process
// dies, or ctx expires. It returns the model name to send requests for.
func (r *RuntimeProvider) waitReady(ctx context.Context) (string, error) {
	ticker := time.NewTicker(readinessInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		name, err := r.probeModels(ctx)
		if err == nil {
			return name, nil
		}
		if apperrors.CodeOf(err) == apperrors.CodeModelLoad {
			return "", err
		}
		lastErr = err

		r.mu.Lock()
		exited := r.exited
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", apperrors.NewModelLoadError(r.cfg.Location.Value, fmt.Sprintf("runtime at %s did not become ready within %s", r.cfg.Endpoint, r.cfg.LoadTimeout), lastErr).
				WithHint("start the inference runtime or set model.runtime_command so it is started for you")
		case <-exited:
			return "", apperrors.NewModelLoadError(r.cfg.Location.Value, "runtime process exited before becoming ready", lastErr)
		case <-ticker.C:
		}
	}
}

func (r *RuntimeProvider) probeModels(ctx context.Context) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.endpoint("models"), nil)
	if err != nil {
		return "", apperrors.NewConfigError("runtime_endpoint", fmt.Sprintf("invalid model.endpoint %q", r.cfg.Endpoint), err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var models modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return "", fmt.Errorf("failed to parse models response: %w", err)
	}
	ids := make([]string, 0, len(models.Data))
	for _, m := range models.Data {
		ids = append(ids, m.ID)
	}

	want := r.cfg.ServedName
	if want == "" {
		if len(ids) == 0 {
			return "", fmt.Errorf("runtime serves no models yet")
		}
		return ids[0], nil
	}
	if !slices.Contains(ids, want) {
		return "", apperrors.NewModelLoadError(r.cfg.Location.Value, fmt.Sprintf("runtime does not serve %q (serving: %s)", want, strings.Join(ids, ", ")), nil).
			WithHint("fix model.served_name or leave it empty to use the first served model")
	}
	return want, nil
}

func (r *RuntimeProvider) endpoint(path string) string {
	return strings.TrimRight(r.cfg.Endpoint, "/") + "/" + path
}

// startRuntime launches the configured runtime command. The process outlives
// Load and is stopped by Close.
func (r *RuntimeProvider) startRuntime() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return nil
	}

	args := ExpandRuntimeCommand(r.cfg.RuntimeCommand, map[string]string{
		"model":        r.cfg.Location.Value,
		"device":       r.cfg.Device,
		"dtype":        EffectiveDType(r.cfg.Device, r.cfg.DType),
		"quantization": r.cfg.Quantization,
	})

	cmd := exec.Command(args[0], args[1:]...)
	if r.cfg.LocalOnly {
		cmd.Env = append(cmd.Environ(), "HF_HUB_OFFLINE=1", "TRANSFORMERS_OFFLINE=1")
	}
	out := newLogWriter(r.logger)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return apperrors.NewModelLoadError(r.cfg.Location.Value, fmt.Sprintf("failed to start runtime %q", args[0]), err)
	}
	r.logger.Info("runtime started", "pid", cmd.Process.Pid, "command", strings.Join(args, " "))

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		r.logger.Info("runtime exited", "pid", cmd.Process.Pid, "error", err)
		close(exited)
	}()
	r.cmd = cmd
	r.exited = exited
	return nil
}

func (r *RuntimeProvider) stopRuntime() {
	r.mu.Lock()
	cmd, exited := r.cmd, r.exited
	r.cmd, r.exited = nil, nil
	r.mu.Unlock()
	if cmd == nil {
		return
	}

	_ = cmd.Process.Kill()
	select {
	case <-exited:
	case <-time.After(10 * time.Second):
		r.logger.Warn("runtime did not exit after kill", "pid", cmd.Process.Pid)
	}
}

// ExpandRuntimeCommand substitutes {model}, {device}, {dtype} and
// {quantization} in every argument.
func ExpandRuntimeCommand(command []string, values map[string]string) []string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	replacer := strings.NewReplacer(pairs...)

	out := make([]string, len(command))
	for i, arg := range command {
		out[i] = replacer.Replace(arg)
	}
	return out
}

// requireLoopback refuses endpoints that would leave the machine.
func requireLoopback(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return apperrors.NewConfigError("runtime_endpoint", fmt.Sprintf("invalid model.endpoint %q", endpoint), err)
	}
	host := u.Hostname()
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return apperrors.NewModelLoadError("", fmt.Sprintf("model.endpoint %s is not on this machine and model.use_local_only is set", endpoint), nil).
		WithHint("point model.endpoint at 127.0.0.1 or set model.use_local_only to false")
}

// logWriter forwards a child process's output to the logger line by line.
type logWriter struct {
	mu     sync.Mutex
	logger *slog.Logger
	buf    bytes.Buffer
}

func newLogWriter(logger *slog.Logger) *logWriter {
	return &logWriter{logger: logger}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf.Next(i+1)), "\r\n")
		if line != "" {
			w.logger.Debug("runtime output", "line", line)
		}
	}
	return len(p), nil
}
