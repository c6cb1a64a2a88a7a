// client.go - Model hub client: repository listing and file downloads

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

const (
	DefaultEndpoint   = "https://huggingface.co"
	DefaultRevision   = "main"
	DefaultAttempts   = 3
	DefaultRetryDelay = 2 * time.Second

	// metadataTimeout bounds the repository listing request.
	metadataTimeout = 30 * time.Second
	// fileTimeout bounds a single file download, weights included.
	fileTimeout = 30 * time.Minute
)

// Client talks to a HuggingFace-compatible model hub.
type Client struct {
	endpoint   string
	token      string
	revision   string
	httpClient *http.Client
	attempts   int
	retryDelay time.Duration
	logger     *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithEndpoint points the client at a mirror.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithToken authenticates requests (HF_TOKEN).
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the attempt count and the delay between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.retryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a hub client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		revision:   DefaultRevision,
		httpClient: &http.Client{},
		attempts:   DefaultAttempts,
		retryDelay: DefaultRetryDelay,
		logger:     common.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RepoInfo is the subset of the model listing the client uses.
type RepoInfo struct {
	ID       string    `json:"id"`
	SHA      string    `json:"sha"`
	Siblings []Sibling `json:"siblings"`
}

// Sibling is one file of a repository.
type Sibling struct {
	Filename string `json:"rfilename"`
}

// statusError is a non-2xx answer.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("hub returned HTTP %d for %s", e.code, e.url)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// Info lists the files of repo.
func (c *Client) Info(ctx context.Context, repo string) (*RepoInfo, error) {
	u := fmt.Sprintf("%s/api/models/%s/revision/%s", c.endpoint, repo, url.PathEscape(c.revision))

	var info RepoInfo
	err := c.withRetry(ctx, "info "+repo, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
		defer cancel()

		resp, err := c.get(ctx, u)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(&info)
	})
	if err != nil {
		return nil, c.wrap(repo, "failed to list repository files", err)
	}
	return &info, nil
}

// DownloadFile fetches one file of repo into dest. The data is written to a
// temporary file next to dest and renamed into place only when complete.
func (c *Client) DownloadFile(ctx context.Context, repo, file, dest string) (int64, error) {
	u := fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, repo, url.PathEscape(c.revision), escapePath(file))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, apperrors.NewIOError("download", dest, err)
	}

	var written int64
	err := c.withRetry(ctx, "download "+file, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, fileTimeout)
		defer cancel()

		resp, err := c.get(ctx, u)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".part-*")
		if err != nil {
			return permanent(apperrors.NewIOError("download", dest, err))
		}
		tmpName := tmp.Name()
		n, copyErr := io.Copy(tmp, resp.Body)
		closeErr := tmp.Close()
		if copyErr == nil {
			copyErr = closeErr
		}
		if copyErr == nil && resp.ContentLength > 0 && n != resp.ContentLength {
			copyErr = fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
		}
		if copyErr != nil {
			os.Remove(tmpName)
			return copyErr
		}
		if err := os.Rename(tmpName, dest); err != nil {
			os.Remove(tmpName)
			return permanent(apperrors.NewIOError("download", dest, err))
		}
		written = n
		return nil
	})
	if err != nil {
		return 0, c.wrap(repo, fmt.Sprintf("failed to download %s", file), err)
	}
	return written, nil
}

// ProgressFunc is called before each file of a snapshot download.
type ProgressFunc func(file string, index, total int)

// Download fetches every file of repo into destDir.
func (c *Client) Download(ctx context.Context, repo, destDir string, progress ProgressFunc) error {
	info, err := c.Info(ctx, repo)
	if err != nil {
		return err
	}

	files := make([]string, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		if s.Filename == "" || strings.HasPrefix(path.Base(s.Filename), ".git") {
			continue
		}
		files = append(files, s.Filename)
	}
	if len(files) == 0 {
		return apperrors.NewModelLoadError(repo, "repository lists no files", nil)
	}

	for i, file := range files {
		dest, err := safeJoin(destDir, file)
		if err != nil {
			return err
		}
		if progress != nil {
			progress(file, i+1, len(files))
		}
		n, err := c.DownloadFile(ctx, repo, file, dest)
		if err != nil {
			return err
		}
		c.logger.Info("downloaded", "repo", repo, "file", file, "bytes", n)
	}
	return nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, permanent(err)
	}
	req.Header.Set("User-Agent", "glm-ocr-desk")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		serr := &statusError{code: resp.StatusCode, url: u}
		if !serr.retryable() {
			return nil, permanent(serr)
		}
		return nil, serr
	}
	return resp, nil
}

// permanentError stops the retry loop.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

func (c *Client) withRetry(ctx context.Context, what string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperrors.NewCancelledError(what, err)
		}

		err := call(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == c.attempts {
			break
		}
		c.logger.Warn("hub request failed, retrying", "what", what, "attempt", attempt, "max_attempts", c.attempts, "error", err)

		select {
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return apperrors.NewCancelledError(what, ctx.Err())
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) wrap(repo, msg string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	loadErr := apperrors.NewModelLoadError(repo, msg, err)
	var serr *statusError
	if errors.As(err, &serr) {
		switch serr.code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return loadErr.WithHint("the repository needs authentication; set HF_TOKEN")
		case http.StatusNotFound:
			return loadErr.WithHint("check model.name; the repository or file does not exist")
		}
	}
	return loadErr.WithHint("check the network connection, or export the model on a connected machine and set model.use_local_only")
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// safeJoin joins a repository-relative name below dir, refusing escapes.
func safeJoin(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", apperrors.NewModelLoadError(name, "repository file name escapes the target directory", nil)
	}
	return filepath.Join(dir, clean), nil
}
