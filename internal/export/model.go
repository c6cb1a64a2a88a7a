// model.go - Exporting the model into a self-contained local directory

package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/hub"
	"github.com/bosocmputer/glm_ocr_desk/internal/modelstore"
)

// Source tells where exported files came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceHub   Source = "hub"
)

// ModelOptions configures a model export.
type ModelOptions struct {
	Repo      string // hub identifier, e.g. zai-org/GLM-OCR
	Dest      string // target directory, e.g. ./models/GLM-OCR
	Force     bool   // replace an existing Dest
	CacheDir  string // hub cache root; DefaultHubCacheDir when empty
	LocalOnly bool   // never download
}

// FileInfo is one exported file.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ModelResult describes a finished export.
type ModelResult struct {
	Source     Source     `json:"source"`
	SourcePath string     `json:"source_path"`
	Dest       string     `json:"dest"`
	Files      []FileInfo `json:"files"`
	TotalBytes int64      `json:"total_bytes"`
}

// Exporter copies or downloads models.
type Exporter struct {
	hub    *hub.Client
	logger *slog.Logger
}

// NewExporter creates an exporter. hubClient may be nil when downloads are
// never needed.
func NewExporter(hubClient *hub.Client, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = common.DiscardLogger()
	}
	return &Exporter{hub: hubClient, logger: logger.With("component", "export")}
}

// ExportModel fills opts.Dest with a complete model: the newest hub cache
// snapshot when there is one, otherwise a fresh download. The files are
// staged next to Dest and only moved into place once verified, so a failed
// export never leaves a half-written model behind.
func (e *Exporter) ExportModel(ctx context.Context, opts ModelOptions) (*ModelResult, error) {
	if opts.Repo == "" || opts.Dest == "" {
		return nil, apperrors.NewInvalidArgumentError("both the model name and the destination are required")
	}
	if opts.CacheDir == "" {
		opts.CacheDir = modelstore.DefaultHubCacheDir()
	}

	if _, err := os.Stat(opts.Dest); err == nil {
		if !opts.Force {
			return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("%s already exists", opts.Dest)).
				WithHint("pass --force to replace it")
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewIOError("export_model", opts.Dest, err)
	}

	staging := filepath.Join(filepath.Dir(opts.Dest), "."+filepath.Base(opts.Dest)+".export-"+uuid.NewString()[:8])
	defer os.RemoveAll(staging)

	result := &ModelResult{Dest: opts.Dest}
	snapshot, err := modelstore.FindCachedSnapshot(opts.CacheDir, opts.Repo)
	switch {
	case err == nil:
		e.logger.Info("exporting from hub cache", "snapshot", snapshot, "dest", opts.Dest)
		result.Source, result.SourcePath = SourceCache, snapshot
		if err := modelstore.CopyDir(snapshot, staging); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
		if opts.LocalOnly {
			return nil, apperrors.NewModelLoadError(modelstore.CacheRepoDir(opts.CacheDir, opts.Repo), "model is not in the hub cache and downloads are disabled", nil).
				WithHint("run once with model.use_local_only=false to download it, or copy the model directory by hand")
		}
		if e.hub == nil {
			return nil, apperrors.NewConfigError("export_model", "no hub client configured for download", nil)
		}
		e.logger.Info("model not cached, downloading", "repo", opts.Repo)
		result.Source, result.SourcePath = SourceHub, opts.Repo
		err := e.hub.Download(ctx, opts.Repo, staging, func(file string, i, n int) {
			e.logger.Info("downloading", "file", file, "index", i, "total", n)
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := modelstore.Verify(staging); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(opts.Dest); err != nil {
		return nil, apperrors.NewIOError("export_model", opts.Dest, err)
	}
	if err := os.Rename(staging, opts.Dest); err != nil {
		return nil, apperrors.NewIOError("export_model", opts.Dest, err)
	}

	files, total, err := listFiles(opts.Dest)
	if err != nil {
		return nil, err
	}
	result.Files, result.TotalBytes = files, total
	e.logger.Info("model exported", "dest", opts.Dest, "files", len(files), "bytes", total, "source", result.Source)
	return result, nil
}

func listFiles(dir string) ([]FileInfo, int64, error) {
	var files []FileInfo
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		files = append(files, FileInfo{Name: filepath.ToSlash(rel), Size: info.Size()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, apperrors.NewIOError("list_model", dir, err)
	}
	return files, total, nil
}
