// bundle.go - Portable bundle: model, binaries, pinned offline config, launch scripts

package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bosocmputer/glm_ocr_desk/configs"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/modelstore"
)

// DefaultBundleDir is where bundles go when no directory is given.
const DefaultBundleDir = "./GLM-OCR-Portable"

// BundleOptions configures a portable bundle.
type BundleOptions struct {
	Dir       string
	Repo      string
	Force     bool
	CacheDir  string
	LocalOnly bool
	Binaries  []string // copied into <Dir>/bin
	Launcher  string   // binary started by the scripts, a file name from Binaries
}

// BundleResult describes a finished bundle.
type BundleResult struct {
	Dir        string       `json:"dir"`
	Model      *ModelResult `json:"model"`
	Binaries   []string     `json:"binaries"`
	TotalBytes int64        `json:"total_bytes"`
}

// CreateBundle builds a directory that runs offline on another machine.
func (e *Exporter) CreateBundle(ctx context.Context, opts BundleOptions) (*BundleResult, error) {
	if opts.Dir == "" {
		opts.Dir = DefaultBundleDir
	}
	if opts.Repo == "" {
		return nil, apperrors.NewInvalidArgumentError("model name is required")
	}
	if _, err := os.Stat(opts.Dir); err == nil {
		if !opts.Force {
			return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("%s already exists", opts.Dir)).
				WithHint("pass --force to replace it")
		}
		if err := os.RemoveAll(opts.Dir); err != nil {
			return nil, apperrors.NewIOError("create_bundle", opts.Dir, err)
		}
	}

	leaf := configs.ModelLeafName(opts.Repo)
	for _, sub := range []string{"models", "output", "bin"} {
		if err := os.MkdirAll(filepath.Join(opts.Dir, sub), 0o755); err != nil {
			return nil, apperrors.NewIOError("create_bundle", opts.Dir, err)
		}
	}

	e.logger.Info("bundle step 1: model", "dir", opts.Dir)
	model, err := e.ExportModel(ctx, ModelOptions{
		Repo:      opts.Repo,
		Dest:      filepath.Join(opts.Dir, "models", leaf),
		CacheDir:  opts.CacheDir,
		LocalOnly: opts.LocalOnly,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("bundle step 2: binaries", "count", len(opts.Binaries))
	var copied []string
	for _, bin := range opts.Binaries {
		dst := filepath.Join(opts.Dir, "bin", filepath.Base(bin))
		if err := modelstore.CopyFile(bin, dst); err != nil {
			return nil, err
		}
		if err := os.Chmod(dst, 0o755); err != nil {
			return nil, apperrors.NewIOError("create_bundle", dst, err)
		}
		copied = append(copied, filepath.Base(bin))
	}

	e.logger.Info("bundle step 3: configuration")
	if err := writeBundleConfig(opts.Dir, opts.Repo, leaf); err != nil {
		return nil, err
	}

	e.logger.Info("bundle step 4: readme and launch scripts")
	launcher := opts.Launcher
	if launcher == "" {
		launcher = "glm-ocr-desk"
	}
	files := map[string]struct {
		body string
		mode os.FileMode
	}{
		"README.txt": {renderReadme(leaf, launcher), 0o644},
		"start.sh":   {renderStartScript(launcher), 0o755},
		"start.bat":  {renderStartBatch(launcher), 0o644},
	}
	for name, f := range files {
		p := filepath.Join(opts.Dir, name)
		if err := os.WriteFile(p, []byte(f.body), f.mode); err != nil {
			return nil, apperrors.NewIOError("create_bundle", p, err)
		}
	}

	_, total, err := listFiles(opts.Dir)
	if err != nil {
		return nil, err
	}
	e.logger.Info("bundle created", "dir", opts.Dir, "bytes", total)
	return &BundleResult{Dir: opts.Dir, Model: model, Binaries: copied, TotalBytes: total}, nil
}

// writeBundleConfig pins the bundle to its own model copy in offline mode.
func writeBundleConfig(dir, repo, leaf string) error {
	store, _, err := configs.Load(filepath.Join(dir, configs.DefaultConfigFile), configs.WithBaseDir(dir))
	if err != nil {
		return err
	}
	settings := map[string]any{
		"model.name":           repo,
		"model.local_path":     filepath.ToSlash(filepath.Join("models", leaf)),
		"model.use_local_only": true,
		"batch.output_dir":     "./output",
	}
	for k, v := range settings {
		if err := store.Set(k, v); err != nil {
			return err
		}
	}
	return store.Save()
}

func renderReadme(leaf, launcher string) string {
	r := strings.NewReplacer("{leaf}", leaf, "{launcher}", launcher)
	return r.Replace(`GLM-OCR portable bundle
=======================

Start
-----
  Linux / macOS:  ./start.sh
  Windows:        start.bat

Then open http://127.0.0.1:7860 in a browser.

The bundled configuration (config.json) points at models/{leaf} and runs
fully offline (model.use_local_only = true). Nothing is downloaded.

Layout
------
  bin/            programs ({launcher}, glm-ocr, glm-ocr-export)
  models/{leaf}/  model weights, tokenizer and processor files
  output/         batch results
  config.json     settings, edit to change device, prompt type or output format

Requirements
------------
  8 GB RAM or more, about 5 GB of disk.
  An NVIDIA GPU is used when present (model.device = auto).
  The model is served by the inference runtime named in model.runtime_command
  or already listening on model.endpoint.
`)
}

func renderStartScript(launcher string) string {
	return fmt.Sprintf(`#!/bin/sh
cd "$(dirname "$0")" || exit 1
echo "Starting GLM-OCR..."
exec ./bin/%s --config ./config.json "$@"
`, launcher)
}

func renderStartBatch(launcher string) string {
	return fmt.Sprintf("@echo off\r\ncd /d \"%%~dp0\"\r\necho Starting GLM-OCR...\r\nbin\\%s.exe --config config.json %%*\r\npause\r\n", launcher)
}
