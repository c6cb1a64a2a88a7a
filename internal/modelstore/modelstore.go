// modelstore.go - Local model directories: completeness checks and the hub cache layout

package modelstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

// RequiredFiles must exist in every model directory.
var RequiredFiles = []string{"config.json", "tokenizer.json", "preprocessor_config.json"}

// WeightsPattern matches the weight shards; at least one is required.
const WeightsPattern = "*.safetensors"

// Missing returns the required entries absent from dir, in a stable order.
func Missing(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, apperrors.NewIOError("verify_model", dir, err)
	}
	if !info.IsDir() {
		return nil, apperrors.NewModelLoadError(dir, "model path is not a directory", nil)
	}

	var missing []string
	for _, name := range RequiredFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	shards, _ := filepath.Glob(filepath.Join(dir, WeightsPattern))
	if len(shards) == 0 {
		missing = append(missing, WeightsPattern)
	}
	return missing, nil
}

// Verify fails with a ModelLoadError naming every missing file.
func Verify(dir string) error {
	missing, err := Missing(dir)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return apperrors.NewModelLoadError(dir, fmt.Sprintf("model directory is incomplete, missing: %s", strings.Join(missing, ", ")), nil).
			WithHint("re-export the model with `glm-ocr-export model --force` or point model.local_path at a complete copy")
	}
	return nil
}

// DefaultHubCacheDir returns the hub cache root: $HF_HUB_CACHE, $HF_HOME/hub,
// or ~/.cache/huggingface/hub.
func DefaultHubCacheDir() string {
	if dir := os.Getenv("HF_HUB_CACHE"); dir != "" {
		return dir
	}
	if home := os.Getenv("HF_HOME"); home != "" {
		return filepath.Join(home, "hub")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cache", "huggingface", "hub")
	}
	return filepath.Join(home, ".cache", "huggingface", "hub")
}

// CacheRepoDir maps "org/name" to <cache>/models--org--name.
func CacheRepoDir(cacheDir, repoID string) string {
	return filepath.Join(cacheDir, "models--"+strings.ReplaceAll(repoID, "/", "--"))
}

// FindCachedSnapshot returns the most recently modified snapshot of repoID in
// the hub cache, or fs.ErrNotExist when there is none.
func FindCachedSnapshot(cacheDir, repoID string) (string, error) {
	snapshots := filepath.Join(CacheRepoDir(cacheDir, repoID), "snapshots")
	entries, err := os.ReadDir(snapshots)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fs.ErrNotExist
		}
		return "", apperrors.NewIOError("find_snapshot", snapshots, err)
	}

	type candidate struct {
		path    string
		modTime int64
	}
	var dirs []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, candidate{filepath.Join(snapshots, e.Name()), info.ModTime().UnixNano()})
	}
	if len(dirs) == 0 {
		return "", fs.ErrNotExist
	}
	sort.Slice(dirs, func(i, j int) bool {
		if dirs[i].modTime != dirs[j].modTime {
			return dirs[i].modTime > dirs[j].modTime
		}
		return dirs[i].path > dirs[j].path
	})
	return dirs[0].path, nil
}

// CopyDir copies src into dst recursively. Symlinks are followed, which is
// what the hub cache needs: snapshot entries point into blobs/.
func CopyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return apperrors.NewIOError("copy_model", path, err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return apperrors.NewIOError("copy_model", path, err)
		}
		target := filepath.Join(dst, rel)

		info, err := os.Stat(path)
		if err != nil {
			return apperrors.NewIOError("copy_model", path, err)
		}
		if info.IsDir() {
			if d.Type()&fs.ModeSymlink != 0 {
				return CopyDir(path, target)
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return apperrors.NewIOError("copy_model", target, err)
			}
			return nil
		}
		return CopyFile(path, target)
	})
}

// CopyFile copies one regular file, creating parent directories.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return apperrors.NewIOError("copy_file", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperrors.NewIOError("copy_file", dst, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return apperrors.NewIOError("copy_file", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return apperrors.NewIOError("copy_file", dst, err)
	}
	if err := out.Close(); err != nil {
		return apperrors.NewIOError("copy_file", dst, err)
	}
	return nil
}
