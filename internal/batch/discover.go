// discover.go - Finding the image files a batch run will process

package batch

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/processor"
)

// Discover lists the supported image files in dir, sorted by path. Files
// with other extensions are skipped, not reported. Subdirectories are only
// entered when recursive is set.
func Discover(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, apperrors.NewIOError("discover", dir, err)
	}
	if !info.IsDir() {
		return nil, apperrors.NewInvalidArgumentError(dir + " is not a directory")
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			// An unreadable entry below the root does not stop the scan.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() || d.Type()&fs.ModeSymlink != 0 {
			if processor.IsSupportedImage(path) {
				files = append(files, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewIOError("discover", dir, err)
	}

	slices.Sort(files)
	return files, nil
}

// FilterSupported keeps the supported image paths of an explicit file list,
// dropping duplicates while preserving order.
func FilterSupported(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !processor.IsSupportedImage(p) {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
