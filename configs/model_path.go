// model_path.go - Resolve the effective model location (local directory or remote identifier)

package configs

import (
	"os"
	"path"
	"path/filepath"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

// LocationKind tells whether a model location is a directory on disk or a hub identifier.
type LocationKind string

const (
	LocationLocal  LocationKind = "local"
	LocationRemote LocationKind = "remote"
)

// ModelLocation is the derived, non-persisted result of model resolution.
type ModelLocation struct {
	Kind    LocationKind `json:"kind"`
	Value   string       `json:"value"`
	Checked []string     `json:"checked,omitempty"`
}

// IsLocal reports whether the location is a local directory.
func (l ModelLocation) IsLocal() bool {
	return l.Kind == LocationLocal
}

// ModelLeafName returns the last element of a hub identifier ("zai-org/GLM-OCR" -> "GLM-OCR").
func ModelLeafName(name string) string {
	return path.Base(filepath.ToSlash(name))
}

// ResolveModelPath checks, in order, model.local_path, <base>/models/<leaf>
// and <base>/../models/<leaf>. Without a local hit it returns the remote
// identifier, unless model.use_local_only is set, in which case it fails
// without touching the network.
func (s *Store) ResolveModelPath() (ModelLocation, error) {
	name := s.GetString("model.name", "")
	localPath := s.GetString("model.local_path", "")
	localOnly := s.GetBool("model.use_local_only", false)
	return ResolveModel(name, localPath, localOnly, s.baseDir)
}

// ResolveModel is the pure form of ResolveModelPath.
func ResolveModel(name, localPath string, localOnly bool, baseDir string) (ModelLocation, error) {
	if name == "" && localPath == "" {
		return ModelLocation{}, apperrors.NewConfigError("resolve_model", "neither model.name nor model.local_path is set", nil)
	}

	var candidates []string
	if localPath != "" {
		candidates = append(candidates, absPath(localPath, baseDir))
	}
	if name != "" {
		leaf := ModelLeafName(name)
		candidates = append(candidates,
			filepath.Join(baseDir, "models", leaf),
			filepath.Join(baseDir, "..", "models", leaf),
		)
	}

	for _, candidate := range candidates {
		if isDir(candidate) {
			return ModelLocation{Kind: LocationLocal, Value: candidate, Checked: candidates}, nil
		}
	}

	if localOnly || name == "" {
		return ModelLocation{Checked: candidates}, apperrors.NewModelResolutionError(name, candidates)
	}
	return ModelLocation{Kind: LocationRemote, Value: name, Checked: candidates}, nil
}

func absPath(p, baseDir string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
