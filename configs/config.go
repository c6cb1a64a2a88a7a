// config.go - Layered configuration: compiled-in defaults + user override file

package configs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultConfigDir is the directory under the user's home that holds the override file.
const DefaultConfigDir = ".glm-ocr"

// DefaultConfigFile is the override file name.
const DefaultConfigFile = "config.json"

// Defaults returns a fresh copy of the compiled-in configuration.
func Defaults() map[string]any {
	return map[string]any{
		"model": map[string]any{
			"name":                "zai-org/GLM-OCR",
			"local_path":          "",
			"device":              "auto",
			"torch_dtype":         "float16",
			"use_local_only":      false,
			"max_new_tokens":      2048,
			"provider":            "runtime",
			"endpoint":            "http://127.0.0.1:8000/v1",
			"served_name":         "",
			"runtime_command":     []string{},
			"quantization":        "none",
			"request_timeout_sec": 300,
			"load_timeout_sec":    120,
			"retry_attempts":      3,
			"gemini_model":        "gemini-2.5-flash",
		},
		"ocr": map[string]any{
			"language":       "简体中文",
			"prompt_type":    "text_recognition",
			"output_format":  "txt",
			"enhance":        "none",
			"max_image_edge": 4096,
			"cache_ttl_sec":  300,
			"tesseract_lang": "eng+chi_sim",
		},
		"batch": map[string]any{
			"enabled":         false,
			"output_dir":      "./output",
			"recursive":       false,
			"filename_format": "[OCR]_{name}_{date}",
			"date_format":     "%Y%m%d_%H%M%S",
		},
		"ui": map[string]any{
			"theme":       "light",
			"font_size":   12,
			"window_size": "1200x800",
		},
		"server": map[string]any{
			"addr": "127.0.0.1:7860",
		},
		"history": map[string]any{
			"mongo_uri":  "",
			"database":   "glm_ocr",
			"collection": "recognitions",
		},
	}
}

// DefaultPath returns ~/.glm-ocr/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", apperrors.NewConfigError("default_path", "cannot determine home directory", err)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// Store is the configuration store. One Store is created at process start and
// passed to whatever needs it.
type Store struct {
	mu      sync.RWMutex
	v       *viper.Viper
	path    string
	baseDir string
}

// Option customises a Store.
type Option func(*Store)

// WithBaseDir sets the directory model resolution searches relative to
// (defaults to the working directory).
func WithBaseDir(dir string) Option {
	return func(s *Store) {
		s.baseDir = dir
	}
}

// Load builds a Store from the defaults and the override file at path.
//
// A missing override file is not an error. An override file that cannot be
// read or parsed is reported through the returned warning while the Store
// falls back to the defaults; err is reserved for unusable arguments.
func Load(path string, opts ...Option) (store *Store, warning error, err error) {
	if path == "" {
		if path, err = DefaultPath(); err != nil {
			return nil, nil, err
		}
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".json" {
		return nil, nil, apperrors.NewConfigError("load", fmt.Sprintf("configuration file must have a .json extension, got %q", path), nil)
	}

	s := &Store{
		v:    newViper(),
		path: path,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.baseDir == "" {
		if wd, wdErr := os.Getwd(); wdErr == nil {
			s.baseDir = wd
		} else {
			s.baseDir = "."
		}
	}

	if _, statErr := os.Stat(path); statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) {
			return s, nil, nil
		}
		return s, apperrors.NewIOError("load_config", path, statErr), nil
	}

	s.v.SetConfigFile(path)
	if readErr := s.v.ReadInConfig(); readErr != nil {
		// Start over so nothing from a half-read file leaks through.
		s.v = newViper()
		return s, apperrors.NewConfigError("load", "override file could not be parsed, using defaults", readErr).
			WithHint(fmt.Sprintf("fix or delete %s", path)), nil
	}
	return s, nil, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v, "", Defaults())
	return v
}

func setDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Path returns the override file location.
func (s *Store) Path() string {
	return s.path
}

// BaseDir returns the directory model resolution is relative to.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Get returns the value at a dotted path, or def when any level is missing.
func (s *Store) Get(path string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if path == "" || !s.v.IsSet(path) {
		return def
	}
	val := s.v.Get(path)
	if val == nil {
		return def
	}
	return val
}

// GetString is Get for string values.
func (s *Store) GetString(path, def string) string {
	switch val := s.Get(path, def).(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// GetInt is Get for integer values; JSON numbers arrive as float64.
func (s *Store) GetInt(path string, def int) int {
	switch val := s.Get(path, def).(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		return int(val)
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return def
}

// GetBool is Get for boolean values.
func (s *Store) GetBool(path string, def bool) bool {
	switch val := s.Get(path, def).(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return def
}

// Set assigns value at a dotted path, creating intermediate levels.
func (s *Store) Set(path string, value any) error {
	if strings.TrimSpace(path) == "" {
		return apperrors.NewInvalidArgumentError("configuration path must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(path, value)
	return nil
}

// Save writes the full merged configuration to the override file.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperrors.NewIOError("save_config", s.path, err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return apperrors.NewIOError("save_config", s.path, err)
	}
	return nil
}

// Reset discards every override, returning to the compiled-in defaults.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = newViper()
}

// AllSettings returns the merged configuration as a nested map.
func (s *Store) AllSettings() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.AllSettings()
}

// LoadEnv loads a .env file if one exists (for local development).
func LoadEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GeminiAPIKey reads GEMINI_API_KEY; secrets are never persisted by Save.
func GeminiAPIKey() string {
	return getEnv("GEMINI_API_KEY", "")
}

// HubToken reads HF_TOKEN for authenticated model downloads.
func HubToken() string {
	return getEnv("HF_TOKEN", "")
}
