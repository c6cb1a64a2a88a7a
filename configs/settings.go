// settings.go - Typed view of the configuration with validation

package configs

import (
	"fmt"
	"slices"
	"strings"
	"time"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/lestrrat-go/strftime"
)

// ModelSettings mirrors the "model" group.
type ModelSettings struct {
	Name              string   `mapstructure:"name" json:"name"`
	LocalPath         string   `mapstructure:"local_path" json:"local_path"`
	Device            string   `mapstructure:"device" json:"device"`
	TorchDType        string   `mapstructure:"torch_dtype" json:"torch_dtype"`
	UseLocalOnly      bool     `mapstructure:"use_local_only" json:"use_local_only"`
	MaxNewTokens      int      `mapstructure:"max_new_tokens" json:"max_new_tokens"`
	Provider          string   `mapstructure:"provider" json:"provider"`
	Endpoint          string   `mapstructure:"endpoint" json:"endpoint"`
	ServedName        string   `mapstructure:"served_name" json:"served_name"`
	RuntimeCommand    []string `mapstructure:"runtime_command" json:"runtime_command"`
	Quantization      string   `mapstructure:"quantization" json:"quantization"`
	RequestTimeoutSec int      `mapstructure:"request_timeout_sec" json:"request_timeout_sec"`
	LoadTimeoutSec    int      `mapstructure:"load_timeout_sec" json:"load_timeout_sec"`
	RetryAttempts     int      `mapstructure:"retry_attempts" json:"retry_attempts"`
	GeminiModel       string   `mapstructure:"gemini_model" json:"gemini_model"`
}

// OCRSettings mirrors the "ocr" group.
type OCRSettings struct {
	Language      string `mapstructure:"language" json:"language"`
	PromptType    string `mapstructure:"prompt_type" json:"prompt_type"`
	OutputFormat  string `mapstructure:"output_format" json:"output_format"`
	Enhance       string `mapstructure:"enhance" json:"enhance"`
	MaxImageEdge  int    `mapstructure:"max_image_edge" json:"max_image_edge"`
	CacheTTLSec   int    `mapstructure:"cache_ttl_sec" json:"cache_ttl_sec"`
	TesseractLang string `mapstructure:"tesseract_lang" json:"tesseract_lang"`
}

// BatchSettings mirrors the "batch" group.
type BatchSettings struct {
	Enabled        bool   `mapstructure:"enabled" json:"enabled"`
	OutputDir      string `mapstructure:"output_dir" json:"output_dir"`
	Recursive      bool   `mapstructure:"recursive" json:"recursive"`
	FilenameFormat string `mapstructure:"filename_format" json:"filename_format"`
	DateFormat     string `mapstructure:"date_format" json:"date_format"`
}

// UISettings mirrors the "ui" group; the front end reads it through the API.
type UISettings struct {
	Theme      string `mapstructure:"theme" json:"theme"`
	FontSize   int    `mapstructure:"font_size" json:"font_size"`
	WindowSize string `mapstructure:"window_size" json:"window_size"`
}

// ServerSettings mirrors the "server" group.
type ServerSettings struct {
	Addr string `mapstructure:"addr" json:"addr"`
}

// HistorySettings mirrors the "history" group. An empty MongoURI keeps history in memory.
type HistorySettings struct {
	MongoURI   string `mapstructure:"mongo_uri" json:"mongo_uri"`
	Database   string `mapstructure:"database" json:"database"`
	Collection string `mapstructure:"collection" json:"collection"`
}

// Settings is a typed snapshot of the whole configuration.
type Settings struct {
	Model   ModelSettings   `mapstructure:"model" json:"model"`
	OCR     OCRSettings     `mapstructure:"ocr" json:"ocr"`
	Batch   BatchSettings   `mapstructure:"batch" json:"batch"`
	UI      UISettings      `mapstructure:"ui" json:"ui"`
	Server  ServerSettings  `mapstructure:"server" json:"server"`
	History HistorySettings `mapstructure:"history" json:"history"`
}

var (
	validDevices       = []string{"auto", "cpu", "cuda"}
	validDTypes        = []string{"auto", "float16", "bfloat16", "float32"}
	validProviders     = []string{"runtime", "gemini", "tesseract"}
	validQuantizations = []string{"none", "8bit", "4bit"}
	validEnhance       = []string{"none", "light", "standard", "aggressive", "auto"}
	validOutputFormats = []string{"txt", "json", "markdown"}
	validPromptTypes   = []string{"text_recognition", "document_parsing", "table_recognition", "formula_recognition"}
)

// Settings decodes and validates the current configuration.
func (s *Store) Settings() (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out Settings
	if err := s.v.Unmarshal(&out); err != nil {
		return nil, apperrors.NewConfigError("decode", "configuration has values of the wrong type", err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate checks enumerated values and numeric ranges.
func (s *Settings) Validate() error {
	device := s.Model.Device
	if strings.HasPrefix(device, "cuda:") {
		device = "cuda"
	}
	if !slices.Contains(validDevices, device) {
		return invalid("model.device", s.Model.Device, validDevices)
	}
	if !slices.Contains(validDTypes, s.Model.TorchDType) {
		return invalid("model.torch_dtype", s.Model.TorchDType, validDTypes)
	}
	if !slices.Contains(validProviders, s.Model.Provider) {
		return invalid("model.provider", s.Model.Provider, validProviders)
	}
	if !slices.Contains(validQuantizations, s.Model.Quantization) {
		return invalid("model.quantization", s.Model.Quantization, validQuantizations)
	}
	if !slices.Contains(validEnhance, s.OCR.Enhance) {
		return invalid("ocr.enhance", s.OCR.Enhance, validEnhance)
	}
	if !slices.Contains(validOutputFormats, s.OCR.OutputFormat) {
		return invalid("ocr.output_format", s.OCR.OutputFormat, validOutputFormats)
	}
	if !slices.Contains(validPromptTypes, s.OCR.PromptType) {
		return invalid("ocr.prompt_type", s.OCR.PromptType, validPromptTypes)
	}
	if s.Batch.DateFormat != "" {
		if _, err := strftime.New(s.Batch.DateFormat); err != nil {
			return apperrors.NewConfigError("validate", fmt.Sprintf("batch.date_format %q is not a valid strftime pattern", s.Batch.DateFormat), err)
		}
	}
	if s.Model.Name == "" {
		return apperrors.NewConfigError("validate", "model.name must not be empty", nil)
	}
	if s.Model.MaxNewTokens <= 0 {
		return apperrors.NewConfigError("validate", fmt.Sprintf("model.max_new_tokens must be positive, got %d", s.Model.MaxNewTokens), nil)
	}
	if s.OCR.MaxImageEdge < 64 {
		return apperrors.NewConfigError("validate", fmt.Sprintf("ocr.max_image_edge must be at least 64, got %d", s.OCR.MaxImageEdge), nil)
	}
	if s.Model.RetryAttempts < 1 {
		s.Model.RetryAttempts = 1
	}
	return nil
}

// fileOnlyPaths start programs or pick where images are sent, so they change
// only through the configuration file or the command line.
var fileOnlyPaths = []string{"model.runtime_command"}

// RemoteEditable reports whether path may be changed through the HTTP API.
// localOnly is model.use_local_only as it will be after the change; while it
// is set, model.endpoint is file-only too. Setting a parent such as "model"
// counts as setting every value below it.
func RemoteEditable(path string, localOnly bool) error {
	path = strings.ToLower(strings.TrimSpace(path))
	locked := fileOnlyPaths
	if localOnly {
		locked = append(slices.Clone(locked), "model.endpoint")
	}
	for _, p := range locked {
		if path == p || strings.HasPrefix(p, path+".") {
			return apperrors.NewInvalidArgumentError(fmt.Sprintf("%s can only be changed in the configuration file", p)).
				WithHint("edit the configuration file or use `glm-ocr config set`")
		}
	}
	return nil
}

// RequestTimeout returns the per-generation timeout.
func (m ModelSettings) RequestTimeout() time.Duration {
	return time.Duration(m.RequestTimeoutSec) * time.Second
}

// LoadTimeout returns the bound on model loading (readiness wait, downloads).
func (m ModelSettings) LoadTimeout() time.Duration {
	return time.Duration(m.LoadTimeoutSec) * time.Second
}

func invalid(path, got string, allowed []string) error {
	return apperrors.NewConfigError("validate", fmt.Sprintf("%s has invalid value %q (allowed: %v)", path, got, allowed), nil)
}
