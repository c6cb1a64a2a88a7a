// filename.go - Output file naming from the {name}/{date} template

package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/ocr"
)

const (
	// DefaultFilenameFormat is used when the template is empty.
	DefaultFilenameFormat = "[OCR]_{name}_{date}"
	// DefaultDateFormat is the strftime pattern for {date}.
	DefaultDateFormat = "%Y%m%d_%H%M%S"

	maxCollisionSuffix = 10000
)

var unsafeNameChars = strings.NewReplacer("/", "-", `\`, "-", ":", "-", "\x00", "")

// NameTemplate renders output file names.
type NameTemplate struct {
	pattern string
	date    *strftime.Strftime
}

// NewNameTemplate compiles a filename template and its date pattern.
func NewNameTemplate(pattern, dateFormat string) (*NameTemplate, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultFilenameFormat
	}
	if dateFormat == "" {
		dateFormat = DefaultDateFormat
	}
	date, err := strftime.New(dateFormat)
	if err != nil {
		return nil, apperrors.NewInvalidArgumentError(fmt.Sprintf("invalid batch.date_format %q: %v", dateFormat, err))
	}
	return &NameTemplate{pattern: pattern, date: date}, nil
}

// Render returns the file name (no directory) for input, processed at t.
func (nt *NameTemplate) Render(input string, t time.Time, format ocr.OutputFormat) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	name := strings.NewReplacer(
		"{name}", stem,
		"{date}", nt.date.FormatString(t),
	).Replace(nt.pattern)
	name = unsafeNameChars.Replace(name)
	return name + "." + format.Extension()
}

type outputFile interface {
	WriteString(s string) (int, error)
	Close() error
}

// createOutput opens path for writing, failing if it exists.
var createOutput = func(path string) (outputFile, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// writeOutput creates dir/name exclusively and writes content. If the name is
// taken it tries name_1, name_2, ... and returns the path actually written.
// A failed write leaves no file behind.
func writeOutput(dir, name, content string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxCollisionSuffix; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)

		f, err := createOutput(path)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", apperrors.NewIOError("write_output", path, err)
		}
		_, err = f.WriteString(content)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(path)
			return "", apperrors.NewIOError("write_output", path, err)
		}
		return path, nil
	}
	return "", apperrors.NewIOError("write_output", filepath.Join(dir, name), fs.ErrExist)
}
