// prompt.go - Prompt types and output formats

package ocr

import (
	"fmt"
	"strings"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

// PromptType selects the recognition task.
type PromptType string

const (
	TextRecognition    PromptType = "text_recognition"
	DocumentParsing    PromptType = "document_parsing"
	TableRecognition   PromptType = "table_recognition"
	FormulaRecognition PromptType = "formula_recognition"
)

// The model was trained on these exact task tags.
var prompts = map[PromptType]string{
	TextRecognition:    "Text Recognition:",
	DocumentParsing:    "Document Parsing:",
	TableRecognition:   "Table Recognition:",
	FormulaRecognition: "Formula Recognition:",
}

// PromptTypes lists every prompt type in display order.
func PromptTypes() []PromptType {
	return []PromptType{TextRecognition, DocumentParsing, TableRecognition, FormulaRecognition}
}

// ParsePromptType validates a prompt type tag. There is no fallback: an
// unknown tag is an InvalidArgument error.
func ParsePromptType(s string) (PromptType, error) {
	p := PromptType(strings.TrimSpace(s))
	if _, ok := prompts[p]; !ok {
		return "", apperrors.NewInvalidArgumentError(fmt.Sprintf("unknown prompt type %q (supported: text_recognition, document_parsing, table_recognition, formula_recognition)", s))
	}
	return p, nil
}

// Prompt returns the instruction template sent to the model.
func (p PromptType) Prompt() string {
	return prompts[p]
}

// Valid reports whether p is one of the known prompt types.
func (p PromptType) Valid() bool {
	_, ok := prompts[p]
	return ok
}

// OutputFormat selects how a result is rendered.
type OutputFormat string

const (
	FormatText     OutputFormat = "txt"
	FormatJSON     OutputFormat = "json"
	FormatMarkdown OutputFormat = "markdown"
)

// ParseOutputFormat validates an output format name; "md" is accepted for markdown.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", apperrors.NewInvalidArgumentError(fmt.Sprintf("unknown output format %q (supported: txt, json, markdown)", s))
	}
}

// Extension returns the file extension without the dot.
func (f OutputFormat) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}
