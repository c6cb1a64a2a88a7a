// format.go - Rendering recognition results as text, JSON or Markdown

package ocr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
)

// Metadata accompanies a result in the json and markdown formats.
type Metadata struct {
	Source     string
	Timestamp  time.Time
	PromptType PromptType
}

// jsonResult is the serialized shape of the json format.
type jsonResult struct {
	Text       string `json:"text"`
	FormatUsed string `json:"format_used"`
	Timestamp  string `json:"timestamp"`
	Source     string `json:"source"`
}

// Format renders raw model output. It has no side effects; txt is the identity.
func Format(raw string, format OutputFormat, meta Metadata) (string, error) {
	switch format {
	case FormatText:
		return raw, nil
	case FormatJSON:
		return formatJSON(raw, meta)
	case FormatMarkdown:
		return formatMarkdown(raw, meta), nil
	default:
		return "", apperrors.NewInvalidArgumentError(fmt.Sprintf("unknown output format %q", format))
	}
}

func formatJSON(raw string, meta Metadata) (string, error) {
	result := jsonResult{
		Text:       raw,
		FormatUsed: string(meta.PromptType),
		Timestamp:  timestamp(meta.Timestamp).Format(time.RFC3339),
		Source:     meta.Source,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func formatMarkdown(raw string, meta Metadata) string {
	var b strings.Builder
	b.WriteString("# OCR Result\n\n")
	if meta.Source != "" {
		fmt.Fprintf(&b, "**Source:** %s\n\n", EscapeMarkdown(meta.Source))
	}
	if meta.PromptType != "" {
		fmt.Fprintf(&b, "**Task:** %s\n\n", EscapeMarkdown(strings.TrimSuffix(meta.PromptType.Prompt(), ":")))
	}
	fmt.Fprintf(&b, "**Date:** %s\n\n", timestamp(meta.Timestamp).Format("2006-01-02 15:04:05"))
	b.WriteString("## Content\n\n")
	b.WriteString(raw)
	b.WriteString("\n")
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", `*`, `\*`, `_`, `\_`,
	`[`, `\[`, `]`, `\]`, `<`, `\<`, `>`, `\>`, `#`, `\#`, `|`, `\|`,
)

// EscapeMarkdown escapes characters with inline meaning in Markdown.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts a Markdown result (document parsing and table output
// are Markdown) to HTML for the result view.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
