// recognize.go - Single image recognition

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bosocmputer/glm_ocr_desk/internal/app"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/ocr"
	"github.com/spf13/cobra"
)

func (c *cli) recognizeCommand() *cobra.Command {
	var (
		promptType   string
		outputFormat string
		maxNewTokens int
		outputPath   string
	)
	cmd := &cobra.Command{
		Use:   "recognize <image|->",
		Short: "Recognize one image and print the result",
		Long:  "Recognize one image. Use - to read the image from standard input.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, source, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := c.openLoaded(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := a.Recognize(cmd.Context(), data, app.RecognizeRequest{
				Source:       source,
				PromptType:   ocr.PromptType(promptType),
				OutputFormat: ocr.OutputFormat(outputFormat),
				MaxNewTokens: maxNewTokens,
			})
			if err != nil {
				return err
			}
			if rec.Truncated {
				fmt.Fprintln(c.stderr, "Warning: output reached max_new_tokens and may be incomplete")
			}
			if outputPath == "" {
				_, err = fmt.Fprintln(c.stdout, rec.Formatted)
				return err
			}
			if err := os.WriteFile(outputPath, []byte(rec.Formatted), 0o644); err != nil {
				return apperrors.NewIOError("write_result", outputPath, err)
			}
			fmt.Fprintf(c.stderr, "Saved to %s\n", outputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&promptType, "prompt", "p", "", "Prompt type: text_recognition, document_parsing, table_recognition, formula_recognition")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "", "Output format: txt, json, markdown")
	cmd.Flags().IntVar(&maxNewTokens, "max-new-tokens", 0, "Generation budget (default model.max_new_tokens)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the result to a file instead of stdout")
	return cmd
}

func readInput(arg string, stdin io.Reader) ([]byte, string, error) {
	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, "", apperrors.NewIOError("read_stdin", "-", err)
		}
		return data, "stdin", nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, "", apperrors.NewIOError("read_image", arg, err)
	}
	return data, filepath.Base(arg), nil
}
