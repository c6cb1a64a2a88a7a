// batch.go - Batch folder recognition

package main

import (
	"fmt"

	"github.com/bosocmputer/glm_ocr_desk/internal/batch"
	"github.com/bosocmputer/glm_ocr_desk/internal/ocr"
	"github.com/spf13/cobra"
)

func (c *cli) batchCommand() *cobra.Command {
	var opts batch.Options
	var promptType, outputFormat string
	cmd := &cobra.Command{
		Use:   "batch <directory>",
		Short: "Recognize every image in a directory",
		Long:  "Recognize every supported image in a directory and write one result file per image. Files that fail are reported and skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Directory = args[0]
			opts.PromptType = ocr.PromptType(promptType)
			opts.OutputFormat = ocr.OutputFormat(outputFormat)

			a, err := c.openLoaded(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("recursive") {
				if settings, err := a.Settings(); err == nil {
					opts.Recursive = settings.Batch.Recursive
				}
			}
			report, err := a.RunBatch(cmd.Context(), opts, func(p batch.Progress) {
				status := "ok"
				if p.Last.Status == batch.StatusFailed {
					status = "FAILED: " + p.Last.Error
				}
				fmt.Fprintf(c.stderr, "[%d/%d] %s %s\n", p.Current, p.Total, p.Last.Input, status)
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.stdout, "Processed %d file(s): %d succeeded, %d failed\n", report.Total, report.Succeeded, report.Failed)
			if report.Cancelled {
				fmt.Fprintln(c.stdout, "Batch was cancelled before all files were processed")
			}
			for _, f := range report.Failures() {
				fmt.Fprintf(c.stdout, "  %s: %s\n", f.Input, f.Error)
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d files failed", report.Failed, report.Total)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&opts.Recursive, "recursive", "r", false, "Include subdirectories (default batch.recursive)")
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", "", "Output directory (default batch.output_dir)")
	cmd.Flags().StringVarP(&promptType, "prompt", "p", "", "Prompt type (default ocr.prompt_type)")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "", "Output format: txt, json, markdown (default ocr.output_format)")
	cmd.Flags().StringVar(&opts.FilenameFormat, "filename-format", "", "Output name template with {name} and {date}")
	cmd.Flags().StringVar(&opts.DateFormat, "date-format", "", "strftime pattern for {date}")
	cmd.Flags().IntVar(&opts.MaxNewTokens, "max-new-tokens", 0, "Generation budget (default model.max_new_tokens)")
	return cmd
}
