// main.go - Model export tool: copy the model next to the program, or build a portable bundle.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/bosocmputer/glm_ocr_desk/configs"
	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/bosocmputer/glm_ocr_desk/internal/export"
	"github.com/bosocmputer/glm_ocr_desk/internal/hub"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// programs are looked for next to this executable when --bin is not given.
var programs = []string{"glm-ocr-desk", "glm-ocr", "glm-ocr-export"}

type exportFlags struct {
	configPath string
	logLevel   string
	name       string
	cacheDir   string
	localOnly  bool
	force      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := apperrors.HintOf(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

func rootCommand(stdout, stderr io.Writer) *cobra.Command {
	var flags exportFlags
	root := &cobra.Command{
		Use:           "glm-ocr-export",
		Short:         "Export the GLM-OCR model for offline use",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			common.SetLogLevel(flags.logLevel)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Configuration file (default ~/.glm-ocr/config.json)")
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&flags.name, "name", "", "Model identifier (default model.name)")
	pf.StringVar(&flags.cacheDir, "cache-dir", "", "Hugging Face cache root (default $HF_HUB_CACHE or ~/.cache/huggingface/hub)")
	pf.BoolVar(&flags.localOnly, "local-only", false, "Never download; only copy from the cache (default model.use_local_only)")
	pf.BoolVarP(&flags.force, "force", "f", false, "Replace an existing destination")

	root.AddCommand(modelCommand(&flags, stdout, stderr), bundleCommand(&flags, stdout, stderr))
	return root
}

// setup resolves defaults from the configuration and builds the exporter.
func setup(cmd *cobra.Command, flags *exportFlags, stderr io.Writer) (*export.Exporter, error) {
	configs.LoadEnv()
	store, warning, err := configs.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger := common.NewLogger(stderr, "export")
	if warning != nil {
		logger.Warn("configuration override ignored", "error", warning)
	}
	if flags.name == "" {
		flags.name = store.GetString("model.name", "zai-org/GLM-OCR")
	}
	if !cmd.Flags().Changed("local-only") {
		flags.localOnly = store.GetBool("model.use_local_only", false)
	}

	var client *hub.Client
	if !flags.localOnly {
		client = hub.NewClient(hub.WithToken(configs.HubToken()), hub.WithLogger(logger))
	}
	return export.NewExporter(client, logger), nil
}

func modelCommand(flags *exportFlags, stdout, stderr io.Writer) *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Copy the model into ./models/<name> so the program finds it offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := setup(cmd, flags, stderr)
			if err != nil {
				return err
			}
			if dest == "" {
				dest = filepath.Join("models", configs.ModelLeafName(flags.name))
			}
			res, err := exporter.ExportModel(cmd.Context(), export.ModelOptions{
				Repo:      flags.name,
				Dest:      dest,
				Force:     flags.force,
				CacheDir:  flags.cacheDir,
				LocalOnly: flags.localOnly,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Model exported from %s (%s)\n", res.SourcePath, res.Source)
			fmt.Fprintf(stdout, "Destination: %s\n", res.Dest)
			fmt.Fprintf(stdout, "Files: %d, total %.1f MB\n", len(res.Files), float64(res.TotalBytes)/(1<<20))
			fmt.Fprintln(stdout, "Set model.use_local_only to true to run fully offline.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&dest, "dest", "d", "", "Destination directory (default ./models/<leaf of model name>)")
	return cmd
}

func bundleCommand(flags *exportFlags, stdout, stderr io.Writer) *cobra.Command {
	var (
		dir      string
		bins     []string
		launcher string
	)
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Build a portable directory with the model, programs and launch scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := setup(cmd, flags, stderr)
			if err != nil {
				return err
			}
			if len(bins) == 0 {
				bins = siblingPrograms()
			}
			res, err := exporter.CreateBundle(cmd.Context(), export.BundleOptions{
				Dir:       dir,
				Repo:      flags.name,
				Force:     flags.force,
				CacheDir:  flags.cacheDir,
				LocalOnly: flags.localOnly,
				Binaries:  bins,
				Launcher:  launcher,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Bundle created: %s\n", res.Dir)
			fmt.Fprintf(stdout, "Programs: %s\n", strings.Join(res.Binaries, ", "))
			fmt.Fprintf(stdout, "Total size: %.1f MB\n", float64(res.TotalBytes)/(1<<20))
			if len(res.Binaries) == 0 {
				fmt.Fprintln(stdout, "No programs were copied; put them in bin/ before starting the bundle.")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", export.DefaultBundleDir, "Bundle directory")
	cmd.Flags().StringSliceVar(&bins, "bin", nil, "Program to copy into bin/ (repeatable; default the GLM-OCR programs next to this one)")
	cmd.Flags().StringVar(&launcher, "launcher", "glm-ocr-desk", "Program started by start.sh and start.bat")
	return cmd
}

// siblingPrograms returns the GLM-OCR programs installed next to this executable.
func siblingPrograms() []string {
	self, err := os.Executable()
	if err != nil {
		return nil
	}
	dir := filepath.Dir(self)
	var found []string
	for _, name := range programs {
		if runtime.GOOS == "windows" {
			name += ".exe"
		}
		p := filepath.Join(dir, name)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			found = append(found, p)
		}
	}
	return found
}
