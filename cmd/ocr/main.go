// main.go - Command line front end: recognition, batch folders, QR codes and settings.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bosocmputer/glm_ocr_desk/internal/app"
	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// cli carries the global flags and the lazily created application.
type cli struct {
	configPath string
	logLevel   string

	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
	app    *app.App
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	c := &cli{stdout: os.Stdout, stderr: os.Stderr}
	err := c.rootCommand().ExecuteContext(ctx)
	// PersistentPostRunE is skipped when a command fails.
	_ = c.close()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := apperrors.HintOf(err); hint != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "glm-ocr",
		Short:         "GLM-OCR command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			common.SetLogLevel(c.logLevel)
			c.logger = common.NewLogger(c.stderr, "cli")
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.close()
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Configuration file (default ~/.glm-ocr/config.json)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	root.AddCommand(
		c.recognizeCommand(),
		c.batchCommand(),
		c.qrCommand(),
		c.configCommand(),
		c.infoCommand(),
	)
	return root
}

// open creates the application on first use.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	if c.logger == nil {
		c.logger = common.NewLogger(c.stderr, "cli")
	}
	a, err := app.New(ctx, app.Options{ConfigPath: c.configPath, Logger: c.logger})
	if err != nil {
		return nil, err
	}
	if w := a.ConfigWarning(); w != nil {
		fmt.Fprintf(c.stderr, "Warning: %v\n", w)
	}
	c.app = a
	return a, nil
}

// openLoaded creates the application and loads the model.
func (c *cli) openLoaded(ctx context.Context) (*app.App, error) {
	a, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(c.stderr, "Loading model...")
	if err := a.LoadModel(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close(context.Background())
	c.app = nil
	return err
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func (c *cli) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the resolved model, device and host information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			st := a.Status()
			info := a.Engine().Info()
			return c.printJSON(map[string]any{
				"status":   st,
				"model":    info,
				"location": st.Location,
			})
		},
	}
}
