// main.go - The entry point of the application server.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bosocmputer/glm_ocr_desk/internal/api"
	"github.com/bosocmputer/glm_ocr_desk/internal/app"
	"github.com/bosocmputer/glm_ocr_desk/internal/common"
	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

type serverFlags struct {
	configPath     string
	addr           string
	logLevel       string
	allowedOrigins []string
	noAutoload     bool
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var flags serverFlags
	cmd := &cobra.Command{
		Use:           "glm-ocr-desk",
		Short:         "GLM-OCR desktop application server",
		Long:          "Serves the GLM-OCR front end: single image and clipboard recognition, batch folders, QR codes and settings.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.Context(), flags)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				if hint := apperrors.HintOf(err); hint != "" {
					fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Configuration file (default ~/.glm-ocr/config.json)")
	cmd.Flags().StringVar(&flags.addr, "addr", "", "Listen address (default server.addr from the configuration)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.Flags().StringSliceVar(&flags.allowedOrigins, "allowed-origins", nil, "Extra browser origins allowed to call the API, e.g. http://localhost:5173 (default same origin only)")
	cmd.Flags().BoolVar(&flags.noAutoload, "no-autoload", false, "Do not load the model at startup")
	return cmd
}

func run(parent context.Context, flags serverFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	common.SetLogLevel(flags.logLevel)
	logger := common.NewLogger(os.Stderr, "server")

	if ginMode := os.Getenv("GIN_MODE"); ginMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{ConfigPath: flags.configPath, Logger: logger})
	if err != nil {
		return err
	}
	settings, err := a.Settings()
	if err != nil {
		return err
	}
	addr := flags.addr
	if addr == "" {
		addr = settings.Server.Addr
	}

	router := api.NewRouter(a, api.Options{
		AllowedOrigins: flags.allowedOrigins,
		Version:        Version,
		Logger:         logger,
		BaseContext:    ctx,
	})

	// Recognition can take minutes on a CPU.
	srv := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", addr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	// The window opens before the model is ready; status shows progress.
	if !flags.noAutoload {
		a.LoadInBackground(gctx)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
		}
		if err := a.Close(shutdownCtx); err != nil {
			logger.Error("failed to release resources", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
