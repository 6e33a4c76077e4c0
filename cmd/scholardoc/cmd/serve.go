package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/scholardoc/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP OCR server",
	Long: `Start an HTTP server exposing the pipeline.

Endpoints:
  POST /ocr          - upload PDFs and run the pipeline
  GET  /healthz      - health check
  GET  /metrics      - prometheus metrics
  GET  /ws/progress  - pipeline events over websocket

Examples:
  scholardoc serve
  scholardoc serve --port 8080
  scholardoc serve --host 0.0.0.0 --port 3000 --requests-per-minute 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		flags := cmd.Flags()
		if flags.Changed("host") {
			cfg.Server.Host, _ = flags.GetString("host")
		}
		if flags.Changed("port") {
			cfg.Server.Port, _ = flags.GetInt("port")
		}
		if flags.Changed("cors-origin") {
			cfg.Server.CORSOrigin, _ = flags.GetString("cors-origin")
		}
		if flags.Changed("max-upload-mb") {
			cfg.Server.MaxUploadMB, _ = flags.GetInt("max-upload-mb")
		}
		if flags.Changed("timeout-sec") {
			cfg.Server.TimeoutSec, _ = flags.GetInt("timeout-sec")
		}
		if flags.Changed("shutdown-timeout") {
			cfg.Server.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
		}
		if flags.Changed("requests-per-minute") {
			cfg.Server.RequestsPerMinute, _ = flags.GetInt("requests-per-minute")
		}
		if flags.Changed("max-data-per-day-mb") {
			cfg.Server.MaxDataPerDayMB, _ = flags.GetInt64("max-data-per-day-mb")
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.NewServer(*cfg, server.WithLogger(slog.Default()))
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-mb", 200, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout-sec", 3600, "OCR request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "graceful shutdown timeout in seconds")
	serveCmd.Flags().Int("requests-per-minute", 0, "per-client request rate limit (0 disables)")
	serveCmd.Flags().Int64("max-data-per-day-mb", 0, "per-client daily upload quota in MB (0 disables)")
}
