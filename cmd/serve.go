package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/micrelay/internal/server"
	"github.com/audiolibrelab/micrelay/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for remote control and live streams",
	Long: `Start the micrelay server to control recording over HTTP and follow a
session live over websockets.

  POST /start            start a session (optional form value: directory,
                         relative to or below the output directory)
  POST /stop             stop and keep the file
  POST /cancel           stop and discard the file
  GET  /status           recorder state and active session
  GET  /recordings       finished recordings, newest first
  GET  /recordings/NAME  download a recording
  WS   /ws/status        lifecycle events (JSON)
  WS   /ws/power         loudness per chunk (JSON)
  WS   /ws/chunks        format header (JSON), then raw PCM (binary)

Browser requests are only accepted from the server's own origin and the
origins listed in server.allowed_origins.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.Server.Listen
		}

		svc, err := service.New(cfg, cfgFile, nil)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("micrelay server starting", "listen", listen, "profile", cfg.Profile, "config", cfgFile)

		// Close cancels an active session, which discards its file.
		return server.New(svc, listen).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides server.listen)")
}
