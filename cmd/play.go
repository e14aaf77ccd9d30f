package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/micrelay/internal/play"
)

var playCmd = &cobra.Command{
	Use:   "play [recording]",
	Short: "Play a finished recording",
	Long: `Play a recording from the output directory, the newest one when no name
is given. Uses ffplay, mpv or vlc, in that order; aplay is used for WAV
files when nothing else is installed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := play.New(cfg.OutputDirectory()).Play(ctx, name); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
