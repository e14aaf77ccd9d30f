package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/audiolibrelab/micrelay/internal/config"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "micrelay",
	Short: "Record the microphone and relay it to live listeners",
	Long: `micrelay captures microphone audio, writes it to a file (m4a, wav or aiff)
and republishes the raw PCM, loudness readings and session status to any
number of live consumers, locally or over websockets.

Sessions stop on request or when the configured maximum duration is reached.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog before config loading so load errors are logged
		setupLogging(verboseLevel, config.Default().Log)

		var err error
		cfg, err = loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Reconfigure with the file's log section
		setupLogging(verboseLevel, cfg.Log)
		slog.Debug("Configuration loaded", "file", cfgFile, "profile", cfg.Profile)
		return nil
	},
}

// loadConfig reads --config, or the default path when it exists. Without a
// file the built-in defaults apply.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		if _, err := os.Stat(config.DefaultPath()); err == nil {
			cfgFile = config.DefaultPath()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return config.LoadWithProfile(cfgFile, profile)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/micrelay.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=config log level, 1=debug")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(infoCmd)
}

// setupLogging configures slog from the verbose flag and the log section.
// A log file gets the same records as stderr, with size-based rotation.
func setupLogging(level int, logCfg config.LogConfig) {
	slogLevel, err := config.ParseLevel(logCfg.Level)
	if err != nil {
		slogLevel = slog.LevelInfo
	}
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if logCfg.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logCfg.File,
			MaxSize:    logCfg.MaxSizeMB,
			MaxBackups: logCfg.MaxBackups,
			MaxAge:     logCfg.MaxAgeDays,
			Compress:   logCfg.Compress,
		})
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(out, opts)
	slog.SetDefault(slog.New(handler))
}
