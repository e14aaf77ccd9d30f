package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/micrelay/internal/audiofile"
	"github.com/audiolibrelab/micrelay/internal/config"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and output location",
	Long:  `Display the resolved configuration with inheritance indicators and the output directory. Shows which values are inherited from the default profile, set by the selected profile, or built in.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ind := func(key string) string {
			return getInheritanceIndicator(cfg.Inheritance[key])
		}

		fmt.Printf("=== PROFILE ===\n")
		fmt.Printf("profile: %s\n", cfg.Profile)
		if cfgFile != "" {
			fmt.Printf("config_file: %s\n", cfgFile)
		} else {
			fmt.Printf("config_file: (none, built-in defaults)\n")
		}

		recordings, err := audiofile.Scan(cfg.OutputDirectory())
		if err != nil {
			return err
		}
		format, _ := audiofile.ParseFormat(cfg.Recording.Format)
		settings := format.Settings()

		fmt.Printf("\n=== OUTPUT ===\n")
		fmt.Printf("directory: %s\n", cfg.OutputDirectory())
		fmt.Printf("recordings: %d\n", len(recordings))
		if len(recordings) > 0 {
			fmt.Printf("latest: %s\n", recordings[0].Name)
		}
		fmt.Printf("file_layout: %d Hz, %d channel(s), %d-bit, compressed=%t\n",
			settings.SampleRate, settings.Channels, settings.BitDepth, settings.Compressed)

		fmt.Printf("\n=== RESOLVED CONFIGURATION ===\n")

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s %s\n", cfg.Audio.Backend, ind("audio.backend"))
		fmt.Printf("device: %s %s\n", displayDevice(cfg.Audio.Device), ind("audio.device"))
		fmt.Printf("sample_rate: %d %s\n", cfg.Audio.SampleRate, ind("audio.sample_rate"))
		fmt.Printf("channels: %d %s\n", cfg.Audio.Channels, ind("audio.channels"))
		fmt.Printf("encoding: %s %s\n", cfg.Audio.Encoding, ind("audio.encoding"))
		fmt.Printf("period_ms: %d %s\n", cfg.Audio.PeriodMS, ind("audio.period_ms"))
		fmt.Printf("queue_size: %d %s\n", cfg.Audio.QueueSize, ind("audio.queue_size"))

		fmt.Printf("\n[Recording]\n")
		fmt.Printf("directory: %s %s\n", cfg.Recording.Directory, ind("recording.directory"))
		fmt.Printf("format: %s %s\n", cfg.Recording.Format, ind("recording.format"))
		fmt.Printf("max_duration: %s %s\n", cfg.Recording.MaxDuration, ind("recording.max_duration"))
		fmt.Printf("progress_interval: %s %s\n", cfg.Recording.ProgressInterval, ind("recording.progress_interval"))

		fmt.Printf("\n[Broadcast]\n")
		fmt.Printf("chunk_buffer: %d %s\n", cfg.Broadcast.ChunkBuffer, ind("broadcast.chunk_buffer"))

		fmt.Printf("\n[Server]\n")
		fmt.Printf("listen: %s %s\n", cfg.Server.Listen, ind("server.listen"))
		fmt.Printf("allowed_origins: %s %s\n", strings.Join(cfg.Server.AllowedOrigins, ", "), ind("server.allowed_origins"))

		fmt.Printf("\n[Log]\n")
		fmt.Printf("level: %s\n", cfg.Log.Level)
		fmt.Printf("file: %s\n", cfg.Log.File)

		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case config.Inherited:
		return "[inherited]"
	case config.ProfileSpecific:
		return "[profile-specific]"
	case config.BuiltIn:
		return "[built-in]"
	default:
		return "[unknown]"
	}
}
