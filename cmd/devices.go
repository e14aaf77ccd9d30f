package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/micrelay/internal/engine"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"sources"},
	Short:   "List available capture devices",
	Long:    `List the capture devices miniaudio can open. Use a name as audio.device in the config; an empty device uses the system default.`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := engine.ListDevices()
		if err != nil {
			return fmt.Errorf("failed to list capture devices: %w", err)
		}

		fmt.Printf("🎙  Capture Devices (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		if len(devices) == 0 {
			fmt.Println("  (none found)")
		}
		for i, d := range devices {
			marker := ""
			if d.IsDefault {
				marker = " [default]"
			}
			fmt.Printf("  %d. %s%s\n", i+1, d.Name, marker)
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • Configure in audio.device: \"%s\"\n", exampleDevice(devices))
		fmt.Printf("  • Current device: %s\n", displayDevice(cfg.Audio.Device))
		fmt.Printf("  • Backends: %v\n\n", engine.AvailableBackends())
		return nil
	},
}

func exampleDevice(devices []engine.Device) string {
	if len(devices) == 0 {
		return "USB Microphone"
	}
	return devices[0].Name
}

func displayDevice(name string) string {
	if name == "" {
		return "system default"
	}
	return name
}
