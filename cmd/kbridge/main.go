package main

import (
	"context"
	"errors"
	"os"
	"unicode"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kbridge",
		Short: "BLE beacon and Wi-Fi provisioning bridge",
		Long: `Bridges BLE beacon discovery, connection, configuration and Wi-Fi provisioning
to applications over a WebSocket method/event protocol:

- Scan for beacons by name prefix
- Connect to a beacon and stream its notifications
- Rename a connected beacon
- List and apply Wi-Fi networks on provisioning devices

Run "kbridge serve" to expose the bridge; the other commands drive the same session
model directly from the terminal.`,
		Version: formatVersion(version),
		// main() prints clean errors
		SilenceErrors: true,
	}

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolP("verbose", "V", false, "Verbose output (same as --log-level=debug)")
	root.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")
	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(newServeCmd())
	root.AddCommand(newScanCmd())
	root.AddCommand(newConnectCmd())
	root.AddCommand(newRenameCmd())
	root.AddCommand(newWifiCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error
		if errors.Is(err, context.Canceled) {
			return
		}
		color.New(color.FgRed).Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
