package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/registry"
)

var validFormats = []string{"table", "json"}

func newScanCmd() *cobra.Command {
	var (
		duration time.Duration
		prefix   string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for beacons",
		Long: `Scan for BLE peripherals whose advertised name starts with a prefix and list
them in discovery order. Each device is listed once; the signal strength shown is the
most recent one. iBeacon frames are decoded into UUID, major and minor.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !isValidFormat(format) {
				return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
			}
			cmd.SilenceUsage = true

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			rt, err := newRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !cmd.Flags().Changed("prefix") {
				prefix = rt.cfg.ScanPrefix
			}
			devices, err := runScan(ctx, rt, prefix, duration, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if format == "json" {
				return displayDevicesJSON(cmd.OutOrStdout(), devices)
			}
			return displayDevicesTable(cmd.OutOrStdout(), devices)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "Scan duration")
	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "Only list devices whose name starts with this prefix (case-sensitive)")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

func runScan(ctx context.Context, rt *runtime, prefix string, duration time.Duration, progressOut io.Writer) ([]registry.Peripheral, error) {
	if err := rt.manager.StartScan(ctx, prefix); err != nil {
		return nil, err
	}
	defer func() { _ = rt.manager.StopScan(context.Background()) }()

	progress := NewProgressPrinter(progressOut, "Scanning for beacons", "Scanning")
	progress.Start()

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	progress.Stop()

	// Ctrl+C ends the scan early but still prints what was found
	devices, err := rt.manager.Devices(context.Background())
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return devices, nil
}

func displayDevicesTable(out io.Writer, devices []registry.Peripheral) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICE\tBEACON")
	for _, p := range devices {
		name := p.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		service := "-"
		if p.ServiceUUID != "" {
			service = device.ShortenUUID(device.NormalizeUUID(p.ServiceUUID))
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n", name, p.ID, p.RSSI, service, describeBeacon(p.Payload))
	}
	return w.Flush()
}

// describeBeacon renders decoded manufacturer data, or "-".
func describeBeacon(payload []byte) string {
	if len(payload) == 0 {
		return "-"
	}
	info, err := device.ParseManufacturerData(payload)
	if err != nil || info == nil {
		return "-"
	}
	if s, ok := info.(fmt.Stringer); ok {
		return info.VendorName() + " " + s.String()
	}
	return info.VendorName()
}

func displayDevicesJSON(out io.Writer, devices []registry.Peripheral) error {
	if devices == nil {
		devices = []registry.Peripheral{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}
