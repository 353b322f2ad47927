package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type wifiOptions struct {
	proof       string
	prefix      string
	scanTimeout time.Duration
}

func (o *wifiOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.proof, "pop", "", "Proof of possession printed on the device")
	cmd.Flags().StringVarP(&o.prefix, "prefix", "p", "", "Name prefix used while looking for the device")
	cmd.Flags().DurationVar(&o.scanTimeout, "scan-timeout", 10*time.Second, "How long to look for the device")
}

func newWifiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wifi",
		Short: "Wi-Fi provisioning",
		Long: `Provision Wi-Fi on a device over BLE. Every run connects, authenticates with the
proof of possession, performs one action and disconnects before reporting the result.`,
	}
	cmd.AddCommand(newWifiScanCmd())
	cmd.AddCommand(newWifiProvisionCmd())
	return cmd
}

func newWifiScanCmd() *cobra.Command {
	var opts wifiOptions

	cmd := &cobra.Command{
		Use:   "scan <device-id>",
		Short: "List the Wi-Fi networks a device can see",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return withProvisioning(cmd, args[0], opts, func(ctx context.Context, rt *runtime) error {
				res, err := rt.manager.ScanWifiNetworks(ctx, args[0], opts.proof)
				if err != nil {
					return err
				}
				networks, err := res.Wait(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(networks) == 0 {
					fmt.Fprintln(out, "No networks found")
					return nil
				}
				for _, ssid := range networks {
					fmt.Fprintln(out, ssid)
				}
				return nil
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

func newWifiProvisionCmd() *cobra.Command {
	var (
		opts       wifiOptions
		passphrase string
	)

	cmd := &cobra.Command{
		Use:   "provision <device-id> <ssid>",
		Short: "Send Wi-Fi credentials to a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return withProvisioning(cmd, args[0], opts, func(ctx context.Context, rt *runtime) error {
				res, err := rt.manager.ProvisionWifi(ctx, args[0], opts.proof, args[1], passphrase)
				if err != nil {
					return err
				}
				if _, err := res.Wait(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Provisioned %s with network %q\n", args[0], args[1])
				return nil
			})
		},
	}
	opts.bind(cmd)
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Network passphrase")
	return cmd
}

// withProvisioning builds the runtime, finds the device and runs fn with a progress line.
func withProvisioning(cmd *cobra.Command, id string, opts wifiOptions, fn func(context.Context, *runtime) error) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rt, err := newRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Provisioning "+id, "Scanning")
	progress.Start()
	if err := discover(ctx, rt.manager, id, opts.prefix, opts.scanTimeout); err != nil {
		progress.Stop()
		return err
	}
	progress.SetPhase("Working")
	err = fn(ctx, rt)
	progress.Stop()
	return err
}
