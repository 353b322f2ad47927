package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/events"
)

type connectOptions struct {
	prefix      string
	scanTimeout time.Duration
	timeout     time.Duration
}

func (o *connectOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.prefix, "prefix", "p", "", "Name prefix used while looking for the device")
	cmd.Flags().DurationVar(&o.scanTimeout, "scan-timeout", 10*time.Second, "How long to look for the device")
	cmd.Flags().DurationVarP(&o.timeout, "timeout", "t", 0, "Connect timeout (default from config)")
}

// connectBeacon discovers id and connects to it, reporting progress on out.
func connectBeacon(ctx context.Context, rt *runtime, id, secret string, opts connectOptions, out io.Writer) error {
	progress := NewProgressPrinter(out, "Connecting to "+id, "Scanning")
	progress.Start()
	defer progress.Stop()

	if err := discover(ctx, rt.manager, id, opts.prefix, opts.scanTimeout); err != nil {
		return err
	}

	progress.SetPhase("Connecting")
	res, err := rt.manager.Connect(ctx, id, secret, opts.timeout)
	if err != nil {
		return err
	}
	_, err = res.Wait(ctx)
	return err
}

func newConnectCmd() *cobra.Command {
	var (
		opts     connectOptions
		secret   string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "connect <device-id>",
		Short: "Connect to a beacon and print its notifications",
		Long: `Connect to a beacon and print every notification it pushes until Ctrl+C or until
--duration elapses. The device is looked up by scanning first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := newRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			sub := rt.manager.Subscribe()
			defer sub.Close()

			if err := connectBeacon(ctx, rt, args[0], secret, opts, cmd.ErrOrStderr()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connected to %s\n", args[0])

			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			streamNotifications(ctx, sub, out)
			return disconnect(rt, sub)
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVarP(&secret, "secret", "s", "", "Connection secret")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stay connected this long (0 until Ctrl+C)")
	return cmd
}

// streamNotifications prints notifications until ctx ends or the connection drops.
func streamNotifications(ctx context.Context, sub *events.Subscription, out io.Writer) {
	for ev := range sub.All(ctx) {
		switch e := ev.(type) {
		case events.Notification:
			fmt.Fprintf(out, "[%s] event %d: %s\n", e.ID, e.Code, hex.EncodeToString(e.Payload))
		case events.ConnectionState:
			if !e.State.Active() {
				fmt.Fprintf(out, "%s disconnected\n", e.ID)
				return
			}
		}
	}
}

// disconnect ends the active session, if any, and waits until it is down. The session
// forces the state after its disconnect timeout, so the wait is bounded.
func disconnect(rt *runtime, sub *events.Subscription) error {
	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.DisconnectTimeout+time.Second)
	defer cancel()

	if err := rt.manager.Disconnect(ctx); err != nil {
		if device.IsCode(err, device.CodeNoConnectedDevice) {
			return nil
		}
		return err
	}
	for ev := range sub.All(ctx) {
		if e, ok := ev.(events.ConnectionState); ok && !e.State.Active() {
			return nil
		}
	}
	return ctx.Err()
}
