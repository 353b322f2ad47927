package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRenameCmd() *cobra.Command {
	var (
		opts   connectOptions
		secret string
	)

	cmd := &cobra.Command{
		Use:   "rename <device-id> <new-name>",
		Short: "Change the advertised name of a beacon",
		Args:  cobra.ExactArgs(2),
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

			res, err := rt.manager.ChangeDeviceName(ctx, args[1])
			if err != nil {
				_ = disconnect(rt, sub)
				return err
			}
			name, err := res.Wait(ctx)
			if derr := disconnect(rt, sub); err == nil {
				err = derr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", args[0], name)
			return nil
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVarP(&secret, "secret", "s", "", "Connection secret")
	return cmd
}
