package main

import (
	"github.com/spf13/cobra"

	"github.com/srg/kbridge/bridge"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket bridge",
		Long: `Expose the session manager over WebSocket.

Clients connect to ws://<listen>/ws, send {"id","method","args"} frames and receive one
{"id","result"} or {"id","error"} reply per call, plus {"event","data"} frames for
adapter state, discoveries, connection changes and device notifications.
GET /healthz reports liveness.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			rt, err := newRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			addr := rt.cfg.ListenAddr
			if listen != "" {
				addr = listen
			}
			return bridge.NewServer(rt.manager, rt.logger).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides listen_addr from the config)")
	return cmd
}
