package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/querymesh/server"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the websocket query API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mesh, err := openMesh()
			if err != nil {
				return err
			}
			defer mesh.Close()

			if addr == "" {
				addr = mesh.Config().Server.Addr
			}
			if url := mesh.NATSURL(); url != "" {
				mesh.Logger().Info("stream events forwarded to nats", "url", url)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(mesh, func(o *server.Options) {
				o.Addr = addr
				o.Logger = mesh.Logger()
			})
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr from config)")
	return cmd
}
