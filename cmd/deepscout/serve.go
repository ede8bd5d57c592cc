package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/research"
	"github.com/mohammad-safakhou/deepscout/internal/server"
	"github.com/mohammad-safakhou/deepscout/internal/store"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var addr string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP session API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			runner, err := research.NewRunner(cfg)
			if err != nil {
				return err
			}

			var opts []server.Option
			if cfg.Storage.Postgres.Configured() {
				dsn, err := cfg.Storage.Postgres.DSN()
				if err != nil {
					return err
				}
				registry, err := store.NewWithDSN(cmd.Context(), dsn)
				if err != nil {
					return err
				}
				defer registry.Close()
				opts = append(opts, server.WithRegistry(registry))
			}

			srv, err := server.New(cfg, runner, opts...)
			if err != nil {
				return err
			}

			errc := make(chan error, 1)
			go func() { errc <- srv.Start(addr) }()

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errc:
				return err
			case <-sigc:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return serve
}
