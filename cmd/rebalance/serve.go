package main

import (
	"github.com/opsxjacky/cdar-rebalance/internal/api"
	"github.com/opsxjacky/cdar-rebalance/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the backtest HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		var repo store.Repository = store.NewMemoryRepository()
		if url := cfg.GetDatabaseURL(); url != "" {
			db, err := store.Connect(ctx, url)
			if err != nil {
				return err
			}
			defer db.Close()
			repo = store.NewPGRepository(db)
			logger.Info("using postgres result store")
		} else {
			logger.Info("using in-memory result store")
		}

		loader, err := newLoader()
		if err != nil {
			return err
		}

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := api.NewServer(repo, loader, api.DefaultsFromConfig(cfg), logger)
		if err := srv.Run(ctx, addr); err != nil {
			logger.Error("server stopped", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
}
