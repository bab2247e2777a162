package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/linkforge/linkforge/config"
	srv "github.com/linkforge/linkforge/internal/server"
)

func main() {
	var root = &cobra.Command{Use: "linkforge"}

	var serveAddr string
	var serveCfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(serveCfgPath)
			if serveAddr == "" {
				serveAddr = os.Getenv("LINKFORGE_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serve.PersistentFlags().StringVarP(&serveCfgPath, "config", "c", "", "config file (default is .)")

	var migDir string
	var migDirDefault = "file://migrations"
	var direction string
	var steps int
	var migCfgPath string
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(migCfgPath)
			if migDir == "" {
				migDir = migDirDefault
			}
			return srv.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", migDirDefault, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&migCfgPath, "config", "c", "", "config file (default is .)")

	root.AddCommand(serve, migrate)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
