package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fathima-sithara/delivery-service/internal/config"
	"github.com/fathima-sithara/delivery-service/internal/utils"
)

var (
	version    = "1.0.0"
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "delivery-service",
		Short:         "Presence-aware direct message delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real environment variables win
			_ = godotenv.Load()

			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.App.Version == "" {
				cfg.App.Version = version
			}
			logger, err = utils.NewLogger(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			logger = logger.With(zap.String("service", cfg.App.Name))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(serveCmd())
	root.AddCommand(reconcilerCmd())
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
	// version needs no config
	versionCmd.PersistentPreRunE = func(*cobra.Command, []string) error { return nil }
	root.AddCommand(versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
