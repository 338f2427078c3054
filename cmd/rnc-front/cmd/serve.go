package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dellavolpe/rnc-front/internal"
	"github.com/dellavolpe/rnc-front/internal/config"
	"github.com/dellavolpe/rnc-front/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web application",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireConfigPath(); err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		log.LogInfoWithFields("main", "Starting rnc-front", map[string]any{
			"version": BuildVersion,
			"config":  configPath,
		})

		app, err := internal.NewRNCFront(cmd.Context(), cfg, BuildVersion)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		return app.Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
