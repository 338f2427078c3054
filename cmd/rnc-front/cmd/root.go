package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dellavolpe/rnc-front/internal/log"
)

// BuildVersion is set at link time.
var BuildVersion = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "rnc-front",
	Short: "Non-conformance report registry",
	Long: `rnc-front serves the RNC registry: Microsoft sign-in, record and reason
maintenance backed by Postgres, and attachments kept in MinIO.`,
	Version:       BuildVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" {
			return nil
		}
		return log.SetLogLevel(logLevel)
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (error, warn, info, debug, trace); overrides LOG_LEVEL")
}

func requireConfigPath() error {
	if configPath == "" {
		return fmt.Errorf("--config flag is required")
	}
	return nil
}
