package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dellavolpe/rnc-front/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config file tools",
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a starter config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := generateDefaultConfig(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated default config at: %s\n", args[0])
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a config file without resolving environment variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireConfigPath(); err != nil {
			return err
		}
		return validateConfig(cmd.OutOrStdout(), configPath)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func defaultConfig() map[string]any {
	env := func(name string) map[string]string { return map[string]string{"$env": name} }
	return map[string]any{
		"version": config.ConfigVersion,
		"app": map[string]any{
			"baseURL":            "https://rnc.example.com",
			"addr":               ":8080",
			"name":               config.DefaultName,
			"sessionTtl":         "8h",
			"cleanupInterval":    "10m",
			"sessionStore":       "memory",
			"secretKey":          env("RNC_SECRET_KEY"),
			"loginRatePerMinute": 30,
			"trustProxyHeaders":  false,
		},
		"auth": map[string]any{
			"tenantId":      env("AZURE_TENANT_ID"),
			"clientId":      env("AZURE_CLIENT_ID"),
			"clientSecret":  env("AZURE_CLIENT_SECRET"),
			"redirectUri":   "https://rnc.example.com/",
			"resourceScope": config.DefaultResourceScope,
			"allowedDomain": "@example.com",
			"prompt":        config.DefaultPrompt,
		},
		"storage": map[string]any{
			"endpoint":           env("MINIO_ENDPOINT"),
			"accessKey":          env("MINIO_ACCESS_KEY"),
			"secretKey":          env("MINIO_SECRET_KEY"),
			"secure":             true,
			"attachmentsBucket":  config.DefaultAttachmentsBucket,
			"presignExpiryHours": config.DefaultPresignExpiry,
		},
		"database": map[string]any{
			"dsn":          env("SUPABASE_DB_URL"),
			"maxOpenConns": 10,
			"autoMigrate":  false,
		},
		"reference": map[string]any{
			"bucket":   config.DefaultReferenceBucket,
			"object":   config.DefaultReferenceObject,
			"column":   config.DefaultReferenceColumn,
			"cacheTtl": "1h",
		},
	}
}

func generateDefaultConfig(path string) error {
	data, err := json.MarshalIndent(defaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func printIssues(w io.Writer, title string, issues []config.ValidationError) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s (%d):\n", title, len(issues))
	for _, issue := range issues {
		if issue.Path != "" {
			fmt.Fprintf(w, "  - %s: %s\n", issue.Path, issue.Message)
		} else {
			fmt.Fprintf(w, "  - %s\n", issue.Message)
		}
	}
}

func validateConfig(w io.Writer, path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Fprintf(w, "Validating: %s\n", path)
	printIssues(w, "Errors", result.Errors)
	printIssues(w, "Warnings", result.Warnings)

	fmt.Fprintln(w)
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Fprintln(w, "Result: PASS")
		return nil
	case len(result.Errors) == 0:
		fmt.Fprintln(w, "Result: FAIL (warnings present)")
	default:
		fmt.Fprintln(w, "Result: FAIL")
	}
	return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
}
