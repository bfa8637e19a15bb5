package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
	userID    string
	userRole  string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "passportctl",
	Short: "CLI for the passport registry",
	Long: `passportctl manages service passports, their status models and version
history on a passportd server.

The caller is identified either by --user/--role (sent as X-User-* headers,
for deployments behind a trusted proxy) or by --token (a bearer JWT).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PASSPORT_SERVER", "http://localhost:8080"), "passportd server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("PASSPORT_USER"), "Caller user ID (X-User-Id)")
	rootCmd.PersistentFlags().StringVar(&userRole, "role", os.Getenv("PASSPORT_ROLE"), "Caller role: user, curator, admin (X-User-Role)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("PASSPORT_TOKEN"), "Bearer token; takes precedence over --user/--role")

	rootCmd.AddCommand(passportsCmd)
	rootCmd.AddCommand(statusesCmd)
	rootCmd.AddCommand(transitionsCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(healthCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
