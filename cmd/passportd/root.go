package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/socialpassport/passport-registry/pkg/config"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	settings   = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "passportd",
	Short: "Passport registry server",
	Long: `passportd serves the passport registry API: service passports, their
status models, version history and the audit log.

Settings come from --config (YAML), PASSPORT_* environment variables
(e.g. PASSPORT_DATABASE_DSN) and flags, in increasing precedence.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.String("db-type", "", "Database type: mysql, postgres or sqlite")
	pf.String("db-dsn", "", "Database connection string")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text or json")

	rootCmd.AddCommand(serveCmd, migrateCmd, healthcheckCmd, versionCmd)
}

// loadConfig binds cmd's flags and returns the merged configuration.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the passportd version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}
