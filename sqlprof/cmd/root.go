// Package cmd provides the command-line interface of sqlprof.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sarchlab/sqlprof/config"
	"github.com/sarchlab/sqlprof/storage"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sqlprof",
	Short: "sqlprof profiles SQL statements and shows where the time went.",
	Long: `sqlprof profiles SQL statements and shows where the time went. ` +
		`It can run statements against SQLite, PostgreSQL and MySQL ` +
		`databases and serve the recorded sessions to a browser.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSlice("env-file", nil,
		"Read settings from these env files instead of .env")
	rootCmd.PersistentFlags().Bool("debug", false, "Log in development mode")
	rootCmd.PersistentFlags().String("storage", "",
		"SQLite file sessions are stored in")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	files, _ := cmd.Flags().GetStringSlice("env-file")

	settings, err := config.Load(files...)
	if err != nil {
		return config.Settings{}, fmt.Errorf("loading settings: %w", err)
	}

	if cmd.Flags().Changed("storage") {
		settings.StoragePath, _ = cmd.Flags().GetString("storage")
	}

	return settings, nil
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

func openStore(
	settings config.Settings,
	logger *zap.Logger,
	persistent bool,
) (storage.Store, error) {
	if settings.StoragePath == "" && !persistent {
		return storage.NewMemoryStore(), nil
	}

	return storage.NewSQLiteStore(settings.StoragePath, storage.WithLogger(logger))
}
