package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "ekaya-rules",
		Short:         "Rule catalog registration and search index service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator API, optionally registering rules first",
		RunE:  runServe,
	}
	registerCmd = &cobra.Command{
		Use:   "register",
		Short: "Run one rule registration against the catalog directory",
		RunE:  runRegister,
	}
	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the rule search index from the store",
		RunE:  runReindex,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  runMigrate,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml",
		"path to config file; environment variables are used alone when it does not exist")
	rootCmd.Version = Version
	rootCmd.AddCommand(serveCmd, registerCmd, reindexCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
