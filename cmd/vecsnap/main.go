// Package main implements the vecsnap CLI: batch ingestion and cleanup of
// the vector snapshot, and query-time access to it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	// A missing .env is not an error.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vecsnap",
		Short: "Build and serve a compressed vector snapshot of repositories and Q&A history",
		Long: `vecsnap gathers commits, files and recorded interactions, embeds them and
publishes a single compressed snapshot. The same binary answers similarity
queries against the published snapshot.

Configuration is read from --config (YAML) and VECSNAP_* environment
variables, e.g. VECSNAP_SOURCES_GITHUB_TOKEN or VECSNAP_EMBEDDING_API_KEY.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")

	root.AddCommand(
		newIngestCmd(),
		newCleanupCmd(),
		newQueryCmd(),
		newServeCmd(),
		newExportInfoCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vecsnap by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
